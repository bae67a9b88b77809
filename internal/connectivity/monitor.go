// Package connectivity tracks the online/offline signal and drives the
// recovery work performed on reconnection: queued-request replay followed by
// a single sync cycle.
package connectivity

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/noteverse/noteverse/internal/events"
	notesync "github.com/noteverse/noteverse/internal/sync"
	"github.com/noteverse/noteverse/internal/transport"
)

// Monitor holds the current online flag and reacts to transitions.
//
// The monitor does not detect connectivity by itself: the environment (the
// daemon's probe loop, a CLI flag, a test) feeds transitions in through
// SetOnline.
type Monitor struct {
	client *transport.Client
	engine *notesync.Engine
	bus    *events.Bus
	logger *log.Logger

	online atomic.Bool
}

// New creates a connectivity monitor, initially offline. If logger is nil, a
// default logger writing to stderr is used.
func New(client *transport.Client, engine *notesync.Engine, bus *events.Bus, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}
	m := &Monitor{
		client: client,
		engine: engine,
		bus:    bus,
		logger: logger,
	}
	// Requests failing while the flag is offline are queued for replay on
	// reconnect rather than lost.
	client.QueueWhenOffline(func() bool { return !m.Online() })
	return m
}

// Online reports the current connectivity flag.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// SetOnline records a connectivity signal from the environment.
//
// On the offline-to-online transition the persisted request queue is
// replayed in enqueue order, then one sync cycle is triggered. Going offline
// only flips the flag; in-flight requests fail naturally and their effects
// are captured by the sync engine's failure handling.
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	previous := m.online.Swap(online)
	if previous == online {
		return
	}

	if !online {
		m.logger.Println("Connection lost")
		if m.bus != nil {
			m.bus.Publish(events.KindOffline, nil)
		}
		return
	}

	m.logger.Println("Connection restored")
	if m.bus != nil {
		m.bus.Publish(events.KindOnline, nil)
	}

	m.ReplayQueued(ctx)
	m.engine.Sync(ctx)
}

// ReplayQueued replays the persisted offline request queue in enqueue order.
//
// Replay is best-effort with fire-once semantics: each request is attempted
// exactly once and dropped from the queue afterwards, whether or not the
// attempt succeeded.
func (m *Monitor) ReplayQueued(ctx context.Context) {
	queue, err := m.client.Queued()
	if err != nil {
		m.logger.Printf("Failed to load queued requests: %v", err)
		return
	}
	if len(queue) == 0 {
		return
	}

	m.logger.Printf("Replaying %d queued requests", len(queue))

	for _, req := range queue {
		var body interface{}
		if len(req.Data) > 0 {
			body = req.Data
		}
		if _, err := m.client.Request(ctx, req.Method, req.Endpoint, body); err != nil {
			m.logger.Printf("Error replaying queued request %s %s: %v", req.Method, req.Endpoint, err)
		}
	}

	if err := m.client.ClearQueue(); err != nil {
		m.logger.Printf("Failed to clear request queue: %v", err)
	}
}

// Probe checks remote reachability with a single request and feeds the
// outcome into SetOnline. Intended to be called from the daemon's probe
// ticker. Only transport-level failures count as offline; a reachable
// server with an unexpected health payload is still online.
func (m *Monitor) Probe(ctx context.Context) {
	_, err := m.client.Request(ctx, http.MethodGet, transport.HealthPath, nil)
	m.SetOnline(ctx, err == nil || !errors.Is(err, transport.ErrUnavailable))
}
