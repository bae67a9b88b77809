package connectivity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/noteverse/noteverse/internal/events"
	"github.com/noteverse/noteverse/internal/resolver"
	"github.com/noteverse/noteverse/internal/store"
	notesync "github.com/noteverse/noteverse/internal/sync"
	"github.com/noteverse/noteverse/internal/transport"
)

// testStack wires a store, engine and monitor against a fake remote. The
// handler sees requests sequentially, so plain slices are safe.
type testStack struct {
	store   *store.Store
	client  *transport.Client
	monitor *Monitor

	// requests records "METHOD path" in arrival order.
	requests []string
}

func newTestStack(t *testing.T, bus *events.Bus) *testStack {
	t.Helper()

	stack := &testStack{}

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	stack.store = st

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stack.requests = append(stack.requests, r.Method+" "+r.URL.Path)
		json.NewEncoder(w).Encode(&transport.Response{Success: true})
	}))
	t.Cleanup(server.Close)

	stack.client = transport.New(server.URL, st, nil)

	res, err := resolver.New(st, resolver.LatestWins, bus, nil)
	if err != nil {
		t.Fatalf("resolver.New() failed: %v", err)
	}
	engine, err := notesync.New(st, stack.client, res, bus, nil)
	if err != nil {
		t.Fatalf("sync.New() failed: %v", err)
	}

	stack.monitor = New(stack.client, engine, bus, nil)
	return stack
}

// TestSetOnline_ReplaysQueueThenSyncs tests the reconnection sequence:
// queued requests replay in order before the sync cycle runs
func TestSetOnline_ReplaysQueueThenSyncs(t *testing.T) {
	stack := newTestStack(t, nil)

	for _, endpoint := range []string{"/notes/first", "/notes/second", "/notes/third"} {
		if err := stack.client.Enqueue(http.MethodPost, endpoint, map[string]string{"k": "v"}); err != nil {
			t.Fatalf("Enqueue() failed: %v", err)
		}
	}

	stack.monitor.SetOnline(context.Background(), true)

	if len(stack.requests) < 4 {
		t.Fatalf("remote received %d requests, want the 3 replays plus the sync cycle", len(stack.requests))
	}
	want := []string{"POST /notes/first", "POST /notes/second", "POST /notes/third"}
	for i, w := range want {
		if stack.requests[i] != w {
			t.Errorf("requests[%d] = %q, want %q", i, stack.requests[i], w)
		}
	}
	if stack.requests[3] != "GET /notes/changes" {
		t.Errorf("requests[3] = %q, want the sync cycle's pull", stack.requests[3])
	}

	queued, _ := stack.client.Queued()
	if len(queued) != 0 {
		t.Errorf("len(queued) = %d after replay, want 0", len(queued))
	}
}

// TestSetOnline_FireOnce tests that failed replays are still dropped
func TestSetOnline_FireOnce(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "still broken", http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	client := transport.New(server.URL, st, nil)
	if err := client.Enqueue(http.MethodPost, "/notes/sync", nil); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	res, _ := resolver.New(st, resolver.LatestWins, nil, nil)
	engine, _ := notesync.New(st, client, res, nil, nil)
	monitor := New(client, engine, nil, nil)

	monitor.ReplayQueued(context.Background())

	queued, _ := client.Queued()
	if len(queued) != 0 {
		t.Errorf("len(queued) = %d, want 0: replay is attempted exactly once", len(queued))
	}
}

// TestOfflineFailure_QueuedAndReplayed tests the full offline round trip: a
// request failing while the monitor is offline lands in the queue and is
// replayed on reconnect
func TestOfflineFailure_QueuedAndReplayed(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unreachable", http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	client := transport.New(server.URL, st, nil)
	res, _ := resolver.New(st, resolver.LatestWins, nil, nil)
	engine, _ := notesync.New(st, client, res, nil, nil)
	New(client, engine, nil, nil)

	// The monitor starts offline, so the failure is captured.
	if _, err := client.Request(context.Background(), http.MethodPost, "/notes/sync", map[string]string{"id": "n1"}); err == nil {
		t.Fatal("Request() succeeded against a down remote")
	}
	queued, _ := client.Queued()
	if len(queued) != 1 {
		t.Fatalf("len(queued) = %d while offline, want 1", len(queued))
	}
}

// TestOfflineFailure_ReplayOnReconnect tests that the captured request is
// delivered ahead of the reconnection sync cycle
func TestOfflineFailure_ReplayOnReconnect(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	down := true
	var requests []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down {
			http.Error(w, "unreachable", http.StatusBadGateway)
			return
		}
		requests = append(requests, r.Method+" "+r.URL.Path)
		json.NewEncoder(w).Encode(&transport.Response{Success: true})
	}))
	t.Cleanup(server.Close)

	client := transport.New(server.URL, st, nil)
	res, _ := resolver.New(st, resolver.LatestWins, nil, nil)
	engine, _ := notesync.New(st, client, res, nil, nil)
	monitor := New(client, engine, nil, nil)

	client.Request(context.Background(), http.MethodPost, "/notes/sync", map[string]string{"id": "n1"})

	down = false
	monitor.SetOnline(context.Background(), true)

	if len(requests) < 2 {
		t.Fatalf("remote received %d requests, want the replay plus the sync cycle", len(requests))
	}
	if requests[0] != "POST /notes/sync" {
		t.Errorf("requests[0] = %q, want the replayed push", requests[0])
	}
	if requests[1] != "GET /notes/changes" {
		t.Errorf("requests[1] = %q, want the sync cycle's pull", requests[1])
	}
	queued, _ := client.Queued()
	if len(queued) != 0 {
		t.Errorf("len(queued) = %d after replay, want 0", len(queued))
	}
}

// TestSetOnline_NoOpWithoutTransition tests that repeated signals are ignored
func TestSetOnline_NoOpWithoutTransition(t *testing.T) {
	stack := newTestStack(t, nil)

	stack.monitor.SetOnline(context.Background(), true)
	baseline := len(stack.requests)

	stack.monitor.SetOnline(context.Background(), true)

	if len(stack.requests) != baseline {
		t.Errorf("repeated online signal triggered %d extra requests",
			len(stack.requests)-baseline)
	}
	if !stack.monitor.Online() {
		t.Error("Online() = false, want true")
	}
}

// TestSetOnline_PublishesTransitions tests the online/offline events
func TestSetOnline_PublishesTransitions(t *testing.T) {
	bus := events.NewBus(nil)

	var kinds []string
	bus.Subscribe(events.KindOnline, func(payload interface{}) {
		kinds = append(kinds, events.KindOnline)
	})
	bus.Subscribe(events.KindOffline, func(payload interface{}) {
		kinds = append(kinds, events.KindOffline)
	})

	stack := newTestStack(t, bus)

	stack.monitor.SetOnline(context.Background(), true)
	stack.monitor.SetOnline(context.Background(), false)
	stack.monitor.SetOnline(context.Background(), false)

	if len(kinds) != 2 || kinds[0] != events.KindOnline || kinds[1] != events.KindOffline {
		t.Errorf("published kinds = %v, want [online offline]", kinds)
	}
}

// TestProbe tests reachability detection via the health endpoint
func TestProbe(t *testing.T) {
	stack := newTestStack(t, nil)

	stack.monitor.Probe(context.Background())
	if !stack.monitor.Online() {
		t.Error("Online() = false after a successful probe")
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()

	client := transport.New(down.URL, stack.store, nil)
	res, _ := resolver.New(stack.store, resolver.LatestWins, nil, nil)
	engine, _ := notesync.New(stack.store, client, res, nil, nil)
	monitor := New(client, engine, nil, nil)
	monitor.online.Store(true)

	monitor.Probe(context.Background())
	if monitor.Online() {
		t.Error("Online() = true after probing an unreachable remote")
	}
}
