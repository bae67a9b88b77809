package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/noteverse/noteverse/internal/events"
	"github.com/noteverse/noteverse/internal/resolver"
	"github.com/noteverse/noteverse/internal/schema"
	"github.com/noteverse/noteverse/internal/store"
	"github.com/noteverse/noteverse/internal/transport"
)

// attemptsWarnThreshold is the failed-push count past which the engine
// starts warning about a note stuck in the retry loop.
const attemptsWarnThreshold = 5

// pushPayload is the body of POST /notes/sync.
type pushPayload struct {
	Note      *schema.Note `json:"note"`
	DeviceID  string       `json:"device_id"`
	Timestamp string       `json:"timestamp"`
}

// Result summarizes one sync cycle.
type Result struct {
	// Skipped reports that the trigger was dropped because a cycle was
	// already running.
	Skipped bool `json:"skipped,omitempty"`

	// Push phase counters.
	Pushed     int `json:"pushed"`
	Conflicts  int `json:"conflicts"`
	PushFailed int `json:"push_failed"`

	// Pull phase counters.
	Pulled int `json:"pulled"`

	// PullErr records a pull-phase abort. It is informational: the error
	// was already handled and never escapes the cycle.
	PullErr error `json:"-"`
}

// Status is a point-in-time snapshot of the engine's sync state.
type Status struct {
	InProgress bool
	Pending    int
	Queued     int
	LastSync   time.Time
}

// Engine orchestrates push/pull cycles between the local store and the
// remote store.
type Engine struct {
	store    *store.Store
	client   *transport.Client
	resolver *resolver.Resolver
	bus      *events.Bus
	logger   *log.Logger
	deviceID string

	running atomic.Bool
}

// New creates a sync engine. If logger is nil, a default logger writing to
// stderr is used. The bus may be nil when no listeners exist.
//
// The store must be opened and have its schema initialized before passing
// to this function.
func New(st *store.Store, client *transport.Client, res *resolver.Resolver, bus *events.Bus, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	deviceID, err := st.DeviceID()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device id: %w", err)
	}

	return &Engine{
		store:    st,
		client:   client,
		resolver: res,
		bus:      bus,
		logger:   logger,
		deviceID: deviceID,
	}, nil
}

// Sync runs one full push/pull cycle.
//
// The cycle is single-flight guarded: a call arriving while another cycle is
// running returns immediately with Result.Skipped set. Failures inside the
// cycle are logged and captured in the Result; they never propagate past the
// cycle boundary, and the engine always returns to idle.
func (e *Engine) Sync(ctx context.Context) *Result {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Println("Sync already in progress; trigger dropped")
		return &Result{Skipped: true}
	}
	defer e.running.Store(false)

	e.logger.Println("Starting sync cycle")
	result := &Result{}

	e.push(ctx, result)

	if err := e.pull(ctx, result); err != nil {
		result.PullErr = err
		e.logger.Printf("Pull phase aborted: %v", err)
	}

	e.logger.Printf("Sync cycle complete: pushed=%d conflicts=%d failed=%d pulled=%d",
		result.Pushed, result.Conflicts, result.PushFailed, result.Pulled)

	if e.bus != nil {
		e.bus.Publish(events.KindSyncComplete, result)
	}
	return result
}

// push sends every pending note to the remote store. Individual failures
// are isolated; the batch always runs to the end.
func (e *Engine) push(ctx context.Context, result *Result) {
	pending, err := e.store.PendingNotesContext(ctx)
	if err != nil {
		e.logger.Printf("Failed to read pending notes: %v", err)
		return
	}

	if len(pending) == 0 {
		e.logger.Println("No local changes to push")
		return
	}

	e.logger.Printf("Pushing %d local changes", len(pending))

	for _, note := range pending {
		if err := e.pushNote(ctx, note, result); err != nil {
			result.PushFailed++
			e.recordFailedPush(ctx, note.ID, err)
		}
	}
}

// pushNote pushes a single note and applies the server's verdict.
func (e *Engine) pushNote(ctx context.Context, note *schema.Note, result *Result) error {
	payload := pushPayload{
		Note:      note,
		DeviceID:  e.deviceID,
		Timestamp: time.Now().Format(schema.TimeFormat),
	}

	resp, err := e.client.Request(ctx, http.MethodPost, "/notes/sync", payload)
	if err != nil {
		return err
	}

	if resp.Conflict && resp.RemoteNote != nil {
		result.Conflicts++
		if err := e.resolver.Resolve(ctx, note, resp.RemoteNote); err != nil {
			return fmt.Errorf("conflict resolution failed: %w", err)
		}
		return nil
	}

	if !resp.Success {
		return fmt.Errorf("server rejected note %s: %s", note.ID, resp.Error)
	}

	if err := e.store.MarkSyncedContext(ctx, note.ID, note.Version); err != nil {
		return err
	}

	result.Pushed++
	e.logger.Printf("Synced note %s (v%d)", note.ID, note.Version)
	return nil
}

// recordFailedPush logs a push failure and bumps the note's attempts
// counter. The note stays pending for the next cycle.
func (e *Engine) recordFailedPush(ctx context.Context, noteID string, cause error) {
	e.logger.Printf("Error syncing note %s: %v", noteID, cause)

	attempts, err := e.store.IncrementAttemptsContext(ctx, noteID)
	if err != nil {
		e.logger.Printf("Failed to record push attempt for %s: %v", noteID, err)
		return
	}
	if attempts > attemptsWarnThreshold {
		e.logger.Printf("WARNING: note %s has failed %d push attempts", noteID, attempts)
	}
}

// pull fetches remote changes since the last successful pull and applies
// them in server order.
func (e *Engine) pull(ctx context.Context, result *Result) error {
	since, _, err := e.store.GetSettingContext(ctx, schema.SettingLastSyncTime)
	if err != nil {
		return err
	}
	if since == "" {
		since = time.Unix(0, 0).UTC().Format(schema.TimeFormat)
	}

	path := fmt.Sprintf("/notes/changes?since=%s&device_id=%s",
		url.QueryEscape(since), url.QueryEscape(e.deviceID))

	resp, err := e.client.Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("server rejected change query: %s", resp.Error)
	}

	if len(resp.Changes) > 0 {
		e.logger.Printf("Pulling %d remote changes", len(resp.Changes))
		for i := range resp.Changes {
			change := &resp.Changes[i]
			if err := e.applyChange(ctx, change); err != nil {
				e.logger.Printf("Error applying remote change for note %s: %v", change.Note.ID, err)
				continue
			}
			result.Pulled++
		}
	}

	return e.store.SetSettingContext(ctx, schema.SettingLastSyncTime,
		time.Now().Format(schema.TimeFormat))
}

// applyChange applies one remote change per the pull-phase rules.
func (e *Engine) applyChange(ctx context.Context, change *schema.Change) error {
	if err := change.Validate(); err != nil {
		return err
	}

	switch change.Action {
	case schema.ActionCreate:
		local, err := e.store.GetNoteContext(ctx, change.Note.ID)
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Printf("Created note %s from remote", change.Note.ID)
			return e.store.PutSyncedContext(ctx, change.Note)
		}
		if err != nil {
			return err
		}
		return e.resolver.Resolve(ctx, local, change.Note)

	case schema.ActionUpdate:
		local, err := e.store.GetNoteContext(ctx, change.Note.ID)
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Printf("Created note %s from remote update", change.Note.ID)
			return e.store.PutSyncedContext(ctx, change.Note)
		}
		if err != nil {
			return err
		}

		if local.SyncStatus == schema.StatusPending && local.UpdatedAt.After(change.Timestamp) {
			return e.resolver.Resolve(ctx, local, change.Note)
		}

		e.logger.Printf("Updated note %s from remote", change.Note.ID)
		return e.store.PutSyncedContext(ctx, change.Note)

	case schema.ActionDelete:
		// Deletes are unconditional, even over pending local edits.
		deleted, err := e.store.DeleteNoteContext(ctx, change.Note.ID)
		if err != nil {
			return err
		}
		if deleted {
			e.logger.Printf("Deleted note %s from remote", change.Note.ID)
		}
		return nil

	default:
		return fmt.Errorf("unknown change action %q", change.Action)
	}
}

// InProgress reports whether a cycle is currently running.
func (e *Engine) InProgress() bool {
	return e.running.Load()
}

// DeviceID returns the device identifier the engine syncs under.
func (e *Engine) DeviceID() string {
	return e.deviceID
}

// Status returns a snapshot of the engine's sync state.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	pending, err := e.store.PendingNotesContext(ctx)
	if err != nil {
		return nil, err
	}

	queued, err := e.client.Queued()
	if err != nil {
		return nil, err
	}

	status := &Status{
		InProgress: e.running.Load(),
		Pending:    len(pending),
		Queued:     len(queued),
	}

	if raw, ok, err := e.store.GetSettingContext(ctx, schema.SettingLastSyncTime); err == nil && ok {
		if t, err := time.Parse(schema.TimeFormat, raw); err == nil {
			status.LastSync = t
		}
	}

	return status, nil
}
