// Package resolver decides the surviving state when a local and a remote
// version of the same note have diverged since the last confirmed sync.
//
// The policy is a deployment-wide configuration choice. Exactly one
// resolution outcome is produced per conflicting pair per sync cycle, and
// the store write (or the decision to leave the note untouched under the
// manual policy) is the atomic terminal action.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/noteverse/noteverse/internal/events"
	"github.com/noteverse/noteverse/internal/schema"
	"github.com/noteverse/noteverse/internal/store"
)

// Policy selects the conflict resolution strategy.
type Policy string

const (
	// LatestWins keeps whichever side carries the later updated timestamp.
	// Lossy by design: the older side is fully overwritten.
	LatestWins Policy = "latest_wins"
	// Manual persists a conflict record for an external decision and
	// leaves the note untouched.
	Manual Policy = "manual"
	// Merge concatenates diverged content behind a separator marker.
	Merge Policy = "merge"
)

// Valid reports whether the policy is one of the supported strategies.
func (p Policy) Valid() bool {
	switch p {
	case LatestWins, Manual, Merge:
		return true
	}
	return false
}

// MergeSeparator is the fixed marker inserted between the local and remote
// content under the merge policy.
const MergeSeparator = "--- MERGED FROM OTHER DEVICE ---"

// Resolver applies the configured policy to conflicting note pairs.
type Resolver struct {
	store  *store.Store
	policy Policy
	bus    *events.Bus
	logger *log.Logger
}

// New creates a Resolver. If logger is nil, a default logger writing to
// stderr is used. The bus may be nil when no listeners exist; conflict
// notifications are then dropped.
func New(st *store.Store, policy Policy, bus *events.Bus, logger *log.Logger) (*Resolver, error) {
	if !policy.Valid() {
		return nil, fmt.Errorf("unknown conflict policy %q", policy)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[resolver] ", log.LstdFlags)
	}
	return &Resolver{
		store:  st,
		policy: policy,
		bus:    bus,
		logger: logger,
	}, nil
}

// Policy returns the configured policy.
func (r *Resolver) Policy() Policy {
	return r.policy
}

// Resolve produces the terminal state for a conflicting local/remote pair.
//
// local is the authoritative local state (possibly pending); remote is the
// server-reported state for the same note id.
func (r *Resolver) Resolve(ctx context.Context, local, remote *schema.Note) error {
	r.logger.Printf("Conflict detected for note %s (policy=%s)", local.ID, r.policy)

	switch r.policy {
	case LatestWins:
		return r.resolveLatestWins(ctx, local, remote)
	case Manual:
		return r.recordForManualResolution(ctx, local, remote)
	case Merge:
		return r.resolveMerge(ctx, local, remote)
	default:
		return fmt.Errorf("unknown conflict policy %q", r.policy)
	}
}

// resolveLatestWins keeps the side with the later updated timestamp. On a
// tie the local side wins: local is assumed freshly authored. A winning
// local note stays pending so the next push publishes it.
func (r *Resolver) resolveLatestWins(ctx context.Context, local, remote *schema.Note) error {
	if remote.UpdatedAt.After(local.UpdatedAt) {
		if err := r.store.PutSyncedContext(ctx, remote); err != nil {
			return fmt.Errorf("failed to apply remote winner for %s: %w", local.ID, err)
		}
		r.logger.Printf("Resolved conflict: remote version won for note %s", local.ID)
		return nil
	}

	r.logger.Printf("Resolved conflict: local version won for note %s", local.ID)
	return nil
}

// recordForManualResolution stores both snapshots for an external decision
// and emits a conflict notification. The note itself is left unchanged.
func (r *Resolver) recordForManualResolution(ctx context.Context, local, remote *schema.Note) error {
	record := &schema.ConflictRecord{
		NoteID:    local.ID,
		Local:     local.Clone(),
		Remote:    remote.Clone(),
		CreatedAt: time.Now(),
		Resolved:  false,
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode conflict record: %w", err)
	}
	if err := r.store.SetSettingContext(ctx, schema.ConflictKey(local.ID), string(encoded)); err != nil {
		return fmt.Errorf("failed to store conflict record for %s: %w", local.ID, err)
	}

	if r.bus != nil {
		r.bus.Publish(events.KindConflict, record)
	}

	r.logger.Printf("Stored conflict record for note %s; awaiting manual resolution", local.ID)
	return nil
}

// resolveMerge concatenates diverged content behind the separator marker.
// The title follows the later updated side; the merged note ends synced.
func (r *Resolver) resolveMerge(ctx context.Context, local, remote *schema.Note) error {
	merged := local.Clone()

	if local.Content != remote.Content {
		merged.Content = fmt.Sprintf("%s\n\n%s\n%s", local.Content, MergeSeparator, remote.Content)
	}
	if remote.UpdatedAt.After(local.UpdatedAt) {
		merged.Title = remote.Title
		merged.UpdatedAt = remote.UpdatedAt
	}
	if remote.Version > merged.Version {
		merged.Version = remote.Version
	}

	if err := r.store.PutSyncedContext(ctx, merged); err != nil {
		return fmt.Errorf("failed to store merged note %s: %w", local.ID, err)
	}

	r.logger.Printf("Resolved conflict: merged note %s", local.ID)
	return nil
}

// Conflicts lists the stored conflict records, ordered by note id.
func (r *Resolver) Conflicts(ctx context.Context) ([]*schema.ConflictRecord, error) {
	settings, err := r.store.SettingsByPrefixContext(ctx, schema.ConflictKeyPrefix)
	if err != nil {
		return nil, err
	}

	var records []*schema.ConflictRecord
	for _, kv := range settings {
		var record schema.ConflictRecord
		if err := json.Unmarshal([]byte(kv.Value), &record); err != nil {
			r.logger.Printf("Warning: skipping malformed conflict record %s: %v", kv.Key, err)
			continue
		}
		records = append(records, &record)
	}

	return records, nil
}

// MarkResolved flags the stored conflict record for a note as resolved.
// The caller is expected to have already applied the chosen state through
// the store (typically via UpdateNote).
func (r *Resolver) MarkResolved(ctx context.Context, noteID string) error {
	key := schema.ConflictKey(noteID)
	raw, ok, err := r.store.GetSettingContext(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no conflict record for note %s", noteID)
	}

	var record schema.ConflictRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return fmt.Errorf("failed to decode conflict record for %s: %w", noteID, err)
	}

	record.Resolved = true
	encoded, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("failed to encode conflict record for %s: %w", noteID, err)
	}
	return r.store.SetSettingContext(ctx, key, string(encoded))
}

// PruneResolved deletes conflict records already flagged resolved and
// returns how many were removed. Unresolved records are kept; they are the
// work queue for manual resolution.
func (r *Resolver) PruneResolved(ctx context.Context) (int, error) {
	records, err := r.Conflicts(ctx)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, record := range records {
		if !record.Resolved {
			continue
		}
		if err := r.store.DeleteSettingContext(ctx, schema.ConflictKey(record.NoteID)); err != nil {
			return pruned, fmt.Errorf("failed to prune conflict record for %s: %w", record.NoteID, err)
		}
		pruned++
	}

	if pruned > 0 {
		r.logger.Printf("Pruned %d resolved conflict records", pruned)
	}
	return pruned, nil
}
