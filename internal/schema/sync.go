package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// MutationEntry is one record of the append-only mutation log. Entries are
// written in the same transaction as the note change they describe and are
// never mutated afterwards, except for the attempts counter which tracks
// failed pushes of the owning note.
type MutationEntry struct {
	ID        int64           `json:"id"`
	NoteID    string          `json:"note_id"`
	Action    string          `json:"action"`
	DeviceID  string          `json:"device_id"`
	Timestamp time.Time       `json:"timestamp"`
	Snapshot  json.RawMessage `json:"data_snapshot,omitempty"`
	Attempts  int             `json:"attempts"`
}

// Change is one entry of the remote change feed returned by the pull request.
type Change struct {
	Action    string    `json:"action"`
	Note      *Note     `json:"note"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks that the change can be applied.
func (c *Change) Validate() error {
	switch c.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		return fmt.Errorf("unknown change action %q", c.Action)
	}
	if c.Note == nil || c.Note.ID == "" {
		return fmt.Errorf("change is missing a note id")
	}
	return nil
}

// ConflictRecord captures both sides of a diverged note under the manual
// policy. It is persisted as the setting "conflict_<noteID>" and consumed by
// an external resolution step; records are never auto-expired.
type ConflictRecord struct {
	NoteID    string    `json:"note_id"`
	Local     *Note     `json:"local_version"`
	Remote    *Note     `json:"remote_version"`
	CreatedAt time.Time `json:"created_at"`
	Resolved  bool      `json:"resolved"`
}

// QueuedRequest is a deferred outbound request captured while offline,
// replayed best-effort on reconnection.
type QueuedRequest struct {
	Method    string          `json:"method"`
	Endpoint  string          `json:"endpoint"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Settings keys consumed and produced by the sync core.
const (
	SettingLastSyncTime   = "lastSyncTime"
	SettingQueuedRequests = "queuedRequests"
	SettingDeviceID       = "deviceID"
	SettingAuthToken      = "authToken"

	// ConflictKeyPrefix prefixes per-note conflict record settings.
	ConflictKeyPrefix = "conflict_"
)

// ConflictKey returns the settings key holding the conflict record for a note.
func ConflictKey(noteID string) string {
	return ConflictKeyPrefix + noteID
}
