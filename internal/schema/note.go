// Package schema provides the domain types for the NoteVerse sync core.
package schema

import (
	"fmt"
	"time"
)

// Sync status values for a note.
const (
	// StatusPending marks a note whose latest local mutation has not yet
	// been acknowledged by the remote store.
	StatusPending = "pending"
	// StatusSynced marks a note whose stored version completed a round
	// trip through the transport.
	StatusSynced = "synced"
)

// Mutation actions recorded in the log and reported by the pull feed.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// TimeFormat is the wire and storage format for all timestamps.
// RFC3339Nano keeps sub-second ordering between rapid successive edits.
const TimeFormat = time.RFC3339Nano

// Note represents a note stored locally and exchanged with the remote store.
// Fields are flat with last-write-wins semantics; updated_at drives conflict
// resolution between devices.
type Note struct {
	// ===== Core Identification =====
	ID string `json:"id"`

	// ===== Content =====
	Title         string   `json:"title"`
	Content       string   `json:"content,omitempty"`
	Category      string   `json:"category,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	BackgroundRef string   `json:"background_ref,omitempty"`

	// ===== Timestamps (conflict resolution) =====
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ===== Sync bookkeeping =====
	SyncStatus string `json:"sync_status"`
	Version    int    `json:"version"`
	DeviceID   string `json:"device_id"`

	// Attachments are joined onto the note by the store on read.
	// They are not part of the sync payload's flat fields.
	Attachments []*Attachment `json:"attachments,omitempty"`
}

// Validate checks that the Note has usable field values.
func (n *Note) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	if n.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(n.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(n.Title))
	}
	if n.SyncStatus != StatusPending && n.SyncStatus != StatusSynced {
		return fmt.Errorf("sync_status must be %q or %q (got %q)", StatusPending, StatusSynced, n.SyncStatus)
	}
	if n.Version < 1 {
		return fmt.Errorf("version must be at least 1 (got %d)", n.Version)
	}
	if n.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if n.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (n *Note) SetDefaults() {
	if n.Category == "" {
		n.Category = "ideas"
	}
	if n.Tags == nil {
		n.Tags = []string{}
	}
	if n.SyncStatus == "" {
		n.SyncStatus = StatusPending
	}
	if n.Version == 0 {
		n.Version = 1
	}
	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = now
	}
}

// Clone returns a deep copy of the note.
func (n *Note) Clone() *Note {
	c := *n
	if n.Tags != nil {
		c.Tags = append([]string(nil), n.Tags...)
	}
	if n.Attachments != nil {
		c.Attachments = make([]*Attachment, len(n.Attachments))
		for i, a := range n.Attachments {
			ac := *a
			c.Attachments[i] = &ac
		}
	}
	return &c
}

// NotePatch carries a partial update for a note. Nil fields are left
// untouched by the store's merge.
type NotePatch struct {
	Title         *string   `json:"title,omitempty"`
	Content       *string   `json:"content,omitempty"`
	Category      *string   `json:"category,omitempty"`
	Tags          *[]string `json:"tags,omitempty"`
	BackgroundRef *string   `json:"background_ref,omitempty"`
}

// Apply merges the patch into the note, leaving nil fields alone.
func (p *NotePatch) Apply(n *Note) {
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Content != nil {
		n.Content = *p.Content
	}
	if p.Category != nil {
		n.Category = *p.Category
	}
	if p.Tags != nil {
		n.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.BackgroundRef != nil {
		n.BackgroundRef = *p.BackgroundRef
	}
}

// Attachment is an external reference (music track, image, link) attached
// to a note. Attachments cascade when the owning note is deleted.
type Attachment struct {
	ID         string    `json:"id"`
	NoteID     string    `json:"note_id"`
	SourceType string    `json:"source_type"` // spotify, pinterest, url, ...
	SourceID   string    `json:"source_id"`
	Title      string    `json:"title,omitempty"`
	URL        string    `json:"url,omitempty"`
	AttachedAt time.Time `json:"attached_at"`
}

// Validate checks that the Attachment has usable field values.
func (a *Attachment) Validate() error {
	if a.NoteID == "" {
		return fmt.Errorf("note_id is required")
	}
	if a.SourceType == "" {
		return fmt.Errorf("source_type is required")
	}
	if a.SourceID == "" {
		return fmt.Errorf("source_id is required")
	}
	return nil
}
