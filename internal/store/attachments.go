package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noteverse/noteverse/internal/schema"
)

// AddAttachment attaches an external reference to a note.
//
// The attachment id and timestamp are assigned here. Fails with ErrNotFound
// if the owning note does not exist.
func (s *Store) AddAttachment(att *schema.Attachment) (*schema.Attachment, error) {
	return s.AddAttachmentContext(context.Background(), att)
}

// AddAttachmentContext attaches an external reference with context support.
func (s *Store) AddAttachmentContext(ctx context.Context, att *schema.Attachment) (*schema.Attachment, error) {
	a := *att
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.AttachedAt = time.Now()

	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("invalid attachment: %w", err)
	}

	// Verify the owning note exists so a bad note_id surfaces as
	// ErrNotFound rather than a foreign key violation.
	if _, err := s.GetNoteContext(ctx, a.NoteID); err != nil {
		return nil, err
	}

	query := `
	INSERT INTO attachments (id, note_id, source_type, source_id, title, url, attached_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.conn.ExecContext(ctx, query,
		a.ID, a.NoteID, a.SourceType, a.SourceID,
		nullString(a.Title), nullString(a.URL),
		a.AttachedAt.Format(schema.TimeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert attachment: %w", err)
	}

	return &a, nil
}

// Attachments returns all attachments for a note in attach order.
func (s *Store) Attachments(noteID string) ([]*schema.Attachment, error) {
	return s.AttachmentsContext(context.Background(), noteID)
}

// AttachmentsContext returns attachments with context support.
func (s *Store) AttachmentsContext(ctx context.Context, noteID string) ([]*schema.Attachment, error) {
	query := `
	SELECT id, note_id, source_type, source_id, title, url, attached_at
	FROM attachments
	WHERE note_id = ?
	ORDER BY attached_at ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	var attachments []*schema.Attachment
	for rows.Next() {
		var a schema.Attachment
		var title, url sql.NullString
		var attachedAt string

		if err := rows.Scan(&a.ID, &a.NoteID, &a.SourceType, &a.SourceID, &title, &url, &attachedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}

		a.Title = title.String
		a.URL = url.String
		if t, err := time.Parse(schema.TimeFormat, attachedAt); err == nil {
			a.AttachedAt = t
		}

		attachments = append(attachments, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachments: %w", err)
	}

	return attachments, nil
}
