package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/noteverse/noteverse/internal/schema"
	"github.com/noteverse/noteverse/internal/store"
)

// importFile is the accepted shape of a dropped note file. Only content
// fields are honored; sync bookkeeping is always assigned by the store.
type importFile struct {
	ID            string   `json:"id,omitempty"`
	Title         string   `json:"title"`
	Content       string   `json:"content,omitempty"`
	Category      string   `json:"category,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	BackgroundRef string   `json:"background_ref,omitempty"`
}

// importNoteFile upserts a note JSON file into the local store as a local
// edit: a new note when the id is unknown or absent, a pending update
// otherwise. Either path appends to the mutation log like any user action.
func (d *Daemon) importNoteFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read import file: %w", err)
	}

	var in importFile
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("failed to parse import file: %w", err)
	}
	if in.Title == "" {
		return fmt.Errorf("import file has no title")
	}

	if in.ID != "" {
		if _, err := d.store.GetNoteContext(d.ctx, in.ID); err == nil {
			patch := &schema.NotePatch{Title: &in.Title, Content: &in.Content}
			if in.Category != "" {
				patch.Category = &in.Category
			}
			if in.Tags != nil {
				patch.Tags = &in.Tags
			}
			if in.BackgroundRef != "" {
				patch.BackgroundRef = &in.BackgroundRef
			}

			if _, err := d.store.UpdateNoteContext(d.ctx, in.ID, patch); err != nil {
				return err
			}
			d.config.Logger.Printf("Imported update for note %s", in.ID)
			return nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	note := &schema.Note{
		ID:            in.ID,
		Title:         in.Title,
		Content:       in.Content,
		Category:      in.Category,
		Tags:          in.Tags,
		BackgroundRef: in.BackgroundRef,
	}

	created, err := d.store.CreateNoteContext(d.ctx, note)
	if err != nil {
		return err
	}
	d.config.Logger.Printf("Imported new note %s", created.ID)
	return nil
}
