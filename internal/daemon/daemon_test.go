package daemon

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/noteverse/noteverse/internal/connectivity"
	"github.com/noteverse/noteverse/internal/resolver"
	"github.com/noteverse/noteverse/internal/schema"
	"github.com/noteverse/noteverse/internal/store"
	notesync "github.com/noteverse/noteverse/internal/sync"
	"github.com/noteverse/noteverse/internal/transport"
)

func newTestDaemon(t *testing.T, config *Config) (*Daemon, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&transport.Response{Success: true})
	}))
	t.Cleanup(server.Close)

	client := transport.New(server.URL, st, nil)
	res, err := resolver.New(st, resolver.LatestWins, nil, nil)
	if err != nil {
		t.Fatalf("resolver.New() failed: %v", err)
	}
	engine, err := notesync.New(st, client, res, nil, nil)
	if err != nil {
		t.Fatalf("sync.New() failed: %v", err)
	}
	monitor := connectivity.New(client, engine, nil, nil)

	if config == nil {
		config = DefaultConfig()
	}
	config.Logger = log.New(io.Discard, "", 0)

	d, err := New(st, engine, monitor, config)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Stop() })

	return d, st
}

// TestNew_RequiresDependencies tests nil checks
func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(nil, nil, nil, nil); err == nil {
		t.Error("New() accepted a nil store")
	}
}

// TestDefaultConfig tests the default intervals
func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.SyncInterval != 5*time.Minute {
		t.Errorf("SyncInterval = %v, want 5m", config.SyncInterval)
	}
	if config.ProbeInterval != 30*time.Second {
		t.Errorf("ProbeInterval = %v, want 30s", config.ProbeInterval)
	}
	if config.DebounceInterval != 500*time.Millisecond {
		t.Errorf("DebounceInterval = %v, want 500ms", config.DebounceInterval)
	}
	if config.PruneAfter != 24*time.Hour {
		t.Errorf("PruneAfter = %v, want 24h", config.PruneAfter)
	}
}

// TestImportNoteFile_CreatesNote tests the import create path
func TestImportNoteFile_CreatesNote(t *testing.T) {
	d, st := newTestDaemon(t, nil)

	path := filepath.Join(t.TempDir(), "note.json")
	payload := `{"title":"Imported","content":"from disk","category":"work","tags":["inbox"]}`
	if err := os.WriteFile(path, []byte(payload), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	if err := d.importNoteFile(path); err != nil {
		t.Fatalf("importNoteFile() failed: %v", err)
	}

	notes, err := st.ListNotes()
	if err != nil {
		t.Fatalf("ListNotes() failed: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("len(notes) = %d, want 1", len(notes))
	}
	got := notes[0]
	if got.Title != "Imported" || got.Content != "from disk" || got.Category != "work" {
		t.Errorf("imported note = %+v, want file contents", got)
	}
	if got.SyncStatus != schema.StatusPending {
		t.Errorf("SyncStatus = %q, want %q", got.SyncStatus, schema.StatusPending)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
}

// TestImportNoteFile_UpdatesExisting tests the import update path
func TestImportNoteFile_UpdatesExisting(t *testing.T) {
	d, st := newTestDaemon(t, nil)

	existing, err := st.CreateNote(&schema.Note{Title: "Original", Content: "old"})
	if err != nil {
		t.Fatalf("CreateNote() failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "note.json")
	payload := `{"id":"` + existing.ID + `","title":"Edited","content":"new"}`
	if err := os.WriteFile(path, []byte(payload), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	if err := d.importNoteFile(path); err != nil {
		t.Fatalf("importNoteFile() failed: %v", err)
	}

	got, err := st.GetNote(existing.ID)
	if err != nil {
		t.Fatalf("GetNote() failed: %v", err)
	}
	if got.Title != "Edited" || got.Content != "new" {
		t.Errorf("note = %q/%q, want Edited/new", got.Title, got.Content)
	}
	if got.Version != existing.Version+1 {
		t.Errorf("Version = %d, want %d", got.Version, existing.Version+1)
	}
}

// TestImportNoteFile_UnknownIDCreates tests that a file with a foreign id
// still creates the note
func TestImportNoteFile_UnknownIDCreates(t *testing.T) {
	d, st := newTestDaemon(t, nil)

	path := filepath.Join(t.TempDir(), "note.json")
	payload := `{"id":"carried-over-id","title":"Migrated"}`
	if err := os.WriteFile(path, []byte(payload), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	if err := d.importNoteFile(path); err != nil {
		t.Fatalf("importNoteFile() failed: %v", err)
	}

	got, err := st.GetNote("carried-over-id")
	if err != nil {
		t.Fatalf("GetNote() failed: %v", err)
	}
	if got.Title != "Migrated" {
		t.Errorf("Title = %q, want Migrated", got.Title)
	}
}

// TestImportNoteFile_RejectsBadInput tests malformed and empty files
func TestImportNoteFile_RejectsBadInput(t *testing.T) {
	d, _ := newTestDaemon(t, nil)

	dir := t.TempDir()

	garbled := filepath.Join(dir, "garbled.json")
	_ = os.WriteFile(garbled, []byte("not json"), 0644)
	if err := d.importNoteFile(garbled); err == nil {
		t.Error("importNoteFile() accepted malformed JSON")
	}

	untitled := filepath.Join(dir, "untitled.json")
	_ = os.WriteFile(untitled, []byte(`{"content":"no title"}`), 0644)
	if err := d.importNoteFile(untitled); err == nil {
		t.Error("importNoteFile() accepted a file without a title")
	}

	if err := d.importNoteFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("importNoteFile() accepted a missing file")
	}
}

// TestMaybePrune tests pruning after a clean cycle
func TestMaybePrune(t *testing.T) {
	d, st := newTestDaemon(t, &Config{
		SyncInterval:     time.Hour,
		ProbeInterval:    time.Hour,
		DebounceInterval: time.Hour,
		PruneAfter:       time.Millisecond,
	})

	note, err := st.CreateNote(&schema.Note{Title: "aged"})
	if err != nil {
		t.Fatalf("CreateNote() failed: %v", err)
	}
	if err := st.MarkSynced(note.ID, note.Version); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	d.maybePrune(&notesync.Result{})

	entries, _ := st.MutationLog()
	if len(entries) != 0 {
		t.Errorf("len(entries) = %d after prune, want 0", len(entries))
	}
}

// TestMaybePrune_SkipsDirtyCycle tests that failures block pruning
func TestMaybePrune_SkipsDirtyCycle(t *testing.T) {
	d, st := newTestDaemon(t, &Config{
		SyncInterval:     time.Hour,
		ProbeInterval:    time.Hour,
		DebounceInterval: time.Hour,
		PruneAfter:       time.Millisecond,
	})

	note, _ := st.CreateNote(&schema.Note{Title: "aged"})
	_ = st.MarkSynced(note.ID, note.Version)

	time.Sleep(5 * time.Millisecond)

	d.maybePrune(&notesync.Result{PushFailed: 1})

	entries, _ := st.MutationLog()
	if len(entries) != 1 {
		t.Errorf("len(entries) = %d after dirty cycle, want 1", len(entries))
	}
}

// TestProcessPendingChanges_Debounce tests that fresh changes wait out the
// debounce window
func TestProcessPendingChanges_Debounce(t *testing.T) {
	d, st := newTestDaemon(t, &Config{
		SyncInterval:     time.Hour,
		ProbeInterval:    time.Hour,
		DebounceInterval: time.Hour,
	})

	path := filepath.Join(t.TempDir(), "note.json")
	_ = os.WriteFile(path, []byte(`{"title":"settling"}`), 0644)

	d.queueChange(path)
	d.processPendingChanges()

	notes, _ := st.ListNotes()
	if len(notes) != 0 {
		t.Error("change was processed before the debounce window elapsed")
	}

	d.changeQueueMu.Lock()
	d.changeQueue[path] = time.Now().Add(-2 * time.Hour)
	d.changeQueueMu.Unlock()

	d.processPendingChanges()

	notes, _ = st.ListNotes()
	if len(notes) != 1 {
		t.Fatalf("len(notes) = %d after debounce elapsed, want 1", len(notes))
	}

	d.changeQueueMu.Lock()
	remaining := len(d.changeQueue)
	d.changeQueueMu.Unlock()
	if remaining != 0 {
		t.Errorf("len(changeQueue) = %d after processing, want 0", remaining)
	}
}
