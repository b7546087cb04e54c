package watcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Code-6dof/DXX-Dashboard/internal/tracker"
)

func TestInitialContentSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gamelog.txt")
	if err := os.WriteFile(path, []byte("You killed bob with Plasma Cannon\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	uploads := tracker.NewUploads()
	notified := 0
	w := New([]string{dir}, "alice", uploads, nil, func() { notified++ })
	if w.Tracking() != 1 {
		t.Fatalf("tracking = %d, want 1", w.Tracking())
	}

	state := w.files[path]
	if err := w.poll(path, state); err != nil {
		t.Fatalf("poll: %v", err)
	}
	// Pre-existing content was skipped, nothing ingested.
	if uploads.Count() != 0 {
		t.Errorf("uploads count = %d, want 0", uploads.Count())
	}
	if notified != 0 {
		t.Errorf("notified %d times with no new content", notified)
	}
}

func TestIncrementalReadAndReset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gamelog.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	uploads := tracker.NewUploads()
	notified := 0
	w := New([]string{dir}, "alice", uploads, nil, func() { notified++ })
	state := w.files[path]

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("You killed bob with Plasma Cannon\n")
	f.Close()

	if err := w.poll(path, state); err != nil {
		t.Fatalf("poll: %v", err)
	}
	streams := uploads.Streams()
	if len(streams) != 1 || streams[0].Summary.Kills != 1 {
		t.Fatalf("streams = %+v", streams)
	}
	// New events must push a fresh digest downstream.
	if notified != 1 {
		t.Errorf("notified %d times after new events, want 1", notified)
	}

	// Shrink the file: new match, the stream resets.
	if err := os.WriteFile(path, []byte("You killed carol with Flare\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := w.poll(path, state); err != nil {
		t.Fatalf("poll after truncate: %v", err)
	}
	streams = uploads.Streams()
	if len(streams) != 1 {
		t.Fatalf("streams after reset = %+v", streams)
	}
	s := streams[0]
	if s.Summary.Kills != 1 || s.Summary.Victims["carol"] != 1 {
		t.Errorf("stream after reset = %+v", s.Summary)
	}
	if s.Summary.Victims["bob"] != 0 {
		t.Errorf("old match events survived the reset: %+v", s.Summary)
	}
	if notified != 2 {
		t.Errorf("notified %d times total, want 2", notified)
	}
}
