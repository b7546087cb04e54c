// Package watcher tails local DXX gamelog.txt files and feeds their
// lines into the textual-stream store. Existing content at startup is
// skipped; a file that shrinks is a new match and resets the stream.
package watcher

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Code-6dof/DXX-Dashboard/internal/bus"
	"github.com/Code-6dof/DXX-Dashboard/internal/domain"
	"github.com/Code-6dof/DXX-Dashboard/internal/tracker"
)

const pollInterval = 1 * time.Second

// Watcher polls one or more gamelog files for growth.
type Watcher struct {
	identity string
	uploads  *tracker.Uploads
	bus      *bus.Bus
	notify   func() // called after new events land in the stream

	files map[string]*fileState
	done  chan struct{}
	wg    sync.WaitGroup
}

type fileState struct {
	position int64
}

// New resolves candidate directories (explicit list first, platform
// defaults otherwise) and records the initial size of every
// gamelog.txt found. identity becomes the bound identity of the local
// stream; empty means infer from the log itself. notify is invoked
// after every batch of parsed events so the aggregator republishes
// and the snapshot rewrites; it may be nil.
func New(dirs []string, identity string, uploads *tracker.Uploads, b *bus.Bus, notify func()) *Watcher {
	w := &Watcher{
		identity: identity,
		uploads:  uploads,
		bus:      b,
		notify:   notify,
		files:    make(map[string]*fileState),
		done:     make(chan struct{}),
	}
	if len(dirs) == 0 {
		dirs = defaultDirs()
	}
	for _, dir := range dirs {
		path := filepath.Join(dir, "gamelog.txt")
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		// Skip everything already in the file; only new lines count.
		w.files[path] = &fileState{position: info.Size()}
		log.Printf("Watcher: tracking %s (skipping %d existing bytes)", path, info.Size())
	}
	return w
}

// defaultDirs lists the stock DXX-Redux/Rebirth profile locations plus
// the working directory.
func defaultDirs() []string {
	dirs := []string{"."}
	home, err := os.UserHomeDir()
	if err != nil {
		return dirs
	}
	for _, sub := range []string{".d1x-redux", ".d2x-redux", ".d1x-rebirth", ".d2x-rebirth"} {
		dirs = append(dirs, filepath.Join(home, sub))
	}
	return dirs
}

// Tracking reports how many gamelog files are being watched.
func (w *Watcher) Tracking() int {
	return len(w.files)
}

// Start launches the poll loop. A watcher with no files is a no-op.
func (w *Watcher) Start() {
	if len(w.files) == 0 {
		return
	}
	w.wg.Add(1)
	go w.loop()
}

// Stop halts the poll loop.
func (w *Watcher) Stop() {
	close(w.done)
	w.wg.Wait()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			for path, state := range w.files {
				if err := w.poll(path, state); err != nil {
					log.Printf("Watcher: %s: %v", path, err)
				}
			}
		}
	}
}

// poll reads any new content. Truncation resets the stream and emits a
// gamelog_reset frame.
func (w *Watcher) poll(path string, state *fileState) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	size := info.Size()
	if size < state.position {
		// The game started a new log: forget the previous match.
		state.position = 0
		w.uploads.Reset(w.streamName())
		if w.bus != nil {
			w.bus.Publish(bus.SubjectEvents, domain.Frame{Type: domain.FrameGamelogReset})
		}
		log.Printf("Watcher: %s truncated, resetting local stream", path)
	}
	if size == state.position {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(state.position, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	state.position += int64(len(data))

	newEvents, _, err := w.uploads.Append(w.streamName(), string(data))
	if err != nil {
		return err
	}
	if newEvents > 0 && w.notify != nil {
		w.notify()
	}
	return nil
}

func (w *Watcher) streamName() string {
	if w.identity != "" {
		return w.identity
	}
	return "local"
}
