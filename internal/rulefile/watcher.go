package rulefile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher calls onChange whenever the content of a rules file changes.
// The parent directory is watched so editors that replace the file by
// rename are still seen.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(ctx context.Context) error

	lastHash string
}

func NewWatcher(path string, onChange func(ctx context.Context) error) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		onChange: onChange,
	}
}

// WithDebounce sets the settle delay. Non-positive values are ignored.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	if d > 0 {
		w.debounce = d
	}
	return w
}

// Run blocks until ctx is cancelled. The current content is hashed on start
// so the first onChange only happens after an actual edit.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	w.lastHash, _ = w.hash()
	log.Printf("rulefile: watching path=%s", w.path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			log.Println("rulefile: watcher stopping")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = time.After(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("rulefile: watcher error: %v", err)

		case <-pending:
			pending = nil
			w.check(ctx)
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	h, err := w.hash()
	if err != nil {
		log.Printf("rulefile: read %s: %v", w.path, err)
		return
	}
	if h == w.lastHash {
		return
	}

	if err := w.onChange(ctx); err != nil {
		// Keep the old hash so the next edit retries.
		log.Printf("rulefile: reload failed path=%s: %v", w.path, err)
		return
	}
	w.lastHash = h
}

func (w *Watcher) hash() (string, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
