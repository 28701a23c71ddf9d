// Package watcher reports changes to a single file on disk.
//
// The parent directory is watched rather than the file itself, so the
// watcher survives editors that save by writing a temporary file and renaming
// it over the original. Bursts of events are debounced and the new content is
// delivered only when it differs from the last delivered content.
package watcher

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Errors returned by the watcher.
var (
	// ErrPathNotExist indicates the watched file does not exist.
	ErrPathNotExist = errors.New("path does not exist")

	// ErrIsDirectory indicates a directory was given instead of a file.
	ErrIsDirectory = errors.New("path is a directory")
)

// DefaultDebounce is the quiet period before a change is reported.
const DefaultDebounce = 50 * time.Millisecond

// Change is the file's content after a burst of modifications.
type Change struct {
	Path    string
	Content string
	ModTime time.Time
}

// Option configures a FileWatcher.
type Option func(*FileWatcher)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *FileWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithBufferSize sets the capacity of the Changes and Errors channels.
func WithBufferSize(n int) Option {
	return func(w *FileWatcher) {
		if n > 0 {
			w.bufSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *FileWatcher) {
		w.logger = l
	}
}

// FileWatcher watches one file.
type FileWatcher struct {
	path     string
	debounce time.Duration
	bufSize  int
	logger   *slog.Logger

	fsw     *fsnotify.Watcher
	last    []byte
	changes chan Change
	errors  chan error

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// New starts watching path. The current content is the baseline, so the
// first Change reports the first modification.
func New(path string, opts ...Option) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotExist, abs)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrIsDirectory, abs)
	}
	baseline, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	w := &FileWatcher{
		path:     abs,
		debounce: DefaultDebounce,
		bufSize:  16,
		last:     baseline,
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.New(slog.DiscardHandler)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}
	w.fsw = fsw
	w.changes = make(chan Change, w.bufSize)
	w.errors = make(chan error, w.bufSize)

	w.wg.Add(1)
	go w.processLoop()
	return w, nil
}

// Path returns the absolute path being watched.
func (w *FileWatcher) Path() string {
	return w.path
}

// Changes delivers the file content after each debounced modification.
// It is closed by Close.
func (w *FileWatcher) Changes() <-chan Change {
	return w.changes
}

// Errors delivers watcher and read errors. It is closed by Close.
func (w *FileWatcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher. It is safe to call more than once.
func (w *FileWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closeCh)
		w.wg.Wait()
		err = w.fsw.Close()
		close(w.changes)
		close(w.errors)
	})
	return err
}

func (w *FileWatcher) processLoop() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op == fsnotify.Chmod {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.sendError(err)

		case <-fire:
			fire = nil
			if !w.emit() {
				return
			}
		}
	}
}

// emit reads the file and delivers it if the content changed. It returns
// false once the watcher is closing.
func (w *FileWatcher) emit() bool {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			// Mid-rename; the create that follows triggers another read.
			w.logger.Debug("watched file missing", "path", w.path)
			return true
		}
		w.sendError(err)
		return true
	}
	if bytes.Equal(data, w.last) {
		return true
	}
	w.last = data

	change := Change{Path: w.path, Content: string(data)}
	if info, err := os.Stat(w.path); err == nil {
		change.ModTime = info.ModTime()
	}
	select {
	case w.changes <- change:
		return true
	case <-w.closeCh:
		return false
	}
}

func (w *FileWatcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
		w.logger.Warn("watcher error dropped", "error", err)
	}
}
