package queuelog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Change reports activity on a followed queue_log since the last
// callback.
type Change struct {
	// Recreated is set when a new file appeared at the path, as
	// after logrotate moves the old one away.
	Recreated bool
}

// Watcher follows a single queue_log file with fsnotify and calls
// onChange once writes have been quiet for the debounce period.
// The parent directory is watched so a rotated file is still seen.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   zerolog.Logger
	onChange func(Change)

	mu        sync.Mutex
	lastEvent time.Time // zero when nothing is pending
	recreated bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewWatcher starts watching the directory holding path. Events
// are not processed until Start is called.
func NewWatcher(
	path string, debounce time.Duration, logger zerolog.Logger,
	onChange func(Change),
) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is nil: %w", os.ErrInvalid)
	}
	if debounce <= 0 {
		return nil, fmt.Errorf(
			"debounce %s must be positive: %w", debounce, os.ErrInvalid,
		)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		fsw:      fsw,
		debounce: debounce,
		logger:   logger.With().Str("file", abs).Logger(),
		onChange: onChange,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}, nil
}

// Start processes file events in a goroutine until Stop.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop ends event processing and releases the fsnotify watcher.
// It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
		w.fsw.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watcher error")

		case <-ticker.C:
			w.flush()
		}
	}
}

// handleEvent marks the file dirty on a write or create. Removal
// and rename leave nothing to read until a new file appears.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case event.Has(fsnotify.Create):
		w.recreated = true
	case event.Has(fsnotify.Write):
	default:
		return
	}
	w.lastEvent = w.now()
}

// flush reports the pending change once the debounce period has
// passed since the last event.
func (w *Watcher) flush() {
	w.mu.Lock()
	if w.lastEvent.IsZero() || w.now().Sub(w.lastEvent) < w.debounce {
		w.mu.Unlock()
		return
	}
	c := Change{Recreated: w.recreated}
	w.lastEvent = time.Time{}
	w.recreated = false
	w.mu.Unlock()

	w.logger.Debug().Bool("recreated", c.Recreated).
		Msg("queue_log changed")
	w.onChange(c)
}
