// Package settings keeps the provider settings in sync with the config file.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/magic/internal/checksum"
	"github.com/starford/magic/internal/provider"
)

const defaultDebounce = 200 * time.Millisecond

// Decoder turns config file contents into provider settings.
type Decoder func(data []byte) (provider.Settings, error)

// Listener is called after every applied change.
type Listener func(ctx context.Context, s provider.Settings)

// Manager serves an immutable snapshot of the provider settings and swaps
// it whenever the config file changes to valid, different content.
type Manager struct {
	path     string
	decode   Decoder
	logger   *slog.Logger
	debounce time.Duration

	current atomic.Pointer[provider.Settings]

	mu        sync.Mutex
	seen      checksum.Tracker
	listeners []Listener

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithDebounce sets how long the manager waits for a burst of file events
// to settle before reloading.
func WithDebounce(d time.Duration) Option {
	return func(m *Manager) { m.debounce = d }
}

// NewManager creates a Manager serving initial until the file at path changes.
func NewManager(path string, initial provider.Settings, decode Decoder, opts ...Option) *Manager {
	m := &Manager{
		path:     path,
		decode:   decode,
		logger:   slog.Default(),
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.current.Store(&initial)
	if data, err := os.ReadFile(path); err == nil {
		m.seen.Seed(data)
	}
	return m
}

// Snapshot returns the settings in effect.
func (m *Manager) Snapshot() provider.Settings {
	return *m.current.Load()
}

// Subscribe registers l for future changes.
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Reload rereads the config file. Unchanged content is a no-op. Invalid
// content is reported and leaves the current snapshot in place.
func (m *Manager) Reload(ctx context.Context) (bool, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return false, fmt.Errorf("settings: read %s: %w", m.path, err)
	}

	m.mu.Lock()
	if !m.seen.Changed(data) {
		m.mu.Unlock()
		return false, nil
	}
	s, err := m.decode(data)
	if err != nil {
		m.mu.Unlock()
		return false, fmt.Errorf("settings: decode %s: %w", m.path, err)
	}
	m.seen.Accept(data)
	m.current.Store(&s)
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	m.logger.Info("settings reloaded",
		slog.String("provider", s.Provider),
		slog.String("endpoint", s.Endpoint),
		slog.String("model", s.Model))
	for _, l := range listeners {
		l(ctx, s)
	}
	return true, nil
}

// Start watches the config file until Stop is called or ctx is cancelled.
// The parent directory is watched so that editors replacing the file are
// picked up.
func (m *Manager) Start(ctx context.Context) error {
	if m.cancel != nil {
		return errors.New("settings: already started")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings: new watcher: %w", err)
	}
	dir := filepath.Dir(m.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("settings: watch %s: %w", dir, err)
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.watch(ctx, w)

	m.logger.Info("settings: watching", slog.String("path", m.path))
	return nil
}

// Stop ends the watch started by Start and waits for it to finish.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
}

func (m *Manager) watch(ctx context.Context, w *fsnotify.Watcher) {
	defer close(m.done)
	defer w.Close()

	target := filepath.Clean(m.path)
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(m.debounce)
			timerCh = timer.C
		} else {
			timer.Reset(m.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			m.logger.Info("settings: stopped")
			return

		case <-timerCh:
			if _, err := m.Reload(ctx); err != nil {
				m.logger.Warn("settings: reload failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				schedule()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.logger.Error("settings: watcher error", slog.String("error", err.Error()))
		}
	}
}
