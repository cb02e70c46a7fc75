// Package watcher binds native change notifications for the files matched by
// a pattern set to a debounced callback.
//
// Subscriptions are made per resolved file, once, when Watch is called.
// Files created later that would match the patterns are not watched until
// the process restarts.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"autumn/modules/debounce"
	"autumn/modules/glob"
	"autumn/modules/metrics"
)

// Notifier is the native change-notification primitive.
type Notifier interface {
	Add(path string) error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
	Close() error
}

type fsNotifier struct {
	w *fsnotify.Watcher
}

func NewFSNotifier() (Notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &fsNotifier{w: w}, nil
}

func (n *fsNotifier) Add(path string) error         { return n.w.Add(path) }
func (n *fsNotifier) Events() <-chan fsnotify.Event { return n.w.Events }
func (n *fsNotifier) Errors() <-chan error          { return n.w.Errors }
func (n *fsNotifier) Close() error                  { return n.w.Close() }

type Option func(*Watcher)

func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(w *Watcher) { w.metrics = m }
}

func WithResolver(r *glob.Resolver) Option {
	return func(w *Watcher) { w.resolver = r }
}

// WithNotifierFactory replaces the fsnotify backend.
func WithNotifierFactory(fn func() (Notifier, error)) Option {
	return func(w *Watcher) { w.newNotifier = fn }
}

type Watcher struct {
	gate        *debounce.Gate
	resolver    *glob.Resolver
	newNotifier func() (Notifier, error)
	metrics     *metrics.Recorder
	logger      *slog.Logger
	seq         atomic.Int64
}

func New(gate *debounce.Gate, opts ...Option) *Watcher {
	w := &Watcher{
		gate:        gate,
		newNotifier: NewFSNotifier,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.gate == nil {
		w.gate = debounce.New(debounce.QuietPeriod)
	}
	if w.resolver == nil {
		w.resolver = glob.NewResolver(w.logger)
	}
	return w
}

// Session is one registered watch group.
type Session struct {
	ID       string
	files    []string
	notifier Notifier
	done     chan struct{}
	stop     chan struct{}
	once     sync.Once
	err      error
}

// Watch registers cb for patterns.
//
// With enabled false cb runs once, synchronously, no subscription is made
// and the returned session is already finished. With enabled true every
// currently matching file is subscribed, cb runs once immediately, and each
// later notification is routed through the debounce gate until ctx is done
// or the session is closed.
func (w *Watcher) Watch(ctx context.Context, patterns []string, cb func(), enabled bool) (*Session, error) {
	id := fmt.Sprintf("watch-%d", w.seq.Add(1))

	if !enabled {
		cb()
		s := &Session{ID: id, done: make(chan struct{}), stop: make(chan struct{})}
		close(s.done)
		return s, nil
	}

	files := w.resolver.Resolve(patterns)
	n, err := w.newNotifier()
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if err := n.Add(f); err != nil {
			n.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", f, err)
		}
	}

	s := &Session{
		ID:       id,
		files:    files,
		notifier: n,
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
	w.gate.Register(id, cb)
	w.logger.Info("Watching for file changes", "group", id, "files", len(files), "quiet_period", w.gate.QuietPeriod())

	cb()

	go w.loop(ctx, s)
	return s, nil
}

func (w *Watcher) loop(ctx context.Context, s *Session) {
	defer close(s.done)
	defer func() {
		w.gate.Unregister(s.ID)
		s.err = s.notifier.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case event, ok := <-s.notifier.Events():
			if !ok {
				return
			}
			// Editors that save by rename drop the inotify watch on the old inode.
			if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				if err := s.notifier.Add(event.Name); err != nil {
					w.logger.Debug("Could not re-subscribe", "path", event.Name, "error", err)
				}
			}
			fired := w.gate.Notify(s.ID)
			w.metrics.ObserveNotification(fired)
			w.logger.Debug("Change notification", "group", s.ID, "path", event.Name, "op", event.Op.String(), "fired", fired)
		case err, ok := <-s.notifier.Errors():
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", "group", s.ID, "error", err)
		}
	}
}

// Files lists the subscribed paths.
func (s *Session) Files() []string {
	return append([]string(nil), s.files...)
}

// Subscriptions is the number of native subscriptions held.
func (s *Session) Subscriptions() int {
	return len(s.files)
}

// Wait blocks until the session ends.
func (s *Session) Wait() {
	<-s.done
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close ends the session and releases its subscriptions.
func (s *Session) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return s.err
}
