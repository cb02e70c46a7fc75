// Package reload owns the single live-reload session of the process.
//
// The session is opened lazily by the first Reload call and reused for
// every later one. Opening provisions the browser client script under the
// web root when it is missing.
package reload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"autumn/modules/metrics"
)

const (
	DefaultListen  = ":3000"
	DefaultWebRoot = "./"
)

// TLSFiles names PEM encoded key material.
type TLSFiles struct {
	Key  string
	Cert string
}

type Options struct {
	// WebRoot receives the client script. Default "./".
	WebRoot string
	// Listen is the reload server address. Default ":3000".
	Listen string
	// HTTPS serves the session over TLS when set.
	HTTPS *TLSFiles
}

func (o Options) withDefaults() Options {
	if o.WebRoot == "" {
		o.WebRoot = DefaultWebRoot
	}
	if o.Listen == "" {
		o.Listen = DefaultListen
	}
	return o
}

// Session is an initialised live-reload channel.
type Session interface {
	Broadcast(digest string)
	Close() error
}

// Opener starts a session for url.
type Opener func(ctx context.Context, url string, opts Options) (Session, error)

type Option func(*Notifier)

func WithOpener(o Opener) Option {
	return func(n *Notifier) { n.open = o }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(n *Notifier) { n.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// Notifier holds at most one session. It is safe for concurrent use.
type Notifier struct {
	mu      sync.Mutex
	session Session
	open    Opener
	metrics *metrics.Recorder
	logger  *slog.Logger
}

func NewNotifier(opts ...Option) *Notifier {
	n := &Notifier{logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	if n.open == nil {
		n.open = n.openServer
	}
	return n
}

func (n *Notifier) openServer(_ context.Context, url string, opts Options) (Session, error) {
	cfg := ServerConfig{
		Target:   url,
		Options:  opts,
		Hub:      NewHub(n.metrics, n.logger),
		Recorder: n.metrics,
		Logger:   n.logger,
	}
	srv, err := NewServer(cfg)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		return nil, err
	}
	return srv, nil
}

// Reload opens the session on first use and broadcasts digest. Options are
// only read when the session is opened. A failed open leaves the notifier
// uninitialised so the next call retries.
func (n *Notifier) Reload(ctx context.Context, url string, opts Options, digest string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.session == nil {
		opts = opts.withDefaults()
		wrote, err := ProvisionClient(opts.WebRoot)
		if err != nil {
			return fmt.Errorf("provisioning %s: %w", ClientAsset, err)
		}
		if wrote {
			n.logger.Info("Provisioned reload client", "web_root", opts.WebRoot, "file", ClientAsset)
		}

		s, err := n.open(ctx, url, opts)
		if err != nil {
			return fmt.Errorf("starting reload session: %w", err)
		}
		n.session = s
	}

	n.session.Broadcast(digest)
	n.logger.Debug("Reload broadcast", "digest", digest)
	return nil
}

// Initialized reports whether a session is open.
func (n *Notifier) Initialized() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.session != nil
}

// Close ends the session, if any. A later Reload opens a new one.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil {
		return nil
	}
	err := n.session.Close()
	n.session = nil
	return err
}
