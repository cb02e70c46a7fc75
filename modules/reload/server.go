package reload

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"autumn/modules/metrics"
)

const (
	shutdownTimeout = 5 * time.Second
	keepAlivePeriod = 3 * time.Minute
)

// ServerConfig describes one reload server.
type ServerConfig struct {
	// Target is the origin to proxy. Empty serves Options.WebRoot instead.
	Target  string
	Options Options
	Hub     *Hub
	// Recorder, when set, is mounted at /metrics and times proxied and
	// static requests.
	Recorder *metrics.Recorder
	Logger   *slog.Logger
}

// Server proxies the development site, injects the client script into HTML
// pages and streams reload events. It implements Session.
type Server struct {
	opts       Options
	hub        *Hub
	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
	startURL   string
	logger     *slog.Logger
}

func NewServer(cfg ServerConfig) (*Server, error) {
	opts := cfg.Options.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub(nil, logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/livereload", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		hub.ServeHTTP(w, req)
	})
	r.Get("/"+ClientAsset, serveClient)
	if cfg.Recorder != nil {
		r.Handle("/metrics", cfg.Recorder.Handler())
	}
	site := r.With(cfg.Recorder.Middleware)

	s := &Server{opts: opts, hub: hub, logger: logger}
	if cfg.Target == "" {
		site.Handle("/*", http.FileServer(http.Dir(opts.WebRoot)))
	} else {
		proxy, path, err := newProxy(cfg.Target, logger)
		if err != nil {
			return nil, err
		}
		s.startURL = path
		site.Handle("/*", proxy)
	}
	s.handler = r
	return s, nil
}

func serveClient(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(clientScript)
}

func newProxy(target string, logger *slog.Logger) (*httputil.ReverseProxy, string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, "", fmt.Errorf("reload proxy: invalid url %q: %w", target, err)
	}
	if u.Host == "" {
		return nil, "", fmt.Errorf("reload proxy: url %q has no host", target)
	}

	origin := &url.URL{Scheme: u.Scheme, Host: u.Host}
	proxy := httputil.NewSingleHostReverseProxy(origin)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = origin.Host
		// Injection needs an uncompressed body.
		req.Header.Del("Accept-Encoding")
	}
	// Development origins commonly run on self-signed certificates.
	proxy.Transport = &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	proxy.ModifyResponse = injectResponse
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("reload proxy: upstream error", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}

	path := u.RequestURI()
	return proxy, path, nil
}

func injectResponse(resp *http.Response) error {
	mediatype, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediatype != "text/html" || resp.Header.Get("Content-Encoding") != "" {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}
	body = injectScript(body, scriptTag)
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener, with TLS when Options.HTTPS is set, and serves
// in the background.
func (s *Server) Start() error {
	var tlsConfig *tls.Config
	if s.opts.HTTPS != nil {
		cert, err := tls.LoadX509KeyPair(s.opts.HTTPS.Cert, s.opts.HTTPS.Key)
		if err != nil {
			return fmt.Errorf("loading TLS key pair: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	lc := net.ListenConfig{KeepAlive: keepAlivePeriod}
	ln, err := lc.Listen(context.Background(), "tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("reload server stopped", "error", err)
		}
	}()

	s.logger.Info("Reload server listening", "url", s.URL())
	return nil
}

// URL is the address browsers should open.
func (s *Server) URL() string {
	if s.listener == nil {
		return ""
	}
	scheme := "http"
	if s.opts.HTTPS != nil {
		scheme = "https"
	}
	path := s.startURL
	if path == "" {
		path = "/"
	}
	return scheme + "://" + s.listener.Addr().String() + path
}

func (s *Server) Broadcast(digest string) {
	s.hub.Broadcast(digest)
}

func (s *Server) Close() error {
	s.hub.Shutdown()
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
