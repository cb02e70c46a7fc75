package reload

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"autumn/modules/metrics"
)

const (
	pingInterval = 30 * time.Second
	// pending reloads a subscriber may lag behind before it is dropped
	subscriberBacklog = 8
)

// reloadEvent is the payload of one "reload" SSE message.
type reloadEvent struct {
	Seq    uint64 `json:"-"`
	Digest string `json:"digest"`
}

// subscriber is one connected browser tab.
type subscriber struct {
	events chan reloadEvent
	gone   chan struct{}
	once   sync.Once
}

func (s *subscriber) disconnect() {
	s.once.Do(func() { close(s.gone) })
}

// Hub fans reload events out to browsers connected over Server-Sent Events.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	seq    uint64
	closed bool
}

// NewHub returns an open hub. Both arguments may be nil.
func NewHub(m *metrics.Recorder, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger.With("component", "livereload"),
		metrics: m,
		subs:    make(map[*subscriber]struct{}),
	}
}

// subscribe registers a new subscriber; ok is false once the hub is shut down.
func (h *Hub) subscribe() (sub *subscriber, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	sub = &subscriber{events: make(chan reloadEvent, subscriberBacklog), gone: make(chan struct{})}
	h.subs[sub] = struct{}{}
	h.metrics.SetReloadClients(len(h.subs))
	return sub, true
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()

	sub.disconnect()
	if ok {
		h.metrics.SetReloadClients(n)
	}
}

// ServeHTTP streams reload events until the browser goes away or the hub
// shuts down.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	sub, ok := h.subscribe()
	if !ok {
		http.Error(w, "livereload shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if err := h.send(w, rc, ": connected\n\n"); err != nil {
		h.logger.Debug("Client went away before the stream started", "remote", r.RemoteAddr, "error", err)
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.gone:
			return
		case <-ping.C:
			if err := h.send(w, rc, ": ping\n\n"); err != nil {
				return
			}
		case ev := <-sub.events:
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("Encoding reload event", "error", err)
				continue
			}
			if err := h.send(w, rc, fmt.Sprintf("id: %d\nevent: reload\ndata: %s\n\n", ev.Seq, data)); err != nil {
				h.logger.Debug("Dropping client after failed write", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}

func (h *Hub) send(w http.ResponseWriter, rc *http.ResponseController, msg string) error {
	if _, err := fmt.Fprint(w, msg); err != nil {
		return err
	}
	return rc.Flush()
}

// Clients is the number of connected browsers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast queues a reload for every browser. Subscribers whose backlog is
// full are disconnected rather than allowed to stall the build.
func (h *Hub) Broadcast(digest string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.seq++
	ev := reloadEvent{Seq: h.seq, Digest: digest}
	var slow []*subscriber
	for sub := range h.subs {
		select {
		case sub.events <- ev:
		default:
			slow = append(slow, sub)
		}
	}
	delivered := len(h.subs) - len(slow)
	h.mu.Unlock()

	for _, sub := range slow {
		h.unsubscribe(sub)
	}
	h.metrics.ObserveReload()
	h.logger.Debug("Broadcast reload", "seq", ev.Seq, "digest", digest, "delivered", delivered, "dropped", len(slow))
}

// Shutdown disconnects every browser and refuses new connections.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for sub := range subs {
		sub.disconnect()
	}
	h.metrics.SetReloadClients(0)
	h.logger.Debug("Hub shut down", "clients", len(subs))
}
