package server

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"netinfo/internal/models"
)

const (
	eventsWriteTimeout = 5 * time.Second
	eventsPingInterval = 30 * time.Second
	eventsQueueSize    = 8
)

var eventsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// eventHub fans emitted snapshots out to connected stream clients.
type eventHub struct {
	mu      sync.Mutex
	clients map[chan models.Snapshot]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{clients: make(map[chan models.Snapshot]struct{})}
}

func (h *eventHub) join() chan models.Snapshot {
	queue := make(chan models.Snapshot, eventsQueueSize)
	h.mu.Lock()
	h.clients[queue] = struct{}{}
	h.mu.Unlock()
	return queue
}

func (h *eventHub) leave(queue chan models.Snapshot) {
	h.mu.Lock()
	delete(h.clients, queue)
	h.mu.Unlock()
}

func (h *eventHub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast never blocks: a slow client loses its oldest queued change.
func (h *eventHub) broadcast(snap models.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for queue := range h.clients {
		offer(queue, snap.Clone())
	}
}

func offer(queue chan models.Snapshot, snap models.Snapshot) {
	for {
		select {
		case queue <- snap:
			return
		default:
		}
		select {
		case <-queue:
		default:
		}
	}
}

// handleEvents streams the current snapshot followed by every change.
// Each connection counts as one remote listener while it stays open.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serveEvents(conn, r.URL.Query().Get("interface"))
}

func (s *Server) serveEvents(conn *websocket.Conn, filter string) {
	defer conn.Close()

	queue := s.hub.join()
	s.backend.AddListeners(1)
	defer func() {
		s.hub.leave(queue)
		s.backend.RemoveListeners(1)
	}()
	s.logger.Debug("event stream opened", "remote", conn.RemoteAddr().String())

	if err := writeEvent(conn, s.backend.CurrentState(filter)); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case snap := <-queue:
			if filter != "" {
				snap = s.backend.CurrentState(filter)
			}
			if err := writeEvent(conn, snap); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(eventsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-done:
			s.logger.Debug("event stream closed", "remote", conn.RemoteAddr().String())
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, payload models.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
	return conn.WriteJSON(payload)
}
