package web

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/circuitdiag/internal/model"
)

const (
	progressWriteTimeout = 10 * time.Second
	subscriberBuffer     = 64
)

// Event is one progress update of a running diagnosis.
type Event struct {
	ServiceID   string    `json:"service_id"`
	Percent     int       `json:"percent"`
	Message     string    `json:"message"`
	Done        bool      `json:"done,omitempty"`
	DiagnosisID int64     `json:"diagnosis_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	Time        time.Time `json:"time"`
}

// Hub fans progress events out to websocket subscribers. Slow
// subscribers miss events rather than block the diagnosis.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a channel of events and a function that releases it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// Publish delivers e to every subscriber with room for it.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Observer returns a progress observer publishing events for serviceID.
func (h *Hub) Observer(serviceID string) model.ProgressObserver {
	return model.ProgressFunc(func(percent int, message string) {
		h.Publish(Event{ServiceID: serviceID, Percent: percent, Message: message})
	})
}

var progressUpgrader = websocket.Upgrader{
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

// ProgressWS streams progress events. The optional service query
// parameter filters events to one service.
func (h *Handlers) ProgressWS(w http.ResponseWriter, r *http.Request) {
	conn, err := progressUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.serveProgress(conn, r.URL.Query().Get("service"))
}

func (h *Handlers) serveProgress(conn *websocket.Conn, service string) {
	defer conn.Close()

	events, release := h.hub.Subscribe()
	defer release()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if service != "" && e.ServiceID != service {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(progressWriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
