package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"hedge/core/events"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// StreamMessage is the frame sent to websocket subscribers.
type StreamMessage struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  time.Time         `json:"emittedAt"`
}

type subscriber struct {
	ch     chan []byte
	filter map[string]struct{}
}

// Hub fans market events out to websocket clients. Slow clients lose frames
// rather than stall the market.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	logger *slog.Logger
	now    func() time.Time
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[*subscriber]struct{}), logger: logger.With("component", "stream"), now: time.Now}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	flat := events.Flatten(evt)
	if flat == nil {
		return
	}
	payload, err := json.Marshal(StreamMessage{Type: flat.Type, Attributes: flat.Attributes, EmittedAt: h.now().UTC()})
	if err != nil {
		h.logger.Error("encode stream frame", "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if len(sub.filter) > 0 {
			if _, ok := sub.filter[flat.Type]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- payload:
		default:
			h.logger.Warn("dropping frame for slow subscriber", "type", flat.Type)
		}
	}
}

// Subscribers reports the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) subscribe(types []string) *subscriber {
	sub := &subscriber{ch: make(chan []byte, subscriberBuffer)}
	if len(types) > 0 {
		sub.filter = make(map[string]struct{}, len(types))
		for _, t := range types {
			sub.filter[t] = struct{}{}
		}
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams events until either side
// closes. The optional type query parameter is a comma separated filter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var types []string
	for _, t := range strings.Split(r.URL.Query().Get("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	sub := h.subscribe(types)
	defer h.unsubscribe(sub)

	ctx := conn.CloseRead(r.Context())
	if err := h.stream(ctx, conn, sub); err != nil && websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, sub *subscriber) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-sub.ch:
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
