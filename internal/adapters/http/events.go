package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/speakcall/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// EventHub fans UI events out to every connected /api/events socket. A
// subscriber that falls behind is disconnected.
type EventHub struct {
	buffer       int
	writeTimeout time.Duration

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

var _ core.Notifier = (*EventHub)(nil)

type subscriber struct {
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() { s.once.Do(func() { close(s.send) }) }

func NewEventHub(buffer int) *EventHub {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventHub{
		buffer:       buffer,
		writeTimeout: 5 * time.Second,
		subs:         make(map[*subscriber]struct{}),
	}
}

// Notify never blocks.
func (h *EventHub) Notify(ev core.UIEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("encode ui event")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.send <- data:
		default:
			log.Warn().Str("module", "adapters.http").Msg("ui subscriber too slow, dropping it")
			delete(h.subs, s)
			s.close()
		}
	}
}

func (h *EventHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *EventHub) add() *subscriber {
	s := &subscriber{send: make(chan []byte, h.buffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *EventHub) remove(s *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		s.close()
	}
	h.mu.Unlock()
}

// Serve upgrades the request and streams events until the client leaves or
// ctx ends. Anything the client sends is discarded.
func (h *EventHub) Serve(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	s := h.add()
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		defer cancel()
		defer h.remove(s)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer ws.Close()
		for {
			select {
			case <-ctx.Done():
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			case data, ok := <-s.send:
				if !ok {
					return
				}
				_ = ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}
