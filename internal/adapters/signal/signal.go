// Package signal carries signaling events over WebSocket. The server side is
// the reference relay: presence plus forwarding by participant id. The client
// side is the agent's link to it.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/speakcall/internal/app"
	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/domain"
	"github.com/dkeye/speakcall/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type RelayConfig struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	// FrameLimit process-frame events per FrameWindow per sender.
	FrameLimit  int
	FrameWindow time.Duration
	// BackendCalls bounds concurrent synthesizer and recognizer requests.
	BackendCalls   int64
	BackendTimeout time.Duration
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		ReadLimit:      1 << 20,
		PingPeriod:     54 * time.Second,
		WriteTimeout:   5 * time.Second,
		SendBuffer:     64,
		FrameLimit:     4,
		FrameWindow:    time.Second,
		BackendCalls:   8,
		BackendTimeout: 10 * time.Second,
	}
}

// SignalWSController is the relay. Each connection is read on its own
// goroutine, so events from one sender are forwarded in order.
type SignalWSController struct {
	cfg      RelayConfig
	registry *app.Registry
	policy   app.Policy
	limiter  *RateLimiter
	synth    core.Synthesizer
	signs    core.SignRecognizer
	metrics  *metrics.Metrics
	backend  *semaphore.Weighted
}

type RelayDeps struct {
	Registry *app.Registry
	Policy   app.Policy
	Limiter  *RateLimiter
	// Synth and Signs are optional.
	Synth   core.Synthesizer
	Signs   core.SignRecognizer
	Metrics *metrics.Metrics
}

func NewSignalWSController(cfg RelayConfig, deps RelayDeps) *SignalWSController {
	if deps.Registry == nil {
		deps.Registry = app.NewRegistry()
	}
	if deps.Policy == nil {
		deps.Policy = app.SimplePolicy{}
	}
	if deps.Limiter == nil {
		deps.Limiter = NewRateLimiter(cfg.FrameLimit, cfg.FrameWindow, nil)
	}
	if cfg.BackendCalls <= 0 {
		cfg.BackendCalls = 1
	}
	return &SignalWSController{
		cfg:      cfg,
		registry: deps.Registry,
		policy:   deps.Policy,
		limiter:  deps.Limiter,
		synth:    deps.Synth,
		signs:    deps.Signs,
		metrics:  deps.Metrics,
		backend:  semaphore.NewWeighted(cfg.BackendCalls),
	}
}

func (ctl *SignalWSController) Registry() *app.Registry { return ctl.registry }

// WsSignalConn is one client connection. Writes go through a bounded queue
// drained by the write pump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// peer is the relay-side state of one connection.
type peer struct {
	sid    core.SessionID
	conn   *WsSignalConn
	cancel context.CancelFunc
	// known is the participant id remembered by the cookie session, if any.
	known domain.ParticipantID

	mu   sync.Mutex
	self *domain.Participant
}

func (p *peer) participant() (domain.Participant, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.self == nil {
		return domain.Participant{}, false
	}
	return *p.self, true
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the connection until ctx ends
// or the client goes away. known, when set, is the only participant id this
// connection may announce.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, known domain.ParticipantID) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.cfg.ReadLimit > 0 {
		ws.SetReadLimit(ctl.cfg.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.cfg.SendBuffer),
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &peer{sid: sid, conn: conn, cancel: cancel, known: known}

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, p)
}

// goOffline unbinds p and tells everyone else.
func (ctl *SignalWSController) goOffline(p *peer) {
	self, ok := p.participant()
	if !ok {
		return
	}
	if ctl.registry.Unbind(self.ID, p.conn) {
		ctl.limiter.Forget(self.ID)
		ctl.broadcastOnline()
	}
}
