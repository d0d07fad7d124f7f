package signal

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/speakcall/internal/app/loop"
	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/protocol"
	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

var ErrNotConnected = errors.New("not connected to relay")

type ClientConfig struct {
	URL          string
	Header       http.Header
	WriteTimeout time.Duration
	PingPeriod   time.Duration
	ReadLimit    int64
	SendBuffer   int
	// RetryMin and RetryMax bound the reconnect backoff.
	RetryMin time.Duration
	RetryMax time.Duration
}

func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:          url,
		WriteTimeout: 5 * time.Second,
		PingPeriod:   30 * time.Second,
		ReadLimit:    4 << 20,
		SendBuffer:   64,
		RetryMin:     500 * time.Millisecond,
		RetryMax:     15 * time.Second,
	}
}

type subscription struct {
	fn    func(protocol.Event)
	types map[string]bool
}

// Client is the agent's relay link. Inbound events are dispatched on the loop;
// Subscribe and the returned unsubscribe func must be called on it too. Send
// may be called from anywhere.
type Client struct {
	cfg    ClientConfig
	loop   *loop.Loop
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *WsSignalConn

	subs   map[int]subscription
	nextID int
}

var _ core.SignalChannel = (*Client)(nil)

func NewClient(cfg ClientConfig, l *loop.Loop) *Client {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &Client{
		cfg:    cfg,
		loop:   l,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		subs:   make(map[int]subscription),
	}
}

func (c *Client) Send(ev protocol.Event) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	b, err := protocol.Encode(ev)
	if err != nil {
		return pkgerrors.Wrap(err, "encode event")
	}
	if err := conn.TrySend(b); err != nil {
		return pkgerrors.Wrapf(err, "send %s", ev.Type)
	}
	return nil
}

func (c *Client) Subscribe(fn func(protocol.Event), types ...string) func() {
	id := c.nextID
	c.nextID++
	sub := subscription{fn: fn}
	if len(types) > 0 {
		sub.types = make(map[string]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	c.subs[id] = sub
	return func() { delete(c.subs, id) }
}

// dispatch runs on the loop. Subscribers added or removed by a handler take
// effect from the next event.
func (c *Client) dispatch(ev protocol.Event) {
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		sub, ok := c.subs[id]
		if !ok {
			continue
		}
		if sub.types == nil || sub.types[ev.Type] {
			sub.fn(ev)
		}
	}
}

// Run keeps the relay link up until ctx ends, reconnecting with backoff.
func (c *Client) Run(ctx context.Context) error {
	for {
		var ws *websocket.Conn
		err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
			conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
			if err != nil {
				log.Warn().Err(err).Str("module", "signal.client").Str("url", c.cfg.URL).Msg("dial relay")
				return retry.RetryableError(err)
			}
			ws = conn
			return nil
		})
		if err != nil {
			return ctx.Err()
		}
		log.Info().Str("module", "signal.client").Str("url", c.cfg.URL).Msg("connected to relay")
		c.serve(ctx, ws)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Str("module", "signal.client").Msg("relay link lost, reconnecting")
	}
}

func (c *Client) backoff() retry.Backoff {
	b := retry.NewExponential(c.cfg.RetryMin)
	b = retry.WithCappedDuration(c.cfg.RetryMax, b)
	return retry.WithJitterPercent(10, b)
}

// serve pumps one connection and returns once it is gone.
func (c *Client) serve(ctx context.Context, ws *websocket.Conn) {
	if c.cfg.ReadLimit > 0 {
		ws.SetReadLimit(c.cfg.ReadLimit)
	}
	conn := &WsSignalConn{conn: ws, send: make(chan core.Frame, c.cfg.SendBuffer)}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.loop.Post(func() { c.dispatch(protocol.Event{Type: protocol.TypeConnected}) })

	cctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump(cctx, conn)
	}()
	c.readPump(conn, done)
	cancel()
	<-done
	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	c.loop.Post(func() { c.dispatch(protocol.Event{Type: protocol.TypeDisconnected}) })
}

// readPump reads until the connection breaks or the writer has finished and
// closed it.
func (c *Client) readPump(conn *WsSignalConn, writerDone <-chan struct{}) {
	go func() {
		<-writerDone
		conn.Close()
	}()
	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			select {
			case <-writerDone:
			default:
				log.Warn().Err(err).Str("module", "signal.client").Msg("read")
			}
			return
		}
		ev, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal.client").Str("type", ev.Type).Msg("dropping event")
			continue
		}
		c.loop.Post(func() { c.dispatch(ev) })
	}
}

func (c *Client) writePump(ctx context.Context, conn *WsSignalConn) {
	var pingC <-chan time.Time
	if c.cfg.PingPeriod > 0 {
		ticker := time.NewTicker(c.cfg.PingPeriod)
		defer ticker.Stop()
		pingC = ticker.C
	}
	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			c.flush(conn)
			return
		case <-pingC:
			if err := conn.TrySend(mustEncode(protocol.Event{Type: protocol.TypePing})); err != nil {
				log.Debug().Err(err).Str("module", "signal.client").Msg("ping")
			}
		case data, ok := <-conn.send:
			if !ok {
				return
			}
			if err := conn.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				return
			}
			if err := conn.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal.client").Msg("write")
				return
			}
		}
	}
}

// flush writes whatever is still queued, then says goodbye. Events sent just
// before shutdown, such as a hang-up, still reach the relay.
func (c *Client) flush(conn *WsSignalConn) {
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if err := conn.conn.SetWriteDeadline(deadline); err != nil {
		return
	}
	for {
		select {
		case data, ok := <-conn.send:
			if !ok {
				return
			}
			if err := conn.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "signal.client").Msg("flush")
				return
			}
		default:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		}
	}
}

func mustEncode(ev protocol.Event) []byte {
	b, err := protocol.Encode(ev)
	if err != nil {
		panic(err)
	}
	return b
}
