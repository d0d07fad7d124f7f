package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/speakcall/internal/core"
	"github.com/dkeye/speakcall/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	var pingC <-chan time.Time
	if ctl.cfg.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.cfg.PingPeriod)
		defer ticker.Stop()
		pingC = ticker.C
	}
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-pingC:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.cfg.WriteTimeout)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, p *peer) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(p.sid)).Msg("readPump closing")
		p.cancel()
		p.conn.Close()
		ctl.goOffline(p)
	}()

	// A cancelled context has to interrupt the blocking read.
	go func() {
		<-ctx.Done()
		p.conn.Close()
	}()

	if ctl.cfg.PingPeriod > 0 {
		wait := ctl.cfg.PingPeriod * 2
		_ = p.conn.conn.SetReadDeadline(time.Now().Add(wait))
		p.conn.conn.SetPongHandler(func(string) error {
			return p.conn.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		_, data, err := p.conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(p.sid)).Msg("readPump read error")
			}
			return
		}
		if ctl.cfg.PingPeriod > 0 {
			_ = p.conn.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PingPeriod * 2))
		}
		ctl.handleSignal(ctx, p, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, p *peer, data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			log.Warn().Str("module", "signal").Str("type", ev.Type).Msg("unknown signal")
		} else {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(p.sid)).Msg("bad signal")
		}
		ctl.metrics.RecordDropped("malformed")
		_ = ctl.sendJSON(p.conn, protocol.ErrorEvent(err.Error()))
		return
	}

	switch ev.Type {
	case protocol.TypePing:
		ctl.handlePing(p.conn)
	case protocol.TypeUserOnline:
		ctl.handleUserOnline(p, ev)
	default:
		if !ev.Addressed() {
			log.Warn().Str("module", "signal").Str("type", ev.Type).Msg("client sent relay-only event")
			_ = ctl.sendJSON(p.conn, protocol.ErrorEvent("unexpected event "+ev.Type))
			return
		}
		ctl.handleAddressed(ctx, p, ev)
	}
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, ev protocol.Event) error {
	b, err := protocol.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return err
	}
	return c.TrySend(b)
}
