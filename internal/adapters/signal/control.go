package signal

import "github.com/dkeye/speakcall/internal/protocol"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	_ = ctl.sendJSON(conn, protocol.Pong())
}
