package signal

import "github.com/dkeye/Stagehand/internal/protocol"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, protocol.BaseMessage{Type: protocol.TypePong})
}
