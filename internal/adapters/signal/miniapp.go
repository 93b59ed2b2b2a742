package signal

import (
	"github.com/dkeye/Stagehand/internal/core"
	"github.com/dkeye/Stagehand/internal/protocol"
)

func (ctl *SignalWSController) handleMiniApp(sid core.SessionID, typ string, data []byte) error {
	p, err := protocol.Decode[protocol.MiniAppMessage](data)
	if err != nil {
		return err
	}
	switch typ {
	case protocol.TypeMiniAppEnable:
		return ctl.Orch.EnableApp(sid, p.AppID)
	case protocol.TypeMiniAppDisable:
		return ctl.Orch.DisableApp(sid, p.AppID)
	default:
		if p.Action == "" {
			return protocol.ErrInvalidMessage
		}
		return ctl.Orch.AppAction(sid, p.AppID, p.Action, p.Payload)
	}
}
