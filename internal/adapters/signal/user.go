package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stagehand/internal/core"
	"github.com/dkeye/Stagehand/internal/protocol"
)

func (ctl *SignalWSController) handleIdentify(sid core.SessionID, data []byte) error {
	p, err := protocol.Decode[protocol.IdentifyMessage](data)
	if err != nil {
		return err
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(p.User.ID)).Str("name", p.User.Name).Msg("identify")
	return ctl.Orch.Identify(sid, p.User)
}
