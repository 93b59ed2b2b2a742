package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stagehand/internal/core"
	"github.com/dkeye/Stagehand/internal/protocol"
)

func (ctl *SignalWSController) handleJoin(sid core.SessionID, data []byte) error {
	p, err := protocol.Decode[protocol.JoinCampaignMessage](data)
	if err != nil {
		return err
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("campaign", string(p.CampaignID)).Msg("join")
	return ctl.Orch.Join(sid, p.CampaignID)
}

// handleLeave leaves the current campaign; the connection stays open.
func (ctl *SignalWSController) handleLeave(sid core.SessionID) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.Orch.Leave(sid)
}
