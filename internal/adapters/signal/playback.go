package signal

import (
	"context"

	"github.com/dkeye/Stagehand/internal/core"
	"github.com/dkeye/Stagehand/internal/protocol"
)

func (ctl *SignalWSController) handlePlaybackCommand(sid core.SessionID, data []byte) error {
	p, err := protocol.Decode[protocol.PlaybackCommandMessage](data)
	if err != nil {
		return err
	}
	return ctl.Orch.PlaybackCommand(sid, p.Command, p.Time)
}

func (ctl *SignalWSController) handleAssetSelect(sid core.SessionID, data []byte) error {
	p, err := protocol.Decode[protocol.AssetSelectMessage](data)
	if err != nil {
		return err
	}
	return ctl.Orch.SelectAsset(sid, p.AssetID)
}

func (ctl *SignalWSController) handlePlaylistPlay(ctx context.Context, sid core.SessionID, data []byte) error {
	p, err := protocol.Decode[protocol.PlaylistPlayMessage](data)
	if err != nil {
		return err
	}
	if p.PlaylistID == "" {
		return protocol.ErrInvalidMessage
	}
	return ctl.Orch.PlayPlaylist(ctx, sid, p.PlaylistID)
}

func (ctl *SignalWSController) handlePlaylistSettings(sid core.SessionID, data []byte) error {
	p, err := protocol.Decode[protocol.PlaylistSettingsMessage](data)
	if err != nil {
		return err
	}
	return ctl.Orch.PlaylistSettings(sid, p.Loop, p.Shuffle)
}

func (ctl *SignalWSController) handleQueueAsset(sid core.SessionID, data []byte) error {
	p, err := protocol.Decode[protocol.QueueAssetMessage](data)
	if err != nil {
		return err
	}
	return ctl.Orch.QueueAsset(sid, p.AssetID)
}

func (ctl *SignalWSController) handleQueueJump(sid core.SessionID, data []byte) error {
	p, err := protocol.Decode[protocol.QueueAssetMessage](data)
	if err != nil {
		return err
	}
	if p.AssetID == nil {
		return protocol.ErrInvalidMessage
	}
	return ctl.Orch.QueueJump(sid, *p.AssetID)
}

func (ctl *SignalWSController) handleLayerVolume(sid core.SessionID, data []byte) error {
	p, err := protocol.Decode[protocol.LayerVolumeMessage](data)
	if err != nil {
		return err
	}
	return ctl.Orch.LayerVolume(sid, p.AssetID, p.Volume)
}

// handleLayerFadeTo ignores the duration; fades run at the player's fixed rate.
func (ctl *SignalWSController) handleLayerFadeTo(sid core.SessionID, data []byte) error {
	p, err := protocol.Decode[protocol.LayerFadeToMessage](data)
	if err != nil {
		return err
	}
	return ctl.Orch.LayerFadeTo(sid, p.AssetID)
}

func (ctl *SignalWSController) handleTrackEnded(sid core.SessionID, data []byte) error {
	p, err := protocol.Decode[protocol.TrackEndedMessage](data)
	if err != nil {
		return err
	}
	return ctl.Orch.TrackEnded(sid, p.AssetID, p.Index)
}
