package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stagehand/internal/core"
	"github.com/dkeye/Stagehand/internal/domain"
	"github.com/dkeye/Stagehand/internal/playback"
	"github.com/dkeye/Stagehand/internal/protocol"
)

// timing announces a change that clients must resync transport for.
func timing(st *core.RoomState, changed bool) (core.Outbound, error) {
	if !changed {
		return core.Outbound{}, nil
	}
	return core.Outbound{Msg: protocol.NewPlaybackState(st.Playback.Snapshot())}, nil
}

// queued announces a change that must not trigger a transport resync.
func queued(st *core.RoomState, changed bool) (core.Outbound, error) {
	if !changed {
		return core.Outbound{}, nil
	}
	return core.Outbound{Msg: protocol.NewQueueUpdated(st.Playback.Snapshot())}, nil
}

func (o *Orchestrator) PlaybackCommand(sid core.SessionID, command string, at *float64) error {
	return o.update(sid, func(st *core.RoomState) (core.Outbound, error) {
		m := st.Playback
		switch command {
		case protocol.CommandPlay:
			return timing(st, m.Play(at, st.Now))
		case protocol.CommandPause:
			return timing(st, m.Pause(at, st.Now))
		case protocol.CommandSeek:
			if at == nil {
				return core.Outbound{}, fmt.Errorf("%w: seek without time", protocol.ErrInvalidMessage)
			}
			return timing(st, m.Seek(*at, st.Now))
		case protocol.CommandNext:
			return timing(st, m.Next(st.Now))
		case protocol.CommandPrev:
			return timing(st, m.Prev(st.Now))
		}
		return core.Outbound{}, fmt.Errorf("%w: unknown command %q", protocol.ErrInvalidMessage, command)
	})
}

func (o *Orchestrator) SelectAsset(sid core.SessionID, assetID *string) error {
	err := o.update(sid, func(st *core.RoomState) (core.Outbound, error) {
		return timing(st, st.Playback.SelectAsset(assetID, st.Now))
	})
	if err != nil {
		return err
	}
	o.reply(sid, protocol.AssetSelectedMessage{Type: protocol.TypeAssetSelected, AssetID: assetID})
	return nil
}

// PlayPlaylist reads the playlist from the metadata store and starts it.
func (o *Orchestrator) PlayPlaylist(ctx context.Context, sid core.SessionID, playlistID string) error {
	room, err := o.room(sid)
	if err != nil {
		return err
	}
	if o.Playlists == nil || playlistID == "" {
		return playback.ErrNotFound
	}
	pl, err := o.Playlists.GetPlaylist(ctx, room.ID(), playlistID)
	if errors.Is(err, domain.ErrNotFound) {
		return playback.ErrNotFound
	}
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(room.ID())).Str("playlist", playlistID).Msg("load playlist")
		return err
	}
	res, err := room.Update(func(st *core.RoomState) (core.Outbound, error) {
		if err := st.Playback.PlayPlaylist(pl, st.Now); err != nil {
			return core.Outbound{}, err
		}
		return timing(st, true)
	})
	if err != nil {
		return err
	}
	o.settle(room, res)
	return nil
}

func (o *Orchestrator) StopPlaylist(sid core.SessionID) error {
	return o.update(sid, func(st *core.RoomState) (core.Outbound, error) {
		return timing(st, st.Playback.StopPlaylist(st.Now))
	})
}

func (o *Orchestrator) PlaylistSettings(sid core.SessionID, loop, shuffle *bool) error {
	return o.update(sid, func(st *core.RoomState) (core.Outbound, error) {
		changed := false
		if loop != nil {
			changed = st.Playback.SetLoop(*loop) || changed
		}
		if shuffle != nil {
			changed = st.Playback.SetShuffle(*shuffle) || changed
		}
		return queued(st, changed)
	})
}

func (o *Orchestrator) QueueAsset(sid core.SessionID, assetID *string) error {
	return o.update(sid, func(st *core.RoomState) (core.Outbound, error) {
		return queued(st, st.Playback.QueueAsset(assetID))
	})
}

func (o *Orchestrator) QueueJump(sid core.SessionID, assetID string) error {
	return o.update(sid, func(st *core.RoomState) (core.Outbound, error) {
		return timing(st, st.Playback.JumpToAsset(assetID, st.Now))
	})
}

func (o *Orchestrator) LayerVolume(sid core.SessionID, assetID string, volume float64) error {
	return o.update(sid, func(st *core.RoomState) (core.Outbound, error) {
		return queued(st, st.Playback.SetLayerVolume(assetID, volume))
	})
}

// LayerFadeTo sets the mix targets; the fade itself is animated client side.
func (o *Orchestrator) LayerFadeTo(sid core.SessionID, assetID string) error {
	return o.update(sid, func(st *core.RoomState) (core.Outbound, error) {
		return queued(st, st.Playback.FadeToLayer(assetID))
	})
}

func (o *Orchestrator) TrackEnded(sid core.SessionID, assetID string, index int) error {
	return o.update(sid, func(st *core.RoomState) (core.Outbound, error) {
		return timing(st, st.Playback.TrackEnded(assetID, index, st.Now))
	})
}

// reply sends v to sid only.
func (o *Orchestrator) reply(sid core.SessionID, v any) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}
	data, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode reply")
		return
	}
	_ = sess.Signal().TrySend(data)
}
