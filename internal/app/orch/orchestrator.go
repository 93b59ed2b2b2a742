// Package orch turns inbound commands into room transitions and decides
// which broadcast each transition produces.
package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stagehand/internal/app"
	"github.com/dkeye/Stagehand/internal/core"
	"github.com/dkeye/Stagehand/internal/domain"
)

// PlaylistSource is the metadata collaborator consulted by playlist-play.
type PlaylistSource interface {
	GetPlaylist(ctx context.Context, cid domain.CampaignID, pid string) (*domain.Playlist, error)
}

type Orchestrator struct {
	Registry  *app.Registry
	Rooms     core.RoomManager
	Policy    app.Policy
	Playlists PlaylistSource
}

// room resolves the room a connection has joined.
func (o *Orchestrator) room(sid core.SessionID) (*core.Room, error) {
	cid, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return nil, core.ErrNotInRoom
	}
	room, ok := o.Rooms.Get(cid)
	if !ok {
		return nil, core.ErrNotInRoom
	}
	return room, nil
}

// update applies fn to the sender's room and settles backpressure.
func (o *Orchestrator) update(sid core.SessionID, fn func(st *core.RoomState) (core.Outbound, error)) error {
	room, err := o.room(sid)
	if err != nil {
		return err
	}
	res, err := room.Update(fn)
	if err != nil {
		return err
	}
	o.settle(room, res)
	return nil
}

func (o *Orchestrator) settle(room *core.Room, res core.PublishResult) {
	if o.Policy == nil || room == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("sid", string(slow)).Str("room", string(room.ID())).Msg("kicking slow connection")
			o.KickBySID(slow)
		case app.NoAction:
		}
	}
}
