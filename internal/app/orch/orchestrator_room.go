package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stagehand/internal/core"
	"github.com/dkeye/Stagehand/internal/domain"
	"github.com/dkeye/Stagehand/internal/protocol"
)

// Identify records who is behind a connection. If it already sits in a
// room the roster change goes out to the others.
func (o *Orchestrator) Identify(sid core.SessionID, ident domain.Identity) error {
	if err := ident.Validate(); err != nil {
		return err
	}
	if !o.Registry.SetIdentity(sid, ident) {
		return core.ErrUnknownSession
	}
	room, err := o.room(sid)
	if err != nil {
		return nil
	}
	o.settle(room, room.Identify(sid, ident))
	return nil
}

func (o *Orchestrator) Join(sid core.SessionID, cid domain.CampaignID) error {
	if err := cid.Validate(); err != nil {
		return err
	}
	if from, _, ok := o.Registry.RoomOf(sid); ok && from != cid {
		o.cleanupMembership(sid)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(from)).Msg("left previous room")
	}
	session, ok := o.Registry.GetSession(sid)
	if !ok {
		return core.ErrUnknownSession
	}
	ident, _ := o.Registry.IdentityOf(sid)
	o.Registry.UpdateRoom(sid, cid)
	room, res := o.Rooms.Join(cid, sid, session, ident)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(cid)).Msg("added to room")
	o.settle(room, res)
	return nil
}

func (o *Orchestrator) Leave(sid core.SessionID) {
	o.cleanupMembership(sid)
}

func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.cleanupMembership(sid)
	o.Registry.Cancel(sid)
}

func (o *Orchestrator) cleanupMembership(sid core.SessionID) {
	cid, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	o.Registry.RemoveRoom(sid)
	res := o.Rooms.Leave(cid, sid)
	room, _ := o.Rooms.Get(cid)
	o.settle(room, res)
}

func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	o.cleanupMembership(sid)
	o.Registry.Unbind(sid)
}

// ReloadPlayers tells every other connection in the room to hard-reload.
func (o *Orchestrator) ReloadPlayers(sid core.SessionID) error {
	room, err := o.room(sid)
	if err != nil {
		return err
	}
	o.settle(room, room.Broadcast(sid, protocol.BaseMessage{Type: protocol.TypeReload}))
	return nil
}

// NotifyMetadata pushes a cache-invalidation hint to the campaign's room,
// if one is live. kind is "assets" or "playlists".
func (o *Orchestrator) NotifyMetadata(cid domain.CampaignID, kind string) {
	room, ok := o.Rooms.Get(cid)
	if !ok {
		return
	}
	o.settle(room, room.Broadcast("", protocol.NewMetadataUpdated(kind, cid)))
}
