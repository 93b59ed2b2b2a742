package core

import (
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stagehand/internal/domain"
	"github.com/dkeye/Stagehand/internal/miniapp"
	"github.com/dkeye/Stagehand/internal/playback"
	"github.com/dkeye/Stagehand/internal/protocol"
)

type RoomConfig struct {
	Apps *miniapp.Registry
	Now  func() time.Time
	// Rand drives shuffles, dice and decks. Nil picks a random seed.
	Rand *rand.Rand
}

// RoomState is what a room update may touch.
type RoomState struct {
	Playback *playback.Machine
	Apps     *miniapp.State
	Env      miniapp.Env
	Now      time.Time
}

// Outbound is the fan-out decided by an update. A nil Msg sends nothing.
type Outbound struct {
	Msg    any
	Except SessionID
}

// Room is the authoritative state of one campaign session.
// Every mutation and its broadcast happen under mu, so each connection
// receives updates in the order they were applied.
type Room struct {
	id     domain.CampaignID
	mu     sync.Mutex
	bySID  map[SessionID]MemberSession
	idents map[SessionID]domain.Identity
	state  RoomState
	now    func() time.Time
}

func NewRoom(id domain.CampaignID, cfg RoomConfig) *Room {
	if cfg.Apps == nil {
		cfg.Apps = miniapp.Builtins()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Room{
		id:     id,
		bySID:  make(map[SessionID]MemberSession),
		idents: make(map[SessionID]domain.Identity),
		now:    cfg.Now,
		state: RoomState{
			Playback: playback.NewMachine(rng),
			Apps:     miniapp.NewState(cfg.Apps),
			Env: miniapp.Env{
				Now:   cfg.Now,
				Rand:  rng,
				NewID: func() string { return ulid.Make().String() },
			},
		},
	}
}

func (r *Room) ID() domain.CampaignID { return r.id }

func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySID)
}

func (r *Room) Info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomInfo{CampaignID: r.id, MemberCount: len(r.bySID), UserCount: len(r.usersLocked())}
}

// Join adds a connection, sends it the full snapshot and tells the others
// about its identity if it brings a new one.
func (r *Room) Join(sid SessionID, ms MemberSession, ident *domain.Identity) PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bySID[sid] = ms
	var res PublishResult
	fresh := false
	if ident != nil {
		fresh = !r.hasUserLocked(ident.ID)
		r.idents[sid] = *ident
	}

	snap := protocol.CampaignJoinedMessage{
		Type:       protocol.TypeCampaignJoined,
		CampaignID: r.id,
		Playback:   r.state.Playback.Snapshot(),
		Users:      r.usersLocked(),
		MiniApps:   r.state.Apps.Snapshot(),
	}
	res.merge(r.sendLocked(sid, snap))
	if fresh {
		res.merge(r.broadcastLocked(sid, protocol.UserJoinedMessage{Type: protocol.TypeUserJoined, User: *ident}))
	}
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Int("members", len(r.bySID)).Msg("member joined")
	return res
}

// Identify attaches an identity to a connection already in the room.
func (r *Room) Identify(sid SessionID, ident domain.Identity) PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[sid]; !ok {
		return PublishResult{}
	}
	prev, had := r.idents[sid]
	if had && prev == ident {
		return PublishResult{}
	}
	var res PublishResult
	if had && prev.ID != ident.ID {
		delete(r.idents, sid)
		if !r.hasUserLocked(prev.ID) {
			res.merge(r.broadcastLocked(sid, protocol.UserLeftMessage{Type: protocol.TypeUserLeft, UserID: prev.ID}))
		}
	}
	r.idents[sid] = ident
	res.merge(r.broadcastLocked(sid, protocol.UserJoinedMessage{Type: protocol.TypeUserJoined, User: ident}))
	return res
}

// Leave removes a connection and reports how many remain.
func (r *Room) Leave(sid SessionID) (PublishResult, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[sid]; !ok {
		return PublishResult{}, len(r.bySID)
	}
	delete(r.bySID, sid)
	var res PublishResult
	if ident, ok := r.idents[sid]; ok {
		delete(r.idents, sid)
		if !r.hasUserLocked(ident.ID) {
			res = r.broadcastLocked("", protocol.UserLeftMessage{Type: protocol.TypeUserLeft, UserID: ident.ID})
		}
	}
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Int("members", len(r.bySID)).Msg("member left")
	return res, len(r.bySID)
}

// Update runs fn under the room lock and fans out whatever it returns.
// Errors from fn are returned without any broadcast.
func (r *Room) Update(fn func(st *RoomState) (Outbound, error)) (PublishResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Now = r.now()
	out, err := fn(&r.state)
	if err != nil || out.Msg == nil {
		return PublishResult{}, err
	}
	return r.broadcastLocked(out.Except, out.Msg), nil
}

// Broadcast sends v to every member except from.
func (r *Room) Broadcast(from SessionID, v any) PublishResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcastLocked(from, v)
}

func (r *Room) Users() []domain.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usersLocked()
}

func (r *Room) Playback() domain.PlaybackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Playback.Snapshot()
}

func (r *Room) usersLocked() []domain.Identity {
	seen := make(map[domain.UserID]struct{}, len(r.idents))
	out := make([]domain.Identity, 0, len(r.idents))
	for _, u := range r.idents {
		if _, ok := seen[u.ID]; ok {
			continue
		}
		seen[u.ID] = struct{}{}
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b domain.Identity) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}

func (r *Room) hasUserLocked(id domain.UserID) bool {
	for _, u := range r.idents {
		if u.ID == id {
			return true
		}
	}
	return false
}

func (r *Room) sendLocked(sid SessionID, v any) PublishResult {
	data, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Msg("encode")
		return PublishResult{}
	}
	ms, ok := r.bySID[sid]
	if !ok {
		return PublishResult{}
	}
	if err := ms.Signal().TrySend(data); err != nil {
		return PublishResult{Dropped: []SessionID{sid}}
	}
	return PublishResult{SendTo: 1}
}

func (r *Room) broadcastLocked(from SessionID, v any) PublishResult {
	res := PublishResult{}
	data, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Msg("encode")
		return res
	}
	for sid, m := range r.bySID {
		if sid == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.id)).Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
