package app

import (
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stagehand/internal/core"
	"github.com/dkeye/Stagehand/internal/domain"
)

// RoomManagerImpl owns every live room. Its lock only guards the map and the
// join/leave lifecycle; commands lock the single room they touch.
type RoomManagerImpl struct {
	mu    sync.Mutex
	rooms map[domain.CampaignID]*core.Room
	cfg   core.RoomConfig
}

func NewRoomManager(cfg core.RoomConfig) *RoomManagerImpl {
	return &RoomManagerImpl{
		rooms: make(map[domain.CampaignID]*core.Room),
		cfg:   cfg,
	}
}

var _ core.RoomManager = (*RoomManagerImpl)(nil)

func (f *RoomManagerImpl) Join(id domain.CampaignID, sid core.SessionID, ms core.MemberSession, ident *domain.Identity) (*core.Room, core.PublishResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		room = core.NewRoom(id, f.cfg)
		f.rooms[id] = room
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	}
	return room, room.Join(sid, ms, ident)
}

func (f *RoomManagerImpl) Leave(id domain.CampaignID, sid core.SessionID) core.PublishResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return core.PublishResult{}
	}
	res, remaining := room.Leave(sid)
	if remaining == 0 {
		delete(f.rooms, id)
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room destroyed")
	}
	return res
}

func (f *RoomManagerImpl) Get(id domain.CampaignID) (*core.Room, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	return room, ok
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.Lock()
	rooms := make([]*core.Room, 0, len(f.rooms))
	for _, r := range f.rooms {
		rooms = append(rooms, r)
	}
	f.mu.Unlock()

	out := make([]core.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Info())
	}
	slices.SortFunc(out, func(a, b core.RoomInfo) int {
		return strings.Compare(string(a.CampaignID), string(b.CampaignID))
	})
	return out
}
