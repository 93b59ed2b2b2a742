package player

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stagehand/internal/domain"
	"github.com/dkeye/Stagehand/internal/protocol"
)

// Player routes server messages into the engine and keeps the small bits of
// room state a passive client shows: roster, mini-apps and the last error.
type Player struct {
	Engine *Engine
	// OnMetadata is called with "assets" or "playlists" on invalidation hints.
	OnMetadata func(kind string)
	// OnReload runs after a reload directive has dropped local media and
	// cache. It should ask the server for a fresh snapshot.
	OnReload func()

	mu        sync.Mutex
	campaign  domain.CampaignID
	users     map[domain.UserID]domain.Identity
	enabled   []string
	apps      map[string]json.RawMessage
	lastError string
}

func New(engine *Engine) *Player {
	return &Player{
		Engine: engine,
		users:  make(map[domain.UserID]domain.Identity),
		apps:   make(map[string]json.RawMessage),
	}
}

type miniAppsWire struct {
	Enabled []string                   `json:"enabled"`
	States  map[string]json.RawMessage `json:"states"`
}

func (p *Player) HandleMessage(typ string, data []byte) {
	var err error
	switch typ {
	case protocol.TypeCampaignJoined:
		err = p.onJoined(data)
	case protocol.TypePlaybackState, protocol.TypeQueueUpdated:
		var m protocol.PlaybackMessage
		if m, err = protocol.Decode[protocol.PlaybackMessage](data); err == nil {
			p.Engine.Apply(m.Playback)
		}
	case protocol.TypeUserJoined:
		var m protocol.UserJoinedMessage
		if m, err = protocol.Decode[protocol.UserJoinedMessage](data); err == nil {
			p.mu.Lock()
			p.users[m.User.ID] = m.User
			p.mu.Unlock()
		}
	case protocol.TypeUserLeft:
		var m protocol.UserLeftMessage
		if m, err = protocol.Decode[protocol.UserLeftMessage](data); err == nil {
			p.mu.Lock()
			delete(p.users, m.UserID)
			p.mu.Unlock()
		}
	case protocol.TypeMiniAppState:
		var m struct {
			MiniApps miniAppsWire `json:"miniApps"`
		}
		if err = json.Unmarshal(data, &m); err == nil {
			p.setApps(m.MiniApps)
		}
	case protocol.TypeMiniAppUpdated:
		var m struct {
			AppID string          `json:"appId"`
			State json.RawMessage `json:"state"`
		}
		if err = json.Unmarshal(data, &m); err == nil {
			p.mu.Lock()
			p.apps[m.AppID] = m.State
			p.mu.Unlock()
		}
	case protocol.TypeAssetsUpdated, protocol.TypePlaylistsUpdated:
		if p.OnMetadata != nil {
			kind := protocol.KindOf(typ)
			p.OnMetadata(kind)
		}
	case protocol.TypeReload:
		log.Info().Str("module", "player").Msg("reload requested")
		p.Engine.Reload()
		if p.OnReload != nil {
			p.OnReload()
		}
	case protocol.TypeError:
		var m protocol.ErrorMessage
		if m, err = protocol.Decode[protocol.ErrorMessage](data); err == nil {
			log.Warn().Str("module", "player").Str("message", m.Message).Msg("server error")
			p.mu.Lock()
			p.lastError = m.Message
			p.mu.Unlock()
		}
	case protocol.TypeAssetSelected, protocol.TypePong:
	default:
		log.Debug().Str("module", "player").Str("type", typ).Msg("unhandled message")
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "player").Str("type", typ).Msg("bad message from server")
	}
}

func (p *Player) onJoined(data []byte) error {
	var m struct {
		CampaignID domain.CampaignID    `json:"campaignId"`
		Playback   domain.PlaybackState `json:"playback"`
		Users      []domain.Identity    `json:"users"`
		MiniApps   miniAppsWire         `json:"miniApps"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	p.mu.Lock()
	p.campaign = m.CampaignID
	clear(p.users)
	for _, u := range m.Users {
		p.users[u.ID] = u
	}
	p.lastError = ""
	p.mu.Unlock()
	p.setApps(m.MiniApps)
	p.Engine.Resync(m.Playback)
	return nil
}

func (p *Player) setApps(w miniAppsWire) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = append([]string(nil), w.Enabled...)
	clear(p.apps)
	for id, st := range w.States {
		p.apps[id] = st
	}
}

func (p *Player) Campaign() domain.CampaignID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.campaign
}

// Users returns the roster sorted by id.
func (p *Player) Users() []domain.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Identity, 0, len(p.users))
	for _, u := range p.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AppState returns the raw state of an enabled mini-app.
func (p *Player) AppState(id string) (json.RawMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.apps[id]
	return st, ok
}

func (p *Player) LastError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastError
}
