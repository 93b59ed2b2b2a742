package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stagehand/internal/domain"
	"github.com/dkeye/Stagehand/internal/protocol"
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFatal        Status = "fatal"
)

// Backoff is exponential: Base, doubling per attempt, capped at Max.
// After MaxAttempts failed reconnects the session gives up.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

var DefaultBackoff = Backoff{Base: 500 * time.Millisecond, Max: 10 * time.Second, MaxAttempts: 8}

// Delay is the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := b.Base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	return min(d, b.Max)
}

type SessionConfig struct {
	URL       string
	Dialer    *websocket.Dialer
	Backoff   Backoff
	OnMessage func(typ string, data []byte)
	OnStatus  func(Status)
}

// Session is a WebSocket connection to the server that survives drops.
// It remembers the identity and campaign and replays them after every
// reconnect, so the server sends a fresh campaign-joined snapshot.
type Session struct {
	cfg SessionConfig

	mu       sync.Mutex
	conn     *websocket.Conn
	status   Status
	identity *domain.Identity
	campaign domain.CampaignID

	writeMu sync.Mutex
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(string, []byte) {}
	}
	return &Session{cfg: cfg, status: StatusConnecting}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	changed := s.status != st
	s.status = st
	s.mu.Unlock()
	if changed {
		log.Info().Str("module", "player").Str("status", string(st)).Msg("connection status")
		if s.cfg.OnStatus != nil {
			s.cfg.OnStatus(st)
		}
	}
}

// Run connects and keeps the session alive until ctx is done. It returns
// ErrConnectionLost when the first dial fails or reconnects are exhausted.
func (s *Session) Run(ctx context.Context) error {
	s.setStatus(StatusConnecting)
	conn, err := s.dial(ctx)
	if err != nil {
		s.setStatus(StatusFatal)
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	for {
		s.attach(conn)
		err := s.readLoop(ctx, conn)
		s.detach(conn)
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Err(err).Str("module", "player").Msg("connection dropped")

		s.setStatus(StatusReconnecting)
		conn, err = s.reconnect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.setStatus(StatusFatal)
			return err
		}
	}
}

func (s *Session) reconnect(ctx context.Context) (*websocket.Conn, error) {
	b := s.cfg.Backoff
	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		delay := b.Delay(attempt)
		log.Debug().Str("module", "player").Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		conn, err := s.dial(ctx)
		if err == nil {
			return conn, nil
		}
		log.Debug().Err(err).Str("module", "player").Int("attempt", attempt).Msg("reconnect failed")
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts", ErrConnectionLost, b.MaxAttempts)
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, nil)
	return conn, err
}

// attach publishes conn and replays identify then join-campaign.
func (s *Session) attach(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	ident := s.identity
	cid := s.campaign
	s.mu.Unlock()

	if ident != nil {
		_ = s.write(conn, protocol.IdentifyMessage{Type: protocol.TypeIdentify, User: *ident})
	}
	if cid != "" {
		_ = s.write(conn, protocol.JoinCampaignMessage{Type: protocol.TypeJoinCampaign, CampaignID: cid})
	}
	s.setStatus(StatusConnected)
}

func (s *Session) detach(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		typ, err := protocol.Peek(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "player").Msg("bad frame from server")
			continue
		}
		s.cfg.OnMessage(typ, data)
	}
}

// Identify records the identity and sends it if connected.
func (s *Session) Identify(ident domain.Identity) error {
	if err := ident.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.identity = &ident
	s.mu.Unlock()
	return s.Send(protocol.IdentifyMessage{Type: protocol.TypeIdentify, User: ident})
}

// Join records the campaign and sends join-campaign if connected.
func (s *Session) Join(cid domain.CampaignID) error {
	if err := cid.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.campaign = cid
	s.mu.Unlock()
	return s.Send(protocol.JoinCampaignMessage{Type: protocol.TypeJoinCampaign, CampaignID: cid})
}

// Rejoin re-sends join-campaign for the remembered campaign so the server
// answers with a fresh snapshot. Without a campaign it does nothing.
func (s *Session) Rejoin() error {
	s.mu.Lock()
	cid := s.campaign
	s.mu.Unlock()
	if cid == "" {
		return nil
	}
	return s.Send(protocol.JoinCampaignMessage{Type: protocol.TypeJoinCampaign, CampaignID: cid})
}

func (s *Session) Leave() error {
	s.mu.Lock()
	s.campaign = ""
	s.mu.Unlock()
	return s.Send(protocol.BaseMessage{Type: protocol.TypeLeaveCampaign})
}

// Send writes v on the current connection. Without one it returns
// ErrConnectionLost; remembered identity and campaign are replayed anyway.
func (s *Session) Send(v any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrConnectionLost
	}
	return s.write(conn, v)
}

func (s *Session) write(conn *websocket.Conn, v any) error {
	b, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return errors.Join(ErrConnectionLost, err)
	}
	return nil
}
