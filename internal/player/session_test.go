package player

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/Stagehand/internal/domain"
	"github.com/dkeye/Stagehand/internal/protocol"
)

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{5, 8 * time.Second},
		{6, 10 * time.Second},
		{20, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := b.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

// echoServer records the types received per connection and drops the first
// connection once it has seen join-campaign.
type echoServer struct {
	mu    sync.Mutex
	conns [][]string
	live  []*websocket.Conn
	drop  bool
}

func (s *echoServer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.live {
		_ = c.Close()
	}
}

func (s *echoServer) handler(t *testing.T) http.Handler {
	up := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()
		s.mu.Lock()
		idx := len(s.conns)
		s.conns = append(s.conns, nil)
		s.live = append(s.live, c)
		s.mu.Unlock()
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			typ, _ := protocol.Peek(data)
			s.mu.Lock()
			s.conns[idx] = append(s.conns[idx], typ)
			drop := s.drop && idx == 0 && typ == protocol.TypeJoinCampaign
			s.mu.Unlock()
			if typ == protocol.TypeJoinCampaign {
				b, _ := protocol.Encode(protocol.CampaignJoinedMessage{Type: protocol.TypeCampaignJoined, CampaignID: "c1"})
				_ = c.WriteMessage(websocket.TextMessage, b)
			}
			if drop {
				return
			}
		}
	})
}

func (s *echoServer) received(i int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.conns) {
		return nil
	}
	return append([]string(nil), s.conns[i]...)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionReplaysIdentityAfterReconnect(t *testing.T) {
	es := &echoServer{drop: true}
	srv := httptest.NewServer(es.handler(t))
	defer srv.Close()

	var joined sync.WaitGroup
	joined.Add(2)
	var statusMu sync.Mutex
	var statuses []Status
	s := NewSession(SessionConfig{
		URL:     wsURL(srv),
		Backoff: Backoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond, MaxAttempts: 5},
		OnMessage: func(typ string, _ []byte) {
			if typ == protocol.TypeCampaignJoined {
				joined.Done()
			}
		},
		OnStatus: func(st Status) {
			statusMu.Lock()
			statuses = append(statuses, st)
			statusMu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, "connected", func() bool { return s.Status() == StatusConnected })
	ident, _ := domain.NewIdentity("u1", "Ada", "")
	if err := s.Identify(*ident); err != nil {
		t.Fatal(err)
	}
	if err := s.Join("c1"); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "second snapshot", func() bool {
		got := es.received(1)
		return len(got) == 2
	})
	joined.Wait()

	if got := es.received(1); got[0] != protocol.TypeIdentify || got[1] != protocol.TypeJoinCampaign {
		t.Fatalf("replay order = %v, want identify then join-campaign", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run after cancel: %v", err)
	}

	statusMu.Lock()
	defer statusMu.Unlock()
	want := []Status{StatusConnected, StatusReconnecting, StatusConnected}
	if len(statuses) < 3 {
		t.Fatalf("statuses = %v", statuses)
	}
	for i, st := range want {
		if statuses[i] != st {
			t.Fatalf("statuses = %v, want prefix %v", statuses, want)
		}
	}
}

func TestSessionGoesFatalAfterMaxAttempts(t *testing.T) {
	es := &echoServer{}
	srv := httptest.NewServer(es.handler(t))

	s := NewSession(SessionConfig{
		URL:     wsURL(srv),
		Backoff: Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 3},
	})
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	waitFor(t, "connected", func() bool { return s.Status() == StatusConnected })
	srv.Close()
	es.closeAll()

	select {
	case err := <-done:
		if !errors.Is(err, ErrConnectionLost) {
			t.Fatalf("err = %v, want ErrConnectionLost", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("session kept retrying")
	}
	if s.Status() != StatusFatal {
		t.Fatalf("status = %s", s.Status())
	}
}

func TestSessionFirstDialFailureIsFatal(t *testing.T) {
	s := NewSession(SessionConfig{URL: "ws://127.0.0.1:1/api/ws"})
	err := s.Run(context.Background())
	if !errors.Is(err, ErrConnectionLost) || s.Status() != StatusFatal {
		t.Fatalf("err = %v status = %s", err, s.Status())
	}
}

func TestSessionSendWithoutConnection(t *testing.T) {
	s := NewSession(SessionConfig{URL: "ws://unused"})
	if err := s.Join("c1"); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("err = %v", err)
	}
}

func TestSessionRejoinAsksForSnapshot(t *testing.T) {
	es := &echoServer{}
	srv := httptest.NewServer(es.handler(t))
	defer srv.Close()

	s := NewSession(SessionConfig{URL: wsURL(srv), OnMessage: func(string, []byte) {}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()
	waitFor(t, "connected", func() bool { return s.Status() == StatusConnected })

	if err := s.Rejoin(); err != nil {
		t.Fatalf("rejoin without campaign: %v", err)
	}
	if err := s.Join("c1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Rejoin(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "two joins", func() bool { return len(es.received(0)) == 2 })
	for _, typ := range es.received(0) {
		if typ != protocol.TypeJoinCampaign {
			t.Fatalf("received %v", es.received(0))
		}
	}
}
