package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dkeye/Stagehand/internal/app"
	"github.com/dkeye/Stagehand/internal/app/orch"
	"github.com/dkeye/Stagehand/internal/config"
	"github.com/dkeye/Stagehand/internal/core"
	"github.com/dkeye/Stagehand/internal/domain"
	"github.com/dkeye/Stagehand/internal/miniapp"
	"github.com/dkeye/Stagehand/internal/player"
	"github.com/dkeye/Stagehand/internal/protocol"
	"github.com/dkeye/Stagehand/internal/store"
)

type frame struct {
	typ  string
	data []byte
}

func newTestServer(t *testing.T) *httptest.Server {
	return startServer(t, false)
}

// startServer runs the full router over a JSON store in a temp dir. With
// watch set the store tree is watched and REST writes share its debounce.
func startServer(t *testing.T, watch bool) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		Mode:         "test",
		Secret:       "test-secret",
		ReadLimit:    32768,
		PingPeriod:   time.Second,
		PongWait:     5 * time.Second,
		WriteWait:    time.Second,
		SendBuffer:   64,
		Backpressure: "kick",
		RateLimit:    config.RateLimitConfig{Actions: 100, Interval: time.Second},
		Store:        config.StoreConfig{Driver: "json", Watch: watch},
	}
	o := &orch.Orchestrator{
		Registry:  app.NewRegistry(),
		Rooms:     app.NewRoomManager(core.RoomConfig{Apps: miniapp.Builtins()}),
		Policy:    app.PolicyByName(cfg.Backpressure),
		Playlists: st,
	}
	ctx, cancel := context.WithCancel(context.Background())

	var notify store.ChangeFunc
	if watch {
		w := store.NewWatcher(st.Root(), o.NotifyMetadata)
		notify = w.Notify
		go func() { _ = w.Run(ctx) }()
	}
	srv := httptest.NewServer(SetupRouter(ctx, cfg, o, st, notify))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
}

func put(t *testing.T, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp
}

func expect(t *testing.T, ch <-chan frame, typ string) []byte {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case f := <-ch:
			if f.typ == typ {
				return f.data
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func readUntil(t *testing.T, c *websocket.Conn, typ string) []byte {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if got, _ := protocol.Peek(data); got == typ {
			return data
		}
	}
}

func send(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	b, err := protocol.Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatal(err)
	}
}

func playbackOf(t *testing.T, data []byte) domain.PlaybackState {
	t.Helper()
	var m struct {
		Playback domain.PlaybackState `json:"playback"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	return m.Playback
}

// connTracker remembers the client's raw TCP connections so the test can
// cut them.
type connTracker struct {
	mu    sync.Mutex
	conns []net.Conn
}

func (ct *connTracker) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, network, addr)
	if err == nil {
		ct.mu.Lock()
		ct.conns = append(ct.conns, c)
		ct.mu.Unlock()
	}
	return c, err
}

func (ct *connTracker) cut() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	for _, c := range ct.conns {
		_ = c.Close()
	}
}

func TestCampaignSyncEndToEnd(t *testing.T) {
	srv := newTestServer(t)

	resp := put(t, srv.URL+"/api/campaigns/c1/playlists/p1", `{"name":"Battle","kind":"sequential","tracks":["t1","t2","t3"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT playlist: %s", resp.Status)
	}

	// A: reconnecting session.
	aFrames := make(chan frame, 256)
	tracker := &connTracker{}
	sess := player.NewSession(player.SessionConfig{
		URL:     wsURL(srv),
		Dialer:  &websocket.Dialer{NetDialContext: tracker.dial},
		Backoff: player.Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond, MaxAttempts: 5},
		OnMessage: func(typ string, data []byte) {
			aFrames <- frame{typ, data}
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sess.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for sess.Status() != player.StatusConnected {
		if time.Now().After(deadline) {
			t.Fatal("A never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := sess.Identify(domain.Identity{ID: "u1", Name: "Ada"}); err != nil {
		t.Fatal(err)
	}
	if err := sess.Join("c1"); err != nil {
		t.Fatal(err)
	}
	expect(t, aFrames, protocol.TypeCampaignJoined)

	// B: plain WebSocket client.
	b, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	send(t, b, protocol.IdentifyMessage{Type: protocol.TypeIdentify, User: domain.Identity{ID: "u2", Name: "Bo"}})
	send(t, b, protocol.JoinCampaignMessage{Type: protocol.TypeJoinCampaign, CampaignID: "c1"})

	var snap protocol.CampaignJoinedMessage
	if err := json.Unmarshal(readUntil(t, b, protocol.TypeCampaignJoined), &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Users) != 2 {
		t.Fatalf("B snapshot users = %+v", snap.Users)
	}
	var joined protocol.UserJoinedMessage
	if err := json.Unmarshal(expect(t, aFrames, protocol.TypeUserJoined), &joined); err != nil {
		t.Fatal(err)
	}
	if joined.User.ID != "u2" {
		t.Fatalf("A saw user-joined %+v", joined)
	}

	// A starts the playlist; both sides see the same state.
	if err := sess.Send(protocol.PlaylistPlayMessage{Type: protocol.TypePlaylistPlay, PlaylistID: "p1"}); err != nil {
		t.Fatal(err)
	}
	pa := playbackOf(t, expect(t, aFrames, protocol.TypePlaybackState))
	pb := playbackOf(t, readUntil(t, b, protocol.TypePlaybackState))
	for name, p := range map[string]domain.PlaybackState{"A": pa, "B": pb} {
		if domain.StrVal(p.AssetID) != "t1" || !p.Playing || p.PlaylistIndex != 0 || p.PlaylistLength != 3 {
			t.Fatalf("%s playback = %+v", name, p)
		}
	}

	// Unknown playlist errors go to the sender only.
	send(t, b, protocol.PlaylistPlayMessage{Type: protocol.TypePlaylistPlay, PlaylistID: "nope"})
	var em protocol.ErrorMessage
	if err := json.Unmarshal(readUntil(t, b, protocol.TypeError), &em); err != nil {
		t.Fatal(err)
	}
	if em.Message != "Playlist not found or empty" {
		t.Fatalf("error = %q", em.Message)
	}

	// Metadata writes reach the room as hints.
	put(t, srv.URL+"/api/campaigns/c1/playlists/p2", `{"name":"Calm","tracks":["t9"]}`)
	readUntil(t, b, protocol.TypePlaylistsUpdated)

	// A drops and comes back on its own with a fresh snapshot.
	tracker.cut()
	rejoin := expect(t, aFrames, protocol.TypeCampaignJoined)
	if err := json.Unmarshal(rejoin, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.CampaignID != "c1" {
		t.Fatalf("rejoined %q", snap.CampaignID)
	}
	p := snap.Playback
	if domain.StrVal(p.AssetID) != "t1" || !p.Playing || p.Timestamp != pa.Timestamp || p.Position != pa.Position {
		t.Fatalf("fresh snapshot %+v does not match room state %+v", p, pa)
	}
}

func TestMetadataREST(t *testing.T) {
	srv := newTestServer(t)

	if resp := put(t, srv.URL+"/api/campaigns/c1/assets/a1", `{"name":"Rain","kind":"audio","url":"/media/rain.ogg"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT asset: %s", resp.Status)
	}
	if resp := put(t, srv.URL+"/api/campaigns/c1/assets/a2", `{"name":"Bad","kind":"pdf"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid asset: %s", resp.Status)
	}

	resp, err := http.Get(srv.URL + "/api/campaigns/c1/assets")
	if err != nil {
		t.Fatal(err)
	}
	var list struct {
		Assets []domain.Asset `json:"assets"`
	}
	err = json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if err != nil || len(list.Assets) != 1 || list.Assets[0].CampaignID != "c1" {
		t.Fatalf("list = %+v, %v", list, err)
	}

	resp, err = http.Get(srv.URL + "/api/campaigns/c1/playlists/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing playlist: %s", resp.Status)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/campaigns/c1/assets/a1", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %s", resp.Status)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %s", resp.Status)
	}
}

func TestPingPong(t *testing.T) {
	srv := newTestServer(t)
	c, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	send(t, c, protocol.BaseMessage{Type: protocol.TypePing})
	readUntil(t, c, protocol.TypePong)

	if err := c.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatal(err)
	}
	var em protocol.ErrorMessage
	if err := json.Unmarshal(readUntil(t, c, protocol.TypeError), &em); err != nil {
		t.Fatal(err)
	}
	if em.Message != "bad_payload" {
		t.Fatalf("error = %q", em.Message)
	}

	send(t, c, protocol.BaseMessage{Type: protocol.TypeReloadPlayers})
	if err := json.Unmarshal(readUntil(t, c, protocol.TypeError), &em); err != nil {
		t.Fatal(err)
	}
	if em.Message != "not in a campaign" {
		t.Fatalf("error = %q", em.Message)
	}
}

// collect reads frames from c for d and returns those of type typ.
func collect(t *testing.T, c *websocket.Conn, typ string, d time.Duration) [][]byte {
	t.Helper()
	var out [][]byte
	_ = c.SetReadDeadline(time.Now().Add(d))
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return out
		}
		if got, _ := protocol.Peek(data); got == typ {
			out = append(out, data)
		}
	}
}

func TestTrackEndsAdvancePlaylistOnce(t *testing.T) {
	srv := newTestServer(t)
	put(t, srv.URL+"/api/campaigns/c1/playlists/p1", `{"name":"Tavern","tracks":["t1","t2","t3"]}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A: a real client whose tracks last 200ms.
	cache, err := player.NewLRUCache(8)
	if err != nil {
		t.Fatal(err)
	}
	var sess *player.Session
	engine := player.NewEngine(ctx, player.EngineConfig{
		Cache: cache,
		Fetch: func(_ context.Context, id string) ([]byte, error) { return []byte(id), nil },
		NewElement: func(id string) player.MediaElement {
			el := player.NewSimElement(id, time.Now)
			el.SetDuration(0.2)
			return el
		},
		OnTrackEnded: func(id string, index int) {
			_ = sess.Send(protocol.TrackEndedMessage{Type: protocol.TypeTrackEnded, AssetID: id, Index: index})
		},
	})
	defer engine.Reset()
	p := player.New(engine)
	sess = player.NewSession(player.SessionConfig{URL: wsURL(srv), OnMessage: p.HandleMessage})
	go func() { _ = sess.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for sess.Status() != player.StatusConnected {
		if time.Now().After(deadline) {
			t.Fatal("A never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := sess.Join("c1"); err != nil {
		t.Fatal(err)
	}

	// B: plain client that also reports the first track's end.
	b, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	send(t, b, protocol.JoinCampaignMessage{Type: protocol.TypeJoinCampaign, CampaignID: "c1"})
	readUntil(t, b, protocol.TypeCampaignJoined)
	for p.Campaign() != "c1" {
		if time.Now().After(deadline) {
			t.Fatal("A never joined")
		}
		time.Sleep(5 * time.Millisecond)
	}

	send(t, b, protocol.PlaylistPlayMessage{Type: protocol.TypePlaylistPlay, PlaylistID: "p1"})
	var got []string
	for len(got) < 8 {
		pb := playbackOf(t, readUntil(t, b, protocol.TypePlaybackState))
		got = append(got, fmt.Sprintf("%s@%d/%v", domain.StrVal(pb.AssetID), pb.PlaylistIndex, pb.Playing))
		if len(got) == 1 {
			send(t, b, protocol.TrackEndedMessage{Type: protocol.TypeTrackEnded, AssetID: "t1", Index: 0})
		}
		if !pb.Playing {
			break
		}
	}
	want := []string{"t1@0/true", "t2@1/true", "t3@2/true", "t3@2/false"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("playback sequence = %v, want %v", got, want)
	}
	if extra := collect(t, b, protocol.TypePlaybackState, 400*time.Millisecond); len(extra) != 0 {
		t.Fatalf("%d playback-state frames after the playlist ended", len(extra))
	}
}

func TestWatchedStoreSendsOneHintPerWrite(t *testing.T) {
	srv := startServer(t, true)

	// Creates the campaign directories so the watcher sees later writes.
	put(t, srv.URL+"/api/campaigns/c1/playlists/p0", `{"name":"Intro","tracks":["t0"]}`)
	time.Sleep(400 * time.Millisecond)

	c, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	send(t, c, protocol.JoinCampaignMessage{Type: protocol.TypeJoinCampaign, CampaignID: "c1"})
	readUntil(t, c, protocol.TypeCampaignJoined)

	put(t, srv.URL+"/api/campaigns/c1/playlists/p1", `{"name":"Battle","tracks":["t1"]}`)
	if hints := collect(t, c, protocol.TypePlaylistsUpdated, 800*time.Millisecond); len(hints) != 1 {
		t.Fatalf("got %d playlists-updated hints, want 1", len(hints))
	}
}
