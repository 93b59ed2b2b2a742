package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Stagehand/internal/app"
	"github.com/dkeye/Stagehand/internal/core"
	"github.com/dkeye/Stagehand/internal/domain"
	"github.com/dkeye/Stagehand/internal/miniapp"
	"github.com/dkeye/Stagehand/internal/playback"
	"github.com/dkeye/Stagehand/internal/protocol"
)

type conn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
}

func (c *conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *conn) Close() {}

func (c *conn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		typ, _ := protocol.Peek(f)
		out = append(out, typ)
	}
	return out
}

// lastOf decodes the most recent frame of type typ into v.
func (c *conn) lastOf(t *testing.T, typ string, v any) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		if got, _ := protocol.Peek(c.frames[i]); got == typ {
			if err := json.Unmarshal(c.frames[i], v); err != nil {
				t.Fatal(err)
			}
			return
		}
	}
	t.Fatalf("no %s frame among %v", typ, c.typesLocked())
}

func (c *conn) typesLocked() []string {
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		typ, _ := protocol.Peek(f)
		out = append(out, typ)
	}
	return out
}

func (c *conn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type playlists map[string]*domain.Playlist

func (p playlists) GetPlaylist(_ context.Context, cid domain.CampaignID, id string) (*domain.Playlist, error) {
	pl, ok := p[string(cid)+"/"+id]
	if !ok {
		return nil, fmt.Errorf("playlist %s: %w", id, domain.ErrNotFound)
	}
	return pl, nil
}

type harness struct {
	o        *Orchestrator
	canceled map[core.SessionID]bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := time.UnixMilli(1_700_000_000_000)
	h := &harness{canceled: make(map[core.SessionID]bool)}
	h.o = &Orchestrator{
		Registry: app.NewRegistry(),
		Rooms: app.NewRoomManager(core.RoomConfig{
			Now:  func() time.Time { return clock },
			Rand: rand.New(rand.NewPCG(7, 11)),
		}),
		Policy: app.SimplePolicy{},
		Playlists: playlists{
			"c1/p1":    {ID: "p1", CampaignID: "c1", Kind: domain.PlaylistSequential, Tracks: []string{"t1", "t2", "t3"}},
			"c1/empty": {ID: "empty", CampaignID: "c1", Kind: domain.PlaylistSequential},
		},
	}
	return h
}

func (h *harness) connect(sid core.SessionID) *conn {
	c := &conn{}
	h.o.Registry.BindSignal(sid, core.NewMemberSession(domain.NewMember(), c), func() { h.canceled[sid] = true })
	return c
}

func (h *harness) joined(t *testing.T, sid core.SessionID, cid domain.CampaignID) *conn {
	t.Helper()
	c := h.connect(sid)
	if err := h.o.Join(sid, cid); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCommandsRequireRoom(t *testing.T) {
	h := newHarness(t)
	c := h.connect("a")
	at := 3.0
	errs := []error{
		h.o.PlaybackCommand("a", protocol.CommandSeek, &at),
		h.o.SelectAsset("a", domain.StrPtr("x")),
		h.o.PlayPlaylist(context.Background(), "a", "p1"),
		h.o.QueueAsset("a", domain.StrPtr("x")),
		h.o.EnableApp("a", miniapp.DiceBankID),
		h.o.ReloadPlayers("a"),
	}
	for i, err := range errs {
		if !errors.Is(err, core.ErrNotInRoom) {
			t.Errorf("command %d: err = %v, want ErrNotInRoom", i, err)
		}
	}
	if len(c.types()) != 0 {
		t.Fatalf("failures must not send frames, got %v", c.types())
	}
}

func TestJoinAndPlayPlaylist(t *testing.T) {
	h := newHarness(t)
	a := h.joined(t, "a", "c1")

	b := h.connect("b")
	if err := h.o.Identify("b", domain.Identity{ID: "u2", Name: "Bo"}); err != nil {
		t.Fatal(err)
	}
	if err := h.o.Join("b", "c1"); err != nil {
		t.Fatal(err)
	}

	var joined protocol.UserJoinedMessage
	a.lastOf(t, protocol.TypeUserJoined, &joined)
	if joined.User.ID != "u2" {
		t.Fatalf("user-joined = %+v", joined)
	}
	var snap protocol.CampaignJoinedMessage
	b.lastOf(t, protocol.TypeCampaignJoined, &snap)
	if snap.CampaignID != "c1" || len(snap.Users) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	if err := h.o.PlayPlaylist(context.Background(), "a", "p1"); err != nil {
		t.Fatal(err)
	}
	for name, c := range map[string]*conn{"a": a, "b": b} {
		var msg protocol.PlaybackMessage
		c.lastOf(t, protocol.TypePlaybackState, &msg)
		p := msg.Playback
		if domain.StrVal(p.AssetID) != "t1" || !p.Playing || p.PlaylistIndex != 0 || p.PlaylistLength != 3 {
			t.Fatalf("%s got %+v", name, p)
		}
	}
}

func TestPlayPlaylistNotFound(t *testing.T) {
	h := newHarness(t)
	a := h.joined(t, "a", "c1")
	a.reset()

	for _, id := range []string{"nope", "empty"} {
		if err := h.o.PlayPlaylist(context.Background(), "a", id); !errors.Is(err, playback.ErrNotFound) {
			t.Fatalf("%s: err = %v", id, err)
		}
	}
	if len(a.types()) != 0 {
		t.Fatalf("not-found must not broadcast, got %v", a.types())
	}
}

func TestBroadcastClasses(t *testing.T) {
	h := newHarness(t)
	a := h.joined(t, "a", "c1")
	b := h.joined(t, "b", "c1")
	if err := h.o.PlayPlaylist(context.Background(), "a", "p1"); err != nil {
		t.Fatal(err)
	}
	a.reset()
	b.reset()

	if err := h.o.QueueAsset("a", domain.StrPtr("t3")); err != nil {
		t.Fatal(err)
	}
	loop := true
	if err := h.o.PlaylistSettings("a", &loop, nil); err != nil {
		t.Fatal(err)
	}
	if got := b.types(); len(got) != 2 || got[0] != protocol.TypeQueueUpdated || got[1] != protocol.TypeQueueUpdated {
		t.Fatalf("queue edits should be queue-updated, got %v", got)
	}

	if err := h.o.PlaybackCommand("a", protocol.CommandNext, nil); err != nil {
		t.Fatal(err)
	}
	var msg protocol.PlaybackMessage
	b.lastOf(t, protocol.TypePlaybackState, &msg)
	if domain.StrVal(msg.Playback.AssetID) != "t3" || msg.Playback.QueuedNext != nil {
		t.Fatalf("queued asset should preempt next: %+v", msg.Playback)
	}

	// Repeating a setting that changes nothing stays quiet.
	b.reset()
	if err := h.o.PlaylistSettings("a", &loop, nil); err != nil {
		t.Fatal(err)
	}
	if len(b.types()) != 0 {
		t.Fatalf("no-op must not broadcast, got %v", b.types())
	}
}

func TestSelectAssetAcksSender(t *testing.T) {
	h := newHarness(t)
	a := h.joined(t, "a", "c1")
	b := h.joined(t, "b", "c1")
	a.reset()
	b.reset()

	if err := h.o.SelectAsset("a", domain.StrPtr("map")); err != nil {
		t.Fatal(err)
	}
	if got := a.types(); len(got) != 2 || got[0] != protocol.TypePlaybackState || got[1] != protocol.TypeAssetSelected {
		t.Fatalf("sender saw %v", got)
	}
	if got := b.types(); len(got) != 1 || got[0] != protocol.TypePlaybackState {
		t.Fatalf("other saw %v", got)
	}
}

func TestInvalidPlaybackCommands(t *testing.T) {
	h := newHarness(t)
	h.joined(t, "a", "c1")
	if err := h.o.PlaybackCommand("a", protocol.CommandSeek, nil); !errors.Is(err, protocol.ErrInvalidMessage) {
		t.Fatalf("seek without time: %v", err)
	}
	if err := h.o.PlaybackCommand("a", "rewind", nil); !errors.Is(err, protocol.ErrInvalidMessage) {
		t.Fatalf("unknown command: %v", err)
	}
}

func TestMiniAppFlow(t *testing.T) {
	h := newHarness(t)
	a := h.joined(t, "a", "c1")
	b := h.joined(t, "b", "c1")
	if err := h.o.Identify("a", domain.Identity{ID: "gm", Name: "GM"}); err != nil {
		t.Fatal(err)
	}
	a.reset()
	b.reset()

	roll := json.RawMessage(`{"dice":"2d6"}`)
	if err := h.o.AppAction("a", miniapp.DiceBankID, "roll", roll); err != nil {
		t.Fatal(err)
	}
	if len(b.types()) != 0 {
		t.Fatalf("disabled app must not broadcast, got %v", b.types())
	}

	if err := h.o.EnableApp("a", miniapp.DiceBankID); err != nil {
		t.Fatal(err)
	}
	var state protocol.MiniAppStateMessage
	b.lastOf(t, protocol.TypeMiniAppState, &state)
	if len(state.MiniApps.Enabled) != 1 || state.MiniApps.Enabled[0] != miniapp.DiceBankID {
		t.Fatalf("miniapp-state = %+v", state)
	}

	b.reset()
	if err := h.o.AppAction("a", miniapp.DiceBankID, "roll", roll); err != nil {
		t.Fatal(err)
	}
	if got := b.types(); len(got) != 1 || got[0] != protocol.TypeMiniAppUpdated {
		t.Fatalf("expected exactly one miniapp-updated, got %v", got)
	}
	var upd struct {
		AppID string            `json:"appId"`
		State miniapp.DiceState `json:"state"`
	}
	b.lastOf(t, protocol.TypeMiniAppUpdated, &upd)
	if upd.AppID != miniapp.DiceBankID || len(upd.State.Rolls) != 1 {
		t.Fatalf("update = %+v", upd)
	}
	r := upd.State.Rolls[0]
	if r.Result < 2 || r.Result > 12 || r.ActorID != "gm" {
		t.Fatalf("roll = %+v", r)
	}

	if err := h.o.EnableApp("a", "jukebox"); !errors.Is(err, miniapp.ErrUnknownApp) {
		t.Fatalf("unknown app: %v", err)
	}
}

func TestSlowConnectionIsKicked(t *testing.T) {
	h := newHarness(t)
	h.joined(t, "a", "c1")
	slow := h.joined(t, "slow", "c1")
	slow.full = true

	if err := h.o.SelectAsset("a", domain.StrPtr("x")); err != nil {
		t.Fatal(err)
	}
	if !h.canceled["slow"] {
		t.Fatal("slow connection should be canceled")
	}
	if _, _, ok := h.o.Registry.RoomOf("slow"); ok {
		t.Fatal("slow connection should leave the room")
	}
	room, _ := h.o.Rooms.Get("c1")
	if room.MemberCount() != 1 {
		t.Fatalf("members = %d", room.MemberCount())
	}
}

func TestReloadAndMetadataHints(t *testing.T) {
	h := newHarness(t)
	a := h.joined(t, "a", "c1")
	b := h.joined(t, "b", "c1")
	a.reset()
	b.reset()

	if err := h.o.ReloadPlayers("a"); err != nil {
		t.Fatal(err)
	}
	if len(a.types()) != 0 {
		t.Fatal("sender must not reload itself")
	}
	if got := b.types(); len(got) != 1 || got[0] != protocol.TypeReload {
		t.Fatalf("b saw %v", got)
	}

	h.o.NotifyMetadata("c1", "assets")
	h.o.NotifyMetadata("nobody", "assets")
	var hint protocol.MetadataUpdatedMessage
	a.lastOf(t, protocol.TypeAssetsUpdated, &hint)
	if hint.CampaignID != "c1" {
		t.Fatalf("hint = %+v", hint)
	}
}

func TestJoinOtherCampaignMoves(t *testing.T) {
	h := newHarness(t)
	h.joined(t, "a", "c1")
	if err := h.o.Join("a", "c2"); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.o.Rooms.Get("c1"); ok {
		t.Fatal("c1 should be destroyed once empty")
	}
	if cid, _, _ := h.o.Registry.RoomOf("a"); cid != "c2" {
		t.Fatalf("room = %q", cid)
	}

	// Rejoining the same campaign keeps the room and its state.
	room, _ := h.o.Rooms.Get("c2")
	if err := h.o.Join("a", "c2"); err != nil {
		t.Fatal(err)
	}
	if again, _ := h.o.Rooms.Get("c2"); again != room {
		t.Fatal("rejoin must not recreate the room")
	}

	h.o.OnDisconnect("a")
	if _, ok := h.o.Rooms.Get("c2"); ok {
		t.Fatal("disconnect should empty the room")
	}
	if h.o.Registry.Count() != 0 {
		t.Fatal("disconnect should unbind")
	}
}
