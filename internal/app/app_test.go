package app

import (
	"testing"

	"github.com/dkeye/Stagehand/internal/core"
	"github.com/dkeye/Stagehand/internal/domain"
)

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close() {}

func session() core.MemberSession {
	return core.NewMemberSession(domain.NewMember(), nopConn{})
}

func TestRoomLifecycle(t *testing.T) {
	m := NewRoomManager(core.RoomConfig{})

	room, _ := m.Join("c1", "a", session(), nil)
	again, _ := m.Join("c1", "b", session(), nil)
	if room != again {
		t.Fatal("second join must reuse the room")
	}
	m.Join("c2", "c", session(), nil)

	list := m.List()
	if len(list) != 2 || list[0].CampaignID != "c1" || list[0].MemberCount != 2 {
		t.Fatalf("list = %+v", list)
	}

	m.Leave("c1", "a")
	if _, ok := m.Get("c1"); !ok {
		t.Fatal("room with members must survive")
	}
	m.Leave("c1", "b")
	if _, ok := m.Get("c1"); ok {
		t.Fatal("empty room must be destroyed")
	}

	fresh, _ := m.Join("c1", "a", session(), nil)
	if fresh == room {
		t.Fatal("rejoin after destroy must start a new room")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	canceled := false
	r.BindSignal("s1", session(), func() { canceled = true })

	if _, _, ok := r.RoomOf("s1"); ok {
		t.Fatal("fresh session has no room")
	}
	r.UpdateRoom("s1", "c1")
	if cid, _, ok := r.RoomOf("s1"); !ok || cid != "c1" {
		t.Fatalf("RoomOf = %q, %v", cid, ok)
	}

	if r.SetIdentity("ghost", domain.Identity{ID: "u"}) {
		t.Fatal("unknown session accepted identity")
	}
	r.SetIdentity("s1", domain.Identity{ID: "u1", Name: "Ada"})
	got, ok := r.IdentityOf("s1")
	if !ok || got.Name != "Ada" {
		t.Fatalf("IdentityOf = %+v, %v", got, ok)
	}
	got.Name = "mutated"
	if again, _ := r.IdentityOf("s1"); again.Name != "Ada" {
		t.Fatal("IdentityOf must return a copy")
	}

	r.RemoveRoom("s1")
	if _, _, ok := r.RoomOf("s1"); ok {
		t.Fatal("room association should be cleared")
	}
	if !r.Cancel("s1") || !canceled {
		t.Fatal("cancel not forwarded")
	}
	r.Unbind("s1")
	if r.Count() != 0 {
		t.Fatalf("count = %d", r.Count())
	}
}

func TestPolicyByName(t *testing.T) {
	if PolicyByName("drop").OnBackPressure(nil, "x") != NoAction {
		t.Error("drop should keep the connection")
	}
	if PolicyByName("kick").OnBackPressure(nil, "x") != KickMember {
		t.Error("kick should kick")
	}
}

