package domain

// Member represents a connection's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	// Identity is nil until the connection sends identify.
	// The GM usually never does.
	Identity *Identity
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember() *Member {
	return &Member{}
}

func (m *Member) Identified() bool { return m.Identity != nil }
