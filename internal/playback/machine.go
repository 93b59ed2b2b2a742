// Package playback holds the authoritative transport state of one room and
// the transitions the GM can apply to it. It is not safe for concurrent use;
// the owning room serializes access.
package playback

import (
	"errors"
	"slices"
	"time"

	"github.com/dkeye/Stagehand/internal/domain"
)

var ErrNotFound = errors.New("playlist not found or empty")

// Shuffler permutes n elements through swap. *math/rand/v2.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

type Machine struct {
	state   domain.PlaybackState
	order   []string // realized order
	base    []string // playlist order as it was when play started
	shuffle Shuffler
}

func NewMachine(s Shuffler) *Machine {
	return &Machine{shuffle: s}
}

// Snapshot returns a deep copy of the current state.
func (m *Machine) Snapshot() domain.PlaybackState {
	return m.state.Clone()
}

// Order returns a copy of the realized order.
func (m *Machine) Order() []string {
	return slices.Clone(m.order)
}

func (m *Machine) touch(now time.Time) {
	m.state.Timestamp = now.UnixMilli()
}

// freeze folds elapsed play time into Position so a stop keeps the
// displayed position where it was.
func (m *Machine) freeze(now time.Time) {
	m.state.Position = m.state.PositionAt(now)
	m.touch(now)
}

func (m *Machine) clearPlaylist() {
	m.state.PlaylistID = nil
	m.state.PlaylistKind = ""
	m.state.PlaylistIndex = 0
	m.state.PlaylistLength = 0
	m.state.QueuedNext = nil
	m.state.LayerVolumes = nil
	m.order = nil
	m.base = nil
}

// SelectAsset shows a single asset, dropping any playlist. A nil id clears the stage.
func (m *Machine) SelectAsset(id *string, now time.Time) bool {
	m.clearPlaylist()
	m.state.AssetID = cloneID(id)
	m.state.Playing = false
	m.state.Position = 0
	m.touch(now)
	return true
}

// PlayPlaylist snapshots pl into the realized order and starts its first track.
func (m *Machine) PlayPlaylist(pl *domain.Playlist, now time.Time) error {
	if pl == nil || len(pl.Tracks) == 0 {
		return ErrNotFound
	}
	kind := pl.Kind
	if !kind.Valid() {
		kind = domain.PlaylistSequential
	}

	m.clearPlaylist()
	m.base = slices.Clone(pl.Tracks)
	m.order = slices.Clone(pl.Tracks)
	if kind == domain.PlaylistSequential && m.state.Shuffle {
		m.shuffleOrder()
	}
	if kind == domain.PlaylistLayered {
		m.state.LayerVolumes = make(map[string]float64, len(m.order))
		for _, id := range m.order {
			v, ok := pl.Volumes[id]
			if !ok {
				v = 1
			}
			m.state.LayerVolumes[id] = clamp01(v)
		}
	}

	m.state.PlaylistID = domain.StrPtr(pl.ID)
	m.state.PlaylistKind = kind
	m.state.PlaylistIndex = 0
	m.state.PlaylistLength = len(m.order)
	m.state.AssetID = domain.StrPtr(m.order[0])
	m.state.Playing = true
	m.state.Position = 0
	m.touch(now)
	return nil
}

func (m *Machine) StopPlaylist(now time.Time) bool {
	m.clearPlaylist()
	m.state.AssetID = nil
	m.state.Playing = false
	m.state.Position = 0
	m.touch(now)
	return true
}

// Play starts transport. A non-nil at moves the position first.
func (m *Machine) Play(at *float64, now time.Time) bool {
	if at != nil {
		m.state.Position = clampPos(*at)
	} else {
		m.state.Position = m.state.PositionAt(now)
	}
	m.state.Playing = true
	m.touch(now)
	return true
}

// Pause stops transport. Without at, the projected position is kept.
func (m *Machine) Pause(at *float64, now time.Time) bool {
	if at != nil {
		m.state.Position = clampPos(*at)
	} else {
		m.state.Position = m.state.PositionAt(now)
	}
	m.state.Playing = false
	m.touch(now)
	return true
}

func (m *Machine) Seek(t float64, now time.Time) bool {
	m.state.Position = clampPos(t)
	m.touch(now)
	return true
}

func (m *Machine) Next(now time.Time) bool { return m.advance(1, now) }

func (m *Machine) Prev(now time.Time) bool { return m.advance(-1, now) }

// TrackEnded is Next, applied only when the report still describes the
// current track, so several clients reporting the same end move the
// playlist once. Without a playlist it changes nothing.
func (m *Machine) TrackEnded(assetID string, index int, now time.Time) bool {
	if m.state.AssetID == nil || *m.state.AssetID != assetID || m.state.PlaylistIndex != index {
		return false
	}
	return m.Next(now)
}

func (m *Machine) advance(dir int, now time.Time) bool {
	if len(m.order) == 0 {
		return false
	}

	if dir > 0 && m.state.QueuedNext != nil {
		next := *m.state.QueuedNext
		m.state.QueuedNext = nil
		if i := slices.Index(m.order, next); i >= 0 {
			m.state.PlaylistIndex = i
		}
		m.state.AssetID = domain.StrPtr(next)
		m.state.Position = 0
		m.touch(now)
		return true
	}

	idx := m.state.PlaylistIndex + dir
	switch {
	case idx >= len(m.order):
		if !m.state.Loop {
			m.freeze(now)
			m.state.Playing = false
			return true
		}
		idx = 0
	case idx < 0:
		if m.state.Loop {
			idx = len(m.order) - 1
		} else {
			// Restart the first track rather than stopping.
			idx = 0
		}
	}

	m.state.PlaylistIndex = idx
	m.state.AssetID = domain.StrPtr(m.order[idx])
	m.state.Position = 0
	m.touch(now)
	return true
}

func (m *Machine) SetLoop(loop bool) bool {
	if m.state.Loop == loop {
		return false
	}
	m.state.Loop = loop
	return true
}

// SetShuffle rebuilds the realized order of an active sequential playlist and
// relocates the current asset. Position and timestamp are untouched.
func (m *Machine) SetShuffle(shuffle bool) bool {
	if m.state.Shuffle == shuffle {
		return false
	}
	m.state.Shuffle = shuffle
	if m.state.PlaylistID == nil || m.state.PlaylistKind != domain.PlaylistSequential {
		return true
	}

	m.order = slices.Clone(m.base)
	if shuffle {
		m.shuffleOrder()
	}
	if cur := m.state.AssetID; cur != nil {
		if i := slices.Index(m.order, *cur); i >= 0 {
			m.state.PlaylistIndex = i
		}
	}
	return true
}

// QueueAsset sets the one-shot next override; nil clears it.
func (m *Machine) QueueAsset(id *string) bool {
	if equalID(m.state.QueuedNext, id) {
		return false
	}
	m.state.QueuedNext = cloneID(id)
	return true
}

func (m *Machine) JumpToAsset(id string, now time.Time) bool {
	i := slices.Index(m.order, id)
	if i < 0 {
		return false
	}
	m.state.PlaylistIndex = i
	m.state.AssetID = domain.StrPtr(id)
	m.state.QueuedNext = nil
	m.state.Position = 0
	m.state.Playing = true
	m.touch(now)
	return true
}

func (m *Machine) SetLayerVolume(assetID string, volume float64) bool {
	if !m.state.Layered() {
		return false
	}
	cur, ok := m.state.LayerVolumes[assetID]
	if !ok {
		return false
	}
	v := clamp01(volume)
	if cur == v {
		return false
	}
	m.state.LayerVolumes[assetID] = v
	return true
}

// FadeToLayer sets assetID's target to 1 and every other layer to 0.
// The audible fade is animated by each client.
func (m *Machine) FadeToLayer(assetID string) bool {
	if !m.state.Layered() {
		return false
	}
	if _, ok := m.state.LayerVolumes[assetID]; !ok {
		return false
	}
	changed := false
	for id, cur := range m.state.LayerVolumes {
		want := 0.0
		if id == assetID {
			want = 1
		}
		if cur != want {
			m.state.LayerVolumes[id] = want
			changed = true
		}
	}
	return changed
}

func (m *Machine) shuffleOrder() {
	if m.shuffle == nil {
		return
	}
	m.shuffle.Shuffle(len(m.order), func(i, j int) {
		m.order[i], m.order[j] = m.order[j], m.order[i]
	})
}

func cloneID(id *string) *string {
	if id == nil {
		return nil
	}
	return domain.StrPtr(*id)
}

func equalID(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func clampPos(t float64) float64 {
	if t < 0 {
		return 0
	}
	return t
}
