package domain

import "time"

// PlaybackState is the authoritative transport snapshot of a room.
// Position is in seconds as of Timestamp (Unix milliseconds).
type PlaybackState struct {
	AssetID        *string            `json:"assetId"`
	Playing        bool               `json:"playing"`
	Position       float64            `json:"position"`
	Timestamp      int64              `json:"timestamp"`
	PlaylistID     *string            `json:"playlistId"`
	PlaylistKind   PlaylistKind       `json:"playlistKind,omitempty"`
	PlaylistIndex  int                `json:"playlistIndex"`
	PlaylistLength int                `json:"playlistLength"`
	Loop           bool               `json:"loop"`
	Shuffle        bool               `json:"shuffle"`
	QueuedNext     *string            `json:"queuedNext"`
	LayerVolumes   map[string]float64 `json:"layerVolumes,omitempty"`
}

// PositionAt projects the displayed position at now.
func (p PlaybackState) PositionAt(now time.Time) float64 {
	if !p.Playing {
		return p.Position
	}
	elapsed := float64(now.UnixMilli()-p.Timestamp) / 1000
	if elapsed < 0 {
		elapsed = 0
	}
	return p.Position + elapsed
}

func (p PlaybackState) Layered() bool {
	return p.PlaylistID != nil && p.PlaylistKind == PlaylistLayered
}

// Clone returns a copy that shares no pointers or maps with p.
func (p PlaybackState) Clone() PlaybackState {
	out := p
	out.AssetID = cloneStr(p.AssetID)
	out.PlaylistID = cloneStr(p.PlaylistID)
	out.QueuedNext = cloneStr(p.QueuedNext)
	if p.LayerVolumes != nil {
		out.LayerVolumes = make(map[string]float64, len(p.LayerVolumes))
		for k, v := range p.LayerVolumes {
			out.LayerVolumes[k] = v
		}
	}
	return out
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StrPtr returns a pointer to a copy of s.
func StrPtr(s string) *string { return &s }

// StrVal dereferences s, returning "" for nil.
func StrVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
