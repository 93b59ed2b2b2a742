package domain

type PlaylistKind string

const (
	PlaylistSequential PlaylistKind = "sequential"
	PlaylistLayered    PlaylistKind = "layered"
)

func (k PlaylistKind) Valid() bool {
	return k == PlaylistSequential || k == PlaylistLayered
}

// Playlist is persisted metadata. Rooms copy Tracks into their realized order
// when the playlist starts, so later edits do not touch a running room.
type Playlist struct {
	ID         string             `json:"id"`
	CampaignID CampaignID         `json:"campaignId"`
	Name       string             `json:"name"`
	Kind       PlaylistKind       `json:"kind"`
	Tracks     []string           `json:"tracks"`
	Volumes    map[string]float64 `json:"volumes,omitempty"`
}

type AssetKind string

const (
	AssetAudio AssetKind = "audio"
	AssetVideo AssetKind = "video"
	AssetImage AssetKind = "image"
)

// Asset is metadata only; the bytes live behind URL.
type Asset struct {
	ID         string     `json:"id"`
	CampaignID CampaignID `json:"campaignId"`
	Name       string     `json:"name"`
	Kind       AssetKind  `json:"kind"`
	URL        string     `json:"url"`
	Hash       string     `json:"hash,omitempty"`
}
