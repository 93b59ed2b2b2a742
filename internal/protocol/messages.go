// Package protocol is the wire contract between the server and its clients:
// one JSON object per WebSocket frame, tagged by its "type" field.
package protocol

import (
	"encoding/json"

	"github.com/dkeye/Stagehand/internal/domain"
	"github.com/dkeye/Stagehand/internal/miniapp"
)

// Client -> Server message types.
const (
	TypeIdentify         = "identify"
	TypeJoinCampaign     = "join-campaign"
	TypeLeaveCampaign    = "leave-campaign"
	TypePlaybackCommand  = "playback-command"
	TypeAssetSelect      = "asset-select"
	TypePlaylistPlay     = "playlist-play"
	TypePlaylistStop     = "playlist-stop"
	TypePlaylistSettings = "playlist-settings"
	TypeQueueAsset       = "queue-asset"
	TypeQueueJump        = "queue-jump"
	TypeLayerVolume      = "layer-volume"
	TypeLayerFadeTo      = "layer-fade-to"
	TypeTrackEnded       = "track-ended"
	TypeMiniAppEnable    = "miniapp-enable"
	TypeMiniAppDisable   = "miniapp-disable"
	TypeMiniAppAction    = "miniapp-action"
	TypeReloadPlayers    = "reload-players"
	TypePing             = "ping"
)

// Server -> Client message types.
const (
	TypeCampaignJoined   = "campaign-joined"
	TypePlaybackState    = "playback-state"
	TypeQueueUpdated     = "queue-updated"
	TypeAssetSelected    = "asset-selected"
	TypeAssetsUpdated    = "assets-updated"
	TypePlaylistsUpdated = "playlists-updated"
	TypeUserJoined       = "user-joined"
	TypeUserLeft         = "user-left"
	TypeMiniAppState     = "miniapp-state"
	TypeMiniAppUpdated   = "miniapp-updated"
	TypeError            = "error"
	TypeReload           = "reload"
	TypePong             = "pong"
)

// Playback commands carried by playback-command.
const (
	CommandPlay  = "play"
	CommandPause = "pause"
	CommandSeek  = "seek"
	CommandNext  = "next"
	CommandPrev  = "prev"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type IdentifyMessage struct {
	Type string          `json:"type"`
	User domain.Identity `json:"user"`
}

type JoinCampaignMessage struct {
	Type       string            `json:"type"`
	CampaignID domain.CampaignID `json:"campaignId"`
}

type PlaybackCommandMessage struct {
	Type    string   `json:"type"`
	Command string   `json:"command"`
	Time    *float64 `json:"time,omitempty"`
}

type AssetSelectMessage struct {
	Type    string  `json:"type"`
	AssetID *string `json:"assetId"`
}

type PlaylistPlayMessage struct {
	Type       string `json:"type"`
	PlaylistID string `json:"playlistId"`
}

type PlaylistSettingsMessage struct {
	Type    string `json:"type"`
	Loop    *bool  `json:"loop,omitempty"`
	Shuffle *bool  `json:"shuffle,omitempty"`
}

// QueueAssetMessage is shared by queue-asset and queue-jump.
// A null assetId on queue-asset clears the queue.
type QueueAssetMessage struct {
	Type    string  `json:"type"`
	AssetID *string `json:"assetId"`
}

type LayerVolumeMessage struct {
	Type    string  `json:"type"`
	AssetID string  `json:"assetId"`
	Volume  float64 `json:"volume"`
}

type LayerFadeToMessage struct {
	Type     string   `json:"type"`
	AssetID  string   `json:"assetId"`
	Duration *float64 `json:"duration,omitempty"`
}

type TrackEndedMessage struct {
	Type    string `json:"type"`
	AssetID string `json:"assetId"`
	Index   int    `json:"index"`
}

// MiniAppMessage is shared by miniapp-enable, miniapp-disable and miniapp-action.
type MiniAppMessage struct {
	Type    string          `json:"type"`
	AppID   string          `json:"appId"`
	Action  string          `json:"action,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Server -> Client messages

type CampaignJoinedMessage struct {
	Type       string               `json:"type"`
	CampaignID domain.CampaignID    `json:"campaignId"`
	Playback   domain.PlaybackState `json:"playback"`
	Users      []domain.Identity    `json:"users"`
	MiniApps   miniapp.Snapshot     `json:"miniApps"`
}

// PlaybackMessage is shared by playback-state and queue-updated.
type PlaybackMessage struct {
	Type     string               `json:"type"`
	Playback domain.PlaybackState `json:"playback"`
}

type AssetSelectedMessage struct {
	Type    string  `json:"type"`
	AssetID *string `json:"assetId"`
}

// MetadataUpdatedMessage is shared by assets-updated and playlists-updated.
type MetadataUpdatedMessage struct {
	Type       string            `json:"type"`
	CampaignID domain.CampaignID `json:"campaignId"`
}

type UserJoinedMessage struct {
	Type string          `json:"type"`
	User domain.Identity `json:"user"`
}

type UserLeftMessage struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"userId"`
}

type MiniAppStateMessage struct {
	Type     string           `json:"type"`
	MiniApps miniapp.Snapshot `json:"miniApps"`
}

type MiniAppUpdatedMessage struct {
	Type  string `json:"type"`
	AppID string `json:"appId"`
	State any    `json:"state"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
