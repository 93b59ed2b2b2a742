package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/Stagehand/internal/domain"
)

var ErrInvalidMessage = errors.New("invalid message")

// Peek returns the type tag of a frame.
func Peek(data []byte) (string, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if base.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	return base.Type, nil
}

// Decode unmarshals a frame into T.
func Decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return v, nil
}

func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func NewError(msg string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: msg}
}

func NewPlaybackState(p domain.PlaybackState) PlaybackMessage {
	return PlaybackMessage{Type: TypePlaybackState, Playback: p}
}

func NewQueueUpdated(p domain.PlaybackState) PlaybackMessage {
	return PlaybackMessage{Type: TypeQueueUpdated, Playback: p}
}

// NewMetadataUpdated builds assets-updated or playlists-updated from the
// metadata kind ("assets" or "playlists").
func NewMetadataUpdated(kind string, cid domain.CampaignID) MetadataUpdatedMessage {
	return MetadataUpdatedMessage{Type: kind + "-updated", CampaignID: cid}
}

// KindOf is the inverse of NewMetadataUpdated's type naming.
func KindOf(typ string) string {
	return strings.TrimSuffix(typ, "-updated")
}
