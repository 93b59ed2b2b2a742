package miniapp

import "github.com/dkeye/Stagehand/internal/domain"

const MediaDisplayID = "media-display"

type MediaState struct {
	AssetID *string `json:"assetId"`
}

func MediaDisplay() App {
	return app[MediaState]{
		id:     MediaDisplayID,
		def:    func() MediaState { return MediaState{} },
		reduce: reduceMedia,
	}
}

func reduceMedia(s MediaState, a Action, _ Env) (MediaState, bool) {
	switch a.Name {
	case "set-asset":
		p, ok := decode[struct {
			AssetID *string `json:"assetId"`
		}](a.Payload)
		if !ok {
			return s, false
		}
		if p.AssetID == nil {
			return MediaState{}, s.AssetID != nil
		}
		if s.AssetID != nil && *s.AssetID == *p.AssetID {
			return s, false
		}
		return MediaState{AssetID: domain.StrPtr(*p.AssetID)}, true
	case "clear":
		if s.AssetID == nil {
			return s, false
		}
		return MediaState{}, true
	}
	return s, false
}
