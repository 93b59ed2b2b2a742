// Package store holds campaign metadata: playlists and assets.
//
// Three backends share the Store contract: JSON files on disk (default),
// Redis and SQLite. Missing records wrap ErrNotFound.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Stagehand/internal/config"
	"github.com/dkeye/Stagehand/internal/domain"
)

var (
	ErrNotFound = domain.ErrNotFound
	ErrInvalid  = errors.New("invalid record")
)

// Metadata kinds, as carried by assets-updated / playlists-updated.
const (
	KindAssets    = "assets"
	KindPlaylists = "playlists"
)

type Store interface {
	GetPlaylist(ctx context.Context, cid domain.CampaignID, id string) (*domain.Playlist, error)
	ListPlaylists(ctx context.Context, cid domain.CampaignID) ([]domain.Playlist, error)
	PutPlaylist(ctx context.Context, p domain.Playlist) error
	DeletePlaylist(ctx context.Context, cid domain.CampaignID, id string) error

	ListAssets(ctx context.Context, cid domain.CampaignID) ([]domain.Asset, error)
	PutAsset(ctx context.Context, a domain.Asset) error
	DeleteAsset(ctx context.Context, cid domain.CampaignID, id string) error

	Close() error
}

// Open builds the backend named by cfg.Store.Driver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Driver {
	case "", "json":
		return NewFileStore(cfg.DataDir)
	case "redis":
		return NewRedisStore(ctx, cfg.Redis)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.Store.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// checkCampaign rejects campaign ids that are not safe as a path segment.
func checkCampaign(cid domain.CampaignID) error {
	if !validID(string(cid)) {
		return fmt.Errorf("%w: bad campaign id %q", ErrInvalid, cid)
	}
	return nil
}

func validID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return id != "." && id != ".."
}

func checkPlaylist(p domain.Playlist) error {
	if err := p.CampaignID.Validate(); err != nil {
		return err
	}
	if !validID(string(p.CampaignID)) || !validID(p.ID) {
		return fmt.Errorf("%w: bad playlist id", ErrInvalid)
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: playlist kind %q", ErrInvalid, p.Kind)
	}
	return nil
}

func checkAsset(a domain.Asset) error {
	if err := a.CampaignID.Validate(); err != nil {
		return err
	}
	if !validID(string(a.CampaignID)) || !validID(a.ID) {
		return fmt.Errorf("%w: bad asset id", ErrInvalid)
	}
	switch a.Kind {
	case domain.AssetAudio, domain.AssetVideo, domain.AssetImage:
	default:
		return fmt.Errorf("%w: asset kind %q", ErrInvalid, a.Kind)
	}
	return nil
}
