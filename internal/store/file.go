package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stagehand/internal/domain"
)

// FileStore keeps one JSON document per record under
// <root>/campaigns/<cid>/{playlists,assets}/<id>.json.
type FileStore struct {
	root string
	mu   sync.RWMutex
}

func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("data dir is empty")
	}
	if err := os.MkdirAll(filepath.Join(root, "campaigns"), 0o755); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}
	log.Info().Str("module", "store").Str("driver", "json").Str("root", root).Msg("store opened")
	return &FileStore{root: root}, nil
}

// Root is the directory the watcher should observe.
func (s *FileStore) Root() string { return filepath.Join(s.root, "campaigns") }

func (s *FileStore) dir(cid domain.CampaignID, kind string) string {
	return filepath.Join(s.root, "campaigns", string(cid), kind)
}

func (s *FileStore) GetPlaylist(_ context.Context, cid domain.CampaignID, id string) (*domain.Playlist, error) {
	if !validID(string(cid)) || !validID(id) {
		return nil, fmt.Errorf("playlist %s/%s: %w", cid, id, ErrNotFound)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var p domain.Playlist
	if err := readJSON(filepath.Join(s.dir(cid, KindPlaylists), id+".json"), &p); err != nil {
		return nil, fmt.Errorf("playlist %s/%s: %w", cid, id, err)
	}
	return &p, nil
}

func (s *FileStore) ListPlaylists(_ context.Context, cid domain.CampaignID) ([]domain.Playlist, error) {
	if err := checkCampaign(cid); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Playlist{}
	err := eachJSON(s.dir(cid, KindPlaylists), func(path string) error {
		var p domain.Playlist
		if err := readJSON(path, &p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (s *FileStore) PutPlaylist(_ context.Context, p domain.Playlist) error {
	if err := checkPlaylist(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.dir(p.CampaignID, KindPlaylists), p.ID, p)
}

func (s *FileStore) DeletePlaylist(_ context.Context, cid domain.CampaignID, id string) error {
	return s.remove(cid, KindPlaylists, id)
}

func (s *FileStore) ListAssets(_ context.Context, cid domain.CampaignID) ([]domain.Asset, error) {
	if err := checkCampaign(cid); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Asset{}
	err := eachJSON(s.dir(cid, KindAssets), func(path string) error {
		var a domain.Asset
		if err := readJSON(path, &a); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (s *FileStore) PutAsset(_ context.Context, a domain.Asset) error {
	if err := checkAsset(a); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.dir(a.CampaignID, KindAssets), a.ID, a)
}

func (s *FileStore) DeleteAsset(_ context.Context, cid domain.CampaignID, id string) error {
	return s.remove(cid, KindAssets, id)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) remove(cid domain.CampaignID, kind, id string) error {
	if !validID(string(cid)) || !validID(id) {
		return fmt.Errorf("%s %s/%s: %w", kind, cid, id, ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.dir(cid, kind), id+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s %s/%s: %w", kind, cid, id, ErrNotFound)
	}
	return err
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSON replaces <dir>/<id>.json through a temp file and rename.
func writeJSON(dir, id string, v any) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+id+"-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, id+".json"))
}

func eachJSON(dir string, fn func(path string) error) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		if err := fn(filepath.Join(dir, name)); err != nil {
			log.Warn().Err(err).Str("module", "store").Str("file", name).Msg("skipping unreadable record")
		}
	}
	return nil
}
