package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/dkeye/Stagehand/internal/domain"
)

// SQLiteStore keeps records as JSON documents in a single table keyed by
// (campaign, kind, id).
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS records (
		campaign_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (campaign_id, kind, id)
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Info().Str("module", "store").Str("driver", "sqlite").Str("path", path).Msg("store opened")
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetPlaylist(ctx context.Context, cid domain.CampaignID, id string) (*domain.Playlist, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM records WHERE campaign_id = ? AND kind = ? AND id = ?`,
		string(cid), KindPlaylists, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("playlist %s/%s: %w", cid, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query playlist: %w", err)
	}
	var p domain.Playlist
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("decode playlist: %w", err)
	}
	return &p, nil
}

func (s *SQLiteStore) ListPlaylists(ctx context.Context, cid domain.CampaignID) ([]domain.Playlist, error) {
	if err := checkCampaign(cid); err != nil {
		return nil, err
	}
	out := []domain.Playlist{}
	err := s.each(ctx, cid, KindPlaylists, func(b []byte) error {
		var p domain.Playlist
		if err := json.Unmarshal(b, &p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (s *SQLiteStore) PutPlaylist(ctx context.Context, p domain.Playlist) error {
	if err := checkPlaylist(p); err != nil {
		return err
	}
	return s.put(ctx, p.CampaignID, KindPlaylists, p.ID, p)
}

func (s *SQLiteStore) DeletePlaylist(ctx context.Context, cid domain.CampaignID, id string) error {
	return s.del(ctx, cid, KindPlaylists, id)
}

func (s *SQLiteStore) ListAssets(ctx context.Context, cid domain.CampaignID) ([]domain.Asset, error) {
	if err := checkCampaign(cid); err != nil {
		return nil, err
	}
	out := []domain.Asset{}
	err := s.each(ctx, cid, KindAssets, func(b []byte) error {
		var a domain.Asset
		if err := json.Unmarshal(b, &a); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func (s *SQLiteStore) PutAsset(ctx context.Context, a domain.Asset) error {
	if err := checkAsset(a); err != nil {
		return err
	}
	return s.put(ctx, a.CampaignID, KindAssets, a.ID, a)
}

func (s *SQLiteStore) DeleteAsset(ctx context.Context, cid domain.CampaignID, id string) error {
	return s.del(ctx, cid, KindAssets, id)
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) put(ctx context.Context, cid domain.CampaignID, kind, id string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (campaign_id, kind, id, body) VALUES (?, ?, ?, ?)
		 ON CONFLICT(campaign_id, kind, id) DO UPDATE SET body = excluded.body`,
		string(cid), kind, id, string(body))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", kind, err)
	}
	return nil
}

func (s *SQLiteStore) del(ctx context.Context, cid domain.CampaignID, kind, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE campaign_id = ? AND kind = ? AND id = ?`,
		string(cid), kind, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s/%s: %w", kind, cid, id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) each(ctx context.Context, cid domain.CampaignID, kind string, fn func([]byte) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body FROM records WHERE campaign_id = ? AND kind = ? ORDER BY id`,
		string(cid), kind)
	if err != nil {
		return fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return err
		}
		if err := fn([]byte(body)); err != nil {
			log.Warn().Err(err).Str("module", "store").Str("id", id).Msg("skipping unreadable record")
		}
	}
	return rows.Err()
}
