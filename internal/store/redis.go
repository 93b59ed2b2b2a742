package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stagehand/internal/config"
	"github.com/dkeye/Stagehand/internal/domain"
)

// RedisStore keeps each campaign's records in one hash per kind:
// <prefix>:campaign:<cid>:<kind> field <id> -> JSON.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "stagehand"
	}
	log.Info().Str("module", "store").Str("driver", "redis").Str("addr", cfg.Addr).Msg("store opened")
	return NewRedisStoreWithClient(client, prefix), nil
}

func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(cid domain.CampaignID, kind string) string {
	return fmt.Sprintf("%s:campaign:%s:%s", s.prefix, cid, kind)
}

func (s *RedisStore) GetPlaylist(ctx context.Context, cid domain.CampaignID, id string) (*domain.Playlist, error) {
	data, err := s.client.HGet(ctx, s.key(cid, KindPlaylists), id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("playlist %s/%s: %w", cid, id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	var p domain.Playlist
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal playlist: %w", err)
	}
	return &p, nil
}

func (s *RedisStore) ListPlaylists(ctx context.Context, cid domain.CampaignID) ([]domain.Playlist, error) {
	if err := checkCampaign(cid); err != nil {
		return nil, err
	}
	out := []domain.Playlist{}
	err := s.each(ctx, s.key(cid, KindPlaylists), func(b []byte) error {
		var p domain.Playlist
		if err := json.Unmarshal(b, &p); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (s *RedisStore) PutPlaylist(ctx context.Context, p domain.Playlist) error {
	if err := checkPlaylist(p); err != nil {
		return err
	}
	return s.put(ctx, s.key(p.CampaignID, KindPlaylists), p.ID, p)
}

func (s *RedisStore) DeletePlaylist(ctx context.Context, cid domain.CampaignID, id string) error {
	return s.del(ctx, s.key(cid, KindPlaylists), id)
}

func (s *RedisStore) ListAssets(ctx context.Context, cid domain.CampaignID) ([]domain.Asset, error) {
	if err := checkCampaign(cid); err != nil {
		return nil, err
	}
	out := []domain.Asset{}
	err := s.each(ctx, s.key(cid, KindAssets), func(b []byte) error {
		var a domain.Asset
		if err := json.Unmarshal(b, &a); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (s *RedisStore) PutAsset(ctx context.Context, a domain.Asset) error {
	if err := checkAsset(a); err != nil {
		return err
	}
	return s.put(ctx, s.key(a.CampaignID, KindAssets), a.ID, a)
}

func (s *RedisStore) DeleteAsset(ctx context.Context, cid domain.CampaignID, id string) error {
	return s.del(ctx, s.key(cid, KindAssets), id)
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) put(ctx context.Context, key, field string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := s.client.HSet(ctx, key, field, data).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (s *RedisStore) del(ctx context.Context, key, field string) error {
	n, err := s.client.HDel(ctx, key, field).Result()
	if err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", field, ErrNotFound)
	}
	return nil
}

func (s *RedisStore) each(ctx context.Context, key string, fn func([]byte) error) error {
	all, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to list from redis: %w", err)
	}
	for field, v := range all {
		if err := fn([]byte(v)); err != nil {
			log.Warn().Err(err).Str("module", "store").Str("key", key).Str("field", field).Msg("skipping unreadable record")
		}
	}
	return nil
}
