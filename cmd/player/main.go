// Command player is a headless Stagehand client: it joins a campaign and
// keeps simulated media elements in sync with the room.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Stagehand/internal/domain"
	"github.com/dkeye/Stagehand/internal/player"
	"github.com/dkeye/Stagehand/internal/protocol"
	"github.com/dkeye/Stagehand/internal/store"
)

func main() {
	flags := pflag.NewFlagSet("player", pflag.ExitOnError)
	server := flags.String("server", "http://localhost:8080", "server base URL")
	campaign := flags.String("campaign", "", "campaign id to join")
	userID := flags.String("user-id", "", "user id (optional)")
	name := flags.String("name", "", "display name (required with --user-id)")
	master := flags.Float64("volume", 1, "master volume 0..1")
	cacheSize := flags.Int("cache", 64, "blob cache entries")
	attempts := flags.Int("max-attempts", player.DefaultBackoff.MaxAttempts, "reconnect attempts before giving up")
	trackLen := flags.Float64("track-length", 0, "simulated track length in seconds, 0 plays forever")
	debug := flags.Bool("debug", false, "debug logging")
	_ = flags.Parse(os.Args[1:])

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *campaign == "" {
		log.Fatal().Msg("--campaign is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	wsURL, err := websocketURL(*server)
	if err != nil {
		log.Fatal().Err(err).Msg("bad server URL")
	}

	cache, err := player.NewLRUCache(*cacheSize)
	if err != nil {
		log.Fatal().Err(err).Msg("cache")
	}

	fetcher := &player.HTTPFetcher{
		Base:     *server,
		Campaign: func() domain.CampaignID { return domain.CampaignID(*campaign) },
	}
	var sess *player.Session
	engine := player.NewEngine(ctx, player.EngineConfig{
		Cache: cache,
		Fetch: fetcher.Fetch,
		NewElement: func(assetID string) player.MediaElement {
			el := player.NewSimElement(assetID, time.Now)
			el.SetDuration(*trackLen)
			return el
		},
		OnTrackEnded: func(assetID string, index int) {
			msg := protocol.TrackEndedMessage{Type: protocol.TypeTrackEnded, AssetID: assetID, Index: index}
			if err := sess.Send(msg); err != nil {
				log.Warn().Err(err).Str("asset", assetID).Msg("track-ended not sent")
			}
		},
	})
	engine.SetMaster(*master)
	p := player.New(engine)
	p.OnMetadata = func(kind string) {
		if kind == store.KindAssets {
			fetcher.Invalidate()
		}
	}
	p.OnReload = func() {
		fetcher.Invalidate()
		if err := sess.Rejoin(); err != nil {
			log.Warn().Err(err).Msg("rejoin after reload")
		}
	}

	backoff := player.DefaultBackoff
	backoff.MaxAttempts = *attempts
	sess = player.NewSession(player.SessionConfig{
		URL:       wsURL,
		Backoff:   backoff,
		OnMessage: p.HandleMessage,
	})

	go func() {
		for sess.Status() != player.StatusConnected {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
		if *userID != "" {
			ident, err := domain.NewIdentity(*userID, *name, "")
			if err != nil {
				log.Error().Err(err).Msg("invalid identity")
			} else if err := sess.Identify(*ident); err != nil {
				log.Error().Err(err).Msg("identify")
			}
		}
		if err := sess.Join(domain.CampaignID(*campaign)); err != nil {
			log.Error().Err(err).Msg("join")
		}
	}()

	err = sess.Run(ctx)
	engine.Reset()
	if errors.Is(err, player.ErrConnectionLost) {
		log.Error().Err(err).Msg("connection lost, please restart the player")
		os.Exit(1)
	}
	log.Info().Msg("player stopped")
}

func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/api/ws"
	return u.String(), nil
}
