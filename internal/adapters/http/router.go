package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stagehand/internal/adapters/signal"
	"github.com/dkeye/Stagehand/internal/app/orch"
	"github.com/dkeye/Stagehand/internal/config"
	"github.com/dkeye/Stagehand/internal/store"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags every browser with a long-lived ct cookie and
// mirrors it into the session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		sess := sessions.Default(c)
		if sess.Get("client_token") != token {
			sess.Set("client_token", token)
			_ = sess.Save()
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// SetupRouter builds the HTTP surface. notify receives metadata writes made
// through the REST API; nil sends them straight to the rooms.
func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, st store.Store, notify store.ChangeFunc) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cs := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("StagehandSessions", cs))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": len(o.Rooms.List()), "connections": o.Registry.Count()})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctrl := signal.NewSignalWSController(o, signal.Options{
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		PongWait:       cfg.PongWait,
		WriteWait:      cfg.WriteWait,
		SendBuffer:     cfg.SendBuffer,
		ActionLimit:    cfg.RateLimit.Actions,
		ActionInterval: cfg.RateLimit.Interval,
	})

	api := r.Group("/api")
	api.GET("/ws", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": o.Rooms.List()})
	})

	if notify == nil {
		notify = o.NotifyMetadata
	}
	h := &metadataHandlers{store: st, notify: notify}
	campaigns := api.Group("/campaigns/:cid")
	campaigns.GET("/playlists", h.listPlaylists)
	campaigns.GET("/playlists/:id", h.getPlaylist)
	campaigns.PUT("/playlists/:id", h.putPlaylist)
	campaigns.DELETE("/playlists/:id", h.deletePlaylist)
	campaigns.GET("/assets", h.listAssets)
	campaigns.PUT("/assets/:id", h.putAsset)
	campaigns.DELETE("/assets/:id", h.deleteAsset)

	return r
}
