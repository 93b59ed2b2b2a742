package signal

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stagehand/internal/core"
	"github.com/dkeye/Stagehand/internal/domain"
	"github.com/dkeye/Stagehand/internal/miniapp"
	"github.com/dkeye/Stagehand/internal/playback"
	"github.com/dkeye/Stagehand/internal/protocol"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(sid)
		ctl.limiter.Forget(sid)
		c.Close()
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
			ctl.handleSignal(ctx, sid, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	typ, err := protocol.Peek(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.sendError(c, err)
		return
	}

	if limited(typ) && !ctl.limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("type", typ).Msg("rate limited")
		ctl.sendJSON(c, protocol.NewError("slow down"))
		return
	}

	switch typ {
	case protocol.TypeIdentify:
		err = ctl.handleIdentify(sid, data)
	case protocol.TypeJoinCampaign:
		err = ctl.handleJoin(sid, data)
	case protocol.TypeLeaveCampaign:
		ctl.handleLeave(sid)
	case protocol.TypePing:
		ctl.handlePing(c)
	case protocol.TypeReloadPlayers:
		err = ctl.Orch.ReloadPlayers(sid)
	case protocol.TypePlaybackCommand:
		err = ctl.handlePlaybackCommand(sid, data)
	case protocol.TypeAssetSelect:
		err = ctl.handleAssetSelect(sid, data)
	case protocol.TypePlaylistPlay:
		err = ctl.handlePlaylistPlay(ctx, sid, data)
	case protocol.TypePlaylistStop:
		err = ctl.Orch.StopPlaylist(sid)
	case protocol.TypePlaylistSettings:
		err = ctl.handlePlaylistSettings(sid, data)
	case protocol.TypeQueueAsset:
		err = ctl.handleQueueAsset(sid, data)
	case protocol.TypeQueueJump:
		err = ctl.handleQueueJump(sid, data)
	case protocol.TypeLayerVolume:
		err = ctl.handleLayerVolume(sid, data)
	case protocol.TypeLayerFadeTo:
		err = ctl.handleLayerFadeTo(sid, data)
	case protocol.TypeTrackEnded:
		err = ctl.handleTrackEnded(sid, data)
	case protocol.TypeMiniAppEnable, protocol.TypeMiniAppDisable, protocol.TypeMiniAppAction:
		err = ctl.handleMiniApp(sid, typ, data)
	default:
		log.Warn().Str("module", "signal").Str("type", typ).Msg("unknown signal")
		err = protocol.ErrInvalidMessage
	}
	if err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", typ).Msg("command rejected")
		ctl.sendError(c, err)
	}
}

// limited reports whether a message type counts against the rate limiter.
func limited(typ string) bool {
	switch typ {
	case protocol.TypeMiniAppAction, protocol.TypePlaybackCommand, protocol.TypeTrackEnded:
		return true
	}
	return false
}

// clientErrors are the failures whose text is safe to show the sender.
var clientErrors = []struct {
	err error
	msg string
}{
	{protocol.ErrInvalidMessage, "bad_payload"},
	{core.ErrNotInRoom, "not in a campaign"},
	{core.ErrUnknownSession, "unknown session"},
	{playback.ErrNotFound, "Playlist not found or empty"},
	{miniapp.ErrUnknownApp, "mini-app not found"},
	{domain.ErrCampaignIDInvalid, "invalid campaign id"},
	{domain.ErrUserIDEmpty, "user id empty"},
	{domain.ErrUserIDTooLong, "user id too long"},
	{domain.ErrUsernameEmpty, "username empty"},
	{domain.ErrUsernameTooLong, "username too long"},
}

func errorText(err error) string {
	for _, ce := range clientErrors {
		if errors.Is(err, ce.err) {
			return ce.msg
		}
	}
	return "internal error"
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, err error) {
	ctl.sendJSON(c, protocol.NewError(errorText(err)))
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
