package orch

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/Stagehand/internal/core"
	"github.com/dkeye/Stagehand/internal/miniapp"
	"github.com/dkeye/Stagehand/internal/protocol"
)

func (o *Orchestrator) EnableApp(sid core.SessionID, appID string) error {
	return o.update(sid, func(st *core.RoomState) (core.Outbound, error) {
		changed, err := st.Apps.Enable(appID)
		return appsSnapshot(st, changed, err)
	})
}

func (o *Orchestrator) DisableApp(sid core.SessionID, appID string) error {
	return o.update(sid, func(st *core.RoomState) (core.Outbound, error) {
		changed, err := st.Apps.Disable(appID)
		return appsSnapshot(st, changed, err)
	})
}

// AppAction dispatches into one app and broadcasts only that app's state.
// Actions aimed at a disabled app are dropped without a reply.
func (o *Orchestrator) AppAction(sid core.SessionID, appID, action string, payload json.RawMessage) error {
	act := miniapp.Action{Name: action, Payload: payload}
	if ident, ok := o.Registry.IdentityOf(sid); ok {
		act.Actor = *ident
	}
	return o.update(sid, func(st *core.RoomState) (core.Outbound, error) {
		next, changed, err := st.Apps.Dispatch(appID, act, st.Env)
		if errors.Is(err, miniapp.ErrNotEnabled) {
			return core.Outbound{}, nil
		}
		if err != nil || !changed {
			return core.Outbound{}, err
		}
		return core.Outbound{Msg: protocol.MiniAppUpdatedMessage{
			Type:  protocol.TypeMiniAppUpdated,
			AppID: appID,
			State: next,
		}}, nil
	})
}

func appsSnapshot(st *core.RoomState, changed bool, err error) (core.Outbound, error) {
	if err != nil || !changed {
		return core.Outbound{}, err
	}
	return core.Outbound{Msg: protocol.MiniAppStateMessage{
		Type:     protocol.TypeMiniAppState,
		MiniApps: st.Apps.Snapshot(),
	}}, nil
}
