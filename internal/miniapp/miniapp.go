// Package miniapp runs the small interactive widgets a GM can enable in a
// campaign. Every app is a pure reducer over its own state type; the room
// keeps one State per campaign and dispatches actions into it.
package miniapp

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/dkeye/Stagehand/internal/domain"
)

var (
	ErrUnknownApp = errors.New("mini-app not found")
	ErrNotEnabled = errors.New("mini-app not enabled")
)

// Action is one dispatched command. Actor is the zero Identity for
// connections that never identified (the GM).
type Action struct {
	Name    string
	Payload json.RawMessage
	Actor   domain.Identity
}

// Env carries the impure inputs a reducer may need.
type Env struct {
	Now   func() time.Time
	Rand  *rand.Rand
	NewID func() string
}

// App is the capability every mini-app provides.
// Reduce must not mutate state; it returns changed=false and the input
// untouched for actions it does not handle.
type App interface {
	ID() string
	Default() any
	Reduce(state any, a Action, env Env) (next any, changed bool)
}

type app[S any] struct {
	id     string
	def    func() S
	reduce func(S, Action, Env) (S, bool)
}

func (a app[S]) ID() string   { return a.id }
func (a app[S]) Default() any { return a.def() }

func (a app[S]) Reduce(state any, act Action, env Env) (any, bool) {
	s, ok := state.(S)
	if !ok {
		s = a.def()
	}
	next, changed := a.reduce(s, act, env)
	if !changed {
		return state, false
	}
	return next, true
}

// Registry is the fixed table of apps a server knows about.
type Registry struct {
	apps map[string]App
	ids  []string
}

func NewRegistry(apps ...App) *Registry {
	r := &Registry{apps: make(map[string]App, len(apps))}
	for _, a := range apps {
		r.apps[a.ID()] = a
		r.ids = append(r.ids, a.ID())
	}
	return r
}

// Builtins returns the registry of apps shipped with the server.
func Builtins() *Registry {
	return NewRegistry(MediaDisplay(), DiceBank(), Quiz(), CardGame())
}

func (r *Registry) Get(id string) (App, bool) {
	a, ok := r.apps[id]
	return a, ok
}

func (r *Registry) IDs() []string { return slices.Clone(r.ids) }

// Snapshot is the wire form of a room's mini-app state.
type Snapshot struct {
	Enabled []string       `json:"enabled"`
	States  map[string]any `json:"states"`
}

// State holds a room's enabled set and every app state ever materialized.
// Disabled apps keep their state so re-enabling resumes it.
type State struct {
	reg     *Registry
	enabled []string
	states  map[string]any
}

func NewState(reg *Registry) *State {
	return &State{reg: reg, states: make(map[string]any)}
}

func (s *State) Enabled(id string) bool { return slices.Contains(s.enabled, id) }

// Enable adds id to the enabled set, materializing its default state the first time.
func (s *State) Enable(id string) (bool, error) {
	a, ok := s.reg.Get(id)
	if !ok {
		return false, ErrUnknownApp
	}
	if s.Enabled(id) {
		return false, nil
	}
	if _, ok := s.states[id]; !ok {
		s.states[id] = a.Default()
	}
	s.enabled = append(s.enabled, id)
	return true, nil
}

func (s *State) Disable(id string) (bool, error) {
	if _, ok := s.reg.Get(id); !ok {
		return false, ErrUnknownApp
	}
	i := slices.Index(s.enabled, id)
	if i < 0 {
		return false, nil
	}
	s.enabled = slices.Delete(s.enabled, i, i+1)
	return true, nil
}

// Dispatch applies act to the app's state. Actions for disabled apps are
// rejected so stale clients cannot touch hidden state.
func (s *State) Dispatch(id string, act Action, env Env) (any, bool, error) {
	a, ok := s.reg.Get(id)
	if !ok {
		return nil, false, ErrUnknownApp
	}
	if !s.Enabled(id) {
		return nil, false, ErrNotEnabled
	}
	next, changed := a.Reduce(s.states[id], act, env)
	if !changed {
		return next, false, nil
	}
	s.states[id] = next
	return next, true, nil
}

func (s *State) AppState(id string) (any, bool) {
	v, ok := s.states[id]
	return v, ok
}

func (s *State) Snapshot() Snapshot {
	out := Snapshot{
		Enabled: slices.Clone(s.enabled),
		States:  make(map[string]any, len(s.enabled)),
	}
	if out.Enabled == nil {
		out.Enabled = []string{}
	}
	for _, id := range s.enabled {
		out.States[id] = s.states[id]
	}
	return out
}

func decode[T any](raw json.RawMessage) (T, bool) {
	var v T
	if len(raw) == 0 {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}
	return v, true
}
