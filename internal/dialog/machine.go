// Package dialog runs menu-driven sessions for feature phones over USSD and
// voice. One Machine is built per channel from a transition table and a
// renderer.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-disaster-notify/internal/apperr"
	"github.com/mr1hm/go-disaster-notify/internal/models"
	"github.com/mr1hm/go-disaster-notify/internal/observability"
	"github.com/mr1hm/go-disaster-notify/internal/repository"
	"github.com/mr1hm/go-disaster-notify/internal/worker"
)

type State string

// Screen is what a state shows. Options are numbered from 1 by the renderer.
type Screen struct {
	Prompt  string
	Options []string
	Final   bool
}

// Turn is the context a node sees during one request.
type Turn struct {
	Session *models.InteractiveSession
	Env     *Env
}

func (t *Turn) Get(key string) string { return t.Session.Data[key] }

func (t *Turn) Set(key, value string) { t.Session.Data[key] = value }

// Node is one state of a table. Next is nil for final screens. A Validation
// error from Next re-prompts the same screen with the error text.
type Node struct {
	Screen func(ctx context.Context, t *Turn) (Screen, error)
	Next   func(ctx context.Context, t *Turn, input string) (State, error)
}

// Table is a complete dialog: its states and where it starts.
type Table struct {
	Start State
	Nodes map[State]Node
	// FailText ends the session when a turn hits an internal error.
	FailText string
}

// Reply is the rendered response to one turn.
type Reply struct {
	Body        string
	ContentType string
	State       State
	End         bool
}

// Renderer frames screens for a channel and extracts the user's input from
// the raw request value.
type Renderer interface {
	Input(raw string) string
	Render(s Screen, notice string) Reply
}

type Config struct {
	Channel string
	Timeout time.Duration
	Stripes int
}

type Machine struct {
	channel  string
	table    *Table
	renderer Renderer
	env      *Env
	sessions repository.SessionRepository
	locks    *worker.KeyedMutex
	clock    clockwork.Clock
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

type Deps struct {
	Sessions repository.SessionRepository
	Env      *Env
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

func NewMachine(cfg Config, table *Table, renderer Renderer, deps Deps) *Machine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	if cfg.Stripes <= 0 {
		cfg.Stripes = 64
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Machine{
		channel:  cfg.Channel,
		table:    table,
		renderer: renderer,
		env:      deps.Env,
		sessions: deps.Sessions,
		locks:    worker.NewKeyedMutex(cfg.Stripes),
		clock:    deps.Clock,
		timeout:  cfg.Timeout,
		logger:   deps.Logger.With("channel", cfg.Channel),
		metrics:  deps.Metrics,
	}
}

// ProcessTurn advances the caller's session by one input and renders the
// resulting screen. Errors are only returned for a missing session id or a
// failure to persist; everything else is rendered.
func (m *Machine) ProcessTurn(ctx context.Context, sessionID, callerID, raw string) (Reply, error) {
	if sessionID == "" {
		return Reply{}, apperr.Validation("session id is required")
	}
	key := models.SessionKey{Channel: m.channel, CallerID: callerID, ID: sessionID}
	unlock := m.locks.Lock(key.Channel + "|" + key.CallerID + "|" + key.ID)
	defer unlock()

	m.metrics.DialogTurns.WithLabelValues(m.channel).Inc()
	now := m.clock.Now()

	sess, fresh, err := m.load(ctx, key, now)
	if err != nil {
		return Reply{}, err
	}
	turn := &Turn{Session: sess, Env: m.env}

	state := State(sess.State)
	notice := ""
	if !fresh {
		state, notice = m.advance(ctx, turn, state, m.renderer.Input(raw))
	}

	screen, err := m.screen(ctx, turn, state)
	if err != nil {
		m.logger.Error("render screen", "session_id", sessionID, "state", string(state), "error", err)
		screen = Screen{Prompt: m.table.FailText, Final: true}
		notice = ""
	}

	sess.State = string(state)
	sess.LastActivity = now
	sess.Active = !screen.Final
	if err := m.sessions.SaveSession(ctx, sess); err != nil {
		return Reply{}, fmt.Errorf("save session %s: %w", sessionID, err)
	}

	reply := m.renderer.Render(screen, notice)
	reply.State = state
	return reply, nil
}

// load returns the caller's live session on this channel or a new one at
// the start state.
func (m *Machine) load(ctx context.Context, key models.SessionKey, now time.Time) (*models.InteractiveSession, bool, error) {
	sess, err := m.sessions.GetSession(ctx, key)
	switch {
	case err == nil && sess.Active && now.Sub(sess.LastActivity) <= m.timeout:
		return sess, false, nil
	case err != nil && !errors.Is(err, apperr.ErrNotFound):
		return nil, false, fmt.Errorf("load session %s: %w", key.ID, err)
	}
	if sess != nil {
		m.logger.Debug("session restarted", "session_id", key.ID, "previous_state", sess.State)
	}
	return &models.InteractiveSession{
		ID:           key.ID,
		Channel:      key.Channel,
		CallerID:     key.CallerID,
		State:        string(m.table.Start),
		Data:         make(map[string]string),
		CreatedAt:    now,
		LastActivity: now,
		Active:       true,
	}, true, nil
}

// advance applies input to state. Invalid input keeps the state and returns
// the error text as a notice; internal errors move to the fail screen.
func (m *Machine) advance(ctx context.Context, turn *Turn, state State, input string) (State, string) {
	node, ok := m.table.Nodes[state]
	if !ok || node.Next == nil {
		return m.table.Start, ""
	}
	next, err := node.Next(ctx, turn, input)
	if err == nil {
		return next, ""
	}
	if apperr.KindOf(err) == apperr.KindValidation {
		var e *apperr.Error
		if errors.As(err, &e) {
			return state, e.Msg
		}
		return state, err.Error()
	}
	m.logger.Error("dialog step failed", "session_id", turn.Session.ID, "state", string(state), "error", err)
	return failState, ""
}

const failState State = "Failed"

func (m *Machine) screen(ctx context.Context, turn *Turn, state State) (Screen, error) {
	if state == failState {
		return Screen{Prompt: m.table.FailText, Final: true}, nil
	}
	node, ok := m.table.Nodes[state]
	if !ok {
		return Screen{}, fmt.Errorf("unknown state %q", state)
	}
	return node.Screen(ctx, turn)
}

// ExpireSessions deactivates sessions idle longer than the timeout.
func (m *Machine) ExpireSessions(ctx context.Context) (int64, error) {
	return m.sessions.DeactivateSessions(ctx, m.clock.Now().Add(-m.timeout))
}

// Validate checks that every state in the table has a screen.
func (t *Table) Validate() error {
	if _, ok := t.Nodes[t.Start]; !ok {
		return fmt.Errorf("start state %q has no node", t.Start)
	}
	for s, n := range t.Nodes {
		if n.Screen == nil {
			return fmt.Errorf("state %q has no screen", s)
		}
	}
	return nil
}
