// Package membership accepts room invitations for the bot, retrying failed
// joins with exponential backoff.
package membership

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"icalbot/internal/clock"
	"icalbot/internal/gateway"
	appLog "icalbot/internal/log"
	"icalbot/internal/worker"
)

// State is the lifecycle position of one pending join.
type State int

const (
	Invited State = iota
	JoinAttempt
	Joined
	Retry
	GaveUp
)

func (s State) String() string {
	switch s {
	case Invited:
		return "Invited"
	case JoinAttempt:
		return "JoinAttempt"
	case Joined:
		return "Joined"
	case Retry:
		return "Retry"
	case GaveUp:
		return "GaveUp"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Joiner is the gateway operation the manager drives.
type Joiner interface {
	Join(ctx context.Context, room string) error
}

// PendingJoin describes an outstanding join for introspection.
type PendingJoin struct {
	Room     string
	State    State
	Attempts int
	NextAt   time.Time
}

type joinState struct {
	room     string
	state    State
	attempts int
	backoff  *Backoff
	timer    clock.Timer
	nextAt   time.Time
}

// Manager owns every outstanding join. Entries are removed once a room is
// joined or given up on.
type Manager struct {
	self   string
	joiner Joiner
	pool   worker.Submitter
	clock  clock.Clock

	initialDelay time.Duration
	maxDelay     time.Duration

	mu      sync.Mutex
	pending map[string]*joinState
	stopped bool
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithDelays overrides the initial retry delay and the give-up cap.
func WithDelays(initial, maxDelay time.Duration) Option {
	return func(m *Manager) {
		m.initialDelay = initial
		m.maxDelay = maxDelay
	}
}

// New returns a Manager that joins as self.
func New(self string, j Joiner, pool worker.Submitter, opts ...Option) *Manager {
	m := &Manager{
		self:         self,
		joiner:       j,
		pool:         pool,
		clock:        clock.Real(),
		initialDelay: DefaultInitialDelay,
		maxDelay:     DefaultMaxDelay,
		pending:      make(map[string]*joinState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandleInvitation starts joining inv.RoomID when the bot itself is the
// invitee. Invitations for other users, and repeats for a room that is
// already being joined, are ignored.
func (m *Manager) HandleInvitation(_ context.Context, inv gateway.InvitationEvent) {
	if inv.TargetUserID != m.self {
		return
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if _, dup := m.pending[inv.RoomID]; dup {
		m.mu.Unlock()
		appLog.Debug("membership: join already in progress", "room", inv.RoomID)
		return
	}
	js := &joinState{
		room:    inv.RoomID,
		state:   Invited,
		backoff: NewBackoff(m.initialDelay, m.maxDelay),
	}
	m.pending[inv.RoomID] = js
	m.mu.Unlock()

	appLog.Info("membership: invited", "room", inv.RoomID)
	m.submitAttempt(js)
}

func (m *Manager) submitAttempt(js *joinState) {
	ok := m.pool.Submit("join "+js.room, func(ctx context.Context) {
		m.attempt(ctx, js)
	})
	if !ok {
		m.forget(js)
	}
}

func (m *Manager) attempt(ctx context.Context, js *joinState) {
	m.mu.Lock()
	js.state = JoinAttempt
	js.attempts++
	attempt := js.attempts
	m.mu.Unlock()

	err := m.joiner.Join(ctx, js.room)
	if err == nil {
		m.mu.Lock()
		js.state = Joined
		delete(m.pending, js.room)
		m.mu.Unlock()
		appLog.Info("membership: joined room", "room", js.room, "attempts", attempt)
		return
	}

	delay, ok := js.backoff.Next()
	if !ok {
		m.mu.Lock()
		js.state = GaveUp
		delete(m.pending, js.room)
		m.mu.Unlock()
		appLog.Error("membership: can't join room after multiple retries", err, "room", js.room, "attempts", attempt)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		delete(m.pending, js.room)
		return
	}
	js.state = Retry
	js.nextAt = m.clock.Now().Add(delay)
	js.timer = m.clock.AfterFunc(delay, func() { m.submitAttempt(js) })
	appLog.Error("membership: join failed, retrying", err, "room", js.room, "attempt", attempt, "retry_in", delay.String())
}

func (m *Manager) forget(js *joinState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending[js.room] == js {
		delete(m.pending, js.room)
	}
}

// Pending lists outstanding joins ordered by room.
func (m *Manager) Pending() []PendingJoin {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingJoin, 0, len(m.pending))
	for _, js := range m.pending {
		out = append(out, PendingJoin{
			Room:     js.room,
			State:    js.state,
			Attempts: js.attempts,
			NextAt:   js.nextAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out
}

// Stop cancels every waiting retry. Attempts already running finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for room, js := range m.pending {
		if js.timer != nil {
			js.timer.Stop()
		}
		delete(m.pending, room)
	}
}
