// Package scheduler fires the configured reminder jobs on their cron
// schedules. The job set is fixed when the Scheduler is built.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	rcron "github.com/robfig/cron/v3"

	"icalbot/internal/clock"
	"icalbot/internal/gateway"
	appLog "icalbot/internal/log"
	"icalbot/internal/model"
	"icalbot/internal/worker"
)

// Parser accepts standard five-field expressions, an optional leading
// seconds field, @descriptors and a CRON_TZ= prefix.
var Parser = rcron.NewParser(
	rcron.SecondOptional | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor,
)

// State of one job.
type State string

const (
	StatePending State = "Pending"
	StateFiring  State = "Firing"
)

// Firing is one due reminder handed to the FireFunc.
type Firing struct {
	ID        string
	Job       model.ReminderJob
	Scheduled time.Time
}

// FireFunc performs a reminder: query, format, send.
type FireFunc func(ctx context.Context, f Firing)

// JobStatus is a snapshot of one job for introspection.
type JobStatus struct {
	Index    int                `json:"index"`
	Schedule string             `json:"schedule"`
	Kind     model.ReminderKind `json:"kind"`
	Room     string             `json:"room"`
	State    State              `json:"state"`
	NextFire time.Time          `json:"next_fire"`
	LastFire time.Time          `json:"last_fire,omitzero"`
}

type entry struct {
	index    int
	job      model.ReminderJob
	schedule rcron.Schedule
	inFlight int
	next     time.Time
	last     time.Time
	timer    clock.Timer
}

// Scheduler owns one timer per job. On expiry it re-arms for the
// following instant and submits the firing to the worker pool, so a slow
// firing never delays the next one.
type Scheduler struct {
	fire      FireFunc
	pool      worker.Submitter
	clock     clock.Clock
	loc       *time.Location
	transport string

	mu      sync.Mutex
	entries []*entry
	started bool
	stopped bool
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLocation sets the timezone cron expressions are evaluated in.
// Expressions with a CRON_TZ= prefix keep their own zone.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithTransport selects the room id rules used for validation.
func WithTransport(transport string) Option {
	return func(s *Scheduler) { s.transport = transport }
}

// New validates every job and returns a Scheduler that has not started.
// Errors name the offending reminder by its 1-based position.
func New(jobs []model.ReminderJob, fire FireFunc, pool worker.Submitter, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		fire:      fire,
		pool:      pool,
		clock:     clock.Real(),
		loc:       time.UTC,
		transport: gateway.TransportMatrix,
	}
	for _, opt := range opts {
		opt(s)
	}

	for i, job := range jobs {
		sched, err := Parser.Parse(job.Schedule)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression in reminder #%d: %q: %w", i+1, job.Schedule, err)
		}
		if err := gateway.ValidateRoomID(s.transport, job.Room); err != nil {
			return nil, fmt.Errorf("invalid room in reminder #%d: %w", i+1, err)
		}
		s.entries = append(s.entries, &entry{index: i + 1, job: job, schedule: sched})
	}
	return s, nil
}

// Start arms every job. Firings receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	now := s.clock.Now()
	for _, e := range s.entries {
		s.arm(ctx, e, now)
		appLog.Info("scheduler: reminder armed",
			"reminder", e.index,
			"cron", e.job.Schedule,
			"type", e.job.Kind.String(),
			"room", e.job.Room,
			"next", e.next.Format(time.RFC3339),
		)
	}
	if len(s.entries) == 0 {
		appLog.Info("scheduler: no reminders configured")
	}
}

// arm sets e's timer for the first instant after from. Caller holds s.mu.
func (s *Scheduler) arm(ctx context.Context, e *entry, from time.Time) {
	e.next = e.schedule.Next(from.In(s.loc))
	if e.next.IsZero() {
		appLog.Error("scheduler: reminder has no future instants", nil, "reminder", e.index, "cron", e.job.Schedule)
		e.timer = nil
		return
	}
	delay := e.next.Sub(s.clock.Now())
	e.timer = s.clock.AfterFunc(delay, func() { s.expire(ctx, e) })
}

func (s *Scheduler) expire(ctx context.Context, e *entry) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	scheduled := e.next
	from := s.clock.Now()
	if scheduled.After(from) {
		from = scheduled
	}
	s.arm(ctx, e, from)
	e.inFlight++
	e.last = scheduled
	s.mu.Unlock()

	f := Firing{ID: uuid.NewString(), Job: e.job, Scheduled: scheduled}
	ok := s.pool.Submit(fmt.Sprintf("reminder #%d", e.index), func(ctx context.Context) {
		defer s.done(e)
		appLog.Info("scheduler: firing reminder",
			"firing_id", f.ID,
			"reminder", e.index,
			"type", f.Job.Kind.String(),
			"room", f.Job.Room,
		)
		s.fire(ctx, f)
	})
	if !ok {
		s.done(e)
	}
}

func (s *Scheduler) done(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.inFlight--
}

// Jobs reports every job in configuration order.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.entries))
	for _, e := range s.entries {
		st := StatePending
		if e.inFlight > 0 {
			st = StateFiring
		}
		out = append(out, JobStatus{
			Index:    e.index,
			Schedule: e.job.Schedule,
			Kind:     e.job.Kind,
			Room:     e.job.Room,
			State:    st,
			NextFire: e.next,
			LastFire: e.last,
		})
	}
	return out
}

// Stop cancels every timer. Firings already submitted run to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}
