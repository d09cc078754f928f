// Package scheduler implements the cron matcher, one-shot timers,
// heartbeat, and proactive-hint gating of spec §4.10/C10. It drives the
// completions gateway for scheduled, non-user-initiated invocations.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

const (
	cronTickInterval = 60 * time.Second
	minuteLayout     = "2006-01-02T15:04"
)

// CronJob is spec §3's Cron job: a 5-field expression, the agent to
// invoke, and an optional delivery target.
type CronJob struct {
	ID             string
	CronExpr       string
	AgentID        string
	Prompt         string
	MaxTokenBudget int // 0 means unbounded
	Delivery       string
	RunOnce        bool

	lastFiredMinute string
}

// ActiveHours gates both the cron check and the heartbeat to a daily
// window evaluated in a configured IANA time zone. Start/End are minutes
// since local midnight; Start > End means the window wraps past midnight.
type ActiveHours struct {
	Timezone   string
	StartMin   int
	EndMin     int
	loc        *time.Location
}

// AllDay returns an ActiveHours window with no restriction, in UTC.
func AllDay() ActiveHours {
	return ActiveHours{Timezone: "UTC", StartMin: 0, EndMin: 24 * 60, loc: time.UTC}
}

func (a *ActiveHours) location() *time.Location {
	if a.loc != nil {
		return a.loc
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		loc = time.UTC
	}
	a.loc = loc
	return a.loc
}

// Contains reports whether now falls inside the active-hours window.
func (a *ActiveHours) Contains(now time.Time) bool {
	local := now.In(a.location())
	minute := local.Hour()*60 + local.Minute()
	if a.StartMin == a.EndMin {
		return true // a zero-width window means "always active"
	}
	if a.StartMin < a.EndMin {
		return minute >= a.StartMin && minute < a.EndMin
	}
	return minute >= a.StartMin || minute < a.EndMin
}

// DispatchFunc fires a cron job's prompt into the agent pipeline (spec
// §3.5: control flow control flow for C10-driven invocations runs through
// C11/C7/C9 the same as a user turn). The caller supplies this so the
// scheduler stays decoupled from the gateway and router packages.
type DispatchFunc func(ctx context.Context, job CronJob) error

// HeartbeatFunc delivers the synthetic heartbeat inbound message.
type HeartbeatFunc func(ctx context.Context, content string) error

// Scheduler owns the cron job table and the heartbeat/active-hours timers.
// Grounded on the lane-based scheduler idiom of routing scheduled fires
// through the same dispatch path as a live request, generalized here to a
// single dispatch callback since the host has one agent pipeline rather
// than multiple delivery channels.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*CronJob
	matcher gronx.Gronx

	activeHours       ActiveHours
	heartbeatInterval time.Duration
	heartbeatPath     string // HEARTBEAT.md override; "" disables override lookup

	dispatch  DispatchFunc
	heartbeat HeartbeatFunc
	log       *slog.Logger

	onceMu     sync.Mutex
	onceTimers map[string]*time.Timer

	stop chan struct{}
	wg   sync.WaitGroup
}

type Option func(*Scheduler)

func WithActiveHours(h ActiveHours) Option {
	return func(s *Scheduler) { s.activeHours = h }
}

func WithHeartbeat(interval time.Duration, overridePath string, fn HeartbeatFunc) Option {
	return func(s *Scheduler) {
		s.heartbeatInterval = interval
		s.heartbeatPath = overridePath
		s.heartbeat = fn
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

func New(dispatch DispatchFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:        make(map[string]*CronJob),
		matcher:     gronx.New(),
		activeHours: AllDay(),
		dispatch:    dispatch,
		log:         slog.Default(),
		onceTimers:  make(map[string]*time.Timer),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddCron validates and registers a cron job.
func (s *Scheduler) AddCron(job CronJob) error {
	if !s.matcher.IsValid(job.CronExpr) {
		return fmt.Errorf("scheduler: invalid cron expression %q", job.CronExpr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	jobCopy := job
	s.jobs[job.ID] = &jobCopy
	return nil
}

// RemoveCron deletes a registered cron job. Reports whether it existed.
func (s *Scheduler) RemoveCron(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	return true
}

// ListJobs returns a snapshot of registered cron jobs.
func (s *Scheduler) ListJobs() []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CronJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

// ScheduleOnce fires job exactly once at (or immediately after) at, using
// a single timer bounded by max(0, at-now). Firing deletes the job; there
// is no job-table entry for it, matching spec §4.10's "deletes the job".
func (s *Scheduler) ScheduleOnce(ctx context.Context, job CronJob, at time.Time) {
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, func() {
		s.onceMu.Lock()
		delete(s.onceTimers, job.ID)
		s.onceMu.Unlock()
		if err := s.dispatch(ctx, job); err != nil {
			s.log.Error("scheduler: one-shot dispatch failed", "job", job.ID, "err", err)
		}
	})
	s.onceMu.Lock()
	s.onceTimers[job.ID] = timer
	s.onceMu.Unlock()
}

// CancelOnce cancels a pending one-shot timer. Reports whether one was
// pending.
func (s *Scheduler) CancelOnce(jobID string) bool {
	s.onceMu.Lock()
	defer s.onceMu.Unlock()
	timer, ok := s.onceTimers[jobID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.onceTimers, jobID)
	return true
}

// Start launches the cron-check and heartbeat timers. It returns
// immediately; call Stop to tear both down.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.runCronLoop(ctx)

	if s.heartbeat != nil && s.heartbeatInterval > 0 {
		s.wg.Add(1)
		go s.runHeartbeatLoop(ctx)
	}
}

// Stop halts both timers and waits for their goroutines to exit.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) runCronLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(cronTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.checkCron(ctx, now)
		}
	}
}

// checkCron matches every registered job's expression against now,
// firing at most once per job per calendar minute.
func (s *Scheduler) checkCron(ctx context.Context, now time.Time) {
	if !s.activeHours.Contains(now) {
		return
	}
	minuteKey := now.Format(minuteLayout)

	s.mu.Lock()
	var due []CronJob
	var runOnceIDs []string
	for id, job := range s.jobs {
		if job.lastFiredMinute == minuteKey {
			continue
		}
		isDue, err := s.matcher.IsDue(job.CronExpr, now)
		if err != nil || !isDue {
			continue
		}
		job.lastFiredMinute = minuteKey
		due = append(due, *job)
		if job.RunOnce {
			runOnceIDs = append(runOnceIDs, id)
		}
	}
	for _, id := range runOnceIDs {
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	for _, job := range due {
		if err := s.dispatch(ctx, job); err != nil {
			s.log.Error("scheduler: cron dispatch failed", "job", job.ID, "err", err)
		}
	}
}

func (s *Scheduler) runHeartbeatLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			if !s.activeHours.Contains(now) {
				continue
			}
			if err := s.heartbeat(ctx, s.heartbeatContent()); err != nil {
				s.log.Error("scheduler: heartbeat dispatch failed", "err", err)
			}
		}
	}
}

const defaultHeartbeatContent = "heartbeat"

// heartbeatContent reads the HEARTBEAT.md override if configured and
// present, falling back to the built-in default content.
func (s *Scheduler) heartbeatContent() string {
	if s.heartbeatPath == "" {
		return defaultHeartbeatContent
	}
	data, err := os.ReadFile(s.heartbeatPath)
	if err != nil {
		return defaultHeartbeatContent
	}
	return string(data)
}
