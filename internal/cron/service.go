package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
)

// FireFunc handles a due job. It is awaited; its error lands in the
// job's lastStatus/lastError.
type FireFunc func(ctx context.Context, job Job) error

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Store     *FileStore
	OnJobFire FireFunc
	Logger    *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Service owns the job list and the single scheduling timer.
type Service struct {
	store     *FileStore
	onJobFire FireFunc
	log       *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	jobs    []*Job
	timer   *time.Timer
	running bool
	ctx     context.Context
	cancel  context.CancelFunc

	// tickMu serializes ticks so a slow fire callback can never overlap
	// with the next timer expiry.
	tickMu sync.Mutex
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("cron: store is required")
	}
	if cfg.OnJobFire == nil {
		return nil, fmt.Errorf("cron: fire callback is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:     cfg.Store,
		onJobFire: cfg.OnJobFire,
		log:       cfg.Logger,
		now:       cfg.Now,
	}, nil
}

// Start loads the store, recomputes every enabled job's next run from
// now (missed-while-down fires next, not in arrears), and arms the timer.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("cron: already started")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.jobs = s.store.Load()

	now := s.now()
	for _, job := range s.jobs {
		if job.Enabled {
			job.State.NextRunAt = ComputeNextRun(job.Schedule, now)
		} else {
			job.State.NextRunAt = nil
		}
	}
	if err := s.saveLocked(); err != nil {
		return err
	}

	s.running = true
	s.armLocked()
	s.log.Info("cron: started", "jobs", len(s.jobs))
	return nil
}

// Stop disarms the timer and cancels any in-flight fire context.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.log.Info("cron: stopped")
}

// AddJobParams describe a new job.
type AddJobParams struct {
	Name           string
	Schedule       Schedule
	Payload        Payload
	Enabled        *bool // default true
	DeleteAfterRun bool
}

// AddJob validates, persists, and schedules a new job.
func (s *Service) AddJob(p AddJobParams) (Job, error) {
	if strings.TrimSpace(p.Name) == "" {
		return Job{}, fmt.Errorf("cron: job name is required")
	}
	if err := validateSchedule(p.Schedule); err != nil {
		return Job{}, err
	}
	if p.Payload.Action == "" {
		p.Payload.Action = "agent_turn"
	}

	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}

	now := s.now()
	job := &Job{
		ID:             uuid.NewString(),
		Name:           p.Name,
		Enabled:        enabled,
		Schedule:       p.Schedule,
		Payload:        p.Payload,
		CreatedAt:      now.UTC().Format(time.RFC3339),
		UpdatedAt:      now.UTC().Format(time.RFC3339),
		DeleteAfterRun: p.DeleteAfterRun,
	}
	if enabled {
		job.State.NextRunAt = ComputeNextRun(job.Schedule, now)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	if err := s.saveLocked(); err != nil {
		s.jobs = s.jobs[:len(s.jobs)-1]
		return Job{}, err
	}
	s.armLocked()
	s.log.Info("cron: job added", "id", job.ID, "name", job.Name, "kind", job.Schedule.Kind)
	return *job, nil
}

// RemoveJob deletes a job. Returns false for unknown ids.
func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, job := range s.jobs {
		if job.ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			if err := s.saveLocked(); err != nil {
				s.log.Error("cron: save after remove failed", "id", id, "error", err)
			}
			s.armLocked()
			return true
		}
	}
	return false
}

// EnableJob toggles a job. Enabling recomputes nextRunAt from now;
// disabling clears it.
func (s *Service) EnableJob(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.findLocked(id)
	if job == nil {
		return fmt.Errorf("cron: no job %s", id)
	}

	job.Enabled = enabled
	job.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	if enabled {
		job.State.NextRunAt = ComputeNextRun(job.Schedule, s.now())
	} else {
		job.State.NextRunAt = nil
	}
	if err := s.saveLocked(); err != nil {
		return err
	}
	s.armLocked()
	return nil
}

// ListJobs returns snapshots of every job.
func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
}

// GetJob returns a snapshot of one job.
func (s *Service) GetJob(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job := s.findLocked(id); job != nil {
		return *job, true
	}
	return Job{}, false
}

func (s *Service) findLocked(id string) *Job {
	for _, job := range s.jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

// ComputeNextRun returns the next fire time in epoch milliseconds, or
// nil when the schedule yields nothing (bad expression, past instant).
// It is pure: no state is touched.
func ComputeNextRun(sched Schedule, now time.Time) *int64 {
	switch sched.Kind {
	case KindCron:
		ref := now
		if sched.Timezone != "" {
			loc, err := time.LoadLocation(sched.Timezone)
			if err != nil {
				return nil
			}
			ref = now.In(loc)
		}
		next, err := gronx.NextTickAfter(sched.CronExpr, ref, false)
		if err != nil {
			return nil
		}
		ms := next.UnixMilli()
		return &ms

	case KindEvery:
		if sched.EverySeconds <= 0 {
			return nil
		}
		ms := now.UnixMilli() + sched.EverySeconds*1000
		return &ms

	case KindAt:
		at, err := time.Parse(time.RFC3339, sched.At)
		if err != nil {
			return nil
		}
		ms := at.UnixMilli()
		if ms <= now.UnixMilli() {
			return nil
		}
		return &ms
	}
	return nil
}

// armLocked points the single timer at the earliest nextRunAt across
// enabled jobs. Caller holds s.mu.
func (s *Service) armLocked() {
	if !s.running {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	var earliest *int64
	for _, job := range s.jobs {
		if !job.Enabled || job.State.NextRunAt == nil {
			continue
		}
		if earliest == nil || *job.State.NextRunAt < *earliest {
			earliest = job.State.NextRunAt
		}
	}
	if earliest == nil {
		return
	}

	delay := time.Duration(*earliest-s.now().UnixMilli()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	s.timer = time.AfterFunc(delay, func() { s.tick() })
}

// tick fires all due jobs sequentially, then re-arms. Ticks never
// overlap; a timer expiring mid-tick waits its turn.
func (s *Service) tick() {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	now := s.now()
	nowMs := now.UnixMilli()

	var due []*Job
	for _, job := range s.jobs {
		if job.Enabled && job.State.NextRunAt != nil && *job.State.NextRunAt <= nowMs {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if *due[i].State.NextRunAt != *due[j].State.NextRunAt {
			return *due[i].State.NextRunAt < *due[j].State.NextRunAt
		}
		return due[i].ID < due[j].ID
	})
	s.mu.Unlock()

	for _, job := range due {
		s.fireOne(ctx, job)
	}

	s.mu.Lock()
	s.armLocked()
	s.mu.Unlock()
}

// fireOne runs the callback for one job and records the outcome.
func (s *Service) fireOne(ctx context.Context, job *Job) {
	snapshot := *job
	s.log.Info("cron: firing", "id", job.ID, "name", job.Name)

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return s.onJobFire(ctx, snapshot)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	// The job may have been removed while firing.
	if s.findLocked(job.ID) == nil {
		return
	}

	now := s.now()
	ms := now.UnixMilli()
	job.State.LastRunAt = &ms
	if err != nil {
		job.State.LastStatus = StatusError
		job.State.LastError = err.Error()
		s.log.Error("cron: job failed", "id", job.ID, "error", err)
	} else {
		job.State.LastStatus = StatusOK
		job.State.LastError = ""
	}
	job.UpdatedAt = now.UTC().Format(time.RFC3339)

	if job.DeleteAfterRun {
		for i, j := range s.jobs {
			if j.ID == job.ID {
				s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
				break
			}
		}
	} else {
		job.State.NextRunAt = ComputeNextRun(job.Schedule, now)
	}

	if saveErr := s.saveLocked(); saveErr != nil {
		s.log.Error("cron: save after fire failed", "id", job.ID, "error", saveErr)
	}
}

func (s *Service) saveLocked() error {
	return s.store.Save(s.jobs)
}

func validateSchedule(sched Schedule) error {
	switch sched.Kind {
	case KindCron:
		if !gronx.New().IsValid(sched.CronExpr) {
			return fmt.Errorf("cron: invalid expression %q", sched.CronExpr)
		}
	case KindEvery:
		if sched.EverySeconds <= 0 {
			return fmt.Errorf("cron: everySeconds must be positive")
		}
	case KindAt:
		if _, err := time.Parse(time.RFC3339, sched.At); err != nil {
			return fmt.Errorf("cron: invalid timestamp %q: %w", sched.At, err)
		}
	default:
		return fmt.Errorf("cron: unknown schedule kind %q", sched.Kind)
	}
	return nil
}
