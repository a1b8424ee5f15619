package cron

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

type fireRecorder struct {
	mu    sync.Mutex
	fired []Job
	err   error
}

func (r *fireRecorder) fire(ctx context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, job)
	return r.err
}

func (r *fireRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func (r *fireRecorder) first() Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fired[0]
}

func newTestService(t *testing.T, rec *fireRecorder) *Service {
	t.Helper()
	store := NewFileStore(filepath.Join(t.TempDir(), "cron.json"), nil)
	svc, err := NewService(ServiceConfig{Store: store, OnJobFire: rec.fire})
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func TestComputeNextRunEvery(t *testing.T) {
	now := time.Date(2026, 2, 8, 10, 0, 0, 0, time.UTC)

	got := ComputeNextRun(Schedule{Kind: KindEvery, EverySeconds: 10}, now)
	if got == nil || *got != now.UnixMilli()+10000 {
		t.Errorf("got %v, want %d", got, now.UnixMilli()+10000)
	}

	later := now.Add(37 * time.Second)
	got = ComputeNextRun(Schedule{Kind: KindEvery, EverySeconds: 10}, later)
	if got == nil || *got != later.UnixMilli()+10000 {
		t.Errorf("got %v, want %d", got, later.UnixMilli()+10000)
	}

	if ComputeNextRun(Schedule{Kind: KindEvery, EverySeconds: 0}, now) != nil {
		t.Error("zero interval should yield nil")
	}
}

func TestComputeNextRunAt(t *testing.T) {
	now := time.Date(2026, 2, 8, 10, 0, 0, 0, time.UTC)

	future := "2026-02-08T10:00:05Z"
	got := ComputeNextRun(Schedule{Kind: KindAt, At: future}, now)
	want := time.Date(2026, 2, 8, 10, 0, 5, 0, time.UTC).UnixMilli()
	if got == nil || *got != want {
		t.Errorf("got %v, want %d", got, want)
	}

	if ComputeNextRun(Schedule{Kind: KindAt, At: "2026-02-08T09:00:00Z"}, now) != nil {
		t.Error("past instant should yield nil")
	}
	if ComputeNextRun(Schedule{Kind: KindAt, At: "not a time"}, now) != nil {
		t.Error("invalid instant should yield nil")
	}
}

func TestComputeNextRunCron(t *testing.T) {
	now := time.Date(2026, 2, 8, 10, 0, 0, 0, time.UTC)

	got := ComputeNextRun(Schedule{Kind: KindCron, CronExpr: "0 12 * * *"}, now)
	want := time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC).UnixMilli()
	if got == nil || *got != want {
		t.Errorf("got %v, want %d", got, want)
	}

	if ComputeNextRun(Schedule{Kind: KindCron, CronExpr: "not cron"}, now) != nil {
		t.Error("invalid expression should yield nil")
	}
}

func TestEveryJobFiresAndReschedules(t *testing.T) {
	rec := &fireRecorder{}
	svc := newTestService(t, rec)
	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	job, err := svc.AddJob(AddJobParams{
		Name:     "heartbeat",
		Schedule: Schedule{Kind: KindEvery, EverySeconds: 1},
		Payload:  Payload{Message: "tick", Channel: "telegram", ChatID: "9"},
	})
	if err != nil {
		t.Fatal(err)
	}
	firstNext := *job.State.NextRunAt

	deadline := time.Now().Add(3 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rec.count() == 0 {
		t.Fatal("job never fired")
	}
	if got := rec.first(); got.Payload.Message != "tick" {
		t.Errorf("fired payload = %+v", got.Payload)
	}

	got, ok := svc.GetJob(job.ID)
	if !ok {
		t.Fatal("job vanished after fire")
	}
	if got.State.LastStatus != StatusOK {
		t.Errorf("lastStatus = %q, want ok", got.State.LastStatus)
	}
	if got.State.NextRunAt == nil || *got.State.NextRunAt <= firstNext {
		t.Error("nextRunAt not rescheduled forward")
	}
	if got.State.LastRunAt == nil {
		t.Error("lastRunAt not recorded")
	}
}

func TestAtJobDeletesAfterRun(t *testing.T) {
	rec := &fireRecorder{}
	svc := newTestService(t, rec)
	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	at := time.Now().Add(100 * time.Millisecond).UTC().Format(time.RFC3339Nano)
	job, err := svc.AddJob(AddJobParams{
		Name:           "once",
		Schedule:       Schedule{Kind: KindAt, At: at},
		Payload:        Payload{Message: "one shot"},
		DeleteAfterRun: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if rec.count() != 1 {
		t.Fatalf("fired %d times, want 1", rec.count())
	}

	if _, ok := svc.GetJob(job.ID); ok {
		t.Error("deleteAfterRun job still present")
	}
	if len(svc.ListJobs()) != 0 {
		t.Error("ListJobs should be empty")
	}
}

func TestFireErrorRecordsLastError(t *testing.T) {
	rec := &fireRecorder{err: errors.New("turn failed")}
	svc := newTestService(t, rec)
	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	at := time.Now().Add(50 * time.Millisecond).UTC().Format(time.RFC3339Nano)
	job, err := svc.AddJob(AddJobParams{
		Name:     "failing",
		Schedule: Schedule{Kind: KindAt, At: at},
		Payload:  Payload{Message: "boom"},
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	got, ok := svc.GetJob(job.ID)
	if !ok {
		t.Fatal("job vanished")
	}
	if got.State.LastStatus != StatusError || got.State.LastError != "turn failed" {
		t.Errorf("state = %+v, want error recorded", got.State)
	}
	// A fired at-job with its instant in the past stays dormant.
	if got.State.NextRunAt != nil {
		t.Error("past at-job should have nil nextRunAt")
	}
}

func TestDisabledJobNeverSelected(t *testing.T) {
	rec := &fireRecorder{}
	svc := newTestService(t, rec)
	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	job, err := svc.AddJob(AddJobParams{
		Name:     "paused",
		Schedule: Schedule{Kind: KindEvery, EverySeconds: 1},
		Payload:  Payload{Message: "x"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.EnableJob(job.ID, false); err != nil {
		t.Fatal(err)
	}

	got, _ := svc.GetJob(job.ID)
	if got.State.NextRunAt != nil {
		t.Error("disabled job should have nil nextRunAt")
	}

	time.Sleep(1200 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("disabled job fired %d times", rec.count())
	}
}

func TestStartRecomputesNextRunFromNow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cron.json")
	store := NewFileStore(path, nil)

	stale := int64(1000) // long past
	jobs := []*Job{{
		ID:       "job-1",
		Name:     "stale",
		Enabled:  true,
		Schedule: Schedule{Kind: KindEvery, EverySeconds: 3600},
		Payload:  Payload{Message: "x"},
		State:    JobState{NextRunAt: &stale},
	}}
	if err := store.Save(jobs); err != nil {
		t.Fatal(err)
	}

	rec := &fireRecorder{}
	svc, err := NewService(ServiceConfig{Store: store, OnJobFire: rec.fire})
	if err != nil {
		t.Fatal(err)
	}
	before := time.Now().UnixMilli()
	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	got, ok := svc.GetJob("job-1")
	if !ok {
		t.Fatal("job not loaded")
	}
	if got.State.NextRunAt == nil || *got.State.NextRunAt < before+3600*1000 {
		t.Errorf("nextRunAt = %v, want recomputed from startup time", got.State.NextRunAt)
	}
	// Arrears are not replayed.
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Error("stale job fired immediately on startup")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cron.json")
	store := NewFileStore(path, nil)

	next := int64(1770541200000)
	last := int64(1770537600000)
	jobs := []*Job{{
		ID:      "a",
		Name:    "morning brief",
		Enabled: true,
		Schedule: Schedule{
			Kind: KindCron, CronExpr: "0 9 * * *", Timezone: "Asia/Singapore",
		},
		Payload:   Payload{Action: "agent_turn", Message: "brief me", Channel: "telegram", ChatID: "5"},
		State:     JobState{NextRunAt: &next, LastRunAt: &last, LastStatus: StatusOK},
		CreatedAt: "2026-02-02T02:40:00Z",
		UpdatedAt: "2026-02-08T08:00:00Z",
	}}
	if err := store.Save(jobs); err != nil {
		t.Fatal(err)
	}

	loaded := NewFileStore(path, nil).Load()
	if len(loaded) != 1 {
		t.Fatalf("loaded %d jobs, want 1", len(loaded))
	}
	if !reflect.DeepEqual(*loaded[0], *jobs[0]) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", *loaded[0], *jobs[0])
	}

	// Pretty-printed with tab indentation and a version marker.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatal(err)
	}
	if generic["version"] != float64(1) {
		t.Errorf("version = %v, want 1", generic["version"])
	}
	if !json.Valid(raw) || string(raw[:1]) != "{" {
		t.Error("store is not a JSON object")
	}
	// State fields stay present even when empty.
	if !strings.Contains(string(raw), `"lastError"`) {
		t.Error("empty lastError omitted from serialized state")
	}
	if !strings.Contains(string(raw), `"lastStatus"`) {
		t.Error("lastStatus omitted from serialized state")
	}
}

func TestLoadDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()

	absent := NewFileStore(filepath.Join(dir, "missing.json"), nil)
	if jobs := absent.Load(); jobs != nil {
		t.Errorf("absent store loaded %d jobs", len(jobs))
	}

	garbled := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(garbled, []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if jobs := NewFileStore(garbled, nil).Load(); jobs != nil {
		t.Errorf("invalid store loaded %d jobs", len(jobs))
	}
}

func TestAddJobValidation(t *testing.T) {
	svc := newTestService(t, &fireRecorder{})

	cases := []struct {
		name  string
		sched Schedule
	}{
		{"bad cron", Schedule{Kind: KindCron, CronExpr: "not valid"}},
		{"zero interval", Schedule{Kind: KindEvery, EverySeconds: 0}},
		{"bad timestamp", Schedule{Kind: KindAt, At: "soon"}},
		{"unknown kind", Schedule{Kind: "weekly"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.AddJob(AddJobParams{Name: "j", Schedule: tc.sched}); err == nil {
				t.Error("invalid schedule accepted")
			}
		})
	}
}
