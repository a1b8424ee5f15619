// Package cron schedules agent-turn jobs from a JSON-backed store. One
// timer is armed to the earliest nextRunAt across all enabled jobs; every
// mutation rewrites the store file and re-arms the timer.
package cron

// Schedule kinds.
const (
	KindCron  = "cron"  // RFC-5 cron expression, optional timezone
	KindEvery = "every" // fixed interval in seconds
	KindAt    = "at"    // one ISO-8601 instant
)

// Schedule describes when a job fires. Exactly one kind is set per job.
type Schedule struct {
	Kind         string `json:"kind"`
	CronExpr     string `json:"cronExpr,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
	EverySeconds int64  `json:"everySeconds,omitempty"`
	At           string `json:"at,omitempty"`
}

// Payload is what a firing job does. The only action is an agent turn
// routed to the job's origin conversation.
type Payload struct {
	Action  string `json:"action"` // "agent_turn"
	Message string `json:"message"`
	Channel string `json:"channel,omitempty"`
	ChatID  string `json:"chatId,omitempty"`
}

// Job statuses recorded after a fire.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// JobState is the mutable run bookkeeping. Times are epoch milliseconds;
// nil means "not scheduled" / "never ran".
type JobState struct {
	NextRunAt  *int64 `json:"nextRunAt"`
	LastRunAt  *int64 `json:"lastRunAt"`
	LastStatus string `json:"lastStatus"`
	LastError  string `json:"lastError"`
}

// Job is one scheduled task.
type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAt      string   `json:"createdAt"` // RFC 3339
	UpdatedAt      string   `json:"updatedAt"` // RFC 3339
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
}

// storeFile is the on-disk aggregate.
type storeFile struct {
	Version int    `json:"version"`
	Jobs    []*Job `json:"jobs"`
}

const storeVersion = 1
