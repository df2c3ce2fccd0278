// Package scheduler drives recipe-based jobs on a cron schedule: register
// a recipe file once, and the scheduler copies it into a managed
// directory, persists the job list across restarts, and fires a fresh
// reply-loop turn against it whenever the cron expression is due.
package scheduler

import "time"

// Job is one scheduled recipe. Source always points at the scheduler's
// managed copy of the recipe file, not wherever the caller originally
// registered it from — Register rewrites it on copy, matching the
// teacher's cron job bookkeeping in internal/cron/types.go.
type Job struct {
	ID       string     `json:"id"`
	Source   string     `json:"source"`
	CronExpr string     `json:"cron"`
	Timezone string     `json:"timezone,omitempty"`
	Paused   bool       `json:"paused"`
	LastRun  *time.Time `json:"last_run,omitempty"`

	// CurrentlyRunning and CurrentSessionID describe an in-flight
	// execution; Kill cancels it. Neither is persisted to storagePath —
	// see the crash-survival note on persistedJob in scheduler.go — so
	// both always come back false/empty after a restart, even if the
	// process died mid-run.
	CurrentlyRunning bool   `json:"currently_running"`
	CurrentSessionID string `json:"current_session_id,omitempty"`
}

// Recipe is the parsed content of a scheduled recipe file. Provider and
// Model are optional per-recipe overrides; when empty, execution falls
// back to the global LLM configuration's default provider/model, the way
// a plain chat session would.
type Recipe struct {
	Name         string         `yaml:"name" json:"name"`
	Description  string         `yaml:"description" json:"description"`
	Prompt       string         `yaml:"prompt" json:"prompt"`
	Instructions string         `yaml:"instructions" json:"instructions"`
	Provider     string         `yaml:"provider" json:"provider"`
	Model        string         `yaml:"model" json:"model"`
	Parameters   map[string]any `yaml:"parameters" json:"parameters"`
}

// RegisterSpec is the caller-supplied request to add a new job: the
// recipe file to copy in and the cron schedule to run it on.
type RegisterSpec struct {
	ID       string
	Source   string
	CronExpr string
	Timezone string
}
