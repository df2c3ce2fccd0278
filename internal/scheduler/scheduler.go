package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentrt/core/internal/agentcore"
	"github.com/agentrt/core/internal/config"
	"github.com/agentrt/core/internal/sessionstore"
	"github.com/agentrt/core/internal/toolregistry"
	"github.com/agentrt/core/pkg/convo"
)

// ErrJobExists is returned by Register when id is already scheduled.
var ErrJobExists = errors.New("scheduler: job id already registered")

// ErrJobNotFound is returned by operations addressing a job id the
// scheduler doesn't know about.
var ErrJobNotFound = errors.New("scheduler: job not found")

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Option configures a Scheduler at construction, following the teacher's
// functional-config pattern for internal/cron.Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithExecutionStore overrides where run history is recorded.
func WithExecutionStore(store ExecutionStore) Option {
	return func(s *Scheduler) { s.executions = store }
}

// WithProviderFactory overrides how a run resolves a providers.Provider
// from a provider name.
func WithProviderFactory(factory ProviderFactory) Option {
	return func(s *Scheduler) { s.providerFactory = factory }
}

// WithRegistry sets the tool registry runs are given.
func WithRegistry(registry agentcore.Registry) Option {
	return func(s *Scheduler) { s.registry = registry }
}

// WithNaming sets the naming provider runs are given for auto-titling.
func WithNaming(naming agentcore.NamingProvider) Option {
	return func(s *Scheduler) { s.naming = naming }
}

// WithNow overrides the scheduler's clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler registers recipe-driven jobs against a cron schedule,
// persists them across restarts, and drives one reply-loop turn per
// firing. It generalizes the teacher's internal/cron.Scheduler from that
// package's built-in message/agent/webhook/custom job types down to a
// single recipe-driven job model.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*Job

	storagePath string
	recipesDir  string

	llm             config.LLMConfig
	store           sessionstore.Store
	providerFactory ProviderFactory
	registry        agentcore.Registry
	naming          agentcore.NamingProvider

	executions ExecutionStore
	logger     *slog.Logger
	now        func() time.Time

	cronSched *cron.Cron
	entries   map[string]cron.EntryID
	running   map[string]context.CancelFunc
}

// New builds a Scheduler persisting to storagePath, copying registered
// recipes into recipesDir, and resolving providers/models against llm.
// It loads any previously-persisted jobs from storagePath immediately,
// skipping (with a warning) ones whose managed recipe copy has gone
// missing, matching the original scheduler's startup behavior.
func New(storagePath, recipesDir string, llm config.LLMConfig, store sessionstore.Store, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		jobs:            make(map[string]*Job),
		storagePath:     storagePath,
		recipesDir:      recipesDir,
		llm:             llm,
		store:           store,
		providerFactory: DefaultProviderFactory,
		registry:        toolregistry.New(),
		executions:      NewMemoryExecutionStore(),
		logger:          slog.Default(),
		now:             func() time.Time { return time.Now().UTC() },
		cronSched:       cron.New(cron.WithParser(cronParser)),
		entries:         make(map[string]cron.EntryID),
		running:         make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.loadFromStorage(); err != nil {
		return nil, err
	}
	s.cronSched.Start()
	return s, nil
}

// Stop halts the internal cron driver. In-flight runs are not canceled.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cronSched.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// Register adds a new job: the recipe at spec.Source is copied into the
// managed recipes directory (Job.Source is rewritten to point at the
// copy), the job is persisted, and a cron entry is armed.
func (s *Scheduler) Register(spec RegisterSpec) (*Job, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("scheduler: job id is required")
	}
	if _, err := cronParser.Parse(spec.CronExpr); err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron expression %q: %w", spec.CronExpr, err)
	}

	info, err := os.Stat(spec.Source)
	if err != nil {
		return nil, fmt.Errorf("scheduler: recipe source %q: %w", spec.Source, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("scheduler: recipe source %q is a directory, not a file", spec.Source)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[spec.ID]; exists {
		return nil, ErrJobExists
	}

	ext := filepath.Ext(spec.Source)
	if ext == "" {
		ext = ".yaml"
	}
	dest := filepath.Join(s.recipesDir, spec.ID+ext)
	if err := copyFile(spec.Source, dest); err != nil {
		return nil, fmt.Errorf("scheduler: copy recipe into managed directory: %w", err)
	}

	job := &Job{
		ID:       spec.ID,
		Source:   dest,
		CronExpr: spec.CronExpr,
		Timezone: spec.Timezone,
	}
	if err := s.armLocked(job); err != nil {
		os.Remove(dest)
		return nil, err
	}
	s.jobs[job.ID] = job

	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return cloneJob(job), nil
}

// List returns a snapshot of all registered jobs.
func (s *Scheduler) List() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Get returns one job by id.
func (s *Scheduler) Get(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

// Pause disarms a job's cron entry without removing it from the
// persisted list; RunNow still works on a paused job.
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if entryID, ok := s.entries[id]; ok {
		s.cronSched.Remove(entryID)
		delete(s.entries, id)
	}
	job.Paused = true
	return s.persistLocked()
}

// Resume re-arms a paused job's cron entry.
func (s *Scheduler) Resume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Paused = false
	if err := s.armLocked(job); err != nil {
		return err
	}
	return s.persistLocked()
}

// Remove unregisters a job, deletes its managed recipe copy, and persists
// the resulting list.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if entryID, ok := s.entries[id]; ok {
		s.cronSched.Remove(entryID)
		delete(s.entries, id)
	}
	delete(s.jobs, id)
	if err := os.Remove(job.Source); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("scheduler: remove managed recipe %q: %w", job.Source, err)
	}
	return s.persistLocked()
}

// Kill cancels job id's in-flight execution, if it has one. It is not an
// error to kill a job that isn't currently running; the run, if any, stops
// with a context-cancellation error the same way ctx cancellation from a
// caller of RunNow would.
func (s *Scheduler) Kill(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrJobNotFound
	}
	if cancel, ok := s.running[id]; ok {
		cancel()
	}
	return nil
}

// RunNow executes a job immediately, outside its cron schedule. Unlike a
// cron-triggered firing, last_run is only stamped and persisted once the
// run has actually succeeded, matching the original scheduler's run_now.
func (s *Scheduler) RunNow(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return "", ErrJobNotFound
	}
	job = cloneJob(job)
	s.mu.Unlock()

	sessionID, err := s.execute(ctx, job)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if live, ok := s.jobs[id]; ok {
		now := s.now()
		live.LastRun = &now
	}
	persistErr := s.persistLocked()
	s.mu.Unlock()
	if persistErr != nil {
		s.logger.Error("scheduler: persist after run_now", "job", id, "error", persistErr)
	}

	return sessionID, nil
}

// History returns sessions produced by jobID, newest first, bounded by
// limit (0 means unbounded).
func (s *Scheduler) History(ctx context.Context, jobID string, limit int) ([]*sessionstore.Session, error) {
	sessions, err := s.store.ListSessionsByTypes(ctx, sessionstore.ListOptions{
		Types: []sessionstore.SessionType{sessionstore.TypeScheduled},
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: list scheduled sessions: %w", err)
	}

	matched := make([]*sessionstore.Session, 0, len(sessions))
	for _, sess := range sessions {
		if sess.ScheduleID == jobID {
			matched = append(matched, sess)
		}
	}
	sort.Slice(matched, func(i, k int) bool { return matched[i].CreatedAt.After(matched[k].CreatedAt) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// armLocked registers job's cron entry, replacing any existing one for
// the same id. Callers must hold s.mu.
func (s *Scheduler) armLocked(job *Job) error {
	if job.Paused {
		return nil
	}
	if entryID, ok := s.entries[job.ID]; ok {
		s.cronSched.Remove(entryID)
		delete(s.entries, job.ID)
	}
	id := job.ID
	entryID, err := s.cronSched.AddFunc(job.CronExpr, func() {
		s.fire(id)
	})
	if err != nil {
		return fmt.Errorf("scheduler: arm job %q: %w", job.ID, err)
	}
	s.entries[job.ID] = entryID
	return nil
}

// fire is the cron callback: it snapshots the job, stamps last_run before
// executing (per the spec's last_run-before-execution invariant), and
// logs any execution failure without disabling the job.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	now := s.now()
	job.LastRun = &now
	snapshot := cloneJob(job)
	persistErr := s.persistLocked()
	s.mu.Unlock()
	if persistErr != nil {
		s.logger.Error("scheduler: persist before run", "job", id, "error", persistErr)
	}

	if _, err := s.execute(context.Background(), snapshot); err != nil {
		s.logger.Error("scheduler: job run failed", "job", id, "error", err)
	}
}

// execute is the Go translation of the original scheduler's five-step
// run: load the recipe, resolve a provider/model, create a Scheduled
// session, drive one reply-loop turn, and stream the result to logs. It
// also tracks the run as killable: Kill(job.ID) cancels the context
// runRecipe was given, and CurrentlyRunning/CurrentSessionID on the live
// Job reflect the run for as long as it's in flight.
func (s *Scheduler) execute(ctx context.Context, job *Job) (string, error) {
	runCtx, cancel := context.WithCancel(ctx)
	sessionID := sessionstore.NextSessionID(s.now(), s.now().UnixNano())

	s.mu.Lock()
	s.running[job.ID] = cancel
	if live, ok := s.jobs[job.ID]; ok {
		live.CurrentlyRunning = true
		live.CurrentSessionID = sessionID
	}
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.running, job.ID)
		if live, ok := s.jobs[job.ID]; ok {
			live.CurrentlyRunning = false
			live.CurrentSessionID = ""
		}
		s.mu.Unlock()
	}()

	exec := &JobExecution{
		ID:        job.ID + "-" + strconv.FormatInt(s.now().UnixNano(), 10),
		JobID:     job.ID,
		Status:    ExecutionRunning,
		StartedAt: s.now(),
	}
	s.executions.Create(ctx, exec)

	result, err := s.runRecipe(runCtx, job, sessionID)
	exec.CompletedAt = s.now()
	exec.Duration = exec.CompletedAt.Sub(exec.StartedAt)
	if err != nil {
		exec.Status = ExecutionFailed
		exec.Error = err.Error()
		s.executions.Update(ctx, exec)
		return "", fmt.Errorf("scheduler: job %q: %w", job.ID, err)
	}
	exec.Status = ExecutionSucceeded
	exec.SessionID = result
	s.executions.Update(ctx, exec)
	return result, nil
}

func (s *Scheduler) runRecipe(ctx context.Context, job *Job, sessionID string) (string, error) {
	s.logger.Info("scheduler: executing job", "job", job.ID, "source", job.Source)

	recipe, err := LoadRecipe(job.Source)
	if err != nil {
		return "", err
	}

	providerName, modelName, err := resolveProviderModel(recipe, s.llm)
	if err != nil {
		return "", err
	}
	provider, err := s.providerFactory(ctx, providerName, s.llm)
	if err != nil {
		return "", fmt.Errorf("create provider %q: %w", providerName, err)
	}

	adapter := sessionstore.NewLoopAdapter(s.store)
	loop := agentcore.New(provider, s.registry, adapter, s.naming)

	session := &agentcore.Session{
		ID:           sessionID,
		Provider:     providerName,
		Model:        modelName,
		SystemPrompt: recipe.Instructions,
		Conversation: convo.Empty(),
		Config:       agentcore.DefaultSessionConfig(),
		Created:      s.now(),
	}
	if err := adapter.EnsureScheduledSession(ctx, session, job.ID); err != nil {
		return "", fmt.Errorf("create scheduled session: %w", err)
	}

	if recipe.Prompt == "" {
		s.logger.Warn("scheduler: job has no prompt, skipping execution", "job", job.ID)
		return sessionID, nil
	}

	events, err := loop.Reply(ctx, sessionID, convo.NewUserMessage(recipe.Prompt))
	if err != nil {
		return "", fmt.Errorf("start reply: %w", err)
	}
	for ev := range events {
		switch ev.Type {
		case agentcore.EventMessage:
			if ev.Message.Role == convo.RoleAssistant {
				s.logger.Info("scheduler: assistant message", "job", job.ID, "text", ev.Message.Text())
			}
		case agentcore.EventError:
			s.logger.Error("scheduler: error receiving message from agent", "job", job.ID, "error", ev.Err)
			if ev.Fatal {
				return sessionID, fmt.Errorf("reply stream: %w", ev.Err)
			}
		}
	}
	return sessionID, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func cloneJob(j *Job) *Job {
	clone := *j
	if j.LastRun != nil {
		t := *j.LastRun
		clone.LastRun = &t
	}
	return &clone
}

// persistedJob is the on-disk shape of a Job, kept separate so the JSON
// field names stay stable independent of Job's own layout.
type persistedJob struct {
	ID       string     `json:"id"`
	Source   string     `json:"source"`
	CronExpr string     `json:"cron"`
	Timezone string     `json:"timezone,omitempty"`
	Paused   bool       `json:"paused"`
	LastRun  *time.Time `json:"last_run,omitempty"`
}

func (s *Scheduler) persistLocked() error {
	list := make([]persistedJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		list = append(list, persistedJob{
			ID: j.ID, Source: j.Source, CronExpr: j.CronExpr,
			Timezone: j.Timezone, Paused: j.Paused, LastRun: j.LastRun,
		})
	}
	sort.Slice(list, func(i, k int) bool { return list[i].ID < list[k].ID })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("scheduler: marshal job list: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.storagePath), 0o755); err != nil {
		return fmt.Errorf("scheduler: create storage directory: %w", err)
	}
	if err := os.WriteFile(s.storagePath, data, 0o644); err != nil {
		return fmt.Errorf("scheduler: write job list: %w", err)
	}
	return nil
}

// loadFromStorage reads the persisted job list (if any) and arms a cron
// entry for each job whose managed recipe copy still exists, skipping
// (with a warning) any whose recipe has disappeared out from under it.
func (s *Scheduler) loadFromStorage() error {
	data, err := os.ReadFile(s.storagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scheduler: read job list: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var list []persistedJob
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("scheduler: parse job list: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pj := range list {
		if _, err := os.Stat(pj.Source); err != nil {
			s.logger.Warn("scheduler: recipe for scheduled job not found, skipping load", "job", pj.ID, "source", pj.Source)
			continue
		}
		job := &Job{
			ID: pj.ID, Source: pj.Source, CronExpr: pj.CronExpr,
			Timezone: pj.Timezone, Paused: pj.Paused, LastRun: pj.LastRun,
		}
		if err := s.armLocked(job); err != nil {
			s.logger.Warn("scheduler: failed to arm loaded job, skipping", "job", pj.ID, "error", err)
			continue
		}
		s.jobs[job.ID] = job
	}
	return nil
}
