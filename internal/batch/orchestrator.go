// Package batch works the backlog autonomously: it picks up open tasks
// assigned to automated actors, lets the reasoner drive the tool catalog on
// their behalf, and guarantees every visited task either finishes or lands
// with a human.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/martin3r-me/platforms-planner-sub000/internal/domain"
	"github.com/martin3r-me/platforms-planner-sub000/internal/reasoner"
	"github.com/martin3r-me/platforms-planner-sub000/internal/repo"
	"github.com/martin3r-me/platforms-planner-sub000/internal/tool"
	"github.com/martin3r-me/platforms-planner-sub000/internal/tool/planner"
)

const (
	DefaultLockKey  = "planner.batch"
	DefaultDeadline = 10 * time.Minute

	// fallbackNote is appended when the reasoner produced no handover summary.
	fallbackNote = "automated processing ended without a summary"
)

type Config struct {
	LockKey  string
	LockTTL  time.Duration
	Deadline time.Duration
	// MaxItems caps how many tasks one run visits; 0 means unlimited.
	MaxItems int
	// TaskID restricts the run to a single task.
	TaskID string
	// DryRun selects tasks and resolves fallbacks without reasoning or writes.
	DryRun bool
}

func (c Config) withDefaults() Config {
	if c.LockKey == "" {
		c.LockKey = DefaultLockKey
	}
	if c.Deadline <= 0 {
		c.Deadline = DefaultDeadline
	}
	if c.LockTTL <= 0 {
		// The lock must outlive the run so a crashed holder expires instead
		// of blocking forever, with slack for the item in flight at deadline.
		c.LockTTL = 2*c.Deadline + 5*time.Minute
	}
	return c
}

type Report struct {
	Locked     bool          `json:"locked"`
	DryRun     bool          `json:"dry_run"`
	Visited    int           `json:"visited"`
	Completed  int           `json:"completed"`
	Reassigned int           `json:"reassigned"`
	FallenBack int           `json:"fallen_back"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration"`
}

// Orchestrator runs batch passes over the backlog. It is not safe for
// concurrent Run calls from one process; cross-process exclusion comes from
// the run lock.
type Orchestrator struct {
	Svc    *planner.Service
	Loop   *reasoner.Loop
	Logger *slog.Logger

	// current is the impersonation slot: the context tool calls run under
	// while an item is being worked.
	current tool.ExecutionContext
}

func New(svc *planner.Service, loop *reasoner.Loop, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{Svc: svc, Loop: loop, Logger: logger}
}

// Current exposes the impersonation slot; outside a run it is the zero
// context.
func (o *Orchestrator) Current() tool.ExecutionContext { return o.current }

func (o *Orchestrator) impersonate(ec tool.ExecutionContext) func() {
	prev := o.current
	o.current = ec
	return func() { o.current = prev }
}

// Run executes one batch pass. A held lock is not an error: the report says
// Locked=false and nothing happens. The deadline is only checked between
// items, so the item in flight when it passes always finishes.
func (o *Orchestrator) Run(ctx context.Context, cfg Config) (Report, error) {
	cfg = cfg.withDefaults()
	start := o.Svc.Now()
	report := Report{DryRun: cfg.DryRun}

	owner := uuid.New().String()
	got, err := o.Svc.Repo.AcquireRunLock(ctx, cfg.LockKey, owner, cfg.LockTTL, start)
	if err != nil {
		return report, fmt.Errorf("acquire run lock: %w", err)
	}
	if !got {
		o.Logger.Info("batch run skipped, lock held", "key", cfg.LockKey)
		return report, nil
	}
	report.Locked = true
	defer func() {
		if err := o.Svc.Repo.ReleaseRunLock(context.WithoutCancel(ctx), cfg.LockKey, owner); err != nil {
			o.Logger.Error("release run lock", "key", cfg.LockKey, "error", err)
		}
	}()

	deadline := start.Add(cfg.Deadline)
	var visited []string

	for {
		if cfg.MaxItems > 0 && report.Visited >= cfg.MaxItems {
			break
		}
		if !o.Svc.Now().Before(deadline) {
			o.Logger.Info("batch deadline reached", "visited", report.Visited)
			break
		}
		task, err := o.Svc.Repo.NextBatchTask(ctx, visited, cfg.TaskID)
		if errors.Is(err, repo.ErrNotFound) {
			break
		}
		if err != nil {
			return report, fmt.Errorf("select next task: %w", err)
		}
		visited = append(visited, task.ID)
		report.Visited++
		o.processItem(ctx, cfg, task, &report)
	}

	report.Duration = o.Svc.Now().Sub(start)
	if !cfg.DryRun {
		if err := o.appendRunEvent(ctx, owner, report); err != nil {
			o.Logger.Error("append run event", "error", err)
		}
	}
	o.Logger.Info("batch run finished",
		"visited", report.Visited,
		"completed", report.Completed,
		"reassigned", report.Reassigned,
		"fallen_back", report.FallenBack,
		"skipped", report.Skipped,
		"dry_run", report.DryRun,
	)
	return report, nil
}

func (o *Orchestrator) appendRunEvent(ctx context.Context, runID string, report Report) error {
	tx, err := o.Svc.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	err = o.Svc.Events.Append(ctx, tx, "batch.run.finished", "", "batch_run", runID, "system", map[string]any{
		"visited":     report.Visited,
		"completed":   report.Completed,
		"reassigned":  report.Reassigned,
		"fallen_back": report.FallenBack,
		"skipped":     report.Skipped,
		"duration_ms": report.Duration.Milliseconds(),
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (o *Orchestrator) processItem(ctx context.Context, cfg Config, task domain.Task, report *Report) {
	log := o.Logger.With("task", task.ID, "team", task.TeamID)

	assignee, err := o.Svc.Repo.GetActor(ctx, deref(task.AssigneeID))
	if err != nil {
		log.Warn("assignee unavailable, skipping", "error", err)
		report.Skipped++
		return
	}
	fallback, ok := o.resolveFallback(ctx, task)
	if !ok {
		log.Warn("no human fallback resolvable, skipping")
		report.Skipped++
		return
	}

	restore := o.impersonate(tool.ExecutionContext{Actor: assignee, TeamID: task.TeamID})
	defer restore()

	if cfg.DryRun {
		log.Info("dry run would process task", "assignee", assignee.ID, "fallback", fallback.ID)
		return
	}

	summary := ""
	if o.Loop != nil {
		out, err := o.Loop.Run(ctx, goalMessages(task, assignee, fallback), o.current)
		if err != nil {
			log.Error("reasoning failed", "error", err)
		} else {
			summary = out.Summary
			log.Info("reasoning finished", "iterations", out.Iterations, "calls", len(out.Calls), "hit_limit", out.HitLimit)
		}
	}

	// Verify against the store, not the transcript: only a terminal state
	// recorded in the database counts.
	after, err := o.Svc.Repo.GetTask(ctx, task.ID)
	if err != nil {
		log.Error("verify task", "error", err)
		report.Skipped++
		return
	}
	if after.Done {
		report.Completed++
		return
	}
	if handedOver, herr := o.reassignedToHuman(ctx, after); herr == nil && handedOver {
		report.Reassigned++
		return
	}

	if o.fallBack(ctx, after, assignee, fallback, summary) {
		report.FallenBack++
	} else {
		report.Skipped++
	}
}

// resolveFallback picks the human who inherits a task the run could not
// finish: the creator when the creator is human, otherwise the team owner.
func (o *Orchestrator) resolveFallback(ctx context.Context, task domain.Task) (domain.Actor, bool) {
	if creator, err := o.Svc.Repo.GetActor(ctx, task.CreatedBy); err == nil && !creator.IsAutomated {
		return creator, true
	}
	team, err := o.Svc.Repo.GetTeam(ctx, task.TeamID)
	if err != nil {
		return domain.Actor{}, false
	}
	owner, err := o.Svc.Repo.GetActor(ctx, team.OwnerActorID)
	if err != nil || owner.IsAutomated {
		return domain.Actor{}, false
	}
	return owner, true
}

func (o *Orchestrator) reassignedToHuman(ctx context.Context, task domain.Task) (bool, error) {
	if task.AssigneeID == nil {
		return false, nil
	}
	a, err := o.Svc.Repo.GetActor(ctx, *task.AssigneeID)
	if err != nil {
		return false, err
	}
	return !a.IsAutomated, nil
}

func (o *Orchestrator) fallBack(ctx context.Context, task domain.Task, assignee, fallback domain.Actor, summary string) bool {
	log := o.Logger.With("task", task.ID, "fallback", fallback.ID)
	note := summary
	if note == "" {
		note = fallbackNote
	}
	tx, err := o.Svc.DB.BeginTx(ctx, nil)
	if err != nil {
		log.Error("fallback begin", "error", err)
		return false
	}
	defer tx.Rollback()
	ec := tool.ExecutionContext{Actor: assignee, TeamID: task.TeamID}
	res := o.Svc.ReassignTaskTx(ctx, tx, task.ID, fallback.ID, note, ec)
	if !res.Ok {
		log.Error("fallback reassign", "code", res.Code, "message", res.Message)
		return false
	}
	if err := tx.Commit(); err != nil {
		log.Error("fallback commit", "error", err)
		return false
	}
	log.Info("task handed to fallback")
	return true
}

func goalMessages(task domain.Task, assignee, fallback domain.Actor) []reasoner.Message {
	system := fmt.Sprintf(
		"You are %s, an automated planner operator working inside team %s. "+
			"Use the available tools to finish the task you are given. Every task must end in exactly one of two states: "+
			"completed via planner.task.complete, or handed to a human via planner.task.reassign with assignee_id %q and a note summarizing what remains. "+
			"Do not leave the task assigned to an automated actor.",
		assignee.Name, task.TeamID, fallback.ID,
	)
	user := fmt.Sprintf("Work task %s: %q", task.ID, task.Title)
	if task.Description != "" {
		user += "\n\n" + task.Description
	}
	if task.DueAt != nil {
		user += fmt.Sprintf("\n\nDue: %s", *task.DueAt)
	}
	return []reasoner.Message{
		{Role: reasoner.RoleSystem, Content: system},
		{Role: reasoner.RoleUser, Content: user},
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
