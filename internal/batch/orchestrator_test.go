package batch_test

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/martin3r-me/platforms-planner-sub000/internal/batch"
	"github.com/martin3r-me/platforms-planner-sub000/internal/db"
	"github.com/martin3r-me/platforms-planner-sub000/internal/domain"
	"github.com/martin3r-me/platforms-planner-sub000/internal/migrate"
	"github.com/martin3r-me/platforms-planner-sub000/internal/policy"
	"github.com/martin3r-me/platforms-planner-sub000/internal/reasoner"
	"github.com/martin3r-me/platforms-planner-sub000/internal/tool"
	"github.com/martin3r-me/platforms-planner-sub000/internal/tool/planner"
)

type testEnv struct {
	DB  *sql.DB
	Svc *planner.Service
	Reg *tool.Registry
	Ctx context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc := planner.NewService(conn, policy.AllowAll{})
	svc.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	reg := tool.NewRegistry(nil)
	planner.RegisterAll(reg, svc)

	env := &testEnv{DB: conn, Svc: svc, Reg: reg, Ctx: context.Background()}
	env.seedActor(t, "alice", false)
	env.seedActor(t, "autopilot", true)
	env.seedTeam(t, "team-a", "alice")
	env.seedProject(t, "proj-1", "team-a", "alice")
	return env
}

func (e *testEnv) seedActor(t *testing.T, id string, automated bool) {
	t.Helper()
	err := e.Svc.Repo.InsertActor(e.Ctx, domain.Actor{ID: id, Name: id, IsAutomated: automated, CreatedAt: "2026-03-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("seed actor %s: %v", id, err)
	}
}

func (e *testEnv) seedTeam(t *testing.T, id, owner string) {
	t.Helper()
	tx, err := e.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := e.Svc.Repo.InsertTeam(e.Ctx, tx, domain.Team{ID: id, Name: id, OwnerActorID: owner, CreatedAt: "2026-03-01T00:00:00Z"}); err != nil {
		t.Fatalf("seed team: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func (e *testEnv) seedProject(t *testing.T, id, teamID, createdBy string) {
	t.Helper()
	tx, err := e.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	now := "2026-03-01T00:00:00Z"
	err = e.Svc.Repo.InsertProject(e.Ctx, tx, domain.Project{
		ID: id, TeamID: teamID, Name: id, Status: "active", CreatedBy: createdBy, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func (e *testEnv) seedTask(t *testing.T, id, createdBy, assignee string, dueAt *string) {
	t.Helper()
	tx, err := e.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	now := "2026-03-01T00:00:00Z"
	task := domain.Task{
		ID: id, TeamID: "team-a", ProjectID: "proj-1", Title: id,
		CreatedBy: createdBy, DueAt: dueAt, CreatedAt: now, UpdatedAt: now,
	}
	if assignee != "" {
		task.AssigneeID = &assignee
	}
	if err := e.Svc.Repo.InsertTask(e.Ctx, tx, task); err != nil {
		t.Fatalf("seed task %s: %v", id, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

var taskIDPattern = regexp.MustCompile(`Work task (\S+):`)

// completingProvider finishes every task it is handed with a single
// planner.task.complete call and records the order tasks arrived in.
type completingProvider struct {
	seen []string
}

func (p *completingProvider) Name() string { return "completing" }

func (p *completingProvider) Complete(_ context.Context, req reasoner.Request) (*reasoner.Reply, error) {
	last := req.Messages[len(req.Messages)-1]
	if last.Role == reasoner.RoleTool {
		return &reasoner.Reply{Content: "done"}, nil
	}
	m := taskIDPattern.FindStringSubmatch(last.Content)
	if m == nil {
		return &reasoner.Reply{Content: "no task named"}, nil
	}
	p.seen = append(p.seen, m[1])
	return &reasoner.Reply{ToolCalls: []reasoner.ToolCall{{
		ID:        "call-" + m[1],
		Name:      "planner.task.complete",
		Arguments: []byte(`{"task_id":"` + m[1] + `"}`),
	}}}, nil
}

// idleProvider never acts, so every task must fall back.
type idleProvider struct{}

func (idleProvider) Name() string { return "idle" }

func (idleProvider) Complete(context.Context, reasoner.Request) (*reasoner.Reply, error) {
	return &reasoner.Reply{Content: "I could not make progress on this."}, nil
}

func newOrchestrator(env *testEnv, provider reasoner.Provider) *batch.Orchestrator {
	loop := &reasoner.Loop{Provider: provider, Registry: env.Reg}
	return batch.New(env.Svc, loop, nil)
}

func TestRunCompletesTasksInDueOrder(t *testing.T) {
	env := newTestEnv(t)
	late := "2026-03-20T00:00:00Z"
	soon := "2026-03-02T00:00:00Z"
	env.seedTask(t, "task-late", "alice", "autopilot", &late)
	env.seedTask(t, "task-none", "alice", "autopilot", nil)
	env.seedTask(t, "task-soon", "alice", "autopilot", &soon)

	provider := &completingProvider{}
	report, err := newOrchestrator(env, provider).Run(env.Ctx, batch.Config{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.Locked || report.Visited != 3 || report.Completed != 3 {
		t.Fatalf("report: %+v", report)
	}
	want := []string{"task-soon", "task-late", "task-none"}
	if strings.Join(provider.seen, ",") != strings.Join(want, ",") {
		t.Fatalf("processing order %v, want %v", provider.seen, want)
	}
}

func TestRunFallsBackToCreator(t *testing.T) {
	env := newTestEnv(t)
	env.seedTask(t, "task-1", "alice", "autopilot", nil)

	report, err := newOrchestrator(env, idleProvider{}).Run(env.Ctx, batch.Config{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.FallenBack != 1 || report.Completed != 0 {
		t.Fatalf("report: %+v", report)
	}
	task, err := env.Svc.Repo.GetTask(env.Ctx, "task-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.AssigneeID == nil || *task.AssigneeID != "alice" {
		t.Fatalf("assignee = %v, want alice", task.AssigneeID)
	}
	if !strings.Contains(task.Description, "I could not make progress") {
		t.Fatalf("handover note missing: %q", task.Description)
	}
	if strings.Count(task.Description, "autopilot]") != 1 {
		t.Fatalf("expected exactly one attributed note: %q", task.Description)
	}
}

func TestRunFallsBackToTeamOwnerWhenCreatorAutomated(t *testing.T) {
	env := newTestEnv(t)
	env.seedTask(t, "task-1", "autopilot", "autopilot", nil)

	report, err := newOrchestrator(env, idleProvider{}).Run(env.Ctx, batch.Config{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.FallenBack != 1 {
		t.Fatalf("report: %+v", report)
	}
	task, _ := env.Svc.Repo.GetTask(env.Ctx, "task-1")
	if task.AssigneeID == nil || *task.AssigneeID != "alice" {
		t.Fatalf("assignee = %v, want team owner alice", task.AssigneeID)
	}
}

func TestRunNoProviderSummaryUsesPlaceholderNote(t *testing.T) {
	env := newTestEnv(t)
	env.seedTask(t, "task-1", "alice", "autopilot", nil)

	orch := batch.New(env.Svc, nil, nil)
	report, err := orch.Run(env.Ctx, batch.Config{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.FallenBack != 1 {
		t.Fatalf("report: %+v", report)
	}
	task, _ := env.Svc.Repo.GetTask(env.Ctx, "task-1")
	if !strings.Contains(task.Description, "automated processing ended without a summary") {
		t.Fatalf("placeholder note missing: %q", task.Description)
	}
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	env := newTestEnv(t)
	env.seedTask(t, "task-1", "alice", "autopilot", nil)
	got, err := env.Svc.Repo.AcquireRunLock(env.Ctx, batch.DefaultLockKey, "other-run", time.Hour, env.Svc.Now())
	if err != nil || !got {
		t.Fatalf("pre-acquire lock: got=%v err=%v", got, err)
	}

	report, err := newOrchestrator(env, idleProvider{}).Run(env.Ctx, batch.Config{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Locked || report.Visited != 0 {
		t.Fatalf("held lock should make the run a no-op: %+v", report)
	}
	task, _ := env.Svc.Repo.GetTask(env.Ctx, "task-1")
	if task.AssigneeID == nil || *task.AssigneeID != "autopilot" {
		t.Fatalf("task touched despite held lock")
	}
}

func TestRunReleasesLock(t *testing.T) {
	env := newTestEnv(t)
	if _, err := newOrchestrator(env, idleProvider{}).Run(env.Ctx, batch.Config{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := env.Svc.Repo.GetRunLock(env.Ctx, batch.DefaultLockKey); err == nil {
		t.Fatalf("lock still held after run")
	}
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.seedTask(t, "task-1", "alice", "autopilot", nil)

	report, err := newOrchestrator(env, idleProvider{}).Run(env.Ctx, batch.Config{DryRun: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.DryRun || report.Visited != 1 || report.FallenBack != 0 {
		t.Fatalf("report: %+v", report)
	}
	task, _ := env.Svc.Repo.GetTask(env.Ctx, "task-1")
	if task.AssigneeID == nil || *task.AssigneeID != "autopilot" || task.Description != "" {
		t.Fatalf("dry run modified the task: %+v", task)
	}
}

func TestRunMaxItemsCap(t *testing.T) {
	env := newTestEnv(t)
	env.seedTask(t, "task-1", "alice", "autopilot", nil)
	env.seedTask(t, "task-2", "alice", "autopilot", nil)
	env.seedTask(t, "task-3", "alice", "autopilot", nil)

	report, err := newOrchestrator(env, &completingProvider{}).Run(env.Ctx, batch.Config{MaxItems: 2})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Visited != 2 || report.Completed != 2 {
		t.Fatalf("report: %+v", report)
	}
}

func TestRunSingleTaskFilter(t *testing.T) {
	env := newTestEnv(t)
	env.seedTask(t, "task-1", "alice", "autopilot", nil)
	env.seedTask(t, "task-2", "alice", "autopilot", nil)

	report, err := newOrchestrator(env, &completingProvider{}).Run(env.Ctx, batch.Config{TaskID: "task-2"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Visited != 1 || report.Completed != 1 {
		t.Fatalf("report: %+v", report)
	}
	other, _ := env.Svc.Repo.GetTask(env.Ctx, "task-1")
	if other.Done {
		t.Fatalf("filter processed the wrong task")
	}
}

func TestRunDeadlineChecksBetweenItems(t *testing.T) {
	env := newTestEnv(t)
	env.seedTask(t, "task-1", "alice", "autopilot", nil)
	env.seedTask(t, "task-2", "alice", "autopilot", nil)

	// The clock jumps a minute per reading, so the 90s budget survives the
	// first between-items check but not the second. The item in flight still
	// finishes.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	env.Svc.Now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Minute)
	}

	report, err := newOrchestrator(env, &completingProvider{}).Run(env.Ctx, batch.Config{Deadline: 90 * time.Second})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Visited != 1 || report.Completed != 1 {
		t.Fatalf("report: %+v", report)
	}
}
