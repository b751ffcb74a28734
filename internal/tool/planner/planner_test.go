package planner_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/martin3r-me/platforms-planner-sub000/internal/db"
	"github.com/martin3r-me/platforms-planner-sub000/internal/domain"
	"github.com/martin3r-me/platforms-planner-sub000/internal/migrate"
	"github.com/martin3r-me/platforms-planner-sub000/internal/policy"
	"github.com/martin3r-me/platforms-planner-sub000/internal/repo"
	"github.com/martin3r-me/platforms-planner-sub000/internal/tool"
	"github.com/martin3r-me/platforms-planner-sub000/internal/tool/planner"
)

type testEnv struct {
	DB  *sql.DB
	Svc *planner.Service
	Reg *tool.Registry
	Ctx context.Context
	EC  tool.ExecutionContext
}

func newTestEnv(t *testing.T) testEnv {
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
	ctx := context.Background()

	env := testEnv{DB: conn, Svc: svc, Reg: reg, Ctx: ctx}
	env.seedActor(t, "alice", false)
	env.seedTeam(t, "team-a", "alice")
	env.EC = tool.ExecutionContext{Actor: domain.Actor{ID: "alice"}, TeamID: "team-a"}
	return env
}

func (e testEnv) seedActor(t *testing.T, id string, automated bool) {
	t.Helper()
	err := e.Svc.Repo.InsertActor(e.Ctx, domain.Actor{ID: id, Name: id, IsAutomated: automated, CreatedAt: "2026-03-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("seed actor %s: %v", id, err)
	}
}

func (e testEnv) seedTeam(t *testing.T, id, owner string) {
	t.Helper()
	tx, err := e.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	err = e.Svc.Repo.InsertTeam(e.Ctx, tx, domain.Team{ID: id, Name: id, OwnerActorID: owner, CreatedAt: "2026-03-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("seed team %s: %v", id, err)
	}
	if err := e.Svc.Repo.AddTeamMember(e.Ctx, tx, id, owner, "owner"); err != nil {
		t.Fatalf("seed member: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func (e testEnv) invoke(t *testing.T, name string, args tool.Args) tool.Result {
	t.Helper()
	return e.Reg.Invoke(e.Ctx, name, args, e.EC)
}

func (e testEnv) mustInvoke(t *testing.T, name string, args tool.Args) tool.Result {
	t.Helper()
	res := e.invoke(t, name, args)
	if !res.Ok {
		t.Fatalf("%s failed: %s %s", name, res.Code, res.Message)
	}
	return res
}

func resultID(t *testing.T, res tool.Result, key string) string {
	t.Helper()
	obj, _ := res.Data[key].(map[string]any)
	id, _ := obj["id"].(string)
	if id == "" {
		t.Fatalf("result has no %s.id: %#v", key, res.Data)
	}
	return id
}

func TestProjectCreateAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	res := env.mustInvoke(t, "planner.project.create", tool.Args{"name": "Launch"})
	projectID := resultID(t, res, "project")

	env.mustInvoke(t, "planner.task.create", tool.Args{"project_id": projectID, "title": "write docs"})
	done := env.mustInvoke(t, "planner.task.create", tool.Args{"project_id": projectID, "title": "ship it", "due_at": "2026-02-01T00:00:00Z"})
	env.mustInvoke(t, "planner.task.complete", tool.Args{"task_id": resultID(t, done, "task")})

	res = env.mustInvoke(t, "planner.project.metrics", tool.Args{"project_id": projectID})
	tasks, _ := res.Data["tasks"].(map[string]any)
	if got := tasks["total"]; got != float64(2) && got != 2 {
		t.Fatalf("total = %v, want 2", got)
	}
	if got := tasks["done"]; got != float64(1) && got != 1 {
		t.Fatalf("done = %v, want 1", got)
	}
}

func TestProjectMetricsEmptyProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustInvoke(t, "planner.project.create", tool.Args{"name": "Empty"})

	res := env.mustInvoke(t, "planner.project.metrics", tool.Args{"project_id": resultID(t, p, "project")})
	tasks, ok := res.Data["tasks"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected metrics payload: %v", res.Data)
	}
	for _, field := range []string{"total", "open", "done", "overdue", "in_sprints"} {
		if got := tasks[field]; got != float64(0) && got != 0 {
			t.Fatalf("%s = %v, want 0", field, got)
		}
	}
}

func TestTaskCompleteSetsCompletedAt(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustInvoke(t, "planner.project.create", tool.Args{"name": "P"})
	created := env.mustInvoke(t, "planner.task.create", tool.Args{"project_id": resultID(t, p, "project"), "title": "t"})
	taskID := resultID(t, created, "task")

	env.mustInvoke(t, "planner.task.complete", tool.Args{"task_id": taskID})
	task, err := env.Svc.Repo.GetTask(env.Ctx, taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if !task.Done || task.CompletedAt == nil {
		t.Fatalf("task not completed: done=%v completed_at=%v", task.Done, task.CompletedAt)
	}
	// Completing twice keeps the first completion timestamp.
	first := *task.CompletedAt
	env.Svc.Now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }
	env.mustInvoke(t, "planner.task.complete", tool.Args{"task_id": taskID})
	task, _ = env.Svc.Repo.GetTask(env.Ctx, taskID)
	if task.CompletedAt == nil || *task.CompletedAt != first {
		t.Fatalf("completed_at changed on repeat completion: %v", task.CompletedAt)
	}
}

func TestSlotCreateResolvesSoleProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustInvoke(t, "planner.project.create", tool.Args{"name": "Only"})
	projectID := resultID(t, p, "project")

	res := env.mustInvoke(t, "planner.slot.create", tool.Args{"name": "Backlog"})
	slot, _ := res.Data["slot"].(map[string]any)
	if slot["project_id"] != projectID {
		t.Fatalf("slot landed in project %v, want %v", slot["project_id"], projectID)
	}
}

func TestSlotCreateShortCircuitsOnAmbiguousProject(t *testing.T) {
	env := newTestEnv(t)
	env.mustInvoke(t, "planner.project.create", tool.Args{"name": "A"})
	env.mustInvoke(t, "planner.project.create", tool.Args{"name": "B"})

	res := env.invoke(t, "planner.slot.create", tool.Args{"name": "Backlog"})
	if !res.Ok {
		t.Fatalf("expected the project listing, got failure: %s %s", res.Code, res.Message)
	}
	if _, hasSlot := res.Data["slot"]; hasSlot {
		t.Fatalf("slot was created despite ambiguous project")
	}
	if res.Data["count"] != float64(2) && res.Data["count"] != 2 {
		t.Fatalf("expected 2 candidate projects, got %v", res.Data["count"])
	}
}

func TestTaskCreateRejectsForeignSlot(t *testing.T) {
	env := newTestEnv(t)
	p1 := env.mustInvoke(t, "planner.project.create", tool.Args{"name": "A"})
	p2 := env.mustInvoke(t, "planner.project.create", tool.Args{"name": "B"})
	s1 := env.mustInvoke(t, "planner.slot.create", tool.Args{"project_id": resultID(t, p1, "project"), "name": "Backlog"})

	res := env.invoke(t, "planner.task.create", tool.Args{
		"project_id": resultID(t, p2, "project"),
		"slot_id":    resultID(t, s1, "slot"),
		"title":      "misfiled",
	})
	if res.Ok || res.Code != tool.CodeProjectMismatch {
		t.Fatalf("expected PROJECT_MISMATCH, got ok=%v code=%s", res.Ok, res.Code)
	}
}

func TestBulkCreateBestEffortAccounting(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustInvoke(t, "planner.project.create", tool.Args{"name": "P"})
	projectID := resultID(t, p, "project")

	res := env.mustInvoke(t, "planner.task.bulk_create", tool.Args{
		"defaults": map[string]any{"project_id": projectID},
		"items": []any{
			map[string]any{"title": "one"},
			map[string]any{"title": ""},
			map[string]any{"title": "three"},
		},
	})
	summary, _ := res.Data["summary"].(map[string]any)
	if summary["ok"] != 2 && summary["ok"] != float64(2) {
		t.Fatalf("ok = %v, want 2", summary["ok"])
	}
	if summary["failed"] != 1 && summary["failed"] != float64(1) {
		t.Fatalf("failed = %v, want 1", summary["failed"])
	}
	tasks, err := env.Svc.Repo.ListTasks(env.Ctx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("persisted %d tasks, want 2", len(tasks))
	}
}

func TestBulkUpdateAtomicRollsBack(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustInvoke(t, "planner.project.create", tool.Args{"name": "P"})
	projectID := resultID(t, p, "project")
	created := env.mustInvoke(t, "planner.task.create", tool.Args{"project_id": projectID, "title": "keep me open"})
	taskID := resultID(t, created, "task")

	res := env.invoke(t, "planner.task.bulk_update", tool.Args{
		"items": []any{
			map[string]any{"task_id": taskID, "done": true},
			map[string]any{"task_id": "missing", "done": true},
		},
	})
	if res.Ok || res.Code != tool.CodeBulkValidation {
		t.Fatalf("expected BULK_VALIDATION_ERROR, got ok=%v code=%s", res.Ok, res.Code)
	}
	if res.Details["index"] != 1 && res.Details["index"] != float64(1) {
		t.Fatalf("failing index = %v, want 1", res.Details["index"])
	}
	task, err := env.Svc.Repo.GetTask(env.Ctx, taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Done {
		t.Fatalf("first item was applied despite atomic abort")
	}
}

func TestBulkCreateConfirmationThreshold(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustInvoke(t, "planner.project.create", tool.Args{"name": "P"})
	projectID := resultID(t, p, "project")

	items := make([]any, 21)
	for i := range items {
		items[i] = map[string]any{"title": "t"}
	}
	args := tool.Args{"defaults": map[string]any{"project_id": projectID}, "items": items}

	res := env.invoke(t, "planner.task.bulk_create", args)
	if res.Ok || res.Code != tool.CodeConfirmationRequired {
		t.Fatalf("expected CONFIRMATION_REQUIRED, got ok=%v code=%s", res.Ok, res.Code)
	}
	res = env.mustInvoke(t, "planner.task.bulk_create", args.Merge(tool.Args{"confirm": true}))
	summary, _ := res.Data["summary"].(map[string]any)
	if summary["ok"] != 21 && summary["ok"] != float64(21) {
		t.Fatalf("ok = %v, want 21", summary["ok"])
	}
}

func TestProjectTransferPreviewThenConfirm(t *testing.T) {
	env := newTestEnv(t)
	env.seedTeam(t, "team-b", "alice")

	p := env.mustInvoke(t, "planner.project.create", tool.Args{"name": "Moving"})
	projectID := resultID(t, p, "project")
	slot := env.mustInvoke(t, "planner.slot.create", tool.Args{"project_id": projectID, "name": "Backlog"})
	slotID := resultID(t, slot, "slot")
	sprint := env.mustInvoke(t, "planner.sprint.create", tool.Args{"name": "Sprint 1"})
	sprintID := resultID(t, sprint, "sprint")

	t1 := env.mustInvoke(t, "planner.task.create", tool.Args{"project_id": projectID, "slot_id": slotID, "sprint_id": sprintID, "title": "in sprint"})
	env.mustInvoke(t, "planner.task.create", tool.Args{"project_id": projectID, "title": "loose"})

	transferArgs := tool.Args{"project_id": projectID, "target_team_id": "team-b"}
	res := env.invoke(t, "planner.project.transfer", transferArgs)
	if res.Ok || res.Code != tool.CodeConfirmationRequired {
		t.Fatalf("expected CONFIRMATION_REQUIRED, got ok=%v code=%s", res.Ok, res.Code)
	}
	preview, _ := res.Details["preview"].(map[string]any)
	if preview["slots"] != float64(1) || preview["tasks"] != float64(2) || preview["sprint_tasks"] != float64(1) {
		t.Fatalf("preview = %#v", preview)
	}

	// The preview call must not have moved anything.
	proj, _ := env.Svc.Repo.GetProject(env.Ctx, projectID)
	if proj.TeamID != "team-a" {
		t.Fatalf("preview moved the project")
	}

	res = env.mustInvoke(t, "planner.project.transfer", transferArgs.Merge(tool.Args{"confirm": true}))
	if res.Data["transferred"] != true {
		t.Fatalf("transferred = %v", res.Data["transferred"])
	}

	proj, _ = env.Svc.Repo.GetProject(env.Ctx, projectID)
	if proj.TeamID != "team-b" {
		t.Fatalf("project team = %s, want team-b", proj.TeamID)
	}
	movedSlot, _ := env.Svc.Repo.GetSlot(env.Ctx, slotID)
	if movedSlot.TeamID != "team-b" {
		t.Fatalf("slot team = %s, want team-b", movedSlot.TeamID)
	}
	sprintTask, _ := env.Svc.Repo.GetTask(env.Ctx, resultID(t, t1, "task"))
	if sprintTask.TeamID != "team-b" {
		t.Fatalf("task team = %s, want team-b", sprintTask.TeamID)
	}
	if sprintTask.SprintID != nil {
		t.Fatalf("task kept sprint %v after leaving the team", *sprintTask.SprintID)
	}
}

func TestProjectTransferSameTeamIsNoop(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustInvoke(t, "planner.project.create", tool.Args{"name": "Stay"})
	res := env.mustInvoke(t, "planner.project.transfer", tool.Args{
		"project_id":     resultID(t, p, "project"),
		"target_team_id": "team-a",
	})
	if res.Data["transferred"] != false {
		t.Fatalf("same-team transfer should be a no-op, got %v", res.Data["transferred"])
	}
}

func TestSlotTransferRequiresProjectMoveFirst(t *testing.T) {
	env := newTestEnv(t)
	env.seedTeam(t, "team-b", "alice")
	p := env.mustInvoke(t, "planner.project.create", tool.Args{"name": "Anchored"})
	slot := env.mustInvoke(t, "planner.slot.create", tool.Args{"project_id": resultID(t, p, "project"), "name": "Backlog"})

	res := env.invoke(t, "planner.slot.transfer", tool.Args{
		"slot_id":        resultID(t, slot, "slot"),
		"target_team_id": "team-b",
	})
	if res.Ok || res.Code != tool.CodeTransferNotAllowed {
		t.Fatalf("expected TRANSFER_NOT_ALLOWED, got ok=%v code=%s", res.Ok, res.Code)
	}
}

func TestTaskReassignAppendsNote(t *testing.T) {
	env := newTestEnv(t)
	env.seedActor(t, "bob", false)
	p := env.mustInvoke(t, "planner.project.create", tool.Args{"name": "P"})
	created := env.mustInvoke(t, "planner.task.create", tool.Args{"project_id": resultID(t, p, "project"), "title": "t", "description": "original"})
	taskID := resultID(t, created, "task")

	env.mustInvoke(t, "planner.task.reassign", tool.Args{"task_id": taskID, "assignee_id": "bob", "note": "over to you"})
	task, err := env.Svc.Repo.GetTask(env.Ctx, taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.AssigneeID == nil || *task.AssigneeID != "bob" {
		t.Fatalf("assignee = %v, want bob", task.AssigneeID)
	}
	want := "original\n[2026-03-01T12:00:00Z alice] over to you"
	if task.Description != want {
		t.Fatalf("description = %q, want %q", task.Description, want)
	}
}

func TestPolicyRefusalMapsToAccessDenied(t *testing.T) {
	env := newTestEnv(t)
	env.Svc.Policy = policy.Service{DB: env.DB}
	env.seedActor(t, "mallory", false)
	env.EC = tool.ExecutionContext{Actor: domain.Actor{ID: "mallory"}, TeamID: "team-a"}

	res := env.invoke(t, "planner.project.create", tool.Args{"name": "nope"})
	if res.Ok || res.Code != tool.CodeAccessDenied {
		t.Fatalf("expected ACCESS_DENIED, got ok=%v code=%s", res.Ok, res.Code)
	}
}
