package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/martin3r-me/platforms-planner-sub000/internal/domain"
	"github.com/martin3r-me/platforms-planner-sub000/internal/events"
	"github.com/martin3r-me/platforms-planner-sub000/internal/repo"
	"github.com/martin3r-me/platforms-planner-sub000/internal/tool"
)

// createTaskItem inserts one task inside the given transaction. It is the
// shared body of planner.task.create and planner.task.bulk_create.
func (s *Service) createTaskItem(ctx context.Context, tx *sql.Tx, item tool.Args, ec tool.ExecutionContext) tool.Result {
	if deny := s.allowed(ctx, ec, "task.create", ec.TeamID); deny != nil {
		return *deny
	}
	title := item.String("title")
	if title == "" {
		return tool.Fail(tool.CodeValidation, "title is required")
	}
	p, err := s.Repo.GetProjectTx(ctx, tx, item.String("project_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return tool.Fail(tool.CodeProjectNotFound, "project %s not found", item.String("project_id"))
		}
		return tool.Fail(tool.CodeExecution, "load project: %v", err)
	}
	if p.TeamID != ec.TeamID {
		return tool.Fail(tool.CodeTeamMismatch, "project %s belongs to team %s, not the active team", p.ID, p.TeamID)
	}
	t := domain.Task{
		ID:          uuid.New().String(),
		TeamID:      ec.TeamID,
		ProjectID:   p.ID,
		Title:       title,
		Description: item.String("description"),
		CreatedBy:   ec.Actor.ID,
		CreatedAt:   s.nowStr(),
	}
	t.UpdatedAt = t.CreatedAt
	if item.Has("slot_id") {
		slot, err := s.Repo.GetSlotTx(ctx, tx, item.String("slot_id"))
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return tool.Fail(tool.CodeSlotNotFound, "slot %s not found", item.String("slot_id"))
			}
			return tool.Fail(tool.CodeExecution, "load slot: %v", err)
		}
		if slot.ProjectID != p.ID {
			return tool.Fail(tool.CodeProjectMismatch, "slot %s belongs to project %s, not %s", slot.ID, slot.ProjectID, p.ID)
		}
		t.SlotID = &slot.ID
	}
	if item.Has("sprint_id") {
		sprint, err := s.Repo.GetSprintTx(ctx, tx, item.String("sprint_id"))
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return tool.Fail(tool.CodeSprintNotFound, "sprint %s not found", item.String("sprint_id"))
			}
			return tool.Fail(tool.CodeExecution, "load sprint: %v", err)
		}
		if sprint.TeamID != ec.TeamID {
			return tool.Fail(tool.CodeTeamMismatch, "sprint %s belongs to team %s, not the active team", sprint.ID, sprint.TeamID)
		}
		t.SprintID = &sprint.ID
	}
	if item.Has("assignee_id") {
		assignee := item.String("assignee_id")
		ok, err := s.Repo.ActorExistsTx(ctx, tx, assignee)
		if err != nil {
			return tool.Fail(tool.CodeExecution, "load assignee: %v", err)
		}
		if !ok {
			return tool.Fail(tool.CodeActorNotFound, "actor %s not found", assignee)
		}
		t.AssigneeID = &assignee
	}
	if item.Has("due_at") {
		due := item.String("due_at")
		if !validTimestamp(due) {
			return tool.Fail(tool.CodeValidation, "due_at must be an RFC 3339 timestamp")
		}
		t.DueAt = &due
	}
	if err := s.Repo.InsertTask(ctx, tx, t); err != nil {
		return tool.Fail(tool.CodeExecution, "insert task: %v", err)
	}
	if err := s.Events.Append(ctx, tx, "task.created", t.TeamID, "task", t.ID, ec.Actor.ID, events.EventPayload{"title": t.Title, "project_id": t.ProjectID}); err != nil {
		return tool.Fail(tool.CodeExecution, "append event: %v", err)
	}
	return tool.Okay(map[string]any{"task": asMap(t)})
}

// updateTaskItem applies a partial update to one task inside the given
// transaction. Shared body of planner.task.update and planner.task.bulk_update.
// A field set to null in the arguments clears the column; an absent field is
// left untouched.
func (s *Service) updateTaskItem(ctx context.Context, tx *sql.Tx, item tool.Args, ec tool.ExecutionContext) tool.Result {
	if deny := s.allowed(ctx, ec, "task.update", ec.TeamID); deny != nil {
		return *deny
	}
	taskID := item.String("task_id")
	if taskID == "" {
		return tool.Fail(tool.CodeValidation, "task_id is required")
	}
	t, err := s.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return tool.Fail(tool.CodeTaskNotFound, "task %s not found", taskID)
		}
		return tool.Fail(tool.CodeExecution, "load task: %v", err)
	}
	if t.TeamID != ec.TeamID {
		return tool.Fail(tool.CodeTeamMismatch, "task %s belongs to team %s, not the active team", t.ID, t.TeamID)
	}
	if item.Has("title") {
		t.Title = item.String("title")
	}
	if _, present := item["description"]; present {
		t.Description = item.String("description")
	}
	if _, present := item["slot_id"]; present {
		if !item.Has("slot_id") {
			t.SlotID = nil
		} else {
			slot, err := s.Repo.GetSlotTx(ctx, tx, item.String("slot_id"))
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return tool.Fail(tool.CodeSlotNotFound, "slot %s not found", item.String("slot_id"))
				}
				return tool.Fail(tool.CodeExecution, "load slot: %v", err)
			}
			if slot.ProjectID != t.ProjectID {
				return tool.Fail(tool.CodeProjectMismatch, "slot %s belongs to project %s, not %s", slot.ID, slot.ProjectID, t.ProjectID)
			}
			t.SlotID = &slot.ID
		}
	}
	if _, present := item["sprint_id"]; present {
		if !item.Has("sprint_id") {
			t.SprintID = nil
		} else {
			sprint, err := s.Repo.GetSprintTx(ctx, tx, item.String("sprint_id"))
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return tool.Fail(tool.CodeSprintNotFound, "sprint %s not found", item.String("sprint_id"))
				}
				return tool.Fail(tool.CodeExecution, "load sprint: %v", err)
			}
			if sprint.TeamID != t.TeamID {
				return tool.Fail(tool.CodeTeamMismatch, "sprint %s belongs to team %s, not the task's team", sprint.ID, sprint.TeamID)
			}
			t.SprintID = &sprint.ID
		}
	}
	if _, present := item["assignee_id"]; present {
		if !item.Has("assignee_id") {
			t.AssigneeID = nil
		} else {
			assignee := item.String("assignee_id")
			ok, err := s.Repo.ActorExistsTx(ctx, tx, assignee)
			if err != nil {
				return tool.Fail(tool.CodeExecution, "load assignee: %v", err)
			}
			if !ok {
				return tool.Fail(tool.CodeActorNotFound, "actor %s not found", assignee)
			}
			t.AssigneeID = &assignee
		}
	}
	if _, present := item["due_at"]; present {
		if !item.Has("due_at") {
			t.DueAt = nil
		} else {
			due := item.String("due_at")
			if !validTimestamp(due) {
				return tool.Fail(tool.CodeValidation, "due_at must be an RFC 3339 timestamp")
			}
			t.DueAt = &due
		}
	}
	if _, present := item["done"]; present {
		done := item.Bool("done", t.Done)
		if done && !t.Done {
			now := s.nowStr()
			t.CompletedAt = &now
		}
		if !done {
			t.CompletedAt = nil
		}
		t.Done = done
	}
	t.UpdatedAt = s.nowStr()
	if err := s.Repo.UpdateTask(ctx, tx, t); err != nil {
		return tool.Fail(tool.CodeExecution, "update task: %v", err)
	}
	if err := s.Events.Append(ctx, tx, "task.updated", t.TeamID, "task", t.ID, ec.Actor.ID, nil); err != nil {
		return tool.Fail(tool.CodeExecution, "append event: %v", err)
	}
	return tool.Okay(map[string]any{"task": asMap(t)})
}

// runItem wraps a per-item body in its own transaction for the single-shot
// tools.
func (s *Service) runItem(ctx context.Context, item tool.Args, ec tool.ExecutionContext, fn tool.ItemFunc) tool.Result {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return tool.Fail(tool.CodeExecution, "begin: %v", err)
	}
	defer tx.Rollback()
	res := fn(ctx, tx, item, ec)
	if !res.Ok {
		return res
	}
	if err := tx.Commit(); err != nil {
		return tool.Fail(tool.CodeExecution, "commit: %v", err)
	}
	return res
}

const taskItemProperties = `
		"project_id": {"type": "string"},
		"slot_id": {"type": "string"},
		"sprint_id": {"type": "string"},
		"title": {"type": "string"},
		"description": {"type": "string"},
		"assignee_id": {"type": "string"},
		"due_at": {"type": "string"}`

// TaskCreate creates a single task.
type TaskCreate struct{ svc *Service }

func NewTaskCreate(svc *Service) *TaskCreate { return &TaskCreate{svc: svc} }

func (t *TaskCreate) Name() string { return "planner.task.create" }
func (t *TaskCreate) Description() string {
	return "Create a task in a project. If project_id is omitted and the team has exactly one project, that project is used."
}

func (t *TaskCreate) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {` + taskItemProperties + `
		},
		"required": ["title"]
	}`)
}

func (t *TaskCreate) Metadata() tool.Metadata {
	return tool.Metadata{
		Category:     "tasks",
		RequiresAuth: true,
		RequiresTeam: true,
		Risk:         tool.RiskMedium,
	}
}

func (t *TaskCreate) Dependencies() tool.DependencySpec { return projectDependency() }

func (t *TaskCreate) Execute(ctx context.Context, args tool.Args, ec tool.ExecutionContext) tool.Result {
	return t.svc.runItem(ctx, args, ec, t.svc.createTaskItem)
}

// TaskUpdate applies a partial update to a task.
type TaskUpdate struct{ svc *Service }

func NewTaskUpdate(svc *Service) *TaskUpdate { return &TaskUpdate{svc: svc} }

func (t *TaskUpdate) Name() string { return "planner.task.update" }
func (t *TaskUpdate) Description() string {
	return "Update fields of a task. Omitted fields keep their value; null clears a field."
}

func (t *TaskUpdate) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task_id": {"type": "string"},` + taskItemProperties + `,
			"done": {"type": "boolean"}
		},
		"required": ["task_id"]
	}`)
}

func (t *TaskUpdate) Metadata() tool.Metadata {
	return tool.Metadata{
		Category:     "tasks",
		RequiresAuth: true,
		RequiresTeam: true,
		Risk:         tool.RiskMedium,
	}
}

func (t *TaskUpdate) Execute(ctx context.Context, args tool.Args, ec tool.ExecutionContext) tool.Result {
	return t.svc.runItem(ctx, args, ec, t.svc.updateTaskItem)
}

// TaskComplete marks a task done.
type TaskComplete struct{ svc *Service }

func NewTaskComplete(svc *Service) *TaskComplete { return &TaskComplete{svc: svc} }

func (t *TaskComplete) Name() string        { return "planner.task.complete" }
func (t *TaskComplete) Description() string { return "Mark a task as done." }

func (t *TaskComplete) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"task_id": {"type": "string"}},
		"required": ["task_id"]
	}`)
}

func (t *TaskComplete) Metadata() tool.Metadata {
	return tool.Metadata{
		Category:     "tasks",
		RequiresAuth: true,
		RequiresTeam: true,
		Risk:         tool.RiskMedium,
		Idempotent:   true,
	}
}

func (t *TaskComplete) Execute(ctx context.Context, args tool.Args, ec tool.ExecutionContext) tool.Result {
	item := tool.Args{"task_id": args.String("task_id"), "done": true}
	return t.svc.runItem(ctx, item, ec, t.svc.updateTaskItem)
}

// TaskReassign moves a task to another assignee, optionally appending a note
// to its description.
type TaskReassign struct{ svc *Service }

func NewTaskReassign(svc *Service) *TaskReassign { return &TaskReassign{svc: svc} }

func (t *TaskReassign) Name() string { return "planner.task.reassign" }
func (t *TaskReassign) Description() string {
	return "Reassign a task to another actor, optionally appending a handover note."
}

func (t *TaskReassign) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task_id": {"type": "string"},
			"assignee_id": {"type": "string"},
			"note": {"type": "string"}
		},
		"required": ["task_id", "assignee_id"]
	}`)
}

func (t *TaskReassign) Metadata() tool.Metadata {
	return tool.Metadata{
		Category:     "tasks",
		RequiresAuth: true,
		RequiresTeam: true,
		Risk:         tool.RiskMedium,
	}
}

func (t *TaskReassign) Execute(ctx context.Context, args tool.Args, ec tool.ExecutionContext) tool.Result {
	if deny := t.svc.allowed(ctx, ec, "task.update", ec.TeamID); deny != nil {
		return *deny
	}
	tx, err := t.svc.DB.BeginTx(ctx, nil)
	if err != nil {
		return tool.Fail(tool.CodeExecution, "begin: %v", err)
	}
	defer tx.Rollback()
	res := t.svc.ReassignTaskTx(ctx, tx, args.String("task_id"), args.String("assignee_id"), args.String("note"), ec)
	if !res.Ok {
		return res
	}
	if err := tx.Commit(); err != nil {
		return tool.Fail(tool.CodeExecution, "commit: %v", err)
	}
	return res
}

// ReassignTaskTx changes a task's assignee and appends a timestamped,
// attributed note inside the caller's transaction. The batch orchestrator uses
// it directly for fallback reassignment.
func (s *Service) ReassignTaskTx(ctx context.Context, tx *sql.Tx, taskID, assigneeID, note string, ec tool.ExecutionContext) tool.Result {
	t, err := s.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return tool.Fail(tool.CodeTaskNotFound, "task %s not found", taskID)
		}
		return tool.Fail(tool.CodeExecution, "load task: %v", err)
	}
	if ec.TeamID != "" && t.TeamID != ec.TeamID {
		return tool.Fail(tool.CodeTeamMismatch, "task %s belongs to team %s, not the active team", t.ID, t.TeamID)
	}
	ok, err := s.Repo.ActorExistsTx(ctx, tx, assigneeID)
	if err != nil {
		return tool.Fail(tool.CodeExecution, "load assignee: %v", err)
	}
	if !ok {
		return tool.Fail(tool.CodeActorNotFound, "actor %s not found", assigneeID)
	}
	now := s.nowStr()
	t.AssigneeID = &assigneeID
	if note != "" {
		stamped := "[" + now + " " + ec.Actor.ID + "] " + note
		if t.Description != "" {
			t.Description += "\n"
		}
		t.Description += stamped
	}
	t.UpdatedAt = now
	if err := s.Repo.UpdateTask(ctx, tx, t); err != nil {
		return tool.Fail(tool.CodeExecution, "update task: %v", err)
	}
	if err := s.Events.Append(ctx, tx, "task.reassigned", t.TeamID, "task", t.ID, ec.Actor.ID, events.EventPayload{"assignee_id": assigneeID}); err != nil {
		return tool.Fail(tool.CodeExecution, "append event: %v", err)
	}
	return tool.Okay(map[string]any{"task": asMap(t)})
}

// TaskList lists tasks with optional filters.
type TaskList struct{ svc *Service }

func NewTaskList(svc *Service) *TaskList { return &TaskList{svc: svc} }

func (t *TaskList) Name() string { return "planner.task.list" }
func (t *TaskList) Description() string {
	return "List tasks in the active team, filtered by project, slot, assignee, or completion."
}

func (t *TaskList) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"project_id": {"type": "string"},
			"slot_id": {"type": "string"},
			"assignee_id": {"type": "string"},
			"done": {"type": "boolean"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 500}
		}
	}`)
}

func (t *TaskList) Metadata() tool.Metadata {
	return tool.Metadata{
		Category:     "tasks",
		ReadOnly:     true,
		RequiresAuth: true,
		RequiresTeam: true,
		Risk:         tool.RiskSafe,
		Idempotent:   true,
	}
}

func (t *TaskList) Execute(ctx context.Context, args tool.Args, ec tool.ExecutionContext) tool.Result {
	f := repo.TaskFilters{
		TeamID:     ec.TeamID,
		ProjectID:  args.String("project_id"),
		SlotID:     args.String("slot_id"),
		AssigneeID: args.String("assignee_id"),
		Limit:      args.Int("limit", 100),
	}
	if _, present := args["done"]; present {
		done := args.Bool("done", false)
		f.Done = &done
	}
	tasks, err := t.svc.Repo.ListTasks(ctx, f)
	if err != nil {
		return tool.Fail(tool.CodeExecution, "list tasks: %v", err)
	}
	out := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, asMap(task))
	}
	return tool.Okay(map[string]any{"tasks": out, "count": len(out)})
}
