package planner

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/martin3r-me/platforms-planner-sub000/internal/domain"
	"github.com/martin3r-me/platforms-planner-sub000/internal/events"
	"github.com/martin3r-me/platforms-planner-sub000/internal/repo"
	"github.com/martin3r-me/platforms-planner-sub000/internal/tool"
)

// projectDependency is shared by the tools that need a project_id and can
// resolve it from the caller's team when it is unambiguous. When the team has
// exactly one project its id is merged into the arguments; otherwise the
// project listing is returned to the caller so it can pick one.
func projectDependency() tool.DependencySpec {
	return tool.DependencySpec{
		Rules: []tool.DependencyRule{
			{
				Tool: "planner.project.list",
				When: func(args tool.Args, ec tool.ExecutionContext) bool {
					return !args.Has("project_id")
				},
				BuildArgs: func(args tool.Args, ec tool.ExecutionContext) tool.Args {
					return tool.Args{}
				},
				Merge: func(res tool.Result, args tool.Args) (tool.Args, bool) {
					projects, _ := res.Data["projects"].([]map[string]any)
					if len(projects) != 1 {
						return nil, false
					}
					id, _ := projects[0]["id"].(string)
					if id == "" {
						return nil, false
					}
					return args.Merge(tool.Args{"project_id": id}), true
				},
			},
		},
	}
}

// SlotCreate creates a board slot (column) inside a project.
type SlotCreate struct{ svc *Service }

func NewSlotCreate(svc *Service) *SlotCreate { return &SlotCreate{svc: svc} }

func (t *SlotCreate) Name() string { return "planner.slot.create" }
func (t *SlotCreate) Description() string {
	return "Create a slot (board column) in a project. If project_id is omitted and the team has exactly one project, that project is used."
}

func (t *SlotCreate) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"project_id": {"type": "string"},
			"name": {"type": "string"}
		},
		"required": ["name"]
	}`)
}

func (t *SlotCreate) Metadata() tool.Metadata {
	return tool.Metadata{
		Category:     "slots",
		RequiresAuth: true,
		RequiresTeam: true,
		Risk:         tool.RiskMedium,
	}
}

func (t *SlotCreate) Dependencies() tool.DependencySpec { return projectDependency() }

func (t *SlotCreate) Execute(ctx context.Context, args tool.Args, ec tool.ExecutionContext) tool.Result {
	p, err := t.svc.Repo.GetProject(ctx, args.String("project_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return tool.Fail(tool.CodeProjectNotFound, "project %s not found", args.String("project_id"))
		}
		return tool.Fail(tool.CodeExecution, "load project: %v", err)
	}
	if p.TeamID != ec.TeamID {
		return tool.Fail(tool.CodeTeamMismatch, "project %s belongs to team %s, not the active team", p.ID, p.TeamID)
	}
	if deny := t.svc.allowed(ctx, ec, "slot.create", ec.TeamID); deny != nil {
		return *deny
	}
	pos, err := t.svc.Repo.NextSlotPosition(ctx, p.ID)
	if err != nil {
		return tool.Fail(tool.CodeExecution, "next position: %v", err)
	}
	now := t.svc.nowStr()
	s := domain.Slot{
		ID:        uuid.New().String(),
		TeamID:    ec.TeamID,
		ProjectID: p.ID,
		Name:      args.String("name"),
		Position:  pos,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := t.svc.DB.BeginTx(ctx, nil)
	if err != nil {
		return tool.Fail(tool.CodeExecution, "begin: %v", err)
	}
	defer tx.Rollback()
	if err := t.svc.Repo.InsertSlot(ctx, tx, s); err != nil {
		return tool.Fail(tool.CodeExecution, "insert slot: %v", err)
	}
	if err := t.svc.Events.Append(ctx, tx, "slot.created", s.TeamID, "slot", s.ID, ec.Actor.ID, events.EventPayload{"name": s.Name, "project_id": s.ProjectID}); err != nil {
		return tool.Fail(tool.CodeExecution, "append event: %v", err)
	}
	if err := tx.Commit(); err != nil {
		return tool.Fail(tool.CodeExecution, "commit: %v", err)
	}
	return tool.Okay(map[string]any{"slot": asMap(s)})
}

// SlotList lists the slots of a project in board order.
type SlotList struct{ svc *Service }

func NewSlotList(svc *Service) *SlotList { return &SlotList{svc: svc} }

func (t *SlotList) Name() string        { return "planner.slot.list" }
func (t *SlotList) Description() string { return "List the slots of a project in board order." }

func (t *SlotList) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"project_id": {"type": "string"}},
		"required": ["project_id"]
	}`)
}

func (t *SlotList) Metadata() tool.Metadata {
	return tool.Metadata{
		Category:     "slots",
		ReadOnly:     true,
		RequiresAuth: true,
		Risk:         tool.RiskSafe,
		Idempotent:   true,
	}
}

func (t *SlotList) Execute(ctx context.Context, args tool.Args, ec tool.ExecutionContext) tool.Result {
	projectID := args.String("project_id")
	if _, err := t.svc.Repo.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return tool.Fail(tool.CodeProjectNotFound, "project %s not found", projectID)
		}
		return tool.Fail(tool.CodeExecution, "load project: %v", err)
	}
	slots, err := t.svc.Repo.ListSlotsByProject(ctx, projectID)
	if err != nil {
		return tool.Fail(tool.CodeExecution, "list slots: %v", err)
	}
	out := make([]map[string]any, 0, len(slots))
	for _, s := range slots {
		out = append(out, asMap(s))
	}
	return tool.Okay(map[string]any{"slots": out, "count": len(out)})
}
