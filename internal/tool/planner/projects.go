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

// ProjectCreate creates a project in the active team.
type ProjectCreate struct{ svc *Service }

func NewProjectCreate(svc *Service) *ProjectCreate { return &ProjectCreate{svc: svc} }

func (t *ProjectCreate) Name() string { return "planner.project.create" }
func (t *ProjectCreate) Description() string {
	return "Create a project in the active team. Returns the created project."
}

func (t *ProjectCreate) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "project name"},
			"description": {"type": "string"}
		},
		"required": ["name"]
	}`)
}

func (t *ProjectCreate) Metadata() tool.Metadata {
	return tool.Metadata{
		Category:     "projects",
		RequiresAuth: true,
		RequiresTeam: true,
		Risk:         tool.RiskMedium,
	}
}

func (t *ProjectCreate) Execute(ctx context.Context, args tool.Args, ec tool.ExecutionContext) tool.Result {
	if deny := t.svc.allowed(ctx, ec, "project.create", ec.TeamID); deny != nil {
		return *deny
	}
	if _, err := t.svc.Repo.GetTeam(ctx, ec.TeamID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return tool.Fail(tool.CodeTeamNotFound, "team %s not found", ec.TeamID)
		}
		return tool.Fail(tool.CodeExecution, "load team: %v", err)
	}
	now := t.svc.nowStr()
	p := domain.Project{
		ID:          uuid.New().String(),
		TeamID:      ec.TeamID,
		Name:        args.String("name"),
		Description: args.String("description"),
		Status:      "active",
		CreatedBy:   ec.Actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := t.svc.DB.BeginTx(ctx, nil)
	if err != nil {
		return tool.Fail(tool.CodeExecution, "begin: %v", err)
	}
	defer tx.Rollback()
	if err := t.svc.Repo.InsertProject(ctx, tx, p); err != nil {
		return tool.Fail(tool.CodeExecution, "insert project: %v", err)
	}
	if err := t.svc.Events.Append(ctx, tx, "project.created", p.TeamID, "project", p.ID, ec.Actor.ID, events.EventPayload{"name": p.Name}); err != nil {
		return tool.Fail(tool.CodeExecution, "append event: %v", err)
	}
	if err := tx.Commit(); err != nil {
		return tool.Fail(tool.CodeExecution, "commit: %v", err)
	}
	return tool.Okay(map[string]any{"project": asMap(p)})
}

// ProjectList lists the active team's projects; used both directly and as the
// dependency that supplies a missing project_id.
type ProjectList struct{ svc *Service }

func NewProjectList(svc *Service) *ProjectList { return &ProjectList{svc: svc} }

func (t *ProjectList) Name() string { return "planner.project.list" }
func (t *ProjectList) Description() string {
	return "List projects in the active team."
}

func (t *ProjectList) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *ProjectList) Metadata() tool.Metadata {
	return tool.Metadata{
		Category:     "projects",
		ReadOnly:     true,
		RequiresAuth: true,
		RequiresTeam: true,
		Risk:         tool.RiskSafe,
		Idempotent:   true,
	}
}

func (t *ProjectList) Execute(ctx context.Context, args tool.Args, ec tool.ExecutionContext) tool.Result {
	projects, err := t.svc.Repo.ListProjectsByTeam(ctx, ec.TeamID)
	if err != nil {
		return tool.Fail(tool.CodeExecution, "list projects: %v", err)
	}
	out := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		out = append(out, asMap(p))
	}
	return tool.Okay(map[string]any{"projects": out, "count": len(out)})
}

// ProjectGet fetches a single project.
type ProjectGet struct{ svc *Service }

func NewProjectGet(svc *Service) *ProjectGet { return &ProjectGet{svc: svc} }

func (t *ProjectGet) Name() string        { return "planner.project.get" }
func (t *ProjectGet) Description() string { return "Fetch one project by id." }

func (t *ProjectGet) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"project_id": {"type": "string"}},
		"required": ["project_id"]
	}`)
}

func (t *ProjectGet) Metadata() tool.Metadata {
	return tool.Metadata{
		Category:     "projects",
		ReadOnly:     true,
		RequiresAuth: true,
		Risk:         tool.RiskSafe,
		Idempotent:   true,
	}
}

func (t *ProjectGet) Execute(ctx context.Context, args tool.Args, ec tool.ExecutionContext) tool.Result {
	p, err := t.svc.Repo.GetProject(ctx, args.String("project_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return tool.Fail(tool.CodeProjectNotFound, "project %s not found", args.String("project_id"))
		}
		return tool.Fail(tool.CodeExecution, "load project: %v", err)
	}
	return tool.Okay(map[string]any{"project": asMap(p)})
}

// ProjectMetrics reports task counts for a project dashboard.
type ProjectMetrics struct{ svc *Service }

func NewProjectMetrics(svc *Service) *ProjectMetrics { return &ProjectMetrics{svc: svc} }

func (t *ProjectMetrics) Name() string { return "planner.project.metrics" }
func (t *ProjectMetrics) Description() string {
	return "Report task totals (open, done, overdue, in sprints) and slot count for a project."
}

func (t *ProjectMetrics) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"project_id": {"type": "string"}},
		"required": ["project_id"]
	}`)
}

func (t *ProjectMetrics) Metadata() tool.Metadata {
	return tool.Metadata{
		Category:     "projects",
		Tags:         []string{"metrics"},
		ReadOnly:     true,
		RequiresAuth: true,
		Risk:         tool.RiskSafe,
		Idempotent:   true,
	}
}

func (t *ProjectMetrics) Execute(ctx context.Context, args tool.Args, ec tool.ExecutionContext) tool.Result {
	projectID := args.String("project_id")
	p, err := t.svc.Repo.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return tool.Fail(tool.CodeProjectNotFound, "project %s not found", projectID)
		}
		return tool.Fail(tool.CodeExecution, "load project: %v", err)
	}
	stats, err := t.svc.Repo.ProjectTaskStats(ctx, projectID, t.svc.nowStr())
	if err != nil {
		return tool.Fail(tool.CodeExecution, "task stats: %v", err)
	}
	slots, err := t.svc.Repo.CountSlotsByProject(ctx, projectID)
	if err != nil {
		return tool.Fail(tool.CodeExecution, "count slots: %v", err)
	}
	return tool.Okay(map[string]any{
		"project_id": p.ID,
		"team_id":    p.TeamID,
		"tasks":      asMap(stats),
		"slots":      slots,
	})
}
