package planner

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/martin3r-me/platforms-planner-sub000/internal/domain"
	"github.com/martin3r-me/platforms-planner-sub000/internal/events"
	"github.com/martin3r-me/platforms-planner-sub000/internal/tool"
)

// SprintCreate creates a sprint scoped to the active team.
type SprintCreate struct{ svc *Service }

func NewSprintCreate(svc *Service) *SprintCreate { return &SprintCreate{svc: svc} }

func (t *SprintCreate) Name() string { return "planner.sprint.create" }
func (t *SprintCreate) Description() string {
	return "Create a sprint in the active team. Sprints are team-scoped; tasks drop out of them when their project moves to another team."
}

func (t *SprintCreate) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"starts_at": {"type": "string"},
			"ends_at": {"type": "string"}
		},
		"required": ["name"]
	}`)
}

func (t *SprintCreate) Metadata() tool.Metadata {
	return tool.Metadata{
		Category:     "sprints",
		RequiresAuth: true,
		RequiresTeam: true,
		Risk:         tool.RiskMedium,
	}
}

func (t *SprintCreate) Execute(ctx context.Context, args tool.Args, ec tool.ExecutionContext) tool.Result {
	if deny := t.svc.allowed(ctx, ec, "sprint.create", ec.TeamID); deny != nil {
		return *deny
	}
	s := domain.Sprint{
		ID:        uuid.New().String(),
		TeamID:    ec.TeamID,
		Name:      args.String("name"),
		CreatedAt: t.svc.nowStr(),
	}
	for _, f := range []struct {
		key  string
		dest **string
	}{
		{"starts_at", &s.StartsAt},
		{"ends_at", &s.EndsAt},
	} {
		if !args.Has(f.key) {
			continue
		}
		v := args.String(f.key)
		if !validTimestamp(v) {
			return tool.Fail(tool.CodeValidation, "%s must be an RFC 3339 timestamp", f.key)
		}
		*f.dest = &v
	}
	if s.StartsAt != nil && s.EndsAt != nil {
		starts, _ := time.Parse(time.RFC3339, *s.StartsAt)
		ends, _ := time.Parse(time.RFC3339, *s.EndsAt)
		if ends.Before(starts) {
			return tool.Fail(tool.CodeValidation, "ends_at must not precede starts_at")
		}
	}
	tx, err := t.svc.DB.BeginTx(ctx, nil)
	if err != nil {
		return tool.Fail(tool.CodeExecution, "begin: %v", err)
	}
	defer tx.Rollback()
	if err := t.svc.Repo.InsertSprint(ctx, tx, s); err != nil {
		return tool.Fail(tool.CodeExecution, "insert sprint: %v", err)
	}
	if err := t.svc.Events.Append(ctx, tx, "sprint.created", s.TeamID, "sprint", s.ID, ec.Actor.ID, events.EventPayload{"name": s.Name}); err != nil {
		return tool.Fail(tool.CodeExecution, "append event: %v", err)
	}
	if err := tx.Commit(); err != nil {
		return tool.Fail(tool.CodeExecution, "commit: %v", err)
	}
	return tool.Okay(map[string]any{"sprint": asMap(s)})
}
