package planner

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/martin3r-me/platforms-planner-sub000/internal/events"
	"github.com/martin3r-me/platforms-planner-sub000/internal/repo"
	"github.com/martin3r-me/platforms-planner-sub000/internal/tool"
)

// ProjectTransfer moves a project and everything under it to another team.
// Without confirm=true it only reports what would move; the preview is
// computed the same way on both calls so the numbers the caller confirmed are
// the numbers that apply.
type ProjectTransfer struct{ svc *Service }

func NewProjectTransfer(svc *Service) *ProjectTransfer { return &ProjectTransfer{svc: svc} }

func (t *ProjectTransfer) Name() string { return "planner.project.transfer" }
func (t *ProjectTransfer) Description() string {
	return "Move a project, its slots, and its tasks to another team. Requires confirm=true; without it the tool returns a preview of the cascade. Tasks lose their sprint because sprints stay with the source team."
}

func (t *ProjectTransfer) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"project_id": {"type": "string"},
			"target_team_id": {"type": "string"},
			"confirm": {"type": "boolean"}
		},
		"required": ["project_id", "target_team_id"]
	}`)
}

func (t *ProjectTransfer) Metadata() tool.Metadata {
	return tool.Metadata{
		Category:     "projects",
		Tags:         []string{"transfer"},
		RequiresAuth: true,
		Risk:         tool.RiskHigh,
	}
}

type transferPreview struct {
	ProjectID    string `json:"project_id"`
	SourceTeamID string `json:"source_team_id"`
	TargetTeamID string `json:"target_team_id"`
	Slots        int    `json:"slots"`
	Tasks        int    `json:"tasks"`
	// SprintTasks counts the tasks that will be detached from their sprint.
	SprintTasks int `json:"sprint_tasks"`
}

func (t *ProjectTransfer) preview(ctx context.Context, projectID, sourceTeamID, targetTeamID string) (transferPreview, error) {
	pv := transferPreview{ProjectID: projectID, SourceTeamID: sourceTeamID, TargetTeamID: targetTeamID}
	var err error
	if pv.Slots, err = t.svc.Repo.CountSlotsByProject(ctx, projectID); err != nil {
		return pv, err
	}
	if pv.Tasks, err = t.svc.Repo.CountTasksByProject(ctx, projectID); err != nil {
		return pv, err
	}
	pv.SprintTasks, err = t.svc.Repo.CountSprintTasksByProject(ctx, projectID)
	return pv, err
}

func (t *ProjectTransfer) Execute(ctx context.Context, args tool.Args, ec tool.ExecutionContext) tool.Result {
	p, err := t.svc.Repo.GetProject(ctx, args.String("project_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return tool.Fail(tool.CodeProjectNotFound, "project %s not found", args.String("project_id"))
		}
		return tool.Fail(tool.CodeExecution, "load project: %v", err)
	}
	targetTeamID := args.String("target_team_id")
	if _, err := t.svc.Repo.GetTeam(ctx, targetTeamID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return tool.Fail(tool.CodeTeamNotFound, "team %s not found", targetTeamID)
		}
		return tool.Fail(tool.CodeExecution, "load team: %v", err)
	}
	// The caller must be allowed to take the project out of one team and put
	// it into the other.
	if deny := t.svc.allowed(ctx, ec, "project.transfer", p.TeamID); deny != nil {
		return *deny
	}
	if deny := t.svc.allowed(ctx, ec, "project.transfer", targetTeamID); deny != nil {
		return *deny
	}
	if p.TeamID == targetTeamID {
		return tool.Okay(map[string]any{
			"project":     asMap(p),
			"transferred": false,
			"note":        "project already belongs to the target team",
		})
	}

	pv, err := t.preview(ctx, p.ID, p.TeamID, targetTeamID)
	if err != nil {
		return tool.Fail(tool.CodeExecution, "compute preview: %v", err)
	}
	if !args.Bool("confirm", false) {
		return tool.FailWith(tool.CodeConfirmationRequired,
			map[string]any{"preview": asMap(pv)},
			"transferring project %s moves %d slots and %d tasks to team %s and detaches %d tasks from their sprint; repeat the call with confirm=true to apply",
			p.ID, pv.Slots, pv.Tasks, targetTeamID, pv.SprintTasks)
	}

	now := t.svc.nowStr()
	tx, err := t.svc.DB.BeginTx(ctx, nil)
	if err != nil {
		return tool.Fail(tool.CodeExecution, "begin: %v", err)
	}
	defer tx.Rollback()
	if err := t.svc.Repo.UpdateProjectTeam(ctx, tx, p.ID, targetTeamID, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return tool.Fail(tool.CodeProjectNotFound, "project %s not found", p.ID)
		}
		return tool.Fail(tool.CodeExecution, "move project: %v", err)
	}
	if err := t.svc.Repo.UpdateSlotsTeamByProject(ctx, tx, p.ID, targetTeamID, now); err != nil {
		return tool.Fail(tool.CodeExecution, "move slots: %v", err)
	}
	if err := t.svc.Repo.MoveTasksTeamByProject(ctx, tx, p.ID, targetTeamID, now); err != nil {
		return tool.Fail(tool.CodeExecution, "move tasks: %v", err)
	}
	if err := t.svc.Events.Append(ctx, tx, "project.transferred", targetTeamID, "project", p.ID, ec.Actor.ID, events.EventPayload{
		"source_team_id": pv.SourceTeamID,
		"target_team_id": pv.TargetTeamID,
		"slots":          pv.Slots,
		"tasks":          pv.Tasks,
		"sprint_tasks":   pv.SprintTasks,
	}); err != nil {
		return tool.Fail(tool.CodeExecution, "append event: %v", err)
	}
	moved, err := t.svc.Repo.GetProjectTx(ctx, tx, p.ID)
	if err != nil {
		return tool.Fail(tool.CodeExecution, "reload project: %v", err)
	}
	if err := tx.Commit(); err != nil {
		return tool.Fail(tool.CodeExecution, "commit: %v", err)
	}
	return tool.Okay(map[string]any{
		"project":     asMap(moved),
		"transferred": true,
		"applied":     asMap(pv),
	})
}

// SlotTransfer aligns a single slot with its project's team. A slot cannot
// leave its project, so a slot in a project that still belongs to another team
// is rejected and the caller is pointed at the project transfer.
type SlotTransfer struct{ svc *Service }

func NewSlotTransfer(svc *Service) *SlotTransfer { return &SlotTransfer{svc: svc} }

func (t *SlotTransfer) Name() string { return "planner.slot.transfer" }
func (t *SlotTransfer) Description() string {
	return "Move a slot and its tasks to the team that already owns the slot's project. To move a slot to a different team, transfer the project instead."
}

func (t *SlotTransfer) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"slot_id": {"type": "string"},
			"target_team_id": {"type": "string"}
		},
		"required": ["slot_id", "target_team_id"]
	}`)
}

func (t *SlotTransfer) Metadata() tool.Metadata {
	return tool.Metadata{
		Category:     "slots",
		Tags:         []string{"transfer"},
		RequiresAuth: true,
		Risk:         tool.RiskHigh,
	}
}

func (t *SlotTransfer) Execute(ctx context.Context, args tool.Args, ec tool.ExecutionContext) tool.Result {
	s, err := t.svc.Repo.GetSlot(ctx, args.String("slot_id"))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return tool.Fail(tool.CodeSlotNotFound, "slot %s not found", args.String("slot_id"))
		}
		return tool.Fail(tool.CodeExecution, "load slot: %v", err)
	}
	targetTeamID := args.String("target_team_id")
	if _, err := t.svc.Repo.GetTeam(ctx, targetTeamID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return tool.Fail(tool.CodeTeamNotFound, "team %s not found", targetTeamID)
		}
		return tool.Fail(tool.CodeExecution, "load team: %v", err)
	}
	p, err := t.svc.Repo.GetProject(ctx, s.ProjectID)
	if err != nil {
		return tool.Fail(tool.CodeExecution, "load project: %v", err)
	}
	if p.TeamID != targetTeamID {
		return tool.Fail(tool.CodeTransferNotAllowed,
			"slot %s cannot move to team %s while its project %s belongs to team %s; transfer the project first",
			s.ID, targetTeamID, p.ID, p.TeamID)
	}
	if deny := t.svc.allowed(ctx, ec, "slot.transfer", targetTeamID); deny != nil {
		return *deny
	}
	if s.TeamID == targetTeamID {
		return tool.Okay(map[string]any{
			"slot":        asMap(s),
			"transferred": false,
			"note":        "slot already belongs to the target team",
		})
	}
	now := t.svc.nowStr()
	tx, err := t.svc.DB.BeginTx(ctx, nil)
	if err != nil {
		return tool.Fail(tool.CodeExecution, "begin: %v", err)
	}
	defer tx.Rollback()
	if err := t.svc.Repo.UpdateSlotTeam(ctx, tx, s.ID, targetTeamID, now); err != nil {
		return tool.Fail(tool.CodeExecution, "move slot: %v", err)
	}
	if err := t.svc.Repo.MoveTasksTeamBySlot(ctx, tx, s.ID, targetTeamID, now); err != nil {
		return tool.Fail(tool.CodeExecution, "move tasks: %v", err)
	}
	if err := t.svc.Events.Append(ctx, tx, "slot.transferred", targetTeamID, "slot", s.ID, ec.Actor.ID, events.EventPayload{
		"source_team_id": s.TeamID,
		"target_team_id": targetTeamID,
	}); err != nil {
		return tool.Fail(tool.CodeExecution, "append event: %v", err)
	}
	moved, err := t.svc.Repo.GetSlotTx(ctx, tx, s.ID)
	if err != nil {
		return tool.Fail(tool.CodeExecution, "reload slot: %v", err)
	}
	if err := tx.Commit(); err != nil {
		return tool.Fail(tool.CodeExecution, "commit: %v", err)
	}
	return tool.Okay(map[string]any{
		"slot":        asMap(moved),
		"transferred": true,
	})
}
