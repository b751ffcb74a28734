package planner

import (
	"encoding/json"

	"github.com/martin3r-me/platforms-planner-sub000/internal/tool"
)

const bulkConfirmThreshold = 20

// NewTaskBulkCreate wraps task creation for whole-backlog imports. Best-effort
// by default so one bad row does not discard an import.
func NewTaskBulkCreate(svc *Service) *tool.BulkTool {
	return tool.NewBulk(svc.DB, tool.BulkConfig{
		Name:        "planner.task.bulk_create",
		Description: "Create many tasks at once. Set atomic=true for all-or-nothing; batches above the confirmation threshold need confirm=true.",
		ItemSchema: json.RawMessage(`{
			"type": "object",
			"properties": {` + taskItemProperties + `
			},
			"required": ["title"]
		}`),
		Metadata: tool.Metadata{
			Category:     "tasks",
			Tags:         []string{"bulk"},
			RequiresAuth: true,
			RequiresTeam: true,
			Risk:         tool.RiskHigh,
		},
		AtomicDefault: false,
		ConfirmAbove:  bulkConfirmThreshold,
	}, svc.createTaskItem)
}

// NewTaskBulkUpdate wraps task updates. Atomic by default: a sweep that edits
// existing tasks should not leave half of them changed.
func NewTaskBulkUpdate(svc *Service) *tool.BulkTool {
	return tool.NewBulk(svc.DB, tool.BulkConfig{
		Name:        "planner.task.bulk_update",
		Description: "Update many tasks at once, all-or-nothing by default. Set atomic=false to keep going past failures.",
		ItemSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"task_id": {"type": "string"},` + taskItemProperties + `,
				"done": {"type": "boolean"}
			},
			"required": ["task_id"]
		}`),
		Metadata: tool.Metadata{
			Category:     "tasks",
			Tags:         []string{"bulk"},
			RequiresAuth: true,
			RequiresTeam: true,
			Risk:         tool.RiskHigh,
		},
		AtomicDefault: true,
		ConfirmAbove:  bulkConfirmThreshold,
	}, svc.updateTaskItem)
}
