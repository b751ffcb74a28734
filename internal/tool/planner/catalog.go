package planner

import (
	"github.com/martin3r-me/platforms-planner-sub000/internal/tool"
)

// RegisterAll installs the full planner catalog into the registry.
func RegisterAll(reg *tool.Registry, svc *Service) {
	reg.MustRegister(
		NewProjectCreate(svc),
		NewProjectList(svc),
		NewProjectGet(svc),
		NewProjectMetrics(svc),
		NewProjectTransfer(svc),
		NewSlotCreate(svc),
		NewSlotList(svc),
		NewSlotTransfer(svc),
		NewSprintCreate(svc),
		NewTaskCreate(svc),
		NewTaskUpdate(svc),
		NewTaskComplete(svc),
		NewTaskReassign(svc),
		NewTaskList(svc),
		NewTaskBulkCreate(svc),
		NewTaskBulkUpdate(svc),
	)
}
