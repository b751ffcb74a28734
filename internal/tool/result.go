package tool

import "fmt"

// Code is the machine-readable failure category carried by every failed Result.
type Code string

const (
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeAuth                 Code = "AUTH_ERROR"
	CodeAccessDenied         Code = "ACCESS_DENIED"
	CodeToolNotFound         Code = "TOOL_NOT_FOUND"
	CodeTeamNotFound         Code = "TEAM_NOT_FOUND"
	CodeProjectNotFound      Code = "PROJECT_NOT_FOUND"
	CodeSlotNotFound         Code = "SLOT_NOT_FOUND"
	CodeTaskNotFound         Code = "TASK_NOT_FOUND"
	CodeSprintNotFound       Code = "SPRINT_NOT_FOUND"
	CodeActorNotFound        Code = "ACTOR_NOT_FOUND"
	CodeTeamMismatch         Code = "TEAM_MISMATCH"
	CodeProjectMismatch      Code = "PROJECT_MISMATCH"
	CodeConfirmationRequired Code = "CONFIRMATION_REQUIRED"
	CodeTransferNotAllowed   Code = "TRANSFER_NOT_ALLOWED"
	CodeBulkValidation       Code = "BULK_VALIDATION_ERROR"
	CodeExecution            Code = "EXECUTION_ERROR"
)

// Result is the discriminated outcome of a tool call. Data is set only on
// success; Code and Message only on failure. Details may accompany a failure
// with self-correction context (a transfer preview, a failing bulk index).
type Result struct {
	Ok      bool           `json:"ok"`
	Data    map[string]any `json:"data,omitempty"`
	Code    Code           `json:"error_code,omitempty"`
	Message string         `json:"error_message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func Okay(data map[string]any) Result {
	if data == nil {
		data = map[string]any{}
	}
	return Result{Ok: true, Data: data}
}

func Fail(code Code, format string, a ...any) Result {
	return Result{Ok: false, Code: code, Message: fmt.Sprintf(format, a...)}
}

// FailWith attaches details to a failure.
func FailWith(code Code, details map[string]any, format string, a ...any) Result {
	r := Fail(code, format, a...)
	r.Details = details
	return r
}
