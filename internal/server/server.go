// Package server exposes the tool catalog and batch runs over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/martin3r-me/platforms-planner-sub000/internal/batch"
	"github.com/martin3r-me/platforms-planner-sub000/internal/domain"
	"github.com/martin3r-me/platforms-planner-sub000/internal/repo"
	"github.com/martin3r-me/platforms-planner-sub000/internal/tool"
	"github.com/martin3r-me/platforms-planner-sub000/internal/tool/planner"
)

// Config for the HTTP API handler.
type Config struct {
	Service      *planner.Service
	Registry     *tool.Registry
	Orchestrator *batch.Orchestrator
	BasePath     string
	Auth         AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"PROJECT_NOT_FOUND"`
	Message string         `json:"message" example:"project p-1 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
	return &apiError{
		status: status,
		Body:   apiErrorBody{Code: code, Message: message, Details: details},
	}
}

// New returns an HTTP handler exposing the planner API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		for _, e := range errs { // DEBUG
			println("HUMA ERR:", e.Error())
		}
		return newAPIError(status, "", msg, nil)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Service.Repo))
	hcfg := huma.DefaultConfig("Planner API", "0.1.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerTools(group, cfg)
	registerBatch(group, cfg)

	return router, nil
}

// statusForCode maps the tool failure taxonomy onto HTTP statuses.
func statusForCode(code tool.Code) int {
	switch code {
	case tool.CodeValidation:
		return http.StatusBadRequest
	case tool.CodeAuth:
		return http.StatusUnauthorized
	case tool.CodeAccessDenied:
		return http.StatusForbidden
	case tool.CodeToolNotFound, tool.CodeTeamNotFound, tool.CodeProjectNotFound,
		tool.CodeSlotNotFound, tool.CodeTaskNotFound, tool.CodeSprintNotFound,
		tool.CodeActorNotFound:
		return http.StatusNotFound
	case tool.CodeTeamMismatch, tool.CodeProjectMismatch,
		tool.CodeConfirmationRequired, tool.CodeTransferNotAllowed:
		return http.StatusConflict
	case tool.CodeBulkValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func registerHealth(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status" example:"ok"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Liveness check",
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		out := &healthOutput{}
		out.Body.Status = "ok"
		return out, nil
	})
}

// executionContext builds the tool execution context from the authenticated
// principal and the team scope header.
func executionContext(ctx context.Context, svc *planner.Service, teamID string) (tool.ExecutionContext, huma.StatusError) {
	p, ok := principalFromContext(ctx)
	if !ok || p.ActorID == "" {
		return tool.ExecutionContext{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	actor, err := svc.Repo.GetActor(ctx, p.ActorID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return tool.ExecutionContext{}, newAPIError(http.StatusInternalServerError, "", "load actor", nil)
		}
		// JWT subjects may act before a local actor row exists.
		actor = domain.Actor{ID: p.ActorID, Name: p.ActorID}
	}
	return tool.ExecutionContext{Actor: actor, TeamID: teamID}, nil
}

func registerTools(api huma.API, cfg Config) {
	type catalogOutput struct {
		Body struct {
			Tools []tool.Descriptor `json:"tools"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "tools-list",
		Method:      http.MethodGet,
		Path:        "/tools",
		Summary:     "List the tool catalog",
	}, func(ctx context.Context, _ *struct{}) (*catalogOutput, error) {
		out := &catalogOutput{}
		out.Body.Tools = cfg.Registry.Catalog()
		return out, nil
	})

	type invokeInput struct {
		Name    string `path:"name" example:"planner.task.create"`
		TeamID  string `header:"X-Team-Id" required:"false"`
		RawBody []byte `contentType:"application/json"`
	}
	type invokeOutput struct {
		Body tool.Result
	}
	huma.Register(api, huma.Operation{
		OperationID: "tools-invoke",
		Method:      http.MethodPost,
		Path:        "/tools/{name}",
		Summary:     "Invoke a tool by name",
		Description: "The request body is the tool's argument object. Failures come back as the error envelope with the tool's failure code.",
	}, func(ctx context.Context, input *invokeInput) (*invokeOutput, error) {
		ec, authErr := executionContext(ctx, cfg.Service, input.TeamID)
		if authErr != nil {
			return nil, authErr
		}
		args, err := tool.ParseArgs(json.RawMessage(input.RawBody))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, string(tool.CodeValidation), "request body must be a JSON object", nil)
		}
		res := cfg.Registry.Invoke(ctx, input.Name, args, ec)
		if !res.Ok {
			return nil, newAPIError(statusForCode(res.Code), string(res.Code), res.Message, res.Details)
		}
		return &invokeOutput{Body: res}, nil
	})
}

func registerBatch(api huma.API, cfg Config) {
	type runInput struct {
		Body struct {
			DeadlineSeconds int    `json:"deadline_seconds,omitempty" minimum:"0"`
			MaxItems        int    `json:"max_items,omitempty" minimum:"0"`
			TaskID          string `json:"task_id,omitempty"`
			DryRun          bool   `json:"dry_run,omitempty"`
		}
	}
	type runOutput struct {
		Body batch.Report
	}
	huma.Register(api, huma.Operation{
		OperationID: "batch-run",
		Method:      http.MethodPost,
		Path:        "/batch/runs",
		Summary:     "Execute one batch pass over the backlog",
		Description: "Returns immediately with the run report. A 200 with locked=false means another run held the lock and nothing happened.",
	}, func(ctx context.Context, input *runInput) (*runOutput, error) {
		if cfg.Orchestrator == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "BATCH_DISABLED", "no batch orchestrator configured", nil)
		}
		report, err := cfg.Orchestrator.Run(ctx, batch.Config{
			Deadline: time.Duration(input.Body.DeadlineSeconds) * time.Second,
			MaxItems: input.Body.MaxItems,
			TaskID:   input.Body.TaskID,
			DryRun:   input.Body.DryRun,
		})
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "", err.Error(), nil)
		}
		return &runOutput{Body: report}, nil
	})
}
