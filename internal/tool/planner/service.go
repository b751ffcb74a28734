// Package planner holds the planner tool catalog: the concrete capabilities
// (project, slot, task, sprint operations) exposed to the reasoning engine.
package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/martin3r-me/platforms-planner-sub000/internal/events"
	"github.com/martin3r-me/platforms-planner-sub000/internal/policy"
	"github.com/martin3r-me/platforms-planner-sub000/internal/repo"
	"github.com/martin3r-me/platforms-planner-sub000/internal/tool"
)

// Service bundles the collaborators every planner tool needs.
type Service struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Policy policy.Checker
	Now    func() time.Time
}

func NewService(db *sql.DB, checker policy.Checker) *Service {
	return &Service{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Policy: checker,
		Now:    time.Now,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) nowStr() string {
	return s.now().UTC().Format(time.RFC3339)
}

// allowed asks the policy evaluator and converts a refusal into a Result.
// A nil return means the action may proceed.
func (s *Service) allowed(ctx context.Context, ec tool.ExecutionContext, action, teamID string) *tool.Result {
	ok, err := s.Policy.Can(ctx, ec.Actor.ID, action, teamID)
	if err != nil {
		r := tool.Fail(tool.CodeExecution, "policy check failed: %v", err)
		return &r
	}
	if !ok {
		r := tool.Fail(tool.CodeAccessDenied, "actor %s may not %s in team %s", ec.Actor.ID, action, teamID)
		return &r
	}
	return nil
}

// asMap converts a domain struct into the generic payload shape of a Result.
func asMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func validTimestamp(v string) bool {
	_, err := time.Parse(time.RFC3339, v)
	return err == nil
}
