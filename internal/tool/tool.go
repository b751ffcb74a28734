package tool

import (
	"context"
	"encoding/json"

	"github.com/martin3r-me/platforms-planner-sub000/internal/domain"
)

// ExecutionContext carries the acting identity and active team scope through
// every tool call. It is created per request or per batch item and never
// persisted.
type ExecutionContext struct {
	Actor  domain.Actor
	TeamID string
}

func (ec ExecutionContext) Authenticated() bool { return ec.Actor.ID != "" }
func (ec ExecutionContext) Scoped() bool        { return ec.TeamID != "" }

// RiskLevel classifies how dangerous a tool is to call blindly.
type RiskLevel string

const (
	RiskSafe   RiskLevel = "safe"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Metadata describes a tool beyond its schema.
type Metadata struct {
	Category     string    `json:"category"`
	Tags         []string  `json:"tags,omitempty"`
	ReadOnly     bool      `json:"read_only"`
	RequiresAuth bool      `json:"requires_auth"`
	RequiresTeam bool      `json:"requires_team"`
	Risk         RiskLevel `json:"risk_level"`
	Idempotent   bool      `json:"idempotent"`
}

// Tool is a named, schema-described capability. Implementations are stateless
// and reentrant; Execute must return a Result instead of letting a failure
// escape.
type Tool interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Metadata() Metadata
	Execute(ctx context.Context, args Args, ec ExecutionContext) Result
}

// DependencyAware is implemented by tools whose missing inputs can be supplied
// by invoking another tool first.
type DependencyAware interface {
	Dependencies() DependencySpec
}

// Descriptor is the catalog entry handed to the reasoning engine.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	Metadata    Metadata        `json:"metadata"`
}
