package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kaptinlin/jsonschema"
)

// Registry holds the immutable tool catalog. Tools are registered once at
// process start and looked up by name at call time.
type Registry struct {
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   map[string]Tool{},
		schemas: map[string]*jsonschema.Schema{},
		logger:  logger,
	}
}

// Register compiles the tool's input schema and adds it to the catalog.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(t.InputSchema())
	if err != nil {
		return fmt.Errorf("tool %s: compile input schema: %w", name, err)
	}
	r.tools[name] = t
	r.schemas[name] = schema
	return nil
}

// MustRegister panics on registration failure; used at process start where a
// broken catalog entry is a programming error.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Catalog returns descriptors sorted by name for a stable reasoning prompt.
func (r *Registry) Catalog() []Descriptor {
	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Descriptor{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
			Metadata:    t.Metadata(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs a tool by name: metadata gates, dependency resolution, schema
// validation, then the tool's own Execute. Panics are converted to
// EXECUTION_ERROR so no fault escapes the tool boundary.
func (r *Registry) Invoke(ctx context.Context, name string, args Args, ec ExecutionContext) Result {
	return r.invoke(ctx, name, args, ec, nil)
}

func (r *Registry) invoke(ctx context.Context, name string, args Args, ec ExecutionContext, stack []string) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", rec)
			res = Fail(CodeExecution, "tool %s failed unexpectedly", name)
		}
	}()

	for _, s := range stack {
		if s == name {
			return Fail(CodeExecution, "dependency cycle detected at tool %s", name)
		}
	}
	stack = append(stack, name)

	t, ok := r.tools[name]
	if !ok {
		return Fail(CodeToolNotFound, "unknown tool %s", name)
	}
	meta := t.Metadata()
	if meta.RequiresAuth && !ec.Authenticated() {
		return Fail(CodeAuth, "tool %s requires an acting identity", name)
	}
	if meta.RequiresTeam && !ec.Scoped() {
		return Fail(CodeValidation, "tool %s requires an active team scope", name)
	}
	if args == nil {
		args = Args{}
	}

	if da, hasDeps := t.(DependencyAware); hasDeps {
		resolved, depRes, done := r.resolve(ctx, da.Dependencies(), args, ec, stack)
		if done {
			return depRes
		}
		args = resolved
	}

	if schema := r.schemas[name]; schema != nil {
		vr := schema.Validate(map[string]any(args))
		if !vr.IsValid() {
			return Fail(CodeValidation, "tool %s: invalid arguments: %s", name, vr.Error())
		}
	}

	result := t.Execute(ctx, args, ec)
	if !result.Ok {
		r.logger.Debug("tool call failed", "tool", name, "code", result.Code, "message", result.Message)
	}
	return result
}

// resolve walks the dependency rules depth-first. It returns either the
// updated arguments, or (when done is true) the Result that must be surfaced
// instead of running the main tool: a failed dependency or a short-circuit.
func (r *Registry) resolve(ctx context.Context, spec DependencySpec, args Args, ec ExecutionContext, stack []string) (Args, Result, bool) {
	for _, rule := range spec.Rules {
		if rule.When != nil && !rule.When(args, ec) {
			continue
		}
		depArgs := Args{}
		if rule.BuildArgs != nil {
			depArgs = rule.BuildArgs(args, ec)
		}
		depRes := r.invoke(ctx, rule.Tool, depArgs, ec, stack)
		if !depRes.Ok {
			return nil, depRes, true
		}
		if rule.Merge == nil {
			return nil, depRes, true
		}
		merged, ok := rule.Merge(depRes, args)
		if !ok {
			return nil, depRes, true
		}
		args = merged
	}
	return args, Result{}, false
}
