package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/martin3r-me/platforms-planner-sub000/internal/domain"
)

type fakeTool struct {
	name    string
	schema  string
	meta    Metadata
	deps    DependencySpec
	execute func(ctx context.Context, args Args, ec ExecutionContext) Result
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake" }
func (f *fakeTool) Metadata() Metadata  { return f.meta }

func (f *fakeTool) InputSchema() json.RawMessage {
	if f.schema == "" {
		return json.RawMessage(`{"type":"object"}`)
	}
	return json.RawMessage(f.schema)
}

func (f *fakeTool) Execute(ctx context.Context, args Args, ec ExecutionContext) Result {
	if f.execute == nil {
		return Okay(map[string]any{"called": f.name})
	}
	return f.execute(ctx, args, ec)
}

type fakeDepTool struct {
	fakeTool
}

func (f *fakeDepTool) Dependencies() DependencySpec { return f.deps }

func authedEC() ExecutionContext {
	return ExecutionContext{Actor: domain.Actor{ID: "alice"}, TeamID: "team-a"}
}

func TestInvokeUnknownTool(t *testing.T) {
	reg := NewRegistry(nil)
	res := reg.Invoke(context.Background(), "nope", Args{}, authedEC())
	if res.Ok || res.Code != CodeToolNotFound {
		t.Fatalf("got ok=%v code=%s", res.Ok, res.Code)
	}
}

func TestInvokeGates(t *testing.T) {
	reg := NewRegistry(nil)
	reg.MustRegister(&fakeTool{name: "gated", meta: Metadata{RequiresAuth: true, RequiresTeam: true}})

	res := reg.Invoke(context.Background(), "gated", Args{}, ExecutionContext{})
	if res.Code != CodeAuth {
		t.Fatalf("unauthenticated call: code=%s, want AUTH_ERROR", res.Code)
	}
	res = reg.Invoke(context.Background(), "gated", Args{}, ExecutionContext{Actor: domain.Actor{ID: "alice"}})
	if res.Code != CodeValidation {
		t.Fatalf("unscoped call: code=%s, want VALIDATION_ERROR", res.Code)
	}
	res = reg.Invoke(context.Background(), "gated", Args{}, authedEC())
	if !res.Ok {
		t.Fatalf("scoped call failed: %s %s", res.Code, res.Message)
	}
}

func TestInvokeValidatesArguments(t *testing.T) {
	reg := NewRegistry(nil)
	reg.MustRegister(&fakeTool{
		name:   "strict",
		schema: `{"type":"object","properties":{"n":{"type":"integer"}},"required":["n"]}`,
	})

	res := reg.Invoke(context.Background(), "strict", Args{}, authedEC())
	if res.Ok || res.Code != CodeValidation {
		t.Fatalf("missing required arg: ok=%v code=%s", res.Ok, res.Code)
	}
	res = reg.Invoke(context.Background(), "strict", Args{"n": 3}, authedEC())
	if !res.Ok {
		t.Fatalf("valid args rejected: %s %s", res.Code, res.Message)
	}
}

func TestInvokeRecoversPanics(t *testing.T) {
	reg := NewRegistry(nil)
	reg.MustRegister(&fakeTool{
		name: "bomb",
		execute: func(context.Context, Args, ExecutionContext) Result {
			panic("boom")
		},
	})

	res := reg.Invoke(context.Background(), "bomb", Args{}, authedEC())
	if res.Ok || res.Code != CodeExecution {
		t.Fatalf("panic leaked: ok=%v code=%s", res.Ok, res.Code)
	}
}

func TestDependencyMergeFeedsMainTool(t *testing.T) {
	reg := NewRegistry(nil)
	reg.MustRegister(&fakeTool{
		name: "lookup",
		execute: func(context.Context, Args, ExecutionContext) Result {
			return Okay(map[string]any{"value": "resolved"})
		},
	})
	var seen Args
	main := &fakeDepTool{fakeTool: fakeTool{
		name: "main",
		execute: func(_ context.Context, args Args, _ ExecutionContext) Result {
			seen = args
			return Okay(nil)
		},
	}}
	main.deps = DependencySpec{Rules: []DependencyRule{{
		Tool: "lookup",
		When: func(args Args, _ ExecutionContext) bool { return !args.Has("target") },
		Merge: func(res Result, args Args) (Args, bool) {
			return args.Merge(Args{"target": res.Data["value"]}), true
		},
	}}}
	reg.MustRegister(main)

	res := reg.Invoke(context.Background(), "main", Args{}, authedEC())
	if !res.Ok {
		t.Fatalf("invoke: %s %s", res.Code, res.Message)
	}
	if seen.String("target") != "resolved" {
		t.Fatalf("dependency value not merged: %#v", seen)
	}
}

func TestDependencyShortCircuitReturnsDependencyResult(t *testing.T) {
	reg := NewRegistry(nil)
	reg.MustRegister(&fakeTool{
		name: "lookup",
		execute: func(context.Context, Args, ExecutionContext) Result {
			return Okay(map[string]any{"candidates": 2})
		},
	})
	mainCalled := false
	main := &fakeDepTool{fakeTool: fakeTool{
		name: "main",
		execute: func(context.Context, Args, ExecutionContext) Result {
			mainCalled = true
			return Okay(nil)
		},
	}}
	main.deps = DependencySpec{Rules: []DependencyRule{{
		Tool:  "lookup",
		Merge: func(Result, Args) (Args, bool) { return nil, false },
	}}}
	reg.MustRegister(main)

	res := reg.Invoke(context.Background(), "main", Args{}, authedEC())
	if !res.Ok {
		t.Fatalf("short-circuit should surface the dependency result: %s", res.Code)
	}
	if res.Data["candidates"] != 2 {
		t.Fatalf("unexpected short-circuit payload: %#v", res.Data)
	}
	if mainCalled {
		t.Fatalf("main tool ran despite short-circuit")
	}
}

func TestDependencyCycleDetected(t *testing.T) {
	reg := NewRegistry(nil)
	a := &fakeDepTool{fakeTool: fakeTool{name: "a"}}
	b := &fakeDepTool{fakeTool: fakeTool{name: "b"}}
	a.deps = DependencySpec{Rules: []DependencyRule{{
		Tool:  "b",
		Merge: func(_ Result, args Args) (Args, bool) { return args, true },
	}}}
	b.deps = DependencySpec{Rules: []DependencyRule{{
		Tool:  "a",
		Merge: func(_ Result, args Args) (Args, bool) { return args, true },
	}}}
	reg.MustRegister(a, b)

	res := reg.Invoke(context.Background(), "a", Args{}, authedEC())
	if res.Ok || res.Code != CodeExecution {
		t.Fatalf("cycle not detected: ok=%v code=%s", res.Ok, res.Code)
	}
}

func TestCatalogSorted(t *testing.T) {
	reg := NewRegistry(nil)
	reg.MustRegister(
		&fakeTool{name: "zeta"},
		&fakeTool{name: "alpha"},
	)
	cat := reg.Catalog()
	if len(cat) != 2 || cat[0].Name != "alpha" || cat[1].Name != "zeta" {
		t.Fatalf("catalog order: %#v", cat)
	}
}
