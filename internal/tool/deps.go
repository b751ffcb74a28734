package tool

// DependencyRule declares how one missing input can be supplied by another
// tool. Rules are plain data with function fields so new tools plug in without
// touching the resolver.
type DependencyRule struct {
	// Tool is the name of the dependency tool to invoke.
	Tool string
	// When reports whether the dependency is needed for this call.
	When func(args Args, ec ExecutionContext) bool
	// BuildArgs derives the dependency's arguments from the main call.
	// A nil BuildArgs invokes the dependency with empty arguments.
	BuildArgs func(args Args, ec ExecutionContext) Args
	// Merge folds a successful dependency result back into the arguments.
	// Returning ok=false short-circuits: the dependency's Result becomes the
	// final outcome and the main tool does not run (used when the dependency
	// enumerates choices the caller must pick from).
	Merge func(res Result, args Args) (Args, bool)
}

// DependencySpec lists a tool's dependency rules in evaluation order.
type DependencySpec struct {
	Rules []DependencyRule
}
