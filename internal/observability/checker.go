package observability

import "context"

// Checker is a dependency consulted by the readiness probe.
type Checker interface {
	// Name identifies the component in the report, e.g. "postgres".
	Name() string
	// Check returns nil when the component is usable. It must honor ctx.
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	Component string
	Fn        func(ctx context.Context) error
}

// Name returns the component name.
func (c CheckerFunc) Name() string { return c.Component }

// Check calls Fn.
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
