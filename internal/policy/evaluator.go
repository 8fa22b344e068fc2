// Package policy evaluates a single (principal, role) pair against the
// configured rule set. Evaluators are deterministic for a fixed policy set;
// the authorization engine caches their answers on that assumption.
package policy

import (
	"context"
	"errors"
)

// ErrNoPolicies is returned when an evaluator is built without any rules.
var ErrNoPolicies = errors.New("policy: no policies loaded")

// Input is one evaluation question. Owner is the empty string when the
// resource has no owner context; it is never optional.
type Input struct {
	Principal   string
	Role        string
	Application string
	Tenant      string
	Resource    string
	Action      string
	Owner       string
}

// Evaluator answers whether a role grants an action.
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) (bool, error)
}

// Reloader is implemented by evaluators whose rules can be refreshed at runtime.
type Reloader interface {
	Reload(ctx context.Context) error
}

// EvaluatorFunc adapts a function into an Evaluator.
type EvaluatorFunc func(ctx context.Context, in Input) (bool, error)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(ctx context.Context, in Input) (bool, error) {
	return f(ctx, in)
}
