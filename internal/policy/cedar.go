package policy

import (
	"context"
	_ "embed"
	"fmt"
	"sync/atomic"

	"github.com/cedar-policy/cedar-go"
)

//go:embed policies.cedar
var defaultCedarPolicies []byte

// Cedar entity types used when building requests.
const (
	cedarPrincipalType = "User"
	cedarResourceType  = "Resource"
	cedarActionType    = "Action"
)

// CedarConfig selects the Cedar policy source. Path wins over Policies;
// both empty means the embedded defaults.
type CedarConfig struct {
	Path     string
	Policies []byte
}

// Cedar evaluates roles against a Cedar policy set. The principal entity
// carries id, role, application and tenant attributes; the resource entity
// carries owner and tenant.
type Cedar struct {
	cfg      CedarConfig
	policies atomic.Pointer[cedar.PolicySet]
}

// NewCedar parses the configured policies.
func NewCedar(cfg CedarConfig) (*Cedar, error) {
	c := &Cedar{cfg: cfg}
	if err := c.Reload(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// Evaluate implements Evaluator. Policy evaluation errors are only surfaced
// when no permit matched, so a broken rule cannot turn a deny into an allow.
func (c *Cedar) Evaluate(_ context.Context, in Input) (bool, error) {
	ps := c.policies.Load()
	if ps == nil {
		return false, ErrNoPolicies
	}
	principal := cedar.NewEntityUID(cedarPrincipalType, cedar.String(in.Principal))
	resource := cedar.NewEntityUID(cedarResourceType, cedar.String(in.Resource))
	entities := cedar.EntityMap{
		principal: cedar.Entity{
			UID:     principal,
			Parents: cedar.NewEntityUIDSet(),
			Attributes: cedar.NewRecord(cedar.RecordMap{
				"id":          cedar.String(in.Principal),
				"role":        cedar.String(in.Role),
				"application": cedar.String(in.Application),
				"tenant":      cedar.String(in.Tenant),
			}),
		},
		resource: cedar.Entity{
			UID:     resource,
			Parents: cedar.NewEntityUIDSet(),
			Attributes: cedar.NewRecord(cedar.RecordMap{
				"owner":  cedar.String(in.Owner),
				"tenant": cedar.String(in.Tenant),
			}),
		},
	}
	req := cedar.Request{
		Principal: principal,
		Action:    cedar.NewEntityUID(cedarActionType, cedar.String(in.Action)),
		Resource:  resource,
		Context: cedar.NewRecord(cedar.RecordMap{
			"role":        cedar.String(in.Role),
			"application": cedar.String(in.Application),
			"tenant":      cedar.String(in.Tenant),
		}),
	}

	decision, diag := cedar.Authorize(ps, entities, req)
	if decision == cedar.Allow {
		return true, nil
	}
	if len(diag.Errors) > 0 {
		first := diag.Errors[0]
		return false, fmt.Errorf("policy: cedar %s: %s", first.PolicyID, first.Message)
	}
	return false, nil
}

// Reload re-parses the policy source. On failure the current set stays active.
func (c *Cedar) Reload(_ context.Context) error {
	data := c.cfg.Policies
	name := "policies.cedar"
	if c.cfg.Path != "" {
		text, err := source(c.cfg.Path, "", "")
		if err != nil {
			return err
		}
		data = []byte(text)
		name = c.cfg.Path
	}
	if len(data) == 0 {
		data = defaultCedarPolicies
	}
	ps, err := cedar.NewPolicySetFromBytes(name, data)
	if err != nil {
		return fmt.Errorf("policy: parse cedar policies: %w", err)
	}
	c.policies.Store(ps)
	return nil
}

// PolicyCount returns the number of loaded policies.
func (c *Cedar) PolicyCount() int {
	ps := c.policies.Load()
	if ps == nil {
		return 0
	}
	count := 0
	for range ps.All() {
		count++
	}
	return count
}
