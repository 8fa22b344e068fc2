package policy

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
)

//go:embed model.conf
var defaultCasbinModel string

//go:embed policy.csv
var defaultCasbinPolicy string

// CasbinConfig selects the model and policy sources. File paths take
// precedence over inline text; empty sources fall back to the embedded defaults.
type CasbinConfig struct {
	ModelPath  string
	PolicyPath string
	ModelText  string
	PolicyText string
}

// Casbin evaluates roles with a casbin enforcer. The request tuple is
// (principal, role, application, tenant, resource, action, owner).
type Casbin struct {
	cfg      CasbinConfig
	enforcer atomic.Pointer[casbin.SyncedEnforcer]
}

// NewCasbin loads the configured model and policy.
func NewCasbin(cfg CasbinConfig) (*Casbin, error) {
	c := &Casbin{cfg: cfg}
	if err := c.Reload(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// Evaluate implements Evaluator.
func (c *Casbin) Evaluate(_ context.Context, in Input) (bool, error) {
	e := c.enforcer.Load()
	if e == nil {
		return false, ErrNoPolicies
	}
	allowed, err := e.Enforce(in.Principal, in.Role, in.Application, in.Tenant, in.Resource, in.Action, in.Owner)
	if err != nil {
		return false, fmt.Errorf("policy: casbin enforce: %w", err)
	}
	return allowed, nil
}

// Reload rebuilds the enforcer from the configured sources. On failure the
// previously loaded rules stay active.
func (c *Casbin) Reload(_ context.Context) error {
	modelText, err := source(c.cfg.ModelPath, c.cfg.ModelText, defaultCasbinModel)
	if err != nil {
		return err
	}
	policyText, err := source(c.cfg.PolicyPath, c.cfg.PolicyText, defaultCasbinPolicy)
	if err != nil {
		return err
	}
	if strings.TrimSpace(policyText) == "" {
		return ErrNoPolicies
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return fmt.Errorf("policy: casbin model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m, stringadapter.NewAdapter(policyText))
	if err != nil {
		return fmt.Errorf("policy: casbin enforcer: %w", err)
	}
	c.enforcer.Store(e)
	return nil
}

// PolicyCount returns the number of loaded policy rules.
func (c *Casbin) PolicyCount() int {
	e := c.enforcer.Load()
	if e == nil {
		return 0
	}
	rules, err := e.GetPolicy()
	if err != nil {
		return 0
	}
	return len(rules)
}

func source(path, inline, fallback string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("policy: read %s: %w", path, err)
		}
		return string(data), nil
	}
	if inline != "" {
		return inline, nil
	}
	return fallback, nil
}
