// Package authz answers whether a principal may perform an action on a
// resource within a tenant. It resolves roles from the role store, asks the
// policy evaluator once per role, and caches the boolean answer.
//
// Every runtime failure resolves to a denial. Cached decisions are not
// invalidated automatically: code that mutates role assignments or policies
// must call InvalidateForUser, InvalidateForTenant or InvalidateAll.
package authz

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/cache"
	"github.com/odyssey-erp/odyssey-authz/internal/observability"
	"github.com/odyssey-erp/odyssey-authz/internal/policy"
)

// RoleResolver returns the role names a principal holds. With a tenant both
// tenant-scoped and global roles are returned; without one only global roles.
type RoleResolver interface {
	ResolveRoles(ctx context.Context, principal, application, tenant string) ([]string, error)
}

// Request is one authorization question. Owner is the resource owner, or the
// empty string when the resource has none.
type Request struct {
	Principal string `json:"principal" validate:"required"`
	Tenant    string `json:"tenant,omitempty"`
	Resource  string `json:"resource" validate:"required"`
	Action    string `json:"action" validate:"required"`
	Owner     string `json:"owner,omitempty"`
}

// Dependencies are the collaborators injected into an Engine. Roles and Policy
// are required; the rest are optional.
type Dependencies struct {
	Roles   RoleResolver
	Policy  policy.Evaluator
	Cache   cache.Cache
	Audit   audit.Sink
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Clock   func() time.Time
}

// Engine is the authorization facade. It is safe for concurrent use.
type Engine struct {
	roles   RoleResolver
	policy  policy.Evaluator
	cache   cache.Cache
	audit   audit.Sink
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
	opts    Options
	kinds   roleTable
	flight  *singleflight.Group
}

// New builds an Engine. It fails with ErrNotConfigured when the role store or
// evaluator is missing or the options are invalid.
func New(deps Dependencies, opts Options) (*Engine, error) {
	if deps.Roles == nil {
		return nil, fmt.Errorf("%w: role resolver is required", ErrNotConfigured)
	}
	if deps.Policy == nil {
		return nil, fmt.Errorf("%w: policy evaluator is required", ErrNotConfigured)
	}
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	e := &Engine{
		roles:   deps.Roles,
		policy:  deps.Policy,
		cache:   deps.Cache,
		audit:   deps.Audit,
		logger:  logger,
		metrics: deps.Metrics,
		now:     clock,
		opts:    opts,
		kinds:   newRoleTable(opts),
	}
	if opts.SingleFlight {
		e.flight = &singleflight.Group{}
	}
	return e, nil
}

// Options returns the effective options after defaults were applied.
func (e *Engine) Options() Options {
	return e.opts
}

func (e *Engine) ready() error {
	if e == nil || e.roles == nil || e.policy == nil {
		return ErrNotConfigured
	}
	return nil
}

// Authorize reports whether req is allowed. A cached answer is returned
// without consulting the role store or the evaluator. The error is non-nil
// only for ErrNotConfigured.
func (e *Engine) Authorize(ctx context.Context, req Request) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	key := e.decisionKey(req)
	if allowed, ok := e.lookup(ctx, key); ok {
		e.metrics.ObserveDecision(allowed, observability.SourceCache)
		return allowed, nil
	}
	if e.flight != nil {
		return e.authorizeShared(ctx, key, req), nil
	}
	return e.authorizeMiss(ctx, key, req), nil
}

func (e *Engine) authorizeShared(ctx context.Context, key string, req Request) bool {
	ch := e.flight.DoChan(key, func() (any, error) {
		return e.authorizeMiss(context.WithoutCancel(ctx), key, req), nil
	})
	select {
	case <-ctx.Done():
		e.logger.Warn("authz: request cancelled while waiting for shared decision",
			append(requestAttrs(req), slog.Any("error", ctx.Err()))...)
		e.metrics.ObserveDecision(false, observability.SourceError)
		return false
	case res := <-ch:
		allowed, _ := res.Val.(bool)
		return allowed
	}
}

func (e *Engine) authorizeMiss(ctx context.Context, key string, req Request) (allowed bool) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("authz: panic during evaluation",
				append(requestAttrs(req), slog.Any("panic", r))...)
			e.metrics.ObserveDecision(false, observability.SourceError)
			allowed = false
		}
	}()

	roles, err := e.resolve(ctx, req.Principal, req.Tenant)
	if err != nil {
		e.fail(req, "resolve roles", err)
		return false
	}
	allowed, source, err := e.decide(ctx, req, roles)
	if err != nil {
		e.fail(req, "evaluate", err)
		return false
	}
	e.metrics.ObserveEvaluation(time.Since(start))
	e.metrics.ObserveDecision(allowed, source)
	e.store(ctx, key, allowed)
	if !allowed {
		e.recordDenial(ctx, req, map[string]any{"roles": roleNames(roles)})
	}
	return allowed
}

func (e *Engine) resolve(ctx context.Context, principal, tenant string) ([]Role, error) {
	names, err := e.roles.ResolveRoles(ctx, principal, e.opts.Application, tenant)
	e.metrics.ObserveRoleResolution(err)
	if err != nil {
		return nil, err
	}
	return e.kinds.classify(names, e.opts.ImplicitRole), nil
}

// decide runs the role loop for one request. The super-admin role allows
// without evaluation; otherwise the first role the evaluator allows wins.
func (e *Engine) decide(ctx context.Context, req Request, roles []Role) (bool, string, error) {
	if hasKind(roles, RoleSuperAdmin) {
		return true, observability.SourceBypass, nil
	}
	if len(roles) == 0 {
		e.logger.Debug("authz: no roles resolved", requestAttrs(req)...)
		return false, observability.SourceEvaluated, nil
	}
	for _, role := range roles {
		ok, err := e.policy.Evaluate(ctx, policy.Input{
			Principal:   req.Principal,
			Role:        role.Name,
			Application: e.opts.Application,
			Tenant:      req.Tenant,
			Resource:    req.Resource,
			Action:      req.Action,
			Owner:       req.Owner,
		})
		if err != nil {
			return false, observability.SourceError, fmt.Errorf("role %s: %w", role.Name, err)
		}
		if ok {
			e.logger.Debug("authz: allowed", append(requestAttrs(req), slog.String("role", role.Name))...)
			return true, observability.SourceEvaluated, nil
		}
	}
	e.logger.Debug("authz: denied", append(requestAttrs(req), slog.Any("roles", roleNames(roles)))...)
	return false, observability.SourceEvaluated, nil
}

func (e *Engine) lookup(ctx context.Context, key string) (bool, bool) {
	if e.cache == nil {
		return false, false
	}
	allowed, found, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("authz: cache read failed", slog.String("key", key), slog.Any("error", err))
		e.metrics.ObserveCacheLookup(observability.CacheError)
		return false, false
	}
	if !found {
		e.metrics.ObserveCacheLookup(observability.CacheMiss)
		return false, false
	}
	e.metrics.ObserveCacheLookup(observability.CacheHit)
	return allowed, true
}

func (e *Engine) store(ctx context.Context, key string, allowed bool) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, key, allowed, e.opts.CacheTTL); err != nil {
		e.logger.Warn("authz: cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (e *Engine) fail(req Request, stage string, err error) {
	e.logger.Error("authz: "+stage+" failed, denying",
		append(requestAttrs(req), slog.String("application", e.opts.Application), slog.Any("error", err))...)
	e.metrics.ObserveDecision(false, observability.SourceError)
}

// recordDenial writes a denial to the audit sink. Sink errors are logged and
// never change the decision.
func (e *Engine) recordDenial(ctx context.Context, req Request, extra map[string]any) {
	if !e.opts.LogPermissionDenials || e.audit == nil {
		return
	}
	details := map[string]any{"application": e.opts.Application}
	if req.Owner != "" {
		details["owner"] = req.Owner
	}
	for k, v := range extra {
		details[k] = v
	}
	entry := audit.NewEntry(req.Principal, req.Tenant, req.Resource, req.Action, e.now(), details)
	if err := e.audit.LogPermissionDenied(ctx, entry); err != nil {
		e.logger.Warn("authz: audit write failed",
			append(requestAttrs(req), slog.String("audit_id", entry.ID), slog.Any("error", err))...)
		e.metrics.ObserveAuditFailure()
	}
}

func requestAttrs(req Request) []any {
	return []any{
		slog.String("principal", req.Principal),
		slog.String("tenant", req.Tenant),
		slog.String("resource", req.Resource),
		slog.String("action", req.Action),
	}
}
