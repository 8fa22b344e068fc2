package authz

import (
	"context"
	"fmt"
	"log/slog"
)

// InvalidateForUser drops cached decisions for principal in tenant, including
// batch entries. An empty tenant drops the principal's decisions in every
// tenant, because global role changes apply everywhere.
func (e *Engine) InvalidateForUser(ctx context.Context, principal, tenant string) error {
	return e.invalidate(ctx, "user", e.userPattern(principal, tenant))
}

// InvalidateForTenant drops cached decisions of every principal in tenant.
// An empty tenant targets global-scope decisions.
func (e *Engine) InvalidateForTenant(ctx context.Context, tenant string) error {
	return e.invalidate(ctx, "tenant", e.tenantPattern(tenant))
}

// InvalidateAll drops every cached decision under the key prefix. Call it
// after a policy change.
func (e *Engine) InvalidateAll(ctx context.Context) error {
	return e.invalidate(ctx, "all", e.allPattern())
}

func (e *Engine) invalidate(ctx context.Context, scope, pattern string) error {
	if e == nil {
		return ErrNotConfigured
	}
	if e.cache == nil {
		return nil
	}
	removed, err := e.cache.DeletePattern(ctx, pattern)
	if err != nil {
		return fmt.Errorf("authz: invalidate %s %q: %w", scope, pattern, err)
	}
	e.metrics.ObserveInvalidation(scope, removed)
	e.logger.Debug("authz: invalidated decisions",
		slog.String("scope", scope),
		slog.String("pattern", pattern),
		slog.Int("removed", removed),
	)
	return nil
}
