package authz

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-authz/internal/observability"
)

// BatchAuthorize answers the same (principal, tenant, resource, action)
// question for many resources at once. owners maps resource ID to owner ("" for
// none). Roles are resolved once per call. The result has an entry for every
// input ID; any failure resolves the affected IDs to false. The error is
// non-nil only for ErrNotConfigured.
func (e *Engine) BatchAuthorize(ctx context.Context, req Request, owners map[string]string) (map[string]bool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(owners))
	for id := range owners {
		out[id] = false
	}
	if len(owners) == 0 {
		return out, nil
	}
	e.metrics.ObserveBatch(len(owners))

	roles, err := e.resolve(ctx, req.Principal, req.Tenant)
	if err != nil {
		e.fail(req, "batch resolve roles", err)
		return out, nil
	}
	if len(roles) == 0 {
		e.logger.Debug("authz: no roles resolved for batch",
			append(requestAttrs(req), slog.Int("items", len(owners)))...)
		return out, nil
	}

	base := e.baseKey(req)
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(e.opts.BatchConcurrency)
	for id, owner := range owners {
		g.Go(func() error {
			item := req
			item.Owner = owner
			allowed := e.authorizeItem(ctx, item, roles, batchKey(base, id), id)
			mu.Lock()
			out[id] = allowed
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (e *Engine) authorizeItem(ctx context.Context, req Request, roles []Role, key, resourceID string) (allowed bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("authz: panic during batch evaluation",
				append(requestAttrs(req), slog.String("resource_id", resourceID), slog.Any("panic", r))...)
			e.metrics.ObserveDecision(false, observability.SourceError)
			allowed = false
		}
	}()
	if cached, ok := e.lookup(ctx, key); ok {
		e.metrics.ObserveDecision(cached, observability.SourceCache)
		return cached
	}
	allowed, source, err := e.decide(ctx, req, roles)
	if err != nil {
		e.logger.Error("authz: batch item evaluation failed, denying",
			append(requestAttrs(req), slog.String("resource_id", resourceID), slog.Any("error", err))...)
		e.metrics.ObserveDecision(false, observability.SourceError)
		return false
	}
	e.metrics.ObserveDecision(allowed, source)
	e.store(ctx, key, allowed)
	if !allowed {
		e.recordDenial(ctx, req, map[string]any{"resource_id": resourceID, "batch": true})
	}
	return allowed
}
