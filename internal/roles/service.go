package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrInvalidation is returned when a mutation was stored but the decision
// cache could not be invalidated. Callers should retry the invalidation.
var ErrInvalidation = errors.New("roles: decision cache invalidation failed")

// Repository defines persistence for role assignments.
type Repository interface {
	Assign(ctx context.Context, a Assignment) error
	Revoke(ctx context.Context, a Assignment) error
	Replace(ctx context.Context, principal, application, tenant string, roles []string) error
	List(ctx context.Context, principal, application string) ([]Assignment, error)
}

// Invalidator drops cached decisions for a principal. The authorization
// engine satisfies it.
type Invalidator interface {
	InvalidateForUser(ctx context.Context, principal, tenant string) error
}

// Service mutates role assignments and keeps cached decisions consistent
// with them.
type Service struct {
	repo        Repository
	invalidator Invalidator
	application string
	logger      *slog.Logger
}

// NewService builds a Service for application.
func NewService(repo Repository, invalidator Invalidator, application string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, invalidator: invalidator, application: application, logger: logger}
}

// Assign grants role to principal in tenant ("" for global).
func (s *Service) Assign(ctx context.Context, principal, tenant, role string) error {
	a := Assignment{Principal: principal, Application: s.application, Tenant: tenant, Role: role}
	if err := s.repo.Assign(ctx, a); err != nil {
		return err
	}
	return s.invalidate(ctx, principal, tenant)
}

// Revoke removes role from principal in tenant ("" for global).
func (s *Service) Revoke(ctx context.Context, principal, tenant, role string) error {
	a := Assignment{Principal: principal, Application: s.application, Tenant: tenant, Role: role}
	if err := s.repo.Revoke(ctx, a); err != nil {
		return err
	}
	return s.invalidate(ctx, principal, tenant)
}

// Replace sets the full role list of principal in tenant.
func (s *Service) Replace(ctx context.Context, principal, tenant string, roles []string) error {
	if err := s.repo.Replace(ctx, principal, s.application, tenant, roles); err != nil {
		return err
	}
	return s.invalidate(ctx, principal, tenant)
}

// List returns every assignment of principal.
func (s *Service) List(ctx context.Context, principal string) ([]Assignment, error) {
	return s.repo.List(ctx, principal, s.application)
}

// A global assignment changes decisions in every tenant, so the invalidator
// receives the empty tenant and drops all of the principal's entries.
func (s *Service) invalidate(ctx context.Context, principal, tenant string) error {
	if s.invalidator == nil {
		return nil
	}
	if err := s.invalidator.InvalidateForUser(ctx, principal, tenant); err != nil {
		s.logger.Error("roles: invalidate decisions",
			slog.String("principal", principal),
			slog.String("tenant", tenant),
			slog.Any("error", err),
		)
		return fmt.Errorf("%w: %w", ErrInvalidation, err)
	}
	return nil
}
