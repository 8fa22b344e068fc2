package authz

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Defaults applied by DefaultOptions and when a field is left at its zero value.
const (
	DefaultCacheTTL         = 300 * time.Second
	DefaultApplication      = "default"
	DefaultImplicitRole     = "user"
	DefaultSuperAdminRole   = "super_admin"
	DefaultKeyPrefix        = "authz"
	DefaultBatchConcurrency = 4
)

// Options tunes engine behaviour.
type Options struct {
	// CacheTTL is the lifetime of a cached decision. Zero selects DefaultCacheTTL.
	CacheTTL time.Duration `validate:"gte=0"`
	// LogPermissionDenials enables the denial audit trail.
	LogPermissionDenials bool
	// Application scopes role resolution and policy evaluation.
	Application string `validate:"required"`
	// ImplicitRole is appended to every resolved role set when absent.
	ImplicitRole string
	// DisableImplicitRole stops the engine from appending ImplicitRole.
	DisableImplicitRole bool
	// SuperAdminRole bypasses policy evaluation.
	SuperAdminRole string
	// DisableSuperAdminBypass evaluates SuperAdminRole like any assigned role.
	DisableSuperAdminBypass bool
	// KeyPrefix namespaces every cache key.
	KeyPrefix string `validate:"required,excludesall=:*?[]{}"`
	// SingleFlight collapses concurrent misses on the same key into one evaluation.
	SingleFlight bool
	// OwnerScopedKeys includes the resource owner in the single-check cache key.
	OwnerScopedKeys bool
	// BatchConcurrency bounds parallel item evaluation in BatchAuthorize.
	BatchConcurrency int `validate:"gte=0,lte=256"`
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		CacheTTL:         DefaultCacheTTL,
		Application:      DefaultApplication,
		ImplicitRole:     DefaultImplicitRole,
		SuperAdminRole:   DefaultSuperAdminRole,
		KeyPrefix:        DefaultKeyPrefix,
		BatchConcurrency: DefaultBatchConcurrency,
	}
}

var optionsValidator = validator.New()

func (o Options) normalize() (Options, error) {
	if o.CacheTTL == 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.Application == "" {
		o.Application = DefaultApplication
	}
	switch {
	case o.DisableImplicitRole:
		o.ImplicitRole = ""
	case o.ImplicitRole == "":
		o.ImplicitRole = DefaultImplicitRole
	}
	switch {
	case o.DisableSuperAdminBypass:
		o.SuperAdminRole = ""
	case o.SuperAdminRole == "":
		o.SuperAdminRole = DefaultSuperAdminRole
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = DefaultKeyPrefix
	}
	if o.BatchConcurrency == 0 {
		o.BatchConcurrency = DefaultBatchConcurrency
	}
	if err := optionsValidator.Struct(o); err != nil {
		return o, fmt.Errorf("%w: options: %w", ErrNotConfigured, err)
	}
	return o, nil
}
