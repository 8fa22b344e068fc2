package authz

import "errors"

// ErrNotConfigured reports missing wiring: an engine without a role store or
// policy evaluator, or invalid options. It is the only error Authorize and
// BatchAuthorize return; every runtime failure resolves to a denial instead.
var ErrNotConfigured = errors.New("authz: engine not configured")
