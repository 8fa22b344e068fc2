package authz

import "strings"

// Key layout:
//
//	{prefix}:{principal}:{tenant}:{resource}:{action}            single check
//	{prefix}:{principal}:{tenant}:{resource}:{action}:owner:{o}  single check, owner-scoped
//	{prefix}:{principal}:{tenant}:{resource}:{action}:{id}       batch item
//
// Segments are percent-escaped so that no value can contain the separator or
// glob metacharacters. An empty tenant is an empty segment.
var segmentEscaper = strings.NewReplacer(
	"%", "%25",
	":", "%3A",
	"*", "%2A",
	"?", "%3F",
	"[", "%5B",
	"]", "%5D",
	"{", "%7B",
	"}", "%7D",
	`\`, "%5C",
)

func escapeSegment(s string) string {
	return segmentEscaper.Replace(s)
}

func (e *Engine) baseKey(req Request) string {
	var b strings.Builder
	b.Grow(len(e.opts.KeyPrefix) + len(req.Principal) + len(req.Tenant) + len(req.Resource) + len(req.Action) + 4)
	b.WriteString(e.opts.KeyPrefix)
	for _, seg := range [...]string{req.Principal, req.Tenant, req.Resource, req.Action} {
		b.WriteByte(':')
		b.WriteString(escapeSegment(seg))
	}
	return b.String()
}

func (e *Engine) decisionKey(req Request) string {
	base := e.baseKey(req)
	if e.opts.OwnerScopedKeys {
		return base + ":owner:" + escapeSegment(req.Owner)
	}
	return base
}

func batchKey(base, resourceID string) string {
	return base + ":" + escapeSegment(resourceID)
}

// userPattern matches every key of principal in tenant. Without a tenant it
// matches every tenant, since global roles apply inside all of them.
func (e *Engine) userPattern(principal, tenant string) string {
	if tenant == "" {
		return e.opts.KeyPrefix + ":" + escapeSegment(principal) + ":*"
	}
	return e.opts.KeyPrefix + ":" + escapeSegment(principal) + ":" + escapeSegment(tenant) + ":*"
}

// tenantPattern may also match keys whose later segments equal the tenant.
// Over-matching only costs a re-evaluation.
func (e *Engine) tenantPattern(tenant string) string {
	return e.opts.KeyPrefix + ":*:" + escapeSegment(tenant) + ":*"
}

func (e *Engine) allPattern() string {
	return e.opts.KeyPrefix + ":*"
}
