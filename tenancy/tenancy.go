// Package tenancy provides helpers to capture and restore multi-tenant
// execution identity (tenant and owner) from/to context.Context.
//
// Handlers run under a context carrying the submitting tenant and owner
// so downstream code can enforce tenant isolation without threading
// identifiers through every call.
package tenancy

import "context"

type contextKey int

const (
	tenantKey contextKey = iota
	ownerKey
)

// WithTenant attaches a tenant identifier to the context.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey, tenantID)
}

// WithOwner attaches an owner (submitting principal) identifier to the context.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	if ownerID == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerKey, ownerID)
}

// TenantFromContext extracts the tenant identifier from the context.
// Returns "" and false if no tenant is present.
func TenantFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tenantKey).(string)
	return v, ok
}

// OwnerFromContext extracts the owner identifier from the context.
// Returns "" and false if no owner is present.
func OwnerFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ownerKey).(string)
	return v, ok
}

// Restore attaches both tenant and owner to the context. Empty values
// are skipped so an unset identity never shadows an existing one.
func Restore(ctx context.Context, tenantID, ownerID string) context.Context {
	ctx = WithTenant(ctx, tenantID)
	return WithOwner(ctx, ownerID)
}
