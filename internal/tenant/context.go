// Package tenant carries tenant identity through a context and resolves the
// database that holds a tenant's rows.
package tenant

import (
	"context"
	"github.com/assaka/daino/custom_errors"
)

type ctxKey struct{}

// WithTenant returns a copy of ctx scoped to tenantID.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, tenantID)
}

// FromContext returns the tenant the context is scoped to.
// The system tenant is the empty string and is reported with ok=true.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}

// Require returns the non-system tenant of ctx or ErrTenantRequired.
func Require(ctx context.Context) (string, error) {
	id, ok := FromContext(ctx)
	if !ok || id == "" {
		return "", custom_errors.ErrTenantRequired
	}
	return id, nil
}
