package tenancy_test

import (
	"context"
	"testing"

	"github.com/timottowitz/conveyor/tenancy"
)

func TestTenantRoundTrip(t *testing.T) {
	ctx := tenancy.WithTenant(context.Background(), "acme")

	got, ok := tenancy.TenantFromContext(ctx)
	if !ok || got != "acme" {
		t.Fatalf("TenantFromContext = %q, %v; want acme, true", got, ok)
	}
}

func TestOwnerRoundTrip(t *testing.T) {
	ctx := tenancy.WithOwner(context.Background(), "user-1")

	got, ok := tenancy.OwnerFromContext(ctx)
	if !ok || got != "user-1" {
		t.Fatalf("OwnerFromContext = %q, %v; want user-1, true", got, ok)
	}
}

func TestMissingIdentity(t *testing.T) {
	ctx := context.Background()

	if got, ok := tenancy.TenantFromContext(ctx); ok || got != "" {
		t.Fatalf("TenantFromContext on empty ctx = %q, %v", got, ok)
	}
	if got, ok := tenancy.OwnerFromContext(ctx); ok || got != "" {
		t.Fatalf("OwnerFromContext on empty ctx = %q, %v", got, ok)
	}
}

func TestEmptyValuesDoNotShadow(t *testing.T) {
	ctx := tenancy.Restore(context.Background(), "acme", "user-1")
	ctx = tenancy.Restore(ctx, "", "")

	if got, _ := tenancy.TenantFromContext(ctx); got != "acme" {
		t.Fatalf("tenant shadowed by empty value: %q", got)
	}
	if got, _ := tenancy.OwnerFromContext(ctx); got != "user-1" {
		t.Fatalf("owner shadowed by empty value: %q", got)
	}
}
