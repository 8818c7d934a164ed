package api

import (
	"strings"

	"github.com/triage-io/triage/internal/api/middleware"
)

// Scope names a permission checked by the façade. Product scopes are
// granted either globally ("PRODUCT_VIEW:*") or per product endpoint
// ("PRODUCT_VIEW:myproduct"). SUPERUSER implies everything.
type Scope string

// Permission scopes.
const (
	ScopeSuperuser      Scope = "SUPERUSER"
	ScopePermissionView Scope = "PERMISSION_VIEW"
	ScopeProductAdmin   Scope = "PRODUCT_ADMIN"
	ScopeProductAccess  Scope = "PRODUCT_ACCESS"
	ScopeProductStore   Scope = "PRODUCT_STORE"
	ScopeProductView    Scope = "PRODUCT_VIEW"
)

// scopeImplies lists scopes granted implicitly by a stronger one within
// the same product.
var scopeImplies = map[Scope][]Scope{ //nolint: gochecknoglobals
	ScopeProductAdmin:  {ScopeProductAccess, ScopeProductStore, ScopeProductView},
	ScopeProductAccess: {ScopeProductView},
}

// PermissionChecker decides whether an identity holds a scope, optionally
// bound to a product endpoint.
type PermissionChecker interface {
	Has(identity middleware.Identity, scope Scope, endpoint string) bool
}

// StaticChecker evaluates the permission strings carried on the API key.
type StaticChecker struct{}

// Has implements PermissionChecker.
func (StaticChecker) Has(identity middleware.Identity, scope Scope, endpoint string) bool {
	if identity.Anonymous() {
		return false
	}

	for _, grant := range identity.Permissions {
		if grantSatisfies(grant, scope, endpoint) {
			return true
		}
	}

	return false
}

func grantSatisfies(grant string, scope Scope, endpoint string) bool {
	grantScope, grantEndpoint, bound := strings.Cut(grant, ":")

	if Scope(grantScope) == ScopeSuperuser {
		return true
	}

	if !scopeCovers(Scope(grantScope), scope) {
		return false
	}

	// Global scopes (PERMISSION_VIEW) carry no product binding.
	if endpoint == "" {
		return true
	}

	if !bound {
		return false
	}

	return grantEndpoint == "*" || grantEndpoint == endpoint
}

func scopeCovers(granted, wanted Scope) bool {
	if granted == wanted {
		return true
	}

	for _, implied := range scopeImplies[granted] {
		if implied == wanted {
			return true
		}
	}

	return false
}
