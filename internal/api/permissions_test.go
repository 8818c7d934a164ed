package api

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/triage-io/triage/internal/api/middleware"
)

func identityWith(grants ...string) middleware.Identity {
	return middleware.Identity{Principal: "alice", Permissions: grants}
}

func TestStaticCheckerSuperuser(t *testing.T) {
	checker := StaticChecker{}
	id := identityWith("SUPERUSER")

	assert.True(t, checker.Has(id, ScopeSuperuser, ""))
	assert.True(t, checker.Has(id, ScopeProductAdmin, "anything"))
	assert.True(t, checker.Has(id, ScopeProductView, "other"))
}

func TestStaticCheckerAnonymousDenied(t *testing.T) {
	checker := StaticChecker{}

	assert.False(t, checker.Has(middleware.Identity{}, ScopeProductView, "foo"))
}

func TestStaticCheckerProductBinding(t *testing.T) {
	checker := StaticChecker{}
	id := identityWith("PRODUCT_ADMIN:foo")

	// Admin implies store, access and view on the bound product.
	assert.True(t, checker.Has(id, ScopeProductAdmin, "foo"))
	assert.True(t, checker.Has(id, ScopeProductStore, "foo"))
	assert.True(t, checker.Has(id, ScopeProductAccess, "foo"))
	assert.True(t, checker.Has(id, ScopeProductView, "foo"))

	// Nothing on another product.
	assert.False(t, checker.Has(id, ScopeProductView, "bar"))

	// Never global rights.
	assert.False(t, checker.Has(id, ScopeSuperuser, ""))
}

func TestStaticCheckerAccessImpliesViewOnly(t *testing.T) {
	checker := StaticChecker{}
	id := identityWith("PRODUCT_ACCESS:foo")

	assert.True(t, checker.Has(id, ScopeProductView, "foo"))
	assert.False(t, checker.Has(id, ScopeProductStore, "foo"))
	assert.False(t, checker.Has(id, ScopeProductAdmin, "foo"))
}

func TestStaticCheckerWildcardBinding(t *testing.T) {
	checker := StaticChecker{}
	id := identityWith("PRODUCT_VIEW:*")

	assert.True(t, checker.Has(id, ScopeProductView, "foo"))
	assert.True(t, checker.Has(id, ScopeProductView, "bar"))
	assert.False(t, checker.Has(id, ScopeProductStore, "foo"))
}

func TestStaticCheckerPermissionView(t *testing.T) {
	checker := StaticChecker{}

	assert.True(t, checker.Has(identityWith("PERMISSION_VIEW"), ScopePermissionView, ""))
	assert.True(t, checker.Has(identityWith("SUPERUSER"), ScopePermissionView, ""))
	assert.False(t, checker.Has(identityWith("PRODUCT_VIEW"), ScopePermissionView, ""))
}

func TestStaticCheckerGlobalScopeIgnoresBinding(t *testing.T) {
	checker := StaticChecker{}

	// A product-bound view grant still satisfies a global view check.
	assert.True(t, StaticChecker{}.Has(identityWith("PRODUCT_VIEW:foo"), ScopeProductView, ""))

	// An unbound product grant never satisfies a bound check.
	assert.False(t, checker.Has(identityWith("PRODUCT_VIEW"), ScopeProductView, "foo"))
}
