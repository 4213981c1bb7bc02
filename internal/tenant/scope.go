// Package tenant defines the Scope capability that every tenant-facing store
// and service call requires. A Scope is only ever constructed by the auth
// middleware after validating an API key, which makes an unscoped query
// unrepresentable in the rest of the codebase: there is no store method that
// accepts a bare entity id.
package tenant

import "github.com/google/uuid"

// Scope is proof that the caller acts on behalf of a specific tenant.
// The zero value is invalid and is rejected by every store implementation.
type Scope struct {
	tenantID uuid.UUID
}

// NewScope binds a scope to a tenant id. Callers outside the auth middleware
// and tests have no business constructing one.
func NewScope(tenantID uuid.UUID) Scope {
	return Scope{tenantID: tenantID}
}

// TenantID returns the tenant this scope is bound to.
func (s Scope) TenantID() uuid.UUID {
	return s.tenantID
}

// Valid reports whether the scope is bound to a real tenant id.
func (s Scope) Valid() bool {
	return s.tenantID != uuid.Nil
}
