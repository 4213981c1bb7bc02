package middleware

import (
	"context"
	"net/http"

	"github.com/pixelmint/pixelmint/internal/tenant"
)

type contextKey string

const (
	scopeKey     contextKey = "tenant_scope"
	keyPrefixKey contextKey = "key_prefix"
	scopesKey    contextKey = "api_key_scopes"
)

// SetScope stores the authenticated tenant scope in the context. Only the
// auth middleware (and test setup) should call this.
func SetScope(ctx context.Context, scope tenant.Scope) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

// GetScope returns the tenant scope established by the auth middleware.
func GetScope(r *http.Request) (tenant.Scope, bool) {
	scope, ok := r.Context().Value(scopeKey).(tenant.Scope)
	return scope, ok && scope.Valid()
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

func setScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, scopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(scopesKey).([]string)
	return scopes
}
