// Package auth resolves bearer tokens to scoped principals.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
)

// ScopeAll is granted to the admin API key and satisfies every check.
const ScopeAll = "*"

// Resource is an API area guarded by scopes.
type Resource string

const (
	ResourceFable  Resource = "fable"
	ResourceJobs   Resource = "jobs"
	ResourceEvents Resource = "events"
)

// Access is the permission level of a scope.
type Access string

const (
	AccessRead  Access = "ro"
	AccessWrite Access = "rw"
)

// resourceAccess lists the levels each resource offers. Events are only
// ever read.
var resourceAccess = map[Resource][]Access{
	ResourceFable:  {AccessRead, AccessWrite},
	ResourceJobs:   {AccessRead, AccessWrite},
	ResourceEvents: {AccessRead},
}

// Scopes understood by the API.
var (
	ScopeFableRO  = Scope(ResourceFable, AccessRead)
	ScopeFableRW  = Scope(ResourceFable, AccessWrite)
	ScopeJobsRO   = Scope(ResourceJobs, AccessRead)
	ScopeJobsRW   = Scope(ResourceJobs, AccessWrite)
	ScopeEventsRO = Scope(ResourceEvents, AccessRead)
)

// Scope names access to a resource, e.g. "fable:rw".
func Scope(r Resource, a Access) string {
	return string(r) + ":" + string(a)
}

// ParseScope splits a "resource:access" scope and checks it against the
// levels the resource offers.
func ParseScope(scope string) (Resource, Access, error) {
	name, level, ok := strings.Cut(strings.TrimSpace(scope), ":")
	if !ok {
		return "", "", fmt.Errorf("scope %q is not resource:access", scope)
	}
	r, a := Resource(name), Access(level)
	levels, ok := resourceAccess[r]
	if !ok {
		return "", "", fmt.Errorf("scope %q: unknown resource %q", scope, name)
	}
	if !slices.Contains(levels, a) {
		return "", "", fmt.Errorf("scope %q: %s does not offer %q access", scope, name, level)
	}
	return r, a, nil
}

// KnownScope reports whether scope is ScopeAll or a valid resource scope.
func KnownScope(scope string) bool {
	if strings.TrimSpace(scope) == ScopeAll {
		return true
	}
	_, _, err := ParseScope(scope)
	return err == nil
}

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

type Principal struct {
	Token  string
	Scopes map[string]struct{}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ExtractBearerToken reads the token from an "Authorization: Bearer" header.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errors.New("missing API key")
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented bearer token against the configured
// tokens. The admin API key authenticates with ScopeAll.
func Authenticate(presented, apiKey string, tokens []TokenConfig) (Principal, bool) {
	if constantTimeEqual(presented, apiKey) {
		return Principal{
			Token:  presented,
			Scopes: map[string]struct{}{ScopeAll: {}},
		}, true
	}

	for _, t := range tokens {
		if constantTimeEqual(presented, t.Token) {
			return Principal{
				Token:  presented,
				Scopes: normalizeScopes(t.Scopes),
			}, true
		}
	}
	return Principal{}, false
}

// normalizeScopes expands a token's scopes: write access to a resource
// also grants read access to it.
func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
		if r, a, err := ParseScope(s); err == nil && a == AccessWrite {
			out[Scope(r, AccessRead)] = struct{}{}
		}
	}
	return out
}

// HasAnyScope reports whether p holds ScopeAll or any of required.
func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}
