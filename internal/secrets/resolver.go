// Package secrets resolves SSH private key references to key material.
//
// A reference is a URI whose scheme selects the backend:
//
//	op://vault/item/field      1Password CLI
//	asm://[region]/secret-id   AWS Secrets Manager
//	keyring://service/user     OS keyring
//	file:///path/to/key        local file (file://~/... is home-relative)
package secrets

import (
	"context"
	"strings"
	"sync"
)

// Resolver resolves a secret reference to its plaintext value.
type Resolver interface {
	// Scheme returns the URI scheme this resolver handles (e.g., "op", "asm").
	Scheme() string

	// Resolve fetches the secret value for the given reference.
	// The reference is the full URI (e.g., "op://Ops/reef-a/private key").
	Resolve(ctx context.Context, reference string) (string, error)
}

var (
	resolvers = make(map[string]Resolver)
	mu        sync.RWMutex
)

// Register adds a resolver to the registry, replacing any resolver for the
// same scheme.
func Register(r Resolver) {
	mu.Lock()
	defer mu.Unlock()
	resolvers[r.Scheme()] = r
}

// Resolve dispatches to the appropriate resolver based on URI scheme.
func Resolve(ctx context.Context, reference string) (string, error) {
	scheme := parseScheme(reference)
	if scheme == "" {
		return "", &InvalidReferenceError{Reference: reference, Reason: "missing scheme"}
	}

	mu.RLock()
	r, ok := resolvers[scheme]
	mu.RUnlock()

	if !ok {
		return "", &UnsupportedSchemeError{Scheme: scheme}
	}

	return r.Resolve(ctx, reference)
}

// Schemes returns the registered schemes.
func Schemes() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(resolvers))
	for s := range resolvers {
		out = append(out, s)
	}
	return out
}

// parseScheme extracts the scheme from a URI (e.g., "op" from "op://vault/item").
func parseScheme(ref string) string {
	idx := strings.Index(ref, "://")
	if idx < 1 {
		return ""
	}
	return ref[:idx]
}

// swapRegistry replaces the registry and returns a func restoring it.
// For tests.
func swapRegistry(rs ...Resolver) (restore func()) {
	mu.Lock()
	prev := resolvers
	resolvers = make(map[string]Resolver, len(rs))
	for _, r := range rs {
		resolvers[r.Scheme()] = r
	}
	mu.Unlock()
	return func() {
		mu.Lock()
		resolvers = prev
		mu.Unlock()
	}
}
