// Package groups resolves group membership for permission checks. The
// registry core only consumes the Resolver interface; directory backends
// (LDAP, OIDC claims, HR systems) live behind it.
package groups

import (
	"context"
	"sync"
)

// Resolver reports the groups a user belongs to.
type Resolver interface {
	GroupsOf(ctx context.Context, userID string) ([]string, error)
}

// StaticResolver is a fixed in-memory membership table. Used as the default
// backend and in tests.
type StaticResolver struct {
	mu      sync.RWMutex
	members map[string][]string // userID -> groups
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{members: make(map[string][]string)}
}

// Assign replaces the group list for a user.
func (r *StaticResolver) Assign(userID string, groups ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[userID] = append([]string(nil), groups...)
}

func (r *StaticResolver) GroupsOf(_ context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.members[userID]...), nil
}
