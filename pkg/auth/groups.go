package auth

import (
	"context"

	"github.com/Mindburn-Labs/datakeep/pkg/groups"
)

// ClaimsResolver resolves group membership from the authenticated principal's
// token claims. When the context carries no principal for the asked user it
// defers to Fallback, so server-side sources (directory, cache) still work
// for background jobs and cross-user lookups.
type ClaimsResolver struct {
	Fallback groups.Resolver
}

var _ groups.Resolver = (*ClaimsResolver)(nil)

func (r *ClaimsResolver) GroupsOf(ctx context.Context, userID string) ([]string, error) {
	if p, err := GetPrincipal(ctx); err == nil && p.GetID() == userID {
		return p.GetGroups(), nil
	}
	if r.Fallback != nil {
		return r.Fallback.GroupsOf(ctx, userID)
	}
	return nil, nil
}
