// Package entitlement resolves a user's billing state to a usage tier.
// The resolved tier seeds the usage gate's fallback configuration; the
// usage service remains the authority for what a tier may do.
package entitlement

import (
	"context"

	"github.com/dishcover/dishcover-go/pkg/usagegate"
)

// Provider resolves the tier a user is entitled to.
type Provider interface {
	Resolve(ctx context.Context, userID string) (usagegate.Tier, error)
}

// Static is a fixed userID-to-tier mapping, useful for tests and local
// development. Unknown users resolve to the free tier.
type Static map[string]usagegate.Tier

func (s Static) Resolve(_ context.Context, userID string) (usagegate.Tier, error) {
	if tier, ok := s[userID]; ok {
		return tier, nil
	}
	return usagegate.TierFree, nil
}
