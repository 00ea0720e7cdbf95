// Package stripe resolves entitlements from Stripe subscriptions. A
// user maps to a Stripe customer, the customer's active subscriptions
// map price IDs to tiers, and the highest-weight tier wins.
package stripe

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v83"

	"github.com/dishcover/dishcover-go/pkg/usagegate"
)

// CustomerIDResolver maps an app user ID to a Stripe customer ID.
type CustomerIDResolver func(ctx context.Context, userID string) (string, error)

// Config holds Stripe provider configuration.
type Config struct {
	// APIKey is the Stripe secret key (required).
	APIKey string

	// PriceTiers maps Stripe price or product IDs to tiers (required).
	// IDs are matched case-insensitively.
	PriceTiers map[string]usagegate.Tier

	// CustomerIDResolver maps app users to Stripe customers (required;
	// the app stores the mapping at checkout time).
	CustomerIDResolver CustomerIDResolver

	// TierWeights ranks tiers when a customer holds several active
	// subscriptions. Defaults to premium 100, free 0.
	TierWeights map[usagegate.Tier]int
}

// Provider resolves entitlements from Stripe.
type Provider struct {
	client      *stripe.Client
	priceTiers  map[string]usagegate.Tier
	tierWeights map[usagegate.Tier]int
	resolver    CustomerIDResolver
}

// New creates a Stripe entitlement provider.
func New(config Config) (*Provider, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("stripe API key is required")
	}
	if len(config.PriceTiers) == 0 {
		return nil, fmt.Errorf("price tier mapping is required")
	}
	if config.CustomerIDResolver == nil {
		return nil, fmt.Errorf("customer ID resolver is required")
	}

	priceTiers := make(map[string]usagegate.Tier, len(config.PriceTiers))
	for id, tier := range config.PriceTiers {
		priceTiers[strings.ToLower(strings.TrimSpace(id))] = tier
	}

	tierWeights := config.TierWeights
	if tierWeights == nil {
		tierWeights = map[usagegate.Tier]int{
			usagegate.TierPremium: 100,
			usagegate.TierFree:    0,
		}
	}

	return &Provider{
		client:      stripe.NewClient(apiKey),
		priceTiers:  priceTiers,
		tierWeights: tierWeights,
		resolver:    config.CustomerIDResolver,
	}, nil
}

// Resolve returns the user's tier from their active Stripe
// subscriptions. A user without a customer record or without active
// subscriptions is on the free tier.
func (p *Provider) Resolve(ctx context.Context, userID string) (usagegate.Tier, error) {
	customerID, err := p.resolver(ctx, userID)
	if err != nil {
		return usagegate.TierFree, fmt.Errorf("resolve stripe customer: %w", err)
	}
	if customerID == "" {
		return usagegate.TierFree, nil
	}

	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)
	params.Status = stripe.String(string(stripe.SubscriptionStatusActive))

	var subscriptions []*stripe.Subscription
	for sub, err := range p.client.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return usagegate.TierFree, fmt.Errorf("list subscriptions: %w", err)
		}
		if sub.Status == stripe.SubscriptionStatusActive {
			subscriptions = append(subscriptions, sub)
		}
	}

	return p.resolveTier(subscriptions), nil
}

// MapPriceToTier maps a Stripe price or product ID to a tier. Unknown
// IDs map to the free tier.
func (p *Provider) MapPriceToTier(priceID string) usagegate.Tier {
	key := strings.ToLower(strings.TrimSpace(priceID))
	if tier, ok := p.priceTiers[key]; ok {
		return tier
	}
	return usagegate.TierFree
}

// resolveTier picks the highest-weight tier across the customer's
// active subscriptions. Ties break on the most recently created one.
func (p *Provider) resolveTier(subscriptions []*stripe.Subscription) usagegate.Tier {
	best := usagegate.TierFree
	maxWeight := -1
	var mostRecent int64

	for _, sub := range subscriptions {
		if sub.Status != stripe.SubscriptionStatusActive || sub.Items == nil {
			continue
		}
		for _, item := range sub.Items.Data {
			if item.Price == nil {
				continue
			}
			tier := p.MapPriceToTier(item.Price.ID)
			weight := p.tierWeights[tier]
			if weight > maxWeight || (weight == maxWeight && sub.Created > mostRecent) {
				maxWeight = weight
				best = tier
				mostRecent = sub.Created
			}
		}
	}
	return best
}
