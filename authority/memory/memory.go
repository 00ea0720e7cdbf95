// Package memory provides an in-process usage authority that enforces
// tiered limits itself. Intended for examples and tests; production
// clients talk to the remote usage service via authority/httpapi.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dishcover/dishcover-go/pkg/usagegate"
)

// Limits holds the per-tier caps enforced by this authority.
type Limits struct {
	Searches        int
	SavedRecipes    int
	MultiIngredient int
}

// DefaultTiers mirrors the production plan table.
func DefaultTiers() map[usagegate.Tier]Limits {
	return map[usagegate.Tier]Limits{
		usagegate.TierFree: {
			Searches:        5,
			SavedRecipes:    10,
			MultiIngredient: 2,
		},
		usagegate.TierPremium: {
			Searches:        usagegate.Unlimited,
			SavedRecipes:    usagegate.Unlimited,
			MultiIngredient: usagegate.Unlimited,
		},
	}
}

type userState struct {
	tier     usagegate.Tier
	day      string // UTC day the daily counters belong to
	searches int
	saved    int
	multi    int
}

// Authority is an in-memory usagegate.Authority.
type Authority struct {
	mu    sync.Mutex
	tiers map[usagegate.Tier]Limits
	users map[string]*userState

	// now is a hook for tests to control the day boundary.
	now func() time.Time
}

// New creates an in-memory authority. A nil tier table uses DefaultTiers.
func New(tiers map[usagegate.Tier]Limits) *Authority {
	if tiers == nil {
		tiers = DefaultTiers()
	}
	return &Authority{
		tiers: tiers,
		users: make(map[string]*userState),
		now:   time.Now,
	}
}

// SetTier assigns a user's tier. Unknown users start on the free tier.
func (a *Authority) SetTier(userID string, tier usagegate.Tier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state(userID).tier = tier
}

// SetNow overrides the clock used for day rollover. For tests.
func (a *Authority) SetNow(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// RecordUsage authorizes and records one unit of the action.
func (a *Authority) RecordUsage(_ context.Context, userID string, action usagegate.Action, _ map[string]string) (*usagegate.Decision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.state(userID)
	limits := a.limits(state.tier)

	counter, limit := a.counter(state, action, limits)
	if counter == nil {
		return nil, usagegate.ErrUnknownAction
	}

	if state.tier != usagegate.TierPremium && limit != usagegate.Unlimited && *counter >= limit {
		return &usagegate.Decision{
			Allowed:      false,
			CurrentCount: *counter,
			Remaining:    0,
			Limit:        limit,
			Tier:         state.tier,
		}, nil
	}

	*counter++
	return &usagegate.Decision{
		Allowed:      true,
		CurrentCount: *counter,
		Remaining:    remaining(*counter, limit),
		Limit:        limit,
		Tier:         state.tier,
	}, nil
}

// FetchSnapshot returns the authoritative metering state for the user.
func (a *Authority) FetchSnapshot(_ context.Context, userID string) (*usagegate.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.state(userID)
	limits := a.limits(state.tier)

	return &usagegate.Snapshot{
		Tier:                 state.tier,
		SearchesToday:        state.searches,
		SearchesLimit:        limits.Searches,
		SavedRecipes:         state.saved,
		SavedRecipesLimit:    limits.SavedRecipes,
		MultiIngredientToday: state.multi,
		MultiIngredientLimit: limits.MultiIngredient,
	}, nil
}

// state returns the user's state, creating it and rolling daily counters
// over to the current UTC day. Caller holds the lock.
func (a *Authority) state(userID string) *userState {
	day := a.now().UTC().Format("2006-01-02")
	state, ok := a.users[userID]
	if !ok {
		state = &userState{tier: usagegate.TierFree, day: day}
		a.users[userID] = state
		return state
	}
	if state.day != day {
		// Daily counters reset at the UTC day boundary; saved recipes
		// persist.
		state.day = day
		state.searches = 0
		state.multi = 0
	}
	return state
}

func (a *Authority) limits(tier usagegate.Tier) Limits {
	if limits, ok := a.tiers[tier]; ok {
		return limits
	}
	return a.tiers[usagegate.TierFree]
}

func (a *Authority) counter(state *userState, action usagegate.Action, limits Limits) (*int, int) {
	switch action {
	case usagegate.ActionSearch, usagegate.ActionIngredientSearch:
		return &state.searches, limits.Searches
	case usagegate.ActionSaveRecipe:
		return &state.saved, limits.SavedRecipes
	case usagegate.ActionMultiIngredientSearch:
		return &state.multi, limits.MultiIngredient
	default:
		return nil, 0
	}
}

func remaining(used, limit int) int {
	if limit == usagegate.Unlimited {
		return usagegate.Unlimited
	}
	if r := limit - used; r > 0 {
		return r
	}
	return 0
}
