package usagegate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Guard gates metered actions against known limits, delegates the
// authoritative decision to the remote usage service, and keeps a local
// snapshot synchronized for instant UI feedback.
//
// Construct one Guard per signed-in session and inject it into consumers;
// it owns its snapshot exclusively and serializes access internally.
type Guard struct {
	authority Authority
	identity  Identity
	config    Config

	mu       sync.Mutex
	snapshot Snapshot

	// refreshGroup collapses concurrent Refresh calls for the same user
	// into one snapshot fetch.
	refreshGroup singleflight.Group
}

// New creates a Guard seeded with free-tier fallback limits.
func New(authority Authority, identity Identity, config Config) (*Guard, error) {
	if authority == nil {
		return nil, fmt.Errorf("authority is required")
	}
	if identity == nil {
		return nil, fmt.Errorf("identity resolver is required")
	}

	// Set defaults
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.FallbackLimits.Searches == 0 {
		config.FallbackLimits.Searches = defaultSearchesLimit
	}
	if config.FallbackLimits.SavedRecipes == 0 {
		config.FallbackLimits.SavedRecipes = defaultSavedRecipesLimit
	}
	if config.FallbackLimits.MultiIngredient == 0 {
		config.FallbackLimits.MultiIngredient = defaultMultiIngredientLimit
	}

	return &Guard{
		authority: authority,
		identity:  identity,
		config:    config,
		snapshot: Snapshot{
			Tier:                 TierFree,
			SearchesLimit:        config.FallbackLimits.Searches,
			SavedRecipesLimit:    config.FallbackLimits.SavedRecipes,
			MultiIngredientLimit: config.FallbackLimits.MultiIngredient,
		},
	}, nil
}

// Evaluate decides whether the caller may perform a metered action.
//
// The local snapshot is checked first: a locally-known block returns a
// denial without a network round-trip. Otherwise the remote usage service
// authorizes and records the action, and its counters replace the local
// ones. When the service is unreachable or returns garbage, the local
// check stands in as a degraded, advisory decision.
//
// A reached limit is a normal denial, not an error. The only error
// returned for an authenticated flow problem is ErrNotAuthenticated
// (plus ErrUnknownAction for actions outside the metered set).
func (g *Guard) Evaluate(ctx context.Context, action Action) (Decision, error) {
	pair, ok := actionCounters[action]
	if !ok {
		return Decision{}, ErrUnknownAction
	}

	local := g.localDecision(action, pair)
	if !local.Allowed {
		// Locally known to be blocked: skip the round-trip. Can be a
		// rare false negative if the server's day boundary differs,
		// never a false positive past server enforcement.
		g.config.Metrics.RecordFastPathBlock(string(action))
		g.config.Metrics.RecordDecision(string(action), string(local.Tier), false, false)
		g.config.Logger.Debug("action blocked by local snapshot",
			Field{"action", action},
			Field{"tier", local.Tier},
			Field{"limit", local.Limit},
		)
		return local, nil
	}

	userID := g.identity.UserID(ctx)
	if userID == "" {
		return Decision{}, ErrNotAuthenticated
	}

	start := time.Now()
	decision, err := g.authority.RecordUsage(ctx, userID, action, nil)
	g.config.Metrics.RecordAuthorityCall("record_usage", time.Since(start), err)
	if errors.Is(err, ErrNotAuthenticated) {
		// A rejected credential is a hard failure, not a reachability
		// problem. Degrading here would let an expired session through.
		return Decision{}, err
	}
	if err != nil || decision == nil {
		// Degraded policy: stand by the local fast-path answer. The
		// server remains the enforcement backstop for any follow-up
		// call, so this allow is advisory only.
		g.config.Logger.Warn("usage service unavailable, using local decision",
			Field{"action", action},
			Field{"userId", userID},
			Field{"error", err},
		)
		local.Degraded = true
		g.config.Metrics.RecordDecision(string(action), string(local.Tier), local.Allowed, true)
		return local, nil
	}

	if decision.Allowed {
		// Replace the counter pair with server truth. Never increment
		// locally on top of it.
		g.mu.Lock()
		g.snapshot.Tier = decision.Tier
		g.snapshot.setCounters(pair, decision.CurrentCount, decision.Limit)
		g.mu.Unlock()
	} else {
		// Server denied and recorded nothing; the snapshot stays as-is.
		if decision.Reason == "" {
			decision.Reason = denyReasons[action]
		}
	}

	g.config.Metrics.RecordDecision(string(action), string(decision.Tier), decision.Allowed, false)
	return *decision, nil
}

// Refresh fetches the authoritative snapshot and replaces the local one
// wholesale. A no-op without caller identity. On failure the existing
// snapshot is left untouched: stale-but-present beats absent. Call once
// per session start and periodically for reconciliation; Evaluate already
// folds per-action counter updates into the snapshot.
func (g *Guard) Refresh(ctx context.Context) error {
	userID := g.identity.UserID(ctx)
	if userID == "" {
		return nil
	}

	_, err, _ := g.refreshGroup.Do(userID, func() (interface{}, error) {
		start := time.Now()
		snap, err := g.authority.FetchSnapshot(ctx, userID)
		g.config.Metrics.RecordAuthorityCall("fetch_snapshot", time.Since(start), err)
		if err == nil && snap == nil {
			err = ErrMalformedResponse
		}
		if err != nil {
			g.config.Metrics.RecordSnapshotRefresh(false)
			g.config.Logger.Warn("snapshot refresh failed, keeping cached snapshot",
				Field{"userId", userID},
				Field{"error", err},
			)
			return nil, err
		}

		g.mu.Lock()
		g.snapshot = *snap
		g.mu.Unlock()

		g.config.Metrics.RecordSnapshotRefresh(true)
		g.config.Logger.Debug("snapshot refreshed",
			Field{"userId", userID},
			Field{"tier", snap.Tier},
		)
		return nil, nil
	})
	return err
}

// Snapshot returns a copy of the current snapshot for display.
func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot
}

// Describe formats a human-readable remaining-count message for an action.
// Pure and local: no network access, no side effects.
func (g *Guard) Describe(action Action) string {
	pair, ok := actionCounters[action]
	if !ok {
		return ""
	}
	snap := g.Snapshot()
	if snap.Tier == TierPremium {
		return "Unlimited with Premium"
	}
	used, limit := snap.counters(pair)
	if limit == Unlimited {
		return "Unlimited"
	}
	rem := remaining(used, limit)
	switch pair {
	case counterSavedRecipes:
		return fmt.Sprintf("%d of %d recipe slots left", rem, limit)
	case counterMultiIngredient:
		return fmt.Sprintf("%d of %d multi-ingredient searches left today", rem, limit)
	default:
		return fmt.Sprintf("%d of %d free searches left today", rem, limit)
	}
}

// WarningLevel classifies how close an action is to its cap using the
// configured thresholds. Premium is always LevelOK. Pure and local.
func (g *Guard) WarningLevel(action Action) WarningLevel {
	pair, ok := actionCounters[action]
	if !ok {
		return LevelOK
	}
	snap := g.Snapshot()
	if snap.Tier == TierPremium {
		return LevelOK
	}
	used, limit := snap.counters(pair)
	if limit == Unlimited {
		return LevelOK
	}
	rem := remaining(used, limit)
	if rem == 0 {
		return LevelBlocked
	}
	if rem <= g.warnThreshold(action) {
		return LevelWarn
	}
	return LevelOK
}

// localDecision computes the fast-path answer from the snapshot.
func (g *Guard) localDecision(action Action, pair counterPair) Decision {
	g.mu.Lock()
	snap := g.snapshot
	g.mu.Unlock()

	used, limit := snap.counters(pair)
	d := Decision{
		Allowed:      snap.hasCapacity(pair),
		CurrentCount: used,
		Remaining:    remaining(used, limit),
		Limit:        limit,
		Tier:         snap.Tier,
	}
	if !d.Allowed {
		d.Reason = denyReasons[action]
	}
	return d
}

func (g *Guard) warnThreshold(action Action) int {
	if t, ok := g.config.WarnThresholds[action]; ok {
		return t
	}
	return defaultWarnThresholds[action]
}
