// Package usagegate implements client-side usage-limit accounting for the
// Dishcover freemium model. A Guard keeps a cached snapshot of the user's
// server-determined limits, answers metered-action checks instantly from
// that snapshot, and defers the authoritative decision to the remote usage
// service. The server is always the enforcement backstop; the snapshot is
// a cache, never a source of truth.
package usagegate

// Tier identifies a subscription tier.
type Tier string

const (
	// TierFree is the default tier with daily caps on metered actions.
	TierFree Tier = "free"
	// TierPremium removes all metered-action caps.
	TierPremium Tier = "premium"
)

// Unlimited is the sentinel limit value for counters without a cap.
const Unlimited = -1

// Action identifies a metered user action.
type Action string

const (
	// ActionSearch is a free-text recipe search.
	ActionSearch Action = "search"
	// ActionSaveRecipe saves a recipe to the user's favorites.
	ActionSaveRecipe Action = "save_recipe"
	// ActionIngredientSearch is a single-ingredient recipe search.
	ActionIngredientSearch Action = "ingredient_search"
	// ActionMultiIngredientSearch matches recipes against several
	// ingredients at once.
	ActionMultiIngredientSearch Action = "multi_ingredient_search"
)

// counterPair identifies which Snapshot counter pair meters an action.
type counterPair int

const (
	counterSearches counterPair = iota
	counterSavedRecipes
	counterMultiIngredient
)

// actionCounters is the fixed action -> counter pair table. Text and
// single-ingredient searches draw from the same daily searches pair.
var actionCounters = map[Action]counterPair{
	ActionSearch:                counterSearches,
	ActionIngredientSearch:      counterSearches,
	ActionSaveRecipe:            counterSavedRecipes,
	ActionMultiIngredientSearch: counterMultiIngredient,
}

// denyReasons maps an action to the paywall message shown when the action
// is blocked. Servers may override these with their own reason strings.
var denyReasons = map[Action]string{
	ActionSearch:                "Daily search limit reached. Upgrade to Premium for unlimited searches.",
	ActionIngredientSearch:      "Daily search limit reached. Upgrade to Premium for unlimited searches.",
	ActionSaveRecipe:            "Saved recipe limit reached. Upgrade to Premium to save unlimited recipes.",
	ActionMultiIngredientSearch: "Daily multi-ingredient search limit reached. Upgrade to Premium for unlimited use.",
}

// Snapshot is the client's best-known view of a user's metering state.
// Used counters are monotonically non-decreasing within a server-side day;
// the local copy may lag behind the server and must never be the sole
// authority for allowing an action.
type Snapshot struct {
	Tier                 Tier
	SearchesToday        int
	SearchesLimit        int
	SavedRecipes         int
	SavedRecipesLimit    int
	MultiIngredientToday int
	MultiIngredientLimit int
}

// SearchesRemaining returns how many daily searches are left, or Unlimited.
func (s Snapshot) SearchesRemaining() int {
	return remaining(s.SearchesToday, s.SearchesLimit)
}

// SavedSlotsRemaining returns how many favorite slots are left, or Unlimited.
func (s Snapshot) SavedSlotsRemaining() int {
	return remaining(s.SavedRecipes, s.SavedRecipesLimit)
}

// CanUseMultiIngredient reports whether a multi-ingredient search would
// pass the local capacity check.
func (s Snapshot) CanUseMultiIngredient() bool {
	return s.hasCapacity(counterMultiIngredient)
}

// RemainingFor returns the remaining capacity for an action's counter
// pair, or Unlimited. Unknown actions report zero remaining.
func (s Snapshot) RemainingFor(action Action) int {
	pair, ok := actionCounters[action]
	if !ok {
		return 0
	}
	used, limit := s.counters(pair)
	return remaining(used, limit)
}

// counters returns the (used, limit) pair for a counter.
func (s Snapshot) counters(pair counterPair) (int, int) {
	switch pair {
	case counterSavedRecipes:
		return s.SavedRecipes, s.SavedRecipesLimit
	case counterMultiIngredient:
		return s.MultiIngredientToday, s.MultiIngredientLimit
	default:
		return s.SearchesToday, s.SearchesLimit
	}
}

// setCounters overwrites one counter pair with server-reported values.
func (s *Snapshot) setCounters(pair counterPair, used, limit int) {
	switch pair {
	case counterSavedRecipes:
		s.SavedRecipes = used
		s.SavedRecipesLimit = limit
	case counterMultiIngredient:
		s.MultiIngredientToday = used
		s.MultiIngredientLimit = limit
	default:
		s.SearchesToday = used
		s.SearchesLimit = limit
	}
}

// hasCapacity reports whether the snapshot shows remaining capacity for a
// counter pair. Premium always has capacity.
func (s Snapshot) hasCapacity(pair counterPair) bool {
	if s.Tier == TierPremium {
		return true
	}
	used, limit := s.counters(pair)
	if limit == Unlimited {
		return true
	}
	return used < limit
}

func remaining(used, limit int) int {
	if limit == Unlimited {
		return Unlimited
	}
	if r := limit - used; r > 0 {
		return r
	}
	return 0
}

// Decision is the outcome of asking whether a metered action may proceed.
// Counter fields carry the authoritative post-action values when the
// remote usage service produced the decision.
type Decision struct {
	Allowed      bool
	CurrentCount int
	Remaining    int
	Limit        int
	Tier         Tier

	// Degraded marks a decision computed locally because the usage
	// service could not be reached. Advisory only: any server-visible
	// follow-up (fetching results, persisting a save) is still subject
	// to server enforcement.
	Degraded bool

	// Reason is a display-ready message explaining a denial, suitable
	// for a paywall prompt. Empty when Allowed.
	Reason string
}

// WarningLevel classifies how close an action's counter is to its cap.
type WarningLevel int

const (
	// LevelOK means plenty of capacity remains.
	LevelOK WarningLevel = iota
	// LevelWarn means remaining capacity is at or below the configured
	// warning threshold.
	LevelWarn
	// LevelBlocked means no capacity remains.
	LevelBlocked
)

func (l WarningLevel) String() string {
	switch l {
	case LevelWarn:
		return "warn"
	case LevelBlocked:
		return "blocked"
	default:
		return "ok"
	}
}

// FallbackLimits are the free-tier limits used to seed the snapshot before
// the first authoritative refresh arrives.
type FallbackLimits struct {
	Searches        int
	SavedRecipes    int
	MultiIngredient int
}

// Config holds Guard configuration. All fields are fixed at construction.
type Config struct {
	// FallbackLimits seed the snapshot at start-up. Zero values are
	// replaced with the package defaults.
	FallbackLimits FallbackLimits

	// WarnThresholds maps an action to the remaining count at or below
	// which WarningLevel reports LevelWarn. Missing actions use the
	// package defaults.
	WarnThresholds map[Action]int

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking gate operations (default: NoopMetrics).
	Metrics Metrics
}

// Default free-tier limits, mirrored from the server's plan table. Only
// used until the first snapshot fetch succeeds.
const (
	defaultSearchesLimit        = 5
	defaultSavedRecipesLimit    = 10
	defaultMultiIngredientLimit = 2
)

// defaultWarnThresholds are the remaining counts at which the UI should
// start nudging toward an upgrade.
var defaultWarnThresholds = map[Action]int{
	ActionSearch:                2,
	ActionIngredientSearch:      2,
	ActionSaveRecipe:            2,
	ActionMultiIngredientSearch: 1,
}
