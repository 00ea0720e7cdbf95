package usagegate_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dishcover/dishcover-go/pkg/usagegate"
)

// stubAuthority is a scriptable usage-service double with call counters.
type stubAuthority struct {
	mu          sync.Mutex
	recordCalls int
	fetchCalls  int
	lastAction  usagegate.Action
	lastUserID  string

	decision  *usagegate.Decision
	recordErr error
	snapshot  *usagegate.Snapshot
	fetchErr  error

	// fetchDelay slows FetchSnapshot down; set before first use only.
	fetchDelay time.Duration
}

func (s *stubAuthority) RecordUsage(_ context.Context, userID string, action usagegate.Action, _ map[string]string) (*usagegate.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordCalls++
	s.lastAction = action
	s.lastUserID = userID
	if s.recordErr != nil {
		return nil, s.recordErr
	}
	d := *s.decision
	return &d, nil
}

func (s *stubAuthority) FetchSnapshot(_ context.Context, userID string) (*usagegate.Snapshot, error) {
	if s.fetchDelay > 0 {
		time.Sleep(s.fetchDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	s.lastUserID = userID
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	snap := *s.snapshot
	return &snap, nil
}

func (s *stubAuthority) calls() (record, fetch int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordCalls, s.fetchCalls
}

func newTestGuard(t *testing.T, authority *stubAuthority) *usagegate.Guard {
	t.Helper()
	guard, err := usagegate.New(authority, usagegate.StaticIdentity("user-1"), usagegate.Config{})
	require.NoError(t, err)
	return guard
}

// seed replaces the guard snapshot through a scripted refresh.
func seed(t *testing.T, guard *usagegate.Guard, authority *stubAuthority, snap usagegate.Snapshot) {
	t.Helper()
	authority.mu.Lock()
	authority.snapshot = &snap
	authority.fetchErr = nil
	authority.mu.Unlock()
	require.NoError(t, guard.Refresh(context.Background()))
}

func TestNew_Validation(t *testing.T) {
	_, err := usagegate.New(nil, usagegate.StaticIdentity("u"), usagegate.Config{})
	assert.Error(t, err)

	_, err = usagegate.New(&stubAuthority{}, nil, usagegate.Config{})
	assert.Error(t, err)
}

func TestGuard_FastPathBlock_NoRemoteCall(t *testing.T) {
	authority := &stubAuthority{}
	guard := newTestGuard(t, authority)
	seed(t, guard, authority, usagegate.Snapshot{
		Tier:          usagegate.TierFree,
		SearchesToday: 5,
		SearchesLimit: 5,
	})

	decision, err := guard.Evaluate(context.Background(), usagegate.ActionSearch)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.False(t, decision.Degraded)
	assert.NotEmpty(t, decision.Reason)

	record, _ := authority.calls()
	assert.Equal(t, 0, record, "exhausted counter must not trigger a remote call")
}

func TestGuard_PremiumBypass(t *testing.T) {
	authority := &stubAuthority{
		decision: &usagegate.Decision{
			Allowed: true,
			Tier:    usagegate.TierPremium,
			Limit:   usagegate.Unlimited,
		},
	}
	guard := newTestGuard(t, authority)
	seed(t, guard, authority, usagegate.Snapshot{
		Tier:                 usagegate.TierPremium,
		SearchesToday:        9999,
		SearchesLimit:        5,
		SavedRecipes:         9999,
		SavedRecipesLimit:    10,
		MultiIngredientToday: 9999,
		MultiIngredientLimit: 2,
	})

	for _, action := range []usagegate.Action{
		usagegate.ActionSearch,
		usagegate.ActionIngredientSearch,
		usagegate.ActionSaveRecipe,
		usagegate.ActionMultiIngredientSearch,
	} {
		decision, err := guard.Evaluate(context.Background(), action)
		require.NoError(t, err, "action %s", action)
		assert.True(t, decision.Allowed, "premium bypass is unconditional for %s", action)
	}
}

func TestGuard_PremiumBypass_Degraded(t *testing.T) {
	authority := &stubAuthority{recordErr: usagegate.ErrAuthorityUnavailable}
	guard := newTestGuard(t, authority)
	seed(t, guard, authority, usagegate.Snapshot{
		Tier:          usagegate.TierPremium,
		SearchesToday: 9999,
		SearchesLimit: 5,
	})

	decision, err := guard.Evaluate(context.Background(), usagegate.ActionSearch)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.Degraded)
}

func TestGuard_Allowed_CountersReplacedFromServer(t *testing.T) {
	// Free user at 4/5: server allows the fifth search and reports the
	// post-action counters. The snapshot must take them verbatim, with
	// no extra local increment.
	authority := &stubAuthority{
		decision: &usagegate.Decision{
			Allowed:      true,
			CurrentCount: 5,
			Remaining:    0,
			Limit:        5,
			Tier:         usagegate.TierFree,
		},
	}
	guard := newTestGuard(t, authority)
	seed(t, guard, authority, usagegate.Snapshot{
		Tier:          usagegate.TierFree,
		SearchesToday: 4,
		SearchesLimit: 5,
	})

	decision, err := guard.Evaluate(context.Background(), usagegate.ActionSearch)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	snap := guard.Snapshot()
	assert.Equal(t, 5, snap.SearchesToday)
	assert.Equal(t, 5, snap.SearchesLimit)
	assert.Equal(t, 0, snap.SearchesRemaining())
	assert.Equal(t, usagegate.LevelBlocked, guard.WarningLevel(usagegate.ActionSearch))
}

func TestGuard_ServerDeny_SnapshotUnchanged(t *testing.T) {
	authority := &stubAuthority{
		decision: &usagegate.Decision{
			Allowed:   false,
			Remaining: 0,
			Limit:     5,
			Tier:      usagegate.TierFree,
		},
	}
	guard := newTestGuard(t, authority)
	seed(t, guard, authority, usagegate.Snapshot{
		Tier:          usagegate.TierFree,
		SearchesToday: 2,
		SearchesLimit: 5,
	})
	before := guard.Snapshot()

	decision, err := guard.Evaluate(context.Background(), usagegate.ActionSearch)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.NotEmpty(t, decision.Reason)

	// Server recorded no usage, so the local copy stays as-is.
	assert.Equal(t, before, guard.Snapshot())
}

func TestGuard_Degraded_UsesLocalFastPath(t *testing.T) {
	authority := &stubAuthority{recordErr: context.DeadlineExceeded}
	guard := newTestGuard(t, authority)
	seed(t, guard, authority, usagegate.Snapshot{
		Tier:          usagegate.TierFree,
		SearchesToday: 3,
		SearchesLimit: 5,
	})

	decision, err := guard.Evaluate(context.Background(), usagegate.ActionSearch)
	require.NoError(t, err, "network failure degrades, it does not propagate")
	assert.True(t, decision.Allowed)
	assert.True(t, decision.Degraded)
	assert.Equal(t, 2, decision.Remaining)
}

func TestGuard_MalformedResponse_Degrades(t *testing.T) {
	authority := &stubAuthority{recordErr: usagegate.ErrMalformedResponse}
	guard := newTestGuard(t, authority)
	seed(t, guard, authority, usagegate.Snapshot{
		Tier:          usagegate.TierFree,
		SearchesToday: 0,
		SearchesLimit: 5,
	})

	decision, err := guard.Evaluate(context.Background(), usagegate.ActionSearch)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.Degraded)
}

func TestGuard_NotAuthenticated(t *testing.T) {
	authority := &stubAuthority{}
	guard, err := usagegate.New(authority, usagegate.StaticIdentity(""), usagegate.Config{})
	require.NoError(t, err)

	_, err = guard.Evaluate(context.Background(), usagegate.ActionSearch)
	assert.ErrorIs(t, err, usagegate.ErrNotAuthenticated)

	record, _ := authority.calls()
	assert.Equal(t, 0, record)
}

func TestGuard_RejectedCredentialPropagates(t *testing.T) {
	// The HTTP authority maps 401/403 to ErrNotAuthenticated. That is a
	// hard failure of the flow, never a degraded allow.
	authority := &stubAuthority{
		recordErr: fmt.Errorf("%w: status 401", usagegate.ErrNotAuthenticated),
	}
	guard := newTestGuard(t, authority)
	seed(t, guard, authority, usagegate.Snapshot{
		Tier:          usagegate.TierFree,
		SearchesToday: 0,
		SearchesLimit: 5,
	})

	decision, err := guard.Evaluate(context.Background(), usagegate.ActionSearch)
	assert.ErrorIs(t, err, usagegate.ErrNotAuthenticated)
	assert.False(t, decision.Allowed)
	assert.False(t, decision.Degraded)
}

func TestGuard_UnknownAction(t *testing.T) {
	guard := newTestGuard(t, &stubAuthority{})
	_, err := guard.Evaluate(context.Background(), usagegate.Action("export_pdf"))
	assert.ErrorIs(t, err, usagegate.ErrUnknownAction)
}

func TestGuard_Refresh_NoIdentityIsNoop(t *testing.T) {
	authority := &stubAuthority{snapshot: &usagegate.Snapshot{Tier: usagegate.TierPremium}}
	guard, err := usagegate.New(authority, usagegate.StaticIdentity(""), usagegate.Config{})
	require.NoError(t, err)
	before := guard.Snapshot()

	require.NoError(t, guard.Refresh(context.Background()))

	_, fetch := authority.calls()
	assert.Equal(t, 0, fetch)
	assert.Equal(t, before, guard.Snapshot())
}

func TestGuard_Refresh_FailureKeepsSnapshot(t *testing.T) {
	authority := &stubAuthority{}
	guard := newTestGuard(t, authority)
	seed(t, guard, authority, usagegate.Snapshot{
		Tier:          usagegate.TierFree,
		SearchesToday: 1,
		SearchesLimit: 5,
	})
	before := guard.Snapshot()

	authority.mu.Lock()
	authority.fetchErr = usagegate.ErrAuthorityUnavailable
	authority.mu.Unlock()

	err := guard.Refresh(context.Background())
	assert.Error(t, err)
	assert.Equal(t, before, guard.Snapshot(), "stale-but-present beats absent")
}

func TestGuard_Refresh_ReplacesWholesale(t *testing.T) {
	authority := &stubAuthority{}
	guard := newTestGuard(t, authority)
	seed(t, guard, authority, usagegate.Snapshot{
		Tier:                 usagegate.TierPremium,
		SearchesToday:        12,
		SearchesLimit:        usagegate.Unlimited,
		SavedRecipes:         40,
		SavedRecipesLimit:    usagegate.Unlimited,
		MultiIngredientToday: 3,
		MultiIngredientLimit: usagegate.Unlimited,
	})

	snap := guard.Snapshot()
	assert.Equal(t, usagegate.TierPremium, snap.Tier)
	assert.Equal(t, 12, snap.SearchesToday)
	assert.Equal(t, usagegate.Unlimited, snap.SearchesRemaining())
}

func TestGuard_Refresh_ConcurrentCallsCollapse(t *testing.T) {
	authority := &stubAuthority{
		snapshot: &usagegate.Snapshot{
			Tier:          usagegate.TierFree,
			SearchesToday: 2,
			SearchesLimit: 5,
		},
		fetchDelay: 50 * time.Millisecond,
	}
	guard := newTestGuard(t, authority)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, guard.Refresh(context.Background()))
		}()
	}
	wg.Wait()

	_, fetch := authority.calls()
	assert.Equal(t, 1, fetch, "concurrent refreshes for one user collapse into a single fetch")
	assert.Equal(t, 2, guard.Snapshot().SearchesToday)
}

func TestGuard_SharedSearchCounter(t *testing.T) {
	// search and ingredient_search meter the same daily pair: once one
	// exhausts it, the other is blocked locally too.
	authority := &stubAuthority{
		decision: &usagegate.Decision{
			Allowed:      true,
			CurrentCount: 5,
			Remaining:    0,
			Limit:        5,
			Tier:         usagegate.TierFree,
		},
	}
	guard := newTestGuard(t, authority)
	seed(t, guard, authority, usagegate.Snapshot{
		Tier:          usagegate.TierFree,
		SearchesToday: 4,
		SearchesLimit: 5,
	})

	decision, err := guard.Evaluate(context.Background(), usagegate.ActionSearch)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	recordsAfterFirst, _ := authority.calls()

	decision, err = guard.Evaluate(context.Background(), usagegate.ActionIngredientSearch)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	record, _ := authority.calls()
	assert.Equal(t, recordsAfterFirst, record)
}

func TestGuard_ConcurrentEvaluate(t *testing.T) {
	authority := &stubAuthority{
		decision: &usagegate.Decision{
			Allowed:      true,
			CurrentCount: 1,
			Remaining:    4,
			Limit:        5,
			Tier:         usagegate.TierFree,
		},
	}
	guard := newTestGuard(t, authority)
	seed(t, guard, authority, usagegate.Snapshot{
		Tier:          usagegate.TierFree,
		SearchesLimit: 5,
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = guard.Evaluate(context.Background(), usagegate.ActionSearch)
			_ = guard.Snapshot()
		}()
	}
	wg.Wait()

	// Writes are whole counter-pair replacements, never torn.
	snap := guard.Snapshot()
	assert.Equal(t, 1, snap.SearchesToday)
	assert.Equal(t, 5, snap.SearchesLimit)
}

func TestGuard_Describe(t *testing.T) {
	authority := &stubAuthority{}
	guard := newTestGuard(t, authority)
	seed(t, guard, authority, usagegate.Snapshot{
		Tier:              usagegate.TierFree,
		SearchesToday:     3,
		SearchesLimit:     5,
		SavedRecipes:      10,
		SavedRecipesLimit: 10,
	})

	assert.Equal(t, "2 of 5 free searches left today", guard.Describe(usagegate.ActionSearch))
	assert.Equal(t, "0 of 10 recipe slots left", guard.Describe(usagegate.ActionSaveRecipe))

	seed(t, guard, authority, usagegate.Snapshot{Tier: usagegate.TierPremium})
	assert.Equal(t, "Unlimited with Premium", guard.Describe(usagegate.ActionSearch))
}
