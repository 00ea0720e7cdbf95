// Package discovery is the app-facing service for metered recipe
// discovery. Every search and save passes through the usage gate first;
// a denied gate check surfaces as a LimitError carrying the paywall
// message, and the remote call never happens.
package discovery

import (
	"context"
	"fmt"

	"github.com/dishcover/dishcover-go/pkg/favorites"
	"github.com/dishcover/dishcover-go/pkg/recipes"
	"github.com/dishcover/dishcover-go/pkg/usagegate"
)

// LimitError reports a usage-gate denial. The Decision carries the
// paywall reason and the counters to render.
type LimitError struct {
	Action   usagegate.Action
	Decision usagegate.Decision
}

func (e *LimitError) Error() string {
	if e.Decision.Reason != "" {
		return e.Decision.Reason
	}
	return fmt.Sprintf("limit reached for %s", e.Action)
}

// Config holds discovery service configuration.
type Config struct {
	// Guard meters every search and save (required).
	Guard *usagegate.Guard

	// Recipes talks to the recipe service (required).
	Recipes *recipes.Client

	// Identity resolves the signed-in user (required).
	Identity usagegate.Identity

	// Favorites mirrors saved recipe IDs locally (optional).
	Favorites *favorites.Store

	// Logger is used for structured logging (default: NoopLogger).
	Logger usagegate.Logger
}

// Service composes the usage gate and the recipe service into the flow
// the app screens call.
type Service struct {
	guard     *usagegate.Guard
	recipes   *recipes.Client
	identity  usagegate.Identity
	favorites *favorites.Store
	logger    usagegate.Logger
}

// New creates a discovery service.
func New(config Config) (*Service, error) {
	if config.Guard == nil {
		return nil, fmt.Errorf("guard is required")
	}
	if config.Recipes == nil {
		return nil, fmt.Errorf("recipes client is required")
	}
	if config.Identity == nil {
		return nil, fmt.Errorf("identity is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = &usagegate.NoopLogger{}
	}
	return &Service{
		guard:     config.Guard,
		recipes:   config.Recipes,
		identity:  config.Identity,
		favorites: config.Favorites,
		logger:    logger,
	}, nil
}

// Search runs a metered free-text search.
func (s *Service) Search(ctx context.Context, query string) (*recipes.SearchResult, error) {
	if err := s.gate(ctx, usagegate.ActionSearch); err != nil {
		return nil, err
	}
	return s.recipes.Search(ctx, query)
}

// SearchByIngredients runs a metered ingredient search. Two or more
// distinct ingredients meter as a multi-ingredient search.
func (s *Service) SearchByIngredients(ctx context.Context, ingredients []string) (*recipes.SearchResult, error) {
	wanted := recipes.NormalizeIngredients(ingredients)
	if len(wanted) == 0 {
		return &recipes.SearchResult{}, nil
	}

	action := usagegate.ActionIngredientSearch
	if len(wanted) > 1 {
		action = usagegate.ActionMultiIngredientSearch
	}
	if err := s.gate(ctx, action); err != nil {
		return nil, err
	}
	return s.recipes.SearchByIngredients(ctx, wanted)
}

// SaveRecipe saves a recipe for the user, metered against the saved
// slots limit. The local favorites mirror is updated best-effort.
func (s *Service) SaveRecipe(ctx context.Context, recipeID string) error {
	userID := s.identity.UserID(ctx)
	if userID == "" {
		return usagegate.ErrNotAuthenticated
	}
	if err := s.gate(ctx, usagegate.ActionSaveRecipe); err != nil {
		return err
	}
	if err := s.recipes.Save(ctx, userID, recipeID); err != nil {
		return err
	}
	if s.favorites != nil {
		if err := s.favorites.Add(userID, recipeID); err != nil {
			s.logger.Warn("failed to mirror saved recipe locally",
				usagegate.Field{Key: "recipeId", Value: recipeID},
				usagegate.Field{Key: "error", Value: err},
			)
		}
	}
	return nil
}

// UnsaveRecipe removes a saved recipe. Not metered; freeing a slot is
// always allowed. The counter snapshot is refreshed afterwards so the
// freed slot shows up without waiting for the next save.
func (s *Service) UnsaveRecipe(ctx context.Context, recipeID string) error {
	userID := s.identity.UserID(ctx)
	if userID == "" {
		return usagegate.ErrNotAuthenticated
	}
	if err := s.recipes.Unsave(ctx, userID, recipeID); err != nil {
		return err
	}
	if s.favorites != nil {
		if err := s.favorites.Remove(userID, recipeID); err != nil {
			s.logger.Warn("failed to remove local saved recipe",
				usagegate.Field{Key: "recipeId", Value: recipeID},
				usagegate.Field{Key: "error", Value: err},
			)
		}
	}
	if err := s.guard.Refresh(ctx); err != nil {
		s.logger.Debug("snapshot refresh after unsave failed",
			usagegate.Field{Key: "error", Value: err},
		)
	}
	return nil
}

// SavedRecipes returns the user's saved recipes from the server and
// resyncs the local mirror. When the server is unreachable it falls
// back to locally mirrored IDs so the saved tab still renders.
func (s *Service) SavedRecipes(ctx context.Context) ([]recipes.Recipe, error) {
	userID := s.identity.UserID(ctx)
	if userID == "" {
		return nil, usagegate.ErrNotAuthenticated
	}

	list, err := s.recipes.ListSaved(ctx, userID)
	if err != nil {
		if s.favorites == nil {
			return nil, err
		}
		ids, localErr := s.favorites.List(userID)
		if localErr != nil {
			return nil, err
		}
		s.logger.Warn("serving saved recipes from local mirror",
			usagegate.Field{Key: "count", Value: len(ids)},
			usagegate.Field{Key: "error", Value: err},
		)
		out := make([]recipes.Recipe, len(ids))
		for i, id := range ids {
			out[i] = recipes.Recipe{ID: id}
		}
		return out, nil
	}

	if s.favorites != nil {
		ids := make([]string, len(list))
		for i, r := range list {
			ids[i] = r.ID
		}
		if err := s.favorites.Replace(userID, ids); err != nil {
			s.logger.Warn("failed to resync local saved recipes",
				usagegate.Field{Key: "error", Value: err},
			)
		}
	}
	return list, nil
}

// Warning returns the banner level for an action, for proactive
// upgrade prompts.
func (s *Service) Warning(action usagegate.Action) usagegate.WarningLevel {
	return s.guard.WarningLevel(action)
}

// Describe returns the human-readable remaining-usage line for an
// action.
func (s *Service) Describe(action usagegate.Action) string {
	return s.guard.Describe(action)
}

// Refresh re-pulls the authoritative counter snapshot, for app
// foregrounding and post-upgrade transitions.
func (s *Service) Refresh(ctx context.Context) error {
	return s.guard.Refresh(ctx)
}

func (s *Service) gate(ctx context.Context, action usagegate.Action) error {
	decision, err := s.guard.Evaluate(ctx, action)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &LimitError{Action: action, Decision: decision}
	}
	return nil
}
