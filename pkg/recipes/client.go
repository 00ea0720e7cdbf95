package recipes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dishcover/dishcover-go/pkg/usagegate"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultSearchLimit = 25

	searchPath        = "/rpc/search_recipes"
	ingredientPath    = "/rpc/search_by_ingredients"
	savePath          = "/rpc/save_recipe"
	unsavePath        = "/rpc/unsave_recipe"
	listSavedPath     = "/rpc/list_saved_recipes"
)

// TokenProvider returns the signed-in user's bearer token for a request.
type TokenProvider func(ctx context.Context) (string, error)

// Config holds recipe service client configuration.
type Config struct {
	// BaseURL of the recipe service.
	BaseURL string

	// APIKey identifies this client installation.
	APIKey string

	// TokenProvider supplies the user's bearer token (required).
	TokenProvider TokenProvider

	// HTTPClient is the transport to use (default: 15s timeout).
	HTTPClient *http.Client

	// Logger is used for structured logging (default: NoopLogger).
	Logger usagegate.Logger

	// SearchLimit caps page size for search calls (default: 25).
	SearchLimit int
}

// Client talks to the remote recipe service.
type Client struct {
	baseURL     string
	apiKey      string
	tokens      TokenProvider
	client      *http.Client
	logger      usagegate.Logger
	searchLimit int
}

// NewClient creates a recipe service client.
func NewClient(config Config) (*Client, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if config.TokenProvider == nil {
		return nil, fmt.Errorf("token provider is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = &usagegate.NoopLogger{}
	}
	searchLimit := config.SearchLimit
	if searchLimit <= 0 {
		searchLimit = defaultSearchLimit
	}

	return &Client{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		apiKey:      config.APIKey,
		tokens:      config.TokenProvider,
		client:      httpClient,
		logger:      logger,
		searchLimit: searchLimit,
	}, nil
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type ingredientSearchRequest struct {
	Ingredients []string `json:"ingredients"`
	Limit       int      `json:"limit"`
}

type savedRecipeRequest struct {
	UserID   string `json:"userId"`
	RecipeID string `json:"recipeId,omitempty"`
}

// Search runs a free-text recipe search. The query is trimmed and
// lowercased before it leaves the device.
func (c *Client) Search(ctx context.Context, query string) (*SearchResult, error) {
	var result SearchResult
	err := c.rpc(ctx, searchPath, searchRequest{
		Query: strings.ToLower(strings.TrimSpace(query)),
		Limit: c.searchLimit,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SearchByIngredients finds recipes matching the given ingredients and
// orders the page by local match score. One ingredient is a plain
// ingredient search; several make a multi-ingredient search, and the
// caller is responsible for metering them as such.
func (c *Client) SearchByIngredients(ctx context.Context, ingredients []string) (*SearchResult, error) {
	wanted := NormalizeIngredients(ingredients)
	if len(wanted) == 0 {
		return &SearchResult{}, nil
	}

	var result SearchResult
	err := c.rpc(ctx, ingredientPath, ingredientSearchRequest{
		Ingredients: wanted,
		Limit:       c.searchLimit,
	}, &result)
	if err != nil {
		return nil, err
	}

	result.Recipes = RankByIngredients(result.Recipes, wanted)
	return &result, nil
}

// Save marks a recipe as a favorite for the user.
func (c *Client) Save(ctx context.Context, userID, recipeID string) error {
	return c.rpc(ctx, savePath, savedRecipeRequest{UserID: userID, RecipeID: recipeID}, nil)
}

// Unsave removes a recipe from the user's favorites.
func (c *Client) Unsave(ctx context.Context, userID, recipeID string) error {
	return c.rpc(ctx, unsavePath, savedRecipeRequest{UserID: userID, RecipeID: recipeID}, nil)
}

// ListSaved returns the user's saved recipes.
func (c *Client) ListSaved(ctx context.Context, userID string) ([]Recipe, error) {
	var result SearchResult
	if err := c.rpc(ctx, listSavedPath, savedRecipeRequest{UserID: userID}, &result); err != nil {
		return nil, err
	}
	return result.Recipes, nil
}

// rpc POSTs a JSON payload and decodes the response into out (when out
// is non-nil). Calls are not retried; search endpoints are cheap to
// re-issue at the caller's discretion and save endpoints must not be.
func (c *Client) rpc(ctx context.Context, path string, payload, out interface{}) error {
	token, err := c.tokens(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", usagegate.ErrNotAuthenticated, err)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("recipe service call failed",
			usagegate.Field{Key: "path", Value: path},
			usagegate.Field{Key: "error", Value: err},
		)
		return fmt.Errorf("%w: %v", usagegate.ErrAuthorityUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("recipe service returned error status",
			usagegate.Field{Key: "path", Value: path},
			usagegate.Field{Key: "status", Value: resp.StatusCode},
		)
		return fmt.Errorf("%w: status %d", usagegate.ErrAuthorityUnavailable, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", usagegate.ErrAuthorityUnavailable, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", usagegate.ErrMalformedResponse, err)
	}
	return nil
}
