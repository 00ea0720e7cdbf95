// Package httpapi implements the usagegate.Authority interface over the
// Dishcover usage service's authenticated JSON RPC endpoints. All calls
// pass through a circuit breaker so a struggling backend fails fast
// instead of stalling the UI; the usagegate.Guard degrades on the
// resulting errors.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/dishcover/dishcover-go/pkg/usagegate"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultUserAgent  = "dishcover-go/1.0"
	recordUsagePath   = "/rpc/record_usage"
	usageSnapshotPath = "/rpc/usage_snapshot"
)

// TokenProvider returns the signed-in user's bearer token for a request.
type TokenProvider func(ctx context.Context) (string, error)

// Config holds usage service client configuration.
type Config struct {
	// BaseURL of the usage service, e.g. "https://api.dishcover.app".
	BaseURL string

	// APIKey identifies this client installation. Sent on every request.
	APIKey string

	// TokenProvider supplies the user's bearer token (required; metered
	// calls are always authenticated).
	TokenProvider TokenProvider

	// HTTPClient is the transport to use. Defaults to a 10s-timeout
	// client; the guard inherits whatever timeout is configured here.
	HTTPClient *http.Client

	// Logger is used for structured logging (default: NoopLogger).
	Logger usagegate.Logger

	// UserAgent overrides the default User-Agent header.
	UserAgent string
}

// Client is a usagegate.Authority backed by the remote usage service.
type Client struct {
	baseURL   string
	apiKey    string
	tokens    TokenProvider
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	logger    usagegate.Logger
	userAgent string
}

// New creates a usage service client.
func New(config Config) (*Client, error) {
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
	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "usage-service",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Client{
		baseURL:   strings.TrimRight(config.BaseURL, "/"),
		apiKey:    config.APIKey,
		tokens:    config.TokenProvider,
		client:    httpClient,
		breaker:   breaker,
		logger:    logger,
		userAgent: userAgent,
	}, nil
}

type recordUsageRequest struct {
	UserID   string            `json:"userId"`
	Action   string            `json:"action"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type recordUsageResponse struct {
	Allowed      bool   `json:"allowed"`
	CurrentCount int    `json:"currentCount"`
	Remaining    int    `json:"remaining"`
	Limit        int    `json:"limit"`
	Tier         string `json:"tier"`
	Reason       string `json:"reason,omitempty"`
}

type usageSnapshotRequest struct {
	UserID string `json:"userId"`
}

type usageSnapshotResponse struct {
	Tier                 string `json:"tier"`
	SearchesToday        int    `json:"searchesToday"`
	SearchesLimit        int    `json:"searchesLimit"`
	SavedRecipes         int    `json:"savedRecipes"`
	SavedRecipesLimit    int    `json:"savedRecipesLimit"`
	MultiIngredientToday int    `json:"multiIngredientToday"`
	MultiIngredientLimit int    `json:"multiIngredientLimit"`
}

// RecordUsage asks the service to authorize and record one unit of the
// action. Exactly one attempt: the endpoint is not idempotent, so a
// failed call is never retried here.
func (c *Client) RecordUsage(ctx context.Context, userID string, action usagegate.Action, metadata map[string]string) (*usagegate.Decision, error) {
	body, err := c.rpc(ctx, recordUsagePath, recordUsageRequest{
		UserID:   userID,
		Action:   string(action),
		Metadata: metadata,
	}, 1)
	if err != nil {
		return nil, err
	}

	var resp recordUsageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", usagegate.ErrMalformedResponse, err)
	}
	if resp.Tier == "" {
		return nil, fmt.Errorf("%w: missing tier", usagegate.ErrMalformedResponse)
	}

	return &usagegate.Decision{
		Allowed:      resp.Allowed,
		CurrentCount: resp.CurrentCount,
		Remaining:    resp.Remaining,
		Limit:        resp.Limit,
		Tier:         usagegate.Tier(resp.Tier),
		Reason:       resp.Reason,
	}, nil
}

// FetchSnapshot returns the authoritative metering state. Read-only, so
// one extra attempt is made on a retryable failure.
func (c *Client) FetchSnapshot(ctx context.Context, userID string) (*usagegate.Snapshot, error) {
	body, err := c.rpc(ctx, usageSnapshotPath, usageSnapshotRequest{UserID: userID}, 2)
	if err != nil {
		return nil, err
	}

	var resp usageSnapshotResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", usagegate.ErrMalformedResponse, err)
	}
	if resp.Tier == "" {
		return nil, fmt.Errorf("%w: missing tier", usagegate.ErrMalformedResponse)
	}

	return &usagegate.Snapshot{
		Tier:                 usagegate.Tier(resp.Tier),
		SearchesToday:        resp.SearchesToday,
		SearchesLimit:        resp.SearchesLimit,
		SavedRecipes:         resp.SavedRecipes,
		SavedRecipesLimit:    resp.SavedRecipesLimit,
		MultiIngredientToday: resp.MultiIngredientToday,
		MultiIngredientLimit: resp.MultiIngredientLimit,
	}, nil
}

// rpc POSTs a JSON payload and returns the response body. Attempts beyond
// the first happen only for retryable failures (network errors and 5xx).
func (c *Client) rpc(ctx context.Context, path string, payload interface{}, attempts int) ([]byte, error) {
	token, err := c.tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", usagegate.ErrNotAuthenticated, err)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		body, retryable, err := c.do(ctx, path, token, encoded)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, lastErr
}

// do performs one request. The second return value reports whether the
// failure class is safe to retry on an idempotent endpoint.
func (c *Client) do(ctx context.Context, path, token string, payload []byte) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("X-Request-Id", requestID)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, doErr := c.client.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		// 5xx counts as a failure for the breaker.
		if r.StatusCode >= 500 {
			return r, fmt.Errorf("usage service returned %d", r.StatusCode)
		}
		return r, nil
	})
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		c.logger.Warn("usage service call failed",
			usagegate.Field{Key: "path", Value: path},
			usagegate.Field{Key: "requestId", Value: requestID},
			usagegate.Field{Key: "error", Value: err},
		)
		// An open circuit means the backend is already known-bad; more
		// attempts would only feed the breaker.
		retryable := !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests)
		return nil, retryable, fmt.Errorf("%w: %v", usagegate.ErrAuthorityUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", usagegate.ErrAuthorityUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("usage service returned error status",
			usagegate.Field{Key: "path", Value: path},
			usagegate.Field{Key: "requestId", Value: requestID},
			usagegate.Field{Key: "status", Value: resp.StatusCode},
		)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, false, fmt.Errorf("%w: status %d", usagegate.ErrNotAuthenticated, resp.StatusCode)
		}
		return nil, false, fmt.Errorf("%w: status %d", usagegate.ErrAuthorityUnavailable, resp.StatusCode)
	}

	return body, false, nil
}
