// client.go -- X/Twitter v2 API client: publish tweets, refresh tokens.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/cityfarmers/growbot/internal/store"
)

// tweetsURL is a var so tests can point it at a local httptest server.
var tweetsURL = "https://api.x.com/2/tweets"

// OAuth2 endpoints and scopes for the X API. offline.access grants the
// refresh token; without it posting stops when the access token expires.
const (
	AuthURL  = "https://twitter.com/i/oauth2/authorize"
	TokenURL = "https://api.x.com/2/oauth2/token"
)

// Scopes requested during authorization.
var Scopes = []string{"tweet.read", "users.read", "tweet.write", "offline.access"}

// NewOAuthConfig builds the oauth2 config for the X API. Shared by this
// client (refresh grant) and the auth flow (authorization URL + code exchange).
func NewOAuthConfig(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  AuthURL,
			TokenURL: TokenURL,
			// X expects confidential clients to send credentials via
			// HTTP basic auth on the token endpoint.
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// ErrNoTokens is returned when a post is attempted with no stored credentials.
// The operator must run the auth flow before the bot can publish.
var ErrNoTokens = errors.New("twitter: no stored tokens")

// RateLimitError signals platform throttling. The scheduler recognizes it with
// errors.As and converts it into a 24h+ backoff instead of propagating it.
type RateLimitError struct {
	StatusCode int
	Body       string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("twitter: rate limited (status %d): %s", e.StatusCode, e.Body)
}

// AuthError signals an OAuth exchange or refresh failure. Carries the
// provider's response body for diagnostics; fatal to the current attempt.
type AuthError struct {
	Op   string // "exchange" or "refresh"
	Body string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("twitter: %s failed: %s", e.Op, e.Body)
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError is any other non-success response from the posting endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitter: api error (status %d): %s", e.StatusCode, e.Body)
}

// TokenStore defines the token persistence operations this client needs.
// Satisfied by *store.RedisStore -- defined here (at consumer) per Go convention.
type TokenStore interface {
	GetTokens(ctx context.Context, userID string) (*store.Tokens, error)
	StoreTokens(ctx context.Context, userID string, tokens store.Tokens) error
}

// Client publishes tweets for a single bot account, refreshing the access
// token once on a 401. Safe for concurrent use: a mutex serializes Post so a
// manual trigger racing the schedule cannot double-post or double-refresh.
type Client struct {
	store      TokenStore
	oauth      *oauth2.Config
	userID     string
	httpClient *http.Client

	postMu sync.Mutex
}

// NewClient returns a Client posting as the given stored user.
// Uses a 30s timeout on the outbound HTTP client.
func NewClient(ts TokenStore, oauthCfg *oauth2.Config, userID string) *Client {
	return &Client{
		store:      ts,
		oauth:      oauthCfg,
		userID:     userID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Post publishes text and returns the new tweet's id.
//
// Loads tokens from the store (ErrNoTokens if absent). On a 401 with a
// refresh token present, refreshes and retries exactly once -- a bounded
// loop, so a second 401 surfaces instead of recursing. A 429 surfaces as
// *RateLimitError for the scheduler to convert into backoff.
func (c *Client) Post(ctx context.Context, text string) (string, error) {
	c.postMu.Lock()
	defer c.postMu.Unlock()

	tokens, err := c.store.GetTokens(ctx, c.userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNoTokens
	}
	if err != nil {
		return "", fmt.Errorf("loading tokens: %w", err)
	}

	// At most one refresh-and-retry. attempt 0 uses the stored token;
	// attempt 1 (reached only via the 401 path) uses the refreshed one.
	for attempt := 0; ; attempt++ {
		id, err := c.createTweet(ctx, tokens.AccessToken, text)
		if err == nil {
			return id, nil
		}

		var apiErr *APIError
		if attempt == 0 && errors.As(err, &apiErr) &&
			apiErr.StatusCode == http.StatusUnauthorized && tokens.RefreshToken != "" {
			tokens, err = c.refreshLocked(ctx, tokens.RefreshToken)
			if err != nil {
				return "", err
			}
			continue
		}
		return "", err
	}
}

// Refresh exchanges the stored refresh token for a new token pair and
// persists it. Refresh failure is fatal to the current post attempt.
func (c *Client) Refresh(ctx context.Context) (*store.Tokens, error) {
	c.postMu.Lock()
	defer c.postMu.Unlock()

	tokens, err := c.store.GetTokens(ctx, c.userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoTokens
	}
	if err != nil {
		return nil, fmt.Errorf("loading tokens: %w", err)
	}
	return c.refreshLocked(ctx, tokens.RefreshToken)
}

// refreshLocked performs the refresh grant. Caller must hold postMu.
func (c *Client) refreshLocked(ctx context.Context, refreshToken string) (*store.Tokens, error) {
	if refreshToken == "" {
		return nil, &AuthError{Op: "refresh", Body: "no refresh token stored"}
	}

	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		body := ""
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			body = string(rerr.Body)
		}
		return nil, &AuthError{Op: "refresh", Body: body, Err: err}
	}

	newTokens := store.Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	// Some responses omit the refresh token; keep the one we have.
	if newTokens.RefreshToken == "" {
		newTokens.RefreshToken = refreshToken
	}
	if !tok.Expiry.IsZero() {
		newTokens.ExpiresIn = int(time.Until(tok.Expiry).Seconds())
	}

	// Persist before returning so a crash mid-attempt doesn't strand the
	// old (now-invalidated) pair in the store.
	if err := c.store.StoreTokens(ctx, c.userID, newTokens); err != nil {
		return nil, fmt.Errorf("persisting refreshed tokens: %w", err)
	}
	return &newTokens, nil
}

// createTweet issues one publish request with the given bearer token.
func (c *Client) createTweet(ctx context.Context, accessToken, text string) (string, error) {
	reqBody, err := json.Marshal(struct {
		Text string `json:"text"`
	}{text})
	if err != nil {
		return "", fmt.Errorf("building tweet body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tweetsURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("building tweet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting tweet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusTooManyRequests {
			return "", &RateLimitError{StatusCode: resp.StatusCode, Body: string(body)}
		}
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding tweet response: %w", err)
	}
	return result.Data.ID, nil
}

// TweetURL returns the public URL for a tweet id.
func TweetURL(id string) string {
	return "https://twitter.com/i/web/status/" + id
}
