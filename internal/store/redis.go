// redis.go -- go-redis client for bot state.
//
// Holds OAuth tokens (24h TTL), the PKCE credential pair, the short-lived
// OAuth state token, and the scheduler's rate-limit resume marker.
// Everything is serialized as JSON. Each key has exactly one writer role,
// so there is no conflict resolution -- last write wins.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key is absent or its TTL has expired.
// Callers distinguish "no credentials yet" from real store failures with errors.Is.
var ErrNotFound = errors.New("store: key not found")

// ErrUnavailable wraps connection-level Redis failures so callers can degrade
// health reporting instead of treating them like a missing key.
var ErrUnavailable = errors.New("store: redis unavailable")

// Key layout. The user id suffix on the token key allows multiple bot
// accounts, though the scheduler only ever uses one.
const (
	tokenKeyPrefix = "twitter_tokens:"
	pkceKey        = "pkce_credentials"
	stateKey       = "oauth_state"
	rateLimitKey   = "rate_limit_state"
)

const (
	// TokenTTL bounds how long a stored token pair is trusted before the
	// operator must re-authenticate (or a refresh rewrites the pair).
	TokenTTL = 24 * time.Hour

	stateTTL     = 10 * time.Minute
	rateLimitTTL = 24 * time.Hour
)

// Tokens is the OAuth token pair as returned by the provider's token endpoint.
// RefreshToken may be empty if the offline.access scope was not granted.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}

// PKCE is a code verifier and its S256 challenge. The same pair must be used
// for both the authorization URL and the token exchange, so it is persisted
// rather than held in process memory.
type PKCE struct {
	CodeVerifier  string `json:"code_verifier"`
	CodeChallenge string `json:"code_challenge"`
}

// RateLimitState records when posting may resume after the platform throttled us.
type RateLimitState struct {
	ResumeAt time.Time `json:"resume_at"`
}

// RedisStore wraps a Redis client for bot state operations.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to Redis and returns a ready-to-use store.
// It pings Redis to verify connectivity before returning.
// Call once at startup from main.go...returned store is safe for concurrent use.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return &RedisStore{rdb}, nil
}

// Close shuts down the Redis client and releases all resources.
// Should be called via defer in main.go after creating the store.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Ping reports whether Redis is reachable. Single round trip, never raises --
// the health handler turns the bool directly into redis_connected.
func (s *RedisStore) Ping(ctx context.Context) bool {
	return s.rdb.Ping(ctx).Err() == nil
}

// StoreTokens persists an OAuth token pair for the given user with the token TTL.
func (s *RedisStore) StoreTokens(ctx context.Context, userID string, tokens Tokens) error {
	return s.setJSON(ctx, tokenKeyPrefix+userID, tokens, TokenTTL)
}

// GetTokens retrieves the stored token pair for the given user.
// Returns ErrNotFound if none are stored or the TTL expired.
func (s *RedisStore) GetTokens(ctx context.Context, userID string) (*Tokens, error) {
	var tokens Tokens
	if err := s.getJSON(ctx, tokenKeyPrefix+userID, &tokens); err != nil {
		return nil, err
	}
	return &tokens, nil
}

// HasTokens reports whether a token pair exists for the given user.
// Store failures count as "no tokens" -- this feeds the health report only.
func (s *RedisStore) HasTokens(ctx context.Context, userID string) bool {
	_, err := s.GetTokens(ctx, userID)
	return err == nil
}

// StorePKCE persists the PKCE pair. No TTL: the pair must survive until the
// callback completes the exchange, however long the operator takes to consent.
func (s *RedisStore) StorePKCE(ctx context.Context, pair PKCE) error {
	return s.setJSON(ctx, pkceKey, pair, 0)
}

// GetPKCE retrieves the persisted PKCE pair, or ErrNotFound if none exists.
func (s *RedisStore) GetPKCE(ctx context.Context) (*PKCE, error) {
	var pair PKCE
	if err := s.getJSON(ctx, pkceKey, &pair); err != nil {
		return nil, err
	}
	return &pair, nil
}

// StoreState persists the OAuth CSRF state token for the pending authorization
// round-trip. Short TTL -- a callback arriving later than this is stale.
func (s *RedisStore) StoreState(ctx context.Context, state string) error {
	if err := s.rdb.Set(ctx, stateKey, state, stateTTL).Err(); err != nil {
		return fmt.Errorf("%w: storing oauth state: %w", ErrUnavailable, err)
	}
	return nil
}

// GetState retrieves the pending OAuth state token, or ErrNotFound.
func (s *RedisStore) GetState(ctx context.Context) (string, error) {
	state, err := s.rdb.Get(ctx, stateKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: fetching oauth state: %w", ErrUnavailable, err)
	}
	return state, nil
}

// StoreRateLimit persists the scheduler's resume threshold. Written before the
// in-memory reschedule so a process restart cannot lose the backoff.
func (s *RedisStore) StoreRateLimit(ctx context.Context, resumeAt time.Time) error {
	return s.setJSON(ctx, rateLimitKey, RateLimitState{ResumeAt: resumeAt}, rateLimitTTL)
}

// GetRateLimit retrieves the persisted resume threshold, or ErrNotFound if
// posting is not suspended (or the suspension aged out via TTL).
func (s *RedisStore) GetRateLimit(ctx context.Context) (time.Time, error) {
	var state RateLimitState
	if err := s.getJSON(ctx, rateLimitKey, &state); err != nil {
		return time.Time{}, err
	}
	return state.ResumeAt, nil
}

// ClearRateLimit removes the resume threshold.
func (s *RedisStore) ClearRateLimit(ctx context.Context) error {
	if err := s.rdb.Del(ctx, rateLimitKey).Err(); err != nil {
		return fmt.Errorf("%w: clearing rate limit state: %w", ErrUnavailable, err)
	}
	return nil
}

// ClearAll removes the token pair, PKCE credentials, OAuth state, and
// rate-limit marker for the given user in one atomic pipeline.
// Used by /reset-auth to force a completely fresh authorization flow.
func (s *RedisStore) ClearAll(ctx context.Context, userID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, tokenKeyPrefix+userID)
	pipe.Del(ctx, pkceKey)
	pipe.Del(ctx, stateKey)
	pipe.Del(ctx, rateLimitKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: clearing stored credentials: %w", ErrUnavailable, err)
	}
	return nil
}

// setJSON marshals v and stores it under key with the given TTL (0 = no expiry).
func (s *RedisStore) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: storing %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// getJSON fetches key and unmarshals it into v. ErrNotFound on a missing key.
func (s *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	raw, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: fetching %s: %w", ErrUnavailable, key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	return nil
}
