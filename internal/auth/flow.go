// flow.go -- OAuth2 Authorization Code + PKCE flow against the X API.
//
// Three states, realized over the store: unauthenticated (no tokens),
// authorization-requested (PKCE pair + state persisted, waiting for the
// callback), authenticated (tokens stored).
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/cityfarmers/growbot/internal/store"
	"github.com/cityfarmers/growbot/internal/twitter"
)

// Store defines the persistence operations the auth flow needs.
// Satisfied by *store.RedisStore -- defined here (at consumer) per Go convention.
type Store interface {
	GetPKCE(ctx context.Context) (*store.PKCE, error)
	StorePKCE(ctx context.Context, pair store.PKCE) error
	GetState(ctx context.Context) (string, error)
	StoreState(ctx context.Context, state string) error
	StoreTokens(ctx context.Context, userID string, tokens store.Tokens) error
	ClearAll(ctx context.Context, userID string) error
}

// Flow drives the authorization round-trip for the bot's single account.
type Flow struct {
	store  Store
	oauth  *oauth2.Config
	userID string
}

// NewFlow returns a Flow persisting credentials under the given user id.
func NewFlow(s Store, oauthCfg *oauth2.Config, userID string) *Flow {
	return &Flow{store: s, oauth: oauthCfg, userID: userID}
}

// Begin ensures a PKCE pair exists and returns the provider authorization URL
// with the S256 challenge and a fresh CSRF state token embedded.
//
// PKCE generation is idempotent: an already-persisted pair is reused, never
// regenerated mid-flow -- the provider rejects the exchange if the verifier
// sent to the token endpoint doesn't match the challenge it saw here.
func (f *Flow) Begin(ctx context.Context) (string, error) {
	pair, err := f.ensurePKCE(ctx)
	if err != nil {
		return "", err
	}

	var stateBytes [32]byte
	if _, err := rand.Read(stateBytes[:]); err != nil {
		return "", fmt.Errorf("generating oauth state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(stateBytes[:])

	if err := f.store.StoreState(ctx, state); err != nil {
		return "", err
	}

	return f.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", pair.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	), nil
}

// Complete validates the callback state, exchanges the authorization code
// using the persisted verifier, and stores the resulting token pair.
// Tokens are only written after a fully successful exchange.
func (f *Flow) Complete(ctx context.Context, code, state string) error {
	stored, err := f.store.GetState(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return &twitter.AuthError{Op: "exchange", Body: "no pending authorization state"}
	}
	if err != nil {
		return err
	}

	// Constant-time comparison prevents timing oracle on state value.
	if subtle.ConstantTimeCompare([]byte(stored), []byte(state)) != 1 {
		return &twitter.AuthError{Op: "exchange", Body: "oauth state mismatch"}
	}

	pair, err := f.store.GetPKCE(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return &twitter.AuthError{Op: "exchange", Body: "no pkce credentials stored"}
	}
	if err != nil {
		return err
	}

	tok, err := f.oauth.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", pair.CodeVerifier),
	)
	if err != nil {
		body := ""
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			body = string(rerr.Body)
		}
		return &twitter.AuthError{Op: "exchange", Body: body, Err: err}
	}

	tokens := store.Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if v, ok := tok.Extra("expires_in").(float64); ok {
		tokens.ExpiresIn = int(v)
	}
	if err := f.store.StoreTokens(ctx, f.userID, tokens); err != nil {
		return fmt.Errorf("persisting tokens: %w", err)
	}
	return nil
}

// Reset clears all persisted tokens, PKCE material, and pending state,
// returning the flow to unauthenticated.
func (f *Flow) Reset(ctx context.Context) error {
	return f.store.ClearAll(ctx, f.userID)
}

// ensurePKCE returns the persisted PKCE pair, generating and persisting one
// if none exists yet.
func (f *Flow) ensurePKCE(ctx context.Context) (*store.PKCE, error) {
	pair, err := f.store.GetPKCE(ctx)
	if err == nil {
		return pair, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	var verifierBytes [32]byte
	if _, err := rand.Read(verifierBytes[:]); err != nil {
		return nil, fmt.Errorf("generating code verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(verifierBytes[:])
	challenge := sha256.Sum256([]byte(verifier))

	generated := store.PKCE{
		CodeVerifier:  verifier,
		CodeChallenge: base64.RawURLEncoding.EncodeToString(challenge[:]),
	}
	if err := f.store.StorePKCE(ctx, generated); err != nil {
		return nil, err
	}
	return &generated, nil
}
