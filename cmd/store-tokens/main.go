// store-tokens seeds an OAuth token pair into Redis by hand, for bootstrapping
// the bot from tokens obtained outside the HTTP auth flow. Verifies the
// round-trip before exiting.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cityfarmers/growbot/internal/config"
	"github.com/cityfarmers/growbot/internal/store"
)

func main() {
	accessToken := flag.String("access", "", "access token to store (required)")
	refreshToken := flag.String("refresh", "", "refresh token to store")
	flag.Parse()

	if *accessToken == "" {
		fmt.Fprintln(os.Stderr, "usage: store-tokens -access <token> [-refresh <token>]")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rs, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer rs.Close()

	tokens := store.Tokens{
		AccessToken:  *accessToken,
		RefreshToken: *refreshToken,
	}
	if err := rs.StoreTokens(ctx, cfg.BotUserID, tokens); err != nil {
		fmt.Fprintf(os.Stderr, "storing tokens: %v\n", err)
		os.Exit(1)
	}

	// Read back to verify storage before claiming success.
	if _, err := rs.GetTokens(ctx, cfg.BotUserID); err != nil {
		fmt.Fprintf(os.Stderr, "verifying stored tokens: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("stored tokens for %s (TTL %s)\n", cfg.BotUserID, store.TokenTTL)
}
