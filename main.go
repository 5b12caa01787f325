package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cityfarmers/growbot/internal/auth"
	"github.com/cityfarmers/growbot/internal/config"
	"github.com/cityfarmers/growbot/internal/content"
	"github.com/cityfarmers/growbot/internal/llm"
	"github.com/cityfarmers/growbot/internal/scheduler"
	"github.com/cityfarmers/growbot/internal/server"
	"github.com/cityfarmers/growbot/internal/store"
	"github.com/cityfarmers/growbot/internal/twitter"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	// Set up slog to output as json with configured level
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs. Shuts down when ctx is cancelled
// (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener
// is bound, so a caller can wait for startup instead of polling.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	// Shared Redis-backed store; all bot state lives here.
	rs, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to set up redis store: %w", err)
	}
	defer rs.Close()

	oauthCfg := twitter.NewOAuthConfig(cfg.TwitterClientID, cfg.TwitterClientSecret, cfg.TwitterRedirectURI)

	gen := content.NewGenerator(llm.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel))
	tw := twitter.NewClient(rs, oauthCfg, cfg.BotUserID)
	flow := auth.NewFlow(rs, oauthCfg, cfg.BotUserID)

	// Scheduler rebuilds its fire time from persisted rate-limit state, so a
	// restart during a backoff window does not post early.
	sched := scheduler.New(gen, tw, rs)
	sched.Start(ctx)
	defer sched.Shutdown()

	h := &server.Handler{
		Store:  rs,
		Flow:   flow,
		Gen:    gen,
		Poster: tw,
		Sched:  sched,
		UserID: cfg.BotUserID,
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	srv := &http.Server{Handler: buildRouter(h)}

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("growbot listening", "addr", ln.Addr().String())
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to the caller, if one is waiting.
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(h *server.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/", h.Root)
	r.Head("/", h.Root)
	r.Get("/health", h.CheckHealth)
	r.Get("/scheduler-status", h.SchedulerStatus)

	r.Get("/auth/twitter", h.AuthRedirect)
	r.Get("/oauth/callback", h.OAuthCallback)
	r.Post("/reset-auth", h.ResetAuth)

	r.Post("/post-tweet", h.PostTweet)
	r.Post("/test-tweet", h.TestTweet)

	return r
}
