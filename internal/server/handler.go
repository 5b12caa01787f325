// handler.go -- HTTP handlers for the bot's control endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/cityfarmers/growbot/internal/content"
	"github.com/cityfarmers/growbot/internal/twitter"
)

// AuthFlow defines the OAuth flow operations handlers need.
// Satisfied by *auth.Flow -- defined here (at consumer) per Go convention.
type AuthFlow interface {
	Begin(ctx context.Context) (string, error)
	Complete(ctx context.Context, code, state string) error
	Reset(ctx context.Context) error
}

// Generator produces tweet text for a category. Satisfied by *content.Generator.
type Generator interface {
	Generate(ctx context.Context, category content.Category) (string, error)
}

// Poster publishes a tweet. Satisfied by *twitter.Client.
type Poster interface {
	Post(ctx context.Context, text string) (string, error)
}

// Scheduler exposes the scheduler operations handlers need.
type Scheduler interface {
	Status() (running bool, next *time.Time)
	HandleRateLimit(ctx context.Context)
}

// HealthStore exposes the store probes the health handler needs.
type HealthStore interface {
	Ping(ctx context.Context) bool
	HasTokens(ctx context.Context, userID string) bool
}

// Handler holds the wired components for all HTTP endpoints.
type Handler struct {
	Store  HealthStore
	Flow   AuthFlow
	Gen    Generator
	Poster Poster
	Sched  Scheduler

	// UserID keys the stored token pair; only the health report reads it here.
	UserID string
}

// backgroundTimeout bounds background publish goroutines, which outlive the
// request context that spawned them.
const backgroundTimeout = 2 * time.Minute

// Root handles GET / and HEAD / -- liveness only, no dependency checks.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{"running"})
}

// AuthRedirect handles GET /auth/twitter -- ensures PKCE credentials exist and
// redirects the browser to the provider's consent page.
func (h *Handler) AuthRedirect(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.Flow.Begin(r.Context())
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// OAuthCallback handles GET /oauth/callback -- validates state, exchanges the
// authorization code for tokens, and persists them. On success a first post
// is published in the background; its failure is logged, not surfaced, since
// the authentication itself succeeded.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" {
		BadRequest(w, "missing authorization code")
		return
	}

	if err := h.Flow.Complete(r.Context(), code, state); err != nil {
		logError(r, "oauth callback: exchange failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, struct {
			Detail string `json:"detail"`
		}{err.Error()})
		return
	}

	logInfo(r, "oauth tokens stored")
	go h.publishInBackground(content.Educational, "first post after auth")

	OK(w, "Successfully authenticated. Bot can now post tweets.")
}

// PostTweet handles POST /post-tweet?content_type= -- generates content
// synchronously so the caller sees what will be posted, then publishes it as
// background work tagged with a task id.
func (h *Handler) PostTweet(w http.ResponseWriter, r *http.Request) {
	category := content.ParseCategory(r.URL.Query().Get("content_type"))

	text, err := h.Gen.Generate(r.Context(), category)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	// Full text at debug only; the response body already carries it.
	logDebug(r, "content generated", "category", category, "text", text)

	taskID, err := uuid.NewV7()
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "manual post queued", "category", category, "task_id", taskID)
	go h.publishText(text, "task_id", taskID.String())

	writeJSON(w, http.StatusOK, struct {
		Status  string `json:"status"`
		Content string `json:"content"`
		TaskID  string `json:"task_id"`
	}{"Tweet generation initiated", text, taskID.String()})
}

// TestTweet handles POST /test-tweet -- publishes a diagnostic message
// synchronously so the operator gets the real platform outcome, including a
// distinct rate_limited status that also arms the scheduler's backoff.
func (h *Handler) TestTweet(w http.ResponseWriter, r *http.Request) {
	// Timestamp keeps repeated diagnostics unique; the platform rejects
	// duplicate tweet text.
	text := fmt.Sprintf("City Farmers bot diagnostic post -- %s", time.Now().Format(time.RFC3339))

	id, err := h.Poster.Post(r.Context(), text)
	var rateErr *twitter.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		logWarn(r, "test tweet rate limited", "status", rateErr.StatusCode)
		h.Sched.HandleRateLimit(r.Context())
		writeJSON(w, http.StatusOK, struct {
			Status string `json:"status"`
			Detail string `json:"detail"`
		}{"rate_limited", "posting suspended, scheduler will resume after backoff"})
	case errors.Is(err, twitter.ErrNoTokens):
		Unauthorized(w, "no stored tokens; run /auth/twitter first")
	case err != nil:
		InternalServerError(w, r, err)
	default:
		logInfo(r, "test tweet published", "tweet_id", id)
		writeJSON(w, http.StatusOK, struct {
			Status  string `json:"status"`
			TweetID string `json:"tweet_id"`
			URL     string `json:"url"`
		}{"posted", id, twitter.TweetURL(id)})
	}
}

// ResetAuth handles POST /reset-auth -- clears all stored tokens and PKCE state.
func (h *Handler) ResetAuth(w http.ResponseWriter, r *http.Request) {
	if err := h.Flow.Reset(r.Context()); err != nil {
		InternalServerError(w, r, err)
		return
	}
	logInfo(r, "stored credentials cleared")
	OK(w, "Authentication reset. All stored tokens cleared.")
}

// CheckHealth handles GET /health -- pings Redis and reports token presence
// and scheduler state. 200 when Redis is reachable, 503 otherwise: without
// the store the bot cannot read tokens, so posting is blocked.
func (h *Handler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	redisConnected := h.Store.Ping(r.Context())
	hasTokens := false
	if redisConnected {
		hasTokens = h.Store.HasTokens(r.Context(), h.UserID)
	}
	running, next := h.Sched.Status()

	status := "healthy"
	httpStatus := http.StatusOK
	if !redisConnected {
		logError(r, "health check: redis unreachable")
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, struct {
		Status           string  `json:"status"`
		RedisConnected   bool    `json:"redis_connected"`
		HasTokens        bool    `json:"has_tokens"`
		SchedulerRunning bool    `json:"scheduler_running"`
		NextRun          *string `json:"next_run"`
	}{status, redisConnected, hasTokens, running, formatNextRun(next)})
}

// SchedulerStatus handles GET /scheduler-status.
func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	running, next := h.Sched.Status()
	writeJSON(w, http.StatusOK, struct {
		Running bool    `json:"running"`
		NextRun *string `json:"next_run"`
	}{running, formatNextRun(next)})
}

// publishInBackground generates and posts for the given category outside any
// request lifecycle. Used by the post-auth first tweet.
func (h *Handler) publishInBackground(category content.Category, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()

	text, err := h.Gen.Generate(ctx, category)
	if err != nil {
		slog.Error("background generation failed", "reason", reason, "error", err)
		return
	}
	h.publishWithCtx(ctx, text, "reason", reason)
}

// publishText posts already-generated text in the background.
func (h *Handler) publishText(text string, logArgs ...any) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()
	h.publishWithCtx(ctx, text, logArgs...)
}

func (h *Handler) publishWithCtx(ctx context.Context, text string, logArgs ...any) {
	id, err := h.Poster.Post(ctx, text)
	var rateErr *twitter.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		slog.Warn("background post rate limited, arming backoff", logArgs...)
		h.Sched.HandleRateLimit(ctx)
	case err != nil:
		slog.Error("background post failed", append(logArgs, "error", err)...)
	default:
		slog.Info("background post published",
			append(logArgs, "tweet_id", id, "url", twitter.TweetURL(id))...)
	}
}

// formatNextRun renders a fire time as RFC3339, or nil when none is scheduled.
func formatNextRun(next *time.Time) *string {
	if next == nil {
		return nil
	}
	s := next.Format(time.RFC3339)
	return &s
}
