// handler_test.go -- unit tests for the HTTP handlers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cityfarmers/growbot/internal/content"
	"github.com/cityfarmers/growbot/internal/testutil"
	"github.com/cityfarmers/growbot/internal/twitter"
)

// mockFlow implements AuthFlow.
type mockFlow struct {
	beginURL    string
	beginErr    error
	completeErr error
	resetErr    error

	completedCode  string
	completedState string
}

func (m *mockFlow) Begin(_ context.Context) (string, error) { return m.beginURL, m.beginErr }
func (m *mockFlow) Complete(_ context.Context, code, state string) error {
	m.completedCode = code
	m.completedState = state
	return m.completeErr
}
func (m *mockFlow) Reset(_ context.Context) error { return m.resetErr }

// mockGen implements Generator.
type mockGen struct {
	mu       sync.Mutex
	text     string
	err      error
	lastCat  content.Category
	genCalls int
}

func (m *mockGen) Generate(_ context.Context, c content.Category) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCat = c
	m.genCalls++
	return m.text, m.err
}

// generated reads the call count and last category under the lock, for
// asserting on work done in background goroutines.
func (m *mockGen) generated() (int, content.Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.genCalls, m.lastCat
}

// mockPoster implements Poster.
type mockPoster struct {
	mu    sync.Mutex
	id    string
	err   error
	calls int
	texts []string
}

func (m *mockPoster) Post(_ context.Context, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.texts = append(m.texts, text)
	return m.id, m.err
}

func (m *mockPoster) posted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockSched implements Scheduler.
type mockSched struct {
	mu        sync.Mutex
	running   bool
	next      *time.Time
	rlHandled int
}

func (m *mockSched) Status() (bool, *time.Time) { return m.running, m.next }
func (m *mockSched) HandleRateLimit(_ context.Context) {
	m.mu.Lock()
	m.rlHandled++
	m.mu.Unlock()
}

func (m *mockSched) handled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rlHandled
}

const testUser = "bot_user"

// waitFor polls cond until it holds or the deadline passes. Used to observe
// work handed off to background goroutines.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestHandler(ms *testutil.MockStore) (*Handler, *mockFlow, *mockGen, *mockPoster, *mockSched) {
	flow := &mockFlow{beginURL: "https://twitter.com/i/oauth2/authorize?state=abc"}
	gen := &mockGen{text: "generated tweet"}
	poster := &mockPoster{id: "99"}
	sched := &mockSched{running: true}
	h := &Handler{Store: ms, Flow: flow, Gen: gen, Poster: poster, Sched: sched, UserID: testUser}
	return h, flow, gen, poster, sched
}

// --- Liveness ---

func TestRoot(t *testing.T) {
	h, _, _, _, _ := newTestHandler(testutil.NewMockStore())
	w := httptest.NewRecorder()
	h.Root(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"running"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

// --- Auth endpoints ---

func TestAuthRedirect(t *testing.T) {
	t.Run("redirects to the authorization URL", func(t *testing.T) {
		h, flow, _, _, _ := newTestHandler(testutil.NewMockStore())
		w := httptest.NewRecorder()
		h.AuthRedirect(w, httptest.NewRequest("GET", "/auth/twitter", nil))

		if w.Code != http.StatusFound {
			t.Fatalf("status = %d, want 302", w.Code)
		}
		if got := w.Header().Get("Location"); got != flow.beginURL {
			t.Errorf("Location = %q, want %q", got, flow.beginURL)
		}
	})

	t.Run("begin failure returns 500", func(t *testing.T) {
		h, flow, _, _, _ := newTestHandler(testutil.NewMockStore())
		flow.beginErr = errors.New("redis down")
		w := httptest.NewRecorder()
		h.AuthRedirect(w, httptest.NewRequest("GET", "/auth/twitter", nil))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", w.Code)
		}
	})
}

func TestOAuthCallback(t *testing.T) {
	t.Run("passes code and state to the flow", func(t *testing.T) {
		h, flow, _, _, _ := newTestHandler(testutil.NewMockStore())
		w := httptest.NewRecorder()
		h.OAuthCallback(w, httptest.NewRequest("GET", "/oauth/callback?code=abc&state=xyz", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
		}
		if flow.completedCode != "abc" || flow.completedState != "xyz" {
			t.Errorf("flow got code=%q state=%q", flow.completedCode, flow.completedState)
		}
	})

	t.Run("success publishes an educational first post in the background", func(t *testing.T) {
		h, _, gen, poster, _ := newTestHandler(testutil.NewMockStore())
		w := httptest.NewRecorder()
		h.OAuthCallback(w, httptest.NewRequest("GET", "/oauth/callback?code=abc&state=xyz", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		waitFor(t, func() bool { return poster.posted() == 1 })
		if _, cat := gen.generated(); cat != content.Educational {
			t.Errorf("first post category = %s, want educational", cat)
		}
	})

	t.Run("failing first post is logged, not surfaced", func(t *testing.T) {
		h, _, _, poster, _ := newTestHandler(testutil.NewMockStore())
		poster.err = errors.New("api down")
		w := httptest.NewRecorder()
		h.OAuthCallback(w, httptest.NewRequest("GET", "/oauth/callback?code=abc&state=xyz", nil))

		// The response is committed before the background attempt resolves;
		// its failure must not change the outcome of the callback.
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 despite failing first post", w.Code)
		}
		waitFor(t, func() bool { return poster.posted() == 1 })
	})

	t.Run("missing code is a 400", func(t *testing.T) {
		h, _, _, _, _ := newTestHandler(testutil.NewMockStore())
		w := httptest.NewRecorder()
		h.OAuthCallback(w, httptest.NewRequest("GET", "/oauth/callback?state=xyz", nil))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("exchange failure is a 500 with detail", func(t *testing.T) {
		h, flow, _, _, _ := newTestHandler(testutil.NewMockStore())
		flow.completeErr = &twitter.AuthError{Op: "exchange", Body: "invalid_grant"}
		w := httptest.NewRecorder()
		h.OAuthCallback(w, httptest.NewRequest("GET", "/oauth/callback?code=bad&state=xyz", nil))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", w.Code)
		}
		var body struct {
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body.Detail == "" {
			t.Errorf("expected detail field, body = %s", w.Body.String())
		}
	})
}

func TestResetAuth(t *testing.T) {
	h, _, _, _, _ := newTestHandler(testutil.NewMockStore())
	w := httptest.NewRecorder()
	h.ResetAuth(w, httptest.NewRequest("POST", "/reset-auth", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "reset") {
		t.Errorf("body = %s", w.Body.String())
	}
}

// --- Posting endpoints ---

func TestPostTweet(t *testing.T) {
	t.Run("generates synchronously and reports the content", func(t *testing.T) {
		h, _, gen, _, _ := newTestHandler(testutil.NewMockStore())
		w := httptest.NewRecorder()
		h.PostTweet(w, httptest.NewRequest("POST", "/post-tweet?content_type=shitposting", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if gen.lastCat != content.Shitposting {
			t.Errorf("category = %s, want shitposting", gen.lastCat)
		}
		var body struct {
			Status  string `json:"status"`
			Content string `json:"content"`
			TaskID  string `json:"task_id"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if body.Content != "generated tweet" || body.TaskID == "" {
			t.Errorf("body = %+v", body)
		}
	})

	t.Run("unknown category falls back to the default", func(t *testing.T) {
		h, _, gen, _, _ := newTestHandler(testutil.NewMockStore())
		w := httptest.NewRecorder()
		h.PostTweet(w, httptest.NewRequest("POST", "/post-tweet?content_type=bogus", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if gen.lastCat != content.DefaultCategory {
			t.Errorf("category = %s, want default", gen.lastCat)
		}
	})

	t.Run("generation failure returns 500 and never posts", func(t *testing.T) {
		h, _, gen, poster, _ := newTestHandler(testutil.NewMockStore())
		gen.err = errors.New("model down")
		w := httptest.NewRecorder()
		h.PostTweet(w, httptest.NewRequest("POST", "/post-tweet", nil))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", w.Code)
		}
		// Background publish must not fire for failed generation.
		time.Sleep(20 * time.Millisecond)
		poster.mu.Lock()
		defer poster.mu.Unlock()
		if poster.calls != 0 {
			t.Error("posted despite generation failure")
		}
	})
}

func TestTestTweet(t *testing.T) {
	t.Run("publishes synchronously and returns id and url", func(t *testing.T) {
		h, _, _, _, _ := newTestHandler(testutil.NewMockStore())
		w := httptest.NewRecorder()
		h.TestTweet(w, httptest.NewRequest("POST", "/test-tweet", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var body struct {
			Status  string `json:"status"`
			TweetID string `json:"tweet_id"`
			URL     string `json:"url"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if body.Status != "posted" || body.TweetID != "99" {
			t.Errorf("body = %+v", body)
		}
		if !strings.Contains(body.URL, "99") {
			t.Errorf("url = %q, want tweet url", body.URL)
		}
	})

	t.Run("rate limit reports rate_limited and arms the scheduler", func(t *testing.T) {
		h, _, _, poster, sched := newTestHandler(testutil.NewMockStore())
		poster.err = &twitter.RateLimitError{StatusCode: 429, Body: "Too Many Requests"}
		w := httptest.NewRecorder()
		h.TestTweet(w, httptest.NewRequest("POST", "/test-tweet", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if !strings.Contains(w.Body.String(), `"rate_limited"`) {
			t.Errorf("body = %s", w.Body.String())
		}
		if sched.handled() != 1 {
			t.Errorf("HandleRateLimit calls = %d, want 1", sched.handled())
		}
	})

	t.Run("no tokens is a 401", func(t *testing.T) {
		h, _, _, poster, _ := newTestHandler(testutil.NewMockStore())
		poster.err = twitter.ErrNoTokens
		w := httptest.NewRecorder()
		h.TestTweet(w, httptest.NewRequest("POST", "/test-tweet", nil))

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
	})
}

// --- Health and status ---

func TestCheckHealth(t *testing.T) {
	t.Run("healthy when redis is reachable", func(t *testing.T) {
		ms := testutil.NewMockStore()
		h, _, _, _, sched := newTestHandler(ms)
		next := time.Date(2025, 3, 10, 12, 0, 0, 0, time.Local)
		sched.next = &next

		w := httptest.NewRecorder()
		h.CheckHealth(w, httptest.NewRequest("GET", "/health", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var body struct {
			Status           string  `json:"status"`
			RedisConnected   bool    `json:"redis_connected"`
			HasTokens        bool    `json:"has_tokens"`
			SchedulerRunning bool    `json:"scheduler_running"`
			NextRun          *string `json:"next_run"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		if body.Status != "healthy" || !body.RedisConnected || !body.SchedulerRunning {
			t.Errorf("body = %+v", body)
		}
		if body.NextRun == nil {
			t.Error("next_run missing")
		}
	})

	t.Run("unhealthy 503 when redis is down", func(t *testing.T) {
		ms := testutil.NewMockStore()
		ms.PingResult = false
		h, _, _, _, _ := newTestHandler(ms)

		w := httptest.NewRecorder()
		h.CheckHealth(w, httptest.NewRequest("GET", "/health", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", w.Code)
		}
		if !strings.Contains(w.Body.String(), `"unhealthy"`) {
			t.Errorf("body = %s", w.Body.String())
		}
	})
}

func TestSchedulerStatus(t *testing.T) {
	h, _, _, _, sched := newTestHandler(testutil.NewMockStore())
	sched.running = false

	w := httptest.NewRecorder()
	h.SchedulerStatus(w, httptest.NewRequest("GET", "/scheduler-status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Running bool    `json:"running"`
		NextRun *string `json:"next_run"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body.Running || body.NextRun != nil {
		t.Errorf("body = %+v", body)
	}
}
