// scheduler.go -- timer-driven posting job with rate-limit backoff.
//
// One named recurring job fires at fixed local times of day, generates
// content for an hour-derived category, and publishes it. A rate-limited
// attempt suspends the job for at least 24h; the resume time is persisted
// before the in-memory reschedule so a restart picks the backoff up again.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cityfarmers/growbot/internal/content"
	"github.com/cityfarmers/growbot/internal/store"
	"github.com/cityfarmers/growbot/internal/twitter"
)

// slotHours are the fixed daily fire times (minute 0, local civil time).
var slotHours = []int{9, 12, 14, 16, 19}

// rotation maps fire hours to categories via hour % len(rotation).
// Deterministic and stateless: the same slot always gets the same category.
var rotation = []content.Category{content.Educational, content.Decentralized, content.Shitposting}

// Generator produces tweet text for a category. Satisfied by *content.Generator.
type Generator interface {
	Generate(ctx context.Context, category content.Category) (string, error)
}

// Poster publishes a tweet. Satisfied by *twitter.Client.
type Poster interface {
	Post(ctx context.Context, text string) (string, error)
}

// StateStore persists the rate-limit resume marker. Satisfied by *store.RedisStore.
type StateStore interface {
	GetRateLimit(ctx context.Context) (time.Time, error)
	StoreRateLimit(ctx context.Context, resumeAt time.Time) error
}

// Scheduler owns the single recurring posting job.
type Scheduler struct {
	gen    Generator
	poster Poster
	store  StateStore

	// now is the clock; overridable in tests.
	now func() time.Time

	mu      sync.Mutex
	running bool
	next    time.Time // zero when no fire is scheduled
	cancel  context.CancelFunc
	done    chan struct{}
	// wake nudges the loop after HandleRateLimit replaces the schedule.
	wake chan struct{}
}

// New returns a stopped Scheduler.
func New(gen Generator, poster Poster, st StateStore) *Scheduler {
	return &Scheduler{
		gen:    gen,
		poster: poster,
		store:  st,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
}

// Start installs the job and launches the timer loop. If a persisted resume
// threshold lies in the future, the first fire is the first daily slot at or
// after it; otherwise the next daily slot after now. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	now := s.now()
	first := nextSlotAfter(now)

	resumeAt, err := s.store.GetRateLimit(ctx)
	switch {
	case err == nil && resumeAt.After(now):
		first = slotAtOrAfter(resumeAt)
		slog.Info("scheduler resuming from persisted rate limit", "resume_at", resumeAt, "first_fire", first)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		// Degraded start: without the marker we may fire early once, which
		// the platform will answer with another 429.
		slog.Warn("could not read rate limit state, starting on normal schedule", "error", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.next = first
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx)
	slog.Info("scheduler started", "next_fire", first)
}

// loop waits for the next fire time, runs the job, and advances the schedule.
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	for {
		s.mu.Lock()
		next := s.next
		s.mu.Unlock()

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			// Schedule replaced; recompute the wait.
			timer.Stop()
			continue
		case <-timer.C:
		}

		s.fire(ctx, next)
	}
}

// fire runs one scheduled post for the slot that just elapsed.
//
// A rate-limit error replaces the schedule with the backoff slot. Any other
// error leaves the schedule untouched: the next daily slot is unaffected and
// transient failures self-heal there.
func (s *Scheduler) fire(ctx context.Context, slot time.Time) {
	category := rotation[slot.Hour()%len(rotation)]
	slog.Info("running scheduled post", "slot", slot, "category", category)

	fireCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	text, err := s.gen.Generate(fireCtx, category)
	if err != nil {
		slog.Error("scheduled post: generation failed", "category", category, "error", err)
		s.advance(slot)
		return
	}

	id, err := s.poster.Post(fireCtx, text)
	var rateErr *twitter.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		slog.Warn("scheduled post rate limited, backing off", "status", rateErr.StatusCode)
		s.rescheduleAfterRateLimit(fireCtx, s.now())
	case err != nil:
		slog.Error("scheduled post failed", "category", category, "error", err)
		s.advance(slot)
	default:
		slog.Info("scheduled post published", "category", category,
			"tweet_id", id, "url", twitter.TweetURL(id))
		s.advance(slot)
	}
}

// advance moves the schedule to the next daily slot after the one that fired,
// unless a rate-limit reschedule already pushed it further out.
func (s *Scheduler) advance(fired time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next.After(fired) {
		return
	}
	s.next = nextSlotAfter(fired)
	slog.Info("next scheduled post", "next_fire", s.next)
}

// HandleRateLimit applies the rate-limit backoff from outside the job, e.g.
// when a manual post endpoint hits the platform limit. Same reschedule
// behavior as a rate-limited scheduled fire.
func (s *Scheduler) HandleRateLimit(ctx context.Context) {
	s.rescheduleAfterRateLimit(ctx, s.now())
}

// rescheduleAfterRateLimit suspends the job until the first daily slot
// strictly after now+24h. The resume time is persisted before the in-memory
// schedule is replaced, so a crash between the two cannot shorten the backoff.
func (s *Scheduler) rescheduleAfterRateLimit(ctx context.Context, now time.Time) {
	threshold := now.Add(24 * time.Hour)
	resume := nextSlotAfter(threshold)

	if err := s.store.StoreRateLimit(ctx, resume); err != nil {
		// The in-memory backoff still applies; only restart recovery is lost.
		slog.Error("failed to persist rate limit state", "error", err)
	}

	s.mu.Lock()
	s.next = resume
	s.mu.Unlock()
	// Replace, never duplicate: the loop re-reads next on wake.
	select {
	case s.wake <- struct{}{}:
	default:
	}

	slog.Warn("posting suspended for rate limit", "resume_at", resume)
}

// Status reports whether the loop is running and the next fire time, if any.
func (s *Scheduler) Status() (running bool, next *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false, nil
	}
	n := s.next
	return true, &n
}

// Shutdown stops the timer loop only when no future fire is scheduled.
// While a fire is pending this is a no-op: the schedule survives process
// restarts through persisted state, not through keeping the process alive.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	if s.next.After(s.now()) {
		s.mu.Unlock()
		slog.Info("scheduler shutdown deferred, job still scheduled", "next_fire", s.next)
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	slog.Info("scheduler stopped")
}

// nextSlotAfter returns the earliest daily slot strictly after t.
func nextSlotAfter(t time.Time) time.Time {
	return findSlot(t, func(candidate time.Time) bool { return candidate.After(t) })
}

// slotAtOrAfter returns the earliest daily slot no earlier than t.
func slotAtOrAfter(t time.Time) time.Time {
	return findSlot(t, func(candidate time.Time) bool { return !candidate.Before(t) })
}

func findSlot(t time.Time, ok func(time.Time) bool) time.Time {
	year, month, day := t.Date()
	for offset := 0; ; offset++ {
		for _, hour := range slotHours {
			candidate := time.Date(year, month, day+offset, hour, 0, 0, 0, t.Location())
			if ok(candidate) {
				return candidate
			}
		}
	}
}
