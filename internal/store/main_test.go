// main_test.go -- shared Redis fixture for store tests.
//
// Runs against a real Redis (docker run -p 6379:6379 redis). Tests skip when
// none is reachable so the rest of the suite stays runnable offline.
package store

import (
	"context"
	"os"
	"testing"
	"time"
)

// testStore is nil when no Redis is reachable; tests skip via requireRedis.
var testStore *RedisStore

func TestMain(m *testing.M) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		// DB 15 keeps test keys away from any local dev state.
		url = "redis://localhost:6379/15"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	rs, err := NewRedisStore(ctx, url)
	cancel()
	if err == nil {
		testStore = rs
	}

	code := m.Run()
	if testStore != nil {
		testStore.Close()
	}
	os.Exit(code)
}

// requireRedis skips the test when no Redis fixture is available.
func requireRedis(t *testing.T) {
	t.Helper()
	if testStore == nil {
		t.Skip("redis not reachable; set TEST_REDIS_URL or start a local redis")
	}
}
