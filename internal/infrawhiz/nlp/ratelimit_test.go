package nlp_test

import (
	"testing"
	"time"

	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/nlp"
)

func TestRateLimiter_PerKey(t *testing.T) {
	rl := nlp.NewRateLimiter(2, time.Minute)

	if !rl.Allow("conn-a") || !rl.Allow("conn-a") {
		t.Fatal("first two calls should be allowed")
	}
	if rl.Allow("conn-a") {
		t.Fatal("third call should be rejected")
	}
	if rl.Remaining("conn-a") != 0 {
		t.Fatalf("Remaining = %d", rl.Remaining("conn-a"))
	}
	if !rl.Allow("conn-b") {
		t.Fatal("keys must be independent")
	}

	rl.Forget("conn-a")
	if rl.Remaining("conn-a") != 2 {
		t.Fatal("Forget should reset the key")
	}
}

func TestRateLimiter_WindowExpiry(t *testing.T) {
	window := 50 * time.Millisecond
	rl := nlp.NewRateLimiter(1, window)

	if !rl.Allow("conn") {
		t.Fatal("first call should be allowed")
	}
	if rl.Allow("conn") {
		t.Fatal("second call within window should be rejected")
	}
	time.Sleep(window + 20*time.Millisecond)
	if !rl.Allow("conn") {
		t.Error("call after window expiry should be allowed again")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := nlp.NewRateLimiter(0, 0)
	if got := rl.Remaining("x"); got != nlp.DefaultRateLimit {
		t.Fatalf("Remaining = %d, want %d", got, nlp.DefaultRateLimit)
	}
}
