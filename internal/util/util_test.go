package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"evalgate/internal/domain"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryPermanent(t *testing.T) {
	sentinel := errors.New("bad request")
	attempts := 0
	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Retry error = %v, want %v", err, sentinel)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times for a permanent error, want 1", attempts)
	}
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewBurstRateLimiter(1, 2)
	if !rl.Allow() || !rl.Allow() {
		t.Fatal("expected two burst tokens")
	}
	if rl.Allow() {
		t.Error("third Allow should fail before refill")
	}

	unlimited := NewRateLimiter(0)
	for i := 0; i < 10; i++ {
		if !unlimited.Allow() {
			t.Fatal("limiter with rate 0 should never block")
		}
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(1)
	rl.Allow()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait error = %v, want deadline exceeded", err)
	}
}

func TestTradingCalendar(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketUS, "2024-07-04")

	fri := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	mon := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	if cal.IsTradingDay(time.Date(2024, 6, 29, 0, 0, 0, 0, time.UTC)) {
		t.Error("Saturday should be closed")
	}
	if got := cal.MissingSessions(fri, mon); got != 0 {
		t.Errorf("MissingSessions(Fri, Mon) = %d, want 0", got)
	}
	if got := cal.NextTradingDay(fri); !got.Equal(mon) {
		t.Errorf("NextTradingDay(Fri) = %v, want %v", got, mon)
	}

	// Jul 3 -> Jul 8 skips the Jul 4 holiday and the weekend; only Jul 5 is missing.
	a := time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC)
	b := time.Date(2024, 7, 8, 0, 0, 0, 0, time.UTC)
	if got := cal.MissingSessions(a, b); got != 1 {
		t.Errorf("MissingSessions across holiday = %d, want 1", got)
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "warn", "text")
	log.Info("hidden")
	log.Warn("shown", "k", 1)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "k=1") {
		t.Errorf("text handler output = %q, want key=value pairs", out)
	}
	if ParseLevel("debug") != slog.LevelDebug || ParseLevel("nope") != slog.LevelInfo {
		t.Error("ParseLevel mapping is wrong")
	}
}
