package util

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"simbroker/internal/domain"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	got, err := Retry(context.Background(), 5, 0, func() (int, error) {
		attempts++
		if attempts < targetAttempts {
			return 0, errors.New("transient error")
		}
		return 42, nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("Retry result = %d, want 42", got)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	_, err := Retry(context.Background(), maxAttempts, 0, func() (string, error) {
		attempts++
		return "", errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	_, err := Retry(ctx, 10, time.Hour, func() (struct{}, error) {
		attempts++
		cancel()
		return struct{}{}, errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	if w := rl.take(); w != 0 {
		t.Fatalf("first take waited %s", w)
	}
	if w := rl.take(); w != 0 {
		t.Fatalf("second take waited %s", w)
	}
	w := rl.take()
	if w <= 0 || w > time.Second {
		t.Errorf("third take wait = %s, want (0, 1s]", w)
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Wait error = %v, want deadline exceeded", err)
	}
}

func TestTradingCalendarSessions(t *testing.T) {
	us := NewTradingCalendar(domain.MarketUS)

	// Winter (EST) and summer (EDT) closes in UTC.
	winter := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	if got, want := us.SessionEnd(winter).UTC(), time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("SessionEnd(winter) = %s, want %s", got, want)
	}
	summer := time.Date(2024, 7, 1, 15, 0, 0, 0, time.UTC)
	if got, want := us.SessionEnd(summer).UTC(), time.Date(2024, 7, 1, 20, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("SessionEnd(summer) = %s, want %s", got, want)
	}
	if !us.IsMarketOpen(winter) {
		t.Error("US market should be open at 10:00 New York on a Friday")
	}

	saturday := time.Date(2024, 3, 2, 15, 0, 0, 0, time.UTC)
	if us.IsTradingDay(saturday) {
		t.Error("Saturday reported as a trading day")
	}
	if got, want := us.NextOpen(saturday).UTC(), time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("NextOpen(saturday) = %s, want %s", got, want)
	}

	cn := NewTradingCalendar(domain.MarketCN)
	if got, want := cn.SessionEnd(winter).UTC(), time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("CN SessionEnd = %s, want %s", got, want)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("warn", "json", &buf)
	log.Info("hidden")
	log.Warn("shown", "k", 1)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":1`) {
		t.Errorf("json output = %s", out)
	}

	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("bogus") != slog.LevelInfo {
		t.Error("ParseLevel mapping wrong")
	}
}
