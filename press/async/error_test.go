package async

import (
	"testing"

	"github.com/fathomhq/fathom/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		message       string
		wantCategory  Category
		wantRetriable bool
		wantBackoff   float64
	}{
		{"http 404", "report template: 404 not found", CategoryPermanent, false, 1.0},
		{"missing resource", "no such table: reports", CategoryPermanent, false, 1.0},
		{"auth failure", "401 unauthorized", CategoryPermanent, false, 1.0},
		{"forbidden", "access denied for connection", CategoryPermanent, false, 1.0},
		{"bad payload", "failed to unmarshal template payload", CategoryPermanent, false, 1.0},
		{"missing config", "connection not configured", CategoryPermanent, false, 1.0},
		{"rate limited", "upstream returned 429 too many requests", CategoryResource, true, 2.0},
		{"throttled", "request throttled by provider", CategoryResource, true, 2.0},
		{"oom", "renderer killed: out of memory", CategoryResource, true, 2.0},
		{"disk full", "write failed: no space left on device", CategoryResource, true, 2.0},
		{"timeout", "query timed out after 30s", CategoryTimeout, true, 1.0},
		{"deadline", "context deadline exceeded", CategoryTimeout, true, 1.0},
		{"conn reset", "read tcp: connection reset by peer", CategoryTransient, true, 1.0},
		{"bad gateway", "upstream returned 502 bad gateway", CategoryTransient, true, 1.0},
		{"sqlite busy", "database is locked", CategoryTransient, true, 1.0},
		{"renderer crash", "renderer crashed mid-page", CategoryTransient, true, 1.0},
		{"novel error", "flux capacitor misaligned", CategoryUnknown, true, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(errors.New(tt.message))
			if got.Category != tt.wantCategory {
				t.Errorf("category = %s, want %s", got.Category, tt.wantCategory)
			}
			if got.Retriable != tt.wantRetriable {
				t.Errorf("retriable = %v, want %v", got.Retriable, tt.wantRetriable)
			}
			if got.BackoffMultiplier != tt.wantBackoff {
				t.Errorf("backoff = %f, want %f", got.BackoffMultiplier, tt.wantBackoff)
			}
		})
	}
}

// A message matching both the rate-limit and generic retry tables must take
// the rate-limit classification, including its backoff.
func TestClassifyRateLimitBeforeGenericRetry(t *testing.T) {
	got := Classify(errors.New("429 too many requests, try again later"))
	if got.Category != CategoryResource {
		t.Errorf("category = %s, want %s", got.Category, CategoryResource)
	}
	if got.BackoffMultiplier != 2.0 {
		t.Errorf("backoff = %f, want 2.0", got.BackoffMultiplier)
	}
}

// Permanent matches win over transient matches regardless of table order.
func TestClassifyPermanentWins(t *testing.T) {
	got := Classify(errors.New("404 not found fetching report, connection reset"))
	if got.Category != CategoryPermanent {
		t.Errorf("category = %s, want %s", got.Category, CategoryPermanent)
	}
	if got.Retriable {
		t.Error("permanent errors must not be retriable")
	}
}

func TestClassifyNormalizesMessage(t *testing.T) {
	got := Classify(errors.New("  Connection RESET by peer  "))
	if got.Category != CategoryTransient {
		t.Errorf("category = %s, want %s (case-insensitive match)", got.Category, CategoryTransient)
	}
	if got.NormalizedMessage != "connection reset by peer" {
		t.Errorf("normalized = %q", got.NormalizedMessage)
	}
}

func TestClassifyNil(t *testing.T) {
	got := Classify(nil)
	if got.Category != CategoryUnknown || got.Retriable {
		t.Errorf("Classify(nil) = %+v, want unknown/non-retriable", got)
	}
}

func TestIsRetriable(t *testing.T) {
	if IsRetriable(errors.New("validation failed")) {
		t.Error("validation errors are permanent")
	}
	if !IsRetriable(errors.New("connection refused")) {
		t.Error("network errors are retriable")
	}
}

func TestBackoffMultiplier(t *testing.T) {
	if got := BackoffMultiplier(errors.New("rate limit exceeded")); got != 2.0 {
		t.Errorf("rate limit backoff = %f, want 2.0", got)
	}
	if got := BackoffMultiplier(errors.New("connection refused")); got != 1.0 {
		t.Errorf("transient backoff = %f, want 1.0", got)
	}
}
