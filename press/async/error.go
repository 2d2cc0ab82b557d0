package async

import (
	"fmt"
	"strings"
)

// Category classifies a job failure for retry decisions
type Category string

const (
	CategoryTransient Category = "transient"
	CategoryPermanent Category = "permanent"
	CategoryResource  Category = "resource"
	CategoryTimeout   Category = "timeout"
	CategoryUnknown   Category = "unknown"
)

// ClassifiedError is the result of classifying a failure. The classifier
// answers "should this be retried, and how aggressively should the next
// attempt be delayed" - it does not itself perform retries.
type ClassifiedError struct {
	Category          Category `json:"category"`
	Retriable         bool     `json:"retriable"`
	OriginalMessage   string   `json:"original_message"`
	NormalizedMessage string   `json:"normalized_message"`
	BackoffMultiplier float64  `json:"backoff_multiplier"`
}

type errorPattern struct {
	substrings []string
	category   Category
	multiplier float64
}

// permanentPatterns are checked first and take precedence over transient
// matches. Any match means the failure will not resolve on retry.
var permanentPatterns = []errorPattern{
	{substrings: []string{"not found", "no such", "does not exist", "404"}, category: CategoryPermanent},
	{substrings: []string{"unauthorized", "forbidden", "permission denied", "access denied", "invalid credentials", "401", "403"}, category: CategoryPermanent},
	{substrings: []string{"validation", "invalid schema", "malformed", "parse error", "unmarshal", "invalid json"}, category: CategoryPermanent},
	{substrings: []string{"missing configuration", "config missing", "not configured", "no runner registered"}, category: CategoryPermanent},
}

// transientPatterns are checked in order. Rate-limit text must come before
// generic retry text so a 429 gets the resource backoff instead of the
// default multiplier.
var transientPatterns = []errorPattern{
	{substrings: []string{"rate limit", "too many requests", "429", "throttle", "throttled"}, category: CategoryResource, multiplier: 2.0},
	{substrings: []string{"out of memory", "disk full", "no space left", "resource exhausted", "quota exceeded"}, category: CategoryResource, multiplier: 2.0},
	{substrings: []string{"timed out", "timeout", "deadline exceeded"}, category: CategoryTimeout, multiplier: 1.0},
	{substrings: []string{"connection reset", "connection refused", "broken pipe", "network", "eof", "no route to host"}, category: CategoryTransient, multiplier: 1.0},
	{substrings: []string{"502", "503", "504", "bad gateway", "service unavailable", "gateway timeout"}, category: CategoryTransient, multiplier: 1.0},
	{substrings: []string{"database is locked", "deadlock", "lock wait", "try again"}, category: CategoryTransient, multiplier: 1.0},
	{substrings: []string{"browser", "renderer crashed", "target closed", "page crashed"}, category: CategoryTransient, multiplier: 1.0},
}

// Classify categorizes an error by matching its message against the ordered
// pattern tables. Unmatched errors default to unknown/retriable - the system
// never silently stops retrying novel errors without an explicit policy
// decision.
func Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{
			Category:          CategoryUnknown,
			Retriable:         false,
			BackoffMultiplier: 1.0,
		}
	}

	msg := err.Error()
	normalized := strings.ToLower(strings.TrimSpace(msg))

	result := ClassifiedError{
		OriginalMessage:   msg,
		NormalizedMessage: normalized,
		BackoffMultiplier: 1.0,
	}

	for _, p := range permanentPatterns {
		if matchesAny(normalized, p.substrings) {
			result.Category = p.category
			result.Retriable = false
			return result
		}
	}

	for _, p := range transientPatterns {
		if matchesAny(normalized, p.substrings) {
			result.Category = p.category
			result.Retriable = true
			result.BackoffMultiplier = p.multiplier
			return result
		}
	}

	// Neither table matched. A timeout-flavored error type (net.Error
	// implementations and friends) is still worth retrying as a timeout.
	if strings.Contains(strings.ToLower(fmt.Sprintf("%T", err)), "timeout") {
		result.Category = CategoryTimeout
		result.Retriable = true
		return result
	}

	result.Category = CategoryUnknown
	result.Retriable = true
	return result
}

// IsRetriable reports whether the error is worth retrying.
func IsRetriable(err error) bool {
	return Classify(err).Retriable
}

// BackoffMultiplier returns the suggested delay multiplier for the next
// retry attempt.
func BackoffMultiplier(err error) float64 {
	return Classify(err).BackoffMultiplier
}

func matchesAny(msg string, substrings []string) bool {
	for _, s := range substrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
