package resolver

import (
	"context"
	"errors"
	"regexp"
)

// ErrorType categorizes resolver errors for logs, metrics and the
// short notice sent to the user.
type ErrorType string

const (
	ErrorTypeUnknown    ErrorType = "unknown"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeOverloaded ErrorType = "overloaded"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeBilling    ErrorType = "billing"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeCanceled   ErrorType = "canceled"
)

var (
	rateLimitRE  = regexp.MustCompile(`(?i)rate.?limit|too many requests|\b429\b`)
	overloadedRE = regexp.MustCompile(`(?i)overloaded|\b529\b|\b503\b|service unavailable`)
	authRE       = regexp.MustCompile(`(?i)\b401\b|\b403\b|unauthorized|invalid.*api.?key|authentication`)
	billingRE    = regexp.MustCompile(`(?i)\b402\b|billing|credit balance|insufficient.?quota`)
	timeoutRE    = regexp.MustCompile(`(?i)timed? ?out|deadline exceeded`)
)

// Classify maps an error from any provider to an ErrorType.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorTypeCanceled
	}

	msg := err.Error()
	switch {
	case billingRE.MatchString(msg):
		return ErrorTypeBilling
	case rateLimitRE.MatchString(msg):
		return ErrorTypeRateLimit
	case overloadedRE.MatchString(msg):
		return ErrorTypeOverloaded
	case authRE.MatchString(msg):
		return ErrorTypeAuth
	case timeoutRE.MatchString(msg):
		return ErrorTypeTimeout
	}
	return ErrorTypeUnknown
}
