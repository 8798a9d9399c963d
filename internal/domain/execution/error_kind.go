package execution

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"regexp"
	"strings"
)

// ErrorKind is the closed set of executor failure classes
type ErrorKind string

const (
	ErrorKindTransient     ErrorKind = "transient"     // Network, timeout, rate limit; retried with backoff
	ErrorKindPermanent     ErrorKind = "permanent"     // Code or data defect; needs a fix and reset-phase
	ErrorKindDependency    ErrorKind = "dependency"    // Blocked on an upstream phase
	ErrorKindConfiguration ErrorKind = "configuration" // Missing or invalid settings
	ErrorKindUnknown       ErrorKind = "unknown"       // Fallback, not retried
)

// String returns the string representation of the kind
func (k ErrorKind) String() string {
	return string(k)
}

// IsRetryable returns true only for transient errors
func (k ErrorKind) IsRetryable() bool {
	return k == ErrorKindTransient
}

// KindError attaches an explicit ErrorKind to an error.
// Executors that know why they failed should return one of these instead of
// relying on message matching.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// ErrorKind implements the structured classification hook
func (e *KindError) ErrorKind() ErrorKind {
	return e.Kind
}

// WithKind wraps err with an explicit kind
func WithKind(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// Transientf builds a transient error
func Transientf(format string, args ...interface{}) error {
	return WithKind(ErrorKindTransient, fmt.Errorf(format, args...))
}

// Permanentf builds a permanent error
func Permanentf(format string, args ...interface{}) error {
	return WithKind(ErrorKindPermanent, fmt.Errorf(format, args...))
}

// Configurationf builds a configuration error
func Configurationf(format string, args ...interface{}) error {
	return WithKind(ErrorKindConfiguration, fmt.Errorf(format, args...))
}

type kinded interface {
	ErrorKind() ErrorKind
}

// Keyword tables for unstructured errors, checked in declaration order.
var (
	transientKeywords = []string{
		"timeout", "timed out", "deadline exceeded",
		"connection reset", "connection refused", "broken pipe",
		"bad gateway", "service unavailable", "gateway timeout",
		"rate limit", "rate-limit", "ratelimit", "too many requests",
		"temporarily unavailable", "try again later",
	}
	transientCodes = regexp.MustCompile(`\b(429|502|503|504)\b`)

	permanentKeywords = []string{
		"typeerror", "type error", "attributeerror", "attribute error",
		"keyerror", "key error", "valueerror", "value error",
		"no such file", "file not found", "missing file",
		"permission denied", "unauthorized", "forbidden",
	}
	permanentCodes = regexp.MustCompile(`\b(401|403|404)\b`)

	dependencyKeywords = []string{
		"dependency", "dependencies", "prerequisite", "upstream phase",
	}

	configurationKeywords = []string{
		"config", "environment", "env var", "missing", "invalid", "not set",
	}
)

// Classify maps err to an ErrorKind. Structured signals (an ErrorKind() method
// anywhere in the chain, context deadlines, net timeouts, fs sentinel errors)
// win; the keyword tables are a best-effort fallback for opaque errors.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}

	var k kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTransient
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return ErrorKindPermanent
	}

	return classifyText(fmt.Sprintf("%T: %v", err, err))
}

func classifyText(text string) ErrorKind {
	lowered := strings.ToLower(text)

	if containsAny(lowered, transientKeywords) || transientCodes.MatchString(lowered) {
		return ErrorKindTransient
	}
	if containsAny(lowered, permanentKeywords) || permanentCodes.MatchString(lowered) {
		return ErrorKindPermanent
	}
	if containsAny(lowered, dependencyKeywords) {
		return ErrorKindDependency
	}
	if containsAny(lowered, configurationKeywords) {
		return ErrorKindConfiguration
	}
	return ErrorKindUnknown
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
