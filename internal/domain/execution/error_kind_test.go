package execution

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o stalled" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	_, missingFileErr := os.Open(filepath.Join(t.TempDir(), "nope.json"))

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"connection timeout", errors.New("connection timeout while calling API"), ErrorKindTransient},
		{"connection refused", errors.New("dial tcp 127.0.0.1:443: connect: connection refused"), ErrorKindTransient},
		{"http 503", errors.New("upstream returned HTTP 503"), ErrorKindTransient},
		{"rate limit", errors.New("Rate limit exceeded, slow down"), ErrorKindTransient},
		{"context deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ErrorKindTransient},
		{"net timeout", fmt.Errorf("read: %w", timeoutErr{}), ErrorKindTransient},
		{"missing file structured", missingFileErr, ErrorKindPermanent},
		{"missing file text", errors.New("missing file: report.json"), ErrorKindPermanent},
		{"permission denied", errors.New("open /etc/shadow: permission denied"), ErrorKindPermanent},
		{"http 404", errors.New("GET /repo returned 404"), ErrorKindPermanent},
		{"key error", errors.New("KeyError: 'name'"), ErrorKindPermanent},
		{"dependency", errors.New("prerequisite phase 2 has not produced output"), ErrorKindDependency},
		{"configuration", errors.New("API_TOKEN environment variable not set"), ErrorKindConfiguration},
		{"unknown", errors.New("something odd happened"), ErrorKindUnknown},
		{"nil", nil, ErrorKindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyPrefersStructuredKind(t *testing.T) {
	// The message reads transient, but the executor said permanent.
	err := fmt.Errorf("phase 4: %w", WithKind(ErrorKindPermanent, errors.New("timeout budget misconfigured in code")))
	if got := Classify(err); got != ErrorKindPermanent {
		t.Errorf("Classify = %s, want permanent", got)
	}

	if got := Classify(Configurationf("no token")); got != ErrorKindConfiguration {
		t.Errorf("Classify = %s, want configuration", got)
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	// Transient keywords are checked before permanent and configuration ones.
	err := errors.New("invalid response: 502 bad gateway")
	if got := Classify(err); got != ErrorKindTransient {
		t.Errorf("Classify = %s, want transient", got)
	}
}

func TestErrorKindIsRetryable(t *testing.T) {
	for _, k := range []ErrorKind{ErrorKindPermanent, ErrorKindDependency, ErrorKindConfiguration, ErrorKindUnknown} {
		if k.IsRetryable() {
			t.Errorf("%s should not be retryable", k)
		}
	}
	if !ErrorKindTransient.IsRetryable() {
		t.Error("transient should be retryable")
	}
}

func TestWithKindNil(t *testing.T) {
	if WithKind(ErrorKindTransient, nil) != nil {
		t.Error("WithKind(nil) should be nil")
	}
}
