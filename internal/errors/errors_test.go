package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestNewCarriesCodeDefaults(t *testing.T) {
	err := New(CodeNetworkTransient, "registry", "upstream timed out", nil)
	if err.Code != CodeNetworkTransient {
		t.Fatalf("expected code %s, got %s", CodeNetworkTransient, err.Code)
	}
	if !err.Retryable {
		t.Fatalf("network_transient should default to retryable")
	}
	if err.Severity != SeverityMedium {
		t.Fatalf("expected medium severity, got %v", err.Severity)
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := New(CodeNetworkTransient, "osv", "query failed", cause)
	msg := err.Error()
	if msg == "" {
		t.Fatalf("expected a non-empty error message")
	}
	if !strings.Contains(msg, "connection reset") {
		t.Fatalf("expected message to include cause, got %q", msg)
	}
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("root cause")
	err := New(CodeInternal, "x", "wrapped", cause)
	if errors.Unwrap(err) != cause {
		t.Fatalf("expected Unwrap to return the original cause")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(errors.New("plain error")) {
		t.Fatalf("a plain error should never be retryable")
	}
	if !IsRetryable(New(CodeNetworkTransient, "x", "y", nil)) {
		t.Fatalf("network_transient should be retryable")
	}
	if IsRetryable(New(CodeNotFound, "x", "y", nil)) {
		t.Fatalf("not_found should not be retryable")
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(New(CodeNotFound, "x", "y", nil)) != CodeNotFound {
		t.Fatalf("expected CodeOf to extract the Rich error's code")
	}
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Fatalf("expected CodeOf to default to internal for non-Rich errors")
	}
}

func TestWithAttachesFields(t *testing.T) {
	err := New(CodeInputValidation, "manifest", "bad field", nil).With("field", "version")
	if err.Fields["field"] != "version" {
		t.Fatalf("expected attached field to be retrievable")
	}
}
