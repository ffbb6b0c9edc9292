package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesMetadataAndCause(t *testing.T) {
	err := New(
		"feed/messages",
		CodeUnavailable,
		WithHTTP(503),
		WithMessage("page request failed"),
		WithField("skip", "40"),
		WithField("limit", "20"),
		WithField("  ", "ignored"),
		WithRemediation("retry load more"),
		WithCause(errors.New("upstream 503")),
	)

	out := err.Error()
	if !strings.Contains(out, "component=feed/messages") {
		t.Fatalf("expected component marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=unavailable") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "http=503") {
		t.Fatalf("expected http status in error string: %s", out)
	}
	expectedMeta := "meta=limit=\"20\",skip=\"40\""
	if !strings.Contains(out, expectedMeta) {
		t.Fatalf("expected metadata %q in error string: %s", expectedMeta, out)
	}
	if !strings.Contains(out, "remediation=\"retry load more\"") {
		t.Fatalf("expected remediation guidance in error string: %s", out)
	}
	if !strings.Contains(out, "cause=\"upstream 503\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestIsMatchesWrappedEnvelope(t *testing.T) {
	base := New("stream", CodeExhausted, WithMessage("connection failed after multiple attempts"))
	wrapped := fmt.Errorf("dashboard: %w", base)

	if !Is(wrapped, CodeExhausted) {
		t.Fatalf("expected wrapped envelope to match code")
	}
	if Is(wrapped, CodeNetwork) {
		t.Fatalf("expected mismatched code to be rejected")
	}
	if Is(errors.New("plain"), CodeNetwork) {
		t.Fatalf("plain errors carry no code")
	}
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("dial refused")
	err := New("stream", CodeNetwork, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through errors.Is")
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}

func TestCodeOf(t *testing.T) {
	code, ok := CodeOf(fmt.Errorf("load: %w", New("api", CodeUnavailable, WithHTTP(503))))
	if !ok || code != CodeUnavailable {
		t.Fatalf("expected unavailable code, got %q (%v)", code, ok)
	}
	if _, ok := CodeOf(errors.New("plain")); ok {
		t.Fatalf("plain errors carry no code")
	}
}
