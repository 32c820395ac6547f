package failure

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew_TransientKindsAreRetryable(t *testing.T) {
	retryable := map[Kind]bool{
		KindConfiguration:     false,
		KindMalformedInput:    false,
		KindAuthPermission:    false,
		KindAuthTransient:     true,
		KindPolicyDeny:        false,
		KindForwardPermission: false,
		KindForwardTransient:  true,
	}
	for kind, want := range retryable {
		if got := New(kind, "x").Retryable; got != want {
			t.Errorf("%s: expected retryable=%v, got %v", kind, want, got)
		}
	}
}

func TestError_MessageIncludesKindAndCause(t *testing.T) {
	err := New(KindForwardTransient, "failed to put event").WithCause(errors.New("timeout"))

	msg := err.Error()
	if !strings.Contains(msg, "[forward_transient]") {
		t.Errorf("expected kind in message, got %q", msg)
	}
	if !strings.HasSuffix(msg, ": timeout") {
		t.Errorf("expected cause in message, got %q", msg)
	}
}

func TestError_UnwrapAndIs(t *testing.T) {
	cause := errors.New("root")
	err := fmt.Errorf("wrapped: %w", MalformedInput("bad body").WithCause(cause))

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
	if !errors.Is(err, MalformedInput("other")) {
		t.Error("expected errors.Is to match on kind")
	}
	if errors.Is(err, Configuration("other")) {
		t.Error("expected errors.Is not to match a different kind")
	}
}

func TestKindHelpers(t *testing.T) {
	err := fmt.Errorf("handler: %w", New(KindAuthPermission, "denied"))

	if KindOf(err) != KindAuthPermission {
		t.Errorf("expected auth_permission, got %q", KindOf(err))
	}
	if !IsKind(err, KindAuthPermission) {
		t.Error("expected IsKind to match")
	}
	if IsKind(nil, "") {
		t.Error("expected nil error not to match any kind")
	}
	if !IsTerminal(err) {
		t.Error("expected auth_permission to be terminal")
	}
	if IsRetryable(err) {
		t.Error("expected auth_permission not to be retryable")
	}
}

func TestIsRetryable_UnclassifiedErrors(t *testing.T) {
	if !IsRetryable(errors.New("boom")) {
		t.Error("expected unclassified error to be retryable")
	}
	if IsRetryable(nil) {
		t.Error("expected nil not to be retryable")
	}
}

func TestIsTerminal_ConfigurationIsSurfaced(t *testing.T) {
	if IsTerminal(Configuration("missing AZURE_CLIENT_ID")) {
		t.Error("expected configuration errors not to be terminal")
	}
}

func TestWithDetail(t *testing.T) {
	err := New(KindForwardPermission, "denied").WithDetail("error_code", "AccessDeniedException")
	if err.Details["error_code"] != "AccessDeniedException" {
		t.Errorf("expected detail to be set, got %v", err.Details)
	}
}
