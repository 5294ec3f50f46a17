package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeRateLimit, status: http.StatusTooManyRequests, publicMsg: "rate limit exceeded", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
		{code: CodePaymentDeclined, status: http.StatusPaymentRequired, publicMsg: "payment declined", detailsOK: true},
		{code: CodeAuthorizationExpired, status: http.StatusUnprocessableEntity, publicMsg: "payment authorization expired", detailsOK: true},
		{code: CodeInvariant, status: http.StatusInternalServerError, publicMsg: "internal server error"},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
	if got := As(fmt.Errorf("outer: %w", wrapped)); got == nil || got.Code() != CodeConflict {
		t.Fatalf("As failed through fmt wrapping")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":        {err: nil, want: false},
		"deadline":   {err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: true},
		"dependency": {err: New(CodeDependency, "gateway 503"), want: true},
		"rate limit": {err: New(CodeRateLimit, "slow down"), want: true},
		"declined":   {err: New(CodePaymentDeclined, "card declined"), want: false},
		"expired":    {err: New(CodeAuthorizationExpired, "hold expired"), want: false},
		"untyped":    {err: stdErrors.New("plain"), want: false},
	}
	for name, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v got %v", name, tc.want, got)
		}
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(stdErrors.New("x")) != CodeInternal {
		t.Fatalf("untyped errors should map to internal")
	}
	if !IsCode(New(CodeStateConflict, "no"), CodeStateConflict) {
		t.Fatalf("expected state conflict")
	}
}

func TestIsCodeSearchesNestedErrors(t *testing.T) {
	inner := New(CodePaymentDeclined, "card declined")
	outer := Wrap(CodeDependency, fmt.Errorf("authorize: %w", inner), "gateway call failed")
	if !IsCode(outer, CodePaymentDeclined) {
		t.Fatalf("expected nested code to be found")
	}
	if !IsCode(outer, CodeDependency) {
		t.Fatalf("expected outer code to be found")
	}
	if IsCode(outer, CodeNotFound) {
		t.Fatalf("unexpected match")
	}
	if CodeOf(outer) != CodeDependency {
		t.Fatalf("CodeOf should report the outermost code")
	}
}

func TestWithDetailsCopies(t *testing.T) {
	base := New(CodeValidation, "bad line")
	detailed := base.WithDetails(map[string]any{"line": 2})
	if base.Details() != nil {
		t.Fatalf("base error mutated")
	}
	if detailed.Details() == nil || detailed.Code() != CodeValidation {
		t.Fatalf("details lost")
	}
}

func TestErrorString(t *testing.T) {
	if got := New(CodeNotFound, "order").Error(); got != "NOT_FOUND: order" {
		t.Fatalf("unexpected %q", got)
	}
	if got := Wrap(CodeDependency, stdErrors.New("eof"), "redis").Error(); got != "DEPENDENCY_ERROR: redis: eof" {
		t.Fatalf("unexpected %q", got)
	}
}
