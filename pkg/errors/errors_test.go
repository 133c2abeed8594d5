package errors

import (
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
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "cart is no longer mutable", detailsOK: true},
		{code: CodeInsufficient, status: http.StatusConflict, publicMsg: "insufficient stock", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
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

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatalf("nil error should not be retryable")
	}
	if !IsRetryable(stdErrors.New("socket closed")) {
		t.Fatalf("untyped errors should be retryable")
	}
	if IsRetryable(New(CodeInsufficient, "out of stock")) {
		t.Fatalf("insufficient stock must not be retryable")
	}
	if !IsRetryable(Wrap(CodeDependency, stdErrors.New("timeout"), "send email")) {
		t.Fatalf("dependency errors should be retryable")
	}
	wrapped := fmt.Errorf("handler: %w", New(CodeValidation, "bad payload"))
	if IsRetryable(wrapped) {
		t.Fatalf("wrapped validation errors must not be retryable")
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(stdErrors.New("x")) != CodeInternal {
		t.Fatalf("untyped errors should map to internal")
	}
	err := fmt.Errorf("outer: %w", New(CodeNotFound, "cart"))
	if CodeOf(err) != CodeNotFound {
		t.Fatalf("expected not found, got %s", CodeOf(err))
	}
	if !IsCode(err, CodeNotFound) || IsCode(err, CodeForbidden) {
		t.Fatalf("IsCode mismatch")
	}
}

func TestDumpFields(t *testing.T) {
	cause := fmt.Errorf("query carts: %w", stdErrors.New("connection reset"))
	err := Wrap(CodeDependency, cause, "load cart")

	dump := Dump(err)
	if dump.Code != CodeDependency {
		t.Fatalf("expected dependency code, got %s", dump.Code)
	}
	if !dump.Retryable {
		t.Fatal("dependency errors are retryable")
	}
	if len(dump.Chain) != 3 {
		t.Fatalf("expected three links in the chain, got %v", dump.Chain)
	}

	fields := dump.Fields()
	if fields["error_code"] != CodeDependency {
		t.Fatalf("unexpected error_code field %v", fields["error_code"])
	}
	if _, ok := fields["pg_code"]; ok {
		t.Fatal("pg fields must be omitted without a driver error")
	}
	if Dump(nil).TopMessage != "" {
		t.Fatal("nil error dumps empty")
	}
}
