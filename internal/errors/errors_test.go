package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestFactoryFunctionsSetKindAndMessage(t *testing.T) {
	cause := stderrors.New("boom")

	cases := []struct {
		name string
		err  *ExtractionError
		kind Kind
	}{
		{"validation", NewValidationError("req-1", "bad input", cause), KindValidation},
		{"parse", NewParseError("req-1", cause), KindParse},
		{"llm", NewLLMError("req-1", 2, cause), KindLLM},
		{"persistence", NewPersistenceError("req-1", "template list", cause), KindPersistence},
		{"internal", NewInternalError("req-1", "decode failed", cause), KindInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Kind != tc.kind {
				t.Errorf("Kind = %q, want %q", tc.err.Kind, tc.kind)
			}
			if tc.err.RequestID != "req-1" {
				t.Errorf("RequestID = %q, want req-1", tc.err.RequestID)
			}
			if tc.err.Cause != cause {
				t.Errorf("Cause = %v, want %v", tc.err.Cause, cause)
			}
			if tc.err.Message == "" {
				t.Error("Message must not be empty")
			}
		})
	}
}

func TestLLMErrorPluralisesRetryCount(t *testing.T) {
	one := NewLLMError("", 1, nil)
	if want := "LLM extraction failed after 1 retry"; one.Message != want {
		t.Errorf("Message = %q, want %q", one.Message, want)
	}
	many := NewLLMError("", 3, nil)
	if want := "LLM extraction failed after 3 retries"; many.Message != want {
		t.Errorf("Message = %q, want %q", many.Message, want)
	}
}

func TestErrorStringIncludesCauseOnlyWhenPresent(t *testing.T) {
	withoutCause := NewValidationError("", "label must not be empty", nil)
	if got := withoutCause.Error(); got != "validation: label must not be empty" {
		t.Errorf("Error() = %q", got)
	}

	cause := stderrors.New("disk full")
	withCause := NewPersistenceError("", "template upsert", cause)
	got := withCause.Error()
	if !strings.Contains(got, "persistence:") || !strings.Contains(got, "disk full") {
		t.Errorf("Error() = %q, want it to mention kind and cause", got)
	}
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := stderrors.New("root cause")
	err := NewInternalError("", "something broke", cause)

	if got := stderrors.Unwrap(err); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}

	noCause := NewInternalError("", "something broke", nil)
	if got := stderrors.Unwrap(noCause); got != nil {
		t.Errorf("Unwrap() = %v, want nil", got)
	}
}

func TestToMapIncludesDetailsRequestIDAndCause(t *testing.T) {
	cause := stderrors.New("timeout")
	err := NewLLMError("req-42", 2, cause)

	m := err.ToMap()
	if m["kind"] != string(KindLLM) {
		t.Errorf("kind = %v, want %v", m["kind"], KindLLM)
	}
	if m["request_id"] != "req-42" {
		t.Errorf("request_id = %v, want req-42", m["request_id"])
	}
	if m["retries"] != 2 {
		t.Errorf("retries = %v, want 2", m["retries"])
	}
	if m["cause"] != "timeout" {
		t.Errorf("cause = %v, want timeout", m["cause"])
	}
	if _, ok := m["timestamp"]; !ok {
		t.Error("ToMap() missing timestamp")
	}
}

func TestToMapOmitsRequestIDWhenEmpty(t *testing.T) {
	m := NewValidationError("", "bad input", nil).ToMap()
	if _, ok := m["request_id"]; ok {
		t.Error("ToMap() should omit request_id when it is empty")
	}
	if _, ok := m["cause"]; ok {
		t.Error("ToMap() should omit cause when there is none")
	}
}

func TestIsMatchesKindOfExtractionError(t *testing.T) {
	err := NewPersistenceError("", "template list", nil)
	if !Is(err, KindPersistence) {
		t.Error("Is() = false, want true for matching kind")
	}
	if Is(err, KindInternal) {
		t.Error("Is() = true, want false for non-matching kind")
	}
}

func TestIsUnwrapsWrappedExtractionError(t *testing.T) {
	inner := NewPersistenceError("", "template list", nil)
	wrapped := fmtErrorf(inner)

	if !Is(wrapped, KindPersistence) {
		t.Error("Is() should see through wrapping via errors.As")
	}
}

func TestIsFalseForPlainError(t *testing.T) {
	if Is(stderrors.New("plain"), KindPersistence) {
		t.Error("Is() = true for a plain error, want false")
	}
	if Is(nil, KindPersistence) {
		t.Error("Is() = true for nil, want false")
	}
}

func fmtErrorf(cause *ExtractionError) error {
	return &wrapper{cause: cause}
}

type wrapper struct{ cause error }

func (w *wrapper) Error() string { return "wrapped: " + w.cause.Error() }
func (w *wrapper) Unwrap() error { return w.cause }
