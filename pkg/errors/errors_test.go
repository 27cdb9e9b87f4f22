package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestInvariantMatchesBothSentinels(t *testing.T) {
	err := Invariant(ErrNegativeDocID, "subject", "foo", -3, "doc id below zero")
	if !errors.Is(err, ErrNegativeDocID) {
		t.Errorf("expected ErrNegativeDocID to match")
	}
	if !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("expected ErrInvariantViolation to match")
	}
	if errors.Is(err, ErrDuplicateRecord) {
		t.Errorf("did not expect ErrDuplicateRecord to match")
	}
}

func TestIndexErrorMessageNamesContext(t *testing.T) {
	err := Invariant(ErrDuplicateRecord, "object", "o1", 42, "seen twice")
	msg := err.Error()
	for _, want := range []string{"duplicate occurrence record", `field="object"`, `term="o1"`, "doc=42", "seen twice"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}

	noDoc := New(ErrOutputExists, "subject", "", NoDoc, "/tmp/x")
	if strings.Contains(noDoc.Error(), "doc=") {
		t.Errorf("unexpected doc in %q", noDoc.Error())
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"malformed", fmt.Errorf("decoding line 3: %w", ErrMalformedDocument), false},
		{"invariant", Invariant(ErrUnexpectedKind, "f", "t", 1, "x"), true},
		{"resource", New(ErrOutputExists, "f", "", NoDoc, "x"), true},
		{"plain", errors.New("boom"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{fmt.Errorf("load: %w", ErrInvalidConfig), ExitConfig},
		{Invariant(ErrNegativeDocID, "", "", -1, ""), ExitInvariant},
		{New(ErrUnknownField, "x", "", NoDoc, ""), ExitInvariant},
		{New(ErrOutputExists, "x", "", NoDoc, ""), ExitResource},
		{fmt.Errorf("%w: 12 of 40", ErrTooManyMalformed), ExitData},
		{errors.New("other"), ExitInternal},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
