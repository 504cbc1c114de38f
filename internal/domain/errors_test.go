package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationf(t *testing.T) {
	err := Validationf("field %q is required", "title")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v", err)
	}
	if want := `validation failed: field "title" is required`; err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}
}

func TestRulef(t *testing.T) {
	err := Rulef("todo %s is archived", "t1")
	if !errors.Is(err, ErrDomainRule) {
		t.Fatalf("err = %v", err)
	}
	if errors.Is(err, ErrValidation) {
		t.Error("rule error matches validation sentinel")
	}
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("append todo/t1 at version 3: %w", ErrConflict)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v", err)
	}
}
