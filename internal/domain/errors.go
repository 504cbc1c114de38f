// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates malformed input rejected before it reaches a decider.
var ErrValidation = errors.New("validation failed")

// ErrDomainRule indicates a business precondition was violated inside decide.
// The command was well-formed but the aggregate state does not allow it.
var ErrDomainRule = errors.New("domain rule violated")

// ErrConflict indicates an optimistic-lock loss on append: another writer
// advanced the aggregate past the expected version. The command itself was
// valid; the caller should reload and re-run decide.
var ErrConflict = errors.New("conflict: aggregate was modified by another writer")

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Rulef wraps ErrDomainRule with a formatted message.
func Rulef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDomainRule, fmt.Sprintf(format, args...))
}
