/*
errors.go - Error taxonomy for the limit engine

PURPOSE:
  All engine error types in one place. Callers translate validation errors
  into user-facing messages; internal errors are never shown to end users.

ERROR CATEGORIES:
  1. Validation errors - rejected input, never retried automatically
  2. Not-found - benign during rollover/expire/delete, surfaced elsewhere
  3. Persistence errors - wrapped storage failures

USAGE:
  if errors.Is(err, limits.ErrDuplicateTitle) {
      // tell the user to pick another title
  }

SEE ALSO:
  - engine.go: Where these are returned
*/
package limits

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateTitle is returned when a user already has a limit with the
	// same title. The existing row is left unmodified.
	ErrDuplicateTitle = errors.New("limit title already exists for user")

	// ErrPeriodNotFound is returned when a period id does not resolve in the
	// catalog.
	ErrPeriodNotFound = errors.New("period not found")

	// ErrSubcategoryNotFound is returned when a referenced subcategory does
	// not exist.
	ErrSubcategoryNotFound = errors.New("subcategory not found")

	// ErrUserNotFound is returned when the owner user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrNegativeAmount is returned for zero or negative money values.
	ErrNegativeAmount = errors.New("amount must be positive")

	// ErrFutureEventTime is returned when an expense is dated in the future.
	ErrFutureEventTime = errors.New("event time must not be in the future")

	// ErrNoSubcategories is returned when a limit is created without any
	// subcategories to monitor.
	ErrNoSubcategories = errors.New("limit requires at least one subcategory")

	// ErrLimitNotFound is returned by reads that require an existing limit.
	// Rollover, expire and delete treat an absent limit as a no-op instead.
	ErrLimitNotFound = errors.New("expense limit not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicateTitleError reports which title collided.
type DuplicateTitleError struct {
	UserID int64
	Title  string
}

func (e *DuplicateTitleError) Error() string {
	return fmt.Sprintf("user %d already has a limit titled %q", e.UserID, e.Title)
}

func (e *DuplicateTitleError) Unwrap() error { return ErrDuplicateTitle }

// UnknownSubcategoryError reports which subcategory id failed to resolve.
type UnknownSubcategoryError struct {
	SubcategoryID int64
}

func (e *UnknownSubcategoryError) Error() string {
	return fmt.Sprintf("subcategory %d does not exist", e.SubcategoryID)
}

func (e *UnknownSubcategoryError) Unwrap() error { return ErrSubcategoryNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true for errors caused by invalid caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrDuplicateTitle) ||
		errors.Is(err, ErrPeriodNotFound) ||
		errors.Is(err, ErrSubcategoryNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrNegativeAmount) ||
		errors.Is(err, ErrFutureEventTime) ||
		errors.Is(err, ErrNoSubcategories)
}

// IsNotFound returns true if the error indicates a missing limit resource.
// A bad reference inside a request body (unknown user, period, subcategory)
// is a validation error, not a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLimitNotFound)
}
