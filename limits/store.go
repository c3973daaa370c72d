/*
store.go - Persistence interfaces consumed by the limit engine

PURPOSE:
  Separates the ExpenseLimit value type from persistence behind plain
  repository interfaces. Implementations live in store/sqlite (durable) and
  store/memory (tests/dev).

CONCURRENCY CONTRACT:
  AddToBalance is the one operation with a hard atomicity requirement: the
  decrement must be evaluated at the storage layer (balance = balance - x),
  never read-modify-write in engine memory. Two expenses logged in quick
  succession against the same limit must both land.

SEE ALSO:
  - engine.go: The only caller that mutates limits
  - store/sqlite/sqlite.go, store/memory/memory.go: Implementations
*/
package limits

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LIMIT STORE - ExpenseLimit rows
// =============================================================================

type LimitStore interface {
	// InsertLimit persists a new limit with its subcategory set.
	InsertLimit(ctx context.Context, limit ExpenseLimit) error

	// GetLimit loads a limit by its (user, title) key. Returns nil when
	// absent; absence is not an error at this layer.
	GetLimit(ctx context.Context, userID int64, title string) (*ExpenseLimit, error)

	// ListLimits returns a user's limits ordered by period start descending.
	ListLimits(ctx context.Context, userID int64) ([]ExpenseLimit, error)

	// MatchingLimits returns limits of the user that monitor the given
	// subcategory and whose current window contains the given date.
	MatchingLimits(ctx context.Context, userID, subcategoryID int64, on Date) ([]ExpenseLimit, error)

	// AddToBalance applies a signed delta to the stored balance atomically.
	AddToBalance(ctx context.Context, limitID string, delta decimal.Decimal) error

	// UpdateWindow advances a limit to a new period in place.
	UpdateWindow(ctx context.Context, limitID string, start, end Date, balance decimal.Decimal) error

	// DeleteLimit removes a limit, reporting whether it existed.
	DeleteLimit(ctx context.Context, userID int64, title string) (bool, error)
}

// =============================================================================
// EXPENSE READER - Ledger queries at limit creation time
// =============================================================================

type ExpenseReader interface {
	// SumExpenses totals a user's expenses over the given subcategories
	// whose event date falls within [from, to]. Zero when no rows match.
	SumExpenses(ctx context.Context, userID int64, subcategoryIDs []int64, from, to Date) (decimal.Decimal, error)
}

// =============================================================================
// CATALOG STORE - Periods, subcategories, users
// =============================================================================

type CatalogStore interface {
	// GetPeriod resolves a period id, nil when absent.
	GetPeriod(ctx context.Context, periodID int64) (*Period, error)

	// ListPeriods returns the full catalog ordered by id.
	ListPeriods(ctx context.Context) ([]Period, error)

	SubcategoryExists(ctx context.Context, subcategoryID int64) (bool, error)
	UserExists(ctx context.Context, userID int64) (bool, error)
}

// Store is the composite the engine is wired with. The sqlite and memory
// implementations satisfy all three facets on one value.
type Store interface {
	LimitStore
	ExpenseReader
	CatalogStore
}
