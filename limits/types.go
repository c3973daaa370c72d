/*
Package limits contains the expense-limit lifecycle engine.

PURPOSE:
  An expense limit is a recurring budget ceiling a user attaches to a set of
  expense subcategories. The engine owns the limit's derived state: it
  computes the opening balance at creation, decrements the balance as
  matching expenses arrive, and advances or deletes the limit when its
  period rolls over or its end date passes.

KEY CONCEPTS IN THIS FILE (types.go):
  - ExpenseLimit: The central entity, one row per (user, title)
  - Expense: A ledger event consumed by the engine (written elsewhere)
  - Summary: Read model for the statistics/listing surface

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all money, never float
  2. Single writer: only the engine mutates balance and window fields
  3. Storage-level arithmetic: balance updates compose under concurrency

SEE ALSO:
  - engine.go: Create / ApplyExpense / Rollover / Expire / Delete
  - store.go: Persistence interfaces the engine consumes
  - errors.go: Validation and not-found error taxonomy
*/
package limits

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EXPENSE LIMIT - The central entity
// =============================================================================

// ExpenseLimit tracks a rolling budget for one user over a set of
// subcategories.
//
// Invariants:
//   - PeriodEnd == period.EndFor(PeriodStart) for the referenced period
//   - Title is unique per user (case-sensitive)
//   - Balance may go negative; overspend is represented, not rejected
type ExpenseLimit struct {
	ID          string
	UserID      int64
	PeriodID    int64
	PeriodStart Date // current accounting window start
	PeriodEnd   Date // current accounting window end (inclusive)
	LimitValue  decimal.Decimal
	Balance     decimal.Decimal // derived running balance
	EndDate     *Date           // optional absolute expiration date
	Cumulative  bool            // carry unspent balance into the next period
	Title       string          // user-chosen label, unique per user

	// Subcategories this limit monitors. Bounded to a small set by the
	// dialogue layer; the engine only requires it to be non-empty.
	Subcategories []int64

	CreatedAt time.Time
}

// Active reports whether the given date falls inside the current window.
func (l ExpenseLimit) Active(on Date) bool {
	return on.AfterOrEqual(l.PeriodStart) && on.BeforeOrEqual(l.PeriodEnd)
}

// Monitors reports whether the limit watches the given subcategory.
func (l ExpenseLimit) Monitors(subcategoryID int64) bool {
	for _, id := range l.Subcategories {
		if id == subcategoryID {
			return true
		}
	}
	return false
}

// =============================================================================
// EXPENSE - Ledger event (written by the ledger service, read here)
// =============================================================================

type Expense struct {
	ID            string
	UserID        int64
	Amount        decimal.Decimal
	SubcategoryID int64
	EventTime     time.Time
	Location      string // optional "lat,lon", empty when absent
	CreatedAt     time.Time
}

// =============================================================================
// CATALOG ENTITIES - Users and category tree
// =============================================================================

type User struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

type Category struct {
	ID    int64
	Title string
	Slug  string
}

type Subcategory struct {
	ID         int64
	CategoryID int64
	Title      string
	Slug       string
}

// =============================================================================
// SUMMARY - Read model for listing/statistics dialogues
// =============================================================================

// Summary is what the statistics dialogue renders per limit: the window,
// the remaining balance, and how much of the ceiling is still free.
type Summary struct {
	Title       string
	PeriodStart Date
	PeriodEnd   Date
	Balance     decimal.Decimal
	LimitValue  decimal.Decimal
	Cumulative  bool
	EndDate     *Date
	FreePercent decimal.Decimal // Balance / LimitValue * 100
}
