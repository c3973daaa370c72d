/*
Package ledger records expense events and feeds them into the limit engine.

PURPOSE:
  The dialogue layer hands this service validated-looking but untrusted
  input (amount, subcategory, event time, optional location). The service
  enforces the ledger invariants, persists the expense, then synchronously
  applies it to matching limits so a balance is never out of date relative
  to a committed expense.

INVARIANTS:
  - Amount is strictly positive
  - Event time is never in the future
  - Subcategory and user must exist

FAILURE POLICY:
  If the balance update fails after the expense row was written, the error
  is surfaced to the caller so it can decide whether to abort the expense
  as well. Nothing is retried automatically here.

SEE ALSO:
  - limits/engine.go: ApplyExpense
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/budgetbot/limit-engine/limits"
)

// ExpenseStore persists expense rows.
type ExpenseStore interface {
	InsertExpense(ctx context.Context, exp limits.Expense) error
	ListExpenses(ctx context.Context, userID int64) ([]limits.Expense, error)
}

// Service validates and records expenses.
type Service struct {
	expenses ExpenseStore
	catalog  limits.CatalogStore
	engine   *limits.Engine
	log      *zap.SugaredLogger

	now func() time.Time
}

func NewService(expenses ExpenseStore, catalog limits.CatalogStore, engine *limits.Engine, log *zap.SugaredLogger) *Service {
	return &Service{
		expenses: expenses,
		catalog:  catalog,
		engine:   engine,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the wall clock. For tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RecordInput is one expense event from the dialogue layer.
type RecordInput struct {
	UserID        int64
	Amount        decimal.Decimal
	SubcategoryID int64
	EventTime     time.Time
	Location      string
}

// Record validates and persists the expense, then decrements matching
// limits. Returns the new expense id.
func (s *Service) Record(ctx context.Context, in RecordInput) (string, error) {
	if !in.Amount.IsPositive() {
		return "", fmt.Errorf("expense amount %s: %w", in.Amount, limits.ErrNegativeAmount)
	}
	if in.EventTime.After(s.now()) {
		return "", fmt.Errorf("event time %s: %w", in.EventTime.Format(time.RFC3339), limits.ErrFutureEventTime)
	}

	ok, err := s.catalog.UserExists(ctx, in.UserID)
	if err != nil {
		return "", fmt.Errorf("checking user: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("user %d: %w", in.UserID, limits.ErrUserNotFound)
	}

	ok, err = s.catalog.SubcategoryExists(ctx, in.SubcategoryID)
	if err != nil {
		return "", fmt.Errorf("checking subcategory: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("subcategory %d: %w", in.SubcategoryID, limits.ErrSubcategoryNotFound)
	}

	exp := limits.Expense{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		Amount:        in.Amount,
		SubcategoryID: in.SubcategoryID,
		EventTime:     in.EventTime.UTC(),
		Location:      in.Location,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.expenses.InsertExpense(ctx, exp); err != nil {
		return "", fmt.Errorf("inserting expense: %w", err)
	}

	if err := s.engine.ApplyExpense(ctx, in.UserID, in.SubcategoryID, in.EventTime, in.Amount); err != nil {
		// The expense row is committed; the caller decides whether to keep
		// or compensate it.
		return exp.ID, fmt.Errorf("applying expense to limits: %w", err)
	}

	return exp.ID, nil
}

// List returns a user's expenses, newest first.
func (s *Service) List(ctx context.Context, userID int64) ([]limits.Expense, error) {
	return s.expenses.ListExpenses(ctx, userID)
}
