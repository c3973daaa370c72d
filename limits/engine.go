/*
engine.go - Expense limit lifecycle operations

PURPOSE:
  The engine owns every mutation of an ExpenseLimit: creation with opening
  balance computation, incremental balance updates as expenses arrive, and
  the two scheduled transitions (period rollover, expiration).

LIFECYCLE:
  Create       -> opening balance, persist, arm rollover (+expiry) jobs
  ApplyExpense -> atomic balance decrement on every matching active limit
  Rollover     -> advance window, reset or carry balance, re-arm next job
  Expire       -> delete row, cancel pending rollover
  Delete       -> user-initiated; delete row, cancel both pending jobs

SCHEDULING:
  Jobs are keyed deterministically by (kind, user, title) with
  replace-on-schedule semantics, so at most one rollover and one expiry job
  exist per limit. A scheduling failure after a successful insert is logged
  as a warning and does not roll back the row: the limit stays usable and
  an operator reconciles the missing job.

SEE ALSO:
  - store.go: Persistence interfaces
  - sched/scheduler.go: Job store and trigger-time convention
*/
package limits

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/budgetbot/limit-engine/sched"
)

// Job kinds the engine registers with the scheduler.
const (
	JobKindRollover = "rollover"
	JobKindExpire   = "expire"
)

// RolloverJobID and ExpireJobID derive the deterministic job keys for a
// limit. Re-creating a limit with the same title reuses the same keys, so
// replace-on-schedule prevents duplicate jobs.
func RolloverJobID(userID int64, title string) string {
	return fmt.Sprintf("%s:%d:%s", JobKindRollover, userID, title)
}

func ExpireJobID(userID int64, title string) string {
	return fmt.Sprintf("%s:%d:%s", JobKindExpire, userID, title)
}

// Scheduler is the slice of the job scheduler the engine needs.
type Scheduler interface {
	Schedule(ctx context.Context, job sched.Job) error
	Cancel(ctx context.Context, jobID string) error
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine implements the expense-limit lifecycle over a Store and a
// Scheduler. Safe for concurrent use; all shared state lives in the store.
type Engine struct {
	store Store
	jobs  Scheduler
	log   *zap.SugaredLogger

	// today is injectable for tests; defaults to the wall clock.
	today func() Date
}

func NewEngine(store Store, jobs Scheduler, log *zap.SugaredLogger) *Engine {
	return &Engine{
		store: store,
		jobs:  jobs,
		log:   log,
		today: Today,
	}
}

// WithClock overrides the engine's notion of "today". For tests.
func (e *Engine) WithClock(today func() Date) *Engine {
	e.today = today
	return e
}

// =============================================================================
// CREATE
// =============================================================================

// CreateInput carries the validated dialogue output for a new limit.
type CreateInput struct {
	UserID        int64
	PeriodID      int64
	PeriodStart   Date
	LimitValue    decimal.Decimal
	Cumulative    bool
	Title         string
	Subcategories []int64
	EndDate       *Date
}

// Create validates the input, computes the opening balance and period end,
// persists the limit and arms its lifecycle jobs. Returns the new limit id.
//
// The opening balance is LimitValue when the window has not started yet;
// otherwise expenses already posted inside the window are subtracted, so a
// limit created mid-period starts with an honest balance.
func (e *Engine) Create(ctx context.Context, in CreateInput) (string, error) {
	if !in.LimitValue.IsPositive() {
		return "", fmt.Errorf("limit value %s: %w", in.LimitValue, ErrNegativeAmount)
	}
	if len(in.Subcategories) == 0 {
		return "", ErrNoSubcategories
	}

	ok, err := e.store.UserExists(ctx, in.UserID)
	if err != nil {
		return "", fmt.Errorf("checking user: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("user %d: %w", in.UserID, ErrUserNotFound)
	}

	existing, err := e.store.GetLimit(ctx, in.UserID, in.Title)
	if err != nil {
		return "", fmt.Errorf("checking title: %w", err)
	}
	if existing != nil {
		return "", &DuplicateTitleError{UserID: in.UserID, Title: in.Title}
	}

	period, err := e.store.GetPeriod(ctx, in.PeriodID)
	if err != nil {
		return "", fmt.Errorf("resolving period: %w", err)
	}
	if period == nil {
		return "", fmt.Errorf("period %d: %w", in.PeriodID, ErrPeriodNotFound)
	}

	for _, subID := range in.Subcategories {
		ok, err := e.store.SubcategoryExists(ctx, subID)
		if err != nil {
			return "", fmt.Errorf("checking subcategory: %w", err)
		}
		if !ok {
			return "", &UnknownSubcategoryError{SubcategoryID: subID}
		}
	}

	periodEnd := period.EndFor(in.PeriodStart)

	balance := in.LimitValue
	if !in.PeriodStart.After(e.today()) {
		// Window already open: subtract expenses posted inside it.
		spent, err := e.store.SumExpenses(ctx, in.UserID, in.Subcategories, in.PeriodStart, periodEnd)
		if err != nil {
			return "", fmt.Errorf("summing prior expenses: %w", err)
		}
		balance = in.LimitValue.Sub(spent)
	}

	limit := ExpenseLimit{
		ID:            uuid.NewString(),
		UserID:        in.UserID,
		PeriodID:      in.PeriodID,
		PeriodStart:   in.PeriodStart,
		PeriodEnd:     periodEnd,
		LimitValue:    in.LimitValue,
		Balance:       balance,
		EndDate:       in.EndDate,
		Cumulative:    in.Cumulative,
		Title:         in.Title,
		Subcategories: in.Subcategories,
		CreatedAt:     time.Now().UTC(),
	}

	if err := e.store.InsertLimit(ctx, limit); err != nil {
		return "", fmt.Errorf("inserting limit: %w", err)
	}

	// Scheduling failures do not roll back the row: the limit is still
	// usable and balance updates keep flowing, only the automated
	// transition is missing until reconciled.
	e.armRollover(ctx, limit)
	if limit.EndDate != nil {
		e.armExpiry(ctx, limit)
	}

	e.log.Infow("limit created",
		"user", limit.UserID, "title", limit.Title,
		"period_start", limit.PeriodStart, "period_end", limit.PeriodEnd,
		"balance", limit.Balance)

	return limit.ID, nil
}

func (e *Engine) armRollover(ctx context.Context, limit ExpenseLimit) {
	job := sched.Job{
		ID:        RolloverJobID(limit.UserID, limit.Title),
		Kind:      JobKindRollover,
		RunAt:     sched.FireTime(limit.PeriodEnd.Time),
		UserID:    limit.UserID,
		UserTitle: limit.Title,
	}
	if err := e.jobs.Schedule(ctx, job); err != nil {
		e.log.Warnw("scheduling rollover failed; limit kept",
			"user", limit.UserID, "title", limit.Title, "error", err)
	}
}

func (e *Engine) armExpiry(ctx context.Context, limit ExpenseLimit) {
	job := sched.Job{
		ID:        ExpireJobID(limit.UserID, limit.Title),
		Kind:      JobKindExpire,
		RunAt:     sched.FireTime(limit.EndDate.Time),
		UserID:    limit.UserID,
		UserTitle: limit.Title,
	}
	if err := e.jobs.Schedule(ctx, job); err != nil {
		e.log.Warnw("scheduling expiry failed; limit kept",
			"user", limit.UserID, "title", limit.Title, "error", err)
	}
}

// =============================================================================
// APPLY EXPENSE
// =============================================================================

// ApplyExpense decrements the balance of every active limit of the user
// that monitors the subcategory and whose window contains the event date.
// Zero matches is success - most expenses are not under any limit.
//
// The decrement happens at the storage layer, so concurrent calls against
// the same limit compose instead of losing updates.
func (e *Engine) ApplyExpense(ctx context.Context, userID, subcategoryID int64, eventTime time.Time, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("expense amount %s: %w", amount, ErrNegativeAmount)
	}

	matches, err := e.store.MatchingLimits(ctx, userID, subcategoryID, DateOf(eventTime))
	if err != nil {
		return fmt.Errorf("matching limits: %w", err)
	}

	for _, limit := range matches {
		if err := e.store.AddToBalance(ctx, limit.ID, amount.Neg()); err != nil {
			return fmt.Errorf("decrementing limit %q: %w", limit.Title, err)
		}
	}

	return nil
}

// =============================================================================
// ROLLOVER
// =============================================================================

// Rollover advances a limit to its next period. Invoked by the scheduler,
// never by users. An absent limit is a benign no-op: the user deleted it
// between scheduling and firing.
func (e *Engine) Rollover(ctx context.Context, userID int64, title string) error {
	limit, err := e.store.GetLimit(ctx, userID, title)
	if err != nil {
		return fmt.Errorf("loading limit: %w", err)
	}
	if limit == nil {
		e.log.Debugw("rollover: limit already gone", "user", userID, "title", title)
		return nil
	}

	// A legitimate fire happens the day after the period end, so the end is
	// strictly in the past. A fire while the window is still running is a
	// stale re-delivery and must not double-apply.
	if limit.PeriodEnd.AfterOrEqual(e.today()) {
		e.log.Warnw("rollover: stale fire ignored",
			"user", userID, "title", title, "period_end", limit.PeriodEnd)
		return nil
	}

	newStart := limit.PeriodEnd.AddDays(1)

	if limit.EndDate != nil && newStart.AfterOrEqual(*limit.EndDate) {
		// The next period would start past the configured expiration.
		return e.Expire(ctx, userID, title)
	}

	period, err := e.store.GetPeriod(ctx, limit.PeriodID)
	if err != nil {
		return fmt.Errorf("resolving period: %w", err)
	}
	if period == nil {
		return fmt.Errorf("period %d: %w", limit.PeriodID, ErrPeriodNotFound)
	}

	newEnd := period.EndFor(newStart)

	newBalance := limit.LimitValue
	if limit.Cumulative {
		// Carryover literally adds the old balance - including a negative
		// one, which shrinks the next period's ceiling.
		newBalance = limit.Balance.Add(limit.LimitValue)
	}

	if err := e.store.UpdateWindow(ctx, limit.ID, newStart, newEnd, newBalance); err != nil {
		return fmt.Errorf("advancing window: %w", err)
	}

	rolled := *limit
	rolled.PeriodStart = newStart
	rolled.PeriodEnd = newEnd
	e.armRollover(ctx, rolled)

	e.log.Infow("limit rolled over",
		"user", userID, "title", title,
		"period_start", newStart, "period_end", newEnd, "balance", newBalance)

	return nil
}

// =============================================================================
// EXPIRE / DELETE
// =============================================================================

// Expire deletes a limit whose end date has passed and cancels its pending
// rollover job. No-op if the limit is already absent.
func (e *Engine) Expire(ctx context.Context, userID int64, title string) error {
	existed, err := e.store.DeleteLimit(ctx, userID, title)
	if err != nil {
		return fmt.Errorf("deleting limit: %w", err)
	}

	if err := e.jobs.Cancel(ctx, RolloverJobID(userID, title)); err != nil {
		e.log.Warnw("cancelling rollover job failed", "user", userID, "title", title, "error", err)
	}

	if existed {
		e.log.Infow("limit expired", "user", userID, "title", title)
	}
	return nil
}

// Delete removes a limit on explicit user request. Both pending jobs are
// cancelled so no ghost transition fires against the deleted key. No-op if
// the limit is already absent.
func (e *Engine) Delete(ctx context.Context, userID int64, title string) error {
	existed, err := e.store.DeleteLimit(ctx, userID, title)
	if err != nil {
		return fmt.Errorf("deleting limit: %w", err)
	}

	if err := e.jobs.Cancel(ctx, RolloverJobID(userID, title)); err != nil {
		e.log.Warnw("cancelling rollover job failed", "user", userID, "title", title, "error", err)
	}
	if err := e.jobs.Cancel(ctx, ExpireJobID(userID, title)); err != nil {
		e.log.Warnw("cancelling expiry job failed", "user", userID, "title", title, "error", err)
	}

	if existed {
		e.log.Infow("limit deleted", "user", userID, "title", title)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// SelectByUser returns the user's limits ordered by period start descending.
func (e *Engine) SelectByUser(ctx context.Context, userID int64) ([]ExpenseLimit, error) {
	return e.store.ListLimits(ctx, userID)
}

// Summaries builds the read model the statistics dialogue renders.
func (e *Engine) Summaries(ctx context.Context, userID int64) ([]Summary, error) {
	all, err := e.store.ListLimits(ctx, userID)
	if err != nil {
		return nil, err
	}

	hundred := decimal.NewFromInt(100)
	summaries := make([]Summary, 0, len(all))
	for _, l := range all {
		summaries = append(summaries, Summary{
			Title:       l.Title,
			PeriodStart: l.PeriodStart,
			PeriodEnd:   l.PeriodEnd,
			Balance:     l.Balance,
			LimitValue:  l.LimitValue,
			Cumulative:  l.Cumulative,
			EndDate:     l.EndDate,
			FreePercent: l.Balance.Div(l.LimitValue).Mul(hundred).Round(2),
		})
	}
	return summaries, nil
}
