package limits_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/budgetbot/limit-engine/limits"
	"github.com/budgetbot/limit-engine/sched"
	"github.com/budgetbot/limit-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	testUser      int64 = 1
	subGroceries  int64 = 10
	subRestaurant int64 = 11
	subTransport  int64 = 12
)

func newTestEngine(t *testing.T, today limits.Date) (*limits.Engine, *memory.Store) {
	t.Helper()

	store := memory.New()
	store.SeedUser(limits.User{ID: testUser, Name: "alice"})
	store.SeedCategory(limits.Category{ID: 1, Title: "Food", Slug: "food"})
	store.SeedSubcategory(limits.Subcategory{ID: subGroceries, CategoryID: 1, Title: "Groceries", Slug: "groceries"})
	store.SeedSubcategory(limits.Subcategory{ID: subRestaurant, CategoryID: 1, Title: "Restaurants", Slug: "restaurants"})
	store.SeedSubcategory(limits.Subcategory{ID: subTransport, CategoryID: 1, Title: "Transport", Slug: "transport"})

	scheduler := sched.New(store, zap.NewNop().Sugar())
	engine := limits.NewEngine(store, scheduler, zap.NewNop().Sugar()).
		WithClock(func() limits.Date { return today })

	return engine, store
}

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func monthlyLimit(title string, value string, start limits.Date) limits.CreateInput {
	return limits.CreateInput{
		UserID:        testUser,
		PeriodID:      limits.PeriodMonth,
		PeriodStart:   start,
		LimitValue:    money(value),
		Title:         title,
		Subcategories: []int64{subGroceries},
	}
}

func expenseAt(sub int64, amount string, at time.Time) limits.Expense {
	return limits.Expense{
		ID:            "exp-" + at.Format("20060102150405.000"),
		UserID:        testUser,
		Amount:        money(amount),
		SubcategoryID: sub,
		EventTime:     at,
	}
}

// =============================================================================
// CREATE TESTS
// =============================================================================

func TestCreate_FutureStart_BalanceEqualsLimit(t *testing.T) {
	// GIVEN: today is 2024-01-10, period starts 2024-02-01
	// WHEN: creating a 30-day limit of 100
	// THEN: balance is exactly 100, end is start + 30 days

	today := limits.NewDate(2024, time.January, 10)
	engine, store := newTestEngine(t, today)
	ctx := context.Background()

	id, err := engine.Create(ctx, monthlyLimit("food budget", "100", limits.NewDate(2024, time.February, 1)))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.GetLimit(ctx, testUser, "food budget")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.True(t, got.Balance.Equal(money("100")), "balance %s", got.Balance)
	assert.Equal(t, "2024-03-02", got.PeriodEnd.String())
}

func TestCreate_StartedWindow_SubtractsPriorExpenses(t *testing.T) {
	// GIVEN: expenses of 30 and 12.50 already posted inside the window,
	//        plus one in another subcategory and one outside the window
	// WHEN: creating a limit of 100 over the window
	// THEN: opening balance is 100 - 42.50 = 57.50

	today := limits.NewDate(2024, time.January, 20)
	engine, store := newTestEngine(t, today)
	ctx := context.Background()

	require.NoError(t, store.InsertExpense(ctx, expenseAt(subGroceries, "30",
		time.Date(2024, time.January, 5, 12, 0, 0, 0, time.UTC))))
	require.NoError(t, store.InsertExpense(ctx, expenseAt(subGroceries, "12.50",
		time.Date(2024, time.January, 15, 9, 30, 0, 0, time.UTC))))
	// Different subcategory: must not count.
	require.NoError(t, store.InsertExpense(ctx, expenseAt(subTransport, "500",
		time.Date(2024, time.January, 10, 8, 0, 0, 0, time.UTC))))
	// Before the window: must not count.
	require.NoError(t, store.InsertExpense(ctx, expenseAt(subGroceries, "99",
		time.Date(2023, time.December, 31, 23, 59, 0, 0, time.UTC))))

	_, err := engine.Create(ctx, monthlyLimit("food budget", "100", limits.NewDate(2024, time.January, 1)))
	require.NoError(t, err)

	got, err := store.GetLimit(ctx, testUser, "food budget")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(money("57.50")), "balance %s", got.Balance)
}

func TestCreate_DuplicateTitle_RejectedAndExistingUntouched(t *testing.T) {
	// GIVEN: a limit titled "food budget"
	// WHEN: creating another limit with the same title for the same user
	// THEN: DuplicateTitle, and the first row is unmodified

	today := limits.NewDate(2024, time.January, 10)
	engine, store := newTestEngine(t, today)
	ctx := context.Background()

	_, err := engine.Create(ctx, monthlyLimit("food budget", "100", limits.NewDate(2024, time.January, 1)))
	require.NoError(t, err)

	_, err = engine.Create(ctx, monthlyLimit("food budget", "999", limits.NewDate(2024, time.March, 1)))
	assert.ErrorIs(t, err, limits.ErrDuplicateTitle)

	var dup *limits.DuplicateTitleError
	assert.ErrorAs(t, err, &dup)
	assert.Equal(t, "food budget", dup.Title)

	got, err := store.GetLimit(ctx, testUser, "food budget")
	require.NoError(t, err)
	assert.True(t, got.LimitValue.Equal(money("100")))
	assert.Equal(t, "2024-01-01", got.PeriodStart.String())
}

func TestCreate_ValidationErrors(t *testing.T) {
	today := limits.NewDate(2024, time.January, 10)
	engine, _ := newTestEngine(t, today)
	ctx := context.Background()
	start := limits.NewDate(2024, time.January, 1)

	t.Run("unknown period", func(t *testing.T) {
		in := monthlyLimit("a", "100", start)
		in.PeriodID = 42
		_, err := engine.Create(ctx, in)
		assert.ErrorIs(t, err, limits.ErrPeriodNotFound)
	})

	t.Run("unknown subcategory", func(t *testing.T) {
		in := monthlyLimit("b", "100", start)
		in.Subcategories = []int64{subGroceries, 404}
		_, err := engine.Create(ctx, in)
		assert.ErrorIs(t, err, limits.ErrSubcategoryNotFound)
	})

	t.Run("no subcategories", func(t *testing.T) {
		in := monthlyLimit("c", "100", start)
		in.Subcategories = nil
		_, err := engine.Create(ctx, in)
		assert.ErrorIs(t, err, limits.ErrNoSubcategories)
	})

	t.Run("non-positive limit", func(t *testing.T) {
		in := monthlyLimit("d", "0", start)
		_, err := engine.Create(ctx, in)
		assert.ErrorIs(t, err, limits.ErrNegativeAmount)
	})

	t.Run("unknown user", func(t *testing.T) {
		in := monthlyLimit("e", "100", start)
		in.UserID = 777
		_, err := engine.Create(ctx, in)
		assert.ErrorIs(t, err, limits.ErrUserNotFound)
	})
}

func TestCreate_ArmsLifecycleJobs(t *testing.T) {
	// GIVEN: a limit ending 2024-01-31 with an end date
	// WHEN: created
	// THEN: a rollover job fires within the first minute of 2024-02-01,
	//       and an expiry job is pending for the day after the end date

	today := limits.NewDate(2024, time.January, 10)
	engine, store := newTestEngine(t, today)
	ctx := context.Background()

	end := limits.NewDate(2024, time.June, 1)
	in := monthlyLimit("food budget", "100", limits.NewDate(2024, time.January, 1))
	in.EndDate = &end

	_, err := engine.Create(ctx, in)
	require.NoError(t, err)

	rollover, ok := store.PendingJob(limits.RolloverJobID(testUser, "food budget"))
	require.True(t, ok, "rollover job missing")
	dayAfterEnd := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	assert.False(t, rollover.RunAt.Before(dayAfterEnd))
	assert.True(t, rollover.RunAt.Before(dayAfterEnd.Add(time.Minute)))

	expiry, ok := store.PendingJob(limits.ExpireJobID(testUser, "food budget"))
	require.True(t, ok, "expiry job missing")
	dayAfterExpiry := time.Date(2024, time.June, 2, 0, 0, 0, 0, time.UTC)
	assert.False(t, expiry.RunAt.Before(dayAfterExpiry))
	assert.True(t, expiry.RunAt.Before(dayAfterExpiry.Add(time.Minute)))
}

func TestCreate_RoundTrip_SelectByUser(t *testing.T) {
	// GIVEN: two limits with different period starts
	// WHEN: selecting by user
	// THEN: every supplied field comes back, newest period start first

	today := limits.NewDate(2024, time.March, 10)
	engine, _ := newTestEngine(t, today)
	ctx := context.Background()

	end := limits.NewDate(2025, time.January, 1)
	first := limits.CreateInput{
		UserID:        testUser,
		PeriodID:      limits.PeriodWeek,
		PeriodStart:   limits.NewDate(2024, time.January, 1),
		LimitValue:    money("50"),
		Cumulative:    true,
		Title:         "eating out",
		Subcategories: []int64{subRestaurant, subGroceries},
		EndDate:       &end,
	}
	_, err := engine.Create(ctx, first)
	require.NoError(t, err)

	_, err = engine.Create(ctx, monthlyLimit("food budget", "100", limits.NewDate(2024, time.March, 1)))
	require.NoError(t, err)

	all, err := engine.SelectByUser(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, all, 2)

	assert.Equal(t, "food budget", all[0].Title, "ordered by period start descending")

	got := all[1]
	assert.Equal(t, testUser, got.UserID)
	assert.Equal(t, limits.PeriodWeek, got.PeriodID)
	assert.Equal(t, "2024-01-01", got.PeriodStart.String())
	assert.Equal(t, "2024-01-08", got.PeriodEnd.String())
	assert.True(t, got.LimitValue.Equal(money("50")))
	assert.True(t, got.Cumulative)
	assert.Equal(t, []int64{subRestaurant, subGroceries}, got.Subcategories)
	require.NotNil(t, got.EndDate)
	assert.Equal(t, "2025-01-01", got.EndDate.String())
}

// =============================================================================
// APPLY EXPENSE TESTS
// =============================================================================

func TestApplyExpense_DecrementsMatchingLimit(t *testing.T) {
	// Spec scenario: limit 100, expense of 30 mid-period -> balance 70.

	today := limits.NewDate(2024, time.January, 10)
	engine, store := newTestEngine(t, today)
	ctx := context.Background()

	_, err := engine.Create(ctx, monthlyLimit("food budget", "100", limits.NewDate(2024, time.January, 1)))
	require.NoError(t, err)

	err = engine.ApplyExpense(ctx, testUser, subGroceries,
		time.Date(2024, time.January, 15, 18, 30, 0, 0, time.UTC), money("30"))
	require.NoError(t, err)

	got, err := store.GetLimit(ctx, testUser, "food budget")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(money("70")), "balance %s", got.Balance)
}

func TestApplyExpense_NoMatch_IsNotAnError(t *testing.T) {
	today := limits.NewDate(2024, time.January, 10)
	engine, store := newTestEngine(t, today)
	ctx := context.Background()

	_, err := engine.Create(ctx, monthlyLimit("food budget", "100", limits.NewDate(2024, time.January, 1)))
	require.NoError(t, err)

	// Unwatched subcategory.
	err = engine.ApplyExpense(ctx, testUser, subTransport,
		time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC), money("30"))
	require.NoError(t, err)

	// Outside the window.
	err = engine.ApplyExpense(ctx, testUser, subGroceries,
		time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC), money("30"))
	require.NoError(t, err)

	got, err := store.GetLimit(ctx, testUser, "food budget")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(money("100")))
}

func TestApplyExpense_NonPositiveAmount_Rejected(t *testing.T) {
	today := limits.NewDate(2024, time.January, 10)
	engine, _ := newTestEngine(t, today)

	err := engine.ApplyExpense(context.Background(), testUser, subGroceries,
		time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC), money("-5"))
	assert.ErrorIs(t, err, limits.ErrNegativeAmount)
}

func TestApplyExpense_OverspendGoesNegative(t *testing.T) {
	// Overspend is a signal, not an error: balance crosses below zero.

	today := limits.NewDate(2024, time.January, 10)
	engine, store := newTestEngine(t, today)
	ctx := context.Background()

	_, err := engine.Create(ctx, monthlyLimit("food budget", "100", limits.NewDate(2024, time.January, 1)))
	require.NoError(t, err)

	err = engine.ApplyExpense(ctx, testUser, subGroceries,
		time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC), money("130"))
	require.NoError(t, err)

	got, err := store.GetLimit(ctx, testUser, "food budget")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(money("-30")), "balance %s", got.Balance)
}

func TestApplyExpense_ConcurrentDecrementsAllLand(t *testing.T) {
	// GIVEN: 50 expenses of 1.50 applied from 50 goroutines
	// WHEN: they all target the same limit
	// THEN: final balance is exactly 100 - 75, no lost updates

	today := limits.NewDate(2024, time.January, 10)
	engine, store := newTestEngine(t, today)
	ctx := context.Background()

	_, err := engine.Create(ctx, monthlyLimit("food budget", "100", limits.NewDate(2024, time.January, 1)))
	require.NoError(t, err)

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- engine.ApplyExpense(ctx, testUser, subGroceries,
				time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC), money("1.50"))
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.GetLimit(ctx, testUser, "food budget")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(money("25")), "balance %s", got.Balance)
}

// =============================================================================
// ROLLOVER TESTS
// =============================================================================

func TestRollover_NonCumulative_ResetsBalance(t *testing.T) {
	// Spec scenario: 30-day limit of 100 starting 2024-01-01, balance 70.
	// Rollover -> start 2024-02-01, end 2024-03-02, balance 100.

	engine, store := newTestEngine(t, limits.NewDate(2024, time.January, 10))
	ctx := context.Background()

	_, err := engine.Create(ctx, monthlyLimit("food budget", "100", limits.NewDate(2024, time.January, 1)))
	require.NoError(t, err)
	require.NoError(t, engine.ApplyExpense(ctx, testUser, subGroceries,
		time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC), money("30")))

	engine.WithClock(func() limits.Date { return limits.NewDate(2024, time.February, 1) })
	require.NoError(t, engine.Rollover(ctx, testUser, "food budget"))

	got, err := store.GetLimit(ctx, testUser, "food budget")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01", got.PeriodStart.String())
	assert.Equal(t, "2024-03-02", got.PeriodEnd.String())
	assert.True(t, got.Balance.Equal(money("100")), "balance %s", got.Balance)

	// The next rollover is re-armed under the same key.
	job, ok := store.PendingJob(limits.RolloverJobID(testUser, "food budget"))
	require.True(t, ok)
	dayAfterNewEnd := time.Date(2024, time.March, 3, 0, 0, 0, 0, time.UTC)
	assert.False(t, job.RunAt.Before(dayAfterNewEnd))
	assert.True(t, job.RunAt.Before(dayAfterNewEnd.Add(time.Minute)))
}

func TestRollover_Cumulative_CarriesBalance(t *testing.T) {
	// Spec scenario: cumulative limit, balance 70 at rollover -> 170.

	engine, store := newTestEngine(t, limits.NewDate(2024, time.January, 10))
	ctx := context.Background()

	in := monthlyLimit("food budget", "100", limits.NewDate(2024, time.January, 1))
	in.Cumulative = true
	_, err := engine.Create(ctx, in)
	require.NoError(t, err)
	require.NoError(t, engine.ApplyExpense(ctx, testUser, subGroceries,
		time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC), money("30")))

	engine.WithClock(func() limits.Date { return limits.NewDate(2024, time.February, 1) })
	require.NoError(t, engine.Rollover(ctx, testUser, "food budget"))

	got, err := store.GetLimit(ctx, testUser, "food budget")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(money("170")), "balance %s", got.Balance)
}

func TestRollover_Cumulative_NegativeCarryShrinksCeiling(t *testing.T) {
	// Overspend is not forgiven: -30 carried into a 100 limit yields 70.

	engine, store := newTestEngine(t, limits.NewDate(2024, time.January, 10))
	ctx := context.Background()

	in := monthlyLimit("food budget", "100", limits.NewDate(2024, time.January, 1))
	in.Cumulative = true
	_, err := engine.Create(ctx, in)
	require.NoError(t, err)
	require.NoError(t, engine.ApplyExpense(ctx, testUser, subGroceries,
		time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC), money("130")))

	engine.WithClock(func() limits.Date { return limits.NewDate(2024, time.February, 1) })
	require.NoError(t, engine.Rollover(ctx, testUser, "food budget"))

	got, err := store.GetLimit(ctx, testUser, "food budget")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(money("70")), "balance %s", got.Balance)
}

func TestRollover_NextStartPastEndDate_DeletesLimit(t *testing.T) {
	// GIVEN: end date 2024-02-01, period ending 2024-01-31
	// WHEN: rollover fires (next start would be 2024-02-01 >= end date)
	// THEN: the limit is deleted, not rolled over

	engine, store := newTestEngine(t, limits.NewDate(2024, time.January, 10))
	ctx := context.Background()

	end := limits.NewDate(2024, time.February, 1)
	in := monthlyLimit("food budget", "100", limits.NewDate(2024, time.January, 1))
	in.EndDate = &end
	_, err := engine.Create(ctx, in)
	require.NoError(t, err)

	engine.WithClock(func() limits.Date { return limits.NewDate(2024, time.February, 1) })
	require.NoError(t, engine.Rollover(ctx, testUser, "food budget"))

	got, err := store.GetLimit(ctx, testUser, "food budget")
	require.NoError(t, err)
	assert.Nil(t, got, "limit should be deleted")

	_, pending := store.PendingJob(limits.RolloverJobID(testUser, "food budget"))
	assert.False(t, pending, "rollover job should be cancelled")
}

func TestRollover_StaleFire_Ignored(t *testing.T) {
	// A fire while the window is still running must not double-apply.

	engine, store := newTestEngine(t, limits.NewDate(2024, time.January, 10))
	ctx := context.Background()

	_, err := engine.Create(ctx, monthlyLimit("food budget", "100", limits.NewDate(2024, time.January, 1)))
	require.NoError(t, err)

	require.NoError(t, engine.Rollover(ctx, testUser, "food budget"))

	got, err := store.GetLimit(ctx, testUser, "food budget")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", got.PeriodStart.String(), "window must be untouched")
}

func TestRollover_AbsentLimit_NoOp(t *testing.T) {
	engine, _ := newTestEngine(t, limits.NewDate(2024, time.January, 10))
	assert.NoError(t, engine.Rollover(context.Background(), testUser, "ghost"))
}

// =============================================================================
// EXPIRE / DELETE TESTS
// =============================================================================

func TestDelete_RemovesLimitAndJobs(t *testing.T) {
	engine, store := newTestEngine(t, limits.NewDate(2024, time.January, 10))
	ctx := context.Background()

	end := limits.NewDate(2024, time.June, 1)
	in := monthlyLimit("food budget", "100", limits.NewDate(2024, time.January, 1))
	in.EndDate = &end
	_, err := engine.Create(ctx, in)
	require.NoError(t, err)

	require.NoError(t, engine.Delete(ctx, testUser, "food budget"))

	got, err := store.GetLimit(ctx, testUser, "food budget")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, rollover := store.PendingJob(limits.RolloverJobID(testUser, "food budget"))
	_, expiry := store.PendingJob(limits.ExpireJobID(testUser, "food budget"))
	assert.False(t, rollover, "rollover job should be cancelled")
	assert.False(t, expiry, "expiry job should be cancelled")
}

func TestExpireAndDelete_AbsentLimit_Idempotent(t *testing.T) {
	engine, _ := newTestEngine(t, limits.NewDate(2024, time.January, 10))
	ctx := context.Background()

	assert.NoError(t, engine.Expire(ctx, testUser, "ghost"))
	assert.NoError(t, engine.Expire(ctx, testUser, "ghost"))
	assert.NoError(t, engine.Delete(ctx, testUser, "ghost"))
}

func TestRecreateAfterDelete_ReusesJobKey(t *testing.T) {
	// Re-creating a limit under the same title must replace, not duplicate,
	// the pending rollover job.

	engine, store := newTestEngine(t, limits.NewDate(2024, time.January, 10))
	ctx := context.Background()

	_, err := engine.Create(ctx, monthlyLimit("food budget", "100", limits.NewDate(2024, time.January, 1)))
	require.NoError(t, err)
	require.NoError(t, engine.Delete(ctx, testUser, "food budget"))

	_, err = engine.Create(ctx, monthlyLimit("food budget", "200", limits.NewDate(2024, time.February, 1)))
	require.NoError(t, err)

	job, ok := store.PendingJob(limits.RolloverJobID(testUser, "food budget"))
	require.True(t, ok)
	dayAfterEnd := time.Date(2024, time.March, 3, 0, 0, 0, 0, time.UTC)
	assert.False(t, job.RunAt.Before(dayAfterEnd), "job must track the new limit's window")
}

// =============================================================================
// SUMMARY TESTS
// =============================================================================

func TestSummaries_FreePercent(t *testing.T) {
	engine, _ := newTestEngine(t, limits.NewDate(2024, time.January, 10))
	ctx := context.Background()

	_, err := engine.Create(ctx, monthlyLimit("food budget", "200", limits.NewDate(2024, time.January, 1)))
	require.NoError(t, err)
	require.NoError(t, engine.ApplyExpense(ctx, testUser, subGroceries,
		time.Date(2024, time.January, 5, 12, 0, 0, 0, time.UTC), money("50")))

	summaries, err := engine.Summaries(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	s := summaries[0]
	assert.Equal(t, "food budget", s.Title)
	assert.True(t, s.Balance.Equal(money("150")))
	assert.True(t, s.FreePercent.Equal(money("75")), "free percent %s", s.FreePercent)
}
