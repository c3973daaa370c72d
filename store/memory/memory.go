// Package memory provides an in-memory store for tests and development.
// It implements the same interfaces as store/sqlite with a single RWMutex
// standing in for the database's row-level atomicity.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/budgetbot/limit-engine/limits"
	"github.com/budgetbot/limit-engine/sched"
)

type titleKey struct {
	UserID int64
	Title  string
}

type Store struct {
	mu sync.RWMutex

	users         map[int64]limits.User
	categories    map[int64]limits.Category
	subcategories map[int64]limits.Subcategory
	periods       map[int64]limits.Period

	limitsByID map[string]limits.ExpenseLimit
	idByTitle  map[titleKey]string

	expenses []limits.Expense
	jobs     map[string]sched.Job
}

// New creates an empty store seeded with the default period catalog.
func New() *Store {
	s := &Store{
		users:         make(map[int64]limits.User),
		categories:    make(map[int64]limits.Category),
		subcategories: make(map[int64]limits.Subcategory),
		periods:       make(map[int64]limits.Period),
		limitsByID:    make(map[string]limits.ExpenseLimit),
		idByTitle:     make(map[titleKey]string),
		jobs:          make(map[string]sched.Job),
	}
	for _, p := range limits.DefaultPeriods() {
		s.periods[p.ID] = p
	}
	return s
}

// =============================================================================
// SEEDING (tests/dev)
// =============================================================================

func (s *Store) SeedUser(u limits.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) SeedCategory(c limits.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
}

func (s *Store) SeedSubcategory(sc limits.Subcategory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subcategories[sc.ID] = sc
}

func (s *Store) SeedPeriod(p limits.Period) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.periods[p.ID] = p
}

// =============================================================================
// LIMIT STORE
// =============================================================================

func (s *Store) InsertLimit(_ context.Context, limit limits.ExpenseLimit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.limitsByID[limit.ID] = copyLimit(limit)
	s.idByTitle[titleKey{limit.UserID, limit.Title}] = limit.ID
	return nil
}

func (s *Store) GetLimit(_ context.Context, userID int64, title string) (*limits.ExpenseLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.idByTitle[titleKey{userID, title}]
	if !ok {
		return nil, nil
	}
	l := copyLimit(s.limitsByID[id])
	return &l, nil
}

func (s *Store) ListLimits(_ context.Context, userID int64) ([]limits.ExpenseLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []limits.ExpenseLimit
	for _, l := range s.limitsByID {
		if l.UserID == userID {
			result = append(result, copyLimit(l))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[j].PeriodStart.Before(result[i].PeriodStart)
	})
	return result, nil
}

func (s *Store) MatchingLimits(_ context.Context, userID, subcategoryID int64, on limits.Date) ([]limits.ExpenseLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []limits.ExpenseLimit
	for _, l := range s.limitsByID {
		if l.UserID == userID && l.Monitors(subcategoryID) && l.Active(on) {
			result = append(result, copyLimit(l))
		}
	}
	return result, nil
}

func (s *Store) AddToBalance(_ context.Context, limitID string, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limitsByID[limitID]
	if !ok {
		return limits.ErrLimitNotFound
	}
	l.Balance = l.Balance.Add(delta)
	s.limitsByID[limitID] = l
	return nil
}

func (s *Store) UpdateWindow(_ context.Context, limitID string, start, end limits.Date, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limitsByID[limitID]
	if !ok {
		return limits.ErrLimitNotFound
	}
	l.PeriodStart = start
	l.PeriodEnd = end
	l.Balance = balance
	s.limitsByID[limitID] = l
	return nil
}

func (s *Store) DeleteLimit(_ context.Context, userID int64, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := titleKey{userID, title}
	id, ok := s.idByTitle[k]
	if !ok {
		return false, nil
	}
	delete(s.idByTitle, k)
	delete(s.limitsByID, id)
	return true, nil
}

// =============================================================================
// EXPENSE LEDGER
// =============================================================================

func (s *Store) InsertExpense(_ context.Context, exp limits.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expenses = append(s.expenses, exp)
	return nil
}

func (s *Store) SumExpenses(_ context.Context, userID int64, subcategoryIDs []int64, from, to limits.Date) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]bool, len(subcategoryIDs))
	for _, id := range subcategoryIDs {
		wanted[id] = true
	}

	sum := decimal.Zero
	for _, exp := range s.expenses {
		if exp.UserID != userID || !wanted[exp.SubcategoryID] {
			continue
		}
		if limits.WithinDates(exp.EventTime, from, to) {
			sum = sum.Add(exp.Amount)
		}
	}
	return sum, nil
}

func (s *Store) ListExpenses(_ context.Context, userID int64) ([]limits.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []limits.Expense
	for _, exp := range s.expenses {
		if exp.UserID == userID {
			result = append(result, exp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[j].EventTime.Before(result[i].EventTime)
	})
	return result, nil
}

// =============================================================================
// CATALOG STORE
// =============================================================================

func (s *Store) GetPeriod(_ context.Context, periodID int64) (*limits.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.periods[periodID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) ListPeriods(_ context.Context) ([]limits.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]limits.Period, 0, len(s.periods))
	for _, p := range s.periods {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) SubcategoryExists(_ context.Context, subcategoryID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subcategories[subcategoryID]
	return ok, nil
}

func (s *Store) UserExists(_ context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok, nil
}

// =============================================================================
// JOB STORE (sched.Store)
// =============================================================================

func (s *Store) UpsertJob(_ context.Context, job sched.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *Store) DeleteJob(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.jobs[id]
	delete(s.jobs, id)
	return ok, nil
}

func (s *Store) DueJobs(_ context.Context, now time.Time) ([]sched.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []sched.Job
	for _, job := range s.jobs {
		if !job.RunAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	return due, nil
}

// PendingJob returns a scheduled job by id, for tests.
func (s *Store) PendingJob(id string) (sched.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

func copyLimit(l limits.ExpenseLimit) limits.ExpenseLimit {
	out := l
	out.Subcategories = append([]int64(nil), l.Subcategories...)
	if l.EndDate != nil {
		end := *l.EndDate
		out.EndDate = &end
	}
	return out
}
