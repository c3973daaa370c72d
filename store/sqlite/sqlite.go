/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements limits.Store, ledger.ExpenseStore and sched.Store on one
  database, so a limit, the expenses it watches and its pending lifecycle
  jobs share a single durable file and survive restarts together.

INTERFACES IMPLEMENTED:
  limits.LimitStore:    expense_limits (+ subcategory join table)
  limits.ExpenseReader: expenses
  limits.CatalogStore:  periods, subcategories, users
  ledger.ExpenseStore:  expenses
  sched.Store:          scheduled_jobs

CONCURRENCY:
  The balance decrement is the one hot spot: AddToBalance runs the
  read-add-write inside a single database transaction under the store's
  write lock, so concurrent expense applications against the same limit
  compose instead of losing updates. Amounts are stored as decimal strings
  and the arithmetic is done with shopspring/decimal, never in SQL floats.

WAL MODE:
  Opened with WAL journaling and foreign keys enabled.

MIGRATION:
  Versioned SQL migrations embedded in the binary, applied with
  golang-migrate on New().

SEE ALSO:
  - limits/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/budgetbot/limit-engine/limits"
	"github.com/budgetbot/limit-engine/sched"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and applies pending
// migrations. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("preparing migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// LIMIT STORE (limits.LimitStore)
// =============================================================================

func (s *Store) InsertLimit(ctx context.Context, limit limits.ExpenseLimit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO expense_limits
		(id, user_id, period_id, period_start, period_end, limit_value, balance,
		 end_date, cumulative, title, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		limit.ID,
		limit.UserID,
		limit.PeriodID,
		limit.PeriodStart.String(),
		limit.PeriodEnd.String(),
		limit.LimitValue.String(),
		limit.Balance.String(),
		nullDate(limit.EndDate),
		boolToInt(limit.Cumulative),
		limit.Title,
		limit.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert limit: %w", err)
	}

	for _, subID := range limit.Subcategories {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO expense_limit_subcategories (limit_id, subcategory_id)
			VALUES (?, ?)`, limit.ID, subID); err != nil {
			return fmt.Errorf("failed to insert limit subcategory: %w", err)
		}
	}

	return tx.Commit()
}

const limitColumns = `id, user_id, period_id, period_start, period_end,
	limit_value, balance, end_date, cumulative, title, created_at`

func (s *Store) GetLimit(ctx context.Context, userID int64, title string) (*limits.ExpenseLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+limitColumns+` FROM expense_limits WHERE user_id = ? AND title = ?`,
		userID, title)

	limit, err := scanLimit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.attachSubcategories(ctx, limit); err != nil {
		return nil, err
	}
	return limit, nil
}

func (s *Store) ListLimits(ctx context.Context, userID int64) ([]limits.ExpenseLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryLimits(ctx,
		`SELECT `+limitColumns+` FROM expense_limits
		 WHERE user_id = ?
		 ORDER BY period_start DESC, title ASC`, userID)
}

func (s *Store) MatchingLimits(ctx context.Context, userID, subcategoryID int64, on limits.Date) ([]limits.ExpenseLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := on.String()
	return s.queryLimits(ctx, `
		SELECT `+limitColumns+` FROM expense_limits l
		WHERE l.user_id = ?
		  AND l.period_start <= ? AND l.period_end >= ?
		  AND EXISTS (
			SELECT 1 FROM expense_limit_subcategories ls
			WHERE ls.limit_id = l.id AND ls.subcategory_id = ?
		  )`, userID, day, day, subcategoryID)
}

// AddToBalance applies the delta inside one database transaction under the
// store's write lock. The arithmetic uses decimal strings end to end.
func (s *Store) AddToBalance(ctx context.Context, limitID string, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM expense_limits WHERE id = ?`, limitID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return limits.ErrLimitNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}

	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("corrupt balance %q for limit %s: %w", raw, limitID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE expense_limits SET balance = ? WHERE id = ?`,
		balance.Add(delta).String(), limitID); err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	return tx.Commit()
}

func (s *Store) UpdateWindow(ctx context.Context, limitID string, start, end limits.Date, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE expense_limits
		SET period_start = ?, period_end = ?, balance = ?
		WHERE id = ?`,
		start.String(), end.String(), balance.String(), limitID)
	if err != nil {
		return fmt.Errorf("failed to update window: %w", err)
	}

	n, _ := res.RowsAffected()
	if n == 0 {
		return limits.ErrLimitNotFound
	}
	return nil
}

func (s *Store) DeleteLimit(ctx context.Context, userID int64, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM expense_limits WHERE user_id = ? AND title = ?`, userID, title)
	if err != nil {
		return false, fmt.Errorf("failed to delete limit: %w", err)
	}

	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) queryLimits(ctx context.Context, query string, args ...any) ([]limits.ExpenseLimit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query limits: %w", err)
	}
	defer rows.Close()

	var result []limits.ExpenseLimit
	for rows.Next() {
		limit, err := scanLimit(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *limit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		if err := s.attachSubcategories(ctx, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) attachSubcategories(ctx context.Context, limit *limits.ExpenseLimit) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subcategory_id FROM expense_limit_subcategories
		WHERE limit_id = ? ORDER BY subcategory_id`, limit.ID)
	if err != nil {
		return fmt.Errorf("failed to query limit subcategories: %w", err)
	}
	defer rows.Close()

	limit.Subcategories = nil
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		limit.Subcategories = append(limit.Subcategories, id)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLimit(row rowScanner) (*limits.ExpenseLimit, error) {
	var (
		limit       limits.ExpenseLimit
		periodStart string
		periodEnd   string
		limitValue  string
		balance     string
		endDate     sql.NullString
		cumulative  int
		createdAt   string
	)

	err := row.Scan(&limit.ID, &limit.UserID, &limit.PeriodID, &periodStart, &periodEnd,
		&limitValue, &balance, &endDate, &cumulative, &limit.Title, &createdAt)
	if err != nil {
		return nil, err
	}

	if limit.PeriodStart, err = limits.ParseDate(periodStart); err != nil {
		return nil, err
	}
	if limit.PeriodEnd, err = limits.ParseDate(periodEnd); err != nil {
		return nil, err
	}
	if limit.LimitValue, err = decimal.NewFromString(limitValue); err != nil {
		return nil, fmt.Errorf("corrupt limit value %q: %w", limitValue, err)
	}
	if limit.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("corrupt balance %q: %w", balance, err)
	}
	if endDate.Valid {
		d, err := limits.ParseDate(endDate.String)
		if err != nil {
			return nil, err
		}
		limit.EndDate = &d
	}
	limit.Cumulative = cumulative != 0
	limit.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &limit, nil
}

// =============================================================================
// EXPENSE LEDGER (ledger.ExpenseStore, limits.ExpenseReader)
// =============================================================================

func (s *Store) InsertExpense(ctx context.Context, exp limits.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, user_id, amount, subcategory_id, event_time, location, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		exp.ID,
		exp.UserID,
		exp.Amount.String(),
		exp.SubcategoryID,
		exp.EventTime.UTC().Format(time.RFC3339),
		nullString(exp.Location),
		exp.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}
	return nil
}

func (s *Store) ListExpenses(ctx context.Context, userID int64) ([]limits.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, subcategory_id, event_time, location, created_at
		FROM expenses WHERE user_id = ? ORDER BY event_time DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var result []limits.Expense
	for rows.Next() {
		var (
			exp       limits.Expense
			amount    string
			eventTime string
			location  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&exp.ID, &exp.UserID, &amount, &exp.SubcategoryID,
			&eventTime, &location, &createdAt); err != nil {
			return nil, err
		}
		if exp.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt amount %q: %w", amount, err)
		}
		exp.EventTime, _ = time.Parse(time.RFC3339, eventTime)
		exp.Location = location.String
		exp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		result = append(result, exp)
	}
	return result, rows.Err()
}

// SumExpenses totals amounts in Go with decimal arithmetic; SQL SUM over
// the stored strings would silently fall back to floats.
func (s *Store) SumExpenses(ctx context.Context, userID int64, subcategoryIDs []int64, from, to limits.Date) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(subcategoryIDs) == 0 {
		return decimal.Zero, nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(subcategoryIDs)), ",")
	args := make([]any, 0, len(subcategoryIDs)+3)
	args = append(args, userID)
	for _, id := range subcategoryIDs {
		args = append(args, id)
	}
	args = append(args, from.String(), to.String())

	rows, err := s.db.QueryContext(ctx, `
		SELECT amount FROM expenses
		WHERE user_id = ?
		  AND subcategory_id IN (`+placeholders+`)
		  AND DATE(event_time) >= ? AND DATE(event_time) <= ?`, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query expense sum: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, err
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt amount %q: %w", raw, err)
		}
		sum = sum.Add(amount)
	}
	return sum, rows.Err()
}

// =============================================================================
// CATALOG STORE (limits.CatalogStore)
// =============================================================================

func (s *Store) GetPeriod(ctx context.Context, periodID int64) (*limits.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p limits.Period
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, length_days FROM periods WHERE id = ?`, periodID).
		Scan(&p.ID, &p.Name, &p.LengthDays)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPeriods(ctx context.Context) ([]limits.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, length_days FROM periods ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []limits.Period
	for rows.Next() {
		var p limits.Period
		if err := rows.Scan(&p.ID, &p.Name, &p.LengthDays); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) SubcategoryExists(ctx context.Context, subcategoryID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subcategories WHERE id = ?`, subcategoryID).Scan(&count)
	return count > 0, err
}

func (s *Store) UserExists(ctx context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE id = ?`, userID).Scan(&count)
	return count > 0, err
}

// SaveUser upserts a user row. Registration flows live outside this
// service; this keeps tests and seeding simple.
func (s *Store) SaveUser(ctx context.Context, u limits.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		u.ID, u.Name, time.Now().UTC().Format(time.RFC3339))
	return err
}

// SaveCategory upserts a category row.
func (s *Store) SaveCategory(ctx context.Context, c limits.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, title, slug) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, slug = excluded.slug`,
		c.ID, c.Title, c.Slug)
	return err
}

// SaveSubcategory upserts a subcategory row.
func (s *Store) SaveSubcategory(ctx context.Context, sc limits.Subcategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subcategories (id, category_id, title, slug) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category_id = excluded.category_id,
			title = excluded.title,
			slug = excluded.slug`,
		sc.ID, sc.CategoryID, sc.Title, sc.Slug)
	return err
}

// =============================================================================
// JOB STORE (sched.Store)
// =============================================================================

func (s *Store) UpsertJob(ctx context.Context, job sched.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, kind, run_at, user_id, user_title, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			run_at = excluded.run_at,
			user_id = excluded.user_id,
			user_title = excluded.user_title`,
		job.ID, job.Kind, job.RunAt.UTC().Format(time.RFC3339),
		job.UserID, job.UserTitle, createdAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}
	return nil
}

func (s *Store) DeleteJob(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete job: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) DueJobs(ctx context.Context, now time.Time) ([]sched.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, run_at, user_id, user_title, created_at
		FROM scheduled_jobs
		WHERE run_at <= ?
		ORDER BY run_at ASC`, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	defer rows.Close()

	var due []sched.Job
	for rows.Next() {
		var (
			job       sched.Job
			runAt     string
			createdAt string
		)
		if err := rows.Scan(&job.ID, &job.Kind, &runAt, &job.UserID, &job.UserTitle, &createdAt); err != nil {
			return nil, err
		}
		job.RunAt, _ = time.Parse(time.RFC3339, runAt)
		job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		due = append(due, job)
	}
	return due, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullDate(d *limits.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
