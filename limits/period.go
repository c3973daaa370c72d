package limits

// =============================================================================
// PERIOD - Fixed-length budgeting window definition
// =============================================================================

// Period is a catalog entry describing a budgeting window length.
// The catalog is a small fixed set (week, month, year by default); a limit
// references one period id for its whole life, so every rollover produces a
// window of the same length.
type Period struct {
	ID         int64
	Name       string
	LengthDays int
}

// EndFor returns the end date of a window opening at start.
// A 30-day period starting 2024-01-01 ends 2024-01-31.
func (p Period) EndFor(start Date) Date {
	return start.AddDays(p.LengthDays)
}

// Default catalog ids, matching the seeded rows in store migrations.
const (
	PeriodWeek  int64 = 1
	PeriodMonth int64 = 2
	PeriodYear  int64 = 3
)

// DefaultPeriods returns the catalog seeded into a fresh store.
func DefaultPeriods() []Period {
	return []Period{
		{ID: PeriodWeek, Name: "week", LengthDays: 7},
		{ID: PeriodMonth, Name: "month", LengthDays: 30},
		{ID: PeriodYear, Name: "year", LengthDays: 365},
	}
}
