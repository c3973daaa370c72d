/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for the HTTP boundary. They decouple the engine's domain
  types from the wire contract: money travels as decimal strings, dates as
  "2006-01-02", timestamps as RFC3339.

VALIDATION:
  Request types carry go-playground/validator tags; handlers run the shared
  Validate instance before touching the engine, so structurally broken
  requests never reach domain code. Semantic checks (duplicate title,
  unknown subcategory) stay in the engine.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/budgetbot/limit-engine/limits"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateLimitRequest is the dialogue layer's payload for a new limit.
type CreateLimitRequest struct {
	UserID        int64   `json:"user_id" validate:"required"`
	PeriodID      int64   `json:"period_id" validate:"required"`
	PeriodStart   string  `json:"period_start" validate:"required,datetime=2006-01-02"`
	LimitValue    string  `json:"limit_value" validate:"required"`
	Cumulative    bool    `json:"cumulative"`
	Title         string  `json:"title" validate:"required,min=1,max=100"`
	Subcategories []int64 `json:"subcategories" validate:"required,min=1,max=5,dive,gt=0"`
	EndDate       *string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// RecordExpenseRequest is one expense event.
type RecordExpenseRequest struct {
	UserID        int64  `json:"user_id" validate:"required"`
	Amount        string `json:"amount" validate:"required"`
	SubcategoryID int64  `json:"subcategory_id" validate:"required"`
	EventTime     string `json:"event_time" validate:"required"`
	Location      string `json:"location,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type CreatedResponse struct {
	ID string `json:"id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// LimitDTO represents an expense limit in API responses.
type LimitDTO struct {
	ID            string  `json:"id"`
	UserID        int64   `json:"user_id"`
	PeriodID      int64   `json:"period_id"`
	PeriodStart   string  `json:"period_start"`
	PeriodEnd     string  `json:"period_end"`
	LimitValue    string  `json:"limit_value"`
	Balance       string  `json:"balance"`
	EndDate       *string `json:"end_date,omitempty"`
	Cumulative    bool    `json:"cumulative"`
	Title         string  `json:"title"`
	Subcategories []int64 `json:"subcategories"`
	CreatedAt     string  `json:"created_at,omitempty"`
}

// SummaryDTO is the statistics read model per limit.
type SummaryDTO struct {
	Title       string  `json:"title"`
	PeriodStart string  `json:"period_start"`
	PeriodEnd   string  `json:"period_end"`
	Balance     string  `json:"balance"`
	LimitValue  string  `json:"limit_value"`
	Cumulative  bool    `json:"cumulative"`
	EndDate     *string `json:"end_date,omitempty"`
	FreePercent string  `json:"free_percent"`
}

// PeriodDTO is one period catalog entry.
type PeriodDTO struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	LengthDays int    `json:"length_days"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toLimitDTO(l limits.ExpenseLimit) LimitDTO {
	dto := LimitDTO{
		ID:            l.ID,
		UserID:        l.UserID,
		PeriodID:      l.PeriodID,
		PeriodStart:   l.PeriodStart.String(),
		PeriodEnd:     l.PeriodEnd.String(),
		LimitValue:    l.LimitValue.String(),
		Balance:       l.Balance.String(),
		Cumulative:    l.Cumulative,
		Title:         l.Title,
		Subcategories: l.Subcategories,
	}
	if l.EndDate != nil {
		s := l.EndDate.String()
		dto.EndDate = &s
	}
	if !l.CreatedAt.IsZero() {
		dto.CreatedAt = l.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toSummaryDTO(s limits.Summary) SummaryDTO {
	dto := SummaryDTO{
		Title:       s.Title,
		PeriodStart: s.PeriodStart.String(),
		PeriodEnd:   s.PeriodEnd.String(),
		Balance:     s.Balance.String(),
		LimitValue:  s.LimitValue.String(),
		Cumulative:  s.Cumulative,
		FreePercent: s.FreePercent.String(),
	}
	if s.EndDate != nil {
		e := s.EndDate.String()
		dto.EndDate = &e
	}
	return dto
}
