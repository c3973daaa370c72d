/*
handlers.go - HTTP handlers for the limit engine boundary

PURPOSE:
  The inbound surface the dialogue layer calls: create limits, record
  expenses, list/summarize limits, delete limits, list periods. Handlers
  decode and validate DTOs, call the engine/ledger, and translate the error
  taxonomy into status codes. No domain logic lives here.

ERROR MAPPING:
  duplicate title        -> 409
  other validation error -> 400
  not found              -> 404
  anything else          -> 500 (internal detail never leaks to clients)

SEE ALSO:
  - dto.go: Request/response shapes
  - server.go: Routes
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/budgetbot/limit-engine/ledger"
	"github.com/budgetbot/limit-engine/limits"
)

// Handler bundles the services behind the HTTP surface.
type Handler struct {
	Engine  *limits.Engine
	Ledger  *ledger.Service
	Catalog limits.CatalogStore

	log      *zap.SugaredLogger
	validate *validator.Validate
}

func NewHandler(engine *limits.Engine, ledgerSvc *ledger.Service, catalog limits.CatalogStore, log *zap.SugaredLogger) *Handler {
	return &Handler{
		Engine:   engine,
		Ledger:   ledgerSvc,
		Catalog:  catalog,
		log:      log,
		validate: validator.New(),
	}
}

// =============================================================================
// LIMITS
// =============================================================================

// CreateLimit handles POST /api/limits.
func (h *Handler) CreateLimit(w http.ResponseWriter, r *http.Request) {
	var req CreateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	periodStart, err := limits.ParseDate(req.PeriodStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid period_start")
		return
	}

	limitValue, err := decimal.NewFromString(req.LimitValue)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit_value")
		return
	}

	var endDate *limits.Date
	if req.EndDate != nil {
		d, err := limits.ParseDate(*req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end_date")
			return
		}
		if !d.After(limits.Today()) {
			writeError(w, http.StatusBadRequest, "end_date must be in the future")
			return
		}
		endDate = &d
	}

	id, err := h.Engine.Create(r.Context(), limits.CreateInput{
		UserID:        req.UserID,
		PeriodID:      req.PeriodID,
		PeriodStart:   periodStart,
		LimitValue:    limitValue,
		Cumulative:    req.Cumulative,
		Title:         req.Title,
		Subcategories: req.Subcategories,
		EndDate:       endDate,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// ListLimits handles GET /api/users/{userID}/limits.
func (h *Handler) ListLimits(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	all, err := h.Engine.SelectByUser(r.Context(), userID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	dtos := make([]LimitDTO, 0, len(all))
	for _, l := range all {
		dtos = append(dtos, toLimitDTO(l))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListSummaries handles GET /api/users/{userID}/limits/summary.
func (h *Handler) ListSummaries(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	summaries, err := h.Engine.Summaries(r.Context(), userID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	dtos := make([]SummaryDTO, 0, len(summaries))
	for _, s := range summaries {
		dtos = append(dtos, toSummaryDTO(s))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DeleteLimit handles DELETE /api/users/{userID}/limits/{title}.
// Deleting an absent limit is a no-op and still returns 204.
func (h *Handler) DeleteLimit(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	title := chi.URLParam(r, "title")
	if title == "" {
		writeError(w, http.StatusBadRequest, "missing title")
		return
	}

	if err := h.Engine.Delete(r.Context(), userID, title); err != nil {
		h.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// EXPENSES
// =============================================================================

// RecordExpense handles POST /api/expenses.
func (h *Handler) RecordExpense(w http.ResponseWriter, r *http.Request) {
	var req RecordExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	eventTime, err := time.Parse(time.RFC3339, req.EventTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event_time, expected RFC3339")
		return
	}

	id, err := h.Ledger.Record(r.Context(), ledger.RecordInput{
		UserID:        req.UserID,
		Amount:        amount,
		SubcategoryID: req.SubcategoryID,
		EventTime:     eventTime,
		Location:      req.Location,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// =============================================================================
// PERIODS
// =============================================================================

// ListPeriods handles GET /api/periods.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := h.Catalog.ListPeriods(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	dtos := make([]PeriodDTO, 0, len(periods))
	for _, p := range periods {
		dtos = append(dtos, PeriodDTO{ID: p.ID, Name: p.Name, LengthDays: p.LengthDays})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "userID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, limits.ErrDuplicateTitle):
		writeError(w, http.StatusConflict, err.Error())
	case limits.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case limits.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Errorw("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
