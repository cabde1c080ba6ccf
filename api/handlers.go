/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the engine via REST. Handles HTTP request/response, JSON
  serialization, and delegates all correctness to the engine: handlers never
  mutate billing state directly.

ENDPOINTS:
  Templates:
    POST   /api/templates                 Create template + initial bills
    GET    /api/templates                 List templates
    GET    /api/templates/{id}            Get template with cursor state

  Bills:
    GET    /api/bills                     Read model (filters + lineage)
    GET    /api/bills/{id}                One bill with children
    POST   /api/bills/exempt-penalty      Bulk penalty exemption
    POST   /api/bills/{id}/exempt-penalty Single-bill exemption
    POST   /api/bills/{id}/pay            Settle (late settlement allowed)
    POST   /api/bills/{id}/cancel         Cancel a pending bill

  Scheduler:
    POST   /api/scheduler/run             Manual sweep trigger
    GET    /api/scheduler/runs            Run journal

ERROR HANDLING:
  Engine errors map to HTTP status by classification:
  - billing.IsClientError -> 400
  - billing.IsNotFound    -> 404
  - billing.IsRetryable   -> 409 (safe to retry immediately)
  - anything else         -> 500

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: The periodic driver behind /api/scheduler
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Generator  *billing.Generator
	Assessor   *billing.Assessor
	Exemptions *billing.Exemptions
	Scheduler  *Scheduler
	Currency   billing.Currency
	Metrics    *Metrics
}

// NewHandler wires the engine services around one store.
func NewHandler(store *sqlite.Store, currency billing.Currency, policy billing.PenaltyPolicy, lookaheadDays int, metrics *Metrics) *Handler {
	return &Handler{
		Store:      store,
		Generator:  billing.NewGenerator(store, lookaheadDays),
		Assessor:   billing.NewAssessor(store, policy),
		Exemptions: billing.NewExemptions(store),
		Currency:   currency,
		Metrics:    metrics,
	}
}

// =============================================================================
// TEMPLATE HANDLERS
// =============================================================================

// CreateTemplate creates a template and returns its initially generated
// bills: one for ONE_TIME, all N for INSTALLMENTS, the first period for
// SUBSCRIPTION.
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req CreateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tmpl, err := h.templateFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid template", err)
		return
	}

	bills, err := h.Generator.CreateFromTemplate(r.Context(), tmpl)
	if err != nil {
		writeEngineError(w, "Failed to create template", err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.BillsGenerated.WithLabelValues(string(tmpl.Mode)).Add(float64(len(bills)))
	}

	cursor, err := h.cursorFor(r, tmpl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read generation cursor", err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateTemplateResponse{
		Template: templateToDTO(*tmpl, cursor),
		Bills:    billsToDTOs(bills),
	})
}

func (h *Handler) templateFromRequest(req CreateTemplateRequest) (*billing.BillTemplate, error) {
	total, err := billing.ParseMoney(req.Amount, h.Currency)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", req.Amount, err)
	}
	due, err := billing.ParseDate(req.DueDate)
	if err != nil {
		return nil, err
	}

	tmpl := &billing.BillTemplate{
		Description:      req.Description,
		Total:            total,
		AnchorDue:        due,
		Mode:             billing.PaymentMode(req.Mode),
		InstallmentCount: req.InstallmentCount,
		Attribution: billing.Attribution{
			TenantID:        req.TenantID,
			CategoryID:      req.CategoryID,
			BankID:          req.BankID,
			PaymentMethodID: req.PaymentMethodID,
		},
	}
	if req.Recurrence != nil {
		rc := &billing.RecurrenceConfig{
			Period: billing.RecurrencePeriod(req.Recurrence.Period),
			End: billing.EndCondition{
				Type:  billing.EndConditionType(req.Recurrence.EndType),
				Count: req.Recurrence.Count,
			},
		}
		if rc.End.Type == "" {
			rc.End.Type = billing.EndNone
		}
		if req.Recurrence.EndDate != "" {
			if rc.End.Until, err = billing.ParseDate(req.Recurrence.EndDate); err != nil {
				return nil, err
			}
		}
		tmpl.Recurrence = rc
	}
	return tmpl, nil
}

// ListTemplates returns all templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.Store.ListTemplates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list templates", err)
		return
	}

	dtos := make([]TemplateDTO, len(templates))
	for i := range templates {
		cursor, err := h.cursorFor(r, &templates[i])
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to read generation cursor", err)
			return
		}
		dtos[i] = templateToDTO(templates[i], cursor)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTemplate returns one template with its cursor state.
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id := billing.TemplateID(chi.URLParam(r, "id"))
	tmpl, err := h.Store.GetTemplate(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to get template", err)
		return
	}
	cursor, err := h.cursorFor(r, tmpl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read generation cursor", err)
		return
	}
	writeJSON(w, http.StatusOK, templateToDTO(*tmpl, cursor))
}

// cursorFor loads the generation cursor for a subscription template. A missing
// cursor is a legitimate state (the template has no generated bills yet) and
// yields nil; any other storage failure is returned to the caller.
func (h *Handler) cursorFor(r *http.Request, tmpl *billing.BillTemplate) (*billing.GenerationCursor, error) {
	if tmpl.Mode != billing.ModeSubscription {
		return nil, nil
	}
	cursor, err := h.Store.GetCursor(r.Context(), tmpl.ID)
	if err != nil {
		if errors.Is(err, billing.ErrCursorNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return cursor, nil
}

// =============================================================================
// BILL HANDLERS
// =============================================================================

// ListBills is the read model: filter by template, status, due window. The
// result is a flat slice; lineage between a root bill and its children is
// carried by each BillDTO's parent_id. GetBill is the endpoint that embeds
// children under their root.
func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	q := billing.BillQuery{
		TemplateID: billing.TemplateID(r.URL.Query().Get("template_id")),
		Status:     billing.BillStatus(r.URL.Query().Get("status")),
	}
	if s := r.URL.Query().Get("due_before"); s != "" {
		d, err := billing.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid due_before", err)
			return
		}
		q.DueBefore = &d
	}
	if s := r.URL.Query().Get("due_after"); s != "" {
		d, err := billing.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid due_after", err)
			return
		}
		q.DueAfter = &d
	}

	bills, err := h.Store.ListBills(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list bills", err)
		return
	}
	writeJSON(w, http.StatusOK, billsToDTOs(bills))
}

// GetBill returns one bill; the lineage root embeds its children.
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	id := billing.BillID(chi.URLParam(r, "id"))
	bill, err := h.Store.GetBill(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to get bill", err)
		return
	}

	dto := billToDTO(*bill)
	if bill.ParentID == nil {
		siblings, err := h.Store.ListBills(r.Context(), billing.BillQuery{TemplateID: bill.TemplateID})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load children", err)
			return
		}
		for _, s := range siblings {
			if s.ParentID != nil && *s.ParentID == bill.ID {
				dto.Children = append(dto.Children, billToDTO(s))
			}
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// ExemptPenalty handles both the bulk endpoint and the single-bill variant.
func (h *Handler) ExemptPenalty(w http.ResponseWriter, r *http.Request) {
	var req ExemptPenaltyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ids := make([]billing.BillID, 0, len(req.BillIDs)+1)
	if single := chi.URLParam(r, "id"); single != "" {
		ids = append(ids, billing.BillID(single))
	}
	for _, id := range req.BillIDs {
		ids = append(ids, billing.BillID(id))
	}

	res, err := h.Exemptions.Exempt(r.Context(), ids, req.Actor, req.Reason, time.Now().UTC())
	if err != nil {
		writeEngineError(w, "Failed to exempt penalty", err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.ExemptionsGranted.Add(float64(res.Updated))
	}
	writeJSON(w, http.StatusOK, ExemptPenaltyResponse{
		UpdatedCount: res.Updated,
		SkippedCount: res.Skipped,
	})
}

// PayBill settles a pending or overdue bill.
func (h *Handler) PayBill(w http.ResponseWriter, r *http.Request) {
	id := billing.BillID(chi.URLParam(r, "id"))

	var req PayBillRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	paidAt := billing.Today()
	if req.PaidAt != "" {
		var err error
		if paidAt, err = billing.ParseDate(req.PaidAt); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid paid_at", err)
			return
		}
	}

	updated, err := h.Store.MarkPaid(r.Context(), id, paidAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to mark bill paid", err)
		return
	}
	if !updated {
		writeError(w, http.StatusConflict, "Bill is not payable (already paid or cancelled)", nil)
		return
	}

	bill, err := h.Store.GetBill(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to reload bill", err)
		return
	}
	writeJSON(w, http.StatusOK, billToDTO(*bill))
}

// CancelBill cancels a pending bill with no penalty history.
func (h *Handler) CancelBill(w http.ResponseWriter, r *http.Request) {
	id := billing.BillID(chi.URLParam(r, "id"))

	updated, err := h.Store.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to cancel bill", err)
		return
	}
	if !updated {
		writeError(w, http.StatusConflict, "Bill cannot be cancelled", billing.ErrNotCancellable)
		return
	}

	bill, err := h.Store.GetBill(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to reload bill", err)
		return
	}
	writeJSON(w, http.StatusOK, billToDTO(*bill))
}

// =============================================================================
// SCHEDULER HANDLERS
// =============================================================================

// RunScheduler triggers a sweep synchronously and returns its report.
// The as_of parameter exists so operators (and tests) can evaluate a fixed
// date instead of the wall clock.
func (h *Handler) RunScheduler(w http.ResponseWriter, r *http.Request) {
	var req RunSchedulerRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	asOf := billing.Today()
	if req.AsOf != "" {
		var err error
		if asOf, err = billing.ParseDate(req.AsOf); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of", err)
			return
		}
	}

	run := h.Scheduler.RunOnce(r.Context(), asOf, "manual")
	writeJSON(w, http.StatusOK, runToDTO(run))
}

// ListSchedulerRuns returns the sweep journal, newest first.
func (h *Handler) ListSchedulerRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListSchedulerRuns(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list scheduler runs", err)
		return
	}
	dtos := make([]SchedulerRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = runToDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func runToDTO(r sqlite.SchedulerRun) SchedulerRunDTO {
	dto := SchedulerRunDTO{
		ID:               r.ID,
		Trigger:          r.Trigger,
		AsOf:             r.AsOf.String(),
		StartedAt:        r.StartedAt.UTC().Format(time.RFC3339),
		Generated:        r.Generated,
		FlaggedOverdue:   r.FlaggedOverdue,
		PenaltiesApplied: r.PenaltiesApplied,
		Errors:           r.Errors,
		Error:            r.Error,
	}
	if r.FinishedAt != nil {
		dto.FinishedAt = r.FinishedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine error classes to HTTP status codes.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case billing.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case billing.IsRetryable(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
