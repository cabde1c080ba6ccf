/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the engine's
  domain model from the external contract. Monetary values cross the wire as
  decimal strings, never JSON numbers, so precision survives serialization.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// TEMPLATE TYPES
// =============================================================================

// RecurrenceDTO mirrors billing.RecurrenceConfig.
type RecurrenceDTO struct {
	Period  string `json:"period"`              // MONTHLY, BIMONTHLY, QUARTERLY, SEMIANNUAL, ANNUAL
	EndType string `json:"end_type"`            // NONE, END_DATE, COUNT
	EndDate string `json:"end_date,omitempty"`  // YYYY-MM-DD, END_DATE only
	Count   int    `json:"count,omitempty"`     // COUNT only
}

// CreateTemplateRequest creates a bill template and its initial bills.
type CreateTemplateRequest struct {
	Description      string         `json:"description"`
	Amount           string         `json:"amount"` // decimal string, e.g. "250.00"
	DueDate          string         `json:"due_date"`
	Mode             string         `json:"mode"` // ONE_TIME, INSTALLMENTS, SUBSCRIPTION
	InstallmentCount int            `json:"installment_count,omitempty"`
	Recurrence       *RecurrenceDTO `json:"recurrence,omitempty"`

	TenantID        string `json:"tenant_id,omitempty"`
	CategoryID      string `json:"category_id,omitempty"`
	BankID          string `json:"bank_id,omitempty"`
	PaymentMethodID string `json:"payment_method_id,omitempty"`
}

// TemplateDTO represents a template in responses.
type TemplateDTO struct {
	ID               string         `json:"id"`
	Description      string         `json:"description"`
	Amount           string         `json:"amount"`
	Currency         string         `json:"currency"`
	DueDate          string         `json:"due_date"`
	Mode             string         `json:"mode"`
	InstallmentCount int            `json:"installment_count,omitempty"`
	Recurrence       *RecurrenceDTO `json:"recurrence,omitempty"`
	Cursor           *CursorDTO     `json:"cursor,omitempty"`
	CreatedAt        string         `json:"created_at,omitempty"`
}

// CursorDTO exposes the generation cursor of a subscription.
type CursorDTO struct {
	LastDueDate string `json:"last_due_date"`
	Generated   int    `json:"generated"`
}

// CreateTemplateResponse returns the template and its generated bills.
type CreateTemplateResponse struct {
	Template TemplateDTO `json:"template"`
	Bills    []BillDTO   `json:"bills"`
}

// =============================================================================
// BILL TYPES
// =============================================================================

// BillDTO represents one bill, including lineage and penalty state.
type BillDTO struct {
	ID               string    `json:"id"`
	TemplateID       string    `json:"template_id"`
	ParentID         *string   `json:"parent_id,omitempty"`
	Amount           string    `json:"amount"`
	OriginalAmount   string    `json:"original_amount"`
	EffectiveDue     string    `json:"effective_due"`
	Currency         string    `json:"currency"`
	DueDate          string    `json:"due_date"`
	Status           string    `json:"status"`
	Installment      string    `json:"installment,omitempty"` // "2/6"
	PenaltyAmount    string    `json:"penalty_amount"`
	PenaltyApplied   bool      `json:"penalty_applied"`
	PenaltyExempted  bool      `json:"penalty_exempted"`
	ExemptedBy       string    `json:"exempted_by,omitempty"`
	ExemptedAt       string    `json:"exempted_at,omitempty"`
	ExemptedReason   string    `json:"exempted_reason,omitempty"`
	PaidAt           string    `json:"paid_at,omitempty"`
	TenantID         string    `json:"tenant_id,omitempty"`
	CategoryID       string    `json:"category_id,omitempty"`
	BankID           string    `json:"bank_id,omitempty"`
	PaymentMethodID  string    `json:"payment_method_id,omitempty"`
	// Children is populated only when a single bill is fetched by ID. List
	// endpoints return a flat slice where lineage is carried by ParentID.
	Children []BillDTO `json:"children,omitempty"`
}

// ExemptPenaltyRequest waives penalties on one or more bills.
type ExemptPenaltyRequest struct {
	BillIDs []string `json:"bill_ids,omitempty"` // bulk endpoint
	Actor   string   `json:"actor"`
	Reason  string   `json:"reason,omitempty"`
}

// ExemptPenaltyResponse summarizes a bulk exemption.
type ExemptPenaltyResponse struct {
	UpdatedCount int `json:"updated_count"`
	SkippedCount int `json:"skipped_count"`
}

// PayBillRequest settles a bill.
type PayBillRequest struct {
	PaidAt string `json:"paid_at,omitempty"` // defaults to today
}

// =============================================================================
// SCHEDULER TYPES
// =============================================================================

// RunSchedulerRequest triggers a sweep, optionally at a fixed date.
type RunSchedulerRequest struct {
	AsOf string `json:"as_of,omitempty"` // defaults to today
}

// SchedulerRunDTO is one entry of the run journal.
type SchedulerRunDTO struct {
	ID               string `json:"id"`
	Trigger          string `json:"trigger"`
	AsOf             string `json:"as_of"`
	StartedAt        string `json:"started_at"`
	FinishedAt       string `json:"finished_at,omitempty"`
	Generated        int    `json:"generated"`
	FlaggedOverdue   int    `json:"flagged_overdue"`
	PenaltiesApplied int    `json:"penalties_applied"`
	Errors           int    `json:"errors"`
	Error            string `json:"error,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func billToDTO(b billing.Bill) BillDTO {
	dto := BillDTO{
		ID:              string(b.ID),
		TemplateID:      string(b.TemplateID),
		Amount:          b.Amount.String(),
		OriginalAmount:  b.OriginalAmount.String(),
		EffectiveDue:    b.EffectiveDue().String(),
		Currency:        b.Amount.Currency.Code,
		DueDate:         b.DueDate.String(),
		Status:          string(b.Status),
		Installment:     b.InstallmentLabel(),
		PenaltyAmount:   b.PenaltyAmount.String(),
		PenaltyApplied:  b.PenaltyApplied,
		PenaltyExempted: b.PenaltyExempted,
		ExemptedBy:      b.ExemptedBy,
		ExemptedReason:  b.ExemptedReason,
		TenantID:        b.Attribution.TenantID,
		CategoryID:      b.Attribution.CategoryID,
		BankID:          b.Attribution.BankID,
		PaymentMethodID: b.Attribution.PaymentMethodID,
	}
	if b.ParentID != nil {
		p := string(*b.ParentID)
		dto.ParentID = &p
	}
	if b.ExemptedAt != nil {
		dto.ExemptedAt = b.ExemptedAt.UTC().Format(time.RFC3339)
	}
	if b.PaidAt != nil {
		dto.PaidAt = b.PaidAt.String()
	}
	return dto
}

func billsToDTOs(bills []billing.Bill) []BillDTO {
	out := make([]BillDTO, len(bills))
	for i, b := range bills {
		out[i] = billToDTO(b)
	}
	return out
}

func templateToDTO(t billing.BillTemplate, cursor *billing.GenerationCursor) TemplateDTO {
	dto := TemplateDTO{
		ID:               string(t.ID),
		Description:      t.Description,
		Amount:           t.Total.String(),
		Currency:         t.Total.Currency.Code,
		DueDate:          t.AnchorDue.String(),
		Mode:             string(t.Mode),
		InstallmentCount: t.InstallmentCount,
		CreatedAt:        t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.Recurrence != nil {
		rd := &RecurrenceDTO{
			Period:  string(t.Recurrence.Period),
			EndType: string(t.Recurrence.End.Type),
			Count:   t.Recurrence.End.Count,
		}
		if t.Recurrence.End.Type == billing.EndDate {
			rd.EndDate = t.Recurrence.End.Until.String()
		}
		dto.Recurrence = rd
	}
	if cursor != nil {
		dto.Cursor = &CursorDTO{
			LastDueDate: cursor.LastDueDate.String(),
			Generated:   cursor.Generated,
		}
	}
	return dto
}
