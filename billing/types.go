package billing

import (
	"fmt"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TemplateID string
type BillID string

// =============================================================================
// PAYMENT MODE - How a template materializes into bills
// =============================================================================

type PaymentMode string

const (
	ModeOneTime      PaymentMode = "ONE_TIME"     // single bill, no recurrence
	ModeInstallments PaymentMode = "INSTALLMENTS" // N bills known up front, total split exactly
	ModeSubscription PaymentMode = "SUBSCRIPTION" // bills generated incrementally ahead of each due date
)

// =============================================================================
// BILL TEMPLATE - The payment intent
// =============================================================================

// Attribution carries opaque foreign keys from collaborating systems.
// The engine stores and returns them, never interprets them.
type Attribution struct {
	TenantID        string
	CategoryID      string
	BankID          string
	PaymentMethodID string
}

// BillTemplate is the payment intent from which bills are generated.
// Exactly one of InstallmentCount / Recurrence is meaningful, selected by
// Mode; Validate enforces that.
type BillTemplate struct {
	ID          TemplateID
	Description string
	Total       Money
	AnchorDue   Date
	Mode        PaymentMode

	// INSTALLMENTS only
	InstallmentCount int

	// SUBSCRIPTION only
	Recurrence *RecurrenceConfig

	Attribution Attribution
	CreatedAt   time.Time
}

// Validate checks the mode-dependent invariants of the template.
func (t *BillTemplate) Validate() error {
	if !t.Total.IsPositive() {
		return &InvalidAmountError{Amount: t.Total}
	}
	if t.AnchorDue.IsZero() {
		return &InvalidRecurrenceError{Reason: "anchor due date is required"}
	}
	switch t.Mode {
	case ModeOneTime:
		if t.InstallmentCount != 0 || t.Recurrence != nil {
			return &InvalidRecurrenceError{Reason: "one-time template carries no installment count or recurrence"}
		}
	case ModeInstallments:
		if t.InstallmentCount < 1 {
			return &InvalidInstallmentCountError{Count: t.InstallmentCount}
		}
		if t.Recurrence != nil {
			return &InvalidRecurrenceError{Reason: "installment template carries no recurrence"}
		}
	case ModeSubscription:
		if t.InstallmentCount != 0 {
			return &InvalidRecurrenceError{Reason: "subscription template carries no installment count"}
		}
		if t.Recurrence == nil {
			return &InvalidRecurrenceError{Reason: "subscription template requires a recurrence"}
		}
		if _, err := NewSchedule(t.AnchorDue, t.Recurrence.Period, t.Recurrence.End); err != nil {
			return err
		}
	default:
		return &InvalidRecurrenceError{Reason: "unknown payment mode " + string(t.Mode)}
	}
	return nil
}

// =============================================================================
// BILL - One concrete financial obligation
// =============================================================================

type BillStatus string

const (
	StatusPending   BillStatus = "PENDING"
	StatusPaid      BillStatus = "PAID"
	StatusOverdue   BillStatus = "OVERDUE"
	StatusCancelled BillStatus = "CANCELLED"
)

// Bill is one concrete obligation. The first bill generated from a template
// is the lineage root (ParentID nil); every later bill points at it. Lineage
// is two levels deep, never more.
type Bill struct {
	ID         BillID
	TemplateID TemplateID
	ParentID   *BillID

	// Amount is what the counterparty currently owes; it equals
	// OriginalAmount until a penalty is applied, then original + penalty.
	Amount         Money
	OriginalAmount Money
	DueDate        Date
	Status         BillStatus

	// Installment position, e.g. 2 of 6, rendered "2/6". Zero for
	// one-time bills and subscription charges.
	InstallmentIndex int
	InstallmentCount int

	PenaltyAmount  Money
	PenaltyApplied bool

	// Exemption audit. The three fields are populated together or not at
	// all; PenaltyAmount is preserved for history even when exempted.
	PenaltyExempted bool
	ExemptedBy      string
	ExemptedAt      *time.Time
	ExemptedReason  string

	PaidAt *Date

	Attribution Attribution
	CreatedAt   time.Time
}

// InstallmentLabel renders the position as "i/N", or "" when not part of an
// installment plan.
func (b *Bill) InstallmentLabel() string {
	return installmentLabel(b.InstallmentIndex, b.InstallmentCount)
}

func installmentLabel(index, count int) string {
	if count == 0 {
		return ""
	}
	return fmt.Sprintf("%d/%d", index, count)
}

// EffectiveDue is the amount to collect: the full amount including penalty,
// or the original amount when the penalty has been exempted.
func (b *Bill) EffectiveDue() Money {
	if b.PenaltyExempted {
		return b.Amount.Sub(b.PenaltyAmount)
	}
	return b.Amount
}

// =============================================================================
// GENERATION CURSOR - Per-subscription idempotency marker
// =============================================================================

// GenerationCursor records the most recently generated period for a
// subscription. It is persisted, never held in memory, so repeated or
// concurrent scheduler runs converge on at most one bill per period.
type GenerationCursor struct {
	TemplateID  TemplateID
	LastDueDate Date
	Generated   int // charges generated so far, including the first
	UpdatedAt   time.Time
}

// =============================================================================
// RESULT TYPES
// =============================================================================

// ExemptionResult summarizes a bulk exemption: how many bills were waived
// versus skipped (no penalty, already exempted, or unknown id).
type ExemptionResult struct {
	Updated int
	Skipped int
}

// SweepResult summarizes one overdue sweep. FlaggedOverdue and
// PenaltiesApplied usually move together, but a bill whose penalty still
// computes to zero is flagged without a penalty, which lands in a later
// sweep.
type SweepResult struct {
	FlaggedOverdue   int
	PenaltiesApplied int
	Skipped          int
	Errors           int
}
