package billing

import (
	"context"
	"time"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================
// The engine owns no in-process state; everything that makes generation and
// penalty application idempotent lives behind these interfaces. Mutations
// carrying a guard ("only if still pending", "only if cursor unchanged")
// return a bool: false means the guard failed, which for this engine always
// means "someone else already did it" and is not an error.

// BillQuery filters the bill read model.
type BillQuery struct {
	TemplateID TemplateID
	Status     BillStatus
	DueBefore  *Date
	DueAfter   *Date
}

// TemplateStore persists bill templates.
type TemplateStore interface {
	SaveTemplate(ctx context.Context, t BillTemplate) error
	GetTemplate(ctx context.Context, id TemplateID) (*BillTemplate, error)
	ListTemplates(ctx context.Context) ([]BillTemplate, error)
}

// BillStore persists bills and their guarded lifecycle mutations.
type BillStore interface {
	// SaveBills inserts a batch atomically. A (template, due date) that
	// already exists fails the whole batch with ErrDuplicatePeriod.
	SaveBills(ctx context.Context, bills []Bill) error

	GetBill(ctx context.Context, id BillID) (*Bill, error)
	ListBills(ctx context.Context, q BillQuery) ([]Bill, error)

	// GetRootBill returns the lineage root (parent IS NULL) of a template.
	GetRootBill(ctx context.Context, id TemplateID) (*Bill, error)

	// ListAssessable returns the overdue sweep's work list: bills whose
	// due date is strictly before asOf, still PENDING or OVERDUE, with no
	// penalty applied yet. An OVERDUE bill stays on the list until its
	// penalty lands, so a penalty that is zero today (grace, rounding) can
	// still be applied at a later evaluation.
	ListAssessable(ctx context.Context, asOf Date) ([]Bill, error)

	// MarkOverdue flips a bill PENDING -> OVERDUE without touching its
	// penalty fields. Returns false if the bill is no longer PENDING.
	MarkOverdue(ctx context.Context, id BillID) (bool, error)

	// MarkOverduePenalized records the penalty and makes the bill OVERDUE,
	// guarded by a clear penalty-applied flag on a PENDING or OVERDUE
	// bill. Returns false if the guard failed (already penalized, paid,
	// or cancelled).
	MarkOverduePenalized(ctx context.Context, id BillID, newAmount, penalty Money) (bool, error)

	// ApplyExemption sets the exemption flag and audit fields, guarded by
	// penalty applied and not yet exempted. Returns false if the guard
	// failed or the bill does not exist.
	ApplyExemption(ctx context.Context, id BillID, by, reason string, at time.Time) (bool, error)

	// MarkPaid settles a PENDING or OVERDUE bill. Returns false when the
	// bill is already terminal.
	MarkPaid(ctx context.Context, id BillID, paidAt Date) (bool, error)

	// Cancel marks a PENDING bill with no penalty history CANCELLED.
	// Returns false when that guard fails.
	Cancel(ctx context.Context, id BillID) (bool, error)
}

// CursorStore persists generation cursors with compare-and-swap advancement.
type CursorStore interface {
	SaveCursor(ctx context.Context, c GenerationCursor) error
	GetCursor(ctx context.Context, id TemplateID) (*GenerationCursor, error)

	// AdvanceCursor moves the cursor from -> to, returning false when the
	// stored cursor is no longer at `from` (a concurrent writer won).
	AdvanceCursor(ctx context.Context, id TemplateID, from, to Date) (bool, error)
}

// Store is the full persistence surface the engine requires.
type Store interface {
	TemplateStore
	BillStore
	CursorStore
}
