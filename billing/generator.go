/*
generator.go - Bill materialization and subscription advancement

PURPOSE:
  Orchestrates the installment splitter and the recurrence schedule to turn
  a template into concrete bills, maintaining the parent -> children lineage
  and guaranteeing at-most-once generation per period.

LINEAGE:
  The first bill generated from a template is the lineage root (nil parent).
  Every later bill - installments 2..N, subscription charges 2.. - points at
  the root. Lineage is exactly two levels deep.

GENERATION IDEMPOTENCY:
  Subscription advancement is made safe for concurrent schedulers by two
  independent storage guards:
    1. a unique (template, due date) constraint on bills, and
    2. compare-and-swap advancement of the generation cursor.
  Whichever writer loses either race gets ErrConcurrentGeneration; retrying
  observes the advanced cursor and no-ops. A crash between bill insert and
  cursor advance self-heals: the next advance hits the unique constraint and
  repairs the cursor before reporting the conflict.

SEE ALSO:
  - installment.go: Amount split policy
  - recurrence.go: Due-date sequence semantics
  - store.go: Guard semantics of SaveBills / AdvanceCursor
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultLookaheadDays is how far ahead of its due date a subscription
// charge is generated. 20 days covers the usual "generate on day 20 of the
// prior month for a bill due around the 20th" operating rhythm.
const DefaultLookaheadDays = 20

// Generator materializes bills from templates.
type Generator struct {
	Store         Store
	LookaheadDays int

	// NewID is swappable for deterministic tests.
	NewID func() string

	// Now stamps CreatedAt/UpdatedAt; swappable for deterministic tests.
	Now func() time.Time
}

func NewGenerator(store Store, lookaheadDays int) *Generator {
	if lookaheadDays <= 0 {
		lookaheadDays = DefaultLookaheadDays
	}
	return &Generator{
		Store:         store,
		LookaheadDays: lookaheadDays,
		NewID:         uuid.NewString,
		Now:           time.Now,
	}
}

// =============================================================================
// TEMPLATE CREATION
// =============================================================================

// CreateFromTemplate validates the template, persists it, and generates its
// initial bills:
//
//	ONE_TIME:     one bill.
//	INSTALLMENTS: all N bills immediately - the plan is fully known up front.
//	SUBSCRIPTION: the first period's bill plus a generation cursor at its
//	              due date; later periods are generated lazily by
//	              AdvanceSubscription.
//
// Returns the generated bills, lineage root first.
func (g *Generator) CreateFromTemplate(ctx context.Context, tmpl *BillTemplate) ([]Bill, error) {
	if tmpl.ID == "" {
		tmpl.ID = TemplateID(g.NewID())
	}
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = g.Now()
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}

	var bills []Bill
	switch tmpl.Mode {
	case ModeOneTime:
		bills = []Bill{g.newBill(tmpl, tmpl.Total, tmpl.AnchorDue, 0, 0, nil)}

	case ModeInstallments:
		parts, err := SplitInstallments(tmpl.Total, tmpl.InstallmentCount, tmpl.AnchorDue)
		if err != nil {
			return nil, err
		}
		bills = make([]Bill, 0, len(parts))
		var rootID *BillID
		for _, p := range parts {
			b := g.newBill(tmpl, p.Amount, p.DueDate, p.Index, p.Count, rootID)
			if rootID == nil {
				id := b.ID
				rootID = &id
			}
			bills = append(bills, b)
		}

	case ModeSubscription:
		// Validate() already checked the schedule; period 0 is the anchor.
		bills = []Bill{g.newBill(tmpl, tmpl.Total, tmpl.AnchorDue, 0, 0, nil)}
	}

	if err := g.Store.SaveTemplate(ctx, *tmpl); err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}
	if err := g.Store.SaveBills(ctx, bills); err != nil {
		return nil, fmt.Errorf("save bills: %w", err)
	}

	if tmpl.Mode == ModeSubscription {
		cursor := GenerationCursor{
			TemplateID:  tmpl.ID,
			LastDueDate: tmpl.AnchorDue,
			Generated:   1,
			UpdatedAt:   g.Now(),
		}
		if err := g.Store.SaveCursor(ctx, cursor); err != nil {
			return nil, fmt.Errorf("save cursor: %w", err)
		}
	}
	return bills, nil
}

// =============================================================================
// SUBSCRIPTION ADVANCEMENT
// =============================================================================

// AdvanceSubscription generates the next not-yet-created period's bill for a
// subscription template, if its due date is within the look-ahead window of
// asOf and the end condition is not exhausted. Idempotent: called again
// before the window opens, or after the end condition, it returns (nil, nil).
//
// Two concurrent calls cannot create two bills for the same period; the
// loser receives an error satisfying errors.Is(err, ErrConcurrentGeneration)
// and may retry immediately.
func (g *Generator) AdvanceSubscription(ctx context.Context, id TemplateID, asOf Date) (*Bill, error) {
	tmpl, err := g.Store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if tmpl.Mode != ModeSubscription {
		return nil, &InvalidRecurrenceError{Reason: "template " + string(id) + " is not a subscription"}
	}

	cursor, err := g.Store.GetCursor(ctx, id)
	if err != nil {
		return nil, err
	}

	sched, err := NewSchedule(tmpl.AnchorDue, tmpl.Recurrence.Period, tmpl.Recurrence.End)
	if err != nil {
		return nil, err
	}

	next, ok := sched.NextAfter(cursor.LastDueDate)
	if !ok {
		return nil, nil // end condition reached
	}
	if DaysBetween(asOf, next) > g.LookaheadDays {
		return nil, nil // window not open yet
	}

	root, err := g.Store.GetRootBill(ctx, id)
	if err != nil {
		return nil, err
	}
	bill := g.newBill(tmpl, tmpl.Total, next, 0, 0, &root.ID)

	if err := g.Store.SaveBills(ctx, []Bill{bill}); err != nil {
		if errors.Is(err, ErrDuplicatePeriod) {
			// Another writer inserted this period's bill (or a prior run
			// crashed before advancing the cursor). Repair the cursor so
			// the caller's retry converges, then report the race.
			if _, repairErr := g.Store.AdvanceCursor(ctx, id, cursor.LastDueDate, next); repairErr != nil {
				return nil, fmt.Errorf("repair cursor after duplicate period: %w", repairErr)
			}
			return nil, &GenerationConflictError{TemplateID: id, DueDate: next}
		}
		return nil, fmt.Errorf("save bill: %w", err)
	}

	advanced, err := g.Store.AdvanceCursor(ctx, id, cursor.LastDueDate, next)
	if err != nil {
		return nil, fmt.Errorf("advance cursor: %w", err)
	}
	if !advanced {
		return nil, &GenerationConflictError{TemplateID: id, DueDate: next}
	}
	return &bill, nil
}

// AdvanceAll catches a subscription up: it advances repeatedly until the
// window closes or the end condition is reached, retrying once per period on
// a lost race. maxPeriods bounds the loop so one template cannot stall a
// scheduler tick.
func (g *Generator) AdvanceAll(ctx context.Context, id TemplateID, asOf Date, maxPeriods int) ([]Bill, error) {
	var out []Bill
	for i := 0; i < maxPeriods; i++ {
		bill, err := g.AdvanceSubscription(ctx, id, asOf)
		if err != nil {
			if IsRetryable(err) {
				continue // retry observes the advanced cursor
			}
			return out, err
		}
		if bill == nil {
			break
		}
		out = append(out, *bill)
	}
	return out, nil
}

func (g *Generator) newBill(tmpl *BillTemplate, amount Money, due Date, index, count int, parent *BillID) Bill {
	return Bill{
		ID:               BillID(g.NewID()),
		TemplateID:       tmpl.ID,
		ParentID:         parent,
		Amount:           amount,
		OriginalAmount:   amount,
		DueDate:          due,
		Status:           StatusPending,
		InstallmentIndex: index,
		InstallmentCount: count,
		PenaltyAmount:    amount.Zero(),
		Attribution:      tmpl.Attribution,
		CreatedAt:        g.Now(),
	}
}
