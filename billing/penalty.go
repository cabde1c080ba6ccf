/*
penalty.go - Late-payment fine and interest calculation

PURPOSE:
  Computes the penalty on an overdue bill and drives the PENDING -> OVERDUE
  transition. The formula:

    penalty = original * fine%
            + original * monthlyRate% * max(0, daysLate - grace) / 30

  rounded half-up to the currency's minor unit.

IDEMPOTENCY:
  A bill's penalty is applied exactly once per delinquency, at the first
  evaluation where the formula yields a positive amount. A bill that is late
  while its penalty still computes to zero (tiny amounts rounding away, or a
  fine-free policy inside the grace period) is flagged OVERDUE but stays
  assessable; the penalty-applied flag is only ever set together with a
  positive penalty amount. The store-level guard (penalty not yet applied)
  makes re-evaluation on every scheduler tick a no-op afterwards: the penalty
  never re-accrues or compounds from repeated sweeps. Re-running Assess with
  the same inputs always yields the same amount.

SEE ALSO:
  - exemption.go: Audited waiver of an applied penalty
  - store.go: MarkOverduePenalized guard semantics
*/
package billing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PENALTY POLICY
// =============================================================================

// PenaltyPolicy carries the tenant's delinquency terms. Percentages are
// expressed as percent values (2 means 2%).
type PenaltyPolicy struct {
	FinePercent    decimal.Decimal // one-off fine on the original amount
	MonthlyRatePct decimal.Decimal // interest per 30 days late
	GraceDays      int             // days late before interest starts accruing
}

var oneHundred = decimal.NewFromInt(100)
var thirty = decimal.NewFromInt(30)

// Assess computes the penalty for a bill due on dueDate, evaluated at asOf.
// Returns zero when the bill is not yet late. Pure: no state is read or
// written, so the result is reproducible for audit.
func (p PenaltyPolicy) Assess(original Money, dueDate, asOf Date) Money {
	daysLate := DaysBetween(dueDate, asOf)
	if daysLate <= 0 {
		return original.Zero()
	}

	fine := original.Mul(p.FinePercent.Div(oneHundred))

	interestDays := daysLate - p.GraceDays
	if interestDays < 0 {
		interestDays = 0
	}
	interest := original.
		Mul(p.MonthlyRatePct.Div(oneHundred)).
		Mul(decimal.NewFromInt(int64(interestDays)).Div(thirty))

	return fine.Add(interest).RoundHalfUp()
}

// =============================================================================
// OVERDUE SWEEP
// =============================================================================

// Assessor flags elapsed pending bills overdue and applies their penalty.
type Assessor struct {
	Store  BillStore
	Policy PenaltyPolicy
}

func NewAssessor(store BillStore, policy PenaltyPolicy) *Assessor {
	return &Assessor{Store: store, Policy: policy}
}

// AssessBill evaluates one bill at asOf. flagged reports that this call made
// the bill OVERDUE; penalized reports that this call applied its penalty. The
// two can diverge: a late bill whose computed penalty is still zero is
// flagged without being penalized and stays assessable, so the penalty lands
// exactly once, at the first evaluation where it is positive. A bill that was
// already evaluated, or is not late, yields (false, false, nil).
func (a *Assessor) AssessBill(ctx context.Context, bill *Bill, asOf Date) (flagged, penalized bool, err error) {
	if bill.PenaltyApplied || !asOf.After(bill.DueDate) {
		return false, false, nil
	}
	if bill.Status != StatusPending && bill.Status != StatusOverdue {
		return false, false, nil
	}

	penalty := a.Policy.Assess(bill.OriginalAmount, bill.DueDate, asOf)
	if penalty.IsZero() {
		// Late, but nothing is owed yet: the fine rounds away on a tiny
		// amount, or a fine-free policy is inside its grace period. The
		// penalty-applied flag must stay clear - it is set only together
		// with a positive penalty amount.
		if bill.Status != StatusPending {
			return false, false, nil
		}
		flagged, err = a.Store.MarkOverdue(ctx, bill.ID)
		if err != nil {
			return false, false, fmt.Errorf("flag bill %s overdue: %w", bill.ID, err)
		}
		return flagged, false, nil
	}

	newAmount := bill.OriginalAmount.Add(penalty)
	penalized, err = a.Store.MarkOverduePenalized(ctx, bill.ID, newAmount, penalty)
	if err != nil {
		return false, false, fmt.Errorf("penalize bill %s: %w", bill.ID, err)
	}
	return penalized && bill.Status == StatusPending, penalized, nil
}

// SweepOverdue evaluates every assessable bill past due at asOf. Failures
// are isolated per bill: one bill's storage error is counted and the sweep
// moves on, so a poisoned record cannot stall the rest of the batch. Because
// every per-bill effect is guarded and idempotent, an aborted sweep simply
// resumes from persisted state on the next run.
func (a *Assessor) SweepOverdue(ctx context.Context, asOf Date) (SweepResult, error) {
	bills, err := a.Store.ListAssessable(ctx, asOf)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list due bills: %w", err)
	}

	var res SweepResult
	for i := range bills {
		flagged, penalized, err := a.AssessBill(ctx, &bills[i], asOf)
		switch {
		case err != nil:
			res.Errors++
		case !flagged && !penalized:
			res.Skipped++
		default:
			if flagged {
				res.FlaggedOverdue++
			}
			if penalized {
				res.PenaltiesApplied++
			}
		}
	}
	return res, nil
}
