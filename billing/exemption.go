/*
exemption.go - Audited penalty waiver

PURPOSE:
  Reverses the financial effect of a computed penalty without erasing it.
  The original penalty amount stays on the bill for audit; the effective
  amount to collect becomes amount - penalty (see Bill.EffectiveDue).

BULK SEMANTICS:
  Exemption is bulk-capable and deliberately forgiving: bills with no
  applied penalty, bills already exempted, and unknown ids are skipped, not
  errors. A mixed selection degrades to "N updated, M skipped" so callers
  never have to pre-filter.

AUDIT INVARIANT:
  exemptedBy / exemptedAt / exemptedReason are written together with the
  flag in one guarded update - they are all present or all absent, never
  partially populated.
*/
package billing

import (
	"context"
	"fmt"
	"time"
)

// Exemptions waives applied penalties with a mandatory actor audit trail.
type Exemptions struct {
	Store BillStore
}

func NewExemptions(store BillStore) *Exemptions {
	return &Exemptions{Store: store}
}

// Exempt waives the penalty on each target bill that has one applied and not
// yet exempted. Reason is optional; actor is not.
func (e *Exemptions) Exempt(ctx context.Context, ids []BillID, actor, reason string, at time.Time) (ExemptionResult, error) {
	if actor == "" {
		return ExemptionResult{}, ErrMissingActor
	}

	var res ExemptionResult
	for _, id := range ids {
		updated, err := e.Store.ApplyExemption(ctx, id, actor, reason, at)
		if err != nil {
			return res, fmt.Errorf("exempt bill %s: %w", id, err)
		}
		if updated {
			res.Updated++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}
