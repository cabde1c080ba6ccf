package billing

import "github.com/shopspring/decimal"

// =============================================================================
// INSTALLMENT SPLITTER - Divide a total into N obligations summing exactly
// =============================================================================

// InstallmentPart is one slice of a split: its amount, due date and position.
type InstallmentPart struct {
	Amount  Money
	DueDate Date
	Index   int // 1-based
	Count   int
}

// Label renders the position as "i/N".
func (p InstallmentPart) Label() string {
	return installmentLabel(p.Index, p.Count)
}

// SplitInstallments divides total into count parts due on anchor shifted by
// 0..count-1 months (end-of-month clamped from the anchor, per date.go).
//
// Amount policy: parts 1..N-1 carry floor(total/N) to the currency's minor
// unit; part N carries the remainder. The parts always sum exactly to the
// total - no currency unit is lost or invented, no matter how awkward the
// division (100.00 / 3 = 33.33 + 33.33 + 33.34).
func SplitInstallments(total Money, count int, anchor Date) ([]InstallmentPart, error) {
	if count < 1 {
		return nil, &InvalidInstallmentCountError{Count: count}
	}
	if !total.IsPositive() {
		return nil, &InvalidAmountError{Amount: total}
	}

	base := Money{
		Value:    total.Value.Div(decimal.NewFromInt(int64(count))),
		Currency: total.Currency,
	}.FloorUnit()

	parts := make([]InstallmentPart, count)
	assigned := total.Zero()
	for i := 0; i < count; i++ {
		amount := base
		if i == count-1 {
			amount = total.Sub(assigned)
		}
		parts[i] = InstallmentPart{
			Amount:  amount,
			DueDate: anchor.AddMonthsClamped(i),
			Index:   i + 1,
			Count:   count,
		}
		assigned = assigned.Add(amount)
	}
	return parts, nil
}
