/*
Package billing implements the recurring billing and penalty engine.

PURPOSE:
  Turns a single payment intent (one-time, installment plan, or open-ended
  subscription) into a deterministic series of bills with correct due dates,
  computes late-payment penalties idempotently, and records an audited
  exemption workflow when a penalty is waived.

KEY CONCEPTS IN THIS FILE (money.go):
  - Money: An exact decimal amount in a concrete currency
  - Currency: Code plus minor-unit exponent (e.g., BRL/2, JPY/0)

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere; float64 never touches money
  2. Determinism: rounding is explicit (half-up or floor to the minor unit)
  3. Idempotency: penalty and generation effects are applied at most once
  4. Auditability: exemptions keep the computed penalty, never erase it

USAGE:
  brl := billing.Currency{Code: "BRL", Exponent: 2}
  total := billing.MustParseMoney("250.00", brl)
  parts, err := billing.SplitInstallments(total, 4, anchor)

SEE ALSO:
  - installment.go: Exact splitting of a total into N obligations
  - recurrence.go: Lazy due-date sequences with end-of-month clamping
  - generator.go: Bill materialization and subscription advancement
  - penalty.go: Overdue fine and interest calculation
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENCY - Minor-unit precision setting (per tenant, opaque to callers)
// =============================================================================

type Currency struct {
	Code     string
	Exponent int32 // digits after the decimal point in the minor unit
}

// =============================================================================
// MONEY - Exact decimal amount
// =============================================================================

type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewMoney(value decimal.Decimal, cur Currency) Money {
	return Money{Value: value, Currency: cur}
}

// ParseMoney parses a decimal string like "250.00".
func ParseMoney(s string, cur Currency) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Value: d, Currency: cur}, nil
}

// MustParseMoney is ParseMoney for literals in tests and fixtures.
func MustParseMoney(s string, cur Currency) Money {
	m, err := ParseMoney(s, cur)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Zero() Money            { return Money{Value: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(b Money) Money      { return Money{Value: m.Value.Add(b.Value), Currency: m.Currency} }
func (m Money) Sub(b Money) Money      { return Money{Value: m.Value.Sub(b.Value), Currency: m.Currency} }
func (m Money) Mul(s decimal.Decimal) Money {
	return Money{Value: m.Value.Mul(s), Currency: m.Currency}
}
func (m Money) IsZero() bool            { return m.Value.IsZero() }
func (m Money) IsPositive() bool        { return m.Value.IsPositive() }
func (m Money) IsNegative() bool        { return m.Value.IsNegative() }
func (m Money) Equal(b Money) bool      { return m.Value.Equal(b.Value) }
func (m Money) LessThan(b Money) bool   { return m.Value.LessThan(b.Value) }
func (m Money) GreaterThan(b Money) bool { return m.Value.GreaterThan(b.Value) }

// RoundHalfUp rounds to the currency's minor unit, halves away from zero.
// This is the rounding mode for penalty amounts.
func (m Money) RoundHalfUp() Money {
	return Money{Value: m.Value.Round(m.Currency.Exponent), Currency: m.Currency}
}

// FloorUnit truncates toward zero to the currency's minor unit. This is the
// rounding mode for installment parts 1..N-1; the remainder absorbs the
// truncated fraction so the split reconstructs the total exactly.
func (m Money) FloorUnit() Money {
	return Money{Value: m.Value.Truncate(m.Currency.Exponent), Currency: m.Currency}
}

func (m Money) String() string {
	return m.Value.StringFixed(m.Currency.Exponent)
}
