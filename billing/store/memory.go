// Package store provides an in-memory billing.Store for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// MEMORY STORE - Same guard semantics as the SQLite store, no durability
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	templates map[billing.TemplateID]billing.BillTemplate
	bills     map[billing.BillID]billing.Bill
	periods   map[periodKey]billing.BillID
	cursors   map[billing.TemplateID]billing.GenerationCursor
}

type periodKey struct {
	TemplateID billing.TemplateID
	DueDate    string
}

var _ billing.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		templates: make(map[billing.TemplateID]billing.BillTemplate),
		bills:     make(map[billing.BillID]billing.Bill),
		periods:   make(map[periodKey]billing.BillID),
		cursors:   make(map[billing.TemplateID]billing.GenerationCursor),
	}
}

// -----------------------------------------------------------------------------
// TemplateStore
// -----------------------------------------------------------------------------

func (m *Memory) SaveTemplate(_ context.Context, t billing.BillTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = t
	return nil
}

func (m *Memory) GetTemplate(_ context.Context, id billing.TemplateID) (*billing.BillTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, billing.ErrTemplateNotFound
	}
	return &t, nil
}

func (m *Memory) ListTemplates(_ context.Context) ([]billing.BillTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]billing.BillTemplate, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// -----------------------------------------------------------------------------
// BillStore
// -----------------------------------------------------------------------------

func (m *Memory) SaveBills(_ context.Context, bills []billing.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check every period key before writing anything (atomic batch).
	for _, b := range bills {
		k := periodKey{TemplateID: b.TemplateID, DueDate: b.DueDate.String()}
		if _, exists := m.periods[k]; exists {
			return billing.ErrDuplicatePeriod
		}
	}
	for _, b := range bills {
		m.bills[b.ID] = b
		m.periods[periodKey{TemplateID: b.TemplateID, DueDate: b.DueDate.String()}] = b.ID
	}
	return nil
}

func (m *Memory) GetBill(_ context.Context, id billing.BillID) (*billing.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bills[id]
	if !ok {
		return nil, billing.ErrBillNotFound
	}
	return &b, nil
}

func (m *Memory) GetRootBill(_ context.Context, id billing.TemplateID) (*billing.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bills {
		if b.TemplateID == id && b.ParentID == nil {
			out := b
			return &out, nil
		}
	}
	return nil, billing.ErrBillNotFound
}

func (m *Memory) ListBills(_ context.Context, q billing.BillQuery) ([]billing.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Bill
	for _, b := range m.bills {
		if q.TemplateID != "" && b.TemplateID != q.TemplateID {
			continue
		}
		if q.Status != "" && b.Status != q.Status {
			continue
		}
		if q.DueBefore != nil && !b.DueDate.Before(*q.DueBefore) {
			continue
		}
		if q.DueAfter != nil && !b.DueDate.After(*q.DueAfter) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (m *Memory) ListAssessable(_ context.Context, asOf billing.Date) ([]billing.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.Bill
	for _, b := range m.bills {
		assessable := b.Status == billing.StatusPending || b.Status == billing.StatusOverdue
		if assessable && !b.PenaltyApplied && b.DueDate.Before(asOf) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (m *Memory) MarkOverdue(_ context.Context, id billing.BillID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[id]
	if !ok || b.Status != billing.StatusPending {
		return false, nil
	}
	b.Status = billing.StatusOverdue
	m.bills[id] = b
	return true, nil
}

func (m *Memory) MarkOverduePenalized(_ context.Context, id billing.BillID, newAmount, penalty billing.Money) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[id]
	if !ok || b.PenaltyApplied ||
		(b.Status != billing.StatusPending && b.Status != billing.StatusOverdue) {
		return false, nil
	}
	b.Status = billing.StatusOverdue
	b.Amount = newAmount
	b.PenaltyAmount = penalty
	b.PenaltyApplied = true
	m.bills[id] = b
	return true, nil
}

func (m *Memory) ApplyExemption(_ context.Context, id billing.BillID, by, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[id]
	if !ok || !b.PenaltyApplied || b.PenaltyExempted {
		return false, nil
	}
	b.PenaltyExempted = true
	b.ExemptedBy = by
	b.ExemptedAt = &at
	b.ExemptedReason = reason
	m.bills[id] = b
	return true, nil
}

func (m *Memory) MarkPaid(_ context.Context, id billing.BillID, paidAt billing.Date) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[id]
	if !ok || (b.Status != billing.StatusPending && b.Status != billing.StatusOverdue) {
		return false, nil
	}
	b.Status = billing.StatusPaid
	b.PaidAt = &paidAt
	m.bills[id] = b
	return true, nil
}

func (m *Memory) Cancel(_ context.Context, id billing.BillID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[id]
	if !ok || b.Status != billing.StatusPending || b.PenaltyApplied {
		return false, nil
	}
	b.Status = billing.StatusCancelled
	m.bills[id] = b
	return true, nil
}

// -----------------------------------------------------------------------------
// CursorStore
// -----------------------------------------------------------------------------

func (m *Memory) SaveCursor(_ context.Context, c billing.GenerationCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[c.TemplateID] = c
	return nil
}

func (m *Memory) GetCursor(_ context.Context, id billing.TemplateID) (*billing.GenerationCursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cursors[id]
	if !ok {
		return nil, billing.ErrCursorNotFound
	}
	return &c, nil
}

func (m *Memory) AdvanceCursor(_ context.Context, id billing.TemplateID, from, to billing.Date) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[id]
	if !ok || !c.LastDueDate.Equal(from) {
		return false, nil
	}
	c.LastDueDate = to
	c.Generated++
	c.UpdatedAt = time.Now()
	m.cursors[id] = c
	return true, nil
}
