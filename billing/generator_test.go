package billing_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/billing/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestGenerator(t *testing.T) (*billing.Generator, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	gen := billing.NewGenerator(mem, 0)

	// Deterministic ids and timestamps.
	var mu sync.Mutex
	var n int
	gen.NewID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
	gen.Now = func() time.Time {
		return time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)
	}
	return gen, mem
}

func subscriptionTemplate(t *testing.T, anchor billing.Date, end billing.EndCondition) *billing.BillTemplate {
	t.Helper()
	return &billing.BillTemplate{
		Description: "gym membership",
		Total:       money(t, "99.90"),
		AnchorDue:   anchor,
		Mode:        billing.ModeSubscription,
		Recurrence: &billing.RecurrenceConfig{
			Period: billing.Monthly,
			End:    end,
		},
		Attribution: billing.Attribution{TenantID: "tenant-1", CategoryID: "cat-fitness"},
	}
}

// =============================================================================
// TEMPLATE CREATION TESTS
// =============================================================================

func TestCreateFromTemplate_OneTime_SingleBill(t *testing.T) {
	// GIVEN: A one-time template
	// WHEN: Creating
	// THEN: Exactly one PENDING bill at the anchor date, no lineage parent

	gen, _ := newTestGenerator(t)
	ctx := context.Background()

	bills, err := gen.CreateFromTemplate(ctx, &billing.BillTemplate{
		Description: "annual license",
		Total:       money(t, "1200.00"),
		AnchorDue:   billing.NewDate(2025, time.March, 1),
		Mode:        billing.ModeOneTime,
	})
	require.NoError(t, err)
	require.Len(t, bills, 1)

	b := bills[0]
	assert.Nil(t, b.ParentID)
	assert.Equal(t, billing.StatusPending, b.Status)
	assert.Equal(t, "1200.00", b.Amount.String())
	assert.Equal(t, "2025-03-01", b.DueDate.String())
	assert.Equal(t, "", b.InstallmentLabel())
}

func TestCreateFromTemplate_Installments_AllBillsUpFront(t *testing.T) {
	// GIVEN: 250.00 over 4 installments anchored 2025-03-15
	// WHEN: Creating
	// THEN: All 4 bills exist immediately - first is the root, the rest
	//       point at it, amounts sum to the total

	gen, mem := newTestGenerator(t)
	ctx := context.Background()

	bills, err := gen.CreateFromTemplate(ctx, &billing.BillTemplate{
		Description:      "sofa",
		Total:            money(t, "250.00"),
		AnchorDue:        billing.NewDate(2025, time.March, 15),
		Mode:             billing.ModeInstallments,
		InstallmentCount: 4,
	})
	require.NoError(t, err)
	require.Len(t, bills, 4)

	root := bills[0]
	assert.Nil(t, root.ParentID)
	assert.Equal(t, "1/4", root.InstallmentLabel())
	for i, b := range bills[1:] {
		require.NotNil(t, b.ParentID)
		assert.Equal(t, root.ID, *b.ParentID)
		assert.Equal(t, fmt.Sprintf("%d/4", i+2), b.InstallmentLabel())
	}

	sum := bills[0].Amount.Zero()
	for _, b := range bills {
		sum = sum.Add(b.Amount)
	}
	assert.True(t, sum.Equal(money(t, "250.00")))

	stored, err := mem.GetRootBill(ctx, root.TemplateID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, stored.ID)
}

func TestCreateFromTemplate_Subscription_FirstBillAndCursor(t *testing.T) {
	// GIVEN: A monthly subscription anchored 2025-01-20
	// WHEN: Creating
	// THEN: One bill at the anchor plus a cursor at the anchor with one
	//       generated charge

	gen, mem := newTestGenerator(t)
	ctx := context.Background()

	tmpl := subscriptionTemplate(t, billing.NewDate(2025, time.January, 20), billing.EndCondition{Type: billing.EndNone})
	bills, err := gen.CreateFromTemplate(ctx, tmpl)
	require.NoError(t, err)
	require.Len(t, bills, 1)
	assert.Equal(t, "2025-01-20", bills[0].DueDate.String())

	cursor, err := mem.GetCursor(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-20", cursor.LastDueDate.String())
	assert.Equal(t, 1, cursor.Generated)
}

func TestCreateFromTemplate_InvalidTemplates_Rejected(t *testing.T) {
	gen, _ := newTestGenerator(t)
	ctx := context.Background()

	// Non-positive total.
	_, err := gen.CreateFromTemplate(ctx, &billing.BillTemplate{
		Total:     money(t, "0.00"),
		AnchorDue: billing.NewDate(2025, time.March, 1),
		Mode:      billing.ModeOneTime,
	})
	assert.True(t, billing.IsClientError(err))

	// Subscription without a recurrence.
	_, err = gen.CreateFromTemplate(ctx, &billing.BillTemplate{
		Total:     money(t, "10.00"),
		AnchorDue: billing.NewDate(2025, time.March, 1),
		Mode:      billing.ModeSubscription,
	})
	assert.True(t, billing.IsClientError(err))

	// One-time carrying an installment count.
	_, err = gen.CreateFromTemplate(ctx, &billing.BillTemplate{
		Total:            money(t, "10.00"),
		AnchorDue:        billing.NewDate(2025, time.March, 1),
		Mode:             billing.ModeOneTime,
		InstallmentCount: 3,
	})
	assert.True(t, billing.IsClientError(err))
}

// =============================================================================
// SUBSCRIPTION ADVANCEMENT TESTS
// =============================================================================

func TestAdvanceSubscription_WindowClosed_NoOp(t *testing.T) {
	// GIVEN: A subscription anchored Jan 20 (next due Feb 20)
	// WHEN: Advancing on Jan 2 - 49 days ahead of the next due date
	// THEN: Nothing is generated

	gen, mem := newTestGenerator(t)
	ctx := context.Background()

	tmpl := subscriptionTemplate(t, billing.NewDate(2025, time.January, 20), billing.EndCondition{Type: billing.EndNone})
	_, err := gen.CreateFromTemplate(ctx, tmpl)
	require.NoError(t, err)

	bill, err := gen.AdvanceSubscription(ctx, tmpl.ID, billing.NewDate(2025, time.January, 2))
	require.NoError(t, err)
	assert.Nil(t, bill)

	cursor, err := mem.GetCursor(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-20", cursor.LastDueDate.String())
}

func TestAdvanceSubscription_WindowOpen_GeneratesOneBill(t *testing.T) {
	// GIVEN: The same subscription
	// WHEN: Advancing on Feb 1 - 19 days ahead of Feb 20, inside the window
	// THEN: Exactly one bill due Feb 20 appears, child of the root, and the
	//       cursor moves

	gen, mem := newTestGenerator(t)
	ctx := context.Background()

	tmpl := subscriptionTemplate(t, billing.NewDate(2025, time.January, 20), billing.EndCondition{Type: billing.EndNone})
	first, err := gen.CreateFromTemplate(ctx, tmpl)
	require.NoError(t, err)

	bill, err := gen.AdvanceSubscription(ctx, tmpl.ID, billing.NewDate(2025, time.February, 1))
	require.NoError(t, err)
	require.NotNil(t, bill)
	assert.Equal(t, "2025-02-20", bill.DueDate.String())
	require.NotNil(t, bill.ParentID)
	assert.Equal(t, first[0].ID, *bill.ParentID)

	cursor, err := mem.GetCursor(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-02-20", cursor.LastDueDate.String())
	assert.Equal(t, 2, cursor.Generated)
}

func TestAdvanceSubscription_CalledTwice_SecondIsNoOp(t *testing.T) {
	// GIVEN: A subscription already advanced into February
	// WHEN: Advancing again at the same evaluation date
	// THEN: No second bill - March 20 is outside the look-ahead window

	gen, mem := newTestGenerator(t)
	ctx := context.Background()

	tmpl := subscriptionTemplate(t, billing.NewDate(2025, time.January, 20), billing.EndCondition{Type: billing.EndNone})
	_, err := gen.CreateFromTemplate(ctx, tmpl)
	require.NoError(t, err)

	asOf := billing.NewDate(2025, time.February, 1)
	bill, err := gen.AdvanceSubscription(ctx, tmpl.ID, asOf)
	require.NoError(t, err)
	require.NotNil(t, bill)

	again, err := gen.AdvanceSubscription(ctx, tmpl.ID, asOf)
	require.NoError(t, err)
	assert.Nil(t, again)

	bills, err := mem.ListBills(ctx, billing.BillQuery{TemplateID: tmpl.ID})
	require.NoError(t, err)
	assert.Len(t, bills, 2) // anchor bill + one advanced period
}

func TestAdvanceSubscription_EndCountReached_NoOp(t *testing.T) {
	// GIVEN: A subscription of exactly 2 charges, both generated
	// WHEN: Advancing far in the future
	// THEN: No third bill is ever created

	gen, mem := newTestGenerator(t)
	ctx := context.Background()

	tmpl := subscriptionTemplate(t, billing.NewDate(2025, time.January, 20),
		billing.EndCondition{Type: billing.EndCount, Count: 2})
	_, err := gen.CreateFromTemplate(ctx, tmpl)
	require.NoError(t, err)

	bill, err := gen.AdvanceSubscription(ctx, tmpl.ID, billing.NewDate(2025, time.February, 15))
	require.NoError(t, err)
	require.NotNil(t, bill)

	bill, err = gen.AdvanceSubscription(ctx, tmpl.ID, billing.NewDate(2026, time.January, 1))
	require.NoError(t, err)
	assert.Nil(t, bill)

	bills, err := mem.ListBills(ctx, billing.BillQuery{TemplateID: tmpl.ID})
	require.NoError(t, err)
	assert.Len(t, bills, 2)
}

func TestAdvanceSubscription_Day31Anchor_ClampedSequence(t *testing.T) {
	// GIVEN: A subscription anchored January 31
	// WHEN: Advancing through February and March
	// THEN: Due dates run Jan 31, Feb 28, Mar 31 - the anchor day recovers

	gen, mem := newTestGenerator(t)
	ctx := context.Background()

	tmpl := subscriptionTemplate(t, billing.NewDate(2025, time.January, 31), billing.EndCondition{Type: billing.EndNone})
	_, err := gen.CreateFromTemplate(ctx, tmpl)
	require.NoError(t, err)

	b1, err := gen.AdvanceSubscription(ctx, tmpl.ID, billing.NewDate(2025, time.February, 10))
	require.NoError(t, err)
	require.NotNil(t, b1)
	assert.Equal(t, "2025-02-28", b1.DueDate.String())

	b2, err := gen.AdvanceSubscription(ctx, tmpl.ID, billing.NewDate(2025, time.March, 12))
	require.NoError(t, err)
	require.NotNil(t, b2)
	assert.Equal(t, "2025-03-31", b2.DueDate.String())

	bills, err := mem.ListBills(ctx, billing.BillQuery{TemplateID: tmpl.ID})
	require.NoError(t, err)
	require.Len(t, bills, 3)
}

func TestAdvanceSubscription_MissingTemplate_NotFound(t *testing.T) {
	gen, _ := newTestGenerator(t)
	_, err := gen.AdvanceSubscription(context.Background(), "no-such-template", billing.NewDate(2025, time.February, 1))
	assert.True(t, billing.IsNotFound(err))
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestAdvanceSubscription_ConcurrentCallers_OneBillPerPeriod(t *testing.T) {
	// GIVEN: A subscription whose next period is inside the window
	// WHEN: 8 goroutines advance simultaneously
	// THEN: Exactly one bill exists for the period, the cursor lands on it,
	//       and every conflict error is retryable

	gen, mem := newTestGenerator(t)
	ctx := context.Background()

	tmpl := subscriptionTemplate(t, billing.NewDate(2025, time.January, 20), billing.EndCondition{Type: billing.EndNone})
	_, err := gen.CreateFromTemplate(ctx, tmpl)
	require.NoError(t, err)

	asOf := billing.NewDate(2025, time.February, 1)
	const workers = 8

	var wg sync.WaitGroup
	errs := make([]error, workers)
	created := make([]*billing.Bill, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created[i], errs[i] = gen.AdvanceSubscription(ctx, tmpl.ID, asOf)
		}(i)
	}
	wg.Wait()

	// At most one caller observes its own bill; a caller that inserted the
	// bill but lost the cursor race to a repairing loser reports a conflict
	// too. Either way, every error must be retryable.
	var wins int
	for i := 0; i < workers; i++ {
		switch {
		case errs[i] == nil && created[i] != nil:
			wins++
		case errs[i] != nil:
			assert.True(t, billing.IsRetryable(errs[i]), "conflict must be retryable: %v", errs[i])
		}
	}
	assert.LessOrEqual(t, wins, 1)

	bills, err := mem.ListBills(ctx, billing.BillQuery{TemplateID: tmpl.ID})
	require.NoError(t, err)
	assert.Len(t, bills, 2)

	cursor, err := mem.GetCursor(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-02-20", cursor.LastDueDate.String())
}

func TestAdvanceSubscription_StaleCursor_SelfHeals(t *testing.T) {
	// GIVEN: A bill exists for the next period but the cursor was never
	//        advanced (crash between insert and cursor update)
	// WHEN: Advancing
	// THEN: The duplicate is detected, the cursor is repaired, and the error
	//       is retryable; the retry no-ops

	gen, mem := newTestGenerator(t)
	ctx := context.Background()

	tmpl := subscriptionTemplate(t, billing.NewDate(2025, time.January, 20), billing.EndCondition{Type: billing.EndNone})
	first, err := gen.CreateFromTemplate(ctx, tmpl)
	require.NoError(t, err)

	// Simulate the crash: insert February's bill directly, leave the cursor.
	orphan := billing.Bill{
		ID:             "orphan-feb",
		TemplateID:     tmpl.ID,
		ParentID:       &first[0].ID,
		Amount:         money(t, "99.90"),
		OriginalAmount: money(t, "99.90"),
		DueDate:        billing.NewDate(2025, time.February, 20),
		Status:         billing.StatusPending,
		PenaltyAmount:  money(t, "0.00"),
	}
	require.NoError(t, mem.SaveBills(ctx, []billing.Bill{orphan}))

	asOf := billing.NewDate(2025, time.February, 1)
	_, err = gen.AdvanceSubscription(ctx, tmpl.ID, asOf)
	require.Error(t, err)
	assert.True(t, billing.IsRetryable(err))

	// Cursor was repaired to the orphan's period.
	cursor, err := mem.GetCursor(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-02-20", cursor.LastDueDate.String())

	// Retry converges to a no-op.
	bill, err := gen.AdvanceSubscription(ctx, tmpl.ID, asOf)
	require.NoError(t, err)
	assert.Nil(t, bill)
}

// =============================================================================
// CATCH-UP TESTS
// =============================================================================

func TestAdvanceAll_CatchesUpElapsedPeriods(t *testing.T) {
	// GIVEN: A subscription anchored Jan 20 that no scheduler touched for
	//        months
	// WHEN: Advancing on April 5
	// THEN: The elapsed Feb 20 and Mar 20 periods plus the in-window Apr 20
	//       are generated in one call, in order

	gen, _ := newTestGenerator(t)
	ctx := context.Background()

	tmpl := subscriptionTemplate(t, billing.NewDate(2025, time.January, 20), billing.EndCondition{Type: billing.EndNone})
	_, err := gen.CreateFromTemplate(ctx, tmpl)
	require.NoError(t, err)

	bills, err := gen.AdvanceAll(ctx, tmpl.ID, billing.NewDate(2025, time.April, 5), 120)
	require.NoError(t, err)
	require.Len(t, bills, 3)
	assert.Equal(t, "2025-02-20", bills[0].DueDate.String())
	assert.Equal(t, "2025-03-20", bills[1].DueDate.String())
	assert.Equal(t, "2025-04-20", bills[2].DueDate.String())
}

func TestAdvanceAll_BoundedByMaxPeriods(t *testing.T) {
	gen, _ := newTestGenerator(t)
	ctx := context.Background()

	tmpl := subscriptionTemplate(t, billing.NewDate(2024, time.January, 20), billing.EndCondition{Type: billing.EndNone})
	_, err := gen.CreateFromTemplate(ctx, tmpl)
	require.NoError(t, err)

	// A year behind, but capped at 3 periods per call.
	bills, err := gen.AdvanceAll(ctx, tmpl.ID, billing.NewDate(2025, time.January, 10), 3)
	require.NoError(t, err)
	assert.Len(t, bills, 3)
}
