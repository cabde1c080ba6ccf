/*
Package sqlite provides the SQLite-backed implementation of billing.Store.

PURPOSE:
  Implements template, bill, cursor and scheduler-run persistence using
  SQLite. In production the same patterns apply to PostgreSQL - only minor
  SQL dialect differences.

IDEMPOTENCY ENFORCEMENT:
  The invariants that make the engine safe under concurrent schedulers live
  here, in the schema, not in application memory:
  - UNIQUE(template_id, due_date) on bills: at most one bill per period.
  - Compare-and-swap cursor advancement: UPDATE ... WHERE last_due_date = ?
    so a lost race affects zero rows instead of double-advancing.
  - Guarded penalty/exemption/payment updates: the WHERE clause carries the
    precondition, so re-application affects zero rows.

KEY TABLES:
  templates:          Payment intents
  bills:              Concrete obligations with lineage and penalty fields
  generation_cursors: Per-subscription last-generated-period marker
  scheduler_runs:     Audit journal of scheduler sweeps

INDEXES:
  idx_bills_template_due (unique): per-period generation idempotency
  idx_bills_status_due:            overdue scanning hot path

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - billing/store.go: Interface definitions and guard semantics
  - billing/store/memory.go: In-memory implementation for unit tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
)

// Store implements billing.Store plus the scheduler-run journal.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ billing.Store = (*Store)(nil)

// New creates a SQLite store at the given path. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS templates (
		id TEXT PRIMARY KEY,
		description TEXT,
		total TEXT NOT NULL,
		currency_code TEXT NOT NULL,
		currency_exponent INTEGER NOT NULL,
		anchor_due TEXT NOT NULL,
		mode TEXT NOT NULL,
		installment_count INTEGER NOT NULL DEFAULT 0,
		recurrence_period TEXT,
		end_type TEXT,
		end_date TEXT,
		end_count INTEGER,
		tenant_id TEXT,
		category_id TEXT,
		bank_id TEXT,
		payment_method_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bills (
		id TEXT PRIMARY KEY,
		template_id TEXT NOT NULL,
		parent_id TEXT,
		amount TEXT NOT NULL,
		original_amount TEXT NOT NULL,
		currency_code TEXT NOT NULL,
		currency_exponent INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		installment_index INTEGER NOT NULL DEFAULT 0,
		installment_count INTEGER NOT NULL DEFAULT 0,
		penalty_amount TEXT NOT NULL DEFAULT '0',
		penalty_applied INTEGER NOT NULL DEFAULT 0,
		penalty_exempted INTEGER NOT NULL DEFAULT 0,
		exempted_by TEXT,
		exempted_at TEXT,
		exempted_reason TEXT,
		paid_at TEXT,
		tenant_id TEXT,
		category_id TEXT,
		bank_id TEXT,
		payment_method_id TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: at most one bill per (template, period). This is half of
	-- the generation idempotency guarantee; the cursor CAS is the other.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_bills_template_due
		ON bills(template_id, due_date);

	-- Overdue scanning hot path
	CREATE INDEX IF NOT EXISTS idx_bills_status_due
		ON bills(status, due_date);

	CREATE INDEX IF NOT EXISTS idx_bills_parent
		ON bills(parent_id) WHERE parent_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS generation_cursors (
		template_id TEXT PRIMARY KEY,
		last_due_date TEXT NOT NULL,
		generated INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scheduler_runs (
		id TEXT PRIMARY KEY,
		trigger_kind TEXT NOT NULL,
		as_of TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		generated INTEGER NOT NULL DEFAULT 0,
		flagged_overdue INTEGER NOT NULL DEFAULT 0,
		penalties_applied INTEGER NOT NULL DEFAULT 0,
		errors INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_scheduler_runs_started
		ON scheduler_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TEMPLATE STORE
// =============================================================================

func (s *Store) SaveTemplate(ctx context.Context, t billing.BillTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var period, endType, endDate, endCount any
	if t.Recurrence != nil {
		period = string(t.Recurrence.Period)
		endType = string(t.Recurrence.End.Type)
		if t.Recurrence.End.Type == billing.EndDate {
			endDate = t.Recurrence.End.Until.String()
		}
		if t.Recurrence.End.Type == billing.EndCount {
			endCount = t.Recurrence.End.Count
		}
	}

	query := `
		INSERT OR REPLACE INTO templates
		(id, description, total, currency_code, currency_exponent, anchor_due, mode,
		 installment_count, recurrence_period, end_type, end_date, end_count,
		 tenant_id, category_id, bank_id, payment_method_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID,
		t.Description,
		t.Total.Value.String(),
		t.Total.Currency.Code,
		t.Total.Currency.Exponent,
		t.AnchorDue.String(),
		t.Mode,
		t.InstallmentCount,
		period, endType, endDate, endCount,
		t.Attribution.TenantID,
		t.Attribution.CategoryID,
		t.Attribution.BankID,
		t.Attribution.PaymentMethodID,
		t.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, id billing.TemplateID) (*billing.BillTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.queryTemplates(ctx, templateSelect+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, billing.ErrTemplateNotFound
	}
	return &rows[0], nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]billing.BillTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTemplates(ctx, templateSelect+" ORDER BY created_at ASC, id ASC")
}

const templateSelect = `
	SELECT id, description, total, currency_code, currency_exponent, anchor_due, mode,
	       installment_count, recurrence_period, end_type, end_date, end_count,
	       tenant_id, category_id, bank_id, payment_method_id, created_at
	FROM templates`

func (s *Store) queryTemplates(ctx context.Context, query string, args ...any) ([]billing.BillTemplate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var out []billing.BillTemplate
	for rows.Next() {
		var t billing.BillTemplate
		var total, anchor, createdAt, curCode string
		var curExp int32
		var period, endType, endDate sql.NullString
		var endCount sql.NullInt64

		err := rows.Scan(&t.ID, &t.Description, &total, &curCode, &curExp, &anchor, &t.Mode,
			&t.InstallmentCount, &period, &endType, &endDate, &endCount,
			&t.Attribution.TenantID, &t.Attribution.CategoryID,
			&t.Attribution.BankID, &t.Attribution.PaymentMethodID, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}

		cur := billing.Currency{Code: curCode, Exponent: curExp}
		if t.Total, err = parseMoney(total, cur); err != nil {
			return nil, err
		}
		if t.AnchorDue, err = billing.ParseDate(anchor); err != nil {
			return nil, err
		}
		t.CreatedAt = parseTime(createdAt)

		if period.Valid && period.String != "" {
			rc := &billing.RecurrenceConfig{
				Period: billing.RecurrencePeriod(period.String),
				End:    billing.EndCondition{Type: billing.EndConditionType(endType.String)},
			}
			if endDate.Valid && endDate.String != "" {
				if rc.End.Until, err = billing.ParseDate(endDate.String); err != nil {
					return nil, err
				}
			}
			if endCount.Valid {
				rc.End.Count = int(endCount.Int64)
			}
			t.Recurrence = rc
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// BILL STORE
// =============================================================================

// SaveBills inserts a batch atomically. Any (template_id, due_date) already
// present fails the whole batch with billing.ErrDuplicatePeriod.
func (s *Store) SaveBills(ctx context.Context, bills []billing.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO bills
		(id, template_id, parent_id, amount, original_amount, currency_code,
		 currency_exponent, due_date, status, installment_index, installment_count,
		 penalty_amount, penalty_applied, penalty_exempted, exempted_by, exempted_at,
		 exempted_reason, paid_at, tenant_id, category_id, bank_id, payment_method_id,
		 created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, b := range bills {
		var parent, exemptedAt, paidAt any
		if b.ParentID != nil {
			parent = string(*b.ParentID)
		}
		if b.ExemptedAt != nil {
			exemptedAt = b.ExemptedAt.UTC().Format(time.RFC3339)
		}
		if b.PaidAt != nil {
			paidAt = b.PaidAt.String()
		}

		_, err := tx.ExecContext(ctx, query,
			b.ID, b.TemplateID, parent,
			b.Amount.Value.String(), b.OriginalAmount.Value.String(),
			b.Amount.Currency.Code, b.Amount.Currency.Exponent,
			b.DueDate.String(), b.Status,
			b.InstallmentIndex, b.InstallmentCount,
			b.PenaltyAmount.Value.String(),
			boolToInt(b.PenaltyApplied), boolToInt(b.PenaltyExempted),
			b.ExemptedBy, exemptedAt, b.ExemptedReason, paidAt,
			b.Attribution.TenantID, b.Attribution.CategoryID,
			b.Attribution.BankID, b.Attribution.PaymentMethodID,
			b.CreatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return billing.ErrDuplicatePeriod
			}
			return fmt.Errorf("failed to insert bill: %w", err)
		}
	}
	return tx.Commit()
}

const billSelect = `
	SELECT id, template_id, parent_id, amount, original_amount, currency_code,
	       currency_exponent, due_date, status, installment_index, installment_count,
	       penalty_amount, penalty_applied, penalty_exempted, exempted_by, exempted_at,
	       exempted_reason, paid_at, tenant_id, category_id, bank_id, payment_method_id,
	       created_at
	FROM bills`

func (s *Store) GetBill(ctx context.Context, id billing.BillID) (*billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bills, err := s.queryBills(ctx, billSelect+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(bills) == 0 {
		return nil, billing.ErrBillNotFound
	}
	return &bills[0], nil
}

func (s *Store) GetRootBill(ctx context.Context, id billing.TemplateID) (*billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bills, err := s.queryBills(ctx, billSelect+" WHERE template_id = ? AND parent_id IS NULL", id)
	if err != nil {
		return nil, err
	}
	if len(bills) == 0 {
		return nil, billing.ErrBillNotFound
	}
	return &bills[0], nil
}

func (s *Store) ListBills(ctx context.Context, q billing.BillQuery) ([]billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := billSelect
	var conds []string
	var args []any
	if q.TemplateID != "" {
		conds = append(conds, "template_id = ?")
		args = append(args, q.TemplateID)
	}
	if q.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, q.Status)
	}
	if q.DueBefore != nil {
		conds = append(conds, "due_date < ?")
		args = append(args, q.DueBefore.String())
	}
	if q.DueAfter != nil {
		conds = append(conds, "due_date > ?")
		args = append(args, q.DueAfter.String())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY due_date ASC, created_at ASC"

	return s.queryBills(ctx, query, args...)
}

func (s *Store) ListAssessable(ctx context.Context, asOf billing.Date) ([]billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryBills(ctx,
		billSelect+` WHERE status IN (?, ?) AND penalty_applied = 0 AND due_date < ?
		ORDER BY due_date ASC`,
		billing.StatusPending, billing.StatusOverdue, asOf.String())
}

func (s *Store) queryBills(ctx context.Context, query string, args ...any) ([]billing.Bill, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}
	defer rows.Close()

	var out []billing.Bill
	for rows.Next() {
		var b billing.Bill
		var parent, exemptedBy, exemptedAt, exemptedReason, paidAt sql.NullString
		var amount, original, penalty, due, createdAt, curCode string
		var curExp int32
		var applied, exempted int

		err := rows.Scan(&b.ID, &b.TemplateID, &parent, &amount, &original, &curCode,
			&curExp, &due, &b.Status, &b.InstallmentIndex, &b.InstallmentCount,
			&penalty, &applied, &exempted, &exemptedBy, &exemptedAt,
			&exemptedReason, &paidAt,
			&b.Attribution.TenantID, &b.Attribution.CategoryID,
			&b.Attribution.BankID, &b.Attribution.PaymentMethodID, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}

		cur := billing.Currency{Code: curCode, Exponent: curExp}
		if b.Amount, err = parseMoney(amount, cur); err != nil {
			return nil, err
		}
		if b.OriginalAmount, err = parseMoney(original, cur); err != nil {
			return nil, err
		}
		if b.PenaltyAmount, err = parseMoney(penalty, cur); err != nil {
			return nil, err
		}
		if b.DueDate, err = billing.ParseDate(due); err != nil {
			return nil, err
		}
		b.PenaltyApplied = applied == 1
		b.PenaltyExempted = exempted == 1
		if parent.Valid && parent.String != "" {
			pid := billing.BillID(parent.String)
			b.ParentID = &pid
		}
		b.ExemptedBy = exemptedBy.String
		b.ExemptedReason = exemptedReason.String
		if exemptedAt.Valid && exemptedAt.String != "" {
			t := parseTime(exemptedAt.String)
			b.ExemptedAt = &t
		}
		if paidAt.Valid && paidAt.String != "" {
			d, err := billing.ParseDate(paidAt.String)
			if err != nil {
				return nil, err
			}
			b.PaidAt = &d
		}
		b.CreatedAt = parseTime(createdAt)

		out = append(out, b)
	}
	return out, rows.Err()
}

// MarkOverdue flips PENDING -> OVERDUE without touching the penalty fields.
// Used when a bill is late but its penalty still computes to zero; the
// penalty-applied flag stays clear so a later sweep can apply it.
func (s *Store) MarkOverdue(ctx context.Context, id billing.BillID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE bills SET status = ?
		WHERE id = ? AND status = ?`,
		billing.StatusOverdue, id, billing.StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to flag bill overdue: %w", err)
	}
	return oneRow(res)
}

// MarkOverduePenalized records the penalty and makes the bill OVERDUE in one
// guarded statement. The guard accepts a PENDING bill or an OVERDUE bill
// flagged earlier with a zero penalty; zero rows affected means the bill was
// already penalized, paid, or cancelled.
func (s *Store) MarkOverduePenalized(ctx context.Context, id billing.BillID, newAmount, penalty billing.Money) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE bills
		SET status = ?, amount = ?, penalty_amount = ?, penalty_applied = 1
		WHERE id = ? AND status IN (?, ?) AND penalty_applied = 0`,
		billing.StatusOverdue, newAmount.Value.String(), penalty.Value.String(),
		id, billing.StatusPending, billing.StatusOverdue)
	if err != nil {
		return false, fmt.Errorf("failed to penalize bill: %w", err)
	}
	return oneRow(res)
}

// ApplyExemption writes the flag and the full audit trio together; they are
// never partially populated.
func (s *Store) ApplyExemption(ctx context.Context, id billing.BillID, by, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE bills
		SET penalty_exempted = 1, exempted_by = ?, exempted_at = ?, exempted_reason = ?
		WHERE id = ? AND penalty_applied = 1 AND penalty_exempted = 0`,
		by, at.UTC().Format(time.RFC3339), reason, id)
	if err != nil {
		return false, fmt.Errorf("failed to exempt bill: %w", err)
	}
	return oneRow(res)
}

func (s *Store) MarkPaid(ctx context.Context, id billing.BillID, paidAt billing.Date) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE bills SET status = ?, paid_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		billing.StatusPaid, paidAt.String(), id,
		billing.StatusPending, billing.StatusOverdue)
	if err != nil {
		return false, fmt.Errorf("failed to mark bill paid: %w", err)
	}
	return oneRow(res)
}

func (s *Store) Cancel(ctx context.Context, id billing.BillID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE bills SET status = ?
		WHERE id = ? AND status = ? AND penalty_applied = 0`,
		billing.StatusCancelled, id, billing.StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to cancel bill: %w", err)
	}
	return oneRow(res)
}

// =============================================================================
// CURSOR STORE
// =============================================================================

func (s *Store) SaveCursor(ctx context.Context, c billing.GenerationCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO generation_cursors
		(template_id, last_due_date, generated, updated_at)
		VALUES (?, ?, ?, ?)`,
		c.TemplateID, c.LastDueDate.String(), c.Generated,
		c.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

func (s *Store) GetCursor(ctx context.Context, id billing.TemplateID) (*billing.GenerationCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c billing.GenerationCursor
	var last, updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT template_id, last_due_date, generated, updated_at
		FROM generation_cursors WHERE template_id = ?`, id).
		Scan(&c.TemplateID, &last, &c.Generated, &updated)
	if err == sql.ErrNoRows {
		return nil, billing.ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	if c.LastDueDate, err = billing.ParseDate(last); err != nil {
		return nil, err
	}
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

// AdvanceCursor is the compare-and-swap half of generation idempotency: the
// WHERE clause pins the expected current position, so a concurrent advance
// affects zero rows instead of skipping a period.
func (s *Store) AdvanceCursor(ctx context.Context, id billing.TemplateID, from, to billing.Date) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE generation_cursors
		SET last_due_date = ?, generated = generated + 1, updated_at = ?
		WHERE template_id = ? AND last_due_date = ?`,
		to.String(), time.Now().UTC().Format(time.RFC3339), id, from.String())
	if err != nil {
		return false, fmt.Errorf("failed to advance cursor: %w", err)
	}
	return oneRow(res)
}

// =============================================================================
// SCHEDULER RUN JOURNAL
// =============================================================================

// SchedulerRun records one scheduler sweep for audit and UI display.
type SchedulerRun struct {
	ID               string
	Trigger          string // "cron" or "manual"
	AsOf             billing.Date
	StartedAt        time.Time
	FinishedAt       *time.Time
	Generated        int
	FlaggedOverdue   int
	PenaltiesApplied int
	Errors           int
	Error            string
}

func (s *Store) SaveSchedulerRun(ctx context.Context, r SchedulerRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finished any
	if r.FinishedAt != nil {
		finished = r.FinishedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO scheduler_runs
		(id, trigger_kind, as_of, started_at, finished_at, generated,
		 flagged_overdue, penalties_applied, errors, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Trigger, r.AsOf.String(),
		r.StartedAt.UTC().Format(time.RFC3339), finished,
		r.Generated, r.FlaggedOverdue, r.PenaltiesApplied, r.Errors, r.Error)
	if err != nil {
		return fmt.Errorf("failed to save scheduler run: %w", err)
	}
	return nil
}

func (s *Store) ListSchedulerRuns(ctx context.Context, limit int) ([]SchedulerRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trigger_kind, as_of, started_at, finished_at, generated,
		       flagged_overdue, penalties_applied, errors, error
		FROM scheduler_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduler runs: %w", err)
	}
	defer rows.Close()

	var out []SchedulerRun
	for rows.Next() {
		var r SchedulerRun
		var asOf, started string
		var finished, errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.Trigger, &asOf, &started, &finished,
			&r.Generated, &r.FlaggedOverdue, &r.PenaltiesApplied, &r.Errors, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan scheduler run: %w", err)
		}
		if r.AsOf, err = billing.ParseDate(asOf); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		if finished.Valid && finished.String != "" {
			t := parseTime(finished.String)
			r.FinishedAt = &t
		}
		r.Error = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func parseMoney(s string, cur billing.Currency) (billing.Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return billing.Money{}, fmt.Errorf("failed to parse amount %q: %w", s, err)
	}
	return billing.NewMoney(d, cur), nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func oneRow(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
