package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-ap-approvals/internal/database"
	"github.com/pesio-ai/be-ap-approvals/internal/errors"
)

// querier is satisfied by both *database.DB and pgx.Tx so the same
// repository code runs inside and outside a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is the production Store backed by pgx.
type PostgresStore struct {
	db *database.DB
	q  querier
}

// NewPostgresStore creates a store on top of the connection pool.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (s *PostgresStore) Invoices() InvoiceRepository    { return &postgresInvoices{q: s.q} }
func (s *PostgresStore) ActionLog() ActionLogRepository { return &postgresActionLog{q: s.q} }
func (s *PostgresStore) Users() UserRepository          { return &postgresUsers{q: s.q} }

// InTransaction runs fn against a store bound to a single transaction.
// Nested calls are not supported; the service never nests.
func (s *PostgresStore) InTransaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&PostgresStore{db: s.db, q: tx})
	})
}

// ── invoices ─────────────────────────────────────────────────────────────────

type postgresInvoices struct {
	q querier
}

const invoiceColumns = `
	id, vendor_name, amount, to_char(due_date, 'YYYY-MM-DD'), category, notes,
	file_name, file_url, status, submitted_by, assigned_to,
	created_at, updated_at`

func (r *postgresInvoices) Get(ctx context.Context, id string) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	return r.scanOne(r.q.QueryRow(ctx, query, id), id)
}

func (r *postgresInvoices) GetForUpdate(ctx context.Context, id string) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1 FOR UPDATE`
	return r.scanOne(r.q.QueryRow(ctx, query, id), id)
}

func (r *postgresInvoices) Create(ctx context.Context, invoice *Invoice) error {
	query := `
		INSERT INTO invoices (vendor_name, amount, due_date, category, notes,
		                      file_name, file_url, status, submitted_by, assigned_to)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::invoice_status, $9, $10)
		RETURNING id, created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		invoice.VendorName,
		invoice.Amount,
		invoice.DueDate,
		invoice.Category,
		invoice.Notes,
		invoice.FileName,
		invoice.FileURL,
		invoice.Status,
		invoice.SubmittedBy,
		invoice.AssignedTo,
	).Scan(&invoice.ID, &invoice.CreatedAt, &invoice.UpdatedAt)

	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create invoice")
	}

	return nil
}

func (r *postgresInvoices) Save(ctx context.Context, invoice *Invoice) error {
	query := `
		UPDATE invoices
		SET vendor_name = $2,
		    amount = $3,
		    due_date = $4,
		    category = $5,
		    notes = $6,
		    file_name = $7,
		    file_url = $8,
		    status = $9::invoice_status,
		    assigned_to = $10,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.q.QueryRow(ctx, query,
		invoice.ID,
		invoice.VendorName,
		invoice.Amount,
		invoice.DueDate,
		invoice.Category,
		invoice.Notes,
		invoice.FileName,
		invoice.FileURL,
		invoice.Status,
		invoice.AssignedTo,
	).Scan(&invoice.UpdatedAt)

	if err == pgx.ErrNoRows {
		return errors.NotFound("invoice", invoice.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save invoice")
	}

	return nil
}

func (r *postgresInvoices) ListVisible(ctx context.Context, actorID string) ([]*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	args := []any{}

	if actorID != "" {
		query += ` WHERE submitted_by = $1 OR assigned_to = $1`
		args = append(args, actorID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list invoices")
	}
	defer rows.Close()

	invoices := make([]*Invoice, 0)
	for rows.Next() {
		invoice, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, invoice)
	}

	return invoices, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *postgresInvoices) scanOne(row pgx.Row, id string) (*Invoice, error) {
	invoice, err := r.scan(row)
	if errors.Is(err, errors.ErrCodeNotFound) {
		return nil, errors.NotFound("invoice", id)
	}
	return invoice, err
}

func (r *postgresInvoices) scan(sc rowScanner) (*Invoice, error) {
	invoice := &Invoice{}
	err := sc.Scan(
		&invoice.ID,
		&invoice.VendorName,
		&invoice.Amount,
		&invoice.DueDate,
		&invoice.Category,
		&invoice.Notes,
		&invoice.FileName,
		&invoice.FileURL,
		&invoice.Status,
		&invoice.SubmittedBy,
		&invoice.AssignedTo,
		&invoice.CreatedAt,
		&invoice.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, errors.New(errors.ErrCodeNotFound, "invoice not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan invoice")
	}

	return invoice, nil
}

// ── action log ───────────────────────────────────────────────────────────────

type postgresActionLog struct {
	q querier
}

const actionLogColumns = `
	id, invoice_id, performed_by, action, previous_status, new_status,
	reason, assigned_to, previous_assignee, created_at`

// Append inserts one entry. The table carries a delete-prevention trigger so
// insert is the only mutation the schema permits.
func (r *postgresActionLog) Append(ctx context.Context, entry *ActionLogEntry) error {
	query := `
		INSERT INTO action_log (invoice_id, performed_by, action,
		                        previous_status, new_status, reason,
		                        assigned_to, previous_assignee)
		VALUES ($1, $2, $3, $4::invoice_status, $5::invoice_status, $6, $7, $8)
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query,
		entry.InvoiceID,
		entry.PerformedBy,
		entry.Action,
		entry.PreviousStatus,
		entry.NewStatus,
		entry.Reason,
		entry.AssignedTo,
		entry.PreviousAssignee,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append action log entry")
	}

	return nil
}

func (r *postgresActionLog) ListByInvoice(ctx context.Context, invoiceID string) ([]*ActionLogEntry, error) {
	query := `
		SELECT ` + actionLogColumns + `
		FROM action_log
		WHERE invoice_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.q.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list action log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

func (r *postgresActionLog) ListByActor(ctx context.Context, actorID string, page, pageSize int) (*ActionLogPage, error) {
	countQuery := `SELECT COUNT(*) FROM action_log WHERE performed_by = $1`

	var total int64
	if err := r.q.QueryRow(ctx, countQuery, actorID).Scan(&total); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to count action log entries")
	}

	query := `
		SELECT ` + actionLogColumns + `
		FROM action_log
		WHERE performed_by = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.q.Query(ctx, query, actorID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list actor activity")
	}
	defer rows.Close()

	items, err := r.scanRows(rows)
	if err != nil {
		return nil, err
	}

	return &ActionLogPage{Items: items, TotalCount: total, Page: page, PageSize: pageSize}, nil
}

func (r *postgresActionLog) scanRows(rows pgx.Rows) ([]*ActionLogEntry, error) {
	entries := make([]*ActionLogEntry, 0)
	for rows.Next() {
		entry := &ActionLogEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.InvoiceID,
			&entry.PerformedBy,
			&entry.Action,
			&entry.PreviousStatus,
			&entry.NewStatus,
			&entry.Reason,
			&entry.AssignedTo,
			&entry.PreviousAssignee,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan action log entry")
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ── users ────────────────────────────────────────────────────────────────────

type postgresUsers struct {
	q querier
}

func (r *postgresUsers) Get(ctx context.Context, id string) (*User, error) {
	query := `SELECT id, email, name, role, created_at FROM users WHERE id = $1`
	return r.scan(r.q.QueryRow(ctx, query, id), id)
}

func (r *postgresUsers) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT id, email, name, role, created_at FROM users WHERE email = $1`
	return r.scan(r.q.QueryRow(ctx, query, email), email)
}

func (r *postgresUsers) scan(row pgx.Row, ref string) (*User, error) {
	user := &User{}
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Role, &user.CreatedAt)

	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", ref)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user")
	}

	return user, nil
}
