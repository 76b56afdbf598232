// Package repository defines the storage contract for the approval core and
// its Postgres and in-memory implementations.
package repository

import "context"

// InvoiceRepository is the invoice store. Save replaces the full record.
type InvoiceRepository interface {
	Get(ctx context.Context, id string) (*Invoice, error)
	// GetForUpdate loads an invoice and, inside a transaction, locks its row
	// so concurrent transitions on the same invoice serialize.
	GetForUpdate(ctx context.Context, id string) (*Invoice, error)
	Create(ctx context.Context, invoice *Invoice) error
	Save(ctx context.Context, invoice *Invoice) error
	// ListVisible returns invoices submitted by or assigned to the given
	// user, newest-first. An empty actorID returns all invoices.
	ListVisible(ctx context.Context, actorID string) ([]*Invoice, error)
}

// ActionLogRepository is the append-only audit trail. Entries are never
// updated or deleted.
type ActionLogRepository interface {
	Append(ctx context.Context, entry *ActionLogEntry) error
	ListByInvoice(ctx context.Context, invoiceID string) ([]*ActionLogEntry, error)
	ListByActor(ctx context.Context, actorID string, page, pageSize int) (*ActionLogPage, error)
}

// UserRepository reads identity records.
type UserRepository interface {
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}

// Store bundles the repositories and provides the transactional boundary the
// approval service runs its load-decide-mutate-append sequence in.
type Store interface {
	Invoices() InvoiceRepository
	ActionLog() ActionLogRepository
	Users() UserRepository
	// InTransaction runs fn against a Store whose repositories share one
	// transaction. The invoice mutation and its log append either both
	// commit or neither does.
	InTransaction(ctx context.Context, fn func(tx Store) error) error
}
