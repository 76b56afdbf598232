package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-ap-approvals/internal/errors"
)

// MemoryStore is an in-memory Store used by tests and local development.
// Transactions take the write lock for their whole duration, so concurrent
// operations on the same invoice serialize and readers never observe a
// mutation without its log append. A snapshot taken at transaction start is
// restored on error, giving the same no-partial-mutation guarantee as the
// Postgres store.
type MemoryStore struct {
	mu       sync.RWMutex
	invoices map[string]*Invoice
	entries  []*ActionLogEntry
	users    map[string]*User
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices: make(map[string]*Invoice),
		users:    make(map[string]*User),
	}
}

// AddUser seeds an identity record. Missing IDs are generated.
func (s *MemoryStore) AddUser(user *User) *User {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = user
	return user
}

func (s *MemoryStore) Invoices() InvoiceRepository {
	return &memoryInvoices{s: s, mu: &s.mu}
}

func (s *MemoryStore) ActionLog() ActionLogRepository {
	return &memoryActionLog{s: s, mu: &s.mu}
}

func (s *MemoryStore) Users() UserRepository {
	return &memoryUsers{s: s, mu: &s.mu}
}

// InTransaction holds the write lock while fn runs and rolls the data back
// if fn fails.
func (s *MemoryStore) InTransaction(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshot()

	tx := &memoryTx{s: s}
	if err := fn(tx); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	invoices map[string]*Invoice
	entries  []*ActionLogEntry
}

func (s *MemoryStore) snapshot() memorySnapshot {
	invoices := make(map[string]*Invoice, len(s.invoices))
	for id, inv := range s.invoices {
		invoices[id] = copyInvoice(inv)
	}
	entries := make([]*ActionLogEntry, len(s.entries))
	copy(entries, s.entries)
	return memorySnapshot{invoices: invoices, entries: entries}
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.invoices = snap.invoices
	s.entries = snap.entries
}

// memoryTx exposes the same repositories without locking; the transaction
// already holds the write lock.
type memoryTx struct {
	s *MemoryStore
}

func (t *memoryTx) Invoices() InvoiceRepository    { return &memoryInvoices{s: t.s} }
func (t *memoryTx) ActionLog() ActionLogRepository { return &memoryActionLog{s: t.s} }
func (t *memoryTx) Users() UserRepository          { return &memoryUsers{s: t.s} }

func (t *memoryTx) InTransaction(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

// ── invoices ─────────────────────────────────────────────────────────────────

type memoryInvoices struct {
	s  *MemoryStore
	mu *sync.RWMutex // nil inside a transaction
}

func (r *memoryInvoices) Get(ctx context.Context, id string) (*Invoice, error) {
	if r.mu != nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}

	inv, ok := r.s.invoices[id]
	if !ok {
		return nil, errors.NotFound("invoice", id)
	}
	return copyInvoice(inv), nil
}

func (r *memoryInvoices) GetForUpdate(ctx context.Context, id string) (*Invoice, error) {
	// The transaction lock already provides exclusivity.
	return r.Get(ctx, id)
}

func (r *memoryInvoices) Create(ctx context.Context, invoice *Invoice) error {
	if r.mu != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}

	if invoice.ID == "" {
		invoice.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	invoice.CreatedAt = now
	invoice.UpdatedAt = now

	r.s.invoices[invoice.ID] = copyInvoice(invoice)
	return nil
}

func (r *memoryInvoices) Save(ctx context.Context, invoice *Invoice) error {
	if r.mu != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}

	if _, ok := r.s.invoices[invoice.ID]; !ok {
		return errors.NotFound("invoice", invoice.ID)
	}
	invoice.UpdatedAt = time.Now().UTC()
	r.s.invoices[invoice.ID] = copyInvoice(invoice)
	return nil
}

func (r *memoryInvoices) ListVisible(ctx context.Context, actorID string) ([]*Invoice, error) {
	if r.mu != nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}

	invoices := make([]*Invoice, 0)
	for _, inv := range r.s.invoices {
		if actorID == "" || inv.SubmittedBy == actorID ||
			(inv.AssignedTo != nil && *inv.AssignedTo == actorID) {
			invoices = append(invoices, copyInvoice(inv))
		}
	}

	sort.Slice(invoices, func(i, j int) bool {
		return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
	})
	return invoices, nil
}

func copyInvoice(inv *Invoice) *Invoice {
	c := *inv
	if inv.FileName != nil {
		v := *inv.FileName
		c.FileName = &v
	}
	if inv.FileURL != nil {
		v := *inv.FileURL
		c.FileURL = &v
	}
	if inv.AssignedTo != nil {
		v := *inv.AssignedTo
		c.AssignedTo = &v
	}
	return &c
}

// ── action log ───────────────────────────────────────────────────────────────

type memoryActionLog struct {
	s  *MemoryStore
	mu *sync.RWMutex
}

func (r *memoryActionLog) Append(ctx context.Context, entry *ActionLogEntry) error {
	if r.mu != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now().UTC()

	c := *entry
	r.s.entries = append(r.s.entries, &c)
	return nil
}

func (r *memoryActionLog) ListByInvoice(ctx context.Context, invoiceID string) ([]*ActionLogEntry, error) {
	if r.mu != nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}

	// Append order doubles as time order; reverse for newest-first.
	entries := make([]*ActionLogEntry, 0)
	for i := len(r.s.entries) - 1; i >= 0; i-- {
		if r.s.entries[i].InvoiceID == invoiceID {
			c := *r.s.entries[i]
			entries = append(entries, &c)
		}
	}
	return entries, nil
}

func (r *memoryActionLog) ListByActor(ctx context.Context, actorID string, page, pageSize int) (*ActionLogPage, error) {
	if r.mu != nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}

	matched := make([]*ActionLogEntry, 0)
	for i := len(r.s.entries) - 1; i >= 0; i-- {
		if r.s.entries[i].PerformedBy == actorID {
			c := *r.s.entries[i]
			matched = append(matched, &c)
		}
	}

	total := int64(len(matched))
	start := (page - 1) * pageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}

	return &ActionLogPage{
		Items:      matched[start:end],
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// ── users ────────────────────────────────────────────────────────────────────

type memoryUsers struct {
	s  *MemoryStore
	mu *sync.RWMutex
}

func (r *memoryUsers) Get(ctx context.Context, id string) (*User, error) {
	if r.mu != nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}

	user, ok := r.s.users[id]
	if !ok {
		return nil, errors.NotFound("user", id)
	}
	c := *user
	return &c, nil
}

func (r *memoryUsers) GetByEmail(ctx context.Context, email string) (*User, error) {
	if r.mu != nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}

	for _, user := range r.s.users {
		if user.Email == email {
			c := *user
			return &c, nil
		}
	}
	return nil, errors.NotFound("user", email)
}
