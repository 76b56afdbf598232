package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-ap-approvals/internal/errors"
	"github.com/pesio-ai/be-ap-approvals/internal/logger"
	"github.com/pesio-ai/be-ap-approvals/internal/repository"
)

// -------- test fakes --------

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
	last   []string // recipients of the last event
}

func (f *fakeNotifier) PublishInvoiceEvent(ctx context.Context, eventType, invoiceID, actorID string, recipients []string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	f.last = recipients
}

// failingLogStore makes action log appends fail so rollback behavior can be
// observed.
type failingLogStore struct {
	repository.Store
}

func (s *failingLogStore) ActionLog() repository.ActionLogRepository {
	return &failingLog{}
}

func (s *failingLogStore) InTransaction(ctx context.Context, fn func(tx repository.Store) error) error {
	return s.Store.InTransaction(ctx, func(tx repository.Store) error {
		return fn(&failingLogStore{Store: tx})
	})
}

type failingLog struct{}

func (failingLog) Append(ctx context.Context, entry *repository.ActionLogEntry) error {
	return errors.New(errors.ErrCodeInternal, "append failed")
}

func (failingLog) ListByInvoice(ctx context.Context, invoiceID string) ([]*repository.ActionLogEntry, error) {
	return nil, nil
}

func (failingLog) ListByActor(ctx context.Context, actorID string, page, pageSize int) (*repository.ActionLogPage, error) {
	return nil, nil
}

// -------- fixtures --------

type fixture struct {
	svc       *ApprovalService
	store     *repository.MemoryStore
	notifier  *fakeNotifier
	admin     *repository.User
	submitter *repository.User
	reviewer  *repository.User
	outsider  *repository.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := repository.NewMemoryStore()
	notifier := &fakeNotifier{}
	log := logger.New(logger.Config{Level: "disabled"})

	return &fixture{
		svc:       NewApprovalService(store, notifier, log),
		store:     store,
		notifier:  notifier,
		admin:     store.AddUser(&repository.User{Email: "admin@acme.test", Name: "Admin", Role: repository.RoleAdmin}),
		submitter: store.AddUser(&repository.User{Email: "sam@acme.test", Name: "Sam", Role: repository.RoleUser}),
		reviewer:  store.AddUser(&repository.User{Email: "rae@acme.test", Name: "Rae", Role: repository.RoleUser}),
		outsider:  store.AddUser(&repository.User{Email: "out@acme.test", Name: "Out", Role: repository.RoleUser}),
	}
}

func (f *fixture) createInvoice(t *testing.T) *repository.Invoice {
	t.Helper()

	invoice, err := f.svc.CreateInvoice(context.Background(), f.submitter, &CreateInvoiceRequest{
		VendorName: "Acme",
		Amount:     100,
		DueDate:    "2026-10-01",
		Category:   "supplies",
	})
	require.NoError(t, err)
	return invoice
}

func (f *fixture) history(t *testing.T, invoiceID string) []*repository.ActionLogEntry {
	t.Helper()

	entries, err := f.store.ActionLog().ListByInvoice(context.Background(), invoiceID)
	require.NoError(t, err)
	return entries
}

// -------- creation --------

func TestCreateInvoiceRoundTrip(t *testing.T) {
	f := newFixture(t)
	invoice := f.createInvoice(t)

	got, err := f.store.Invoices().Get(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPending, got.Status)
	assert.Equal(t, f.submitter.ID, got.SubmittedBy)
	assert.Equal(t, "Acme", got.VendorName)
	assert.Nil(t, got.AssignedTo)

	entries := f.history(t, invoice.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, repository.ActionCreated, entries[0].Action)
	require.NotNil(t, entries[0].NewStatus)
	assert.Equal(t, repository.StatusPending, *entries[0].NewStatus)
	assert.Nil(t, entries[0].PreviousStatus)
	assert.Equal(t, f.submitter.ID, entries[0].PerformedBy)
}

func TestCreateInvoiceWithReviewer(t *testing.T) {
	f := newFixture(t)

	invoice, err := f.svc.CreateInvoice(context.Background(), f.submitter, &CreateInvoiceRequest{
		VendorName: "Acme",
		Amount:     100,
		DueDate:    "2026-10-01",
		AssignedTo: &f.reviewer.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, invoice.AssignedTo)
	assert.Equal(t, f.reviewer.ID, *invoice.AssignedTo)

	entries := f.history(t, invoice.ID)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].AssignedTo)
	assert.Equal(t, f.reviewer.ID, *entries[0].AssignedTo)
}

func TestCreateInvoiceValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *CreateInvoiceRequest
	}{
		{"missing vendor", &CreateInvoiceRequest{Amount: 100, DueDate: "2026-10-01"}},
		{"negative amount", &CreateInvoiceRequest{VendorName: "Acme", Amount: -1, DueDate: "2026-10-01"}},
		{"missing due date", &CreateInvoiceRequest{VendorName: "Acme", Amount: 100}},
		{"bad due date", &CreateInvoiceRequest{VendorName: "Acme", Amount: 100, DueDate: "10/01/2026"}},
		{"dangling file url", &CreateInvoiceRequest{VendorName: "Acme", Amount: 100, DueDate: "2026-10-01", FileURL: strptr("https://files/a.pdf")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateInvoice(ctx, f.submitter, tt.req)
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
		})
	}
}

func TestCreateInvoiceUnknownReviewer(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateInvoice(context.Background(), f.submitter, &CreateInvoiceRequest{
		VendorName: "Acme",
		Amount:     100,
		DueDate:    "2026-10-01",
		AssignedTo: strptr("no-such-user"),
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

// -------- full lifecycle --------

func TestApprovalLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice := f.createInvoice(t)

	// Admin assigns the reviewer.
	invoice, err := f.svc.Assign(ctx, f.admin, invoice.ID, f.reviewer.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, invoice.AssignedTo)
	assert.Equal(t, f.reviewer.ID, *invoice.AssignedTo)

	entries := f.history(t, invoice.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, repository.ActionAssigned, entries[0].Action)
	assert.Equal(t, f.reviewer.ID, *entries[0].AssignedTo)
	assert.Nil(t, entries[0].PreviousAssignee)

	// Reviewer approves.
	invoice, err = f.svc.RequestTransition(ctx, f.reviewer, invoice.ID, repository.StatusApproved, nil)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusApproved, invoice.Status)

	entries = f.history(t, invoice.ID)
	require.Len(t, entries, 3)
	assert.Equal(t, repository.ActionApproved, entries[0].Action)
	assert.Equal(t, repository.StatusPending, *entries[0].PreviousStatus)
	assert.Equal(t, repository.StatusApproved, *entries[0].NewStatus)

	// Submitter marks the approved invoice paid.
	invoice, err = f.svc.RequestTransition(ctx, f.submitter, invoice.ID, repository.StatusPaid, nil)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPaid, invoice.Status)

	entries = f.history(t, invoice.ID)
	require.Len(t, entries, 4)
	assert.Equal(t, repository.ActionPaid, entries[0].Action)
	assert.Equal(t, repository.StatusApproved, *entries[0].PreviousStatus)
	assert.Equal(t, repository.StatusPaid, *entries[0].NewStatus)
}

func TestOutsiderAlwaysForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice := f.createInvoice(t)

	_, err := f.svc.Assign(ctx, f.admin, invoice.ID, f.reviewer.ID, nil)
	require.NoError(t, err)

	for _, target := range []repository.Status{repository.StatusApproved, repository.StatusRejected, repository.StatusPaid} {
		_, err := f.svc.RequestTransition(ctx, f.outsider, invoice.ID, target, nil)
		require.Error(t, err, "target %s", target)
		assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))
	}

	// Denied attempts leave no trace in the log.
	assert.Len(t, f.history(t, invoice.ID), 2)
}

func TestDirectPaidBypassesReview(t *testing.T) {
	f := newFixture(t)
	invoice := f.createInvoice(t)

	// Pending straight to paid, no reviewer involved. Intentional business
	// rule, not a gap.
	invoice, err := f.svc.RequestTransition(context.Background(), f.submitter, invoice.ID, repository.StatusPaid, nil)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPaid, invoice.Status)
}

func TestRedundantTransitionIsLoggedAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice := f.createInvoice(t)

	_, err := f.svc.Assign(ctx, f.admin, invoice.ID, f.reviewer.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.RequestTransition(ctx, f.reviewer, invoice.ID, repository.StatusApproved, nil)
	require.NoError(t, err)

	// Re-approving an approved invoice is permitted and logged identically.
	invoice, err = f.svc.RequestTransition(ctx, f.reviewer, invoice.ID, repository.StatusApproved, nil)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusApproved, invoice.Status)

	entries := f.history(t, invoice.ID)
	require.Len(t, entries, 4)
	assert.Equal(t, repository.StatusApproved, *entries[0].PreviousStatus)
	assert.Equal(t, repository.StatusApproved, *entries[0].NewStatus)
}

func TestTransitionInvalidTarget(t *testing.T) {
	f := newFixture(t)
	invoice := f.createInvoice(t)

	_, err := f.svc.RequestTransition(context.Background(), f.admin, invoice.ID, "archived", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}

func TestTransitionToPendingDenied(t *testing.T) {
	f := newFixture(t)
	invoice := f.createInvoice(t)

	_, err := f.svc.RequestTransition(context.Background(), f.admin, invoice.ID, repository.StatusPending, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))
}

func TestTransitionUnknownInvoice(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RequestTransition(context.Background(), f.admin, "no-such-invoice", repository.StatusApproved, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

// -------- assignment --------

func TestReassignLogsPreviousAssignee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice := f.createInvoice(t)

	_, err := f.svc.Assign(ctx, f.admin, invoice.ID, f.reviewer.ID, nil)
	require.NoError(t, err)

	other := f.store.AddUser(&repository.User{Email: "lee@acme.test", Name: "Lee", Role: repository.RoleUser})
	invoice, err = f.svc.Assign(ctx, f.admin, invoice.ID, other.ID, strptr("vacation cover"))
	require.NoError(t, err)
	assert.Equal(t, other.ID, *invoice.AssignedTo)

	entries := f.history(t, invoice.ID)
	require.Len(t, entries, 3)
	assert.Equal(t, repository.ActionReassigned, entries[0].Action)
	assert.Equal(t, other.ID, *entries[0].AssignedTo)
	assert.Equal(t, f.reviewer.ID, *entries[0].PreviousAssignee)
	assert.Equal(t, "vacation cover", *entries[0].Reason)
}

func TestAssignRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	invoice := f.createInvoice(t)

	_, err := f.svc.Assign(context.Background(), f.submitter, invoice.ID, f.reviewer.ID, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))
}

func TestAssignUnknownReviewer(t *testing.T) {
	f := newFixture(t)
	invoice := f.createInvoice(t)

	_, err := f.svc.Assign(context.Background(), f.admin, invoice.ID, "no-such-user", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))

	// The denied assignment left neither mutation nor log entry.
	got, err := f.store.Invoices().Get(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AssignedTo)
	assert.Len(t, f.history(t, invoice.ID), 1)
}

// -------- descriptive edits --------

func TestUpdateInvoice(t *testing.T) {
	f := newFixture(t)
	invoice := f.createInvoice(t)

	updated, err := f.svc.UpdateInvoice(context.Background(), f.submitter, invoice.ID, &UpdateInvoiceRequest{
		VendorName: "Acme West",
		Amount:     250,
		DueDate:    "2026-11-15",
		Category:   "equipment",
		Notes:      "revised quote",
	})
	require.NoError(t, err)
	assert.Equal(t, "Acme West", updated.VendorName)
	assert.Equal(t, int64(250), updated.Amount)

	// Descriptive edits are not audited.
	assert.Len(t, f.history(t, invoice.ID), 1)
}

func TestUpdateInvoiceAfterApprovalConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice := f.createInvoice(t)

	_, err := f.svc.Assign(ctx, f.admin, invoice.ID, f.reviewer.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.RequestTransition(ctx, f.reviewer, invoice.ID, repository.StatusApproved, nil)
	require.NoError(t, err)

	before := len(f.history(t, invoice.ID))

	_, err = f.svc.UpdateInvoice(ctx, f.submitter, invoice.ID, &UpdateInvoiceRequest{
		VendorName: "Changed",
		Amount:     1,
		DueDate:    "2026-12-01",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))

	got, err := f.store.Invoices().Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.VendorName)
	assert.Equal(t, int64(100), got.Amount)
	assert.Len(t, f.history(t, invoice.ID), before)
}

func TestUpdateInvoiceByNonSubmitterForbidden(t *testing.T) {
	f := newFixture(t)
	invoice := f.createInvoice(t)

	_, err := f.svc.UpdateInvoice(context.Background(), f.outsider, invoice.ID, &UpdateInvoiceRequest{
		VendorName: "Changed",
		Amount:     1,
		DueDate:    "2026-12-01",
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))
}

// -------- reads --------

func TestGetInvoiceViewPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice := f.createInvoice(t)

	_, err := f.svc.GetInvoice(ctx, f.submitter, invoice.ID)
	assert.NoError(t, err)
	_, err = f.svc.GetInvoice(ctx, f.admin, invoice.ID)
	assert.NoError(t, err)

	_, err = f.svc.GetInvoice(ctx, f.outsider, invoice.ID)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))

	_, err = f.svc.GetHistory(ctx, f.outsider, invoice.ID)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))
}

func TestListInvoicesVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.createInvoice(t)
	_, err := f.svc.Assign(ctx, f.admin, first.ID, f.reviewer.ID, nil)
	require.NoError(t, err)

	other, err := f.svc.CreateInvoice(ctx, f.outsider, &CreateInvoiceRequest{
		VendorName: "Globex",
		Amount:     500,
		DueDate:    "2026-10-15",
	})
	require.NoError(t, err)

	submitterList, err := f.svc.ListInvoices(ctx, f.submitter)
	require.NoError(t, err)
	require.Len(t, submitterList, 1)
	assert.Equal(t, first.ID, submitterList[0].ID)

	reviewerList, err := f.svc.ListInvoices(ctx, f.reviewer)
	require.NoError(t, err)
	require.Len(t, reviewerList, 1)
	assert.Equal(t, first.ID, reviewerList[0].ID)

	adminList, err := f.svc.ListInvoices(ctx, f.admin)
	require.NoError(t, err)
	assert.Len(t, adminList, 2)

	outsiderList, err := f.svc.ListInvoices(ctx, f.outsider)
	require.NoError(t, err)
	require.Len(t, outsiderList, 1)
	assert.Equal(t, other.ID, outsiderList[0].ID)
}

func TestGetActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.createInvoice(t)
	}

	page, err := f.svc.GetActivity(ctx, f.submitter, f.submitter.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.TotalCount)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.PageSize)

	page, err = f.svc.GetActivity(ctx, f.submitter, f.submitter.ID, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	// Admins can read anyone's activity, users only their own.
	_, err = f.svc.GetActivity(ctx, f.admin, f.submitter.ID, 1, 10)
	assert.NoError(t, err)

	_, err = f.svc.GetActivity(ctx, f.outsider, f.submitter.ID, 1, 10)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))
}

// -------- atomicity & concurrency --------

func TestFailedAppendRollsBackMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice := f.createInvoice(t)

	_, err := f.svc.Assign(ctx, f.admin, invoice.ID, f.reviewer.ID, nil)
	require.NoError(t, err)

	svc := NewApprovalService(&failingLogStore{Store: f.store}, nil, logger.New(logger.Config{Level: "disabled"}))

	_, err = svc.RequestTransition(ctx, f.reviewer, invoice.ID, repository.StatusApproved, nil)
	require.Error(t, err)

	// No status change may survive without its log entry.
	got, err := f.store.Invoices().Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPending, got.Status)
	assert.Len(t, f.history(t, invoice.ID), 2)
}

func TestConcurrentTransitionsSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice := f.createInvoice(t)

	_, err := f.svc.Assign(ctx, f.admin, invoice.ID, f.reviewer.ID, nil)
	require.NoError(t, err)
	base := len(f.history(t, invoice.ID))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.svc.RequestTransition(ctx, f.reviewer, invoice.ID, repository.StatusApproved, nil)
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := f.svc.RequestTransition(ctx, f.submitter, invoice.ID, repository.StatusPaid, nil)
		assert.NoError(t, err)
	}()
	wg.Wait()

	entries := f.history(t, invoice.ID)
	require.Len(t, entries, base+2)

	// The later transition observed the earlier one's result: the log forms
	// an unbroken previous→new chain.
	second, first := entries[0], entries[1]
	assert.Equal(t, *first.NewStatus, *second.PreviousStatus)
	assert.Equal(t, repository.StatusPending, *first.PreviousStatus)

	got, err := f.store.Invoices().Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, *second.NewStatus, got.Status)
}

// -------- notifications --------

func TestNotificationsPublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	invoice, err := f.svc.CreateInvoice(ctx, f.submitter, &CreateInvoiceRequest{
		VendorName: "Acme",
		Amount:     100,
		DueDate:    "2026-10-01",
		AssignedTo: &f.reviewer.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"invoice_created"}, f.notifier.events)
	assert.Equal(t, []string{f.reviewer.ID}, f.notifier.last)

	_, err = f.svc.RequestTransition(ctx, f.reviewer, invoice.ID, repository.StatusApproved, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"invoice_created", "invoice_approved"}, f.notifier.events)
	assert.Equal(t, []string{f.submitter.ID}, f.notifier.last)
}
