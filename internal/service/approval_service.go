package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-ap-approvals/internal/errors"
	"github.com/pesio-ai/be-ap-approvals/internal/logger"
	"github.com/pesio-ai/be-ap-approvals/internal/repository"
)

// Notifier publishes lifecycle events. Publishing is best-effort; failures
// must never fail the operation that triggered them.
type Notifier interface {
	PublishInvoiceEvent(ctx context.Context, eventType, invoiceID, actorID string, recipients []string, payload map[string]any)
}

// ApprovalService is the single writer of invoice status, assignment and the
// action log. Every mutation runs as one store transaction around
// load, authorize, mutate, append, so no reader ever observes a status change
// without its log entry. Row locking inside the transaction serializes
// concurrent operations on the same invoice.
type ApprovalService struct {
	store    repository.Store
	notifier Notifier
	log      *logger.Logger
}

// NewApprovalService creates the approval service. notifier may be nil.
func NewApprovalService(store repository.Store, notifier Notifier, log *logger.Logger) *ApprovalService {
	return &ApprovalService{
		store:    store,
		notifier: notifier,
		log:      log,
	}
}

// CreateInvoiceRequest carries the submission fields. The attachment
// reference, if present, has already been validated by the upload layer.
type CreateInvoiceRequest struct {
	VendorName string
	Amount     int64
	DueDate    string
	Category   string
	Notes      string
	FileName   *string
	FileURL    *string
	AssignedTo *string
}

// UpdateInvoiceRequest carries the editable descriptive fields.
type UpdateInvoiceRequest struct {
	VendorName string
	Amount     int64
	DueDate    string
	Category   string
	Notes      string
}

// CreateInvoice is the only way an invoice enters existence. It is created
// pending, owned by the submitter, with a `created` log entry appended in the
// same transaction.
func (s *ApprovalService) CreateInvoice(ctx context.Context, submitter *repository.User, req *CreateInvoiceRequest) (*repository.Invoice, error) {
	if err := validateInvoiceFields(req.VendorName, req.Amount, req.DueDate); err != nil {
		return nil, err
	}
	if (req.FileName == nil) != (req.FileURL == nil) {
		return nil, errors.InvalidInput("attachment", "file name and file url must be provided together")
	}

	invoice := &repository.Invoice{
		VendorName:  req.VendorName,
		Amount:      req.Amount,
		DueDate:     req.DueDate,
		Category:    req.Category,
		Notes:       req.Notes,
		FileName:    req.FileName,
		FileURL:     req.FileURL,
		Status:      repository.StatusPending,
		SubmittedBy: submitter.ID,
		AssignedTo:  req.AssignedTo,
	}

	err := s.store.InTransaction(ctx, func(tx repository.Store) error {
		if req.AssignedTo != nil {
			if _, err := tx.Users().Get(ctx, *req.AssignedTo); err != nil {
				return err
			}
		}

		if err := tx.Invoices().Create(ctx, invoice); err != nil {
			return err
		}

		newStatus := repository.StatusPending
		return tx.ActionLog().Append(ctx, &repository.ActionLogEntry{
			InvoiceID:   invoice.ID,
			PerformedBy: submitter.ID,
			Action:      repository.ActionCreated,
			NewStatus:   &newStatus,
			AssignedTo:  req.AssignedTo,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("invoice_id", invoice.ID).
		Str("vendor_name", invoice.VendorName).
		Int64("amount", invoice.Amount).
		Str("submitted_by", submitter.ID).
		Msg("Invoice created")

	s.notify(ctx, "invoice_created", invoice, submitter.ID, nil)

	return invoice, nil
}

// RequestTransition moves an invoice to the requested status. The state
// machine is deliberately permissive about the source status (an approved
// invoice can be marked paid, a rejected one re-approved by its reviewer);
// the authorization policy is the only gate.
func (s *ApprovalService) RequestTransition(ctx context.Context, actor *repository.User, invoiceID string, target repository.Status, reason *string) (*repository.Invoice, error) {
	if !target.Valid() {
		return nil, errors.InvalidInput("status", "must be one of pending, approved, rejected, paid")
	}

	var invoice *repository.Invoice
	err := s.store.InTransaction(ctx, func(tx repository.Store) error {
		inv, err := tx.Invoices().GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}

		if err := Decide(actor, inv, PolicyRequest{Kind: RequestTransition, Target: target}); err != nil {
			return err
		}

		previous := inv.Status
		newStatus := target
		inv.Status = target
		inv.UpdatedAt = time.Now().UTC()

		if err := tx.Invoices().Save(ctx, inv); err != nil {
			return err
		}

		if err := tx.ActionLog().Append(ctx, &repository.ActionLogEntry{
			InvoiceID:      inv.ID,
			PerformedBy:    actor.ID,
			Action:         repository.Action(target),
			PreviousStatus: &previous,
			NewStatus:      &newStatus,
			Reason:         reason,
		}); err != nil {
			return err
		}

		invoice = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("invoice_id", invoice.ID).
		Str("status", string(invoice.Status)).
		Str("performed_by", actor.ID).
		Msg("Invoice status changed")

	s.notify(ctx, "invoice_"+string(target), invoice, actor.ID, map[string]any{
		"status": string(target),
	})

	return invoice, nil
}

// Assign sets or replaces the invoice's reviewer. Admin only. The log entry
// records `assigned` the first time and `reassigned` afterwards.
func (s *ApprovalService) Assign(ctx context.Context, actor *repository.User, invoiceID, reviewerID string, message *string) (*repository.Invoice, error) {
	var invoice *repository.Invoice
	var action repository.Action

	err := s.store.InTransaction(ctx, func(tx repository.Store) error {
		inv, err := tx.Invoices().GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}

		if err := Decide(actor, inv, PolicyRequest{Kind: RequestAssign}); err != nil {
			return err
		}

		if _, err := tx.Users().Get(ctx, reviewerID); err != nil {
			return err
		}

		previous := inv.AssignedTo
		inv.AssignedTo = &reviewerID
		inv.UpdatedAt = time.Now().UTC()

		if err := tx.Invoices().Save(ctx, inv); err != nil {
			return err
		}

		action = repository.ActionAssigned
		if previous != nil {
			action = repository.ActionReassigned
		}

		if err := tx.ActionLog().Append(ctx, &repository.ActionLogEntry{
			InvoiceID:        inv.ID,
			PerformedBy:      actor.ID,
			Action:           action,
			Reason:           message,
			AssignedTo:       &reviewerID,
			PreviousAssignee: previous,
		}); err != nil {
			return err
		}

		invoice = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("invoice_id", invoice.ID).
		Str("reviewer_id", reviewerID).
		Str("action", string(action)).
		Str("performed_by", actor.ID).
		Msg("Reviewer assigned")

	s.notify(ctx, "invoice_assigned", invoice, actor.ID, map[string]any{
		"reviewer_id": reviewerID,
	})

	return invoice, nil
}

// UpdateInvoice edits the descriptive fields of a pending invoice.
// Descriptive edits are intentionally absent from the action log; only
// status and assignment changes are audited.
func (s *ApprovalService) UpdateInvoice(ctx context.Context, actor *repository.User, invoiceID string, req *UpdateInvoiceRequest) (*repository.Invoice, error) {
	if err := validateInvoiceFields(req.VendorName, req.Amount, req.DueDate); err != nil {
		return nil, err
	}

	var invoice *repository.Invoice
	err := s.store.InTransaction(ctx, func(tx repository.Store) error {
		inv, err := tx.Invoices().GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}

		if err := Decide(actor, inv, PolicyRequest{Kind: RequestEdit}); err != nil {
			return err
		}

		inv.VendorName = req.VendorName
		inv.Amount = req.Amount
		inv.DueDate = req.DueDate
		inv.Category = req.Category
		inv.Notes = req.Notes
		inv.UpdatedAt = time.Now().UTC()

		if err := tx.Invoices().Save(ctx, inv); err != nil {
			return err
		}

		invoice = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("invoice_id", invoice.ID).
		Str("performed_by", actor.ID).
		Msg("Invoice updated")

	return invoice, nil
}

// GetInvoice returns one invoice, subject to the view policy.
func (s *ApprovalService) GetInvoice(ctx context.Context, actor *repository.User, invoiceID string) (*repository.Invoice, error) {
	invoice, err := s.store.Invoices().Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if err := Decide(actor, invoice, PolicyRequest{Kind: RequestView}); err != nil {
		return nil, err
	}

	return invoice, nil
}

// ListInvoices returns the invoices visible to the actor, newest-first.
// Admins see everything, everyone else the union of invoices they submitted
// and invoices assigned to them.
func (s *ApprovalService) ListInvoices(ctx context.Context, actor *repository.User) ([]*repository.Invoice, error) {
	if actor.Role == repository.RoleAdmin {
		return s.store.Invoices().ListVisible(ctx, "")
	}
	return s.store.Invoices().ListVisible(ctx, actor.ID)
}

// GetHistory returns the invoice's audit trail, newest-first, subject to the
// view policy.
func (s *ApprovalService) GetHistory(ctx context.Context, actor *repository.User, invoiceID string) ([]*repository.ActionLogEntry, error) {
	invoice, err := s.store.Invoices().Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if err := Decide(actor, invoice, PolicyRequest{Kind: RequestView}); err != nil {
		return nil, err
	}

	return s.store.ActionLog().ListByInvoice(ctx, invoiceID)
}

// GetActivity returns a page of the given user's actions, newest-first.
// Users may only read their own activity; admins may read anyone's.
func (s *ApprovalService) GetActivity(ctx context.Context, actor *repository.User, userID string, page, pageSize int) (*repository.ActionLogPage, error) {
	if actor.Role != repository.RoleAdmin && actor.ID != userID {
		return nil, errors.Forbidden("only an admin may view another user's activity")
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	return s.store.ActionLog().ListByActor(ctx, userID, page, pageSize)
}

func validateInvoiceFields(vendorName string, amount int64, dueDate string) error {
	if vendorName == "" {
		return errors.InvalidInput("vendor_name", "is required")
	}
	if amount < 0 {
		return errors.InvalidInput("amount", "must not be negative")
	}
	if dueDate == "" {
		return errors.InvalidInput("due_date", "is required")
	}
	if _, err := time.Parse("2006-01-02", dueDate); err != nil {
		return errors.InvalidInput("due_date", "invalid date format, expected YYYY-MM-DD")
	}
	return nil
}

// notify publishes to the submitter and assigned reviewer, skipping the
// actor themselves.
func (s *ApprovalService) notify(ctx context.Context, eventType string, invoice *repository.Invoice, actorID string, payload map[string]any) {
	if s.notifier == nil {
		return
	}

	recipients := make([]string, 0, 2)
	if invoice.SubmittedBy != actorID {
		recipients = append(recipients, invoice.SubmittedBy)
	}
	if invoice.AssignedTo != nil && *invoice.AssignedTo != actorID && *invoice.AssignedTo != invoice.SubmittedBy {
		recipients = append(recipients, *invoice.AssignedTo)
	}
	if len(recipients) == 0 {
		return
	}

	s.notifier.PublishInvoiceEvent(ctx, eventType, invoice.ID, actorID, recipients, payload)
}
