package service

import (
	"github.com/pesio-ai/be-ap-approvals/internal/errors"
	"github.com/pesio-ai/be-ap-approvals/internal/repository"
)

// RequestKind identifies what an actor is asking to do with an invoice.
type RequestKind string

const (
	RequestView       RequestKind = "view"
	RequestEdit       RequestKind = "edit"
	RequestAssign     RequestKind = "assign"
	RequestTransition RequestKind = "transition"
)

// PolicyRequest is one authorization question. Target is only set for
// transitions.
type PolicyRequest struct {
	Kind   RequestKind
	Target repository.Status
}

// Decide is the authorization policy for the approval workflow. It returns
// nil when the actor may perform the request and a Forbidden (or, for edits
// of a non-pending invoice, Conflict) error otherwise.
//
// It is a pure function of (actor.ID, actor.Role, invoice.SubmittedBy,
// invoice.AssignedTo, invoice.Status, request): no side effects, no clock,
// no store access, so every decision is replayable from the audit trail.
func Decide(actor *repository.User, invoice *repository.Invoice, req PolicyRequest) error {
	admin := actor.Role == repository.RoleAdmin
	submitter := actor.ID == invoice.SubmittedBy
	reviewer := invoice.AssignedTo != nil && *invoice.AssignedTo == actor.ID

	switch req.Kind {
	case RequestView:
		if admin || submitter || reviewer {
			return nil
		}
		return errors.Forbidden("only the submitter, the assigned reviewer or an admin may view this invoice")

	case RequestEdit:
		// A non-pending invoice is frozen for everyone, admins included.
		if invoice.Status != repository.StatusPending {
			return errors.Conflict("only pending invoices can be edited")
		}
		if admin || submitter {
			return nil
		}
		return errors.Forbidden("only the submitter may edit this invoice")

	case RequestAssign:
		if admin {
			return nil
		}
		return errors.Forbidden("only an admin may assign a reviewer")

	case RequestTransition:
		// Pending is the creation-only state; nothing transitions back into
		// it, not even for admins.
		if req.Target == repository.StatusPending {
			return errors.Forbidden("pending is not a valid transition target")
		}
		if admin {
			return nil
		}

		switch req.Target {
		case repository.StatusPaid:
			if submitter {
				return nil
			}
			return errors.Forbidden("only the submitter may mark this invoice paid")

		case repository.StatusApproved, repository.StatusRejected:
			if invoice.AssignedTo == nil {
				return errors.Forbidden("no reviewer is assigned to this invoice")
			}
			if reviewer {
				return nil
			}
			return errors.Forbidden("only the assigned reviewer may approve or reject this invoice")
		}

		return errors.Forbidden("transition not permitted")
	}

	return errors.Forbidden("unknown request")
}
