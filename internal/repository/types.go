package repository

import "time"

// Status is the lifecycle state of an invoice.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusPaid     Status = "paid"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusPaid:
		return true
	}
	return false
}

// Role is a user's system role. Reviewer capability is a relation (an
// invoice's assigned_to), not a role.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Action labels one action log entry.
type Action string

const (
	ActionCreated    Action = "created"
	ActionAssigned   Action = "assigned"
	ActionReassigned Action = "reassigned"
	ActionApproved   Action = "approved"
	ActionRejected   Action = "rejected"
	ActionPaid       Action = "paid"
)

// User is an identity record. The approval core reads users but never
// mutates them.
type User struct {
	ID        string
	Email     string
	Name      string
	Role      Role
	CreatedAt time.Time
}

// Invoice is a vendor invoice moving through the review workflow. Status
// only changes through the approval service; descriptive fields are only
// editable while the invoice is pending.
type Invoice struct {
	ID          string
	VendorName  string
	Amount      int64 // cents
	DueDate     string
	Category    string
	Notes       string
	FileName    *string
	FileURL     *string
	Status      Status
	SubmittedBy string
	AssignedTo  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ActionLogEntry is one immutable record in the invoice audit trail.
// Status fields are set for lifecycle actions, assignee fields for
// assignment actions.
type ActionLogEntry struct {
	ID               string
	InvoiceID        string
	PerformedBy      string
	Action           Action
	PreviousStatus   *Status
	NewStatus        *Status
	Reason           *string
	AssignedTo       *string
	PreviousAssignee *string
	CreatedAt        time.Time
}

// ActionLogPage is one page of a newest-first actor activity listing.
type ActionLogPage struct {
	Items      []*ActionLogEntry
	TotalCount int64
	Page       int
	PageSize   int
}
