// Package handler exposes the approval service over HTTP.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pesio-ai/be-ap-approvals/internal/auth"
	"github.com/pesio-ai/be-ap-approvals/internal/errors"
	"github.com/pesio-ai/be-ap-approvals/internal/logger"
	"github.com/pesio-ai/be-ap-approvals/internal/repository"
	"github.com/pesio-ai/be-ap-approvals/internal/service"
	"github.com/pesio-ai/be-ap-approvals/internal/upload"
)

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	service *service.ApprovalService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(service *service.ApprovalService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		log:     log,
	}
}

// ── request/response shapes ──────────────────────────────────────────────────

type createInvoiceRequest struct {
	VendorName string  `json:"vendorName"`
	Amount     int64   `json:"amount"`
	DueDate    string  `json:"dueDate"`
	Category   string  `json:"category"`
	Notes      string  `json:"notes"`
	FileName   *string `json:"fileName"`
	FileURL    *string `json:"fileUrl"`
	FileSize   int64   `json:"fileSize"`
	AssignedTo *string `json:"assignedTo"`
}

type updateInvoiceRequest struct {
	ID         string `json:"id"`
	VendorName string `json:"vendorName"`
	Amount     int64  `json:"amount"`
	DueDate    string `json:"dueDate"`
	Category   string `json:"category"`
	Notes      string `json:"notes"`
}

type assignRequest struct {
	ID         string  `json:"id"`
	ReviewerID string  `json:"reviewerId"`
	Message    *string `json:"message"`
}

type transitionRequest struct {
	ID     string  `json:"id"`
	Status string  `json:"status"`
	Reason *string `json:"reason"`
}

type invoiceResponse struct {
	ID          string  `json:"id"`
	VendorName  string  `json:"vendorName"`
	Amount      int64   `json:"amount"`
	DueDate     string  `json:"dueDate"`
	Category    string  `json:"category"`
	Notes       string  `json:"notes"`
	FileName    *string `json:"fileName,omitempty"`
	FileURL     *string `json:"fileUrl,omitempty"`
	Status      string  `json:"status"`
	SubmittedBy string  `json:"submittedBy"`
	AssignedTo  *string `json:"assignedTo,omitempty"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

type actionLogResponse struct {
	ID               string  `json:"id"`
	InvoiceID        string  `json:"invoiceId"`
	PerformedBy      string  `json:"performedBy"`
	Action           string  `json:"action"`
	PreviousStatus   *string `json:"previousStatus,omitempty"`
	NewStatus        *string `json:"newStatus,omitempty"`
	Reason           *string `json:"reason,omitempty"`
	AssignedTo       *string `json:"assignedTo,omitempty"`
	PreviousAssignee *string `json:"previousAssignee,omitempty"`
	Timestamp        string  `json:"timestamp"`
}

func toInvoiceResponse(inv *repository.Invoice) *invoiceResponse {
	return &invoiceResponse{
		ID:          inv.ID,
		VendorName:  inv.VendorName,
		Amount:      inv.Amount,
		DueDate:     inv.DueDate,
		Category:    inv.Category,
		Notes:       inv.Notes,
		FileName:    inv.FileName,
		FileURL:     inv.FileURL,
		Status:      string(inv.Status),
		SubmittedBy: inv.SubmittedBy,
		AssignedTo:  inv.AssignedTo,
		CreatedAt:   inv.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:   inv.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func toActionLogResponse(entry *repository.ActionLogEntry) *actionLogResponse {
	resp := &actionLogResponse{
		ID:               entry.ID,
		InvoiceID:        entry.InvoiceID,
		PerformedBy:      entry.PerformedBy,
		Action:           string(entry.Action),
		Reason:           entry.Reason,
		AssignedTo:       entry.AssignedTo,
		PreviousAssignee: entry.PreviousAssignee,
		Timestamp:        entry.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if entry.PreviousStatus != nil {
		s := string(*entry.PreviousStatus)
		resp.PreviousStatus = &s
	}
	if entry.NewStatus != nil {
		s := string(*entry.NewStatus)
		resp.NewStatus = &s
	}
	return resp
}

// ── handlers ─────────────────────────────────────────────────────────────────

// CreateInvoice handles invoice submission.
func (h *HTTPHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	if req.FileName != nil {
		if err := upload.Validate(*req.FileName, req.FileSize); err != nil {
			h.writeError(w, err)
			return
		}
	}

	invoice, err := h.service.CreateInvoice(r.Context(), actor, &service.CreateInvoiceRequest{
		VendorName: req.VendorName,
		Amount:     req.Amount,
		DueDate:    req.DueDate,
		Category:   req.Category,
		Notes:      req.Notes,
		FileName:   req.FileName,
		FileURL:    req.FileURL,
		AssignedTo: req.AssignedTo,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toInvoiceResponse(invoice))
}

// GetInvoice returns one invoice.
func (h *HTTPHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, errors.InvalidInput("id", "is required"))
		return
	}

	invoice, err := h.service.GetInvoice(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toInvoiceResponse(invoice))
}

// ListInvoices returns the invoices visible to the actor.
func (h *HTTPHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	invoices, err := h.service.ListInvoices(r.Context(), actor)
	if err != nil {
		h.writeError(w, err)
		return
	}

	items := make([]*invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		items = append(items, toInvoiceResponse(inv))
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"invoices": items})
}

// UpdateInvoice edits descriptive fields of a pending invoice.
func (h *HTTPHandler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req updateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if req.ID == "" {
		h.writeError(w, errors.InvalidInput("id", "is required"))
		return
	}

	invoice, err := h.service.UpdateInvoice(r.Context(), actor, req.ID, &service.UpdateInvoiceRequest{
		VendorName: req.VendorName,
		Amount:     req.Amount,
		DueDate:    req.DueDate,
		Category:   req.Category,
		Notes:      req.Notes,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toInvoiceResponse(invoice))
}

// AssignReviewer sets or replaces the invoice's reviewer.
func (h *HTTPHandler) AssignReviewer(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if req.ID == "" || req.ReviewerID == "" {
		h.writeError(w, errors.InvalidInput("body", "id and reviewerId are required"))
		return
	}

	invoice, err := h.service.Assign(r.Context(), actor, req.ID, req.ReviewerID, req.Message)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toInvoiceResponse(invoice))
}

// UpdateStatus requests a status transition.
func (h *HTTPHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if req.ID == "" {
		h.writeError(w, errors.InvalidInput("id", "is required"))
		return
	}

	invoice, err := h.service.RequestTransition(r.Context(), actor, req.ID, repository.Status(req.Status), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toInvoiceResponse(invoice))
}

// GetHistory returns the invoice's audit trail, newest-first.
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, errors.InvalidInput("id", "is required"))
		return
	}

	entries, err := h.service.GetHistory(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	items := make([]*actionLogResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, toActionLogResponse(entry))
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"history": items})
}

// GetActivity returns a page of a user's actions, newest-first. user_id
// defaults to the actor.
func (h *HTTPHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	actor, err := auth.ActorFromContext(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = actor.ID
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	result, err := h.service.GetActivity(r.Context(), actor, userID, page, pageSize)
	if err != nil {
		h.writeError(w, err)
		return
	}

	items := make([]*actionLogResponse, 0, len(result.Items))
	for _, entry := range result.Items {
		items = append(items, toActionLogResponse(entry))
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"totalCount": result.TotalCount,
		"page":       result.Page,
		"pageSize":   result.PageSize,
	})
}

// ── helpers ──────────────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":  string(errors.CodeOf(err)),
		"error": err.Error(),
	})
}
