package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "lead-router/internal/common/errors"
	"lead-router/internal/routing"
)

type createContactRequest struct {
	ObjectType routing.ObjectType `json:"object_type"`
	Fields     routing.Record     `json:"fields"`
	Source     string             `json:"source"`
	ExternalID string             `json:"external_id"`
	// SkipRouting creates the contact without an immediate route attempt;
	// the background poller picks it up later.
	SkipRouting bool `json:"skip_routing"`
}

type createContactResponse struct {
	Contact *routing.Contact     `json:"contact"`
	Routing *routing.RouteResult `json:"routing,omitempty"`
}

// CreateContact stores a contact and immediately attempts to route it.
// Routing failures never fail the creation; the response carries the routing
// outcome separately.
func (h *Handlers) CreateContact(w http.ResponseWriter, r *http.Request) {
	var req createContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}
	if len(req.Fields) == 0 {
		respondError(w, apperrors.ValidationError("fields are required"))
		return
	}
	switch req.ObjectType {
	case "", routing.ObjectLead, routing.ObjectContact:
	default:
		respondError(w, apperrors.ValidationError("object_type must be Lead or Contact"))
		return
	}

	contact := &routing.Contact{
		ObjectType: req.ObjectType,
		Fields:     req.Fields,
		Source:     req.Source,
		ExternalID: req.ExternalID,
	}
	if err := h.storage.CreateContact(contact); err != nil {
		respondError(w, err)
		return
	}

	resp := createContactResponse{Contact: contact}
	if !req.SkipRouting {
		result, err := h.orchestrator.RouteContact(r.Context(), contact.ID, routing.TriggerContactCreated, routing.MethodAuto)
		if err == nil {
			resp.Routing = result
		} else {
			resp.Routing = &routing.RouteResult{ContactID: contact.ID, Reason: err.Error()}
		}
	}

	respondJSON(w, http.StatusCreated, resp)
}

// GetContact returns one contact.
func (h *Handlers) GetContact(w http.ResponseWriter, r *http.Request) {
	contact, err := h.storage.GetContact(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, contact)
}

// ListContacts returns contacts, newest first, with limit/offset paging.
func (h *Handlers) ListContacts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	contacts, total, err := h.storage.ListContacts(limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"contacts": contacts,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// DeleteContact removes a contact.
func (h *Handlers) DeleteContact(w http.ResponseWriter, r *http.Request) {
	if err := h.storage.DeleteContact(mux.Vars(r)["id"]); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RouteContact runs a route attempt for one contact.
func (h *Handlers) RouteContact(w http.ResponseWriter, r *http.Request) {
	result, err := h.orchestrator.RouteContact(r.Context(), mux.Vars(r)["id"], routing.TriggerContactCreated, routing.MethodAuto)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// PreviewRoute reports where a contact would be routed without recording
// anything. Safe to call repeatedly.
func (h *Handlers) PreviewRoute(w http.ResponseWriter, r *http.Request) {
	result, err := h.orchestrator.Preview(r.Context(), mux.Vars(r)["id"], routing.TriggerContactCreated)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GetContactAssignment returns the contact's newest assignment.
func (h *Handlers) GetContactAssignment(w http.ResponseWriter, r *http.Request) {
	assignment, err := h.storage.GetAssignmentByContact(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, assignment)
}
