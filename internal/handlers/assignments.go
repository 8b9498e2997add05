package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "lead-router/internal/common/errors"
)

// ListAssignments returns assignments newest first, optionally filtered by
// group via the group_id query param.
func (h *Handlers) ListAssignments(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	var err error
	var assignments interface{}
	var total int

	if groupID := r.URL.Query().Get("group_id"); groupID != "" {
		assignments, total, err = h.storage.ListAssignmentsByGroup(groupID, limit, offset)
	} else {
		assignments, total, err = h.storage.ListAssignments(limit, offset)
	}
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"assignments": assignments,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	})
}

type manualAssignmentRequest struct {
	ContactID string `json:"contact_id"`
	UserID    string `json:"user_id"`
	GroupID   string `json:"group_id"`
	Note      string `json:"note"`
}

// CreateManualAssignment records an operator-made assignment. Manual
// assignments bypass rules and fairness and may reassign an already-routed
// contact; each correction is a new assignment row, never an update.
func (h *Handlers) CreateManualAssignment(w http.ResponseWriter, r *http.Request) {
	var req manualAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}
	if req.ContactID == "" || req.UserID == "" || req.GroupID == "" {
		respondError(w, apperrors.ValidationError("contact_id, user_id and group_id are required"))
		return
	}

	if _, err := h.storage.GetContact(req.ContactID); err != nil {
		respondError(w, err)
		return
	}
	if _, err := h.storage.GetAgent(req.UserID); err != nil {
		respondError(w, err)
		return
	}
	if _, err := h.storage.GetGroup(req.GroupID); err != nil {
		respondError(w, err)
		return
	}

	assignment, err := h.recorder.RecordManual(req.ContactID, req.UserID, req.GroupID, req.Note)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, assignment)
}
