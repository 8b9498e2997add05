package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "lead-router/internal/common/errors"
	"lead-router/internal/routing"
)

type groupRequest struct {
	Name             string                   `json:"name"`
	DistributionMode routing.DistributionMode `json:"distribution_mode"`
	IsActive         *bool                    `json:"is_active"`
}

// CreateGroup creates an agent group.
func (h *Handlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}
	if req.Name == "" {
		respondError(w, apperrors.ValidationError("name is required"))
		return
	}
	switch req.DistributionMode {
	case "", routing.DistributionEqual, routing.DistributionWeighted:
	default:
		respondError(w, apperrors.ValidationError("distribution_mode must be equal or weighted"))
		return
	}

	group := &routing.Group{
		Name:             req.Name,
		DistributionMode: req.DistributionMode,
		IsActive:         true,
	}
	if req.IsActive != nil {
		group.IsActive = *req.IsActive
	}

	if err := h.storage.CreateGroup(group); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, group)
}

// GetGroup returns a group with its members and per-member assignment
// counts.
func (h *Handlers) GetGroup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	group, err := h.storage.GetGroup(id)
	if err != nil {
		respondError(w, err)
		return
	}
	members, err := h.storage.ListGroupMembers(id)
	if err != nil {
		respondError(w, err)
		return
	}
	counts, err := h.storage.AssignmentCounts(id)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"group":             group,
		"members":           members,
		"assignment_counts": counts,
	})
}

// ListGroups returns all groups.
func (h *Handlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.storage.ListGroups()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, groups)
}

// UpdateGroup updates a group's name, mode and active flag.
func (h *Handlers) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	group, err := h.storage.GetGroup(id)
	if err != nil {
		respondError(w, err)
		return
	}

	var req groupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}
	if req.Name != "" {
		group.Name = req.Name
	}
	if req.DistributionMode != "" {
		switch req.DistributionMode {
		case routing.DistributionEqual, routing.DistributionWeighted:
			group.DistributionMode = req.DistributionMode
		default:
			respondError(w, apperrors.ValidationError("distribution_mode must be equal or weighted"))
			return
		}
	}
	if req.IsActive != nil {
		group.IsActive = *req.IsActive
	}

	if err := h.storage.UpdateGroup(group); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, group)
}

// DeleteGroup removes a group and its memberships.
func (h *Handlers) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.storage.DeleteGroup(mux.Vars(r)["id"]); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type memberRequest struct {
	UserID string `json:"user_id"`
	Weight int    `json:"weight"`
}

// AddGroupMember links an agent into a group. Weight below 1 is coerced
// to 1.
func (h *Handlers) AddGroupMember(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["id"]
	if _, err := h.storage.GetGroup(groupID); err != nil {
		respondError(w, err)
		return
	}

	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}
	if req.UserID == "" {
		respondError(w, apperrors.ValidationError("user_id is required"))
		return
	}
	if _, err := h.storage.GetAgent(req.UserID); err != nil {
		respondError(w, err)
		return
	}

	member := &routing.GroupMember{
		GroupID: groupID,
		UserID:  req.UserID,
		Weight:  req.Weight,
	}
	if err := h.storage.AddGroupMember(member); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, member)
}

// RemoveGroupMember unlinks an agent from a group. Assignment history is
// kept.
func (h *Handlers) RemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.storage.RemoveGroupMember(vars["id"], vars["userID"]); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListGroupMembers returns a group's members in join order.
func (h *Handlers) ListGroupMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.storage.ListGroupMembers(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, members)
}
