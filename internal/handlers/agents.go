package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "lead-router/internal/common/errors"
	"lead-router/internal/routing"
)

type agentRequest struct {
	Name   string              `json:"name"`
	Email  string              `json:"email"`
	Status routing.AgentStatus `json:"status"`
}

func validAgentStatus(s routing.AgentStatus) bool {
	return s == routing.AgentActive || s == routing.AgentPaused
}

// CreateAgent registers an agent.
func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}
	if req.Name == "" {
		respondError(w, apperrors.ValidationError("name is required"))
		return
	}
	if req.Status != "" && !validAgentStatus(req.Status) {
		respondError(w, apperrors.ValidationError("status must be active or paused"))
		return
	}

	agent := &routing.Agent{
		Name:   req.Name,
		Email:  req.Email,
		Status: req.Status,
	}
	if err := h.storage.CreateAgent(agent); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, agent)
}

// GetAgent returns one agent.
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.storage.GetAgent(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

// ListAgents returns all agents.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.storage.ListAgents()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agents)
}

// UpdateAgent updates an agent. Pausing an agent removes them from future
// selection without touching group memberships or history.
func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.storage.GetAgent(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}

	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}
	if req.Name != "" {
		agent.Name = req.Name
	}
	if req.Email != "" {
		agent.Email = req.Email
	}
	if req.Status != "" {
		if !validAgentStatus(req.Status) {
			respondError(w, apperrors.ValidationError("status must be active or paused"))
			return
		}
		agent.Status = req.Status
	}

	if err := h.storage.UpdateAgent(agent); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}
