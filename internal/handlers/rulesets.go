package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "lead-router/internal/common/errors"
	"lead-router/internal/routing"
)

type rulesetRequest struct {
	Name     string   `json:"name"`
	IsActive *bool    `json:"is_active"`
	Triggers []string `json:"triggers"`
}

// CreateRuleset creates a ruleset. An empty trigger list means the ruleset
// applies to every trigger.
func (h *Handlers) CreateRuleset(w http.ResponseWriter, r *http.Request) {
	var req rulesetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}
	if req.Name == "" {
		respondError(w, apperrors.ValidationError("name is required"))
		return
	}

	ruleset := &routing.Ruleset{
		Name:     req.Name,
		IsActive: true,
		Triggers: req.Triggers,
	}
	if req.IsActive != nil {
		ruleset.IsActive = *req.IsActive
	}

	if err := h.storage.CreateRuleset(ruleset); err != nil {
		respondError(w, err)
		return
	}
	h.invalidateRulesetCache(r.Context())
	respondJSON(w, http.StatusCreated, ruleset)
}

// GetRuleset returns one ruleset with its rules in evaluation order.
func (h *Handlers) GetRuleset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ruleset, err := h.storage.GetRuleset(id)
	if err != nil {
		respondError(w, err)
		return
	}
	rules, err := h.storage.ListRules(id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ruleset": ruleset,
		"rules":   rules,
	})
}

// ListRulesets returns all rulesets.
func (h *Handlers) ListRulesets(w http.ResponseWriter, r *http.Request) {
	rulesets, err := h.storage.ListRulesets()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rulesets)
}

// UpdateRuleset updates a ruleset's name, active flag and triggers.
func (h *Handlers) UpdateRuleset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ruleset, err := h.storage.GetRuleset(id)
	if err != nil {
		respondError(w, err)
		return
	}

	var req rulesetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}

	if req.Name != "" {
		ruleset.Name = req.Name
	}
	if req.IsActive != nil {
		ruleset.IsActive = *req.IsActive
	}
	if req.Triggers != nil {
		ruleset.Triggers = req.Triggers
	}

	if err := h.storage.UpdateRuleset(ruleset); err != nil {
		respondError(w, err)
		return
	}
	h.invalidateRulesetCache(r.Context())
	respondJSON(w, http.StatusOK, ruleset)
}

// DeleteRuleset removes a ruleset and its rules.
func (h *Handlers) DeleteRuleset(w http.ResponseWriter, r *http.Request) {
	if err := h.storage.DeleteRuleset(mux.Vars(r)["id"]); err != nil {
		respondError(w, err)
		return
	}
	h.invalidateRulesetCache(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type retroactiveRequest struct {
	Limit int `json:"limit"`
}

// RunRetroactive routes contacts that were created before the ruleset's
// rules existed (or that previously fell through unmatched). Contacts that
// already carry an assignment are untouched.
func (h *Handlers) RunRetroactive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.storage.GetRuleset(id); err != nil {
		respondError(w, err)
		return
	}

	var req retroactiveRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Limit <= 0 || req.Limit > 1000 {
		req.Limit = 200
	}

	results, err := h.orchestrator.RouteUnrouted(r.Context(), routing.TriggerContactCreated, routing.MethodRetroactive, req.Limit)
	if err != nil {
		respondError(w, err)
		return
	}

	routed := 0
	for _, result := range results {
		if result.Routed {
			routed++
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"processed": len(results),
		"routed":    routed,
		"results":   results,
	})
}
