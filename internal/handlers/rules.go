package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "lead-router/internal/common/errors"
	"lead-router/internal/routing"
)

type ruleRequest struct {
	GroupID    string               `json:"group_id"`
	Name       string               `json:"name"`
	Priority   *int                 `json:"priority"`
	IsActive   *bool                `json:"is_active"`
	ObjectType routing.ObjectType   `json:"object_type"`
	Conditions routing.ConditionSet `json:"conditions"`
	Expression string               `json:"expression"`
	CatchAll   bool                 `json:"catch_all"`
}

func (req *ruleRequest) validate() error {
	if req.Name == "" {
		return apperrors.ValidationError("name is required")
	}
	if req.GroupID == "" {
		return apperrors.ValidationError("group_id is required")
	}
	switch req.ObjectType {
	case "", routing.ObjectLead, routing.ObjectContact, routing.ObjectBoth:
	default:
		return apperrors.ValidationError("object_type must be Lead, Contact or Both")
	}
	if req.Expression != "" {
		if _, err := routing.ParseExpression(req.Expression); err != nil {
			return apperrors.ValidationError(fmt.Sprintf("invalid expression: %v", err))
		}
	}
	for _, cond := range req.Conditions.Conditions {
		if cond.Field == "" {
			return apperrors.ValidationError("condition field is required")
		}
		switch cond.Operator {
		case routing.OpEquals, routing.OpNotEquals, routing.OpContains, routing.OpNotContains,
			routing.OpStartsWith, routing.OpIsBlank, routing.OpIsPresent,
			routing.OpGreaterThan, routing.OpLessThan:
		default:
			return apperrors.ValidationError(fmt.Sprintf("unsupported operator: %s", cond.Operator))
		}
	}
	switch req.Conditions.ConditionLogic {
	case "", "AND", "OR", "and", "or":
	default:
		return apperrors.ValidationError("conditionLogic must be AND or OR")
	}
	return nil
}

// CreateRule adds a rule to a ruleset. Omitting priority appends the rule
// after the ruleset's current lowest-priority rule.
func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	rulesetID := mux.Vars(r)["id"]
	if _, err := h.storage.GetRuleset(rulesetID); err != nil {
		respondError(w, err)
		return
	}
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, err)
		return
	}
	if _, err := h.storage.GetGroup(req.GroupID); err != nil {
		respondError(w, err)
		return
	}

	rule := &routing.Rule{
		RulesetID:  rulesetID,
		GroupID:    req.GroupID,
		Name:       req.Name,
		Priority:   -1, // storage derives max+1
		IsActive:   true,
		ObjectType: req.ObjectType,
		Conditions: req.Conditions,
		Expression: req.Expression,
		CatchAll:   req.CatchAll,
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}

	if err := h.storage.CreateRule(rule); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

// GetRule returns one rule.
func (h *Handlers) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.storage.GetRule(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// ListRules returns a ruleset's rules in evaluation order.
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.storage.ListRules(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rules)
}

// UpdateRule updates a rule and invalidates its compiled expression.
func (h *Handlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rule, err := h.storage.GetRule(id)
	if err != nil {
		respondError(w, err)
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}
	if req.Name == "" {
		req.Name = rule.Name
	}
	if req.GroupID == "" {
		req.GroupID = rule.GroupID
	}
	if err := req.validate(); err != nil {
		respondError(w, err)
		return
	}
	if _, err := h.storage.GetGroup(req.GroupID); err != nil {
		respondError(w, err)
		return
	}

	rule.GroupID = req.GroupID
	rule.Name = req.Name
	rule.Conditions = req.Conditions
	rule.Expression = req.Expression
	rule.CatchAll = req.CatchAll
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.ObjectType != "" {
		rule.ObjectType = req.ObjectType
	}

	if err := h.storage.UpdateRule(rule); err != nil {
		respondError(w, err)
		return
	}
	h.matcher.Invalidate(id)
	respondJSON(w, http.StatusOK, rule)
}

// DeleteRule removes a rule.
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.storage.DeleteRule(id); err != nil {
		respondError(w, err)
		return
	}
	h.matcher.Invalidate(id)
	w.WriteHeader(http.StatusNoContent)
}
