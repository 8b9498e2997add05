package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"lead-router/internal/middleware"
	"lead-router/internal/ratelimit"
)

// Router builds the full HTTP route table. Everything under /api requires a
// bearer token; /login and /health are open.
func (h *Handlers) Router(limiter *ratelimit.Limiter) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware)
	if limiter != nil {
		r.Use(limiter.HTTPMiddleware(ratelimit.IPBasedKey))
	}

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/login", h.Login).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.auth.RequireAuth)

	api.HandleFunc("/operators", h.CreateOperator).Methods(http.MethodPost)
	api.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)

	api.HandleFunc("/contacts", h.CreateContact).Methods(http.MethodPost)
	api.HandleFunc("/contacts", h.ListContacts).Methods(http.MethodGet)
	api.HandleFunc("/contacts/{id}", h.GetContact).Methods(http.MethodGet)
	api.HandleFunc("/contacts/{id}", h.DeleteContact).Methods(http.MethodDelete)
	api.HandleFunc("/contacts/{id}/route", h.RouteContact).Methods(http.MethodPost)
	api.HandleFunc("/contacts/{id}/route/preview", h.PreviewRoute).Methods(http.MethodPost)
	api.HandleFunc("/contacts/{id}/assignment", h.GetContactAssignment).Methods(http.MethodGet)

	api.HandleFunc("/assignments", h.ListAssignments).Methods(http.MethodGet)
	api.HandleFunc("/assignments", h.CreateManualAssignment).Methods(http.MethodPost)

	api.HandleFunc("/rulesets", h.CreateRuleset).Methods(http.MethodPost)
	api.HandleFunc("/rulesets", h.ListRulesets).Methods(http.MethodGet)
	api.HandleFunc("/rulesets/{id}", h.GetRuleset).Methods(http.MethodGet)
	api.HandleFunc("/rulesets/{id}", h.UpdateRuleset).Methods(http.MethodPut)
	api.HandleFunc("/rulesets/{id}", h.DeleteRuleset).Methods(http.MethodDelete)
	api.HandleFunc("/rulesets/{id}/rules", h.CreateRule).Methods(http.MethodPost)
	api.HandleFunc("/rulesets/{id}/rules", h.ListRules).Methods(http.MethodGet)
	api.HandleFunc("/rulesets/{id}/retroactive", h.RunRetroactive).Methods(http.MethodPost)

	api.HandleFunc("/rules/{id}", h.GetRule).Methods(http.MethodGet)
	api.HandleFunc("/rules/{id}", h.UpdateRule).Methods(http.MethodPut)
	api.HandleFunc("/rules/{id}", h.DeleteRule).Methods(http.MethodDelete)

	api.HandleFunc("/groups", h.CreateGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups", h.ListGroups).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}", h.GetGroup).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}", h.UpdateGroup).Methods(http.MethodPut)
	api.HandleFunc("/groups/{id}", h.DeleteGroup).Methods(http.MethodDelete)
	api.HandleFunc("/groups/{id}/members", h.AddGroupMember).Methods(http.MethodPost)
	api.HandleFunc("/groups/{id}/members", h.ListGroupMembers).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}/members/{userID}", h.RemoveGroupMember).Methods(http.MethodDelete)

	api.HandleFunc("/agents", h.CreateAgent).Methods(http.MethodPost)
	api.HandleFunc("/agents", h.ListAgents).Methods(http.MethodGet)
	api.HandleFunc("/agents/{id}", h.GetAgent).Methods(http.MethodGet)
	api.HandleFunc("/agents/{id}", h.UpdateAgent).Methods(http.MethodPut)

	return r
}
