// Package handlers implements the HTTP API for the lead router: contact
// intake and routing, rule and ruleset management, groups and agents,
// assignments and operational stats.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"lead-router/internal/auth"
	apperrors "lead-router/internal/common/errors"
	"lead-router/internal/common/logging"
	"lead-router/internal/config"
	"lead-router/internal/crm"
	"lead-router/internal/redis"
	"lead-router/internal/routing"
	"lead-router/internal/storage"
)

type Handlers struct {
	storage      storage.Storage
	config       *config.Config
	auth         *auth.Auth
	orchestrator *routing.Orchestrator
	recorder     *routing.Recorder
	matcher      *routing.Matcher
	redis        *redis.Client
	rulesetCache *redis.RulesetCache
	crm          *crm.Client
}

func New(store storage.Storage, cfg *config.Config, authHandler *auth.Auth, orchestrator *routing.Orchestrator, recorder *routing.Recorder, matcher *routing.Matcher, redisClient *redis.Client, crmClient *crm.Client) *Handlers {
	h := &Handlers{
		storage:      store,
		config:       cfg,
		auth:         authHandler,
		orchestrator: orchestrator,
		recorder:     recorder,
		matcher:      matcher,
		redis:        redisClient,
		crm:          crmClient,
	}
	if redisClient != nil {
		h.rulesetCache = redis.NewRulesetCache(redisClient, 0)
	}
	return h
}

// invalidateRulesetCache drops cached active-ruleset lists after a ruleset
// mutation so route attempts see the change immediately.
func (h *Handlers) invalidateRulesetCache(ctx context.Context) {
	if h.rulesetCache == nil {
		return
	}
	if err := h.rulesetCache.Invalidate(ctx); err != nil {
		logging.Warn("failed to invalidate ruleset cache",
			logging.Field{Key: "error", Value: err.Error()})
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// respondError maps application error types onto HTTP status codes.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.GetType(err) {
	case apperrors.ErrTypeValidation:
		status = http.StatusBadRequest
	case apperrors.ErrTypeAuth:
		status = http.StatusUnauthorized
	case apperrors.ErrTypeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrTypeConflict:
		status = http.StatusConflict
	case apperrors.ErrTypeTimeout:
		status = http.StatusGatewayTimeout
	case apperrors.ErrTypeRemote, apperrors.ErrTypeConnection:
		status = http.StatusBadGateway
	}

	respondJSON(w, status, map[string]string{"error": err.Error()})
}

// pagination reads limit/offset query params with defaults and caps.
func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
