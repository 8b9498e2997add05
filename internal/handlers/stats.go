package handlers

import (
	"net/http"
)

// GetStats returns routing activity counters and top rules by match count.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.storage.GetStats()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Health reports storage and Redis connectivity plus the CRM breaker state.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := map[string]interface{}{}

	if err := h.storage.Health(); err != nil {
		checks["storage"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		checks["storage"] = "ok"
	}

	if h.redis != nil {
		if err := h.redis.Health(); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["redis"] = "ok"
		}
	}

	if h.crm != nil {
		checks["crm_breaker"] = h.crm.BreakerStats()
	}

	respondJSON(w, status, map[string]interface{}{
		"status": http.StatusText(status),
		"checks": checks,
	})
}
