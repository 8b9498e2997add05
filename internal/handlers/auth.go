package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "lead-router/internal/common/errors"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	Username  string `json:"username"`
	IsDefault bool   `json:"is_default"`
}

// Login exchanges operator credentials for a bearer token. IsDefault flags
// the seeded admin account so clients can prompt for a credential change.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}
	if req.Username == "" || req.Password == "" {
		respondError(w, apperrors.ValidationError("username and password are required"))
		return
	}

	token, claims, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		Username:  claims.Username,
		IsDefault: claims.IsDefault,
	})
}

type createOperatorRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateOperator adds an operator account.
func (h *Handlers) CreateOperator(w http.ResponseWriter, r *http.Request) {
	var req createOperatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}
	if req.Username == "" {
		respondError(w, apperrors.ValidationError("username is required"))
		return
	}
	if len(req.Password) < 8 {
		respondError(w, apperrors.ValidationError("password must be at least 8 characters"))
		return
	}

	operator, err := h.storage.CreateOperator(req.Username, req.Password)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, operator)
}
