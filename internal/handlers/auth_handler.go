package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/vikasavnish/stockwatch/internal/identity"
	"github.com/vikasavnish/stockwatch/internal/middleware"
	"github.com/vikasavnish/stockwatch/internal/models"
	"github.com/vikasavnish/stockwatch/internal/utils"
)

// ProfileWriter stores the public profile written after signup
type ProfileWriter interface {
	Upsert(ctx context.Context, userID, email string) error
}

// AuthHandler handles authentication requests
type AuthHandler struct {
	backend  *identity.Backend
	profiles ProfileWriter
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(backend *identity.Backend, profiles ProfileWriter) *AuthHandler {
	return &AuthHandler{
		backend:  backend,
		profiles: profiles,
	}
}

// RegisterPublicRoutes adds the endpoints that work without a session
func (h *AuthHandler) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/auth/signup", h.SignUp).Methods("POST")
	router.HandleFunc("/auth/login", h.Login).Methods("POST")
	router.HandleFunc("/auth/refresh", h.Refresh).Methods("POST")
	router.HandleFunc("/auth/recover", h.Recover).Methods("POST")
	router.HandleFunc("/auth/reset", h.ResetPassword).Methods("POST")
	router.HandleFunc("/auth/confirm", h.Confirm).Methods("GET")
}

// RegisterRoutes adds the endpoints that need a session
func (h *AuthHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/logout", h.Logout).Methods("POST")
	router.HandleFunc("/auth/session", h.Session).Methods("GET")
}

// SignUp registers an account and signs it in unless email confirmation is on
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req models.CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	user, session, err := h.backend.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	// Best effort; signup succeeds regardless.
	if session != nil && h.profiles != nil {
		if err := h.profiles.Upsert(r.Context(), user.ID, user.Email); err != nil {
			log.Warn().Err(err).Str("user_id", user.ID).Msg("Profile upsert failed")
		}
	}

	writeJSON(w, http.StatusOK, models.SignUpResponse{User: user, Session: session})
}

// Login handles user login and returns a session
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	session, err := h.backend.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// Refresh exchanges a refresh token for a new access token
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	session, err := h.backend.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// Recover sends a password reset link
func (h *AuthHandler) Recover(w http.ResponseWriter, r *http.Request) {
	var req models.RecoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	if err := h.backend.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Check your email for the reset link.",
	})
}

// ResetPassword sets a new password with a recovery token
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	if err := h.backend.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password updated",
	})
}

// Confirm marks an email address as confirmed
func (h *AuthHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "Missing token")
		return
	}

	if err := h.backend.ConfirmEmail(r.Context(), token); err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Email confirmed",
	})
}

// Logout ends the caller's session
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	id, err := utils.GetIdentityFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.backend.SignOut(r.Context(), id.SessionID); err != nil {
		writeAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Session returns the caller's current session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.BearerToken(r)
	session, err := h.backend.Session(r.Context(), token)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}
