package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rotorauth/rotor"
	"github.com/rotorauth/rotor/middleware"
)

// Authenticator validates credentials and resolves them to a user id.
// Password storage and checking stay on the caller's side; the handlers
// only forward the verdict into the engine.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (userID string, err error)
}

// Handler exposes the engine over HTTP. Rejection causes are deliberately
// hidden from callers: a replayed stolen token and a slightly-late retry
// get the same response body, while the audit sink records the difference.
type Handler struct {
	engine *rotor.Engine
	auth   Authenticator
}

// NewHandler builds a [Handler] around an engine and an authenticator.
func NewHandler(engine *rotor.Engine, auth Authenticator) *Handler {
	return &Handler{
		engine: engine,
		auth:   auth,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Login authenticates credentials and issues the initial token pair.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	userID, err := h.auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeJSONError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	pair, err := h.engine.Login(r.Context(), userID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, http.StatusOK)
}

// Refresh rotates a refresh token, taken bearer-or-raw from the
// Authorization header, into a new pair.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tok, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeJSONError(w, "authentication token not found", http.StatusUnauthorized)
		return
	}

	pair, err := h.engine.Refresh(r.Context(), tok)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, http.StatusOK)
}

// Logout retires the session named by the presented access token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tok, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeJSONError(w, "authentication token not found", http.StatusUnauthorized)
		return
	}

	if err := h.engine.Logout(r.Context(), tok); err != nil {
		h.writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll revokes every session for the user identified by a valid
// access token.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tok, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeJSONError(w, "authentication token not found", http.StatusUnauthorized)
		return
	}

	identity, err := h.engine.Verify(r.Context(), tok)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	if err := h.engine.RevokeAll(r.Context(), identity.UserID); err != nil {
		h.writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeEngineError maps engine errors to responses. Every auth rejection
// collapses to one opaque 401 so a caller cannot distinguish a theft
// cascade from an expired token. Store failures are 503 and retryable.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rotor.ErrStoreUnavailable):
		writeJSONError(w, "service unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, rotor.ErrUserBlocked):
		writeJSONError(w, "account unavailable", http.StatusForbidden)
	case errors.Is(err, rotor.ErrUserUnverified):
		writeJSONError(w, "account unavailable", http.StatusForbidden)
	default:
		writeJSONError(w, "invalid or expired token", http.StatusUnauthorized)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, errorResponse{Error: msg}, status)
}
