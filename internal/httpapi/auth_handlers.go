package httpapi

import (
	"net/http"
	"time"

	"github.com/I0I-I0I/messenger-server/internal/auth"
	"github.com/I0I-I0I/messenger-server/internal/identity"
)

type registerRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type authResponse struct {
	User   identity.User  `json:"user"`
	Tokens auth.TokenPair `json:"tokens"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, validationError(err.Error()))
		return
	}

	var fe fieldErrors
	fe.checkUsername("username", req.Username)
	fe.checkLen("password", req.Password, 8, 128)
	if req.DisplayName != "" {
		fe.checkLen("display_name", req.DisplayName, 1, 64)
	}
	if err := fe.err(); err != nil {
		writeError(w, err)
		return
	}

	user, tokens, err := h.auth.Register(r.Context(), time.Now().UTC(), req.Username, req.DisplayName, req.Password)
	if err != nil {
		h.fail(w, "auth.register", err)
		return
	}
	writeData(w, http.StatusCreated, authResponse{User: user, Tokens: tokens})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, validationError(err.Error()))
		return
	}

	var fe fieldErrors
	fe.checkUsername("username", req.Username)
	fe.checkLen("password", req.Password, 8, 128)
	if err := fe.err(); err != nil {
		writeError(w, err)
		return
	}

	user, tokens, err := h.auth.Login(r.Context(), time.Now().UTC(), req.Username, req.Password)
	if err != nil {
		h.fail(w, "auth.login", err)
		return
	}
	writeData(w, http.StatusOK, authResponse{User: user, Tokens: tokens})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, validationError(err.Error()))
		return
	}

	var fe fieldErrors
	fe.checkLen("refresh_token", req.RefreshToken, 20, 512)
	if err := fe.err(); err != nil {
		writeError(w, err)
		return
	}

	user, tokens, err := h.auth.Refresh(r.Context(), time.Now().UTC(), req.RefreshToken)
	if err != nil {
		h.fail(w, "auth.refresh", err)
		return
	}
	writeData(w, http.StatusOK, authResponse{User: user, Tokens: tokens})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, validationError(err.Error()))
		return
	}

	var fe fieldErrors
	fe.checkLen("refresh_token", req.RefreshToken, 20, 512)
	if err := fe.err(); err != nil {
		writeError(w, err)
		return
	}

	if err := h.auth.Logout(r.Context(), time.Now().UTC(), req.RefreshToken); err != nil {
		h.fail(w, "auth.logout", err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"ok": true})
}

// fail logs unexpected errors and writes the mapped taxonomy response.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	apiErr := FromDomain(err)
	if apiErr.Status >= http.StatusInternalServerError {
		h.log.Error(op+".fail", "err", err)
	}
	writeError(w, apiErr)
}
