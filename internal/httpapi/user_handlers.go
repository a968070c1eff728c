package httpapi

import (
	"net/http"
	"strconv"

	"github.com/I0I-I0I/messenger-server/internal/identity"
)

const maxBatchUserIDs = 100

type userListResponse struct {
	Users []identity.User `json:"users"`
}

type userBatchRequest struct {
	IDs []string `json:"ids"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		writeError(w, NewError(http.StatusUnauthorized, "invalid_token", "Missing bearer token"))
		return
	}
	writeData(w, http.StatusOK, user)
}

func (h *Handler) handleUserSearch(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	query := r.URL.Query().Get("query")
	var fe fieldErrors
	fe.checkLen("query", query, 1, 64)

	limit := 20
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		n, err := strconv.Atoi(rawLimit)
		if err != nil || n < 1 || n > 50 {
			fe.add("limit", "must be between 1 and 50")
		} else {
			limit = n
		}
	}
	if err := fe.err(); err != nil {
		writeError(w, err)
		return
	}

	users, err := h.users.SearchUsers(r.Context(), user.ID, query, limit)
	if err != nil {
		h.fail(w, "users.search", err)
		return
	}
	writeData(w, http.StatusOK, userListResponse{Users: users})
}

func (h *Handler) handleUserBatch(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	var req userBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, validationError(err.Error()))
		return
	}

	var fe fieldErrors
	if len(req.IDs) == 0 {
		fe.add("ids", "at least one id is required")
	}
	if len(req.IDs) > maxBatchUserIDs {
		fe.add("ids", "too many ids")
	}
	for _, id := range req.IDs {
		if id == "" || len(id) > 64 {
			fe.add("ids", "invalid id")
			break
		}
	}
	if err := fe.err(); err != nil {
		writeError(w, err)
		return
	}

	users, err := h.users.FetchUsersByIDs(r.Context(), user.ID, req.IDs, identity.VisibilityConversationScoped)
	if err != nil {
		h.fail(w, "users.batch", err)
		return
	}
	writeData(w, http.StatusOK, userListResponse{Users: users})
}
