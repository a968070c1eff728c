package httpapi

import (
	"net/http"

	"github.com/I0I-I0I/messenger-server/internal/syncview"
)

func (h *Handler) handleSyncBootstrap(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	result, err := h.sync.Bootstrap(r.Context(), user)
	if err != nil {
		h.fail(w, "sync.bootstrap", err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (h *Handler) handleSyncChanges(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	afterMap, err := syncview.ParseAfterSeqMap(r.URL.Query().Get("after_seq_by_conversation"))
	if err != nil {
		writeError(w, FromDomain(err))
		return
	}

	result, err := h.sync.Changes(r.Context(), user, afterMap)
	if err != nil {
		h.fail(w, "sync.changes", err)
		return
	}
	writeData(w, http.StatusOK, result)
}
