package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mycloud-net/storage-go/internal/access"
	"github.com/mycloud-net/storage-go/internal/util"
)

func accountIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil || id <= 0 {
		util.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid account id")
		return 0, false
	}
	return id, true
}

func (h *handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.files.ListAccounts(r.Context(), access.FromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (h *handlers) ListAccountFiles(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	items, err := h.files.ListAccountFiles(r.Context(), access.FromContext(r.Context()), accountID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]any{"files": items})
}

func (h *handlers) ToggleAdmin(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	account, err := h.files.ToggleAdmin(r.Context(), access.FromContext(r.Context()), accountID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, account)
}

func (h *handlers) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	if err := h.files.DeleteAccount(r.Context(), access.FromContext(r.Context()), accountID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
