package api

import (
	"net/http"

	"github.com/juju/errors"
	"github.com/rs/zerolog/hlog"

	"github.com/mycloud-net/storage-go/internal/files"
	"github.com/mycloud-net/storage-go/internal/util"
)

// writeServiceError maps a files.Service error onto the error envelope.
// Only validation messages are echoed; everything else gets a fixed text.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errors.NotValid):
		util.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, errors.NotFound):
		util.WriteError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, errors.Unauthorized):
		util.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	case errors.Is(err, errors.Forbidden):
		util.WriteError(w, http.StatusForbidden, "forbidden", "permission denied")
	case errors.Is(err, files.ErrStorageWrite):
		hlog.FromRequest(r).Error().Err(err).Msg("storage write")
		util.WriteError(w, http.StatusInternalServerError, "storage_error", "failed to store file")
	case errors.Is(err, files.ErrIntegrity):
		hlog.FromRequest(r).Error().Err(err).Msg("integrity")
		util.WriteError(w, http.StatusInternalServerError, "integrity_error", "storage integrity error")
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		util.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
