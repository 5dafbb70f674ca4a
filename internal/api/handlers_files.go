package api

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/mycloud-net/storage-go/internal/access"
	"github.com/mycloud-net/storage-go/internal/files"
	"github.com/mycloud-net/storage-go/internal/util"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to a temporary file.
const multipartMemory = 8 << 20

func (h *handlers) Download(w http.ResponseWriter, r *http.Request) {
	d, err := h.files.Download(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer d.Body.Close()

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": d.Filename})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, d.Body); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("handle", d.Handle).Msg("download interrupted")
	}
}

func (h *handlers) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			util.WriteError(w, http.StatusRequestEntityTooLarge, "invalid_request", "file too large")
			return
		}
		util.WriteError(w, http.StatusBadRequest, "invalid_request", "expected multipart form data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_request", "missing file field")
		return
	}
	defer file.Close()

	sum, err := h.files.Upload(r.Context(), access.FromContext(r.Context()), files.UploadInput{
		Filename: header.Filename,
		Comment:  r.FormValue("comment"),
		Body:     file,
		Size:     header.Size,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusCreated, sum)
}

func (h *handlers) ListFiles(w http.ResponseWriter, r *http.Request) {
	listing, err := h.files.List(r.Context(), access.FromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, listing)
}

type updateFileRequest struct {
	Name    *string `json:"name" validate:"omitempty,max=255"`
	Comment *string `json:"comment" validate:"omitempty,max=500"`
}

func (h *handlers) UpdateFile(w http.ResponseWriter, r *http.Request) {
	var req updateFileRequest
	if err := util.DecodeJSON(r, maxJSONBody, &req); err != nil {
		if errors.Is(err, util.ErrBodyTooLarge) {
			util.WriteError(w, http.StatusRequestEntityTooLarge, "invalid_request", "body too large")
			return
		}
		util.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		util.WriteError(w, http.StatusBadRequest, "invalid_request", "name must be at most 255 and comment at most 500 characters")
		return
	}

	sum, err := h.files.Update(r.Context(), access.FromContext(r.Context()), chi.URLParam(r, "handle"), files.UpdateInput{
		DisplayName: req.Name,
		Comment:     req.Comment,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, sum)
}

func (h *handlers) DeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := h.files.Delete(r.Context(), access.FromContext(r.Context()), chi.URLParam(r, "handle")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
