package photo

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/photojournal/service/internal/middleware"
	"github.com/photojournal/service/internal/response"
	"github.com/photojournal/service/internal/upload"
)

const createBodyLimit = 64 << 10

// Handler holds HTTP handlers for photo endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a new photo Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Create godoc
//
//	@Summary		Commit an uploaded object as a photo
//	@Description	Creates the durable record that references an uploaded key. A key can be committed once.
//	@Tags			photos
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		CreateInput	true	"Photo"
//	@Success		201		{object}	response.Envelope{data=Photo}
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		409		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/api/v1/photos [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := response.Decode(w, r, createBodyLimit, &in); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	p, err := h.svc.Create(r.Context(), middleware.CallerID(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, p)
}

// List godoc
//
//	@Summary		List photos
//	@Tags			photos
//	@Produce		json
//	@Security		BearerAuth
//	@Param			limit	query		int	false	"Page size (max 100)"
//	@Param			offset	query		int	false	"Records to skip"
//	@Success		200		{object}	response.Envelope{data=[]Photo}
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Router			/api/v1/photos [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		response.BadRequest(w, "limit must be an integer")
		return
	}
	offset, err := intQuery(r, "offset")
	if err != nil {
		response.BadRequest(w, "offset must be an integer")
		return
	}

	photos, err := h.svc.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, photos)
}

// Get godoc
//
//	@Summary		Get a photo
//	@Tags			photos
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Photo ID"
//	@Success		200	{object}	response.Envelope{data=Photo}
//	@Failure		404	{object}	response.Envelope
//	@Router			/api/v1/photos/{id} [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, p)
}

// Delete godoc
//
//	@Summary		Delete a photo record
//	@Description	Removes the record. The stored object is not deleted.
//	@Tags			photos
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Photo ID"
//	@Success		204
//	@Failure		404	{object}	response.Envelope
//	@Router			/api/v1/photos/{id} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}

func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, upload.ErrUnauthorized):
		response.Unauthorized(w, "unauthorized")
	case errors.Is(err, ErrValidation):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrNotFound):
		response.NotFound(w, ErrNotFound.Error())
	case errors.Is(err, ErrAlreadyExists):
		response.Conflict(w, ErrAlreadyExists.Error())
	default:
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("photo: unexpected error")
		response.InternalError(w)
	}
}
