package upload

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/photojournal/service/internal/middleware"
	"github.com/photojournal/service/internal/response"
)

// credentialBodyLimit bounds the JSON body of a credential request.
const credentialBodyLimit = 16 << 10

// Handler holds HTTP handlers for upload endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a new upload Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// IssueCredential godoc
//
//	@Summary		Issue a write credential
//	@Description	Mint a unique object key and a presigned PUT URL bound to that key, content type, and size. The URL expires after a short window.
//	@Tags			uploads
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		CredentialRequest	true	"Object to write"
//	@Success		201		{object}	response.Envelope{data=WriteCredential}
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/api/v1/uploads/credentials [post]
func (h *Handler) IssueCredential(w http.ResponseWriter, r *http.Request) {
	var req CredentialRequest
	if err := response.Decode(w, r, credentialBodyLimit, &req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	cred, err := h.svc.IssueWriteCredential(r.Context(), middleware.CallerID(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, cred)
}

// DeleteObject godoc
//
//	@Summary		Delete an uploaded object
//	@Description	Remove an abandoned object. Deleting a key that does not exist succeeds. Keys referenced by a photo are refused.
//	@Tags			uploads
//	@Produce		json
//	@Security		BearerAuth
//	@Param			key	query		string	true	"Object key"
//	@Success		204
//	@Failure		400	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Failure		409	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/api/v1/uploads/objects [delete]
func (h *Handler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		response.BadRequest(w, "missing key parameter")
		return
	}

	if err := h.svc.DeleteObject(r.Context(), middleware.CallerID(r.Context()), key); err != nil {
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}

// StoreObject godoc
//
//	@Summary		Upload through the server
//	@Description	Accept a base64 payload and write it to storage before responding. Use when the browser cannot PUT to storage directly.
//	@Tags			uploads
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		StoreRequest	true	"Payload"
//	@Success		201		{object}	response.Envelope{data=StoredObject}
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		413		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/api/v1/uploads/objects [post]
func (h *Handler) StoreObject(w http.ResponseWriter, r *http.Request) {
	// base64 inflates by 4/3; leave room for the other fields.
	limit := h.svc.MaxSize()/3*4 + 8<<10

	var req StoreRequest
	if err := response.Decode(w, r, limit, &req); err != nil {
		if errors.Is(err, response.ErrBodyTooLarge) {
			response.TooLarge(w, "file exceeds the upload size limit")
			return
		}
		response.BadRequest(w, "invalid request body")
		return
	}

	obj, err := h.svc.StoreObject(r.Context(), middleware.CallerID(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, obj)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		response.Unauthorized(w, "unauthorized")
	case errors.Is(err, ErrValidation):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrKeyCommitted):
		response.Conflict(w, ErrKeyCommitted.Error())
	case errors.Is(err, ErrStorageSigning):
		response.Error(w, http.StatusInternalServerError, ErrStorageSigning.Error())
	case errors.Is(err, ErrStorage):
		response.Error(w, http.StatusInternalServerError, ErrStorage.Error())
	default:
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("upload: unexpected error")
		response.InternalError(w)
	}
}
