package resolver

import (
	"net/http"

	"github.com/photojournal/service/internal/response"
)

// URLResponse is the body of a successful /presigned-url call.
type URLResponse struct {
	URL string `json:"url" example:"https://storage.example.com/photos/abc-cat.png?X-Amz-Signature=..."`
}

// ErrorResponse is the body of a failed /presigned-url call.
type ErrorResponse struct {
	Error string `json:"error" example:"Missing key parameter"`
}

// Handler serves read URLs.
type Handler struct {
	res *Resolver
}

// NewHandler creates a new resolver Handler.
func NewHandler(res *Resolver) *Handler {
	return &Handler{res: res}
}

// PresignedURL godoc
//
//	@Summary		Get a read URL for an object
//	@Description	Returns a presigned GET URL valid for one hour. Falls back to the public URL when signing fails. Accepts a bare key or a legacy full URL.
//	@Tags			objects
//	@Produce		json
//	@Param			key	query		string	true	"Object key"
//	@Success		200	{object}	URLResponse
//	@Failure		400	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/presigned-url [get]
func (h *Handler) PresignedURL(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		response.JSON(w, http.StatusBadRequest, ErrorResponse{Error: "Missing key parameter"})
		return
	}

	url := h.res.ResolvePresigned(r.Context(), key, h.res.ReadExpiry())
	if url == "" {
		response.JSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to generate presigned URL"})
		return
	}
	response.JSON(w, http.StatusOK, URLResponse{URL: url})
}
