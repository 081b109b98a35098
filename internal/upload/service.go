// Package upload issues write credentials for direct-to-storage uploads,
// stores payloads on behalf of callers that cannot reach storage directly,
// and removes abandoned objects.
package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/photojournal/service/internal/storage"
)

var (
	// ErrUnauthorized is returned when no caller identity is present. Nothing is signed or written.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation wraps every input-shape failure.
	ErrValidation = errors.New("validation failed")
	// ErrStorageSigning is returned when the store cannot mint a credential; no key is issued.
	ErrStorageSigning = errors.New("failed to generate upload URL")
	// ErrStorage is returned when a direct store or delete call fails.
	ErrStorage = errors.New("object storage request failed")
	// ErrKeyCommitted is returned when deleting a key that a photo record references.
	ErrKeyCommitted = errors.New("object is referenced by a photo")
)

// WriteCredential authorizes exactly one PUT of one object at Key. The caller
// must send Headers verbatim; they are part of the signature.
type WriteCredential struct {
	Key       string            `json:"key"`
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Expired reports whether the credential is no longer usable at now.
func (c *WriteCredential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// CredentialRequest describes the object a caller wants to write.
type CredentialRequest struct {
	Filename    string `json:"filename"    example:"cat.png"`
	ContentType string `json:"contentType" example:"image/png"`
	Size        int64  `json:"size"        example:"1000"`
	Folder      string `json:"folder,omitempty" example:"photos"`
}

// StoreRequest carries a whole payload for the server-mediated path.
type StoreRequest struct {
	Filename    string `json:"filename"    example:"cat.png"`
	ContentType string `json:"contentType" example:"image/png"`
	Folder      string `json:"folder,omitempty" example:"photos"`
	Payload     string `json:"payload"     example:"iVBORw0KGgo="`
}

// StoredObject is the result of a completed server-mediated store.
type StoredObject struct {
	Key       string `json:"key"`
	PublicURL string `json:"publicUrl"`
}

// KeyReferences reports whether a durable record points at a key.
type KeyReferences interface {
	KeyExists(ctx context.Context, key string) (bool, error)
}

// Options bounds what the service will sign or store.
type Options struct {
	MaxSize     int64
	WriteExpiry time.Duration
}

// Service is the credential issuer.
type Service struct {
	store storage.Storage
	refs  KeyReferences
	opts  Options
	now   func() time.Time
}

// NewService creates a Service. refs may be nil, which disables the
// committed-key guard on DeleteObject.
func NewService(store storage.Storage, refs KeyReferences, opts Options) *Service {
	return &Service{store: store, refs: refs, opts: opts, now: time.Now}
}

// MaxSize is the largest object the service will sign or store.
func (s *Service) MaxSize() int64 {
	return s.opts.MaxSize
}

// IssueWriteCredential mints a fresh key and a presigned PUT scoped to that key,
// content type, and size. On signing failure the key is discarded.
func (s *Service) IssueWriteCredential(ctx context.Context, caller string, req CredentialRequest) (*WriteCredential, error) {
	if caller == "" {
		return nil, ErrUnauthorized
	}
	if err := s.validate(req.Filename, req.ContentType, req.Size); err != nil {
		return nil, err
	}

	key, err := NewKey(req.Folder, req.Filename)
	if err != nil {
		return nil, err
	}

	// Recorded before signing so the advertised expiry never outlives the signature.
	expiresAt := s.now().Add(s.opts.WriteExpiry)
	url, err := s.store.PresignPut(ctx, key, req.ContentType, req.Size, s.opts.WriteExpiry)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("caller", caller).Msg("upload: presign put failed")
		return nil, fmt.Errorf("%w: %w", ErrStorageSigning, err)
	}

	CredentialsIssued.WithLabelValues(KindWrite).Inc()
	log.Ctx(ctx).Info().
		Str("caller", caller).
		Str("key", key).
		Str("content_type", req.ContentType).
		Int64("size", req.Size).
		Msg("upload: write credential issued")

	return &WriteCredential{
		Key:    key,
		URL:    url,
		Method: "PUT",
		Headers: map[string]string{
			"Content-Type": req.ContentType,
		},
		ExpiresAt: expiresAt,
	}, nil
}

// DeleteObject removes key. Deleting a key that does not exist is success.
func (s *Service) DeleteObject(ctx context.Context, caller, key string) error {
	if caller == "" {
		return ErrUnauthorized
	}
	if err := ValidateKey(key); err != nil {
		return err
	}

	if s.refs != nil {
		referenced, err := s.refs.KeyExists(ctx, key)
		if err != nil {
			return fmt.Errorf("check key references: %w", err)
		}
		if referenced {
			return ErrKeyCommitted
		}
	}

	if err := s.store.Delete(ctx, key); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("key", key).Msg("upload: delete failed")
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}

	objectsDeleted.Inc()
	log.Ctx(ctx).Info().Str("caller", caller).Str("key", key).Msg("upload: object deleted")
	return nil
}

// StoreObject decodes a base64 payload and writes it synchronously. When it
// returns nil the object is fully written; on error nothing is considered created.
func (s *Service) StoreObject(ctx context.Context, caller string, req StoreRequest) (*StoredObject, error) {
	if caller == "" {
		return nil, ErrUnauthorized
	}

	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not valid base64", ErrValidation)
	}
	size := int64(len(payload))
	if err := s.validate(req.Filename, req.ContentType, size); err != nil {
		return nil, err
	}

	key, err := NewKey(req.Folder, req.Filename)
	if err != nil {
		return nil, err
	}

	if err := s.store.Upload(ctx, key, bytes.NewReader(payload), size, req.ContentType); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("key", key).Msg("upload: direct store failed")
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	objectsStored.Inc()
	log.Ctx(ctx).Info().
		Str("caller", caller).
		Str("key", key).
		Int64("size", size).
		Msg("upload: object stored")

	return &StoredObject{Key: key, PublicURL: s.store.PublicURL(key)}, nil
}

func (s *Service) validate(filename, contentType string, size int64) error {
	if strings.TrimSpace(filename) == "" {
		return fmt.Errorf("%w: filename is required", ErrValidation)
	}
	if err := ValidateContentType(contentType); err != nil {
		return err
	}
	if size <= 0 {
		return fmt.Errorf("%w: size must be positive", ErrValidation)
	}
	if size > s.opts.MaxSize {
		return fmt.Errorf("%w: size %d exceeds the %d byte limit", ErrValidation, size, s.opts.MaxSize)
	}
	return nil
}

// ValidateContentType accepts well-formed image/* media types only.
func ValidateContentType(contentType string) error {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("%w: content type %q is not a valid MIME type", ErrValidation, contentType)
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return fmt.Errorf("%w: only image files are allowed", ErrValidation)
	}
	return nil
}

// ValidateKey rejects keys that could not have been issued by NewKey's shape:
// empty, absolute, URL-like, or containing dot segments.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is required", ErrValidation)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "://") {
		return fmt.Errorf("%w: key must be a bare object key", ErrValidation)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: key %q has an invalid segment", ErrValidation, key)
		}
	}
	return nil
}
