package photo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/photojournal/service/internal/upload"
)

// ErrValidation wraps every rejected create input.
var ErrValidation = errors.New("invalid photo")

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Store is the persistence the service needs. *Repository satisfies it.
type Store interface {
	Create(ctx context.Context, p *Photo) error
	GetByID(ctx context.Context, id string) (*Photo, error)
	List(ctx context.Context, limit, offset int) ([]Photo, error)
	Delete(ctx context.Context, id string) error
	KeyExists(ctx context.Context, key string) (bool, error)
}

// URLResolver derives a served URL from a stored key.
type URLResolver interface {
	Resolve(key string) string
	ObjectKey(raw string) string
	IsExternal(raw string) bool
}

// CreateInput is the payload that commits an uploaded key as a photo.
type CreateInput struct {
	Key         string   `json:"key"         example:"photos/0b9c7f0e-1f43-4b4a-9d55-6f6f9a3a4a1e-cat.png"`
	Title       string   `json:"title"       example:"Cat on a wall"`
	Description string   `json:"description,omitempty"`
	Visibility  string   `json:"visibility,omitempty" example:"private"`
	Width       int      `json:"width,omitempty"  example:"4032"`
	Height      int      `json:"height,omitempty" example:"3024"`
	BlurData    string   `json:"blurData,omitempty"`
	Address     *Address `json:"address,omitempty"`
}

// Service contains business logic for photo records.
type Service struct {
	store Store
	urls  URLResolver
}

// NewService creates a new photo Service.
func NewService(store Store, urls URLResolver) *Service {
	return &Service{store: store, urls: urls}
}

// Create validates in and persists a record owned by caller.
func (s *Service) Create(ctx context.Context, caller string, in CreateInput) (*Photo, error) {
	p, err := s.build(caller, in)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().Str("photo_id", p.ID).Str("key", p.Key).Str("caller", caller).Msg("photo: created")
	p.URL = s.urls.Resolve(p.Key)
	return p, nil
}

// GetByID returns a photo by its UUID.
func (s *Service) GetByID(ctx context.Context, id string) (*Photo, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	p, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.URL = s.urls.Resolve(p.Key)
	return p, nil
}

// List returns a page of photos, newest first. limit is clamped to
// [1, maxListLimit]; zero selects the default page size.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Photo, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	photos, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range photos {
		photos[i].URL = s.urls.Resolve(photos[i].Key)
	}
	return photos, nil
}

// Delete removes the record only. The object stays in storage.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str("photo_id", id).Msg("photo: deleted")
	return nil
}

// KeyExists reports whether a record references key.
func (s *Service) KeyExists(ctx context.Context, key string) (bool, error) {
	return s.store.KeyExists(ctx, key)
}

// IsNotFound returns true when the error indicates a photo was not found.
func (s *Service) IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func (s *Service) build(caller string, in CreateInput) (*Photo, error) {
	if caller == "" {
		return nil, upload.ErrUnauthorized
	}

	key := s.urls.ObjectKey(strings.TrimSpace(in.Key))
	if s.urls.IsExternal(key) {
		// Hosted elsewhere; kept verbatim and served as is.
		if u, err := url.Parse(key); err != nil || u.Host == "" {
			return nil, fmt.Errorf("%w: key %q is not a valid URL", ErrValidation, key)
		}
	} else if err := upload.ValidateKey(key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if in.Width < 0 || in.Height < 0 {
		return nil, fmt.Errorf("%w: dimensions must not be negative", ErrValidation)
	}

	visibility := in.Visibility
	if visibility == "" {
		visibility = VisibilityPrivate
	}
	if visibility != VisibilityPublic && visibility != VisibilityPrivate {
		return nil, fmt.Errorf("%w: visibility must be %q or %q", ErrValidation, VisibilityPublic, VisibilityPrivate)
	}

	if err := validateAddress(in.Address); err != nil {
		return nil, err
	}

	return &Photo{
		Key:         key,
		Title:       title,
		Description: in.Description,
		Visibility:  visibility,
		Width:       in.Width,
		Height:      in.Height,
		AspectRatio: aspectRatio(in.Width, in.Height),
		BlurData:    in.BlurData,
		Address:     in.Address,
		CreatedBy:   caller,
	}, nil
}

// aspectRatio is width/height, or 1 when either dimension is unknown.
func aspectRatio(width, height int) float64 {
	if width <= 0 || height <= 0 {
		return 1
	}
	return float64(width) / float64(height)
}

func validateAddress(a *Address) error {
	if a == nil {
		return nil
	}
	if a.Latitude != nil && (*a.Latitude < -90 || *a.Latitude > 90) {
		return fmt.Errorf("%w: latitude out of range", ErrValidation)
	}
	if a.Longitude != nil && (*a.Longitude < -180 || *a.Longitude > 180) {
		return fmt.Errorf("%w: longitude out of range", ErrValidation)
	}
	return nil
}
