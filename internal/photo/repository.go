// Package photo manages photo records: the durable entries that commit an
// uploaded object key.
package photo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Visibility values.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Address is the reverse-geocoded location of a photo. Every field is optional.
type Address struct {
	Country        string   `json:"country,omitempty"`
	CountryCode    string   `json:"countryCode,omitempty"`
	Region         string   `json:"region,omitempty"`
	City           string   `json:"city,omitempty"`
	District       string   `json:"district,omitempty"`
	FullAddress    string   `json:"fullAddress,omitempty"`
	PlaceFormatted string   `json:"placeFormatted,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
}

// Photo is a committed photo record. URL is derived from Key when served.
type Photo struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Visibility  string    `json:"visibility"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	AspectRatio float64   `json:"aspectRatio"`
	BlurData    string    `json:"blurData"`
	Address     *Address  `json:"address,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ErrNotFound is returned when a photo does not exist.
var ErrNotFound = errors.New("photo not found")

// ErrAlreadyExists is returned when a key has already been committed.
var ErrAlreadyExists = errors.New("photo already exists for this key")

const photoColumns = `id, object_key, title, description, visibility, width, height,
	aspect_ratio, blur_data, address, created_by, created_at`

// Repository handles all photo database operations.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts p and fills in its generated ID and CreatedAt.
func (r *Repository) Create(ctx context.Context, p *Photo) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO photos (object_key, title, description, visibility, width, height,
		                     aspect_ratio, blur_data, address, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at`,
		p.Key, p.Title, p.Description, p.Visibility, p.Width, p.Height,
		p.AspectRatio, p.BlurData, p.Address, p.CreatedBy,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create photo: %w", err)
	}
	return nil
}

// GetByID fetches a photo by its UUID.
func (r *Repository) GetByID(ctx context.Context, id string) (*Photo, error) {
	row := r.db.QueryRow(ctx, `SELECT `+photoColumns+` FROM photos WHERE id = $1`, id)
	p, err := scanPhoto(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get photo by id: %w", err)
	}
	return p, nil
}

// List returns photos newest first.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Photo, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+photoColumns+` FROM photos ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	photos := make([]Photo, 0, limit)
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	return photos, nil
}

// Delete removes the record with id. The stored object is left in place.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM photos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete photo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// KeyExists reports whether any record references key.
func (r *Repository) KeyExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM photos WHERE object_key = $1)`, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check photo key: %w", err)
	}
	return exists, nil
}

func scanPhoto(row pgx.Row) (*Photo, error) {
	p := &Photo{}
	err := row.Scan(&p.ID, &p.Key, &p.Title, &p.Description, &p.Visibility, &p.Width, &p.Height,
		&p.AspectRatio, &p.BlurData, &p.Address, &p.CreatedBy, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// isUniqueViolation checks whether an error is a PostgreSQL unique_violation (code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
