// Package resolver turns stored object keys into URLs a browser can load.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/photojournal/service/internal/upload"
)

// Presigner signs time-limited read URLs. storage.Storage satisfies it.
type Presigner interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Resolver maps keys to public or presigned URLs.
type Resolver struct {
	signer     Presigner
	publicBase string
	readExpiry time.Duration
}

// New creates a Resolver. publicBase must not end in a slash.
func New(signer Presigner, publicBase string, readExpiry time.Duration) *Resolver {
	return &Resolver{
		signer:     signer,
		publicBase: strings.TrimRight(publicBase, "/"),
		readExpiry: readExpiry,
	}
}

// ReadExpiry is the default lifetime of presigned read URLs.
func (r *Resolver) ReadExpiry() time.Duration {
	return r.readExpiry
}

// Resolve returns the public URL for key. Values that are already absolute
// http(s) URLs are returned unchanged, which keeps legacy records readable.
func (r *Resolver) Resolve(key string) string {
	if key == "" {
		return ""
	}
	if isAbsolute(key) {
		return key
	}
	return r.publicBase + "/" + key
}

// ErrExternalURL is returned when asked to sign a URL that does not point
// into this store.
var ErrExternalURL = errors.New("url is not served by this store")

// ObjectKey reduces a legacy full URL under the public base to a bare object
// key. Bare keys pass through untouched, and so do URLs on any other host:
// those never named an object in this bucket.
func (r *Resolver) ObjectKey(raw string) string {
	if !isAbsolute(raw) {
		return raw
	}
	if r.publicBase != "" {
		if rest, ok := strings.CutPrefix(raw, r.publicBase+"/"); ok {
			return stripQuery(rest)
		}
	}
	return raw
}

// IsExternal reports whether raw is an absolute URL outside the public base.
func (r *Resolver) IsExternal(raw string) bool {
	return isAbsolute(r.ObjectKey(raw))
}

// Presign signs a read URL for key valid for expiry. A non-positive expiry
// selects the configured default.
func (r *Resolver) Presign(ctx context.Context, key string, expiry time.Duration) (string, error) {
	key = r.ObjectKey(key)
	if key == "" {
		return "", fmt.Errorf("presign: empty key")
	}
	if isAbsolute(key) {
		return "", fmt.Errorf("presign %q: %w", key, ErrExternalURL)
	}
	if expiry <= 0 {
		expiry = r.readExpiry
	}
	signed, err := r.signer.PresignGet(ctx, key, expiry)
	if err != nil {
		return "", fmt.Errorf("presign %q: %w", key, err)
	}
	upload.CredentialsIssued.WithLabelValues(upload.KindRead).Inc()
	return signed, nil
}

// ResolvePresigned signs a read URL and falls back to the public URL when
// signing fails. The fallback may not be readable if the bucket is private.
func (r *Resolver) ResolvePresigned(ctx context.Context, key string, expiry time.Duration) string {
	if key == "" {
		return ""
	}
	if r.IsExternal(key) {
		return key
	}
	signed, err := r.Presign(ctx, key, expiry)
	if err == nil {
		return signed
	}

	presignFallbacks.Inc()
	log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("resolver: presign failed, using public url")
	return r.Resolve(key)
}

func isAbsolute(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}
