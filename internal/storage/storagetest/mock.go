// Package storagetest provides a testify mock of storage.Storage.
package storagetest

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/photojournal/service/internal/storage"
)

// PublicBase is the base URL Mock.PublicURL prefixes keys with.
const PublicBase = "https://cdn.test"

// Mock records every storage call. Upload drains the reader and passes the
// bytes to the expectation so tests can assert on the payload.
type Mock struct {
	mock.Mock
}

var _ storage.Storage = (*Mock)(nil)

func (m *Mock) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	body, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	args := m.Called(ctx, key, body, size, contentType)
	return args.Error(0)
}

func (m *Mock) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *Mock) PresignPut(ctx context.Context, key, contentType string, size int64, expiry time.Duration) (string, error) {
	args := m.Called(ctx, key, contentType, size, expiry)
	return args.String(0), args.Error(1)
}

func (m *Mock) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, key, expiry)
	return args.String(0), args.Error(1)
}

func (m *Mock) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	args := m.Called(ctx, prefix)
	objs, _ := args.Get(0).([]storage.ObjectInfo)
	return objs, args.Error(1)
}

// PublicURL is deterministic and not recorded.
func (m *Mock) PublicURL(key string) string {
	return PublicBase + "/" + key
}
