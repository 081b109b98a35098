package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/photojournal/service/internal/storage/storagetest"
)

var fixedNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type fakeRefs struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func (f *fakeRefs) KeyExists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[key], f.err
}

func newTestService(store *storagetest.Mock, refs KeyReferences) *Service {
	svc := NewService(store, refs, Options{MaxSize: 5 << 20, WriteExpiry: 6 * time.Minute})
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func keyIn(folder, filename string) interface{} {
	return mock.MatchedBy(func(key string) bool {
		rest, ok := strings.CutPrefix(key, folder+"/")
		return ok && uuidPrefix.MatchString(rest) && strings.HasSuffix(rest, "-"+filename)
	})
}

func TestIssueWriteCredential_SignsExactInputs(t *testing.T) {
	store := &storagetest.Mock{}
	store.On("PresignPut", mock.Anything, keyIn("photos", "cat.png"), "image/png", int64(1000), 6*time.Minute).
		Return("https://storage.test/photos/signed", nil).Once()

	svc := newTestService(store, nil)
	cred, err := svc.IssueWriteCredential(context.Background(), "user-1", CredentialRequest{
		Filename:    "cat.png",
		ContentType: "image/png",
		Size:        1000,
		Folder:      "photos",
	})
	require.NoError(t, err)

	store.AssertExpectations(t)
	assert.Equal(t, "https://storage.test/photos/signed", cred.URL)
	assert.Equal(t, "PUT", cred.Method)
	assert.Equal(t, map[string]string{"Content-Type": "image/png"}, cred.Headers)
	assert.Equal(t, fixedNow.Add(6*time.Minute), cred.ExpiresAt)

	// the key handed to the signer is the key returned to the caller
	signedKey := store.Calls[0].Arguments.String(1)
	assert.Equal(t, signedKey, cred.Key)
}

func TestIssueWriteCredential_KeysAreUnique(t *testing.T) {
	store := &storagetest.Mock{}
	store.On("PresignPut", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("https://storage.test/signed", nil)

	svc := newTestService(store, nil)
	req := CredentialRequest{Filename: "cat.png", ContentType: "image/png", Size: 1000, Folder: "photos"}

	a, err := svc.IssueWriteCredential(context.Background(), "user-1", req)
	require.NoError(t, err)
	b, err := svc.IssueWriteCredential(context.Background(), "user-1", req)
	require.NoError(t, err)

	assert.NotEqual(t, a.Key, b.Key)
}

func TestIssueWriteCredential_NoFolder(t *testing.T) {
	store := &storagetest.Mock{}
	store.On("PresignPut", mock.Anything, mock.MatchedBy(func(key string) bool {
		return !strings.Contains(key, "/") && strings.HasSuffix(key, "-cat.png")
	}), "image/png", int64(10), 6*time.Minute).Return("https://signed", nil)

	svc := newTestService(store, nil)
	_, err := svc.IssueWriteCredential(context.Background(), "user-1", CredentialRequest{
		Filename: "cat.png", ContentType: "image/png", Size: 10,
	})
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestIssueWriteCredential_Unauthorized(t *testing.T) {
	store := &storagetest.Mock{}
	svc := newTestService(store, nil)

	cred, err := svc.IssueWriteCredential(context.Background(), "", CredentialRequest{
		Filename: "cat.png", ContentType: "image/png", Size: 1000,
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Nil(t, cred)
	store.AssertNotCalled(t, "PresignPut", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIssueWriteCredential_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  CredentialRequest
	}{
		{"empty filename", CredentialRequest{Filename: " ", ContentType: "image/png", Size: 1}},
		{"not an image", CredentialRequest{Filename: "a.txt", ContentType: "text/plain", Size: 1}},
		{"bad mime", CredentialRequest{Filename: "a.png", ContentType: "image/", Size: 1}},
		{"zero size", CredentialRequest{Filename: "a.png", ContentType: "image/png", Size: 0}},
		{"too large", CredentialRequest{Filename: "a.png", ContentType: "image/png", Size: 10 << 20}},
		{"escaping folder", CredentialRequest{Filename: "a.png", ContentType: "image/png", Size: 1, Folder: "../x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &storagetest.Mock{}
			svc := newTestService(store, nil)

			_, err := svc.IssueWriteCredential(context.Background(), "user-1", tt.req)
			assert.ErrorIs(t, err, ErrValidation)
			store.AssertNotCalled(t, "PresignPut", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestIssueWriteCredential_SigningFailure(t *testing.T) {
	store := &storagetest.Mock{}
	store.On("PresignPut", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("credentials expired"))

	svc := newTestService(store, nil)
	cred, err := svc.IssueWriteCredential(context.Background(), "user-1", CredentialRequest{
		Filename: "cat.png", ContentType: "image/png", Size: 1000,
	})
	assert.Nil(t, cred)
	assert.ErrorIs(t, err, ErrStorageSigning)
	assert.Contains(t, err.Error(), "credentials expired")
}

func TestWriteCredential_Expired(t *testing.T) {
	cred := &WriteCredential{ExpiresAt: fixedNow}
	assert.False(t, cred.Expired(fixedNow.Add(-time.Second)))
	assert.True(t, cred.Expired(fixedNow))
	assert.True(t, cred.Expired(fixedNow.Add(time.Second)))
}

func TestDeleteObject_Idempotent(t *testing.T) {
	store := &storagetest.Mock{}
	store.On("Delete", mock.Anything, "photos/abc-cat.png").Return(nil).Twice()

	svc := newTestService(store, &fakeRefs{})
	require.NoError(t, svc.DeleteObject(context.Background(), "user-1", "photos/abc-cat.png"))
	require.NoError(t, svc.DeleteObject(context.Background(), "user-1", "photos/abc-cat.png"))
	store.AssertNumberOfCalls(t, "Delete", 2)
}

func TestDeleteObject_RefusesCommittedKey(t *testing.T) {
	store := &storagetest.Mock{}
	refs := &fakeRefs{keys: map[string]bool{"photos/abc-cat.png": true}}

	svc := newTestService(store, refs)
	err := svc.DeleteObject(context.Background(), "user-1", "photos/abc-cat.png")
	assert.ErrorIs(t, err, ErrKeyCommitted)
	store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestDeleteObject_Errors(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		store := &storagetest.Mock{}
		err := newTestService(store, nil).DeleteObject(context.Background(), "", "photos/a.png")
		assert.ErrorIs(t, err, ErrUnauthorized)
		store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("invalid key", func(t *testing.T) {
		store := &storagetest.Mock{}
		err := newTestService(store, nil).DeleteObject(context.Background(), "user-1", "../a.png")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("reference lookup fails", func(t *testing.T) {
		store := &storagetest.Mock{}
		err := newTestService(store, &fakeRefs{err: errors.New("db down")}).
			DeleteObject(context.Background(), "user-1", "photos/a.png")
		require.Error(t, err)
		store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})

	t.Run("storage failure", func(t *testing.T) {
		store := &storagetest.Mock{}
		store.On("Delete", mock.Anything, "photos/a.png").Return(errors.New("boom"))
		err := newTestService(store, nil).DeleteObject(context.Background(), "user-1", "photos/a.png")
		assert.ErrorIs(t, err, ErrStorage)
	})
}

func TestStoreObject(t *testing.T) {
	payload := []byte("\x89PNG\r\n\x1a\nfake")
	store := &storagetest.Mock{}
	store.On("Upload", mock.Anything, keyIn("photos", "cat.png"), payload, int64(len(payload)), "image/png").
		Return(nil).Once()

	svc := newTestService(store, nil)
	obj, err := svc.StoreObject(context.Background(), "user-1", StoreRequest{
		Filename:    "cat.png",
		ContentType: "image/png",
		Folder:      "photos",
		Payload:     base64.StdEncoding.EncodeToString(payload),
	})
	require.NoError(t, err)
	store.AssertExpectations(t)

	assert.True(t, strings.HasPrefix(obj.Key, "photos/"))
	assert.Equal(t, storagetest.PublicBase+"/"+obj.Key, obj.PublicURL)
}

func TestStoreObject_Failures(t *testing.T) {
	big := base64.StdEncoding.EncodeToString(make([]byte, 5<<20+1))
	tests := []struct {
		name    string
		caller  string
		req     StoreRequest
		wantErr error
	}{
		{"unauthorized", "", StoreRequest{Filename: "a.png", ContentType: "image/png", Payload: "AA=="}, ErrUnauthorized},
		{"bad base64", "u", StoreRequest{Filename: "a.png", ContentType: "image/png", Payload: "%%%"}, ErrValidation},
		{"empty payload", "u", StoreRequest{Filename: "a.png", ContentType: "image/png", Payload: ""}, ErrValidation},
		{"too large", "u", StoreRequest{Filename: "a.png", ContentType: "image/png", Payload: big}, ErrValidation},
		{"not an image", "u", StoreRequest{Filename: "a.txt", ContentType: "text/plain", Payload: "AA=="}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &storagetest.Mock{}
			_, err := newTestService(store, nil).StoreObject(context.Background(), tt.caller, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			store.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}

	t.Run("storage failure", func(t *testing.T) {
		store := &storagetest.Mock{}
		store.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("connection reset"))
		obj, err := newTestService(store, nil).StoreObject(context.Background(), "u", StoreRequest{
			Filename: "a.png", ContentType: "image/png", Payload: "AA==",
		})
		assert.Nil(t, obj)
		assert.ErrorIs(t, err, ErrStorage)
	})
}
