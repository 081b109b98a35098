package reconcile

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/photojournal/service/internal/photo"
	"github.com/photojournal/service/internal/storage/storagetest"
	"github.com/photojournal/service/internal/transfer"
	"github.com/photojournal/service/internal/upload"
)

type mockDeleter struct {
	mock.Mock
}

func (m *mockDeleter) DeleteObject(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type mockRecords struct {
	mock.Mock
}

func (m *mockRecords) CreatePhoto(ctx context.Context, in photo.CreateInput) (*photo.Photo, error) {
	args := m.Called(ctx, in)
	p, _ := args.Get(0).(*photo.Photo)
	return p, args.Error(1)
}

func uploadedSession(t *testing.T, key string) *Session {
	t.Helper()
	s := NewSession()
	require.NoError(t, s.Begin())
	require.NoError(t, s.Succeed(key))
	return s
}

func TestCommit(t *testing.T) {
	records := &mockRecords{}
	records.On("CreatePhoto", mock.Anything, photo.CreateInput{Key: "photos/abc-cat.png", Title: "Cat"}).
		Return(&photo.Photo{ID: "p1", Key: "photos/abc-cat.png"}, nil).Once()

	r := New(&mockDeleter{}, records)
	s := uploadedSession(t, "photos/abc-cat.png")

	// the key always comes from the session
	p, err := r.Commit(context.Background(), s, photo.CreateInput{Key: "ignored", Title: "Cat"})
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, StateCommitted, s.State())

	_, err = r.Commit(context.Background(), s, photo.CreateInput{Title: "Cat"})
	assert.ErrorIs(t, err, ErrAlreadyCommitted)
	records.AssertExpectations(t)
}

func TestCommit_FailureReleasesSession(t *testing.T) {
	records := &mockRecords{}
	records.On("CreatePhoto", mock.Anything, mock.Anything).Return(nil, errors.New("db down")).Once()
	deleter := &mockDeleter{}
	deleter.On("DeleteObject", mock.Anything, "photos/abc-cat.png").Return(nil).Once()

	r := New(deleter, records)
	s := uploadedSession(t, "photos/abc-cat.png")

	_, err := r.Commit(context.Background(), s, photo.CreateInput{Title: "Cat"})
	require.Error(t, err)
	assert.Equal(t, StateUploaded, s.State())

	// the object is still settleable
	require.NoError(t, r.Discard(context.Background(), s))
	deleter.AssertExpectations(t)
}

func TestCommitThenDiscard_NoDelete(t *testing.T) {
	records := &mockRecords{}
	records.On("CreatePhoto", mock.Anything, mock.Anything).Return(&photo.Photo{ID: "p1"}, nil)
	deleter := &mockDeleter{}

	r := New(deleter, records)
	s := uploadedSession(t, "photos/abc-cat.png")

	_, err := r.Commit(context.Background(), s, photo.CreateInput{Title: "Cat"})
	require.NoError(t, err)

	assert.ErrorIs(t, r.Discard(context.Background(), s), ErrAlreadyCommitted)
	_, err = r.Reupload(context.Background(), s)
	assert.ErrorIs(t, err, ErrAlreadyCommitted)
	deleter.AssertNotCalled(t, "DeleteObject", mock.Anything, mock.Anything)
}

func TestDiscard_RepeatReissuesDelete(t *testing.T) {
	deleter := &mockDeleter{}
	deleter.On("DeleteObject", mock.Anything, "photos/abc-cat.png").Return(nil).Twice()

	r := New(deleter, &mockRecords{})
	s := uploadedSession(t, "photos/abc-cat.png")

	require.NoError(t, r.Discard(context.Background(), s))
	require.NoError(t, r.Discard(context.Background(), s))
	assert.Equal(t, StateDiscarded, s.State())
	deleter.AssertExpectations(t)

	_, err := r.Commit(context.Background(), s, photo.CreateInput{Title: "Cat"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDiscard_DeleteFailureCanBeRetried(t *testing.T) {
	deleter := &mockDeleter{}
	deleter.On("DeleteObject", mock.Anything, "photos/abc-cat.png").Return(errors.New("timeout")).Once()
	deleter.On("DeleteObject", mock.Anything, "photos/abc-cat.png").Return(nil).Once()

	r := New(deleter, &mockRecords{})
	s := uploadedSession(t, "photos/abc-cat.png")

	require.Error(t, r.Discard(context.Background(), s))
	require.NoError(t, r.Discard(context.Background(), s))
	deleter.AssertNumberOfCalls(t, "DeleteObject", 2)
}

func TestDiscard_NothingUploaded(t *testing.T) {
	deleter := &mockDeleter{}
	r := New(deleter, &mockRecords{})

	assert.ErrorIs(t, r.Discard(context.Background(), NewSession()), ErrInvalidTransition)

	s := NewSession()
	require.NoError(t, s.Begin())
	assert.ErrorIs(t, r.Discard(context.Background(), s), ErrInvalidTransition)
	deleter.AssertNotCalled(t, "DeleteObject", mock.Anything, mock.Anything)
}

func TestReupload(t *testing.T) {
	deleter := &mockDeleter{}
	deleter.On("DeleteObject", mock.Anything, "photos/old.png").Return(nil).Once()
	r := New(deleter, &mockRecords{})

	old := uploadedSession(t, "photos/old.png")
	fresh, err := r.Reupload(context.Background(), old)
	require.NoError(t, err)
	assert.Equal(t, StateEmpty, fresh.State())
	assert.Equal(t, StateDiscarded, old.State())

	failed := NewSession()
	require.NoError(t, failed.Begin())
	require.NoError(t, failed.Fail(errors.New("boom")))
	_, err = r.Reupload(context.Background(), failed)
	require.NoError(t, err)

	deleter.AssertExpectations(t)
}

func TestConcurrentCommitAndDiscard_OneWinner(t *testing.T) {
	for i := 0; i < 50; i++ {
		var deletes, creates atomic.Int32
		deleter := deleterFunc(func(context.Context, string) error {
			deletes.Add(1)
			return nil
		})
		records := creatorFunc(func(_ context.Context, in photo.CreateInput) (*photo.Photo, error) {
			creates.Add(1)
			return &photo.Photo{ID: "p", Key: in.Key}, nil
		})

		r := New(deleter, records)
		s := uploadedSession(t, "photos/race.png")

		var wg sync.WaitGroup
		var commitErr, discardErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, commitErr = r.Commit(context.Background(), s, photo.CreateInput{Title: "x"})
		}()
		go func() {
			defer wg.Done()
			discardErr = r.Discard(context.Background(), s)
		}()
		wg.Wait()

		if commitErr == nil {
			assert.ErrorIs(t, discardErr, ErrAlreadyCommitted)
			assert.Equal(t, int32(1), creates.Load())
			assert.Zero(t, deletes.Load())
			assert.Equal(t, StateCommitted, s.State())
		} else {
			assert.NoError(t, discardErr)
			assert.ErrorIs(t, commitErr, ErrInvalidTransition)
			assert.Zero(t, creates.Load())
			assert.Equal(t, int32(1), deletes.Load())
			assert.Equal(t, StateDiscarded, s.State())
		}
	}
}

type deleterFunc func(ctx context.Context, key string) error

func (f deleterFunc) DeleteObject(ctx context.Context, key string) error { return f(ctx, key) }

type creatorFunc func(ctx context.Context, in photo.CreateInput) (*photo.Photo, error)

func (f creatorFunc) CreatePhoto(ctx context.Context, in photo.CreateInput) (*photo.Photo, error) {
	return f(ctx, in)
}

// serviceDeleter adapts upload.Service the way the API client does over HTTP.
type serviceDeleter struct {
	svc    *upload.Service
	caller string
}

func (d serviceDeleter) DeleteObject(ctx context.Context, key string) error {
	return d.svc.DeleteObject(ctx, d.caller, key)
}

func TestUploadThenDiscard_EndToEnd(t *testing.T) {
	var (
		mu       sync.Mutex
		received = map[string][]byte{}
	)
	fakeStorage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.Header.Get("Content-Type") != "image/png" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		received[r.URL.Path] = body
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer fakeStorage.Close()

	store := &storagetest.Mock{}
	var signedKey string
	store.On("PresignPut", mock.Anything, mock.Anything, "image/png", int64(1000), 6*time.Minute).
		Run(func(args mock.Arguments) { signedKey = args.String(1) }).
		Return(fakeStorage.URL+"/photos-bucket/object?X-Amz-Signature=test", nil)
	store.On("Delete", mock.Anything, mock.Anything).Return(nil)

	svc := upload.NewService(store, nil, upload.Options{MaxSize: 5 << 20, WriteExpiry: 6 * time.Minute})

	// issue
	cred, err := svc.IssueWriteCredential(context.Background(), "user-1", upload.CredentialRequest{
		Filename: "cat.png", ContentType: "image/png", Size: 1000, Folder: "photos",
	})
	require.NoError(t, err)
	assert.Equal(t, signedKey, cred.Key)

	// transfer
	session := NewSession()
	require.NoError(t, session.Begin())
	var progress []int
	err = transfer.NewExecutor(fakeStorage.Client(), 5<<20, time.Minute).Transfer(context.Background(),
		transfer.File{Name: "cat.png", Type: "image/png", Size: 1000, Body: bytes.NewReader(make([]byte, 1000))},
		cred, func(p int) { progress = append(progress, p) })
	require.NoError(t, err)
	assert.Equal(t, 100, progress[len(progress)-1])
	assert.Len(t, received["/photos-bucket/object"], 1000)

	// succeeded then discard
	r := New(serviceDeleter{svc: svc, caller: "user-1"}, &mockRecords{})
	require.NoError(t, r.OnTransferSucceeded(session, cred.Key))
	require.NoError(t, r.Discard(context.Background(), session))

	store.AssertNumberOfCalls(t, "Delete", 1)
	store.AssertCalled(t, "Delete", mock.Anything, cred.Key)
}
