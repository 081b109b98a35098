package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/photojournal/service/internal/photo"
)

// ObjectDeleter removes an uploaded object. Deleting a missing key must succeed.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}

// RecordCreator persists the record that commits a key.
type RecordCreator interface {
	CreatePhoto(ctx context.Context, in photo.CreateInput) (*photo.Photo, error)
}

// Reconciler settles upload sessions: every uploaded object ends up either
// referenced by a record or deleted.
type Reconciler struct {
	deleter ObjectDeleter
	records RecordCreator
}

// New creates a Reconciler.
func New(deleter ObjectDeleter, records RecordCreator) *Reconciler {
	return &Reconciler{deleter: deleter, records: records}
}

// OnTransferSucceeded records that key now holds the session's object.
func (r *Reconciler) OnTransferSucceeded(s *Session, key string) error {
	return s.Succeed(key)
}

// Commit creates the record for the session's key. The session is claimed
// before the record is written so a concurrent Discard cannot delete the
// object; if the record cannot be created the claim is released.
func (r *Reconciler) Commit(ctx context.Context, s *Session, in photo.CreateInput) (*photo.Photo, error) {
	key, err := s.claimCommit()
	if err != nil {
		return nil, err
	}

	in.Key = key
	p, err := r.records.CreatePhoto(ctx, in)
	if err != nil {
		s.releaseCommit()
		return nil, fmt.Errorf("commit %s: %w", key, err)
	}

	log.Ctx(ctx).Info().Str("key", key).Str("photo_id", p.ID).Msg("reconcile: committed")
	return p, nil
}

// Discard deletes the session's object. Calling it again re-issues the
// delete, which is harmless; after a commit it fails with ErrAlreadyCommitted
// and deletes nothing.
func (r *Reconciler) Discard(ctx context.Context, s *Session) error {
	key, err := s.claimDiscard()
	if err != nil {
		return err
	}

	if err := r.deleter.DeleteObject(ctx, key); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("key", key).Msg("reconcile: discard delete failed")
		return fmt.Errorf("discard %s: %w", key, err)
	}

	log.Ctx(ctx).Info().Str("key", key).Msg("reconcile: discarded")
	return nil
}

// Reupload abandons the current session and returns a fresh one. An
// uploaded object is discarded first; a session that never produced an
// object is simply replaced.
func (r *Reconciler) Reupload(ctx context.Context, s *Session) (*Session, error) {
	switch s.State() {
	case StateEmpty, StateFailed:
		return NewSession(), nil
	}

	if err := r.Discard(ctx, s); err != nil {
		return nil, fmt.Errorf("reupload: %w", err)
	}
	return NewSession(), nil
}
