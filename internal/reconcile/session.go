// Package reconcile tracks the lifecycle of one uploaded object between a
// successful transfer and the commit or discard that settles it, and sweeps
// objects that were never settled.
package reconcile

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidTransition is returned when an operation does not apply to the session's state.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrAlreadyCommitted is returned when discarding or replacing an object a record now references.
	ErrAlreadyCommitted = errors.New("object already committed")
)

// State is the phase of an upload session.
type State int

const (
	StateEmpty State = iota
	StateUploading
	StateUploaded
	StateFailed
	StateCommitted
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateUploading:
		return "uploading"
	case StateUploaded:
		return "uploaded"
	case StateFailed:
		return "failed"
	case StateCommitted:
		return "committed"
	case StateDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is one attempt to upload one file. It is safe for concurrent use;
// Committed and Discarded are terminal and mutually exclusive.
type Session struct {
	mu    sync.Mutex
	state State
	key   string
	err   error
}

// NewSession returns a session in StateEmpty.
func NewSession() *Session {
	return &Session{}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Key is the object key once the transfer succeeded, or "".
func (s *Session) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// Err is the transfer failure recorded by Fail.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Begin moves Empty to Uploading.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.move(StateEmpty, StateUploading)
}

// Succeed moves Uploading to Uploaded and records key.
func (s *Session) Succeed(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.move(StateUploading, StateUploaded); err != nil {
		return err
	}
	s.key = key
	return nil
}

// Fail moves Uploading to Failed and records the cause.
func (s *Session) Fail(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.move(StateUploading, StateFailed); err != nil {
		return err
	}
	s.err = cause
	return nil
}

// Reset moves Failed back to Empty so the file can be picked again.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.move(StateFailed, StateEmpty); err != nil {
		return err
	}
	s.err = nil
	return nil
}

// claimCommit moves Uploaded to Committed and returns the key to record.
func (s *Session) claimCommit() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCommitted {
		return "", ErrAlreadyCommitted
	}
	if err := s.move(StateUploaded, StateCommitted); err != nil {
		return "", err
	}
	return s.key, nil
}

// releaseCommit undoes claimCommit after the record could not be created.
func (s *Session) releaseCommit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCommitted {
		s.state = StateUploaded
	}
}

// claimDiscard moves Uploaded to Discarded and returns the key to delete.
// A session that is already Discarded returns its key again.
func (s *Session) claimDiscard() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateDiscarded:
		return s.key, nil
	case StateCommitted:
		return "", ErrAlreadyCommitted
	}
	if err := s.move(StateUploaded, StateDiscarded); err != nil {
		return "", err
	}
	return s.key, nil
}

// move must be called with mu held.
func (s *Session) move(from, to State) error {
	if s.state != from {
		return fmt.Errorf("%w: session is %s, want %s", ErrInvalidTransition, s.state, from)
	}
	s.state = to
	return nil
}
