package transfer

import (
	"errors"
	"fmt"
	"net/url"
)

// Local checks. These fail before any request is made.
var (
	ErrEmptyFile         = errors.New("file is empty")
	ErrFileTooLarge      = errors.New("file too large")
	ErrUnsupportedType   = errors.New("only image files are allowed")
	ErrCredentialExpired = errors.New("upload credential expired")
)

// Transfer failures. A returned *Error wraps exactly one of these.
var (
	ErrUploadRejected = errors.New("upload rejected")
	ErrNetwork        = errors.New("network error during upload")
	ErrUploadTimeout  = errors.New("upload timed out")
)

const corsHint = "this is usually a CORS issue or a network failure; check the bucket CORS configuration"

// Error carries the diagnostics of a failed PUT. Target never includes the
// query string, which holds the signature.
type Error struct {
	Kind       error
	Method     string
	Target     string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrUploadRejected:
		if e.Body != "" {
			return fmt.Sprintf("upload failed with status %d: %s", e.StatusCode, e.Body)
		}
		return fmt.Sprintf("upload failed with status %d", e.StatusCode)
	case ErrNetwork:
		return fmt.Sprintf("%v: %s %s: %v; %s", e.Kind, e.Method, e.Target, e.Err, corsHint)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%v: %s %s: %v", e.Kind, e.Method, e.Target, e.Err)
		}
		return fmt.Sprintf("%v: %s %s", e.Kind, e.Method, e.Target)
	}
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// redact drops the query string and fragment from a presigned URL.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}
