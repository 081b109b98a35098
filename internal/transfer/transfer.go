// Package transfer performs the caller-side PUT of a file to object storage
// using a write credential issued by the API.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/photojournal/service/internal/upload"
)

// DefaultTimeout bounds a single transfer.
const DefaultTimeout = 60 * time.Second

// bodyExcerptLimit caps how much of a rejection body is kept.
const bodyExcerptLimit = 4096

// File is a local file ready to send.
type File struct {
	Name string
	Type string
	Size int64
	Body io.Reader
}

// Executor sends files to storage. It makes exactly one request per Transfer
// and never retries.
type Executor struct {
	client  *http.Client
	maxSize int64
	timeout time.Duration
	now     func() time.Time
}

// NewExecutor creates an Executor. A nil client uses a fresh http.Client; a
// non-positive timeout uses DefaultTimeout.
func NewExecutor(client *http.Client, maxSize int64, timeout time.Duration) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{client: client, maxSize: maxSize, timeout: timeout, now: time.Now}
}

// Transfer validates f locally, then PUTs it to cred.URL. onProgress, if not
// nil, receives a non-decreasing sequence of distinct percentages; 100 is
// reported only after storage accepted the object.
func (e *Executor) Transfer(ctx context.Context, f File, cred *upload.WriteCredential, onProgress func(int)) error {
	if err := e.check(f, cred); err != nil {
		return err
	}

	method := cred.Method
	if method == "" {
		method = http.MethodPut
	}
	target := redact(cred.URL)
	logger := log.Ctx(ctx).With().Str("method", method).Str("target", target).Int64("size", f.Size).Logger()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	prog := newProgress(f.Size, onProgress)
	req, err := http.NewRequestWithContext(ctx, method, cred.URL, &reader{r: f.Body, p: prog})
	if err != nil {
		return &Error{Kind: ErrNetwork, Method: method, Target: target, Err: fmt.Errorf("build request: %w", err)}
	}
	req.ContentLength = f.Size
	for name, value := range cred.Headers {
		req.Header.Set(name, value)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", f.Type)
	}

	logger.Debug().Msg("transfer: sending")
	resp, err := e.client.Do(req)
	if err != nil {
		prog.finish(false)
		return e.classify(ctx, method, target, err, logger)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		prog.finish(false)
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, bodyExcerptLimit))
		logger.Error().Int("status", resp.StatusCode).Msg("transfer: storage rejected upload")
		return &Error{
			Kind:       ErrUploadRejected,
			Method:     method,
			Target:     target,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(excerpt)),
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, bodyExcerptLimit))

	prog.finish(true)
	logger.Info().Str("key", cred.Key).Msg("transfer: upload complete")
	return nil
}

// Validate runs the local checks that do not depend on a credential.
func (e *Executor) Validate(f File) error {
	if f.Size <= 0 {
		return ErrEmptyFile
	}
	if f.Size > e.maxSize {
		return fmt.Errorf("%w: file size exceeds %dMB limit", ErrFileTooLarge, e.maxSize/1024/1024)
	}
	if err := upload.ValidateContentType(f.Type); err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, f.Type)
	}
	return nil
}

func (e *Executor) check(f File, cred *upload.WriteCredential) error {
	if err := e.Validate(f); err != nil {
		return err
	}
	if cred == nil || cred.URL == "" {
		return fmt.Errorf("%w: no credential", ErrCredentialExpired)
	}
	if cred.Expired(e.now()) {
		return fmt.Errorf("%w at %s", ErrCredentialExpired, cred.ExpiresAt.Format(time.RFC3339))
	}
	if signed := signedContentType(cred); signed != "" && !sameMediaType(signed, f.Type) {
		return fmt.Errorf("%w: file is %q but credential is for %q", ErrUnsupportedType, f.Type, signed)
	}
	return nil
}

// signedContentType returns the Content-Type the credential was signed for.
func signedContentType(cred *upload.WriteCredential) string {
	for name, value := range cred.Headers {
		if strings.EqualFold(name, "Content-Type") {
			return value
		}
	}
	return ""
}

func sameMediaType(a, b string) bool {
	ma, _, errA := mime.ParseMediaType(a)
	mb, _, errB := mime.ParseMediaType(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return ma == mb
}

func (e *Executor) classify(ctx context.Context, method, target string, err error, logger zerolog.Logger) error {
	var netErr net.Error
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout())

	if timedOut {
		logger.Error().Dur("timeout", e.timeout).Msg("transfer: timed out")
		return &Error{Kind: ErrUploadTimeout, Method: method, Target: target, Err: fmt.Errorf("no response within %s", e.timeout)}
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("transfer canceled: %w", context.Canceled)
	}

	logger.Error().Err(redactErr(err, target)).Msg("transfer: network error")
	return &Error{Kind: ErrNetwork, Method: method, Target: target, Err: redactErr(err, target)}
}

// redactErr strips the signed URL that *url.Error embeds in its message.
func redactErr(err error, target string) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return &url.Error{Op: uerr.Op, URL: target, Err: uerr.Err}
	}
	return err
}
