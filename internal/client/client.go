// Package client is a typed HTTP client for the photo journal API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/photojournal/service/internal/photo"
	"github.com/photojournal/service/internal/reconcile"
	"github.com/photojournal/service/internal/response"
	"github.com/photojournal/service/internal/upload"
)

// Status classes of a failed call. *APIError unwraps to one of them.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrServer       = errors.New("server error")
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusConflict:
		return ErrConflict
	case e.StatusCode >= 500:
		return ErrServer
	default:
		return ErrBadRequest
	}
}

// Client calls the API with a bearer token.
type Client struct {
	base  string
	token string
	http  *http.Client
}

var (
	_ reconcile.ObjectDeleter = (*Client)(nil)
	_ reconcile.RecordCreator = (*Client)(nil)
)

// New creates a Client for the server at baseURL, e.g. http://localhost:8080.
// A nil httpClient uses http.DefaultClient.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

// IssueWriteCredential asks for a presigned PUT for one new object.
func (c *Client) IssueWriteCredential(ctx context.Context, req upload.CredentialRequest) (*upload.WriteCredential, error) {
	var cred upload.WriteCredential
	if err := c.do(ctx, http.MethodPost, "/api/v1/uploads/credentials", req, &cred); err != nil {
		return nil, fmt.Errorf("issue write credential: %w", err)
	}
	return &cred, nil
}

// DeleteObject removes an uncommitted object. Missing keys succeed.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	path := "/api/v1/uploads/objects?key=" + url.QueryEscape(key)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// StoreObject uploads through the server.
func (c *Client) StoreObject(ctx context.Context, req upload.StoreRequest) (*upload.StoredObject, error) {
	var obj upload.StoredObject
	if err := c.do(ctx, http.MethodPost, "/api/v1/uploads/objects", req, &obj); err != nil {
		return nil, fmt.Errorf("store object: %w", err)
	}
	return &obj, nil
}

// CreatePhoto commits an uploaded key as a photo.
func (c *Client) CreatePhoto(ctx context.Context, in photo.CreateInput) (*photo.Photo, error) {
	var p photo.Photo
	if err := c.do(ctx, http.MethodPost, "/api/v1/photos", in, &p); err != nil {
		return nil, fmt.Errorf("create photo: %w", err)
	}
	return &p, nil
}

// GetPhoto fetches one photo record.
func (c *Client) GetPhoto(ctx context.Context, id string) (*photo.Photo, error) {
	var p photo.Photo
	if err := c.do(ctx, http.MethodGet, "/api/v1/photos/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return &p, nil
}

// PresignedURL returns a read URL for key. This endpoint answers with a
// bare {url} or {error} object rather than the envelope.
func (c *Client) PresignedURL(ctx context.Context, key string) (string, error) {
	resp, err := c.send(ctx, http.MethodGet, "/presigned-url?key="+url.QueryEscape(key), nil)
	if err != nil {
		return "", fmt.Errorf("presigned url: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		URL   string `json:"url"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("presigned url: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("presigned url: %w", &APIError{StatusCode: resp.StatusCode, Message: body.Error})
	}
	return body.URL, nil
}

// do sends in as JSON and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		enc, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(enc)
	}

	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	env := response.Envelope{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Error}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}
