// Package httpfetch is the rate-limited HTTP client shared by the archive
// providers.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
)

// Common errors.
var (
	ErrNotFound     = errors.New("http: resource not found")
	ErrForbidden    = errors.New("http: access forbidden")
	ErrUnauthorized = errors.New("http: unauthorized")
	ErrServerError  = errors.New("http: server error")
)

// Options configures the client.
type Options struct {
	// Timeout for individual requests. Zero disables it.
	Timeout time.Duration
	// RequestsPerSecond caps outbound requests. Zero means unlimited.
	RequestsPerSecond float64
	UserAgent         string
}

// FileInfo contains metadata about a remote file.
type FileInfo struct {
	// Size is the Content-Length, -1 when the server did not send one.
	Size int64
}

// Client wraps http.Client with a limiter and a fixed User-Agent.
type Client struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// NewClient creates a client; a nil base client gets one with opts.Timeout.
func NewClient(base *http.Client, opts Options) *Client {
	if base == nil {
		base = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Client{
		client:    base,
		limiter:   rate.NewLimiter(limit, 1),
		userAgent: opts.UserAgent,
	}
}

// Do issues a request after waiting for the limiter. The caller owns the body.
func (c *Client) Do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// *url.Error repeats the full URL, query tokens included.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("%s %s: %w", method, withoutQuery(req.URL), err)
	}
	return resp, nil
}

// Get performs a GET and returns the body of a 2xx response.
func (c *Client) Get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := c.Do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	if err := CheckStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// Head performs a HEAD request to get file metadata.
func (c *Client) Head(ctx context.Context, rawURL string) (FileInfo, error) {
	resp, err := c.Do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return FileInfo{}, err
	}
	resp.Body.Close()

	if err := CheckStatus(resp); err != nil {
		return FileInfo{}, err
	}

	return FileInfo{Size: resp.ContentLength}, nil
}

// Download streams rawURL into dest through a temporary file so a partial
// transfer never leaves a file under the final name.
func (c *Client) Download(ctx context.Context, rawURL, dest string) (int64, error) {
	body, err := c.Get(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	return SaveTo(body, dest)
}

// SaveTo copies r into dest atomically.
func SaveTo(r io.Reader, dest string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".part*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return n, fmt.Errorf("copy body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return n, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return n, fmt.Errorf("rename temp file: %w", err)
	}
	return n, nil
}

// CheckStatus maps non-success status codes onto the common errors.
func CheckStatus(resp *http.Response) error {
	code := resp.StatusCode
	var target string
	if resp.Request != nil {
		target = withoutQuery(resp.Request.URL)
	}
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, target)
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code >= 500:
		return fmt.Errorf("%w: %s", ErrServerError, resp.Status)
	default:
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
}

func withoutQuery(u *url.URL) string {
	if u == nil {
		return ""
	}
	stripped := *u
	stripped.RawQuery = ""
	stripped.User = nil
	return stripped.String()
}
