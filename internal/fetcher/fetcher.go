package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/trunov/heroproxy/internal/config"
)

var (
	// ErrInvalidURL marks a source URL that can never be fetched: relative,
	// hostless or unparsable.
	ErrInvalidURL        = errors.New("invalid source url")
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	ErrNotImage          = errors.New("source is not an image")
	ErrTooLarge          = errors.New("source image too large")
)

// StatusError is returned when the origin answers with a non-2xx status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("error fetching image: %d %s", e.Code, http.StatusText(e.Code))
}

// ObjectStore serves r2:// source URLs.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, string, error)
}

// Fetcher retrieves source images over HTTP(S) or, when configured, from
// an object store.
type Fetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
	objects   ObjectStore
}

func New(cfg config.FetchConfig, objects ObjectStore) (*Fetcher, error) {
	maxBytes, err := cfg.MaxBytes()
	if err != nil {
		return nil, fmt.Errorf("fetch max size: %w", err)
	}

	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout * time.Second,
		},
		maxBytes:  maxBytes,
		userAgent: cfg.UserAgent,
		objects:   objects,
	}, nil
}

// Fetch returns the raw bytes behind rawURL. The payload must sniff as an
// image.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute url", ErrInvalidURL, rawURL)
	}

	var data []byte
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		data, err = f.fetchHTTP(ctx, u)
	case "r2":
		data, err = f.fetchObject(ctx, u)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	if err != nil {
		return nil, err
	}

	if mime := mimetype.Detect(data); !strings.HasPrefix(mime.String(), "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrNotImage, mime.String())
	}
	return data, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, URL: u.String()}
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	var buf bytes.Buffer
	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	if _, err := buf.ReadFrom(body); err != nil {
		return nil, fmt.Errorf("error reading image: %w", err)
	}
	if f.maxBytes > 0 && int64(buf.Len()) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}
	return buf.Bytes(), nil
}

// fetchObject serves r2://<key>; host and path together form the key.
func (f *Fetcher) fetchObject(ctx context.Context, u *url.URL) ([]byte, error) {
	if f.objects == nil {
		return nil, fmt.Errorf("%w: r2 (no bucket configured)", ErrUnsupportedScheme)
	}

	key := strings.TrimPrefix(u.Host+u.Path, "/")
	data, _, err := f.objects.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	return data, nil
}
