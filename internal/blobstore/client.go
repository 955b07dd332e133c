// Package blobstore talks to the remote object store backing alertbase's
// raw alert payloads. Per spec.md, the object store itself is an external
// collaborator — out of scope as an interface, not as a protocol to
// faithfully reimplement — so this client speaks plain HTTP PUT/GET
// against a configurable endpoint rather than a full signed S3 client;
// there is no AWS/object-storage SDK anywhere in the corpus to ground a
// heavier implementation on (see DESIGN.md).
//
// Concurrency is bounded by a semaphore of acquirable sessions, and HTTP
// transport tuning (keep-alives, forced HTTP/2, transparent gzip) is
// adapted from the teacher's http-client.go.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rpcpool/alertbase/internal/aerrors"
)

const (
	maxRetries  = 5
	baseBackoff = 250 * time.Millisecond
)

// Config configures a Client.
type Config struct {
	Bucket   string
	Region   string
	// Endpoint overrides the default https://<bucket>.s3.<region>.amazonaws.com
	// host, for S3-compatible backends or local test servers.
	Endpoint string

	// MaxConcurrency bounds the number of sessions that can be acquired at
	// once; additional acquisitions block until a permit frees up.
	MaxConcurrency int

	HTTPClient *http.Client
}

// Client is a bounded-concurrency object-store client. It is safe for
// concurrent use.
type Client struct {
	bucket   string
	region   string
	endpoint string
	http     *http.Client
	sem      chan struct{}
}

// New builds a Client from cfg, defaulting concurrency to 50 (matching
// the original implementation's default) and the HTTP client to one
// tuned the way the teacher's http-client.go tunes its own.
func New(cfg Config) *Client {
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 50
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient()
	}
	return &Client{
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		endpoint: cfg.Endpoint,
		http:     httpClient,
		sem:      make(chan struct{}, concurrency),
	}
}

// Bucket and Region report the client's configured object-store location.
func (c *Client) Bucket() string { return c.bucket }
func (c *Client) Region() string { return c.region }

// Session holds one concurrency permit for its entire lifetime; acquire
// it with Acquire and release it with Close, which is safe to call more
// than once.
type Session struct {
	id      string
	client  *Client
	release func()
	closed  bool
}

// Acquire blocks until a concurrency permit is available or ctx is
// canceled, and returns a Session holding that permit. Callers must
// Close the session on every exit path to release the permit; a typical
// call site does `defer sess.Close()` immediately after Acquire succeeds.
func (c *Client) Acquire(ctx context.Context) (*Session, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("blobstore: acquiring session: %w", ctx.Err())
	}
	released := false
	release := func() {
		if !released {
			released = true
			<-c.sem
		}
	}
	return &Session{id: uuid.NewString(), client: c, release: release}, nil
}

// Close releases the session's permit. Safe to call multiple times.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.release()
	return nil
}

// KeyFor returns the object-store key for an alert's (object_id,
// candidate_id) pair.
func KeyFor(objectID string, candidateID int64) string {
	return fmt.Sprintf("alerts/v2/%s/%d", objectID, candidateID)
}

// URLFor returns the canonical s3://<bucket>/<key> URL for a key in
// bucket.
func URLFor(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// SplitURL parses a s3://<bucket>/<key> URL into its bucket and key.
func SplitURL(url string) (bucket, key string, err error) {
	const scheme = "s3://"
	if !strings.HasPrefix(url, scheme) {
		return "", "", fmt.Errorf("blobstore: %q: %w", url, aerrors.ErrInvalidURL)
	}
	rest := url[len(scheme):]
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", fmt.Errorf("blobstore: %q: %w", url, aerrors.ErrInvalidURL)
	}
	return bucket, key, nil
}

func (c *Client) objectEndpoint(bucket, key string) string {
	if c.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(c.endpoint, "/"), bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, c.region, key)
}

// Put uploads body under key in the session's bucket and returns the
// canonical s3:// URL it was stored at. Transient transport failures are
// retried with exponential backoff, up to maxRetries attempts.
func (s *Session) Put(ctx context.Context, key string, body []byte) (string, error) {
	url := s.client.objectEndpoint(s.client.bucket, key)
	err := withRetries(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.ContentLength = int64(len(body))
		resp, err := s.client.http.Do(req)
		if err != nil {
			return fmt.Errorf("blobstore: put %s: %w", key, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			return fmt.Errorf("blobstore: put %s: status %s: %w", key, resp.Status, aerrors.ErrBlobIO)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return URLFor(s.client.bucket, key), nil
}

// Get downloads the object at the given s3:// URL. A missing object
// returns aerrors.ErrObjectNotFound.
func (s *Session) Get(ctx context.Context, url string) ([]byte, error) {
	bucket, key, err := SplitURL(url)
	if err != nil {
		return nil, err
	}
	endpoint := s.client.objectEndpoint(bucket, key)

	var body []byte
	err = withRetries(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := s.client.http.Do(req)
		if err != nil {
			return fmt.Errorf("blobstore: get %s: %w", url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return aerrors.ErrObjectNotFound
		}
		if resp.StatusCode/100 != 2 {
			return fmt.Errorf("blobstore: get %s: status %s: %w", url, resp.Status, aerrors.ErrBlobIO)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("blobstore: get %s: reading body: %w", url, err)
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// withRetries runs fn up to maxRetries times with exponential backoff,
// stopping immediately on a non-retryable error (ErrObjectNotFound: the
// object genuinely doesn't exist, retrying won't change that) or context
// cancellation.
func withRetries(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("blobstore: %w", ctx.Err())
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		if err == aerrors.ErrObjectNotFound {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("blobstore: failed after %d attempts: %w", maxRetries, lastErr)
}
