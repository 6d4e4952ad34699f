package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"ringstream/internal/ringbuf"
)

// HTTPRangeSource reads a remote object through HTTP Range GET requests,
// the "slow network stream" shape the ring buffer exists to smooth over. A
// rate.Limiter throttles outgoing bytes, mirroring the token-bucket
// middleware pattern used elsewhere in this codebase, so a local test
// server can stand in for a genuinely slow origin without a real network.
type HTTPRangeSource struct {
	client  *http.Client
	url     string
	limiter *rate.Limiter

	mu      sync.Mutex
	pos     int64
	size    int64
	body    io.ReadCloser
	bodyPos int64 // absolute offset the open body is positioned at
}

var _ ringbuf.Source = (*HTTPRangeSource)(nil)

// NewHTTPRangeSource probes the URL with a HEAD request to learn its size,
// then returns a source that serves ranged reads against it. limiter may be
// nil to disable throttling.
func NewHTTPRangeSource(ctx context.Context, client *http.Client, url string, limiter *rate.Limiter) (*HTTPRangeSource, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("source: build HEAD request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: HEAD %s: %w", url, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source: HEAD %s: unexpected status %s", url, resp.Status)
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return nil, fmt.Errorf("source: %s does not advertise Range support", url)
	}
	return &HTTPRangeSource{
		client:  client,
		url:     url,
		limiter: limiter,
		size:    resp.ContentLength,
	}, nil
}

func (s *HTTPRangeSource) Read(ctx context.Context, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= s.size {
		return 0, io.EOF
	}
	if s.body == nil || s.bodyPos != s.pos {
		if err := s.openBodyLocked(ctx); err != nil {
			return 0, err
		}
	}

	n, err := s.body.Read(p)
	if n > 0 {
		if s.limiter != nil {
			if waitErr := s.limiter.WaitN(ctx, n); waitErr != nil {
				s.closeBodyLocked()
				return n, waitErr
			}
		}
		s.pos += int64(n)
		s.bodyPos = s.pos
	}
	if err == io.EOF {
		s.closeBodyLocked()
		if s.pos < s.size {
			// The server closed the range response early; surface as a
			// real error rather than a premature EOS.
			return n, fmt.Errorf("source: range response ended at %d, expected %d", s.pos, s.size)
		}
	} else if err != nil {
		s.closeBodyLocked()
		return n, fmt.Errorf("source: range read: %w", err)
	}
	return n, nil
}

// openBodyLocked issues a fresh Range GET starting at s.pos. Callers hold
// s.mu.
func (s *HTTPRangeSource) openBodyLocked(ctx context.Context) error {
	s.closeBodyLocked()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("source: build GET request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", s.pos))
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("source: GET %s: %w", s.url, err)
	}
	if resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return fmt.Errorf("source: GET %s: expected 206, got %s", s.url, resp.Status)
	}
	s.body = resp.Body
	s.bodyPos = s.pos
	return nil
}

func (s *HTTPRangeSource) closeBodyLocked() {
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
}

func (s *HTTPRangeSource) Seek(_ context.Context, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 || offset > s.size {
		return fmt.Errorf("source: seek offset %d out of range [0,%d]", offset, s.size)
	}
	if offset != s.pos {
		s.closeBodyLocked() // next Read reopens at the new offset
	}
	s.pos = offset
	return nil
}

func (s *HTTPRangeSource) Tell() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *HTTPRangeSource) Size() int64       { return s.size }
func (s *HTTPRangeSource) CanSeek() bool     { return true }
func (s *HTTPRangeSource) CanFastSeek() bool { return false }

// Close releases any open range response body.
func (s *HTTPRangeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeBodyLocked()
	return nil
}
