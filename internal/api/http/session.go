package apihttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ringstream/internal/audit"
	"ringstream/internal/metrics"
	"ringstream/internal/ringbuf"
	"ringstream/internal/ringcfg"
	"ringstream/internal/source"
	"ringstream/internal/stream"
)

var errNoSourceConfigured = errors.New("apihttp: no source URL configured")

// session pairs a ring-buffer Filter with the source it wraps, keyed so a
// single server process can stream several ranges of the same object to
// different clients concurrently without one client's Seek disturbing
// another's read cursor.
type session struct {
	id     string
	filter *stream.Filter
	closer io.Closer
	opened time.Time
}

// sessionManager creates and tracks one Filter per session id, opening the
// configured source fresh for each new session and tearing it down when
// the session is closed.
type sessionManager struct {
	cfg        ringcfg.Config
	log        *slog.Logger
	auditLog   *audit.Log
	limiter    *rate.Limiter
	httpClient *http.Client

	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionManager(cfg ringcfg.Config, log *slog.Logger, auditLog *audit.Log) *sessionManager {
	return &sessionManager{
		cfg:        cfg,
		log:        log,
		auditLog:   auditLog,
		limiter:    sourceRateLimiter(cfg.SourceRateBytesPerSec, cfg.RingBuf.StepRead),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sessions:   make(map[string]*session),
	}
}

// sourceRateLimiter builds the limiter HTTPRangeSource throttles its reads
// against. bytesPerSec == 0 (the default) means unlimited: rate.Inf never
// blocks regardless of burst, matching an unconfigured origin with no
// known bandwidth cap. A configured limit gets a burst of at least one
// STEP_READ chunk, since WaitN rejects any request larger than the burst
// size outright rather than just making it wait longer.
func sourceRateLimiter(bytesPerSec, stepRead int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := bytesPerSec
	if stepRead > burst {
		burst = stepRead
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), int(burst))
}

// getOrOpen returns the session named by id, opening a new source and
// Filter against cfg.SourceURL if this is the first request to see it.
func (m *sessionManager) getOrOpen(ctx context.Context, id string) (*session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	if strings.TrimSpace(m.cfg.SourceURL) == "" {
		return nil, errNoSourceConfigured
	}
	src, closer, err := m.buildSource(ctx, m.cfg.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("apihttp: open source: %w", err)
	}
	filter, err := stream.Open(src, m.cfg.RingBuf, m.log)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("apihttp: open filter: %w", err)
	}

	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		filter.Close()
		if closer != nil {
			closer.Close()
		}
		return existing, nil
	}
	s := &session{id: id, filter: filter, closer: closer, opened: time.Now()}
	m.sessions[id] = s
	m.mu.Unlock()

	metrics.ActiveFilters.Inc()
	m.auditLog.Record(ctx, audit.Event{SessionID: id, Kind: audit.EventOpened, Detail: m.cfg.SourceURL})
	return s, nil
}

// buildSource picks a concrete ringbuf.Source from the URL scheme. Only
// http and https are handled, through HTTPRangeSource; any other scheme
// (including mem:// and Azure blob URLs) is rejected with an error.
func (m *sessionManager) buildSource(ctx context.Context, rawURL string) (ringbuf.Source, io.Closer, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse source url: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https":
		src, err := source.NewHTTPRangeSource(ctx, m.httpClient, rawURL, m.limiter)
		if err != nil {
			return nil, nil, err
		}
		return src, src, nil
	default:
		return nil, nil, fmt.Errorf("unsupported source scheme %q", parsed.Scheme)
	}
}

func (m *sessionManager) close(ctx context.Context, id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	s.filter.Close()
	if s.closer != nil {
		s.closer.Close()
	}
	metrics.ActiveFilters.Dec()
	m.auditLog.Record(ctx, audit.Event{SessionID: id, Kind: audit.EventClosed})
}

// positions snapshots the position/cachedSize/size of every open session,
// for the websocket position pusher.
func (m *sessionManager) positions() []positionUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	updates := make([]positionUpdate, 0, len(m.sessions))
	for id, s := range m.sessions {
		updates = append(updates, positionUpdate{
			Session:    id,
			Position:   s.filter.Position(),
			CachedSize: s.filter.CachedSize(),
			Size:       s.filter.Size(),
		})
	}
	return updates
}

// drainAuditEvents forwards every seek-classification/error/EOS event
// queued on each open session's Filter into the audit log, tagged with the
// session id. Called from the same ticker that pushes positions to
// websocket clients, so it shares that cadence rather than running its own.
func (m *sessionManager) drainAuditEvents(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		for _, ev := range s.filter.DrainEvents() {
			m.auditLog.Record(ctx, audit.Event{
				SessionID: s.id,
				Kind:      audit.EventKind(ev.Kind),
				Offset:    ev.Offset,
			})
		}
	}
}

func (m *sessionManager) closeAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.filter.Close()
		if s.closer != nil {
			s.closer.Close()
		}
	}
}
