package apihttp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ringstream/internal/ringbuf"
	"ringstream/internal/stream"
	"ringstream/internal/telemetry"
)

// handleStream serves a byte-range request against the session's
// ring-buffer Filter, the same Range-header contract handleStreamTorrent
// serves against a torrent piece reader: HEAD returns headers only, a
// Range request seeks the Filter and copies exactly the requested span, a
// plain GET copies the whole stream from the current position.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionID == "" {
		sessionID = "default"
	}

	ctx, span := telemetry.Tracer().Start(r.Context(), "stream.Read",
		trace.WithAttributes(attribute.String("session", sessionID)))
	defer span.End()
	r = r.WithContext(ctx)

	sess, err := s.sessions.getOrOpen(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, errNoSourceConfigured) {
			writeError(w, http.StatusServiceUnavailable, "no_source", "no source configured")
			return
		}
		writeError(w, http.StatusBadGateway, "source_error", err.Error())
		return
	}
	filter := sess.filter

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Accept-Ranges", "bytes")

	size := filter.Size()

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		s.copyStream(w, sessionID, filter, size)
		return
	}

	start, end, err := parseByteRange(rangeHeader, size)
	if errors.Is(err, errInvalidRange) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid range")
		return
	}
	if errors.Is(err, errRangeNotSatisfiable) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	if !filter.CanSeek() && start != filter.Position() {
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "unsupported", "source does not support seeking")
		return
	}
	if _, err := filter.Seek(start, io.SeekStart); err != nil {
		if errors.Is(err, ringbuf.ErrUnsupported) {
			writeError(w, http.StatusRequestedRangeNotSatisfiable, "unsupported", "source does not support seeking")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to seek stream")
		return
	}

	length := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	if _, err := io.CopyN(w, filter, length); err != nil {
		s.logger.Debug("stream range copy interrupted",
			slog.String("session", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Server) copyStream(w http.ResponseWriter, sessionID string, filter *stream.Filter, size int64) {
	if _, err := io.CopyN(w, filter, size-filter.Position()); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Debug("stream copy interrupted",
			slog.String("session", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

// handleStreamClose tears down a session's Filter and underlying source
// explicitly, rather than waiting for the process to exit. DELETE
// /stream/close?session=...
func (s *Server) handleStreamClose(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionID == "" {
		sessionID = "default"
	}
	s.sessions.close(r.Context(), sessionID)
	w.WriteHeader(http.StatusNoContent)
}
