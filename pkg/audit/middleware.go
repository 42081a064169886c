package audit

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/latticehq/lattice/pkg/contextkeys"
	"github.com/latticehq/lattice/pkg/identity"
	"github.com/latticehq/lattice/pkg/observability"
	"github.com/latticehq/lattice/pkg/tenant"
)

const (
	// maxBodyRead caps how much of a request body is read for
	// auditing. Bodies past this are not captured at all.
	maxBodyRead = 1 << 20

	// maxBodyStored caps how much of a captured body is persisted
	maxBodyStored = 4 << 10

	truncationMarker = "...[truncated]"
)

// skippedPrefixes are not request-audited: probes, scrape targets and
// static assets would dominate the log without telling anyone anything.
var skippedPrefixes = []string{"/health", "/metrics", "/static"}

// Middleware records every handled request to the request audit log.
// Recording happens after the response is written and never affects
// the response itself.
type Middleware struct {
	store   *Store
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewMiddleware creates the request audit middleware. metrics may be
// nil.
func NewMiddleware(store *Store, logger *observability.Logger, metrics *observability.Metrics) *Middleware {
	return &Middleware{store: store, logger: logger, metrics: metrics}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Handler wraps next with request auditing
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.shouldSkip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		body := m.captureBody(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		record := m.buildRecord(r, wrapped.statusCode, body, time.Since(start))

		// The response is already on the wire; request cancellation
		// must not lose the record.
		if err := m.store.InsertRequest(context.WithoutCancel(r.Context()), record); err != nil {
			m.logger.WithError(err).Error("failed to write request audit record")
			if m.metrics != nil {
				m.metrics.AuditWriteFailuresTotal.WithLabelValues("request").Inc()
			}
			return
		}
		if m.metrics != nil {
			m.metrics.AuditRequestsWrittenTotal.Inc()
		}
	})
}

func (m *Middleware) shouldSkip(path string) bool {
	for _, prefix := range skippedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// captureBody reads and restores the request body when it is JSON and
// small enough to bother with. The stored copy is capped and marked
// when cut short.
func (m *Middleware) captureBody(r *http.Request) string {
	if r.Body == nil || r.ContentLength == 0 {
		return ""
	}
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return ""
	}
	if r.ContentLength > maxBodyRead {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyRead))
	if err != nil {
		return ""
	}
	r.Body = io.NopCloser(bytes.NewReader(data))

	if len(data) > maxBodyStored {
		return string(data[:maxBodyStored]) + truncationMarker
	}
	return string(data)
}

func (m *Middleware) buildRecord(r *http.Request, status int, body string, duration time.Duration) *Request {
	record := &Request{
		ID:          uuid.New(),
		RequestID:   contextkeys.GetRequestID(r.Context()),
		Method:      r.Method,
		Path:        r.URL.Path,
		QueryString: r.URL.RawQuery,
		Body:        body,
		StatusCode:  status,
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
		DurationMs:  duration.Milliseconds(),
		DateUTC:     time.Now().UTC(),
	}

	current := identity.FromContext(r.Context())
	if current.IsAuthenticated() {
		if userID, err := current.UserID(); err == nil {
			record.UserID = &userID
		}
		if admin, err := current.ImpersonatedBy(); err == nil {
			record.ImpersonatedBy = admin
		}
	}
	if path, ok := current.SelectedTenantPath(); ok {
		record.TenantPath = &path
	} else if raw := r.Header.Get(identity.TenantPathHeader); raw != "" {
		if path, err := tenant.ParsePath(raw); err == nil {
			record.TenantPath = &path
		}
	}

	return record
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if i := strings.IndexByte(forwarded, ','); i >= 0 {
			return strings.TrimSpace(forwarded[:i])
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
