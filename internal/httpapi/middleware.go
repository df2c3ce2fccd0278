package httpapi

import (
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// responseWriter wraps http.ResponseWriter to capture the status code for
// metrics/tracing after the handler returns, passing Flush through so SSE
// handlers downstream keep working.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// metricsMiddleware records request duration and count by method/route
// pattern/status, and (when a tracer is configured) wraps the request in
// an HTTP server span — the chi route pattern, not the raw path, is used
// for the label so templated routes like /config/providers/{name}/models
// don't explode metric cardinality per provider name.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		if s.tracer != nil {
			ctx, span := s.tracer.TraceHTTPRequest(r.Context(), r.Method, r.URL.Path)
			defer span.End()
			r = r.WithContext(ctx)
		}

		next.ServeHTTP(wrapped, r)

		if s.metrics != nil {
			duration := s.now().Sub(start).Seconds()
			pattern := routePattern(r)
			status := strconv.Itoa(wrapped.status)
			s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, pattern, status).Observe(duration)
			s.metrics.HTTPRequestCounter.WithLabelValues(r.Method, pattern, status).Inc()
		}
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// rateLimitMiddleware enforces s.limiter's token bucket per client IP before
// a request reaches its handler. A nil limiter (RateLimit.Enabled == false)
// leaves every request through unmodified.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := clientIP(r)
		if !s.limiter.Allow(key) {
			w.Header().Set("Retry-After", strconv.Itoa(int(s.limiter.WaitTime(key).Seconds())+1))
			writeErrorStatus(w, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the request's source IP, stripping the port RemoteAddr
// carries; falls back to the raw value if it isn't a host:port pair (e.g.
// under some test transports).
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
