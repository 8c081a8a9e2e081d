package metrics

import (
	"net/http"
	"strconv"
	"time"

	"ms-booking/internal/logger"

	"github.com/go-chi/chi/v5"
)

// Middleware records count, latency and in-flight gauge per chi route pattern
// and writes one API log line per request.
func Middleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			HTTPRequestsInFlight.Inc()
			defer HTTPRequestsInFlight.Dec()

			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			defer func() {
				path := r.URL.Path
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					path = rctx.RoutePattern()
				}
				elapsed := time.Since(start)
				status := strconv.Itoa(ww.status)
				HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
				HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(elapsed.Seconds())
				log.LogAPI(r.Method, r.URL.Path, status, elapsed.Round(time.Microsecond).String())
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
