package server

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

func (s *Server) read(next http.HandlerFunc) http.HandlerFunc {
	return s.limit(s.readLimiter, next)
}

func (s *Server) write(next http.HandlerFunc) http.HandlerFunc {
	return s.limit(s.writeLimiter, next)
}

func (s *Server) limit(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		fields := []interface{}{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr,
		}
		if rec.status >= http.StatusInternalServerError {
			s.logger.Sugar().Warnw("Request failed", fields...)
			return
		}
		s.logger.Sugar().Debugw("Request served", fields...)
	})
}
