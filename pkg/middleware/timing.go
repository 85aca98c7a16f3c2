package middleware

import (
	"bytes"
	"net/http"
	"time"
)

// MinResponseTime returns middleware that holds every response until at least
// floor has elapsed since the request arrived. Responses are buffered so the
// client observes neither headers nor body early. This flattens the timing
// difference between cheap rejections and full credential checks; a floor
// of zero disables it.
func MinResponseTime(floor time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if floor <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			bw := &bufferedResponseWriter{header: make(http.Header), status: http.StatusOK}
			next.ServeHTTP(bw, r)

			if remaining := floor - time.Since(start); remaining > 0 {
				select {
				case <-time.After(remaining):
				case <-r.Context().Done():
				}
			}

			dst := w.Header()
			for key, values := range bw.header {
				dst[key] = values
			}
			w.WriteHeader(bw.status)
			_, _ = w.Write(bw.body.Bytes())
		})
	}
}

// bufferedResponseWriter captures the full response in memory.
type bufferedResponseWriter struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func (w *bufferedResponseWriter) Header() http.Header {
	return w.header
}

func (w *bufferedResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
}

func (w *bufferedResponseWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(p)
}
