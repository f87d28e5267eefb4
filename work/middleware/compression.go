package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"livetv-hub/work/logger"
)

// gzipWriterPool reuses gzip writers across responses. BestSpeed favors
// latency over ratio; guide and playlist payloads compress well regardless.
var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	},
}

// gzipResponseWriter routes body writes through a gzip writer while leaving
// header access on the original ResponseWriter.
type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
	wroteHeader bool
}

func (w *gzipResponseWriter) WriteHeader(status int) {
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.Writer.Write(b)
}

// Flush drains the gzip buffer and then the underlying writer, so server-sent
// change events reach the client incrementally.
func (w *gzipResponseWriter) Flush() {
	if gzw, ok := w.Writer.(*gzip.Writer); ok {
		gzw.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Gzip transparently compresses responses for clients that advertise gzip
// support. Clients without it pass through untouched.
func Gzip(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		// compressed size is unknown until the body is fully written
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")

		gz := gzipWriterPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			if err := gz.Close(); err != nil {
				logger.Error("{middleware/compression - Gzip} close gzip writer for %s %s: %v",
					r.Method, r.URL.Path, err)
			}
			gzipWriterPool.Put(gz)
		}()

		next.ServeHTTP(&gzipResponseWriter{Writer: gz, ResponseWriter: w}, r)
	})
}
