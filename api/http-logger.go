package api

// this code based on https://github.com/unrolled/logger, trimmed to
// what the control API needs

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"os"
)

// HTTPLogger can be used to log http requests
type HTTPLogger struct {
	prefix string
	*log.Logger
}

// NewHTTPLogger returns a http logger
func NewHTTPLogger(prefix string) *HTTPLogger {
	return &HTTPLogger{
		prefix: prefix,
		Logger: log.New(os.Stdout, prefix, 0),
	}
}

// Handler wraps an HTTP handler and logs the request and response
func (l *HTTPLogger) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody bytes.Buffer
		if r.Body != nil {
			_, _ = reqBody.ReadFrom(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(reqBody.Bytes()))
		}

		crw := newCustomResponseWriter(w)
		next.ServeHTTP(crw, r)

		l.Printf("(%s) \"%s %s\" %d -> %v -> %v", r.RemoteAddr, r.Method,
			r.RequestURI, crw.status, reqBody.String(), crw.buf.String())
	})
}

type customResponseWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (c *customResponseWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *customResponseWriter) Write(b []byte) (int, error) {
	size, err := c.ResponseWriter.Write(b)
	c.buf.Write(b)
	return size, err
}

func newCustomResponseWriter(w http.ResponseWriter) *customResponseWriter {
	// When WriteHeader is not called, it's safe to assume the status will be 200.
	return &customResponseWriter{
		ResponseWriter: w,
		status:         200,
	}
}
