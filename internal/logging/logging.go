// Package logging builds the logrus logger and the request logging middleware.
package logging

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
)

const RequestIDHeader = "X-Request-ID"

type Options struct {
	Level      string
	Format     string // text or json
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a logger writing to stdout, and also to a rotating file when
// opts.File is set. The returned closer releases the file.
func New(opts Options) (*logrus.Logger, io.Closer) {
	log := logrus.New()
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if opts.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rotating))
		closer = rotating
	} else {
		log.SetOutput(os.Stdout)
	}
	return log, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type ctxKey struct{}

var fallback = logrus.NewEntry(logrus.StandardLogger())

// WithEntry stores a request-scoped entry.
func WithEntry(ctx context.Context, e *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, e)
}

// FromContext returns the request entry, or the standard logger outside requests.
func FromContext(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if e, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok {
			return e
		}
	}
	return fallback
}

// Middleware tags each request with an id and logs it once finished.
func Middleware(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			entry := log.WithField("request_id", id)

			rec := &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(WithEntry(r.Context(), entry)))

			fields := logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.Status,
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       rec.Bytes,
			}
			switch {
			case rec.Status >= 500:
				entry.WithFields(fields).Error("request failed")
			case rec.Status >= 400:
				entry.WithFields(fields).Warn("request rejected")
			default:
				entry.WithFields(fields).Info("request")
			}
		})
	}
}

// StatusRecorder captures the status code and body size. It forwards
// Hijack and Flush so websockets keep working behind it.
type StatusRecorder struct {
	http.ResponseWriter
	Status      int
	Bytes       int
	wroteHeader bool
}

func (s *StatusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.Status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *StatusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	n, err := s.ResponseWriter.Write(b)
	s.Bytes += n
	return n, err
}

func (s *StatusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("logging: response writer does not support hijacking")
	}
	s.Status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *StatusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *StatusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
