// Package httpapi serves relay health and connection status over HTTP.
package httpapi

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/roelfdiedericks/clawrelay/internal/bus"
	"github.com/roelfdiedericks/clawrelay/internal/channels"
	. "github.com/roelfdiedericks/clawrelay/internal/logging"
)

// StatusSource reports the current state of every surface.
type StatusSource interface {
	Status() map[string]channels.ChannelStatus
}

// Server represents the status HTTP server
type Server struct {
	server      *http.Server
	source      StatusSource
	bus         *bus.Bus
	token       string
	authLimiter *authLimiter
	version     string

	wg       sync.WaitGroup
	shutdown chan struct{}
	stopOnce sync.Once
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Listen  string   // Address to listen on (e.g., "127.0.0.1:3379")
	Token   string   // Bearer token; empty disables auth
	Version string   // Reported by /healthz
	Bus     *bus.Bus // Status events for /status/ws; defaults to bus.Default
}

// NewServer creates a new HTTP server instance
func NewServer(cfg ServerConfig, source StatusSource) *Server {
	listen := cfg.Listen
	if listen == "" {
		listen = "127.0.0.1:3379"
	}
	b := cfg.Bus
	if b == nil {
		b = bus.Default
	}

	s := &Server{
		source:      source,
		bus:         b,
		token:       cfg.Token,
		authLimiter: newAuthLimiter(10 * time.Second),
		version:     cfg.Version,
		shutdown:    make(chan struct{}),
	}
	s.server = &http.Server{
		Addr:              listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Apply middleware chain: logging -> strip headers -> auth
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return s.logRequest(s.stripHeaders(s.tokenAuth(h)))
	}

	mux.HandleFunc("/healthz", s.logRequest(s.stripHeaders(s.handleHealth)))
	mux.HandleFunc("/status", wrap(s.handleStatus))
	mux.HandleFunc("/status/ws", wrap(s.handleStatusStream))

	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		L_info("http: server starting", "addr", ln.Addr().String())

		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L_error("http: server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.stopOnce.Do(func() { close(s.shutdown) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		L_error("http: shutdown error", "error", err)
		return err
	}

	s.wg.Wait()
	L_info("http: server stopped")
	return nil
}

// logRequest wraps an HTTP handler to log requests
func (s *Server) logRequest(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(lw, r)

		L_trace("http: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.statusCode,
			"duration", time.Since(start))
	}
}

// loggingResponseWriter wraps ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController (and the websocket upgrader) reach
// the underlying writer.
func (lw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lw.ResponseWriter
}

// Hijack passes through for websocket upgrades.
func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http: response writer does not support hijacking")
	}
	return h.Hijack()
}

// stripHeaders removes fingerprinting headers
func (s *Server) stripHeaders(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("Server")
		w.Header().Del("X-Powered-By")

		handler(w, r)
	}
}
