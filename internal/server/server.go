package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/pioneer-control/internal/dispatch"
	"github.com/roman-kulish/pioneer-control/internal/telemetry"
)

const (
	DefaultAddress           = ":41017"
	DefaultIndexPage         = "pioneer.html"
	DefaultTelemetryInterval = time.Second

	maxBodySize = 64 << 10
)

var ErrAlreadyStarted = errors.New("server is already started")

const notFoundPage = `<!DOCTYPE html>
<html>
<head><title>Pioneer control</title></head>
<body><h1>Control page not found</h1><p>Use <code>/?action=status</code> or the <code>/control</code> socket.</p></body>
</html>
`

// Handler dispatches a single action
type Handler interface {
	Handle(ctx context.Context, action string, params dispatch.Params) dispatch.Result
}

// WithLogger sets the logger for the server
func WithLogger(logger *slog.Logger) func(*Server) {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "http"))
	}
}

// WithIndexPage sets the HTML control page served on a bare GET /
func WithIndexPage(path string) func(*Server) {
	return func(s *Server) {
		s.indexPage = path
	}
}

// WithTelemetry enables the /telemetry socket pushing snapshots at the given interval
func WithTelemetry(provider telemetry.Provider, interval time.Duration) func(*Server) {
	return func(s *Server) {
		if interval <= 0 {
			interval = DefaultTelemetryInterval
		}
		s.broadcaster = newBroadcaster(provider, interval)
	}
}

// Server is the HTTP facade in front of the dispatcher
type Server struct {
	handler   Handler
	indexPage string

	httpServer  *http.Server
	controller  controller
	broadcaster *broadcaster

	started atomic.Bool
	done    chan struct{}
	once    sync.Once

	logger *slog.Logger
}

// NewServer creates a new Server with a discard logger
func NewServer(addr string, handler Handler, options ...func(*Server)) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	s := Server{
		handler:   handler,
		indexPage: DefaultIndexPage,
		done:      make(chan struct{}),
		logger:    logger,
	}

	for _, option := range options {
		option(&s)
	}

	if s.broadcaster != nil {
		s.broadcaster.logger = s.logger
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &s
}

// Handler returns the request multiplexer
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/control", s.handleControl)
	if s.broadcaster != nil {
		mux.Handle("/telemetry", s.broadcaster.handler())
	}
	return mux
}

// Start binds the listen address and serves in the background until Shutdown
func (s *Server) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	if s.broadcaster != nil {
		s.broadcaster.start(ctx)
	}

	go func() {
		defer close(s.done)

		s.logger.Info("listening", slog.String("address", listener.Addr().String()))
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(fmt.Sprintf("serving: %s", err.Error()))
		}
	}()

	return nil
}

// Done is closed when the serving loop has returned
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Shutdown stops accepting requests, closes open sockets and waits for
// in-flight requests to complete. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.controller.close()
		if s.broadcaster != nil {
			s.broadcaster.stop()
		}

		if err = s.httpServer.Shutdown(ctx); err != nil {
			err = fmt.Errorf("shutting down http server: %w", err)
		}

		if !s.started.Load() {
			close(s.done)
		}
		s.logger.Info("http server stopped")
	})
	return err
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		query := r.URL.Query()
		if len(query) == 0 {
			s.servePage(w)
			return
		}
		s.dispatch(w, r, flatten(query))

	case http.MethodPost:
		params, err := parseBody(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.dispatch(w, r, params)

	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, params dispatch.Params) {
	action := params["action"]
	delete(params, "action")

	res := s.handler.Handle(r.Context(), action, params)
	s.logger.Debug("action",
		slog.String("action", res.Action),
		slog.Bool("result", res.Result),
		slog.String("remote", r.RemoteAddr))

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		s.logger.Warn(fmt.Sprintf("encoding response: %s", err.Error()))
	}
}

// servePage serves the control page from the configured path, falling back
// to the parent directory.
func (s *Server) servePage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	for _, path := range []string{s.indexPage, filepath.Join("..", filepath.Base(s.indexPage))} {
		page, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		_, _ = w.Write(page)
		return
	}

	s.logger.Warn("control page not found", slog.String("path", s.indexPage))
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, notFoundPage)
}

// parseBody merges a JSON object or form body over the query parameters
func parseBody(w http.ResponseWriter, r *http.Request) (dispatch.Params, error) {
	params := flatten(r.URL.Query())

	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var fields map[string]any
		if err := json.NewDecoder(body).Decode(&fields); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decoding body: %w", err)
		}
		for k, v := range fields {
			params[k] = stringify(v)
		}
		return params, nil
	}

	r.Body = body
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parsing form: %w", err)
	}
	for k, v := range flatten(r.PostForm) {
		params[k] = v
	}
	return params, nil
}

func flatten(values map[string][]string) dispatch.Params {
	params := make(dispatch.Params, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}

func stringify(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		raw, _ := json.Marshal(v)
		return string(raw)
	}
}
