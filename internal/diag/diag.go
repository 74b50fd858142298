// Package diag serves the diagnostics HTTP endpoints of a running
// Digi-Battle process:
//
//	GET /healthz          liveness
//	GET /readyz           readiness of the audio backend and history store
//	GET /metrics          Prometheus scrape endpoint
//	GET /session          the running exchange and the last result
//	GET /session/stream   websocket pushing /session snapshots
//	GET /history          stored exchanges, newest first (?limit=N)
//	GET /history/{id}     one stored exchange
//
// Every route is wrapped by [observe.Middleware].
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/digibattleapp/Digi-Battle/internal/exchange"
	"github.com/digibattleapp/Digi-Battle/internal/health"
	"github.com/digibattleapp/Digi-Battle/internal/history"
	"github.com/digibattleapp/Digi-Battle/internal/observe"
)

const (
	defaultStreamInterval = 250 * time.Millisecond
	shutdownTimeout       = 5 * time.Second
	maxHistoryLimit       = 1000
)

// Sessions exposes the running and last exchange. [exchange.Exchanger]
// implements it.
type Sessions interface {
	Current() (exchange.Session, bool)
	Last() *exchange.Result
}

// History lists stored exchanges. [history.Store] implements it.
type History interface {
	List(ctx context.Context, limit int) ([]history.Record, error)
	Get(ctx context.Context, id string) (*history.Record, error)
}

// SessionView is the body of GET /session and of each stream message.
type SessionView struct {
	Running bool              `json:"running"`
	Session *exchange.Session `json:"session,omitempty"`
	Last    *history.Record   `json:"last,omitempty"`
}

// Server is the diagnostics HTTP server.
type Server struct {
	addr     string
	sessions Sessions
	history  History
	checkers []health.Checker
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	log      *slog.Logger

	streamInterval time.Duration
	historyLimit   int
}

// Option configures a [Server].
type Option func(*Server)

// WithHistory serves /history from h.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithCheckers adds readiness checks to /readyz.
func WithCheckers(c ...health.Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, c...) }
}

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithGatherer sets the registry served on /metrics. Defaults to
// [prometheus.DefaultGatherer].
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithStreamInterval sets how often /session/stream pushes a snapshot.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

// WithHistoryLimit sets the default /history page size.
func WithHistoryLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// New returns a server that will listen on addr.
func New(addr string, sessions Sessions, opts ...Option) *Server {
	s := &Server{
		addr:           addr,
		sessions:       sessions,
		gatherer:       prometheus.DefaultGatherer,
		log:            slog.Default(),
		streamInterval: defaultStreamInterval,
		historyLimit:   20,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New(s.checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /session", s.handleSession)
	mux.HandleFunc("GET /session/stream", s.handleStream)
	if s.history != nil {
		mux.HandleFunc("GET /history", s.handleHistoryList)
		mux.HandleFunc("GET /history/{id}", s.handleHistoryGet)
	}
	return observe.Middleware(s.metrics)(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("diag: listen %q: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is [Server.Run] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.log.Info("diagnostics server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("diag: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("diag: shutdown: %w", err)
	}
	<-errCh
	return nil
}

func (s *Server) view() SessionView {
	var v SessionView
	if cur, ok := s.sessions.Current(); ok {
		v.Running = true
		v.Session = &cur
	}
	if last := s.sessions.Last(); last != nil {
		v.Last = last.Record()
	}
	return v
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.view())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Debug("diag: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles their close frame.
	ctx := conn.CloseRead(r.Context())
	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		if err := wsjson.Write(ctx, conn, s.view()); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	limit := s.historyLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit))
			return
		}
		limit = n
	}
	records, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.log.Error("diag: list history", "err", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.history.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, history.ErrNotFound):
		writeError(w, http.StatusNotFound, "exchange not found")
	case err != nil:
		s.log.Error("diag: get history", "err", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
