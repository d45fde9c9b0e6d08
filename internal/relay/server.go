// Package relay is the signaling relay: it forwards call signaling envelopes
// between the members of a room and never inspects or carries media.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds relay server settings.
type Config struct {
	Addr string

	// AllowedOrigins restricts browser origins. Empty allows all; requests
	// without an Origin header (native clients) are always accepted.
	AllowedOrigins []string

	// RateLimit is the sustained messages per second allowed per connection.
	RateLimit float64
	Burst     int

	// SendQueue is the per-connection outbound buffer.
	SendQueue int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Addr:      ":8080",
		RateLimit: 50,
		Burst:     100,
		SendQueue: 256,
	}
}

// Server serves the relay websocket endpoint plus health and metrics.
type Server struct {
	cfg      Config
	hub      *Hub
	metrics  *prometheus.Registry
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a relay server. Nothing runs until Run or Hub().Run.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = def.SendQueue
	}

	s := &Server{
		cfg:     cfg,
		hub:     NewHub(logger),
		metrics: prometheus.NewRegistry(),
		logger:  logger,
	}
	s.hub.RegisterMetrics(s.metrics)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  maxMessageSize,
		WriteBufferSize: maxMessageSize,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP routes of the relay.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthCheckHandler)
	mux.HandleFunc("/ws", s.serveWs)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	return mux
}

// Run starts the hub and listens on cfg.Addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting signaling relay", "addr", s.cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling relay is healthy."))
}

// serveWs upgrades the request and hands the connection to the hub.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	client := newClient(s.hub, conn, s.cfg)
	if !s.hub.add(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin)
}
