package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/models"
)

// ReadingProcessor is the part of the processor the API exposes
type ReadingProcessor interface {
	Process(ctx context.Context, event models.Event) (models.Result, error)
	CurrentSummary(ctx context.Context, machineID string) (models.SummaryRow, bool, error)
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP listener of the service
type Server struct {
	HTTP *http.Server
	Log  *slog.Logger
}

// NewServer wires the routes. ingest controls whether POST /v1/readings is
// registered, so HTTP can be disabled as a trigger while still serving reads.
func NewServer(addr string, log *slog.Logger, h *Handlers, metrics http.Handler, ingest bool) *Server {
	return &Server{
		HTTP: &http.Server{
			Addr:              addr,
			Handler:           handlers.LoggingHandler(os.Stdout, NewRouter(h, metrics, ingest)),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Log: log,
	}
}

// NewRouter builds the route table
func NewRouter(h *Handlers, metrics http.Handler, ingest bool) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/v1/machines/{machineId}/summary", h.Summary).Methods(http.MethodGet)
	if ingest {
		r.HandleFunc("/v1/readings", h.Ingest).Methods(http.MethodPost)
	}
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	return r
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.Log.Info("http server starting", "addr", s.HTTP.Addr)
	if err := s.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.Log.Info("http server stopping")
	return s.HTTP.Shutdown(ctx)
}
