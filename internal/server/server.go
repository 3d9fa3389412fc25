// Package server exposes the entrymap HTTP surface: health checks,
// Prometheus metrics, identifier conversion and entry lookup.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/conduit-lang/entrymap/internal/orm/crud"
	"github.com/conduit-lang/entrymap/internal/orm/keys"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

// Config holds server configuration
type Config struct {
	// Address is the listen address (e.g. "localhost:9464")
	Address string

	// Metrics serves /metrics; the route is omitted when nil
	Metrics http.Handler

	// Keys converts identifiers for /keys/{key}
	Keys *keys.Converter

	// Entries serves /entries/{key}; the route is omitted when nil
	Entries EntryLookup

	Logger *zap.Logger

	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ReadHeaderTimeout time.Duration
}

// DefaultConfig returns a configuration with production timeouts
func DefaultConfig(address string) *Config {
	return &Config{
		Address:           address,
		Keys:              keys.NewConverter(true),
		Logger:            zap.NewNop(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// EntryLookup reads the attributes of the entry stored under key
type EntryLookup func(ctx context.Context, key string) (map[string][]string, error)

// Server wraps an http.Server with the entrymap routes
type Server struct {
	httpServer *http.Server
	config     *Config
	listener   net.Listener
}

// New creates a server
func New(config *Config) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("server config cannot be nil")
	}
	if config.Keys == nil {
		return nil, fmt.Errorf("key converter cannot be nil")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              config.Address,
			Handler:           NewRouter(config),
			ReadTimeout:       config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       config.IdleTimeout,
			ReadHeaderTimeout: config.ReadHeaderTimeout,
		},
		config: config,
	}, nil
}

// NewRouter builds the chi router
func NewRouter(config *Config) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(config.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if config.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", config.Metrics)
	}
	r.Get("/keys/{key}", keyHandler(config.Keys))
	if config.Entries != nil {
		r.Get("/entries/{key}", entryHandler(config.Entries, config.Logger))
	}

	return r
}

// KeyResponse is the /keys/{key} body
type KeyResponse struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	OrgScope string `json:"orgScope,omitempty"`
}

func keyHandler(converter *keys.Converter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := url.PathUnescape(chi.URLParam(r, "key"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		parsed, err := converter.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, KeyResponse{
			Key:      parsed.Key,
			Name:     parsed.Name,
			OrgScope: parsed.OrgScope,
		})
	}
}

func entryHandler(lookup EntryLookup, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := url.PathUnescape(chi.URLParam(r, "key"))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		attrs, err := lookup(r.Context(), key)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"dn": key, "attributes": attrs})
		case crud.IsNotFound(err):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case crud.IsMappingError(err), keys.IsKeyConversionError(err):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			logger.Error("entry lookup failed", zap.String("dn", key), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// Start listens and serves until Shutdown
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener
	s.config.Logger.Info("listening", zap.String("address", listener.Addr().String()))
	return s.httpServer.Serve(listener)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}
