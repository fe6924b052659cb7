// Package server assembles the admin HTTP server: router, middleware
// chain, health and version endpoints, and the job queue API.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/runveil/codeq/internal/errors"
	"github.com/runveil/codeq/internal/server/handlers"
	"github.com/runveil/codeq/internal/server/middleware"
)

// adminTokenEnv guards the signal endpoint. When unset, the endpoint is
// not registered at all.
const adminTokenEnv = "CODEQ_ADMIN_TOKEN"

// SignalFunc handles an admin signal request: "stop" drains the queue,
// "kill" aborts running jobs.
type SignalFunc func(signal string) error

// Server is the admin HTTP server.
type Server struct {
	host string
	port int

	log    *zap.Logger
	jobs   *handlers.JobsHandler
	signal SignalFunc

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	mux     *chi.Mux
	httpSrv *http.Server
}

// New creates a server bound to host:port with the default middleware
// chain. Health and version routes are always mounted; job routes appear
// once MountJobs is called.
func New(host string, port int) *Server {
	s := &Server{
		host:         host,
		port:         port,
		log:          zap.NewNop(),
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	s.rebuild()
	return s
}

// WithLogger sets the request logger.
func (s *Server) WithLogger(log *zap.Logger) *Server {
	if log != nil {
		s.log = log
	}
	s.rebuild()
	return s
}

// WithTimeouts sets the HTTP server timeouts. Zero values keep the
// previous setting.
func (s *Server) WithTimeouts(read, write, idle time.Duration) *Server {
	if read > 0 {
		s.readTimeout = read
	}
	if write > 0 {
		s.writeTimeout = write
	}
	if idle > 0 {
		s.idleTimeout = idle
	}
	return s
}

// MountJobs attaches the job queue API under /api/v1/jobs.
func (s *Server) MountJobs(h *handlers.JobsHandler) *Server {
	s.jobs = h
	s.rebuild()
	return s
}

// WithSignal enables the token-guarded admin signal endpoint.
func (s *Server) WithSignal(f SignalFunc) *Server {
	s.signal = f
	s.rebuild()
	return s
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Handler returns the assembled router.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) rebuild() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging(s.log))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req,
			apperrors.NewNotFound(fmt.Sprintf("no route for %s %s", req.Method, req.URL.Path)))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, &apperrors.AppError{
			Code:    apperrors.CodeMethodNotAllowed,
			Status:  http.StatusMethodNotAllowed,
			Message: fmt.Sprintf("method %s not allowed for %s", req.Method, req.URL.Path),
		})
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if s.jobs != nil {
		r.Route("/api/v1/jobs", s.jobs.Routes)
	}

	s.registerAdminEndpoint(r)
	s.mux = r
}

// registerAdminEndpoint mounts POST /admin/signal when both a token and a
// signal handler exist. Without a token the endpoint does not exist, so an
// unconfigured deployment exposes no control surface.
func (s *Server) registerAdminEndpoint(r *chi.Mux) {
	token := strings.TrimSpace(os.Getenv(adminTokenEnv))
	if token == "" || s.signal == nil {
		return
	}

	r.Post("/admin/signal", func(w http.ResponseWriter, req *http.Request) {
		got := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			apperrors.RespondWithError(w, req, &apperrors.AppError{
				Code:    "UNAUTHORIZED",
				Status:  http.StatusUnauthorized,
				Message: "invalid admin token",
			})
			return
		}

		var body struct {
			Signal string `json:"signal"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			apperrors.RespondWithError(w, req, apperrors.NewBadRequest("malformed signal body"))
			return
		}

		if err := s.signal(strings.ToLower(strings.TrimSpace(body.Signal))); err != nil {
			apperrors.RespondWithError(w, req, apperrors.NewBadRequest(err.Error()))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted", "signal": body.Signal})
	})
}

// Serve blocks until the listener fails or Shutdown is called.
func (s *Server) Serve() error {
	s.httpSrv = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.mux,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
