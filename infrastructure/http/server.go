// Package http wires the JSON API. Authentication happens upstream at the
// gateway; requests arrive with identity headers this layer turns into an
// actor.
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"grndock/infrastructure/audit"
	"grndock/infrastructure/authz"
	"grndock/infrastructure/barcode"
	"grndock/infrastructure/erp"
	"grndock/infrastructure/fault"
	"grndock/infrastructure/sqlite"
	"grndock/infrastructure/web"
)

var ShutdownTimeout = 2 * time.Second

// Server bundles dependencies and route wiring.
type Server struct {
	Addr   string
	ln     net.Listener
	server *http.Server
	router *chi.Mux

	DB      *sqlite.DB
	ERP     erp.Client
	Encoder barcode.Encoder
	Audit   *audit.Service
}

// NewServer creates the API server with its middleware stack and routes.
func NewServer(addr string, db *sqlite.DB, erpc erp.Client, enc barcode.Encoder, auditSvc *audit.Service) *Server {
	s := &Server{
		Addr:    addr,
		router:  chi.NewRouter(),
		DB:      db,
		ERP:     erpc,
		Encoder: enc,
		Audit:   auditSvc,
		server: &http.Server{
			MaxHeaderBytes: 1 << 20,
		},
	}

	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			next.ServeHTTP(w, r)
		})
	})

	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Compress(5))

	s.router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Group(func(r chi.Router) {
		r.Route("/api", func(r chi.Router) {
			r.Use(s.ActorMiddleware)
			s.RegisterGRPORoutes(r)
			s.RegisterMultiGRNRoutes(r)
		})
	})

	s.server.Handler = s.router
	return s
}

// ActorMiddleware turns gateway identity headers into the request actor.
// Requests without an identity are rejected before any handler runs.
func (s *Server) ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idHeader := r.Header.Get("X-Actor-Id")
		userID, err := strconv.ParseInt(idHeader, 10, 64)
		if err != nil || userID <= 0 {
			web.RespondError(w, fault.New(fault.Authorization, "missing or invalid actor identity"))
			return
		}
		actor := authz.Actor{
			ID:          userID,
			Username:    r.Header.Get("X-Actor-Name"),
			Role:        r.Header.Get("X-Actor-Role"),
			Permissions: authz.ParsePermissions(r.Header.Get("X-Actor-Perms")),
		}
		ctx := authz.NewContext(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	var err error
	if s.ln, err = net.Listen("tcp", s.Addr); err != nil {
		return err
	}
	go s.server.Serve(s.ln)
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.ln == nil {
		return fmt.Errorf("HTTP server has not been started or is already stopped")
	}
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}
	s.ln = nil
	return nil
}
