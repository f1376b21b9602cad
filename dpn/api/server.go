package api

import (
	"context"
	"errors"
	"fmt"
	"github.com/APTrust/dpn-registry/dpn"
	"github.com/APTrust/dpn-registry/dpn/models"
	"github.com/APTrust/dpn-registry/dpn/replication"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/op/go-logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"time"
)

// NodeDirectory is the read side of the node registry.
type NodeDirectory interface {
	Resolve(ctx context.Context, credential string) (*models.Node, error)
	GetNode(ctx context.Context, namespace string) (*models.Node, error)
	ListNodes(ctx context.Context) ([]*models.Node, error)
}

// Server exposes the DPN REST API for replication transfers and
// nodes. Every replication write goes through the Updater.
type Server struct {
	APIVersion string
	updater    *replication.Updater
	nodes      NodeDirectory
	gatherer   prometheus.Gatherer
	log        *logging.Logger
	router     chi.Router
}

// NewServer builds the router. If gatherer is nil, /metrics is
// not served.
func NewServer(updater *replication.Updater, nodes NodeDirectory, apiVersion string, gatherer prometheus.Gatherer, log *logging.Logger) *Server {
	if apiVersion == "" {
		apiVersion = dpn.DEFAULT_API_VERSION
	}
	server := &Server{
		APIVersion: apiVersion,
		updater:    updater,
		nodes:      nodes,
		gatherer:   gatherer,
		log:        log,
	}
	server.router = server.routes()
	return server
}

func (server *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(server.recoverer)
	r.Use(server.requestLogger)
	r.Use(middleware.StripSlashes)

	r.Get("/health", server.handleHealth)
	if server.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(server.gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/"+server.APIVersion, func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))
		r.Get("/replicate", server.handleReplicationList)
		r.Post("/replicate", server.handleReplicationCreate)
		r.Get("/replicate/{replication_id}", server.handleReplicationGet)
		r.Post("/replicate/{replication_id}", server.handleReplicationCreate)
		r.Put("/replicate/{replication_id}", server.handleReplicationUpdate)
		r.Get("/node", server.handleNodeList)
		r.Get("/node/{namespace}", server.handleNodeGet)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No route for %s", r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("%s not allowed on %s", r.Method, r.URL.Path))
	})
	return r
}

// ServeHTTP lets the server be used directly as an http.Handler.
func (server *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	server.router.ServeHTTP(w, r)
}

// ListenAndServe serves on address until ctx is cancelled, then
// waits up to ten seconds for in-flight requests to finish.
func (server *Server) ListenAndServe(ctx context.Context, address string) error {
	httpServer := &http.Server{
		Addr:              address,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		server.log.Info("DPN registry for node %s listening on %s",
			server.updater.LocalNodeName(), address)
		errc <- httpServer.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	server.log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (server *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		server.log.Debug("[%s] %s %s %d %s", middleware.GetReqID(r.Context()),
			r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

func (server *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				server.log.Critical("Panic handling %s %s: %v", r.Method, r.URL.Path, rec)
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
