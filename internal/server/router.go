package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/ray-operator/internal/metrics"
	"github.com/loykin/ray-operator/internal/registry"
	"github.com/loykin/ray-operator/internal/supervisor"
)

// Router provides read-only HTTP handlers for inspecting supervised clusters.
// Endpoints:
//
//	GET {basePath}/healthz
//	GET {basePath}/clusters                          all supervisors
//	GET {basePath}/clusters/:namespace/:name         one supervisor, 404 if unknown
//	GET {basePath}/clusters/:namespace/:name/config  its current autoscaler config
//	GET {basePath}/metrics                           only when a gatherer is set
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	reg      *registry.Registry
	basePath string
	gatherer prometheus.Gatherer
}

// NewRouter constructs a new Router with configurable basePath.
// gatherer may be nil.
func NewRouter(reg *registry.Registry, basePath string, gatherer prometheus.Gatherer) *Router {
	return &Router{reg: reg, basePath: sanitizeBase(basePath), gatherer: gatherer}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)
	group.GET("/clusters", r.handleList)
	group.GET("/clusters/:namespace/:name", r.handleGet)
	group.GET("/clusters/:namespace/:name/config", r.handleConfig)
	if r.gatherer != nil {
		group.GET("/metrics", gin.WrapH(metrics.Handler(r.gatherer)))
	}
	return g
}

type errorResp struct {
	Error string `json:"error"`
}

type healthResp struct {
	OK       bool `json:"ok"`
	Clusters int  `json:"clusters"`
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, healthResp{OK: true, Clusters: r.reg.Len()})
}

func (r *Router) handleList(c *gin.Context) {
	sups := r.reg.List()
	out := make([]supervisor.Snapshot, 0, len(sups))
	for _, s := range sups {
		out = append(out, s.Snapshot())
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) lookup(c *gin.Context) *supervisor.ClusterSupervisor {
	id, ok := clusterParam(c)
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid namespace or name"})
		return nil
	}
	s := r.reg.Get(id)
	if s == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "cluster " + id.Namespace + "/" + id.Name + " not found"})
		return nil
	}
	return s
}

func (r *Router) handleGet(c *gin.Context) {
	if s := r.lookup(c); s != nil {
		writeJSON(c, http.StatusOK, s.Snapshot())
	}
}

func (r *Router) handleConfig(c *gin.Context) {
	if s := r.lookup(c); s != nil {
		writeJSON(c, http.StatusOK, s.Config())
	}
}

// Server serves a Router until its context ends. It satisfies the
// controller-runtime Runnable interface.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer builds a standalone HTTP server on addr using r.
func NewServer(addr string, r *Router, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log: log.With("component", "api"),
	}
}

// WithTLS serves HTTPS using cfg. A nil cfg keeps plain HTTP.
func (s *Server) WithTLS(cfg *tls.Config) *Server {
	s.srv.TLSConfig = cfg
	return s
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if s.srv.TLSConfig != nil {
			// certificates come from TLSConfig.GetCertificate
			errCh <- s.srv.ListenAndServeTLS("", "")
			return
		}
		errCh <- s.srv.ListenAndServe()
	}()
	s.log.Info("inspection API listening", "addr", s.srv.Addr, "tls", s.srv.TLSConfig != nil)
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

// NeedLeaderElection is false so standby replicas answer too.
func (s *Server) NeedLeaderElection() bool { return false }
