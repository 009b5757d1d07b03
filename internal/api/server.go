// Package api exposes the operator surface: run control, site kill switch,
// stored listings, health and metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/project-tktt/immo-crawler/internal/common/errors"
	"github.com/project-tktt/immo-crawler/internal/common/indexer"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/project-tktt/immo-crawler/internal/module/registry"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// Runner starts, observes and stops user runs
type Runner interface {
	StartRun(ctx context.Context, req domain.RunRequest) (domain.RunStatus, error)
	Status(userID string) domain.RunStatus
	StopRun(userID string) (domain.RunStatus, bool)
}

// Sites is the site registry and kill switch
type Sites interface {
	Profile(key domain.SourceKey) (registry.SiteProfile, bool)
	Statuses() []registry.SiteStatus
	Disable(key domain.SourceKey, reason string)
	Enable(key domain.SourceKey)
}

// Config configures a Server
type Config struct {
	Addr   string
	Runs   Runner
	Sites  Sites
	Store  indexer.Store
	Logger logger.Logger
	// Pprof mounts /debug/pprof
	Pprof bool
}

// Server serves the operator API
type Server struct {
	cfg  Config
	log  logger.Logger
	http *http.Server
}

// NewServer creates a server; call ListenAndServe to start it
func NewServer(cfg Config) *Server {
	s := &Server{
		cfg: cfg,
		log: logger.OrNop(cfg.Logger).WithFields(map[string]interface{}{"component": "api"}),
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /runs", s.startRun)
	mux.HandleFunc("GET /runs/{userID}", s.runStatus)
	mux.HandleFunc("POST /runs/{userID}/stop", s.stopRun)

	mux.HandleFunc("GET /sites", s.listSites)
	mux.HandleFunc("POST /sites/{key}/disable", s.disableSite)
	mux.HandleFunc("POST /sites/{key}/enable", s.enableSite)

	mux.HandleFunc("GET /users/{userID}/listings", s.getListings)
	mux.HandleFunc("PATCH /users/{userID}/listings", s.updateListingStatus)
	mux.HandleFunc("DELETE /users/{userID}/listings", s.deleteListing)
	mux.HandleFunc("POST /users/{userID}/listings/cleanup", s.cleanup)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return s.logRequests(mux)
}

// ListenAndServe blocks until the server stops. A shutdown is not an error.
func (s *Server) ListenAndServe() error {
	s.log.Info("api listening", map[string]interface{}{"addr": s.cfg.Addr})
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type startRunBody struct {
	UserID   string             `json:"user_id"`
	Query    string             `json:"query"`
	RadiusKm float64            `json:"radius_km"`
	Sources  []domain.SourceKey `json:"sources"`
	MaxPages int                `json:"max_pages"`
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var body startRunBody
	if !decode(w, r, &body) {
		return
	}
	status, err := s.cfg.Runs.StartRun(r.Context(), domain.RunRequest{
		UserID:   body.UserID,
		Query:    body.Query,
		RadiusKm: body.RadiusKm,
		Sources:  body.Sources,
		MaxPages: body.MaxPages,
	})
	if err != nil {
		writeError(w, err, &status)
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

func (s *Server) runStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Runs.Status(r.PathValue("userID")))
}

func (s *Server) stopRun(w http.ResponseWriter, r *http.Request) {
	status, ok := s.cfg.Runs.StopRun(r.PathValue("userID"))
	if !ok {
		writeJSON(w, http.StatusConflict, errorBody{
			Code:    "NOT_RUNNING",
			Message: "no run in progress",
			Status:  &status,
		})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) listSites(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Sites.Statuses())
}

func (s *Server) disableSite(w http.ResponseWriter, r *http.Request) {
	key, ok := s.siteKey(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}
	s.cfg.Sites.Disable(key, body.Reason)
	s.writeSite(w, key)
}

func (s *Server) enableSite(w http.ResponseWriter, r *http.Request) {
	key, ok := s.siteKey(w, r)
	if !ok {
		return
	}
	s.cfg.Sites.Enable(key)
	s.writeSite(w, key)
}

func (s *Server) siteKey(w http.ResponseWriter, r *http.Request) (domain.SourceKey, bool) {
	key := domain.SourceKey(r.PathValue("key"))
	if _, ok := s.cfg.Sites.Profile(key); !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "UNKNOWN_SITE", Message: "unknown site " + string(key)})
		return "", false
	}
	return key, true
}

func (s *Server) writeSite(w http.ResponseWriter, key domain.SourceKey) {
	for _, st := range s.cfg.Sites.Statuses() {
		if st.Profile.Key == key {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := indexer.ListFilter{
		Status: domain.ListingStatus(q.Get("status")),
		Source: domain.SourceKey(q.Get("source")),
		Sort:   q.Get("sort"),
		Asc:    q.Get("order") == "asc",
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, apperrors.NewInvalidRequestError("limit must be a positive integer"), nil)
			return
		}
		filter.Limit = n
	}
	listings, err := s.cfg.Store.GetListings(r.Context(), r.PathValue("userID"), filter)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	if listings == nil {
		listings = []domain.StoredListing{}
	}
	writeJSON(w, http.StatusOK, listings)
}

func (s *Server) updateListingStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL    string               `json:"url"`
		Status domain.ListingStatus `json:"status"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.cfg.Store.UpdateListingStatus(r.Context(), r.PathValue("userID"), body.URL, body.Status); err != nil {
		writeError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteListing(w http.ResponseWriter, r *http.Request) {
	link := r.URL.Query().Get("url")
	if link == "" {
		writeError(w, apperrors.NewInvalidRequestError("url is required"), nil)
		return
	}
	if err := s.cfg.Store.DeleteListing(r.Context(), r.PathValue("userID"), link); err != nil {
		writeError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	n, err := s.cfg.Store.Cleanup(r.Context(), r.PathValue("userID"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
			return
		}
		s.log.Debug("api request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		})
	})
}
