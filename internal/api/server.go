// Package api serves recorded analysis runs, their test results and their
// output files over HTTP.
package api

import (
	"bytes"
	"errors"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/wormbehaviour/internal/compare"
	"github.com/banshee-data/wormbehaviour/internal/fsutil"
	"github.com/banshee-data/wormbehaviour/internal/httputil"
	"github.com/banshee-data/wormbehaviour/internal/security"
	"github.com/banshee-data/wormbehaviour/internal/stats"
	"github.com/banshee-data/wormbehaviour/internal/store"
)

type Server struct {
	db     *store.DB
	fs     fsutil.FileSystem
	logger *zap.Logger
}

func NewServer(db *store.DB, fs fsutil.FileSystem, logger *zap.Logger) *Server {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{db: db, fs: fs, logger: logger}
}

// RunAPI is the JSON form of a store.Run.
type RunAPI struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Version    string     `json:"version"`
	SaveDir    string     `json:"save_dir"`
	NSamples   int        `json:"n_samples"`
	NFeatures  int        `json:"n_features"`
	Error      string     `json:"error,omitempty"`
}

func RunToAPI(r *store.Run) RunAPI {
	return RunAPI{
		ID:         r.ID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Status:     r.Status,
		Version:    r.Version,
		SaveDir:    r.SaveDir,
		NSamples:   r.NSamples,
		NFeatures:  r.NFeatures,
		Error:      r.Error,
	}
}

// RowAPI is the JSON form of a compare.Row. JSON has no NaN, so missing
// values are null.
type RowAPI struct {
	Feature      string   `json:"feature"`
	Statistic    *float64 `json:"statistic"`
	EffectSize   *float64 `json:"effect_size"`
	P            *float64 `json:"pval"`
	PCorrected   *float64 `json:"pval_corrected"`
	Reject       bool     `json:"reject"`
	Significance string   `json:"significance"`
}

func RowToAPI(r compare.Row) RowAPI {
	return RowAPI{
		Feature:      r.Feature,
		Statistic:    finite(r.Statistic),
		EffectSize:   finite(r.EffectSize),
		P:            finite(r.P),
		PCorrected:   finite(r.PCorrected),
		Reject:       r.Reject,
		Significance: stats.SigAsterisk(r.PCorrected),
	}
}

// ResultsAPI is one comparison of a run.
type ResultsAPI struct {
	Comparison string   `json:"comparison"`
	Test       string   `json:"test"`
	Rows       []RowAPI `json:"rows"`
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logger.Info("request",
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
			zap.Int("status", lrw.statusCode),
			zap.Float64("ms", float64(time.Since(start).Nanoseconds())/1e6))
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/{id}", s.showRun)
	mux.HandleFunc("/api/runs/{id}/comparisons", s.listComparisons)
	mux.HandleFunc("/api/runs/{id}/results", s.showResults)
	mux.HandleFunc("/api/runs/{id}/files/{path...}", s.serveFile)
	return mux
}

func (s *Server) reply(w http.ResponseWriter, data any) {
	s.check(httputil.WriteJSONOK(w, data))
}

// check logs a response that could not be written.
func (s *Server) check(err error) {
	if err != nil {
		s.logger.Warn("failed to write json response", zap.Error(err))
	}
}

// fail maps a store error to a response.
func (s *Server) fail(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		s.check(httputil.NotFound(w, err.Error()))
		return
	}
	s.logger.Error(msg, zap.Error(err))
	s.check(httputil.InternalServerError(w, msg))
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.check(httputil.MethodNotAllowed(w))
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.check(httputil.BadRequest(w, "invalid 'limit' parameter"))
			return
		}
		limit = parsed
	}

	runs, err := s.db.ListRuns(limit)
	if err != nil {
		s.fail(w, err, "failed to list runs")
		return
	}
	out := make([]RunAPI, len(runs))
	for i, run := range runs {
		out[i] = RunToAPI(run)
	}
	s.reply(w, out)
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.check(httputil.MethodNotAllowed(w))
		return
	}
	run, err := s.db.GetRun(r.PathValue("id"))
	if err != nil {
		s.fail(w, err, "failed to get run")
		return
	}
	s.reply(w, RunToAPI(run))
}

func (s *Server) listComparisons(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.check(httputil.MethodNotAllowed(w))
		return
	}
	id := r.PathValue("id")
	if _, err := s.db.GetRun(id); err != nil {
		s.fail(w, err, "failed to get run")
		return
	}
	names, err := s.db.Comparisons(id)
	if err != nil {
		s.fail(w, err, "failed to list comparisons")
		return
	}
	if names == nil {
		names = []string{}
	}
	s.reply(w, names)
}

// showResults returns one comparison ranked by corrected p-value. With
// significant=true only the rejected features are returned.
func (s *Server) showResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.check(httputil.MethodNotAllowed(w))
		return
	}
	q := r.URL.Query()
	comparison := q.Get("comparison")
	if comparison == "" {
		s.check(httputil.BadRequest(w, "missing 'comparison' parameter"))
		return
	}
	onlySig := false
	if v := q.Get("significant"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			s.check(httputil.BadRequest(w, "invalid 'significant' parameter"))
			return
		}
		onlySig = parsed
	}

	t, err := s.db.LoadTestTable(r.PathValue("id"), comparison)
	if err != nil {
		s.fail(w, err, "failed to load results")
		return
	}
	out := ResultsAPI{Comparison: comparison, Test: t.Kind.String(), Rows: []RowAPI{}}
	for _, row := range t.Ranked() {
		if onlySig && !row.Reject {
			continue
		}
		out.Rows = append(out.Rows, RowToAPI(row))
	}
	s.reply(w, out)
}

// serveFile serves a file from the run's save directory.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.check(httputil.MethodNotAllowed(w))
		return
	}
	run, err := s.db.GetRun(r.PathValue("id"))
	if err != nil {
		s.fail(w, err, "failed to get run")
		return
	}
	path := filepath.Join(run.SaveDir, filepath.FromSlash(r.PathValue("path")))
	if err := security.ValidatePathWithinDirectory(path, run.SaveDir); err != nil {
		s.check(httputil.BadRequest(w, "path outside the run directory"))
		return
	}
	data, err := s.fs.ReadFile(path)
	if err != nil {
		s.check(httputil.NotFound(w, "file not found"))
		return
	}
	http.ServeContent(w, r, filepath.Base(path), time.Time{}, bytes.NewReader(data))
}
