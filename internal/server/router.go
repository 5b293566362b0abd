package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/engramd/internal/metrics"
	"github.com/loykin/engramd/internal/supervisor"
)

// Router provides embeddable HTTP handlers for controlling the worker.
// Endpoints under {basePath}:
//   GET  /status      merged supervisor + worker status
//   POST /start       start the worker
//   POST /stop        stop the worker
//   POST /restart     stop, pause, start
//   GET  /health      probe the worker once; 503 when it does not answer
//   GET  /history     recent lifecycle events, query: limit=N
//   GET  /export      the worker's memories as raw JSON
//   POST /reset-data  wipe the worker's database files and restart
//   GET  /resources   worker resource usage, query: history=1 for samples
// basePath may be empty or start with '/'; no trailing slash.

const defaultHistoryLimit = 50

type Router struct {
	sup       *supervisor.Supervisor
	resources *metrics.ResourceCollector
	basePath  string
	token     string
}

// Options tunes the router. The zero value mounts everything at "/" with
// no authentication and no resource endpoint.
type Options struct {
	// BasePath prefixes every route, e.g. "/api".
	BasePath string
	// APIToken, when set, is required as "Authorization: Bearer <token>"
	// on every request.
	APIToken string
	// Resources backs the /resources endpoint; nil disables it.
	Resources *metrics.ResourceCollector
}

// NewRouter constructs a Router around a supervisor.
func NewRouter(sup *supervisor.Supervisor, opts Options) *Router {
	return &Router{
		sup:       sup,
		resources: opts.Resources,
		basePath:  sanitizeBase(opts.BasePath),
		token:     opts.APIToken,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	if r.token != "" {
		group.Use(requireToken(r.token))
	}
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.GET("/health", r.handleHealth)
	group.GET("/history", r.handleHistory)
	group.GET("/export", r.handleExport)
	group.POST("/reset-data", r.handleResetData)
	group.GET("/resources", r.handleResources)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down via http.Server's Shutdown or Close.
func NewServer(addr string, sup *supervisor.Supervisor, opts Options) (*http.Server, error) {
	r := NewRouter(sup, opts)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// requireToken rejects requests without the expected bearer token.
func requireToken(token string) gin.HandlerFunc {
	want := []byte("Bearer " + token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			writeJSON(c, http.StatusUnauthorized, errorResp{Error: "invalid or missing API token"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type healthResp struct {
	Healthy bool `json:"healthy"`
}

type resourcesResp struct {
	Current *metrics.ResourceSample  `json:"current"`
	History []metrics.ResourceSample `json:"history,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Status(c.Request.Context()))
}

func (r *Router) handleStart(c *gin.Context) {
	if err := r.sup.Start(); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.sup.Stop(); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	if err := r.sup.Restart(); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleHealth(c *gin.Context) {
	healthy := r.sup.CheckHealth(c.Request.Context())
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, healthResp{Healthy: healthy})
}

func (r *Router) handleHistory(c *gin.Context) {
	limit, err := parseLimit(c, defaultHistoryLimit)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, r.sup.Journal(limit))
}

func (r *Router) handleExport(c *gin.Context) {
	data, err := r.sup.Export(c.Request.Context())
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, supervisor.ErrWorkerNotRunning) {
			code = http.StatusConflict
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (r *Router) handleResetData(c *gin.Context) {
	if err := r.sup.ResetData(); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleResources(c *gin.Context) {
	if r.resources == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "resource sampling disabled"})
		return
	}
	var resp resourcesResp
	if cur, ok := r.resources.Latest(); ok {
		resp.Current = &cur
	}
	if c.Query("history") != "" {
		resp.History = r.resources.History()
	}
	writeJSON(c, http.StatusOK, resp)
}
