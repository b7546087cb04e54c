// Package api exposes the tracker's read-out surfaces: the JSON read
// API, the gamelog upload endpoints, and the WebSocket fan-out.
package api

import (
	"net/http"
	"time"

	"github.com/Code-6dof/DXX-Dashboard/internal/archive"
	"github.com/Code-6dof/DXX-Dashboard/internal/registry"
	"github.com/Code-6dof/DXX-Dashboard/internal/tracker"
)

// Router holds the HTTP routes and dependencies.
type Router struct {
	mux       *http.ServeMux
	reg       *registry.Registry
	uploads   *tracker.Uploads
	store     *archive.Store // nil when no archive is configured
	notify    func()         // called after each upload mutation
	startedAt time.Time
}

// NewRouter creates the HTTP router. store and notify may be nil.
func NewRouter(reg *registry.Registry, uploads *tracker.Uploads, store *archive.Store, notify func()) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		reg:       reg,
		uploads:   uploads,
		store:     store,
		notify:    notify,
		startedAt: time.Now().UTC(),
	}

	r.mux.HandleFunc("GET /api/status", r.handleStatus)
	r.mux.HandleFunc("GET /api/events/{key}", r.handleEvents)
	r.mux.HandleFunc("POST /api/gamelog", r.handleGamelogReplace)
	r.mux.HandleFunc("POST /api/gamelog/append", r.handleGamelogAppend)

	// Historical games served from the archive.
	r.mux.HandleFunc("GET /api/games", r.handleArchivedGames)
	r.mux.HandleFunc("GET /api/games/meta", r.handleArchivedMeta)
	r.mux.HandleFunc("GET /api/games/{id}", r.handleArchivedGame)

	// Everything else is a JSON 404.
	r.mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusNotFound, "unknown route")
	})
	return r
}

// ServeHTTP implements http.Handler with permissive CORS on every
// response; OPTIONS preflights answer 204.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Cache-Control", "no-cache")

	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	r.mux.ServeHTTP(w, req)
}
