package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Code-6dof/DXX-Dashboard/internal/domain"
)

// maxUploadBytes bounds a single gamelog upload body.
const maxUploadBytes = 4 << 20

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleStatus reports liveness, active game count and uptime seconds.
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"activeGames": len(r.reg.Confirmed()),
		"uptime":      int(time.Since(r.startedAt).Seconds()),
	})
}

// handleEvents returns the per-match event feeds, or empty arrays for
// an unknown match key.
func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	keyStr := req.PathValue("key")
	key, err := domain.ParseMatchKey(keyStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid match key")
		return
	}

	resp := map[string]interface{}{
		"gameId":    0,
		"killFeed":  []domain.GameEvent{},
		"chat":      []domain.GameEvent{},
		"timeline":  []domain.GameEvent{},
		"startTime": nil,
	}
	if rec, ok := r.reg.Get(key); ok {
		resp["gameId"] = rec.GameID
		if es, ok := r.reg.Events(key); ok {
			resp["killFeed"] = es.KillFeed()
			resp["chat"] = es.Chat()
			resp["timeline"] = es.Timeline()
			resp["startTime"] = es.StartTime()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type gamelogUpload struct {
	PlayerName string `json:"playerName"`
	Content    string `json:"content"`
}

func decodeUpload(w http.ResponseWriter, req *http.Request) (*gamelogUpload, bool) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body")
		return nil, false
	}
	var upload gamelogUpload
	if err := json.Unmarshal(body, &upload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	if upload.PlayerName == "" {
		writeError(w, http.StatusBadRequest, "playerName is required")
		return nil, false
	}
	if upload.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return nil, false
	}
	return &upload, true
}

// handleGamelogReplace installs a full replacement of the player's
// textual stream.
func (r *Router) handleGamelogReplace(w http.ResponseWriter, req *http.Request) {
	upload, ok := decodeUpload(w, req)
	if !ok {
		return
	}
	stream, err := r.uploads.Replace(upload.PlayerName, upload.Content)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if r.notify != nil {
		r.notify()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":             true,
		"eventsReceived": len(stream.Events),
		"totalClients":   r.uploads.Count(),
	})
}

// handleGamelogAppend appends a tail onto the player's stream.
func (r *Router) handleGamelogAppend(w http.ResponseWriter, req *http.Request) {
	upload, ok := decodeUpload(w, req)
	if !ok {
		return
	}
	newEvents, total, err := r.uploads.Append(upload.PlayerName, upload.Content)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if r.notify != nil {
		r.notify()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"newEvents":   newEvents,
		"totalEvents": total,
	})
}

// handleArchivedGames returns one page of finalized games.
func (r *Router) handleArchivedGames(w http.ResponseWriter, req *http.Request) {
	if r.store == nil {
		writeError(w, http.StatusNotFound, "archive not configured")
		return
	}
	page := queryInt(req, "page", 1)
	limit := queryInt(req, "limit", 100)

	games, total, err := r.store.List(req.Context(), page, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if limit > 500 {
		limit = 500
	}
	totalPages := (total + limit - 1) / limit
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"games": games,
		"pagination": map[string]interface{}{
			"page":       page,
			"limit":      limit,
			"total":      total,
			"totalPages": totalPages,
			"hasMore":    page*limit < total,
		},
	})
}

// handleArchivedMeta returns archive-wide counts.
func (r *Router) handleArchivedMeta(w http.ResponseWriter, req *http.Request) {
	if r.store == nil {
		writeError(w, http.StatusNotFound, "archive not configured")
		return
	}
	meta, err := r.store.GetMeta(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// handleArchivedGame returns one finalized game plus its events.
func (r *Router) handleArchivedGame(w http.ResponseWriter, req *http.Request) {
	if r.store == nil {
		writeError(w, http.StatusNotFound, "archive not configured")
		return
	}
	id := req.PathValue("id")
	match, events, err := r.store.GetByID(req.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if match == nil {
		writeError(w, http.StatusNotFound, "game not found: "+id)
		return
	}
	if events == nil {
		events = []domain.GameEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"game":   match,
		"events": events,
	})
}

func queryInt(req *http.Request, name string, fallback int) int {
	if v := req.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
