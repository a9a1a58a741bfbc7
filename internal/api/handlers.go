package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
)

const maxLeaderboardRows = 100

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Tick   uint64         `json:"tick"`
	Width  float64        `json:"width"`
	Height float64        `json:"height"`
	Counts map[string]int `json:"counts"`
}

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	// Lock-free: the engine publishes one snapshot per tick.
	s := h.engine.Snapshot()
	writeJSON(w, StatsResponse{
		Tick:   s.Tick,
		Width:  s.Width,
		Height: s.Height,
		Counts: s.Counts,
	})
}

func (h *routerHandlers) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	n := 10
	if q := r.URL.Query().Get("n"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v < 1 || v > maxLeaderboardRows {
			writeError(w, "n must be between 1 and 100", http.StatusBadRequest)
			return
		}
		n = v
	}
	writeJSON(w, h.engine.Leaderboard(n))
}

func (h *routerHandlers) handleMinimap(w http.ResponseWriter, r *http.Request) {
	data, err := h.minimap.Get(func(buf *bytes.Buffer) error {
		s := h.engine.Snapshot()
		return RenderMinimap(buf, h.engine.Overview(), s.Width, s.Height)
	})
	if err != nil {
		writeError(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
