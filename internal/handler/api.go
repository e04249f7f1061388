package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/devaloi/relay/internal/hub"
)

// Health returns a simple health check handler.
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// ListRooms returns all rooms with member counts, sorted by name.
func ListRooms(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(h.Rooms())
	}
}

// RoomRoster returns one room's member count and sorted roster.
func RoomRoster(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Extract room name from path: /api/rooms/{name}
		name := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
		if name == "" {
			http.Error(w, `{"error":"room name required"}`, http.StatusBadRequest)
			return
		}

		info, ok := h.RoomInfo(name)
		if !ok {
			http.Error(w, `{"error":"room not found"}`, http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			hub.RoomInfo
			Users []string `json:"users"`
		}{info, h.Roster(name)})
	}
}
