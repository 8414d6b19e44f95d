package registry

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// Server serves the registration set over HTTP.
type Server struct {
	store *Store
}

// NewServer creates a registry server backed by store.
func NewServer(store *Store) *Server {
	return &Server{store: store}
}

// HandleListInstances returns every live producer.
// GET /api/producers
func (s *Server) HandleListInstances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"capacity":  s.store.Cap(),
		"producers": s.store.List(),
	})
}

// HandleGetInstance returns the producer in one slot.
// GET /api/producers/{slot}
func (s *Server) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.TrimRight(r.URL.Path, "/"), "/")
	slot, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		http.Error(w, "slot must be an integer", http.StatusBadRequest)
		return
	}

	inst, ok := s.store.Get(slot)
	if !ok {
		http.Error(w, "no producer in slot", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(inst)
}
