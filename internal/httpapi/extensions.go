package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentrt/core/internal/mcp"
)

// extensions are the Goose-equivalent name for the MCP servers listed
// under mcp.servers in the config file — CRUD here edits that slice in
// place through the Manager's whole-file get/upsert so a change persists
// the same way any other config mutation does.
const extensionsKey = "mcp.servers"

func (s *Server) loadExtensions(w http.ResponseWriter) ([]mcp.ServerConfig, bool) {
	mgr, ok := s.requireConfigManager(w)
	if !ok {
		return nil, false
	}
	value, found, err := mgr.Get(extensionsKey)
	if err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "server_error", err.Error())
		return nil, false
	}
	if !found || value == nil {
		return nil, true
	}
	raw, err := json.Marshal(value)
	if err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "server_error", err.Error())
		return nil, false
	}
	var servers []mcp.ServerConfig
	if err := json.Unmarshal(raw, &servers); err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "server_error", err.Error())
		return nil, false
	}
	return servers, true
}

func (s *Server) saveExtensions(w http.ResponseWriter, servers []mcp.ServerConfig) bool {
	mgr, ok := s.requireConfigManager(w)
	if !ok {
		return false
	}
	if err := mgr.Upsert(extensionsKey, servers); err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "server_error", err.Error())
		return false
	}
	return true
}

// handleExtensionsList implements GET /config/extensions.
func (s *Server) handleExtensionsList(w http.ResponseWriter, r *http.Request) {
	servers, ok := s.loadExtensions(w)
	if !ok {
		return
	}
	writeJSON(w, map[string]any{"extensions": servers})
}

// handleExtensionsUpsert implements POST /config/extensions: adds a new
// extension or replaces the one with a matching ID.
func (s *Server) handleExtensionsUpsert(w http.ResponseWriter, r *http.Request) {
	var entry mcp.ServerConfig
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	if entry.ID == "" {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", "id is required")
		return
	}
	servers, ok := s.loadExtensions(w)
	if !ok {
		return
	}
	replaced := false
	for i, existing := range servers {
		if existing.ID == entry.ID {
			servers[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		servers = append(servers, entry)
	}
	if !s.saveExtensions(w, servers) {
		return
	}
	writeJSON(w, map[string]any{"applied": true})
}

// handleExtensionsRemove implements DELETE /config/extensions/{id}.
func (s *Server) handleExtensionsRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	servers, ok := s.loadExtensions(w)
	if !ok {
		return
	}
	out := servers[:0]
	for _, existing := range servers {
		if existing.ID != id {
			out = append(out, existing)
		}
	}
	if !s.saveExtensions(w, out) {
		return
	}
	writeJSON(w, map[string]any{"applied": true})
}
