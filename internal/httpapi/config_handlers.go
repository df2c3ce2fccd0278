package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentrt/core/internal/config"
)

func (s *Server) requireConfigManager(w http.ResponseWriter) (*config.Manager, bool) {
	if s.configMgr == nil {
		writeErrorStatus(w, http.StatusInternalServerError, "server_error", "config manager is not configured")
		return nil, false
	}
	return s.configMgr, true
}

// handleConfigGet implements GET /config: the whole-file snapshot plus
// integrity hash callers echo back on a subsequent apply.
func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.requireConfigManager(w)
	if !ok {
		return
	}
	snap, err := mgr.Snapshot()
	if err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, snap)
}

type applyConfigRequest struct {
	Raw      string `json:"raw"`
	BaseHash string `json:"base_hash"`
}

// handleConfigApply implements POST /config: whole-file replace guarded
// by the hash the caller read with handleConfigGet.
func (s *Server) handleConfigApply(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.requireConfigManager(w)
	if !ok {
		return
	}
	var req applyConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	result, err := mgr.Apply(req.Raw, req.BaseHash)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	s.audit.LogAgentAction(r.Context(), "httpapi", "config.apply", "whole-file config replace", nil, "")
	writeJSON(w, result)
}

type keyValueRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// handleConfigUpsert implements POST /config/upsert: set one dotted key
// path without touching the rest of the file.
func (s *Server) handleConfigUpsert(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.requireConfigManager(w)
	if !ok {
		return
	}
	var req keyValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	if req.Key == "" {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", "key is required")
		return
	}
	if err := mgr.Upsert(req.Key, req.Value); err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	s.audit.LogAgentAction(r.Context(), "httpapi", "config.upsert", "set "+req.Key, nil, "")
	writeJSON(w, map[string]any{"applied": true})
}

type keyRequest struct {
	Key string `json:"key"`
}

// handleConfigRemove implements POST /config/remove.
func (s *Server) handleConfigRemove(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.requireConfigManager(w)
	if !ok {
		return
	}
	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	if err := mgr.Remove(req.Key); err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	s.audit.LogAgentAction(r.Context(), "httpapi", "config.remove", "remove "+req.Key, nil, "")
	writeJSON(w, map[string]any{"applied": true})
}

// handleConfigRead implements POST /config/read: fetch one dotted key
// path's value without reading the whole file.
func (s *Server) handleConfigRead(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.requireConfigManager(w)
	if !ok {
		return
	}
	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	value, found, err := mgr.Get(req.Key)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	writeJSON(w, map[string]any{"key": req.Key, "value": value, "found": found})
}

// handleConfigProviders implements GET /config/providers: the set of
// providers the running config names, each with its default model.
func (s *Server) handleConfigProviders(w http.ResponseWriter, r *http.Request) {
	out := make([]map[string]any, 0, len(s.llm.Providers))
	for name, p := range s.llm.Providers {
		out = append(out, map[string]any{
			"name":          name,
			"default_model": p.DefaultModel,
			"is_default":    name == s.llm.DefaultProvider,
		})
	}
	writeJSON(w, map[string]any{"providers": out})
}

// handleConfigProviderModels implements
// GET /config/providers/{name}/models, proxying the named provider's own
// model discovery call and mapping its error kind to the spec's fixed
// status-code table (400 auth/usage, 429 rate limit, 500 otherwise).
func (s *Server) handleConfigProviderModels(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	provider, err := s.providerFor(r.Context(), name)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	models, err := provider.FetchSupportedModels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"provider": name, "models": models})
}

// handleConfigSchema implements GET /config/schema.
func (s *Server) handleConfigSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := config.JSONSchema()
	if err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(schema)
}

// handleConfigValidate implements GET /config/validate.
func (s *Server) handleConfigValidate(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.requireConfigManager(w)
	if !ok {
		return
	}
	if err := mgr.Validate(); err != nil {
		writeJSON(w, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, map[string]any{"valid": true})
}

// handleConfigInit implements POST /config/init.
func (s *Server) handleConfigInit(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.requireConfigManager(w)
	if !ok {
		return
	}
	if err := mgr.Init(); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}
	s.audit.LogAgentAction(r.Context(), "httpapi", "config.init", "initialize config file", nil, "")
	writeJSON(w, map[string]any{"applied": true})
}

type pathRequest struct {
	Path string `json:"path"`
}

// handleConfigBackup implements POST /config/backup.
func (s *Server) handleConfigBackup(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.requireConfigManager(w)
	if !ok {
		return
	}
	var req pathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", "path is required")
		return
	}
	if err := mgr.Backup(req.Path); err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	s.audit.LogAgentAction(r.Context(), "httpapi", "config.backup", "backup to "+req.Path, nil, "")
	writeJSON(w, map[string]any{"applied": true})
}

// handleConfigRecover implements POST /config/recover.
func (s *Server) handleConfigRecover(w http.ResponseWriter, r *http.Request) {
	mgr, ok := s.requireConfigManager(w)
	if !ok {
		return
	}
	var req pathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_request_error", "path is required")
		return
	}
	if err := mgr.Recover(req.Path); err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	s.audit.LogAgentAction(r.Context(), "httpapi", "config.recover", "recover from "+req.Path, nil, "")
	writeJSON(w, map[string]any{"applied": true})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
