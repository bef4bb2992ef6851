// Package admin serves the runtime administration API: the config file
// (read, replace, per-section edit), the config schema for editor frontends,
// and a diagnostics snapshot of the running instance. It mounts next to the
// health and metrics endpoints on the monitoring listener.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/aria/internal/action"
	"github.com/MrWong99/aria/internal/component"
	"github.com/MrWong99/aria/internal/config"
	"github.com/MrWong99/aria/internal/conversation"
)

// maxBodyBytes bounds config upload size. A config file anywhere near this
// size is a mistake, not a use case.
const maxBodyBytes = 1 << 20

// Server holds the runtime handles the admin API reads from. Any field except
// Store may be nil; the corresponding diagnostics section is then omitted.
type Server struct {
	Store    *config.Store
	Manager  *component.Manager
	Sessions *conversation.Store
	Actions  *action.Coordinator
	Analysis *component.NLUAnalysis
}

// Register mounts the admin routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/config", s.getConfig)
	mux.HandleFunc("PUT /api/config", s.putConfig)
	mux.HandleFunc("PUT /api/config/sections/{section}", s.putSection)
	mux.HandleFunc("GET /api/config/schema", s.getSchema)
	mux.HandleFunc("GET /api/config/schema/{kind}/{provider}", s.getProviderSchema)
	mux.HandleFunc("GET /api/diagnostics", s.getDiagnostics)
}

// getConfig returns the config file verbatim, without env expansion, so
// ${VAR} placeholders survive a read-modify-write cycle.
func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	raw, err := s.Store.Raw()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("read config: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(raw)
}

// putConfig validates and replaces the whole config file. Invalid content is
// rejected with every validation message; the file is left untouched.
func (s *Server) putConfig(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	if err := s.Store.SaveRaw(data); err != nil {
		writeError(w, configStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// putSection replaces one top-level section with the YAML body. The rest of
// the file, comments included, is preserved.
func (s *Server) putSection(w http.ResponseWriter, r *http.Request) {
	section := r.PathValue("section")
	if _, err := config.SectionSchemaFor(section); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	var value any
	if err := yaml.Unmarshal(data, &value); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse section body: %w", err))
		return
	}
	if err := s.Store.ApplySection(section, value); err != nil {
		writeError(w, configStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getSchema returns the full section schema, YAML-encoded like the config
// itself.
func (s *Server) getSchema(w http.ResponseWriter, _ *http.Request) {
	writeYAML(w, config.Schemas())
}

// getProviderSchema returns the parameter schema of one provider.
func (s *Server) getProviderSchema(w http.ResponseWriter, r *http.Request) {
	params, err := config.ProviderParameterSchema(r.PathValue("kind"), r.PathValue("provider"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeYAML(w, params)
}

// getDiagnostics reports the live state of the runtime as JSON.
func (s *Server) getDiagnostics(w http.ResponseWriter, r *http.Request) {
	diag := map[string]any{}

	if s.Manager != nil {
		diag["profile"] = s.Manager.DeploymentProfile()
		diag["components"] = map[string]any{
			"active": s.Manager.Active(),
			"health": s.Manager.Healthy(r.Context()),
		}
	}
	if s.Sessions != nil {
		est := s.Sessions.MemoryEstimate()
		diag["sessions"] = map[string]any{
			"count":           est.Sessions,
			"history_entries": est.HistoryEntries,
			"approx_bytes":    est.ApproxBytes,
		}
	}
	if s.Actions != nil {
		active := s.Actions.ListActive()
		acts := make([]map[string]any, 0, len(active))
		for _, rec := range active {
			acts = append(acts, map[string]any{
				"id":         rec.ID,
				"domain":     rec.Domain,
				"name":       rec.Name,
				"started_at": rec.StartedAt,
			})
		}
		diag["actions"] = acts
	}
	if s.Analysis != nil {
		total, low, byIntent, samples := s.Analysis.Report()
		recent := make([]map[string]any, 0, len(samples))
		for _, sm := range samples {
			recent = append(recent, map[string]any{
				"text":       sm.Text,
				"intent":     sm.Intent,
				"confidence": sm.Confidence,
				"language":   sm.Language,
			})
		}
		diag["nlu"] = map[string]any{
			"parses":         total,
			"low_confidence": low,
			"by_intent":      byIntent,
			"samples":        recent,
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(diag); err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
	}
}

// configStatus maps store errors to HTTP statuses: validation failures are
// the client's fault, everything else is ours.
func configStatus(err error) int {
	var ce *config.ConfigError
	if errors.As(err, &ce) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeYAML(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/yaml")
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		http.Error(w, "error: encode failed", http.StatusInternalServerError)
		return
	}
	enc.Close()
}
