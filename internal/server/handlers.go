package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/michaelbrown/scriptbox/internal/sandbox"
	"github.com/michaelbrown/scriptbox/internal/workspace"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, map[string]string{"status": "scriptbox is running"})
}

type runRequest struct {
	Script string            `json:"script"`
	Env    map[string]string `json:"env"`
	Files  map[string]string `json:"files"` // name -> text content
}

type runResponse struct {
	Output string `json:"output"`
}

type runError struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Script) == "" {
		writeError(w, http.StatusBadRequest, "script is required")
		return
	}

	ws, err := workspace.Create(s.cfg.WorkspaceRoot)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer func() {
		if err := ws.Remove(); err != nil {
			s.log.Warn("removing workspace", zap.String("workspace", ws.Path), zap.Error(err))
		}
	}()

	for name, content := range req.Files {
		if err := ws.WriteFile(name, []byte(content)); err != nil {
			writeError(w, http.StatusBadRequest, "writing "+name+": "+err.Error())
			return
		}
	}

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	// Request values win over host passthrough.
	env := s.cfg.Passthrough()
	for k, v := range req.Env {
		env[k] = v
	}

	out, err := s.sb.Run(ctx, sandbox.Request{Script: req.Script, Workspace: ws.Path, Env: env})
	if err != nil {
		kind := sandbox.KindOf(err)
		writeJSON(w, statusFor(kind), runError{Error: "script execution failed: " + err.Error(), Kind: kind.String()})
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Output: out})
}

func statusFor(kind sandbox.ErrorKind) int {
	switch kind {
	case sandbox.KindExecutionTimeout:
		return http.StatusGatewayTimeout
	case sandbox.KindConfigurationMissing, sandbox.KindInfrastructureUnavailable:
		return http.StatusServiceUnavailable
	case sandbox.KindExecutionFailure:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
