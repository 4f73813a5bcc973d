package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/homenavi/llm-service-bridge/internal/llmapi"
)

type Handler struct {
	registry *llmapi.Registry
	mcp      http.Handler
	busKind  string
}

// NewHandler wires the HTTP surface. mcp may be nil to leave /mcp unmounted.
func NewHandler(registry *llmapi.Registry, mcp http.Handler, busKind string) *Handler {
	return &Handler{
		registry: registry,
		mcp:      mcp,
		busKind:  busKind,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "llm-service-bridge",
		"bus":     h.busKind,
		"apis":    len(h.registry.APIs()),
	})
}

type apiSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (h *Handler) ListAPIs(w http.ResponseWriter, r *http.Request) {
	apis := h.registry.APIs()
	out := make([]apiSummary, 0, len(apis))
	for _, api := range apis {
		out = append(out, apiSummary{ID: api.ID(), Name: api.Name()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"apis": out})
}

// llmContext builds the tool context, taking identity from the verified token.
func llmContext(r *http.Request, base llmapi.Context) llmapi.Context {
	if claims := GetClaims(r.Context()); claims != nil {
		base.Role = claims.Role
		base.UserID = claims.Subject
	}
	return base
}

func (h *Handler) instance(w http.ResponseWriter, r *http.Request, llmCtx llmapi.Context) (llmapi.API, *llmapi.Instance, bool) {
	id := chi.URLParam(r, "id")
	api, ok := h.registry.Get(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "api not found")
		return nil, nil, false
	}
	inst, err := api.Instance(r.Context(), llmCtx)
	if err != nil {
		slog.Error("build llm api instance failed", "api", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to build api instance")
		return nil, nil, false
	}
	return api, inst, true
}

func (h *Handler) GetAPI(w http.ResponseWriter, r *http.Request) {
	api, inst, ok := h.instance(w, r, llmContext(r, llmapi.Context{}))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     inst.APIID,
		"name":   api.Name(),
		"prompt": inst.Prompt,
		"tools":  inst.Definitions(),
	})
}

type callToolRequest struct {
	ToolArgs map[string]any `json:"tool_args"`
	Context  llmapi.Context `json:"context"`
}

// CallTool runs one tool. Rejected or failed service calls are still 200
// responses; the result mapping carries the error for the LLM.
func (h *Handler) CallTool(w http.ResponseWriter, r *http.Request) {
	var req callToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	_, inst, ok := h.instance(w, r, llmContext(r, req.Context))
	if !ok {
		return
	}

	tool := chi.URLParam(r, "tool")
	result, err := inst.CallTool(r.Context(), llmapi.ToolInput{Name: tool, Args: req.ToolArgs})
	switch {
	case errors.Is(err, llmapi.ErrUnknownTool):
		writeJSONError(w, http.StatusNotFound, "tool not found")
	case errors.Is(err, llmapi.ErrInsufficientRole):
		writeJSONError(w, http.StatusForbidden, err.Error())
	case err != nil:
		slog.Error("tool call failed", "api", inst.APIID, "tool", tool, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "tool call failed")
	default:
		writeJSON(w, http.StatusOK, result)
	}
}
