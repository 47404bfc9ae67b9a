package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/walletwise/walletwise/backend/pkg/models"
)

// ══════════════════════════════════════════════════════════════
// ── Config Handlers ──────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListConfig(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Config.List(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	if entries == nil {
		entries = []models.ConfigEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

type createConfigRequest struct {
	Key         string          `json:"config_key"`
	Value       json.RawMessage `json:"config_value"`
	Description string          `json:"description"`
}

func (h *Handlers) CreateConfig(w http.ResponseWriter, r *http.Request) {
	var req createConfigRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := h.Config.Create(r.Context(), req.Key, req.Value, req.Description, actor(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Config.Entry(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

type updateConfigRequest struct {
	Value  json.RawMessage `json:"config_value"`
	Reason string          `json:"reason"`
}

func (h *Handlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := h.Config.Set(r.Context(), chi.URLParam(r, "key"), req.Value, actor(r), req.Reason)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (h *Handlers) ToggleConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := h.Config.ToggleActive(r.Context(), chi.URLParam(r, "key"), req.Active, actor(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (h *Handlers) RevertConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Version int `json:"version"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := h.Config.Revert(r.Context(), chi.URLParam(r, "key"), req.Version, actor(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (h *Handlers) ConfigHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.Config.History(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		respondErr(w, err)
		return
	}
	if history == nil {
		history = []models.ConfigHistory{}
	}
	respondJSON(w, http.StatusOK, history)
}

func (h *Handlers) InvalidateConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.Config.InvalidateAll(r.Context()); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handlers) ExportConfig(w http.ResponseWriter, r *http.Request) {
	items, err := h.Config.Export(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	if items == nil {
		items = []models.ConfigExport{}
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handlers) ImportConfig(w http.ResponseWriter, r *http.Request) {
	var items []models.ConfigExport
	if !decodeBody(w, r, &items) {
		return
	}
	res, err := h.Config.Import(r.Context(), items, actor(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════
// ── Model Handlers (admin) ───────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) AdminListModels(w http.ResponseWriter, r *http.Request) {
	all, err := h.Models.ListModels(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	if all == nil {
		all = []models.ModelCandidate{}
	}
	respondJSON(w, http.StatusOK, all)
}

func (h *Handlers) AddModel(w http.ResponseWriter, r *http.Request) {
	var c models.ModelCandidate
	if !decodeBody(w, r, &c) {
		return
	}
	c.ID = 0
	if err := h.Models.AddModel(r.Context(), &c); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (h *Handlers) UpdateModel(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "modelID")
	if !ok {
		return
	}
	var patch models.ModelCandidatePatch
	if !decodeBody(w, r, &patch) {
		return
	}
	c, err := h.Models.UpdateModel(r.Context(), id, patch)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) DeactivateModel(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "modelID")
	if !ok {
		return
	}
	c, err := h.Models.DeactivateModel(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) ReloadModels(w http.ResponseWriter, r *http.Request) {
	if err := h.Models.Reload(r.Context()); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.Models.Health())
}

func (h *Handlers) ModelHealthLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "modelID")
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	logs, err := h.Models.HealthLogs(r.Context(), id, limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	if logs == nil {
		logs = []models.HealthLog{}
	}
	respondJSON(w, http.StatusOK, logs)
}

// ══════════════════════════════════════════════════════════════
// ── Tool Handlers ────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type toolStatus struct {
	Name   string             `json:"name"`
	Active bool               `json:"active"`
	Config *models.ToolConfig `json:"config,omitempty"`
}

func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	names := h.Tools.Names()
	out := make([]toolStatus, 0, len(names))
	for _, name := range names {
		ts := toolStatus{Name: name, Active: h.Tools.IsActive(name)}
		if cfg, ok := h.Tools.Config(name); ok {
			ts.Config = &cfg
		}
		out = append(out, ts)
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) ReloadTools(w http.ResponseWriter, r *http.Request) {
	if err := h.Tools.Reload(r.Context()); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"active": len(h.Tools.ActiveDefinitions())})
}

// ══════════════════════════════════════════════════════════════
// ── Analytics Handlers ───────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	from, ok := parseTime(w, r, "from", false)
	if !ok {
		return
	}
	to, ok := parseTime(w, r, "to", true)
	if !ok {
		return
	}
	report, err := h.Analytics.Summarize(r.Context(), from, to)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// parseTime accepts RFC 3339 or YYYY-MM-DD. A bare date used as an upper
// bound covers the whole day.
func parseTime(w http.ResponseWriter, r *http.Request, name string, endOfDay bool) (*time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, true
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, true
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name+": use RFC 3339 or YYYY-MM-DD")
		return nil, false
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, true
}
