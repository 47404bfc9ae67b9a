// Package handlers implements the chat and admin HTTP endpoints. Handlers
// depend on the contracts interfaces only.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/walletwise/walletwise/backend/internal/store"
	"github.com/walletwise/walletwise/backend/pkg/contracts"
	pkgmw "github.com/walletwise/walletwise/backend/pkg/middleware"
	"github.com/walletwise/walletwise/backend/pkg/models"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handlers holds the services behind the HTTP surface.
type Handlers struct {
	Chat          contracts.ChatService
	Conversations contracts.ConversationService
	Models        contracts.ModelManager
	Config        contracts.ConfigService
	Tools         contracts.ToolCatalog
	Analytics     contracts.AnalyticsService
}

// ══════════════════════════════════════════════════════════════
// ── Conversation Handlers ────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type createConversationRequest struct {
	Title string `json:"title"`
}

func (h *Handlers) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}
	conv, err := h.Conversations.Create(r.Context(), pkgmw.UserID(r.Context()), req.Title)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, conv)
}

func (h *Handlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(w, r)
	if !ok {
		return
	}
	res, err := h.Conversations.List(r.Context(), pkgmw.UserID(r.Context()), page)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(w, r)
	if !ok {
		return
	}
	res, err := h.Conversations.Messages(r.Context(), pkgmw.UserID(r.Context()), chi.URLParam(r, "conversationID"), page)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type sendMessageRequest struct {
	Content string `json:"content"`
	// Message is accepted as an alias of Content.
	Message string `json:"message"`
}

func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	content := req.Content
	if content == "" {
		content = req.Message
	}

	reply, err := h.Chat.SendMessage(r.Context(), pkgmw.UserID(r.Context()), chi.URLParam(r, "conversationID"), content)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (h *Handlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.Conversations.Delete(r.Context(), pkgmw.UserID(r.Context()), chi.URLParam(r, "conversationID")); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════
// ── Model Handlers (user view) ───────────────────────────────
// ══════════════════════════════════════════════════════════════

// publicModel hides endpoint and secret references from users.
type publicModel struct {
	ID            uint                `json:"id"`
	Name          string              `json:"name"`
	Provider      models.ProviderKind `json:"provider"`
	Priority      int                 `json:"priority"`
	SupportsTools bool                `json:"supports_tools"`
	HealthScore   float64             `json:"health_score"`
	Current       bool                `json:"current"`
}

func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	all, err := h.Models.ListModels(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	current, hasCurrent := h.Models.CurrentModel()

	out := make([]publicModel, 0, len(all))
	for _, c := range all {
		if !c.IsActive {
			continue
		}
		out = append(out, publicModel{
			ID:            c.ID,
			Name:          c.ModelName,
			Provider:      c.Provider,
			Priority:      c.Priority,
			SupportsTools: c.SupportsTools,
			HealthScore:   c.HealthScore,
			Current:       hasCurrent && current.ID == c.ID,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) CurrentModel(w http.ResponseWriter, r *http.Request) {
	info, ok := h.Models.CurrentModel()
	if !ok {
		respondError(w, http.StatusServiceUnavailable, models.ErrProviderUnavailable.Error())
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (h *Handlers) ModelsHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Models.Health())
}

// ══════════════════════════════════════════════════════════════
// ── Helpers ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps service errors to status codes.
func respondErr(w http.ResponseWriter, err error) {
	var nf *store.ErrNotFound
	var conflict *store.ErrConflict
	switch {
	case errors.As(err, &nf):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, models.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrProviderUnavailable):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// parsePage reads ?page and ?limit. Missing values mean page 1, unlimited.
func parsePage(w http.ResponseWriter, r *http.Request) (models.Page, bool) {
	var p models.Page
	for name, dst := range map[string]*int{"page": &p.Page, "limit": &p.Limit} {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid "+name)
			return p, false
		}
		*dst = n
	}
	if p.Page == 0 {
		p.Page = 1
	}
	return p, true
}

func actor(r *http.Request) string {
	if id := pkgmw.GetIdentity(r.Context()); id != nil {
		return id.Subject
	}
	return "anonymous"
}

func uintParam(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return uint(n), true
}
