package message

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"go-counsel/internal/httpx"
	myMiddleware "go-counsel/internal/middleware"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Handler is the HTTP fallback for clients without an open connection.
// It returns the same shapes the connection path emits.
type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// Routes mounts under /api/consultations.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/{id}/messages", h.Send)
	r.Get("/{id}/messages", h.History)
	r.Post("/{id}/read", h.MarkRead)
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	actor, ok := myMiddleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteBadRequest(w, "invalid request body")
		return
	}
	req.ConsultationID = chi.URLParam(r, "id")

	view, err := h.service.Send(r.Context(), actor, req)
	if err != nil {
		httpx.WriteError(w, r, "message_send", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusCreated, view)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	actor, ok := myMiddleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			httpx.WriteBadRequest(w, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	msgs, err := h.service.History(r.Context(), actor, chi.URLParam(r, "id"), limit)
	if err != nil {
		httpx.WriteError(w, r, "message_history", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, msgs)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := myMiddleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.service.Authorize(r.Context(), actor, id); err != nil {
		httpx.WriteError(w, r, "message_mark_read", err)
		return
	}
	ev, err := h.service.MarkRead(r.Context(), actor, id)
	if err != nil {
		httpx.WriteError(w, r, "message_mark_read", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, ev)
}
