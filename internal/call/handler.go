package call

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-counsel/internal/httpx"
	myMiddleware "go-counsel/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

// Routes mounts under /api/calls.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Initiate)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/accept", h.Accept)
	r.Post("/{id}/decline", h.Decline)
	r.Post("/{id}/end", h.End)
	r.Post("/{id}/token", h.Token)
}

type initiateRequest struct {
	ConsultationID string `json:"consultationId"`
	Type           Type   `json:"type"`
}

func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	actor, ok := myMiddleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConsultationID == "" {
		httpx.WriteBadRequest(w, "consultationId and type are required")
		return
	}

	creds, err := h.service.Initiate(r.Context(), actor, req.ConsultationID, req.Type)
	if err != nil {
		httpx.WriteError(w, r, "call_initiate", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusCreated, creds)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := myMiddleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	session, err := h.service.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, "call_get", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, session)
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	actor, ok := myMiddleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	creds, err := h.service.Accept(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, "call_accept", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, creds)
}

func (h *Handler) Decline(w http.ResponseWriter, r *http.Request) {
	actor, ok := myMiddleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	session, err := h.service.Decline(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, "call_decline", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, session)
}

func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	actor, ok := myMiddleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	session, err := h.service.End(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, "call_end", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, session)
}

func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	actor, ok := myMiddleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	creds, err := h.service.Token(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, "call_token", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, creds)
}
