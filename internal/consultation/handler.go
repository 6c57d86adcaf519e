package consultation

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-counsel/internal/httpx"
	myMiddleware "go-counsel/internal/middleware"
)

const webhookSecretHeader = "X-Webhook-Secret"

type Handler struct {
	service       *Service
	webhookSecret string
}

func NewHandler(s *Service, webhookSecret string) *Handler {
	return &Handler{service: s, webhookSecret: webhookSecret}
}

// Routes mounts the lifecycle fallbacks under /api/consultations.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/{id}/accept", h.Accept)
	r.Post("/{id}/decline", h.Decline)
	r.Post("/{id}/complete", h.Complete)
	r.Post("/{id}/cancel", h.Cancel)
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	actor, ok := myMiddleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	c, err := h.service.Accept(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, "consultation_accept", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, c)
}

func (h *Handler) Decline(w http.ResponseWriter, r *http.Request) {
	actor, ok := myMiddleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	c, err := h.service.Decline(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, "consultation_decline", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, c)
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	actor, ok := myMiddleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	c, err := h.service.Complete(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, "consultation_complete", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, c)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := myMiddleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req cancelRequest
	// the body is optional
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.WriteBadRequest(w, "invalid request body")
			return
		}
	}
	c, err := h.service.Cancel(r.Context(), actor, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		httpx.WriteError(w, r, "consultation_cancel", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, c)
}

type paymentWebhook struct {
	ConsultationID string `json:"consultationId"`
	ProviderRef    string `json:"providerRef"`
	Status         string `json:"status"`
}

// PaymentWebhook receives the payment provider's callback. Only SUCCEEDED events move state.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get(webhookSecretHeader)
	if h.webhookSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.webhookSecret)) != 1 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req paymentWebhook
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteBadRequest(w, "invalid request body")
		return
	}
	if req.ConsultationID == "" || req.ProviderRef == "" {
		httpx.WriteBadRequest(w, "consultationId and providerRef are required")
		return
	}
	if req.Status != "SUCCEEDED" {
		httpx.WriteSuccess(w, http.StatusOK, map[string]string{"result": "ignored"})
		return
	}

	c, err := h.service.MarkPaid(r.Context(), req.ConsultationID, req.ProviderRef)
	if err != nil {
		httpx.WriteError(w, r, "payment_webhook", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, c)
}
