package user

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"go-counsel/internal/httpx"
	"go-counsel/internal/presence"
)

const maxStatusQuery = 200

type Lookup interface {
	GetByID(ctx context.Context, id string) (*User, error)
}

type Handler struct {
	users    Lookup
	presence presence.Tracker
}

func NewHandler(users Lookup, p presence.Tracker) *Handler {
	return &Handler{users: users, presence: p}
}

// Status answers GET /api/users/status?ids=a,b from live connections only.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ids := make([]string, 0)
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		httpx.WriteBadRequest(w, "ids query parameter is required")
		return
	}
	if len(ids) > maxStatusQuery {
		httpx.WriteBadRequest(w, "too many ids")
		return
	}

	httpx.WriteSuccess(w, http.StatusOK, StatusResponse{Statuses: presence.Statuses(r.Context(), h.presence, ids)})
}

// Profile answers GET /api/users/{id} with the public profile and live presence.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, "user_profile", err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, ProfileResponse{User: *u, IsOnline: h.presence.IsOnline(r.Context(), u.ID)})
}
