package user

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"go-counsel/internal/domain"
	"go-counsel/internal/presence"
)

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewTokenService("secret")
	token, err := s.IssueToken(domain.Actor{UserID: "u1", Name: "Ana", Role: domain.RoleLawyer}, time.Hour)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	actor, err := s.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if actor.UserID != "u1" || actor.Name != "Ana" || actor.Role != domain.RoleLawyer {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	t.Parallel()

	s := NewTokenService("secret")

	expired, _ := s.IssueToken(domain.Actor{UserID: "u1", Role: domain.RoleClient}, -time.Minute)
	if _, err := s.ValidateToken(expired); err == nil {
		t.Fatalf("expired token accepted")
	}

	other, _ := NewTokenService("other").IssueToken(domain.Actor{UserID: "u1", Role: domain.RoleClient}, time.Hour)
	if _, err := s.ValidateToken(other); err == nil {
		t.Fatalf("token signed with another secret accepted")
	}

	badRole, _ := s.IssueToken(domain.Actor{UserID: "u1", Role: "ROOT"}, time.Hour)
	if _, err := s.ValidateToken(badRole); err == nil {
		t.Fatalf("unknown role accepted")
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: domain.RoleClient, RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}})
	raw, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := s.ValidateToken(raw); err == nil {
		t.Fatalf("unsigned token accepted")
	}
}

func TestRepositoryGetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectQuery("SELECT id, name, avatar_url, role FROM users").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "avatar_url", "role"}).AddRow("u1", "Ana", "https://cdn/a.png", "LAWYER"))

	u, err := repo.GetByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if u.Name != "Ana" || u.Role != domain.RoleLawyer {
		t.Fatalf("unexpected user %+v", u)
	}

	mock.ExpectQuery("SELECT id, name, avatar_url, role FROM users").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "avatar_url", "role"}))

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStatusHandler(t *testing.T) {
	t.Parallel()

	tracker := presence.NewMemoryTracker()
	_, _ = tracker.RecordConnect(context.Background(), "lawyer", "c1")
	h := NewHandler(nil, tracker)

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/users/status?ids=lawyer,%20client", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body struct {
		Data StatusResponse `json:"data"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if !body.Data.Statuses["lawyer"] || body.Data.Statuses["client"] {
		t.Fatalf("unexpected statuses %+v", body.Data.Statuses)
	}

	rec = httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/users/status", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without ids, got %d", rec.Code)
	}
}

type lookupFunc func(ctx context.Context, id string) (*User, error)

func (f lookupFunc) GetByID(ctx context.Context, id string) (*User, error) { return f(ctx, id) }

func TestProfileHandler(t *testing.T) {
	t.Parallel()

	tracker := presence.NewMemoryTracker()
	_, _ = tracker.RecordConnect(context.Background(), "u1", "c1")
	users := lookupFunc(func(ctx context.Context, id string) (*User, error) {
		if id != "u1" {
			return nil, domain.ErrNotFound
		}
		return &User{ID: "u1", Name: "Ana", Role: domain.RoleLawyer}, nil
	})

	r := chi.NewRouter()
	r.Get("/api/users/{id}", NewHandler(users, tracker).Profile)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/u1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body struct {
		Data ProfileResponse `json:"data"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Data.Name != "Ana" || !body.Data.IsOnline {
		t.Fatalf("unexpected profile %+v", body.Data)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/u2", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
