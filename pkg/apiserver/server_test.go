package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dossierflow/dossierflow/pkg/access"
	"github.com/dossierflow/dossierflow/pkg/auth"
	"github.com/dossierflow/dossierflow/pkg/config"
	"github.com/dossierflow/dossierflow/pkg/directory"
	"github.com/dossierflow/dossierflow/pkg/identity"
	"github.com/dossierflow/dossierflow/pkg/listing"
	"github.com/dossierflow/dossierflow/pkg/model"
	"github.com/dossierflow/dossierflow/pkg/notify"
	"github.com/dossierflow/dossierflow/pkg/store/postgres"
	"github.com/dossierflow/dossierflow/pkg/store/sqlitetest"
	"github.com/dossierflow/dossierflow/pkg/workflow"
)

type healthResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type permissionErrorResponse struct {
	Message  string   `json:"message"`
	Required []string `json:"required"`
	Missing  []string `json:"missing"`
}

func TestHealthEndpoint(t *testing.T) {
	cfg := &config.Config{}
	server := NewServer(cfg, Services{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()

	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}

	var response healthResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != "ok" {
		t.Fatalf("expected status ok, got %q", response.Status)
	}
}

func TestAPIAuthRequired(t *testing.T) {
	cfg := &config.Config{}
	server := NewServer(cfg, Services{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/dossiers", nil)
	recorder := httptest.NewRecorder()

	server.Router().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, recorder.Code)
	}

	var response errorResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Message != "missing authorization" {
		t.Fatalf("expected missing authorization error, got %q", response.Message)
	}
}

const adminPassword = "secret123"

type harness struct {
	t        *testing.T
	server   *Server
	store    *postgres.Store
	tokens   *auth.SessionTokenManager
	admin    *model.User
	clerk    *model.User
	outsider *model.User
	division *model.Division
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()
	store := sqlitetest.Open(t)
	tokens := auth.NewSessionTokenManager([]byte("test-secret"), time.Hour)

	adminProfile := sqlitetest.Profile(t, store, model.ProfileAdmin, access.AllPermissions()...)
	clerkProfile := sqlitetest.Profile(t, store, model.ProfileFonctionnaire,
		access.CreateDossier, access.ViewDossiers, access.ViewDossier)

	division := sqlitetest.Division(t, store, "Urbanisme")
	other := sqlitetest.Division(t, store, "Finances")

	identities := identity.NewService(store, tokens, 4, logger)
	username, email, password := "admin", "admin@example.com", adminPassword
	admin, err := identities.CreateUser(ctx, identity.UserInput{
		Username:  &username,
		Email:     &email,
		Password:  &password,
		ProfileID: &adminProfile.ID,
	})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}

	dispatcher := notify.NewDispatcher(store, logger)
	svc := Services{
		Store:        store,
		Resolver:     access.NewResolver(tokens, postgres.NewUserRepository(store.DB()), access.DefaultScopePolicy()),
		Engine:       workflow.NewEngine(store, dispatcher, logger),
		Instructions: workflow.NewInstructionCatalog(store),
		Listing:      listing.NewService(store),
		Directory:    directory.New(store, logger),
		Identity:     identities,
		Notifier:     dispatcher,
	}

	return &harness{
		t:        t,
		server:   NewServer(&config.Config{}, svc, logger),
		store:    store,
		tokens:   tokens,
		admin:    admin,
		clerk:    sqlitetest.User(t, store, "clerk", clerkProfile, sqlitetest.InDivision(division.ID)),
		outsider: sqlitetest.User(t, store, "outsider", clerkProfile, sqlitetest.InDivision(other.ID)),
		division: division,
	}
}

func (h *harness) token(user *model.User) string {
	h.t.Helper()
	token, err := h.tokens.GenerateSessionToken(user)
	if err != nil {
		h.t.Fatalf("generate token: %v", err)
	}
	return token
}

func (h *harness) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	h.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			h.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.server.Router().ServeHTTP(recorder, req)
	return recorder
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func (h *harness) createDossier(token string) uint {
	h.t.Helper()
	recorder := h.do(http.MethodPost, "/api/dossiers", token, map[string]interface{}{
		"intitule_dossier": "Permis de construire",
		"id_division":      h.division.ID,
	})
	if recorder.Code != http.StatusCreated {
		h.t.Fatalf("create dossier: expected %d, got %d: %s", http.StatusCreated, recorder.Code, recorder.Body.String())
	}
	var created struct {
		Dossier model.Dossier `json:"dossier"`
	}
	decode(h.t, recorder, &created)
	return created.Dossier.ID
}

func TestLoginThenChangeState(t *testing.T) {
	h := newHarness(t)

	recorder := h.do(http.MethodPost, "/api/users/login", "", map[string]string{
		"email":    "ADMIN@example.com",
		"password": adminPassword,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("login: expected %d, got %d: %s", http.StatusOK, recorder.Code, recorder.Body.String())
	}
	var session struct {
		Token       string   `json:"token"`
		Permissions []string `json:"permissions"`
	}
	decode(t, recorder, &session)
	if session.Token == "" {
		t.Fatalf("expected a token")
	}
	if len(session.Permissions) != len(access.AllPermissions()) {
		t.Fatalf("expected %d permissions, got %d", len(access.AllPermissions()), len(session.Permissions))
	}

	id := h.createDossier(session.Token)

	recorder = h.do(http.MethodPost, fmt.Sprintf("/api/situations/%d/change-etat", id), session.Token, map[string]string{
		"nouveau_etat": string(model.LabelEnCours),
		"observation":  "Pièces reçues",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("change state: expected %d, got %d: %s", http.StatusCreated, recorder.Code, recorder.Body.String())
	}
	var change struct {
		Previous string `json:"ancien_etat"`
		Current  string `json:"nouvel_etat"`
	}
	decode(t, recorder, &change)
	if change.Previous != string(model.LabelNouveau) || change.Current != string(model.LabelEnCours) {
		t.Fatalf("unexpected transition %q -> %q", change.Previous, change.Current)
	}

	recorder = h.do(http.MethodGet, fmt.Sprintf("/api/situations/%d/etat", id), session.Token, nil)
	var current struct {
		Label string `json:"etat"`
	}
	decode(t, recorder, &current)
	if current.Label != string(model.LabelEnCours) {
		t.Fatalf("expected current label %q, got %q", model.LabelEnCours, current.Label)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	h := newHarness(t)

	recorder := h.do(http.MethodPost, "/api/users/login", "", map[string]string{
		"email":    "admin@example.com",
		"password": "wrong-password",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, recorder.Code)
	}
}

func TestMissingPermissionPayload(t *testing.T) {
	h := newHarness(t)
	id := h.createDossier(h.token(h.clerk))

	recorder := h.do(http.MethodPost, fmt.Sprintf("/api/situations/%d/change-etat", id), h.token(h.clerk), map[string]string{
		"nouveau_etat": string(model.LabelEnCours),
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, recorder.Code)
	}

	var response permissionErrorResponse
	decode(t, recorder, &response)
	if response.Message != "Insufficient permissions" {
		t.Fatalf("unexpected message %q", response.Message)
	}
	if len(response.Missing) != 1 || response.Missing[0] != access.EditEtat {
		t.Fatalf("expected missing [%s], got %v", access.EditEtat, response.Missing)
	}
}

func TestDossierOutsideScopeIsNotFound(t *testing.T) {
	h := newHarness(t)
	id := h.createDossier(h.token(h.admin))

	path := fmt.Sprintf("/api/dossiers/%d/suivi", id)
	if recorder := h.do(http.MethodGet, path, h.token(h.outsider), nil); recorder.Code != http.StatusNotFound {
		t.Fatalf("outsider: expected status %d, got %d", http.StatusNotFound, recorder.Code)
	}
	if recorder := h.do(http.MethodGet, path, h.token(h.admin), nil); recorder.Code != http.StatusOK {
		t.Fatalf("admin: expected status %d, got %d", http.StatusOK, recorder.Code)
	}

	recorder := h.do(http.MethodGet, "/api/dossiers", h.token(h.outsider), nil)
	var page struct {
		Total int64 `json:"total"`
	}
	decode(t, recorder, &page)
	if page.Total != 0 {
		t.Fatalf("expected outsider to see no dossiers, got %d", page.Total)
	}
}

func TestUnknownSituationLabelRejected(t *testing.T) {
	h := newHarness(t)
	id := h.createDossier(h.token(h.admin))

	recorder := h.do(http.MethodPost, fmt.Sprintf("/api/situations/%d/change-etat", id), h.token(h.admin), map[string]string{
		"nouveau_etat": "Archivé",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, recorder.Code)
	}
	var response errorResponse
	decode(t, recorder, &response)
	if response.Error != "validation" {
		t.Fatalf("expected validation error, got %q", response.Error)
	}
}

func TestInactiveUserRejected(t *testing.T) {
	h := newHarness(t)
	profile := sqlitetest.Profile(t, h.store, model.ProfileGouv, access.ViewDossiers)
	retired := sqlitetest.User(t, h.store, "retired", profile, sqlitetest.Inactive())

	recorder := h.do(http.MethodGet, "/api/dossiers", h.token(retired), nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, recorder.Code)
	}
}

func TestSelfUpdateCannotChangeProfile(t *testing.T) {
	h := newHarness(t)
	path := fmt.Sprintf("/api/users/%d", h.clerk.ID)

	recorder := h.do(http.MethodPut, path, h.token(h.clerk), map[string]interface{}{
		"id_profile": h.admin.ProfileID,
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected status %d, got %d", http.StatusForbidden, recorder.Code)
	}

	recorder = h.do(http.MethodPut, fmt.Sprintf("/api/users/%d", h.outsider.ID), h.token(h.clerk), map[string]interface{}{
		"username": "renamed",
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("editing another user: expected status %d, got %d", http.StatusForbidden, recorder.Code)
	}
}

func TestNotificationsOwnerOnly(t *testing.T) {
	h := newHarness(t)
	h.createDossier(h.token(h.clerk))

	// Every active user other than the creator hears about a new dossier.
	path := fmt.Sprintf("/api/notifications/user/%d/unread-count", h.admin.ID)
	recorder := h.do(http.MethodGet, path, h.token(h.admin), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	var count struct {
		Count int64 `json:"count"`
	}
	decode(t, recorder, &count)
	if count.Count != 1 {
		t.Fatalf("expected 1 unread notification, got %d", count.Count)
	}

	if recorder := h.do(http.MethodGet, path, h.token(h.outsider), nil); recorder.Code != http.StatusForbidden {
		t.Fatalf("outsider: expected status %d, got %d", http.StatusForbidden, recorder.Code)
	}
}

func TestStreamUnavailableWithoutBus(t *testing.T) {
	h := newHarness(t)

	recorder := h.do(http.MethodGet, "/api/notifications/stream", h.token(h.clerk), nil)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, recorder.Code)
	}
}

func TestDeleteUserWithDossiersConflicts(t *testing.T) {
	h := newHarness(t)
	h.createDossier(h.token(h.clerk))

	recorder := h.do(http.MethodDelete, fmt.Sprintf("/api/users/%d", h.clerk.ID), h.token(h.admin), nil)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d: %s", http.StatusConflict, recorder.Code, recorder.Body.String())
	}

	recorder = h.do(http.MethodDelete, fmt.Sprintf("/api/users/%d", h.outsider.ID), h.token(h.admin), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, recorder.Code, recorder.Body.String())
	}
}

func TestSituationSearchAndDashboard(t *testing.T) {
	h := newHarness(t)
	adminToken := h.token(h.admin)
	own := h.createDossier(adminToken)
	h.createDossier(h.token(h.clerk))

	recorder := h.do(http.MethodPost, fmt.Sprintf("/api/situations/%d/change-etat", own), adminToken, map[string]string{
		"nouveau_etat": string(model.LabelEnRetard),
		"observation":  "Relance envoyée",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("change state: expected %d, got %d: %s", http.StatusCreated, recorder.Code, recorder.Body.String())
	}

	var page struct {
		Total      int64 `json:"total"`
		Situations []struct {
			ID      uint   `json:"num_situation"`
			Label   string `json:"libelle_situation"`
			Dossier struct {
				ID uint `json:"num_dossier"`
			} `json:"dossier"`
		} `json:"situations"`
	}
	recorder = h.do(http.MethodGet, "/api/situations/search?search=relance", adminToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("search: expected %d, got %d: %s", http.StatusOK, recorder.Code, recorder.Body.String())
	}
	decode(t, recorder, &page)
	if page.Total != 1 || page.Situations[0].Dossier.ID != own || page.Situations[0].Label != string(model.LabelEnRetard) {
		t.Fatalf("unexpected search result %+v", page)
	}

	recorder = h.do(http.MethodGet, fmt.Sprintf("/api/situations/search?division=%d&dateFrom=2000-01-01", h.division.ID), adminToken, nil)
	decode(t, recorder, &page)
	if page.Total != 3 {
		t.Fatalf("expected 3 situations in the division, got %d", page.Total)
	}

	recorder = h.do(http.MethodGet, "/api/situations/search?status=Archive", adminToken, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unknown label: expected %d, got %d", http.StatusBadRequest, recorder.Code)
	}
	recorder = h.do(http.MethodGet, "/api/situations/search?dateTo=yesterday", adminToken, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("bad date: expected %d, got %d", http.StatusBadRequest, recorder.Code)
	}
	recorder = h.do(http.MethodGet, "/api/situations/search", h.token(h.clerk), nil)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("clerk without EDIT_ETAT: expected %d, got %d", http.StatusForbidden, recorder.Code)
	}

	recorder = h.do(http.MethodGet, "/api/situations/dashboard", adminToken, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("dashboard: expected %d, got %d: %s", http.StatusOK, recorder.Code, recorder.Body.String())
	}
	var board struct {
		Dossiers []struct {
			ID uint `json:"num_dossier"`
		} `json:"dossiers"`
		Statistics []struct {
			Label string `json:"libelle_situation"`
			Count int64  `json:"count"`
		} `json:"statistics"`
		RecentlyModified []struct {
			ID uint `json:"num_dossier"`
		} `json:"recentlyModified"`
	}
	decode(t, recorder, &board)
	if len(board.Dossiers) != 1 || board.Dossiers[0].ID != own {
		t.Fatalf("expected only the admin's dossier, got %+v", board.Dossiers)
	}
	if len(board.Statistics) != 2 || len(board.RecentlyModified) != 1 {
		t.Fatalf("unexpected dashboard %+v", board)
	}
}
