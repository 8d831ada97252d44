package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openclave/controlplane/internal/domain"
	"github.com/openclave/controlplane/internal/domain/gitintegration"
	"github.com/openclave/controlplane/internal/domain/user"
	"github.com/openclave/controlplane/internal/port/database"
)

type gitStubStore struct {
	database.Store
	byUser  map[string]*gitintegration.Integration
	byID    map[string]*gitintegration.Integration
	deleted []string
}

func newGitStubStore() *gitStubStore {
	return &gitStubStore{byUser: map[string]*gitintegration.Integration{}, byID: map[string]*gitintegration.Integration{}}
}

func (s *gitStubStore) GetGitIntegrationByUser(_ context.Context, userID string) (*gitintegration.Integration, error) {
	if integ, ok := s.byUser[userID]; ok {
		return integ, nil
	}
	return nil, domain.ErrNotFound
}

func (s *gitStubStore) GetGitIntegration(_ context.Context, id string) (*gitintegration.Integration, error) {
	if integ, ok := s.byID[id]; ok {
		return integ, nil
	}
	return nil, domain.ErrNotFound
}

func (s *gitStubStore) DeleteGitIntegration(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func TestGetGitIntegration_NotFound(t *testing.T) {
	store := newGitStubStore()
	h := &Handlers{Store: store}
	u := &user.User{ID: "u1"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/git-integration", nil)
	req = withAuthUser(req, u)
	rec := httptest.NewRecorder()
	h.GetGitIntegration(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetGitIntegration_Found(t *testing.T) {
	store := newGitStubStore()
	store.byUser["u1"] = &gitintegration.Integration{ID: "g1", UserID: "u1"}
	h := &Handlers{Store: store}
	u := &user.User{ID: "u1"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/git-integration", nil)
	req = withAuthUser(req, u)
	rec := httptest.NewRecorder()
	h.GetGitIntegration(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestDeleteGitIntegration_RejectsOtherAccount(t *testing.T) {
	store := newGitStubStore()
	store.byID["g1"] = &gitintegration.Integration{ID: "g1", UserID: "owner"}
	h := &Handlers{Store: store}
	u := &user.User{ID: "intruder"}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/git-integration/g1", nil)
	req = withAuthUser(req, u)
	req = withURLParam(req, "id", "g1")
	rec := httptest.NewRecorder()
	h.DeleteGitIntegration(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if len(store.deleted) != 0 {
		t.Fatal("expected no deletion for mismatched owner")
	}
}

func TestDeleteGitIntegration_Success(t *testing.T) {
	store := newGitStubStore()
	store.byID["g1"] = &gitintegration.Integration{ID: "g1", UserID: "owner"}
	h := &Handlers{Store: store}
	u := &user.User{ID: "owner"}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/git-integration/g1", nil)
	req = withAuthUser(req, u)
	req = withURLParam(req, "id", "g1")
	rec := httptest.NewRecorder()
	h.DeleteGitIntegration(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "g1" {
		t.Fatalf("expected g1 to be deleted, got %v", store.deleted)
	}
}
