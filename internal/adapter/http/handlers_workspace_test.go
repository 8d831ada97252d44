package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openclave/controlplane/internal/domain"
	"github.com/openclave/controlplane/internal/domain/user"
	"github.com/openclave/controlplane/internal/domain/workspace"
	"github.com/openclave/controlplane/internal/port/database"
)

type workspaceHandlerStubStore struct {
	database.Store
	byID map[string]*workspace.Workspace
	list []workspace.Workspace
}

func newWorkspaceHandlerStubStore() *workspaceHandlerStubStore {
	return &workspaceHandlerStubStore{byID: map[string]*workspace.Workspace{}}
}

func (s *workspaceHandlerStubStore) GetWorkspace(_ context.Context, id string) (*workspace.Workspace, error) {
	if ws, ok := s.byID[id]; ok {
		return ws, nil
	}
	return nil, domain.ErrNotFound
}

func (s *workspaceHandlerStubStore) ListWorkspacesByUser(_ context.Context, userID string) ([]workspace.Workspace, error) {
	return s.list, nil
}

func TestGetWorkspace_NotFound(t *testing.T) {
	store := newWorkspaceHandlerStubStore()
	h := &Handlers{Store: store}
	u := &user.User{ID: "u1", Role: user.RoleUser}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workspaces/missing", nil)
	req = withAuthUser(req, u)
	req = withURLParam(req, "id", "missing")
	rec := httptest.NewRecorder()
	h.GetWorkspace(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetWorkspace_RejectsOtherAccount(t *testing.T) {
	store := newWorkspaceHandlerStubStore()
	store.byID["w1"] = &workspace.Workspace{ID: "w1", UserID: "owner"}
	h := &Handlers{Store: store}
	u := &user.User{ID: "intruder", Role: user.RoleUser}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workspaces/w1", nil)
	req = withAuthUser(req, u)
	req = withURLParam(req, "id", "w1")
	rec := httptest.NewRecorder()
	h.GetWorkspace(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestGetWorkspace_AdminBypassesOwnershipCheck(t *testing.T) {
	store := newWorkspaceHandlerStubStore()
	store.byID["w1"] = &workspace.Workspace{ID: "w1", UserID: "owner"}
	h := &Handlers{Store: store}
	u := &user.User{ID: "admin", Role: user.RoleAdmin}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workspaces/w1", nil)
	req = withAuthUser(req, u)
	req = withURLParam(req, "id", "w1")
	rec := httptest.NewRecorder()
	h.GetWorkspace(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGetWorkspace_OwnerSuccess(t *testing.T) {
	store := newWorkspaceHandlerStubStore()
	store.byID["w1"] = &workspace.Workspace{ID: "w1", UserID: "owner"}
	h := &Handlers{Store: store}
	u := &user.User{ID: "owner", Role: user.RoleUser}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workspaces/w1", nil)
	req = withAuthUser(req, u)
	req = withURLParam(req, "id", "w1")
	rec := httptest.NewRecorder()
	h.GetWorkspace(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestListWorkspaces(t *testing.T) {
	store := newWorkspaceHandlerStubStore()
	store.list = []workspace.Workspace{{ID: "w1", UserID: "u1"}}
	h := &Handlers{Store: store}
	u := &user.User{ID: "u1", Role: user.RoleUser}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workspaces", nil)
	req = withAuthUser(req, u)
	rec := httptest.NewRecorder()
	h.ListWorkspaces(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStopWorkspace_RejectsOtherAccount(t *testing.T) {
	store := newWorkspaceHandlerStubStore()
	store.byID["w1"] = &workspace.Workspace{ID: "w1", UserID: "owner"}
	h := &Handlers{Store: store}
	u := &user.User{ID: "intruder", Role: user.RoleUser}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workspaces/w1/stop", nil)
	req = withAuthUser(req, u)
	req = withURLParam(req, "id", "w1")
	rec := httptest.NewRecorder()
	h.StopWorkspace(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestTerminateWorkspace_NotFound(t *testing.T) {
	store := newWorkspaceHandlerStubStore()
	h := &Handlers{Store: store}
	u := &user.User{ID: "u1", Role: user.RoleUser}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workspaces/missing/terminate", nil)
	req = withAuthUser(req, u)
	req = withURLParam(req, "id", "missing")
	rec := httptest.NewRecorder()
	h.TerminateWorkspace(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCreateWorkspace_RejectsMissingFields(t *testing.T) {
	store := newWorkspaceHandlerStubStore()
	h := &Handlers{Store: store}
	u := &user.User{ID: "u1", Role: user.RoleUser}

	body := bytes.NewBufferString(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workspaces", body)
	req = withAuthUser(req, u)
	rec := httptest.NewRecorder()
	h.CreateWorkspace(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHeartbeat_RejectsMissingWorkspaceToken(t *testing.T) {
	h := &Handlers{}

	body := bytes.NewBufferString(`{"workspace_id":"w1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workspaces/heartbeat", body)
	rec := httptest.NewRecorder()
	h.Heartbeat(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
