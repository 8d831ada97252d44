package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openclave/controlplane/internal/domain"
	"github.com/openclave/controlplane/internal/domain/agentloop"
	"github.com/openclave/controlplane/internal/domain/user"
	"github.com/openclave/controlplane/internal/port/database"
)

type loopHandlerStubStore struct {
	database.Store
	loops map[string]*agentloop.Loop
	runs  map[string]*agentloop.Run
	list  []agentloop.Loop
}

func newLoopHandlerStubStore() *loopHandlerStubStore {
	return &loopHandlerStubStore{loops: map[string]*agentloop.Loop{}, runs: map[string]*agentloop.Run{}}
}

func (s *loopHandlerStubStore) GetLoop(_ context.Context, id string) (*agentloop.Loop, error) {
	if loop, ok := s.loops[id]; ok {
		return loop, nil
	}
	return nil, domain.ErrNotFound
}

func (s *loopHandlerStubStore) ListLoopsByUser(_ context.Context, userID string) ([]agentloop.Loop, error) {
	return s.list, nil
}

func (s *loopHandlerStubStore) GetRun(_ context.Context, id string) (*agentloop.Run, error) {
	if run, ok := s.runs[id]; ok {
		return run, nil
	}
	return nil, domain.ErrNotFound
}

func (s *loopHandlerStubStore) ListRunsByLoop(_ context.Context, loopID string) ([]agentloop.Run, error) {
	var out []agentloop.Run
	for _, r := range s.runs {
		if r.LoopID == loopID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func TestGetLoop_NotFound(t *testing.T) {
	store := newLoopHandlerStubStore()
	h := &Handlers{Store: store}
	u := &user.User{ID: "u1", Role: user.RoleUser}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/loops/missing", nil)
	req = withAuthUser(req, u)
	req = withURLParam(req, "id", "missing")
	rec := httptest.NewRecorder()
	h.GetLoop(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetLoop_RejectsOtherAccount(t *testing.T) {
	store := newLoopHandlerStubStore()
	store.loops["l1"] = &agentloop.Loop{ID: "l1", UserID: "owner"}
	h := &Handlers{Store: store}
	u := &user.User{ID: "intruder", Role: user.RoleUser}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/loops/l1", nil)
	req = withAuthUser(req, u)
	req = withURLParam(req, "id", "l1")
	rec := httptest.NewRecorder()
	h.GetLoop(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestGetLoop_OwnerSuccess(t *testing.T) {
	store := newLoopHandlerStubStore()
	store.loops["l1"] = &agentloop.Loop{ID: "l1", UserID: "owner"}
	h := &Handlers{Store: store}
	u := &user.User{ID: "owner", Role: user.RoleUser}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/loops/l1", nil)
	req = withAuthUser(req, u)
	req = withURLParam(req, "id", "l1")
	rec := httptest.NewRecorder()
	h.GetLoop(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestListLoops(t *testing.T) {
	store := newLoopHandlerStubStore()
	store.list = []agentloop.Loop{{ID: "l1", UserID: "u1"}}
	h := &Handlers{Store: store}
	u := &user.User{ID: "u1", Role: user.RoleUser}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/loops", nil)
	req = withAuthUser(req, u)
	rec := httptest.NewRecorder()
	h.ListLoops(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestDeleteLoop_RejectsOtherAccount(t *testing.T) {
	store := newLoopHandlerStubStore()
	store.loops["l1"] = &agentloop.Loop{ID: "l1", UserID: "owner"}
	h := &Handlers{Store: store}
	u := &user.User{ID: "intruder", Role: user.RoleUser}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/loops/l1", nil)
	req = withAuthUser(req, u)
	req = withURLParam(req, "id", "l1")
	rec := httptest.NewRecorder()
	h.DeleteLoop(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestGetRun_RejectsOtherAccount(t *testing.T) {
	store := newLoopHandlerStubStore()
	store.loops["l1"] = &agentloop.Loop{ID: "l1", UserID: "owner"}
	store.runs["r1"] = &agentloop.Run{ID: "r1", LoopID: "l1"}
	h := &Handlers{Store: store}
	u := &user.User{ID: "intruder", Role: user.RoleUser}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/r1", nil)
	req = withAuthUser(req, u)
	req = withURLParam(req, "id", "r1")
	rec := httptest.NewRecorder()
	h.GetRun(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	store := newLoopHandlerStubStore()
	h := &Handlers{Store: store}
	u := &user.User{ID: "u1", Role: user.RoleUser}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil)
	req = withAuthUser(req, u)
	req = withURLParam(req, "id", "missing")
	rec := httptest.NewRecorder()
	h.GetRun(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetRun_OwnerSuccess(t *testing.T) {
	store := newLoopHandlerStubStore()
	store.loops["l1"] = &agentloop.Loop{ID: "l1", UserID: "owner"}
	store.runs["r1"] = &agentloop.Run{ID: "r1", LoopID: "l1"}
	h := &Handlers{Store: store}
	u := &user.User{ID: "owner", Role: user.RoleUser}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/r1", nil)
	req = withAuthUser(req, u)
	req = withURLParam(req, "id", "r1")
	rec := httptest.NewRecorder()
	h.GetRun(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCreateLoop_RejectsMissingFields(t *testing.T) {
	store := newLoopHandlerStubStore()
	h := &Handlers{Store: store}
	u := &user.User{ID: "u1", Role: user.RoleUser}

	body := bytes.NewBufferString(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/loops", body)
	req = withAuthUser(req, u)
	rec := httptest.NewRecorder()
	h.CreateLoop(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestLoopCallback_RejectsMissingRunID(t *testing.T) {
	h := &Handlers{}

	body := bytes.NewBufferString(`{"success":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/loops/callback", body)
	rec := httptest.NewRecorder()
	h.LoopCallback(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
