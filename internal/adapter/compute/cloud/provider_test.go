package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openclave/controlplane/internal/domain/workspace"
	"github.com/openclave/controlplane/internal/port/computeprovider"
)

var _ computeprovider.Provider = (*Provider)(nil)

func TestProviderName(t *testing.T) {
	p := NewProvider("http://localhost", "")
	if p.Name() != "cloud" {
		t.Fatalf("expected 'cloud', got %q", p.Name())
	}
}

func TestCreateWorkspace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected bearer auth, got %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/v1/instances" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body createInstanceRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.RegionID != "nyc1" {
			t.Errorf("expected region nyc1, got %q", body.RegionID)
		}
		url := "https://1.2.3.4"
		_ = json.NewEncoder(w).Encode(instanceResponse{InstanceID: "inst-1", URL: &url})
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, "test-key")
	result, err := p.CreateWorkspace(context.Background(), computeprovider.CreateParams{
		Subdomain: "my-ws",
		RegionID:  "nyc1",
		ImageID:   "img-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExternalInstanceID != "inst-1" {
		t.Fatalf("expected instance id 'inst-1', got %q", result.ExternalInstanceID)
	}
	if result.UpstreamURL == nil || *result.UpstreamURL != "https://1.2.3.4" {
		t.Fatalf("unexpected upstream url: %+v", result.UpstreamURL)
	}
}

func TestInstanceActions(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, "")
	w := &workspace.Workspace{ExternalInstanceID: "inst-1"}

	if err := p.StopWorkspace(context.Background(), w); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if gotPath != "/v1/instances/inst-1/stop" {
		t.Fatalf("unexpected path %q", gotPath)
	}

	if err := p.RestartWorkspace(context.Background(), w); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if gotPath != "/v1/instances/inst-1/restart" {
		t.Fatalf("unexpected path %q", gotPath)
	}

	if err := p.TerminateWorkspace(context.Background(), w); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if gotPath != "/v1/instances/inst-1/terminate" {
		t.Fatalf("unexpected path %q", gotPath)
	}
}

func TestSandboxRunUnsupported(t *testing.T) {
	p := NewProvider("http://localhost", "")
	if _, err := p.StartSandboxRun(context.Background(), "run-1", "", "o", "r", "main"); err != computeprovider.ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if err := p.StopSandboxRun(context.Background(), "x"); err != computeprovider.ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestErrorResponseSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	p := NewProvider(srv.URL, "")
	if _, err := p.CreateWorkspace(context.Background(), computeprovider.CreateParams{}); err == nil {
		t.Fatal("expected error")
	}
}
