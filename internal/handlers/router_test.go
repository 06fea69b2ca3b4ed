package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gridpoint-io/meterwms/internal/inventory"
	"github.com/gridpoint-io/meterwms/internal/models"
	"github.com/gridpoint-io/meterwms/internal/remote"
	"github.com/gridpoint-io/meterwms/internal/store"
	"github.com/gridpoint-io/meterwms/internal/sync"
	"github.com/gridpoint-io/meterwms/internal/utils"
	"github.com/gridpoint-io/meterwms/internal/websocket"
)

// newTestRouter wires a router over an in-memory store with no remote
// configured, so every write takes the offline path.
func newTestRouter(t *testing.T) *Router {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	rc := remote.NewClient("", "")
	monitor := sync.NewMonitor(rc, sync.MonitorConfig{
		Retry: utils.RetryConfig{Attempts: 1, BaseDelay: time.Millisecond},
	})
	engine := sync.NewEngine(st, rc, monitor, sync.EngineConfig{OpTimeout: time.Second})
	inv := inventory.NewFacade(st, rc, monitor, engine)

	hub := websocket.NewHub()
	go hub.Run()

	return NewRouter(inv, hub)
}

func doJSON(t *testing.T, router *Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)
	rr := doJSON(t, router, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestMeterLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	rr := doJSON(t, router, http.MethodPost, "/api/meters", models.Meter{SerialNumber: "SN-1", Model: "GX-100"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", rr.Code, rr.Body.String())
	}
	var created models.Record
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if created.ID() == "" {
		t.Fatal("created meter has no id")
	}

	rr = doJSON(t, router, http.MethodGet, "/api/meters", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list failed: %d", rr.Code)
	}
	var meters []models.Record
	json.Unmarshal(rr.Body.Bytes(), &meters)
	if len(meters) != 1 {
		t.Fatalf("expected 1 meter, got %d", len(meters))
	}

	// Forbidden transition yields 409.
	rr = doJSON(t, router, http.MethodPut, "/api/meters/"+created.ID()+"/status",
		map[string]string{"status": "sold"})
	if rr.Code != http.StatusConflict {
		t.Errorf("invalid transition should be 409, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodPut, "/api/meters/"+created.ID()+"/status",
		map[string]string{"status": "allocated"})
	if rr.Code != http.StatusOK {
		t.Errorf("valid transition failed: %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, router, http.MethodGet, "/api/sync/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("sync status failed: %d", rr.Code)
	}
	var status struct {
		Pending int `json:"pending"`
	}
	json.Unmarshal(rr.Body.Bytes(), &status)
	if status.Pending != 2 {
		t.Errorf("expected 2 pending operations, got %d", status.Pending)
	}
}

func TestUnknownMeterIs404(t *testing.T) {
	router := newTestRouter(t)
	rr := doJSON(t, router, http.MethodPut, "/api/meters/nope/status", map[string]string{"status": "allocated"})
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestConflictsEndpointEmpty(t *testing.T) {
	router := newTestRouter(t)
	rr := doJSON(t, router, http.MethodGet, "/api/conflicts?unresolved=true", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var conflicts []models.Conflict
	if err := json.Unmarshal(rr.Body.Bytes(), &conflicts); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if len(conflicts) != 0 {
		t.Errorf("expected no conflicts, got %d", len(conflicts))
	}
}

func TestClearDataEndpoint(t *testing.T) {
	router := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/api/customers", models.Customer{Name: "ACME"})

	rr := doJSON(t, router, http.MethodDelete, "/api/data", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("clear failed: %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodGet, "/api/customers", nil)
	var customers []models.Record
	json.Unmarshal(rr.Body.Bytes(), &customers)
	if len(customers) != 0 {
		t.Errorf("expected empty customer list, got %d", len(customers))
	}
}

func TestMeterLabelsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/api/meters", models.Meter{SerialNumber: "SN-1"})

	rr := doJSON(t, router, http.MethodPost, "/api/meters/labels", map[string]interface{}{})
	if rr.Code != http.StatusOK {
		t.Fatalf("label generation failed: %d %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("expected PDF content type, got %q", ct)
	}
}
