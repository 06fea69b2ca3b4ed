package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gridpoint-io/meterwms/internal/models"
)

func TestClientNotConfigured(t *testing.T) {
	c := NewClient("", "")
	if err := c.Ping(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := c.List(context.Background(), "meters", nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestClientCRUD(t *testing.T) {
	var sawAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		switch {
		case r.URL.Path == "/health":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/api/v1/meters" && r.Method == http.MethodGet:
			if r.URL.Query().Get("status") != "in-stock" {
				t.Errorf("filter not forwarded: %v", r.URL.RawQuery)
			}
			json.NewEncoder(w).Encode([]models.Record{{"id": "m1"}})
		case r.URL.Path == "/api/v1/meters" && r.Method == http.MethodPost:
			var rec models.Record
			json.NewDecoder(r.Body).Decode(&rec)
			rec["id"] = "srv-1"
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(rec)
		case r.URL.Path == "/api/v1/meters/srv-1" && r.Method == http.MethodPut:
			json.NewEncoder(w).Encode(models.Record{"id": "srv-1", "status": "allocated"})
		case r.URL.Path == "/api/v1/meters/srv-1" && r.Method == http.MethodDelete:
			json.NewEncoder(w).Encode(map[string]string{"deleted": "srv-1"})
		case r.URL.Path == "/api/v1/meters/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token")
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if sawAuth != "Bearer test-token" {
		t.Errorf("bearer token not sent, got %q", sawAuth)
	}

	records, err := c.List(ctx, "meters", map[string]string{"status": "in-stock"})
	if err != nil || len(records) != 1 {
		t.Fatalf("list failed: %v (%d records)", err, len(records))
	}

	created, err := c.Insert(ctx, "meters", models.Record{"serial_number": "SN-1"})
	if err != nil || created.ID() != "srv-1" {
		t.Fatalf("insert failed: %v (%v)", err, created)
	}

	updated, err := c.Update(ctx, "meters", "srv-1", models.Record{"status": "allocated"})
	if err != nil || updated["status"] != "allocated" {
		t.Fatalf("update failed: %v (%v)", err, updated)
	}

	if err := c.Delete(ctx, "meters", "srv-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := c.Get(ctx, "meters", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClientStructuredErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "meter already sold"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Update(context.Background(), "meters", "m1", models.Record{"status": "sold"})

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.StatusCode != http.StatusConflict || reqErr.Message != "meter already sold" {
		t.Errorf("error not parsed: %+v", reqErr)
	}
}
