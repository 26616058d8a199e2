package geo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewHTTPClientEmptyBaseURL(t *testing.T) {
	if c := NewHTTPClient("", nil); c != nil {
		t.Error("expected nil client when base URL is empty")
	}
}

func TestNilClientReturnsNotConfigured(t *testing.T) {
	var c *HTTPClient
	if _, err := c.DistanceKm(context.Background(), "Paris", "Lyon"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestDistanceKm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("from") != "Paris" || r.URL.Query().Get("to") != "Lyon" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"distance_km": 465.5}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil)
	km, err := c.DistanceKm(context.Background(), "Paris", "Lyon")
	if err != nil {
		t.Fatalf("distance: %v", err)
	}
	if km != 465.5 {
		t.Errorf("expected 465.5, got %f", km)
	}
}

func TestDistanceKmServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil)
	if _, err := c.DistanceKm(context.Background(), "Paris", "Lyon"); err == nil {
		t.Error("expected error on 502")
	}
}

func TestDistanceKmMissingPlace(t *testing.T) {
	c := NewHTTPClient("http://localhost:1", nil)
	if _, err := c.DistanceKm(context.Background(), "Paris", ""); err == nil {
		t.Error("expected error when destination is empty")
	}
}
