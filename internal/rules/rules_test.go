package rules

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/check" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("lat") == "" || r.URL.Query().Get("lng") == "" {
			t.Fatalf("missing coordinates")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"address": "1060 W Addison St",
			"rules": [
				{"type": "street_cleaning", "message": "Street cleaning Tuesday", "severity": "warning"},
				{"type": "permit_zone", "message": "Permit zone 383", "severity": "warning", "zone": "383"}
			],
			"enforcement_risk": {"urgency": "high", "score": 0.91, "historical_ticket_count": 42}
		}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	result, err := client.Check(context.Background(), 41.9484, -87.6553)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Address != "1060 W Addison St" {
		t.Fatalf("unexpected address: %s", result.Address)
	}
	if len(result.Rules) != 2 || result.Rules[1].Zone != "383" {
		t.Fatalf("unexpected rules: %+v", result.Rules)
	}
	if !result.HasActive() {
		t.Fatalf("expected active restrictions")
	}
	if result.Risk.Urgency != "high" || result.Risk.TicketCount != 42 {
		t.Fatalf("unexpected risk: %+v", result.Risk)
	}
}

func TestCheckAllClear(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"address": "233 S Wacker Dr", "rules": [], "enforcement_risk": {"urgency": "low"}}`))
	}))
	defer srv.Close()

	result, err := NewClient(srv.URL).Check(context.Background(), 41.8789, -87.6359)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.HasActive() {
		t.Fatalf("expected all clear")
	}
}

func TestCheckServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).Check(context.Background(), 41.88, -87.63); err == nil {
		t.Fatalf("expected error on bad status")
	}
}

func TestCheckUnreachable(t *testing.T) {
	if _, err := NewClient("http://127.0.0.1:1").Check(context.Background(), 41.88, -87.63); err == nil {
		t.Fatalf("expected connection error")
	}
}
