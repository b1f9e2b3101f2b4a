package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"flight-deal-alerts/internal/offer"
)

var gruRequest = Request{
	Origin:     "REC",
	Dest:       "GRU",
	TripType:   offer.TripOneWay,
	DepartDate: "2026-02-15",
}

const batchJSON = `[
  {"provider":"gflights","origin":"rec","dest":"gru","dep_time":"08:05","arr_time":"11:20","duration_min":195,"airline":"LATAM","price":600,"link":"https://example.test/a"},
  {"provider":"gflights","dep_time":"9h30","arr_time":"12:45","duration_min":-5,"airline":"GOL","price":640},
  {"provider":"gflights","origin":"SSA","dest":"GRU","dep_time":"10:00","arr_time":"13:00","price":500},
  {"provider":"gflights","dep_time":"15:10","arr_time":"18:25","airline":"AZUL","price":0}
]`

func TestHTTPSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("origin"); got != "REC" {
			t.Errorf("origin query = %q, want REC", got)
		}
		if got := r.URL.Query().Get("depart"); got != "2026-02-15" {
			t.Errorf("depart query = %q, want 2026-02-15", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(batchJSON))
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPOptions{BaseURL: srv.URL}, zerolog.Nop())
	offers, err := src.Fetch(context.Background(), gruRequest)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	// The SSA record belongs to another route and is dropped. The rest
	// inherit the requested route.
	if len(offers) != 3 {
		t.Fatalf("len(offers) = %d, want 3", len(offers))
	}

	first := offers[0]
	if first.Origin != "REC" || first.Dest != "GRU" {
		t.Errorf("route = %s-%s, want REC-GRU", first.Origin, first.Dest)
	}
	if first.Confidence != 100 {
		t.Errorf("Confidence = %d, want 100", first.Confidence)
	}

	// Malformed departure time is cleared, negative duration zeroed.
	second := offers[1]
	if second.DepTime != "" {
		t.Errorf("DepTime = %q, want cleared", second.DepTime)
	}
	if second.DurationMin != 0 {
		t.Errorf("DurationMin = %d, want 0", second.DurationMin)
	}

	// A zero price is treated as missing.
	third := offers[2]
	if third.Price != nil {
		t.Errorf("Price = %v, want nil", *third.Price)
	}
}

func TestHTTPSourceFetchGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"message":"upstream scrape failed"}`))
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPOptions{BaseURL: srv.URL}, zerolog.Nop())
	_, err := src.Fetch(context.Background(), gruRequest)
	if err == nil {
		t.Fatal("Fetch() = nil error, want gateway error")
	}
}

func TestFileSourceFetch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "REC-GRU-2026-02-15.json")
	if err := os.WriteFile(path, []byte(batchJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewFileSource(dir, zerolog.Nop())
	offers, err := src.Fetch(context.Background(), gruRequest)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(offers) != 3 {
		t.Fatalf("len(offers) = %d, want 3", len(offers))
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource(t.TempDir(), zerolog.Nop())
	offers, err := src.Fetch(context.Background(), gruRequest)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if offers != nil {
		t.Errorf("offers = %v, want nil for missing file", offers)
	}
}

func TestBatchFileName(t *testing.T) {
	if got := batchFileName(gruRequest); got != "REC-GRU-2026-02-15.json" {
		t.Errorf("batchFileName = %q", got)
	}
	rt := gruRequest
	rt.ReturnDate = "2026-02-22"
	if got := batchFileName(rt); got != "REC-GRU-2026-02-15-2026-02-22.json" {
		t.Errorf("batchFileName = %q", got)
	}
}
