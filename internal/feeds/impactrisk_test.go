package feeds

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/perigee-sky/perigee/internal/astro"
)

func TestImpactRiskFetchAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"count": "2",
			"data": []map[string]any{
				{
					"des":      "101955",
					"fullname": "101955 Bennu (1999 RQ36)",
					"ip":       "5.7e-4",
					"ts_max":   "0",
					"ps_max":   "-1.41",
					"diameter": "0.49",
					"v_inf":    "5.99",
					"h":        "20.19",
					"n_imp":    78,
					"range":    "2178-2290",
					"last_obs": "2023-07-21",
				},
				// No designation: unusable, skipped.
				{"fullname": "orphan", "ip": "0.001"},
			},
		})
	}))
	defer srv.Close()

	client := NewImpactRiskClient(fastOptions(srv.URL))
	sess := client.Acquire()
	defer sess.Close()

	records, err := sess.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll() = %v, want nil", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	rec := records[0]
	if rec.Designation != "101955" {
		t.Errorf("Designation = %q, want 101955", rec.Designation)
	}
	if rec.IP != 5.7e-4 {
		t.Errorf("IP = %g, want 5.7e-4", rec.IP)
	}
	if rec.TSMax != 0 {
		t.Errorf("TSMax = %d, want 0", rec.TSMax)
	}
	if rec.PSMax != -1.41 {
		t.Errorf("PSMax = %g, want -1.41", rec.PSMax)
	}
	if rec.NImp != 78 {
		t.Errorf("NImp = %d, want 78", rec.NImp)
	}
	if want := (astro.YearList{2178, 2290}); !reflect.DeepEqual(rec.ImpactYears, want) {
		t.Errorf("ImpactYears = %v, want %v", rec.ImpactYears, want)
	}
	// Normalize derived the omitted fields.
	if rec.ThreatLevel != astro.ThreatLevelVeryLow {
		t.Errorf("ThreatLevel = %q, want %q", rec.ThreatLevel, astro.ThreatLevelVeryLow)
	}
	if rec.EnergyMegatons <= 0 {
		t.Errorf("EnergyMegatons = %g, want derived positive value", rec.EnergyMegatons)
	}
	if !rec.ImpactCategory.IsValid() {
		t.Errorf("ImpactCategory = %q, want a valid category", rec.ImpactCategory)
	}
}

func TestImpactRiskFetchOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("des") {
		case "99942":
			json.NewEncoder(w).Encode(map[string]any{
				"summary": map[string]any{
					"des":      "99942",
					"fullname": "99942 Apophis (2004 MN4)",
					"ip":       "0.0",
					"ts_max":   "0",
					"ps_max":   "-3.1",
					"diameter": "0.340",
					"v_inf":    "5.84",
					"h":        "19.7",
					"n_imp":    2,
				},
				"data": []map[string]any{
					{"date": "2060-04-12.77", "ip": "1e-9"},
					{"date": "2068-04-12.60", "ip": "2e-9"},
					{"date": "2068-10-02.11", "ip": "1e-10"},
				},
			})
		case "removed":
			json.NewEncoder(w).Encode(map[string]any{
				"error": "specified object removed from sentry",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewImpactRiskClient(fastOptions(srv.URL))
	sess := client.Acquire()
	defer sess.Close()

	rec, err := sess.FetchOne(context.Background(), "99942")
	if err != nil {
		t.Fatalf("FetchOne() = %v, want nil", err)
	}
	if rec == nil {
		t.Fatal("FetchOne() = nil, want record")
	}
	if rec.ThreatLevel != astro.ThreatLevelZero {
		t.Errorf("ThreatLevel = %q, want %q", rec.ThreatLevel, astro.ThreatLevelZero)
	}
	// Scenario years are distinct calendar years in feed order.
	if want := (astro.YearList{2060, 2068}); !reflect.DeepEqual(rec.ImpactYears, want) {
		t.Errorf("ImpactYears = %v, want %v", rec.ImpactYears, want)
	}

	// A missing object is nil, not an error.
	rec, err = sess.FetchOne(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("FetchOne(missing) = %v, want nil error", err)
	}
	if rec != nil {
		t.Errorf("FetchOne(missing) = %+v, want nil", rec)
	}

	// As is an object the feed reports removed in-band.
	rec, err = sess.FetchOne(context.Background(), "removed")
	if err != nil {
		t.Fatalf("FetchOne(removed) = %v, want nil error", err)
	}
	if rec != nil {
		t.Errorf("FetchOne(removed) = %+v, want nil", rec)
	}
}
