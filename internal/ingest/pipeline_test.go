package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	"github.com/perigee-sky/perigee/internal/config"
	"github.com/perigee-sky/perigee/internal/feeds"
	"github.com/perigee-sky/perigee/internal/store"
)

var fixedNow = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

const wantRunID = "update_20260825T120000Z"

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encoding response: %v", err)
	}
}

// newFeedMux serves all three upstream feeds from one server: a two-body
// hazard list (one PHA, one distant object), per-designation details,
// the given close-approach rows, and the given monitored-object records.
func newFeedMux(t *testing.T, cadRows [][]any, sentryData []map[string]any) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/sbdb_query.api", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"fields": []string{"pdes", "full_name"},
			"data": [][]any{
				{"2023 TEST", "(2023 TEST)"},
				{"2024 XY", "(2024 XY)"},
			},
		})
	})

	details := map[string]map[string]any{
		"2023 TEST": {
			"object": map[string]any{"des": "2023 TEST", "fullname": "(2023 TEST)"},
			"orbit": map[string]any{
				"elements": []any{
					map[string]any{"name": "a", "value": "1.2"},
					map[string]any{"name": "e", "value": "0.3"},
				},
				"moid": map[string]any{"earth": "0.03"},
			},
			"phys_par": []any{
				map[string]any{"name": "H", "value": "20.5"},
				map[string]any{"name": "albedo", "value": "0.15"},
			},
		},
		"2024 XY": {
			"object": map[string]any{"des": "2024 XY"},
			"orbit":  map[string]any{"moid": map[string]any{"earth": "0.2"}},
			"phys_par": []any{
				map[string]any{"name": "H", "value": "22.0"},
			},
		},
	}
	mux.HandleFunc("/sbdb.api", func(w http.ResponseWriter, r *http.Request) {
		detail, ok := details[r.URL.Query().Get("sstr")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(t, w, detail)
	})

	mux.HandleFunc("/cad.api", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"fields": []string{"des", "cd", "dist", "v_rel", "fullname"},
			"data":   cadRows,
		})
	})

	mux.HandleFunc("/sentry.api", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"count": len(sentryData), "data": sentryData})
	})

	return mux
}

func goodCADRows() [][]any {
	return [][]any{
		{"2023 TEST", "2029-Apr-13 21:46", "0.02", "7.42", "(2023 TEST)"},
	}
}

func monitoredSentryData() []map[string]any {
	return []map[string]any{{
		"des": "2023 TEST", "fullname": "(2023 TEST)",
		"ip": "1.2e-5", "ts_max": "1", "ps_max": "-2.5",
		"diameter": "0.27", "v_inf": "7.4", "h": "20.5", "n_imp": "3",
		"range": "2040-2087",
	}}
}

func testIngestConfig() config.IngestConfig {
	return config.IngestConfig{
		ListLimit:          10,
		DetailBatchSize:    10,
		DetailBatchDelay:   time.Millisecond,
		MaxAsteroidsPerRun: 50,
		Workers:            2,
		WorkerDelay:        time.Millisecond,
		ApproachWindowDays: 60,
		MaxDistanceAU:      1.0,
		ThreatChunkSize:    100,
		PrunePastAfter:     24 * time.Hour,
		PruneFutureAfter:   10 * 365 * 24 * time.Hour,
	}
}

func newMockDB(t *testing.T) (*store.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
	db := store.NewWithDB(mockDB, "sqlmock", store.DialectPostgres, nil)
	db.SetClock(func() time.Time { return fixedNow })
	return db, mock
}

func newTestPipeline(t *testing.T, db *store.DB, baseURL string) *Pipeline {
	t.Helper()
	opts := feeds.Options{
		BaseURL:       baseURL,
		RetryAttempts: 2,
		RetryMinWait:  time.Millisecond,
		RetryMaxWait:  2 * time.Millisecond,
	}
	clients := Clients{
		SmallBody:     feeds.NewSmallBodyClient(opts),
		CloseApproach: feeds.NewCloseApproachClient(opts),
		ImpactRisk:    feeds.NewImpactRiskClient(opts),
	}
	p := New(db, clients, testIngestConfig(), zap.NewNop())
	p.SetClock(func() time.Time { return fixedNow })
	return p
}

// expectWriteStages registers the SQL the happy path issues after the
// feed stages: asteroid upsert, approach resolution and upsert, threat
// check and upsert, and the two prune transactions.
func expectWriteStages(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO asteroids .* ON CONFLICT \(designation\) DO UPDATE SET .* RETURNING id, \(xmax = 0\) AS inserted`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).AddRow(int64(1), true))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, designation FROM asteroids WHERE designation IN \(\$1\)`).
		WithArgs("2023 TEST").
		WillReturnRows(sqlmock.NewRows([]string{"id", "designation"}).AddRow(int64(1), "2023 TEST"))
	mock.ExpectQuery(`INSERT INTO close_approaches .* ON CONFLICT \(asteroid_id, approach_time\) DO UPDATE SET .* RETURNING id, \(xmax = 0\) AS inserted`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).AddRow(int64(11), true))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT asteroid_id FROM threat_assessments WHERE asteroid_id IN \(\$1\)`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"asteroid_id"}))
	mock.ExpectQuery(`INSERT INTO threat_assessments .* ON CONFLICT \(asteroid_id\) DO UPDATE SET .* RETURNING id, \(xmax = 0\) AS inserted`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "inserted"}).AddRow(int64(21), true))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM close_approaches WHERE approach_time < \$1`).
		WithArgs(fixedNow.Add(-24 * time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM close_approaches WHERE approach_time > \$1`).
		WithArgs(fixedNow.Add(10 * 365 * 24 * time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()
}

func TestRunFullPipeline(t *testing.T) {
	server := httptest.NewServer(newFeedMux(t, goodCADRows(), monitoredSentryData()))
	defer server.Close()

	db, mock := newMockDB(t)
	expectWriteStages(mock)

	p := newTestPipeline(t, db, server.URL)
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Status != StatusSuccess {
		t.Fatalf("Status = %q (%s), want success", report.Status, report.Error)
	}
	if report.UpdateID != wantRunID {
		t.Errorf("UpdateID = %q, want %q", report.UpdateID, wantRunID)
	}
	if want := (AsteroidStats{Total: 2, PHACount: 1, Created: 1}); report.Asteroids != want {
		t.Errorf("Asteroids = %+v, want %+v", report.Asteroids, want)
	}
	if want := (ApproachStats{Computed: 1, Saved: 1, WithThreats: 1}); report.Approaches != want {
		t.Errorf("Approaches = %+v, want %+v", report.Approaches, want)
	}
	if want := (PruneStats{Past: 1, Future: 2}); report.Pruned != want {
		t.Errorf("Pruned = %+v, want %+v", report.Pruned, want)
	}
	if report.ParseErrors != 0 {
		t.Errorf("ParseErrors = %d, want 0", report.ParseErrors)
	}
}

func TestRunEmptyListShortCircuits(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sbdb_query.api", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"fields": []string{"pdes"}, "data": [][]any{}})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	// No SQL expectations: an empty list must touch nothing.
	db, _ := newMockDB(t)
	p := newTestPipeline(t, db, server.URL)

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != StatusSuccess {
		t.Errorf("Status = %q, want success", report.Status)
	}
	if report.Asteroids.Total != 0 {
		t.Errorf("Total = %d, want 0", report.Asteroids.Total)
	}
}

func TestRunSkipsMalformedTimestamp(t *testing.T) {
	rows := append(goodCADRows(),
		[]any{"2023 TEST", "not-a-date", "0.01", "5.0", "(2023 TEST)"})
	server := httptest.NewServer(newFeedMux(t, rows, monitoredSentryData()))
	defer server.Close()

	db, mock := newMockDB(t)
	expectWriteStages(mock)

	p := newTestPipeline(t, db, server.URL)
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Status != StatusSuccess {
		t.Fatalf("Status = %q (%s), want success", report.Status, report.Error)
	}
	if report.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", report.ParseErrors)
	}
	if report.Approaches.Computed != 1 {
		t.Errorf("Computed = %d, want 1 (malformed row dropped, not fabricated)", report.Approaches.Computed)
	}
}

func TestRunDerivesThreatWhenFeedDown(t *testing.T) {
	mux := newFeedMux(t, goodCADRows(), nil)

	// Swap in a failing sentry endpoint; the pipeline must degrade to
	// local derivation and still write the assessment.
	broken := http.NewServeMux()
	broken.HandleFunc("/sentry.api", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	broken.Handle("/", mux)

	brokenServer := httptest.NewServer(broken)
	defer brokenServer.Close()

	db, mock := newMockDB(t)
	expectWriteStages(mock)

	p := newTestPipeline(t, db, brokenServer.URL)
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != StatusSuccess {
		t.Fatalf("Status = %q (%s), want success", report.Status, report.Error)
	}
	if report.Approaches.WithThreats != 1 {
		t.Errorf("WithThreats = %d, want 1", report.Approaches.WithThreats)
	}
}

func TestRunFeedFailureAborts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sbdb_query.api", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	db, _ := newMockDB(t)
	p := newTestPipeline(t, db, server.URL)

	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != StatusError {
		t.Errorf("Status = %q, want error", report.Status)
	}
	if report.Error == "" {
		t.Error("error report carries no message")
	}
}

func TestRunSingleFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/sbdb_query.api", func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		writeJSON(t, w, map[string]any{"fields": []string{"pdes"}, "data": [][]any{}})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	db, _ := newMockDB(t)
	p := newTestPipeline(t, db, server.URL)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := p.Run(context.Background()); err != nil {
			t.Errorf("first Run: %v", err)
		}
	}()

	<-started
	if _, err := p.Run(context.Background()); err != ErrRunInProgress {
		t.Errorf("overlapping Run: err = %v, want ErrRunInProgress", err)
	}
	close(release)
	<-done
}
