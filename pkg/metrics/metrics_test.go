package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRegistryCounters(t *testing.T) {
	r := NewRegistry()
	r.IncSyncOutcome(true)
	r.IncSyncOutcome(true)
	r.IncSyncOutcome(false)
	r.IncUpsertAction("skipped")
	r.IncProviderCall("create_application")
	r.IncDeleteOutcome(true)

	snap := r.Snapshot()
	if snap.SyncOutcomes["success"] != 2 || snap.SyncOutcomes["failure"] != 1 {
		t.Fatalf("unexpected sync outcomes: %+v", snap.SyncOutcomes)
	}
	if snap.UpsertActions["skipped"] != 1 {
		t.Fatalf("unexpected upsert actions: %+v", snap.UpsertActions)
	}
	if snap.ProviderCalls["create_application"] != 1 {
		t.Fatalf("unexpected provider calls: %+v", snap.ProviderCalls)
	}
	if snap.DeleteOutcomes["success"] != 1 {
		t.Fatalf("unexpected delete outcomes: %+v", snap.DeleteOutcomes)
	}
}

func TestRegistryNilSafe(t *testing.T) {
	var r *Registry
	r.IncSyncOutcome(true)
	r.IncUpsertAction("created")
	r.Observe("GET /x", 200, time.Millisecond)
	snap := r.Snapshot()
	if len(snap.SyncOutcomes) != 0 {
		t.Fatalf("nil registry must stay empty: %+v", snap)
	}
}

func TestObserveEndpoint(t *testing.T) {
	r := NewRegistry()
	r.Observe("POST /v1/policies", 201, 10*time.Millisecond)
	r.Observe("POST /v1/policies", 500, 30*time.Millisecond)

	snap := r.Snapshot()
	stat := snap.Endpoints["POST /v1/policies"]
	if stat.Count != 2 || stat.ErrorCount != 1 {
		t.Fatalf("unexpected stat: %+v", stat)
	}
	if stat.MaxMillis < 30 {
		t.Fatalf("max not tracked: %+v", stat)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	r := NewRegistry()
	h := r.Middleware(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/zones", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	snapRec := httptest.NewRecorder()
	r.Handler().ServeHTTP(snapRec, httptest.NewRequest(http.MethodGet, "/metricsz", nil))
	var snap Snapshot
	if err := json.Unmarshal(snapRec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	stat, ok := snap.Endpoints["GET /v1/zones"]
	if !ok || stat.Count != 1 || stat.ErrorCount != 1 {
		t.Fatalf("middleware did not record: %+v", snap.Endpoints)
	}
}
