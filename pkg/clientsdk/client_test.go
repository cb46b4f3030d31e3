package clientsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"aegis/pkg/diff"
	"aegis/pkg/models"
)

func testDesired() models.DesiredConfig {
	return models.DesiredConfig{
		Name:    "intranet",
		ZoneRef: "zone-1",
		Domain:  "app.example.com",
		Rules:   []models.Rule{{Kind: models.RuleEmailDomain, Value: "example.com"}},
	}
}

func TestUpsertSendsHeadersAndBody(t *testing.T) {
	var gotPath, gotAuth, gotTenant, gotActor string
	var gotBody models.DesiredConfig
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotTenant = r.Header.Get("X-Tenant")
		gotActor = r.Header.Get("X-Actor")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(UpsertResult{
			Policy: models.Policy{ExternalID: "ext-1", Status: models.StatusActive},
			Action: diff.ActionCreated,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-1", "tenant-1", time.Second)
	c.Actor = "admin"
	res, err := c.Upsert(context.Background(), testDesired())
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res.Action != diff.ActionCreated || res.Policy.ExternalID != "ext-1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if gotPath != "/v1/policies:upsert" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotAuth != "Bearer tok-1" || gotTenant != "tenant-1" || gotActor != "admin" {
		t.Fatalf("headers: auth=%q tenant=%q actor=%q", gotAuth, gotTenant, gotActor)
	}
	if gotBody.Domain != "app.example.com" {
		t.Fatalf("body not forwarded: %+v", gotBody)
	}
}

func TestAPIErrorDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "validation failed: rules required"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", "tenant-1", time.Second)
	_, err := c.CreatePolicy(context.Background(), testDesired())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Message != "validation failed: rules required" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestGetAndDeleteEscapeExternalID(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.EscapedPath())
		_ = json.NewEncoder(w).Encode(models.Policy{ExternalID: "a b"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", "tenant-1", time.Second)
	if _, err := c.GetPolicy(context.Background(), "a b"); err != nil {
		t.Fatal(err)
	}
	if err := c.DeletePolicy(context.Background(), "a b"); err != nil {
		t.Fatal(err)
	}
	for _, p := range paths {
		if p != "/v1/policies/a%20b" {
			t.Fatalf("path not escaped: %s", p)
		}
	}
}

func TestListPoliciesAndZones(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/policies":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"policies": []models.Policy{{ExternalID: "ext-1"}, {ExternalID: "ext-2"}},
			})
		case "/v1/zones":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"zones": []models.Zone{{ID: "z1", Name: "example.com"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", "tenant-1", time.Second)
	policies, err := c.ListPolicies(context.Background())
	if err != nil || len(policies) != 2 {
		t.Fatalf("list policies: %v %d", err, len(policies))
	}
	zones, err := c.ListZones(context.Background())
	if err != nil || len(zones) != 1 || zones[0].Name != "example.com" {
		t.Fatalf("list zones: %v %+v", err, zones)
	}
}

func TestBulkCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in []models.DesiredConfig
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(BulkResult{
			Policies: []models.Policy{{ExternalID: "ext-1"}},
			Errors:   []diff.ItemError{{Index: 1, Message: "rules required"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", "tenant-1", time.Second)
	res, err := c.BulkCreate(context.Background(), []models.DesiredConfig{testDesired(), {}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Policies) != 1 || len(res.Errors) != 1 || res.Errors[0].Index != 1 {
		t.Fatalf("unexpected bulk result: %+v", res)
	}
}

func TestSyncPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/policies/ext-1/sync" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(models.Policy{ExternalID: "ext-1", Status: models.StatusActive})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", "tenant-1", time.Second)
	p, err := c.SyncPolicy(context.Background(), "ext-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != models.StatusActive {
		t.Fatalf("unexpected policy: %+v", p)
	}
}
