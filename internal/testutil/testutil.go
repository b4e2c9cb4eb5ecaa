// Package testutil provides common test utilities and helpers for VisitPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fieldops/VisitPipe/internal/api"
	"github.com/fieldops/VisitPipe/internal/approval"
	"github.com/fieldops/VisitPipe/internal/models"
	"github.com/fieldops/VisitPipe/internal/region"
	"github.com/fieldops/VisitPipe/internal/sms"
	"github.com/fieldops/VisitPipe/internal/store"
	"github.com/fieldops/VisitPipe/internal/syncqueue"
	"github.com/fieldops/VisitPipe/internal/visit"
)

// TestManagerID is the manager recipient used by test servers.
const TestManagerID = "mgr-1"

// TestEnv bundles the in-memory collaborators behind a test API server so
// tests can reach through to seeded state.
type TestEnv struct {
	Server   *api.Server
	Store    *store.InMemoryStore
	Registry *visit.Registry
	Queue    *syncqueue.Queue
	SMS      *sms.MockSender
}

// NewTestServer creates a test API server with in-memory dependencies.
// This centralizes the test server creation logic used across multiple test files.
func NewTestServer(t *testing.T, regions map[string]string) *TestEnv {
	t.Helper()

	st := store.NewInMemoryStore()
	checker := region.NewStaticChecker(regions)
	registry := visit.NewRegistry(checker)
	sender := sms.NewMockSender()

	queue, err := syncqueue.NewQueue(syncqueue.NewMemoryStore(), syncqueue.NewStoreApplier(st), syncqueue.Config{})
	if err != nil {
		t.Fatalf("failed to create sync queue: %v", err)
	}
	queue.SetOnline(context.Background(), true)

	approver := approval.NewRequester(st, sender, TestManagerID)
	otp := sms.NewOTPManager(sender)

	srv := api.NewServer(registry, st, queue, approver, otp)
	return &TestEnv{
		Server:   srv,
		Store:    st,
		Registry: registry,
		Queue:    queue,
		SMS:      sender,
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// AssertStage validates a session's current stage.
func AssertStage(t *testing.T, s *visit.Session, expected models.Stage, context string) {
	t.Helper()
	if s.Stage() != expected {
		t.Errorf("%s: expected stage %s, got %s", context, expected, s.Stage())
	}
}

// AssertApplied validates a dispatch outcome.
func AssertApplied(t *testing.T, applied, expected bool, context string) {
	t.Helper()
	if applied != expected {
		t.Errorf("%s: expected applied=%v, got %v", context, expected, applied)
	}
}

// SeedSalesRep stores a rep with an assigned region for testing.
func SeedSalesRep(t *testing.T, st store.Store, id, name, phone, region string) {
	t.Helper()
	rep := models.SalesRep{ID: id, Name: name, Phone: phone, Region: region}
	if err := st.SaveSalesRep(rep); err != nil {
		t.Fatalf("failed to seed sales rep: %v", err)
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
