// Package api tests for the JSON response writer.
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fieldops/VisitPipe/internal/models"
)

func TestWriteJSONResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSONResponse(rec, http.StatusCreated, models.SuccessWithMessage("Visit started", nil))

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json content type, got %q", ct)
	}

	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("expected ok status, got %q", resp.Status)
	}
	if resp.Message != "Visit started" {
		t.Errorf("expected message to round-trip, got %q", resp.Message)
	}
}

func TestWriteJSONResponseUnmarshalableBody(t *testing.T) {
	rec := httptest.NewRecorder()
	// A channel cannot be marshaled; the writer must fall back to a 500
	// error envelope instead of an empty body.
	writeJSONResponse(rec, http.StatusOK, map[string]interface{}{"bad": make(chan int)})

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500 on marshal failure, got %d", rec.Code)
	}

	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("fallback body is not valid JSON: %v", err)
	}
	if resp.Status != string(models.APIStatusError) {
		t.Errorf("expected error status, got %q", resp.Status)
	}
	if resp.Message != "Internal server error" {
		t.Errorf("expected generic error message, got %q", resp.Message)
	}
}
