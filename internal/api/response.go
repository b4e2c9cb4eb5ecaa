// Package api provides HTTP response utilities for VisitPipe.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/fieldops/VisitPipe/internal/models"
)

// writeJSONResponse marshals the response body and writes it with the given
// status code. Marshaling happens before any header is written, so an
// encoding failure is still reported to the client as a 500 error envelope.
// The envelope is a plain struct of strings and cannot itself fail to
// marshal.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("api.writeJSONResponse: failed to marshal response body", "error", err)
		jsonData, _ = json.Marshal(models.Error("Internal server error"))
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("api.writeJSONResponse: failed to write response body", "error", writeErr)
	}
}
