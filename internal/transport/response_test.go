package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pitabwire/composer/model"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"hello": "world"})

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if xct := w.Header().Get("X-Content-Type-Options"); xct != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", xct)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["hello"] != "world" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteError_envelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewSessionNotFoundError("abc"))

	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}

	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Error.Code != model.ErrSessionNotFound {
		t.Errorf("code = %q, want %s", resp.Error.Code, model.ErrSessionNotFound)
	}
}

func TestWriteError_wrappedEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, fmt.Errorf("adding record: %w", model.NewDuplicatePlacementError("Sign Off", "Review")))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 for a wrapped envelope", w.Code)
	}
}

func TestWriteError_nonEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.New("connection reset"))

	if w.Code != 500 {
		t.Errorf("status = %d, want 500 for non-envelope error", w.Code)
	}
	if strings.Contains(w.Body.String(), "connection reset") {
		t.Error("internal error text should not leak into the response")
	}
}

func TestWriteRequestError_stampsTraceID(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r = r.WithContext(model.WithRequestContext(context.Background(), &model.RequestContext{TraceID: "trace-1"}))
	original := model.NewNotFoundError("gone")

	w := httptest.NewRecorder()
	writeRequestError(w, r, original)

	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Error.TraceID != "trace-1" {
		t.Errorf("trace_id = %q, want trace-1", resp.Error.TraceID)
	}
	if original.TraceID != "" {
		t.Error("the caller's envelope should not be modified")
	}
}

func TestWriteNotFound(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNotFound(w, "resource missing")
	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestWriteValidationError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteValidationError(w, []model.FieldError{
		{Field: "instance_id", Code: "REQUIRED", Message: "instance id is required"},
	})
	if w.Code != 422 {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestStatusForCode_coverage(t *testing.T) {
	codes := []struct {
		code   string
		status int
	}{
		{model.ErrBadRequest, 400},
		{model.ErrUnauthorized, 401},
		{model.ErrNotFound, 404},
		{model.ErrSessionNotFound, 404},
		{model.ErrConflict, 409},
		{model.ErrDuplicatePlacement, 409},
		{model.ErrValidationError, 422},
		{model.ErrNoAvailableSubstages, 422},
		{model.ErrEmptySelection, 422},
		{model.ErrCrossStageMove, 422},
		{model.ErrInvalidDependency, 422},
		{model.ErrUnknownParameter, 422},
		{model.ErrInternalError, 500},
		{model.ErrBackendUnavailable, 502},
		{model.ErrSaveFailed, 502},
		{"SOMETHING_NEW", 500},
	}
	for _, tc := range codes {
		t.Run(tc.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, &model.ErrorEnvelope{Code: tc.code, Message: "test"})
			if w.Code != tc.status {
				t.Errorf("status for %s = %d, want %d", tc.code, w.Code, tc.status)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		allowEmpty bool
		wantErr    bool
	}{
		{"object", `{"stage_id": 10}`, false, false},
		{"empty allowed", ``, true, false},
		{"empty rejected", ``, false, true},
		{"malformed", `{"stage_id":`, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/", strings.NewReader(tt.body))
			var v struct {
				StageID int64 `json:"stage_id"`
			}
			err := decodeJSON(r, &v, tt.allowEmpty)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && model.CodeOf(err) != model.ErrBadRequest {
				t.Errorf("code = %q, want %s", model.CodeOf(err), model.ErrBadRequest)
			}
		})
	}
}
