package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"ledgercache/internal/core"
)

func TestJSONResponseBuilder(t *testing.T) {
	rr := httptest.NewRecorder()
	NewJSONResponse().
		Status(http.StatusAccepted).
		Header("X-Test", "1").
		Payload(map[string]int{"written": 3}).
		Write(rr)

	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d", rr.Code)
	}
	if rr.Header().Get("Content-Type") != "application/json" || rr.Header().Get("X-Test") != "1" {
		t.Errorf("headers = %v", rr.Header())
	}
	var body map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["written"] != 3 {
		t.Errorf("body = %s (%v)", rr.Body, err)
	}
}

func TestJSONResponseBuilder_NoPayload(t *testing.T) {
	rr := httptest.NewRecorder()
	NewJSONResponse().Status(http.StatusNoContent).Write(rr)
	if rr.Code != http.StatusNoContent || rr.Body.Len() != 0 {
		t.Errorf("status=%d body=%q", rr.Code, rr.Body)
	}
}

func TestDomainError(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantTag  string
	}{
		{fmt.Errorf("period 3: %w", core.ErrPeriodNotClosed), http.StatusConflict, "conflict"},
		{core.ErrUnknownPeriod, http.StatusNotFound, "not_found"},
		{core.ErrEmptyScope, http.StatusBadRequest, "bad_request"},
		{fmt.Errorf("%w: account=0", core.ErrInvalidID), http.StatusBadRequest, "bad_request"},
		{errors.New("connection reset"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		rr := httptest.NewRecorder()
		DomainError(tt.err).Write(rr)

		if rr.Code != tt.wantCode {
			t.Errorf("%v: status = %d, want %d", tt.err, rr.Code, tt.wantCode)
		}
		var body errorBody
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Error.Code != tt.wantTag {
			t.Errorf("%v: code = %q, want %q", tt.err, body.Error.Code, tt.wantTag)
		}
	}
}

func TestTooManyRequestsError(t *testing.T) {
	rr := httptest.NewRecorder()
	TooManyRequestsError().Write(rr)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Errorf("status=%d headers=%v", rr.Code, rr.Header())
	}
}
