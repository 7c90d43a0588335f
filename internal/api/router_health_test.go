package api

import (
	"errors"
	"net/http"
	"testing"
)

func TestLivenessReportsVersion(t *testing.T) {
	sender := &captureSender{}
	router, _, _ := newTestRouter(t, sender)

	rec := getPath(t, router, "/health/live", nil, testUserAgent)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body)
	}
	if _, ok := body["version"]; !ok {
		t.Fatalf("expected version info, got %v", body)
	}
}

func TestReadinessProbesMailRelay(t *testing.T) {
	sender := &captureSender{}
	router, _, _ := newTestRouter(t, sender)

	rec := getPath(t, router, "/health/ready", nil, testUserAgent)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 while all dependencies answer, got %d body=%s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	decodeBody(t, rec.Body.Bytes(), &body)
	if body["status"] != "ready" {
		t.Fatalf("expected status ready, got %v", body)
	}

	sender.mu.Lock()
	sender.failWith = errors.New("relay unreachable")
	sender.mu.Unlock()

	rec = getPath(t, router, "/health/ready", nil, testUserAgent)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with mail relay down, got %d", rec.Code)
	}
	decodeBody(t, rec.Body.Bytes(), &body)
	if body["status"] != "degraded" {
		t.Fatalf("expected status degraded, got %v", body)
	}
}
