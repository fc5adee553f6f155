package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"DeSmond-Agent/internal/config"
	"DeSmond-Agent/internal/storage/mysql"
)

func newTestArchive(t *testing.T, records ...mysql.TurnRecord) mysql.TurnRepository {
	t.Helper()
	archive, err := mysql.NewMemoryTurnRepository(t.TempDir())
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	for _, record := range records {
		if err := archive.Save(context.Background(), record); err != nil {
			t.Fatalf("save record: %v", err)
		}
	}
	return archive
}

func TestHandleListTurns(t *testing.T) {
	archive := newTestArchive(t,
		mysql.TurnRecord{SessionID: "s-1", Reply: "first", CreatedAt: 1700000000},
		mysql.TurnRecord{SessionID: "s-2", Reply: "second", CreatedAt: 1700000001},
	)
	server := NewServer(config.ServerConfig{Address: ":0"}, archive)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/turns?limit=1", nil)
	rec := httptest.NewRecorder()

	server.handleListTurns(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}

	var got []mysql.TurnRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("unexpected record count: got %d want 1", len(got))
	}
	if got[0].SessionID != "s-2" {
		t.Fatalf("expected newest turn first, got %q", got[0].SessionID)
	}
}

func TestHandleListTurnsEmptyArchive(t *testing.T) {
	server := NewServer(config.ServerConfig{Address: ":0"}, newTestArchive(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/turns", nil)
	rec := httptest.NewRecorder()

	server.handleListTurns(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Fatalf("expected empty JSON array, got %q", body)
	}
}

func TestHandleListTurnsRejectsPost(t *testing.T) {
	server := NewServer(config.ServerConfig{Address: ":0"}, newTestArchive(t))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/turns", nil)
	rec := httptest.NewRecorder()

	server.handleListTurns(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestWithAuth(t *testing.T) {
	server := NewServer(config.ServerConfig{Address: ":0", AuthToken: "secret"}, newTestArchive(t))
	handler := server.withAuth(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/turns", nil)
		rec := httptest.NewRecorder()
		handler(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/turns", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		handler(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/turns", nil)
		req.Header.Set("Authorization", "Bearer secret")
		rec := httptest.NewRecorder()
		handler(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusNoContent)
		}
	})

	t.Run("no token configured", func(t *testing.T) {
		open := NewServer(config.ServerConfig{Address: ":0"}, newTestArchive(t))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/turns", nil)
		rec := httptest.NewRecorder()
		open.withAuth(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusNoContent)
		}
	})
}

func TestHandleHealth(t *testing.T) {
	server := NewServer(config.ServerConfig{Address: ":0"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	server.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", payload)
	}
}
