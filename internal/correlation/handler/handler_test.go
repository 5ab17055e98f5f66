package handler_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/handler"
	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/hasher"
	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/service"
	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/store"
	auditpublisher "github.com/ProdByBuddha/readmyfineprint/pkg/platform/audit/publisher"
	auditmemory "github.com/ProdByBuddha/readmyfineprint/pkg/platform/audit/store/memory"
)

const testPepper = "test-pepper-0123456789abcdef"

var testArgon2 = hasher.Argon2Params{Time: 1, MemoryKiB: 8 * 1024, Threads: 1, KeyLength: 32}

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	h, err := hasher.New(hasher.Config{Pepper: testPepper, Argon2: testArgon2})
	require.NoError(t, err)

	// Synchronous publisher over the memory store so audit events are
	// visible immediately after each request.
	publisher := auditpublisher.NewPublisher(auditmemory.NewInMemoryStore())
	svc, err := service.New(store.NewMemory(), h, service.WithAuditPublisher(publisher))
	require.NoError(t, err)

	router := chi.NewRouter()
	handler.New(svc, publisher, slog.Default()).Register(router)
	return router
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func ingestBody(session, document string) map[string]any {
	return map[string]any{
		"session_id":  session,
		"document_id": document,
		"detections": []map[string]any{
			{"type": "SSN", "value": "123-45-6789", "confidence": 0.95, "detection_method": "regex"},
			{"type": "EMAIL", "value": "alice@example.com", "confidence": 0.9, "detection_method": "regex"},
		},
	}
}

func TestHandleIngest(t *testing.T) {
	t.Run("stores a document", func(t *testing.T) {
		router := newTestRouter(t)
		w := postJSON(t, router, "/correlation/documents", ingestBody("sess-1", "doc-1"))

		require.Equal(t, http.StatusCreated, w.Code)
		var resp struct {
			Stored bool `json:"stored"`
			Record struct {
				CorrelationIDs []string `json:"correlation_ids"`
				RiskScore      float64  `json:"risk_score"`
			} `json:"record"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.True(t, resp.Stored)
		assert.Len(t, resp.Record.CorrelationIDs, 2)
		assert.Greater(t, resp.Record.RiskScore, 0.0)
	})

	t.Run("no detections is stored=false", func(t *testing.T) {
		router := newTestRouter(t)
		w := postJSON(t, router, "/correlation/documents", map[string]any{
			"session_id":  "sess-1",
			"document_id": "doc-1",
			"detections":  []map[string]any{},
		})

		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, false, resp["stored"])
	})

	t.Run("raw values never appear in the response", func(t *testing.T) {
		router := newTestRouter(t)
		w := postJSON(t, router, "/correlation/documents", ingestBody("sess-1", "doc-1"))

		assert.NotContains(t, w.Body.String(), "123-45-6789")
		assert.NotContains(t, w.Body.String(), "alice@example.com")
	})

	t.Run("rejects unknown pii type", func(t *testing.T) {
		router := newTestRouter(t)
		w := postJSON(t, router, "/correlation/documents", map[string]any{
			"session_id":  "sess-1",
			"document_id": "doc-1",
			"detections": []map[string]any{
				{"type": "PASSPORT", "value": "X123", "confidence": 0.9},
			},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects missing session id", func(t *testing.T) {
		router := newTestRouter(t)
		w := postJSON(t, router, "/correlation/documents", map[string]any{
			"document_id": "doc-1",
			"detections":  []map[string]any{{"type": "SSN", "value": "123-45-6789", "confidence": 0.9}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		router := newTestRouter(t)
		req := httptest.NewRequest(http.MethodPost, "/correlation/documents", bytes.NewReader([]byte("{")))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleCheck(t *testing.T) {
	router := newTestRouter(t)
	require.Equal(t, http.StatusCreated,
		postJSON(t, router, "/correlation/documents", ingestBody("sess-1", "doc-1")).Code)

	w := postJSON(t, router, "/correlation/check", map[string]any{
		"session_id": "sess-1",
		"detections": []map[string]any{
			{"type": "SSN", "value": "123 45 6789", "confidence": 0.95},
			{"type": "EMAIL", "value": "bob@example.com", "confidence": 0.9},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var check struct {
		HasSharedPII bool     `json:"has_shared_pii"`
		Strength     float64  `json:"strength"`
		SharedTypes  []string `json:"shared_types"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&check))
	assert.True(t, check.HasSharedPII)
	assert.InDelta(t, 0.5, check.Strength, 1e-9)
	assert.Equal(t, []string{"SSN"}, check.SharedTypes)
}

func TestHandleCrossSession(t *testing.T) {
	router := newTestRouter(t)
	require.Equal(t, http.StatusCreated,
		postJSON(t, router, "/correlation/documents", ingestBody("sess-1", "doc-1")).Code)
	require.Equal(t, http.StatusCreated,
		postJSON(t, router, "/correlation/documents", ingestBody("sess-2", "doc-1")).Code)

	// Pull sess-1's entanglement IDs from its stored record.
	req := httptest.NewRequest(http.MethodGet, "/correlation/sessions/sess-1/documents", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var listing struct {
		Documents []struct {
			CorrelationIDs []string `json:"correlation_ids"`
		} `json:"documents"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&listing))
	require.Len(t, listing.Documents, 1)

	w2 := postJSON(t, router, "/correlation/cross-session", map[string]any{
		"entanglement_ids": listing.Documents[0].CorrelationIDs,
		"exclude_session":  "sess-1",
	})
	require.Equal(t, http.StatusOK, w2.Code)

	var resp struct {
		Correlations []struct {
			SessionID string  `json:"session_id"`
			Strength  float64 `json:"strength"`
		} `json:"correlations"`
	}
	require.NoError(t, json.NewDecoder(w2.Body).Decode(&resp))
	require.Len(t, resp.Correlations, 1)
	assert.Equal(t, "sess-2", resp.Correlations[0].SessionID)
	assert.InDelta(t, 1.0, resp.Correlations[0].Strength, 1e-9)
}

func TestHandleSessionSummary(t *testing.T) {
	router := newTestRouter(t)

	t.Run("missing session is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/correlation/sessions/nope", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("summarizes stored documents", func(t *testing.T) {
		require.Equal(t, http.StatusCreated,
			postJSON(t, router, "/correlation/documents", ingestBody("sess-1", "doc-1")).Code)

		req := httptest.NewRequest(http.MethodGet, "/correlation/sessions/sess-1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var summary struct {
			DocumentCount int `json:"document_count"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&summary))
		assert.Equal(t, 1, summary.DocumentCount)
	})
}

func TestHandleClearSession(t *testing.T) {
	router := newTestRouter(t)
	require.Equal(t, http.StatusCreated,
		postJSON(t, router, "/correlation/documents", ingestBody("sess-1", "doc-1")).Code)

	req := httptest.NewRequest(http.MethodDelete, "/correlation/sessions/sess-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/correlation/sessions/sess-1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSessionAudit(t *testing.T) {
	router := newTestRouter(t)

	t.Run("empty trail is an empty list", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/correlation/sessions/sess-quiet/audit", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var trail struct {
			Events []json.RawMessage `json:"events"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&trail))
		assert.Empty(t, trail.Events)
	})

	t.Run("ingest and clear leave a trail", func(t *testing.T) {
		require.Equal(t, http.StatusCreated,
			postJSON(t, router, "/correlation/documents", ingestBody("sess-1", "doc-1")).Code)

		req := httptest.NewRequest(http.MethodDelete, "/correlation/sessions/sess-1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusNoContent, w.Code)

		req = httptest.NewRequest(http.MethodGet, "/correlation/sessions/sess-1/audit", nil)
		w = httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var trail struct {
			SessionID string `json:"session_id"`
			Events    []struct {
				Action   string `json:"action"`
				Decision string `json:"decision"`
			} `json:"events"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&trail))
		assert.Equal(t, "sess-1", trail.SessionID)

		actions := make([]string, 0, len(trail.Events))
		for _, event := range trail.Events {
			actions = append(actions, event.Action)
		}
		assert.Contains(t, actions, "document_correlation_stored")
		assert.Contains(t, actions, "session_cleared")

		// The trail never carries raw PII, only identifiers.
		assert.NotContains(t, w.Body.String(), "123-45-6789")
	})
}

func TestHandleAnalytics(t *testing.T) {
	router := newTestRouter(t)
	require.Equal(t, http.StatusCreated,
		postJSON(t, router, "/correlation/documents", ingestBody("sess-1", "doc-1")).Code)

	t.Run("aggregates stored documents", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/correlation/analytics", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var analytics struct {
			TotalSessions  int `json:"total_sessions"`
			TotalDocuments int `json:"total_documents"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&analytics))
		assert.Equal(t, 1, analytics.TotalSessions)
		assert.Equal(t, 1, analytics.TotalDocuments)
	})

	t.Run("rejects malformed since", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/correlation/analytics?since=yesterday", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleForensicReport(t *testing.T) {
	router := newTestRouter(t)
	require.Equal(t, http.StatusCreated,
		postJSON(t, router, "/correlation/documents", ingestBody("sess-1", "doc-1")).Code)
	require.Equal(t, http.StatusCreated,
		postJSON(t, router, "/correlation/documents", ingestBody("sess-2", "doc-1")).Code)

	t.Run("generates a report", func(t *testing.T) {
		w := postJSON(t, router, "/forensics/report", map[string]any{
			"session_ids": []string{"sess-1", "sess-2"},
		})
		require.Equal(t, http.StatusOK, w.Code)

		var report struct {
			SessionSummaries  []json.RawMessage `json:"session_summaries"`
			CrossCorrelations []struct {
				StrengthAToB float64 `json:"strength_a_to_b"`
				StrengthBToA float64 `json:"strength_b_to_a"`
			} `json:"cross_correlations"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
		assert.Len(t, report.SessionSummaries, 2)
		require.Len(t, report.CrossCorrelations, 1)
		// Identical detections in both sessions share everything.
		assert.InDelta(t, 1.0, report.CrossCorrelations[0].StrengthAToB, 1e-9)
		assert.InDelta(t, 1.0, report.CrossCorrelations[0].StrengthBToA, 1e-9)
	})

	t.Run("rejects a single session", func(t *testing.T) {
		w := postJSON(t, router, "/forensics/report", map[string]any{
			"session_ids": []string{"sess-1"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
