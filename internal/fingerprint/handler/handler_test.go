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

	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/hasher"
	"github.com/ProdByBuddha/readmyfineprint/internal/fingerprint/handler"
	"github.com/ProdByBuddha/readmyfineprint/internal/fingerprint/models"
	"github.com/ProdByBuddha/readmyfineprint/internal/fingerprint/service"
)

const testPepper = "test-pepper-0123456789abcdef"

var testArgon2 = hasher.Argon2Params{Time: 1, MemoryKiB: 8 * 1024, Threads: 1, KeyLength: 32}

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	h, err := hasher.New(hasher.Config{Pepper: testPepper, Argon2: testArgon2})
	require.NoError(t, err)

	router := chi.NewRouter()
	handler.New(service.New(), h, slog.Default()).Register(router)
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

func createBody() map[string]any {
	return map[string]any{
		"session_id":       "sess-1",
		"document_id":      "doc-1",
		"original_content": "My SSN is 123-45-6789 and my email is alice@example.com.",
		"redacted_content": "My SSN is [REDACTED:SSN] and my email is [REDACTED:EMAIL].",
		"api_request":      map[string]any{"model": "summarize", "text": "My SSN is [REDACTED:SSN]"},
		"api_response":     map[string]any{"summary": "A note about a person."},
		"detections": []map[string]any{
			{"type": "SSN", "value": "123-45-6789", "confidence": 0.95, "detection_method": "regex"},
			{"type": "EMAIL", "value": "alice@example.com", "confidence": 0.9, "detection_method": "regex"},
		},
		"detection_metrics": map[string]any{
			"pii_detection_confidence": 0.9,
			"coverage_confidence":      0.95,
		},
	}
}

func TestHandleCreate(t *testing.T) {
	t.Run("builds the full chain", func(t *testing.T) {
		router := newTestRouter(t)
		w := postJSON(t, router, "/fingerprints", createBody())
		require.Equal(t, http.StatusCreated, w.Code)

		var fp models.PayloadFingerprint
		require.NoError(t, json.NewDecoder(w.Body).Decode(&fp))
		assert.Len(t, fp.Layers, 5)
		assert.NotEmpty(t, fp.Linkages.CompleteChain)
		assert.Regexp(t, `^fp_\d+_[0-9a-f]{12}$`, string(fp.FingerprintID))
	})

	t.Run("raw pii never appears in the response", func(t *testing.T) {
		router := newTestRouter(t)
		w := postJSON(t, router, "/fingerprints", createBody())
		require.Equal(t, http.StatusCreated, w.Code)

		assert.NotContains(t, w.Body.String(), "123-45-6789")
		assert.NotContains(t, w.Body.String(), "alice@example.com")
	})

	t.Run("rejects unknown pii type", func(t *testing.T) {
		router := newTestRouter(t)
		body := createBody()
		body["detections"] = []map[string]any{
			{"type": "PASSPORT", "value": "X123", "confidence": 0.9},
		}
		w := postJSON(t, router, "/fingerprints", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects missing document id", func(t *testing.T) {
		router := newTestRouter(t)
		body := createBody()
		delete(body, "document_id")
		w := postJSON(t, router, "/fingerprints", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleVerify(t *testing.T) {
	router := newTestRouter(t)
	w := postJSON(t, router, "/fingerprints", createBody())
	require.Equal(t, http.StatusCreated, w.Code)

	var fp models.PayloadFingerprint
	require.NoError(t, json.NewDecoder(w.Body).Decode(&fp))

	t.Run("intact fingerprint verifies clean", func(t *testing.T) {
		w := postJSON(t, router, "/fingerprints/verify", fp)
		require.Equal(t, http.StatusOK, w.Code)

		var result models.VerificationResult
		require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
		assert.True(t, result.IsValid)
		assert.Empty(t, result.Issues)
		assert.InDelta(t, 1.0, result.TrustScore, 1e-9)
	})

	t.Run("tampering is a 200 with findings", func(t *testing.T) {
		tampered := fp
		tampered.Linkages.CompleteChain = ""
		w := postJSON(t, router, "/fingerprints/verify", tampered)
		require.Equal(t, http.StatusOK, w.Code)

		var result models.VerificationResult
		require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
		assert.False(t, result.IsValid)
		assert.NotEmpty(t, result.Issues)
	})
}

func TestHandleReport(t *testing.T) {
	router := newTestRouter(t)
	w := postJSON(t, router, "/fingerprints", createBody())
	require.Equal(t, http.StatusCreated, w.Code)

	var fp models.PayloadFingerprint
	require.NoError(t, json.NewDecoder(w.Body).Decode(&fp))

	w = postJSON(t, router, "/fingerprints/report", fp)
	require.Equal(t, http.StatusOK, w.Code)

	var report models.ForensicReport
	require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
	assert.Equal(t, fp.FingerprintID, report.FingerprintID)
	assert.Equal(t, models.RiskLow, report.OverallRisk)
	assert.True(t, report.Verification.IsValid)
}
