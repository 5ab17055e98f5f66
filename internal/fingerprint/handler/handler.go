// Package handler wires the payload-fingerprint endpoints to the
// fingerprinting service.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	corrmodels "github.com/ProdByBuddha/readmyfineprint/internal/correlation/models"
	"github.com/ProdByBuddha/readmyfineprint/internal/fingerprint/models"
	id "github.com/ProdByBuddha/readmyfineprint/pkg/domain"
	dErrors "github.com/ProdByBuddha/readmyfineprint/pkg/domain-errors"
	"github.com/ProdByBuddha/readmyfineprint/pkg/platform/httputil"
	"github.com/ProdByBuddha/readmyfineprint/pkg/requestcontext"
)

// Service defines the fingerprinting operations the transport layer needs.
type Service interface {
	CreateFingerprint(ctx context.Context, input models.PayloadInput) (*models.PayloadFingerprint, error)
	VerifyFingerprintIntegrity(ctx context.Context, fingerprint *models.PayloadFingerprint) models.VerificationResult
	CreateForensicReport(ctx context.Context, fingerprint *models.PayloadFingerprint) *models.ForensicReport
}

// Hasher turns raw detections into hashed matches so plaintext PII never
// reaches the fingerprint layers.
type Hasher interface {
	HashDetections(detections []corrmodels.DetectedPII) ([]corrmodels.HashedPIIMatch, error)
}

// Handler translates HTTP requests into fingerprinting service calls.
type Handler struct {
	service Service
	hasher  Hasher
	logger  *slog.Logger
}

// New constructs a fingerprint handler.
func New(service Service, hasher Hasher, logger *slog.Logger) *Handler {
	return &Handler{service: service, hasher: hasher, logger: logger}
}

// Register mounts fingerprint endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/fingerprints", h.HandleCreate)
	r.Post("/fingerprints/verify", h.HandleVerify)
	r.Post("/fingerprints/report", h.HandleReport)
}

// CreateRequest is the POST /fingerprints body. The API payloads are opaque
// JSON; they are serialized and hashed, never interpreted.
type CreateRequest struct {
	SessionID        string                       `json:"session_id"`
	DocumentID       string                       `json:"document_id"`
	OriginalContent  string                       `json:"original_content"`
	RedactedContent  string                       `json:"redacted_content"`
	APIRequest       json.RawMessage              `json:"api_request,omitempty"`
	APIResponse      json.RawMessage              `json:"api_response,omitempty"`
	Detections       []DetectionDTO               `json:"detections"`
	DetectionMetrics *corrmodels.DetectionMetrics `json:"detection_metrics,omitempty"`
}

// DetectionDTO mirrors one raw detection on the wire.
type DetectionDTO struct {
	Type            string  `json:"type"`
	Value           string  `json:"value"`
	Confidence      float64 `json:"confidence"`
	DetectionMethod string  `json:"detection_method"`
}

// HandleCreate handles POST /fingerprints requests.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[CreateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	sessionID, err := id.ParseSessionID(req.SessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	documentID, err := id.ParseDocumentID(req.DocumentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	detections := make([]corrmodels.DetectedPII, 0, len(req.Detections))
	for _, dto := range req.Detections {
		piiType := corrmodels.PIIType(dto.Type)
		if !piiType.Valid() {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "unknown pii type: "+dto.Type))
			return
		}
		detections = append(detections, corrmodels.DetectedPII{
			Type:            piiType,
			RawValue:        dto.Value,
			Confidence:      dto.Confidence,
			DetectionMethod: dto.DetectionMethod,
		})
	}

	matches, err := h.hasher.HashDetections(detections)
	if err != nil {
		h.logger.ErrorContext(ctx, "hashing failed before fingerprinting",
			"request_id", requestID,
			"document_id", documentID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	fingerprint, err := h.service.CreateFingerprint(ctx, models.PayloadInput{
		DocumentID:      documentID,
		SessionID:       sessionID,
		OriginalContent: req.OriginalContent,
		RedactedContent: req.RedactedContent,
		APIRequest:      req.APIRequest,
		APIResponse:     req.APIResponse,
		Matches:         matches,
		Detection:       req.DetectionMetrics,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "fingerprint creation failed",
			"request_id", requestID,
			"document_id", documentID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "fingerprint created",
		"request_id", requestID,
		"fingerprint_id", fingerprint.FingerprintID.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, fingerprint)
}

// HandleVerify handles POST /fingerprints/verify requests. Verification is
// always 200: a degraded fingerprint is a finding, not a request failure.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	fingerprint, ok := httputil.DecodeAndPrepare[models.PayloadFingerprint](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result := h.service.VerifyFingerprintIntegrity(ctx, &fingerprint)
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleReport handles POST /fingerprints/report requests.
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	fingerprint, ok := httputil.DecodeAndPrepare[models.PayloadFingerprint](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	report := h.service.CreateForensicReport(ctx, &fingerprint)
	httputil.WriteJSON(w, http.StatusOK, report)
}
