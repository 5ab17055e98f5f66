// Package handler wires the correlation endpoints to the correlation
// service.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/models"
	id "github.com/ProdByBuddha/readmyfineprint/pkg/domain"
	dErrors "github.com/ProdByBuddha/readmyfineprint/pkg/domain-errors"
	audit "github.com/ProdByBuddha/readmyfineprint/pkg/platform/audit"
	"github.com/ProdByBuddha/readmyfineprint/pkg/platform/httputil"
	"github.com/ProdByBuddha/readmyfineprint/pkg/requestcontext"
)

// Service defines the correlation operations the transport layer needs.
type Service interface {
	IngestDocument(ctx context.Context, sessionID id.SessionID, documentID id.DocumentID, detections []models.DetectedPII, detection *models.DetectionMetrics) (*models.DocumentCorrelationData, []models.HashedPIIMatch, error)
	CheckDetections(ctx context.Context, sessionID id.SessionID, detections []models.DetectedPII) (*models.CorrelationCheck, error)
	FindCrossSessionCorrelations(ctx context.Context, entanglementIDs []id.EntanglementID, excludeSession id.SessionID) ([]*models.CrossSessionCorrelation, error)
	SessionSummary(ctx context.Context, sessionID id.SessionID) (*models.SessionSummary, error)
	SessionDocuments(ctx context.Context, sessionID id.SessionID) ([]*models.DocumentCorrelationData, error)
	ForensicReport(ctx context.Context, sessionIDs []id.SessionID) (*models.ForensicReport, error)
	ClearSession(ctx context.Context, sessionID id.SessionID) error
	GetCorrelationAnalytics(ctx context.Context, since *time.Time) (*models.CorrelationAnalytics, error)
}

// AuditTrail reads the per-session audit history. Satisfied by the audit
// publisher.
type AuditTrail interface {
	List(ctx context.Context, sessionID id.SessionID) ([]audit.Event, error)
}

// Handler translates HTTP requests into correlation service calls.
type Handler struct {
	service Service
	trail   AuditTrail
	logger  *slog.Logger
}

// New constructs a correlation handler.
func New(service Service, trail AuditTrail, logger *slog.Logger) *Handler {
	return &Handler{service: service, trail: trail, logger: logger}
}

// Register mounts correlation endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/correlation/documents", h.HandleIngest)
	r.Post("/correlation/check", h.HandleCheck)
	r.Post("/correlation/cross-session", h.HandleCrossSession)
	r.Get("/correlation/sessions/{sessionID}", h.HandleSessionSummary)
	r.Get("/correlation/sessions/{sessionID}/documents", h.HandleSessionDocuments)
	r.Get("/correlation/sessions/{sessionID}/audit", h.HandleSessionAudit)
	r.Delete("/correlation/sessions/{sessionID}", h.HandleClearSession)
	r.Get("/correlation/analytics", h.HandleAnalytics)
	r.Post("/forensics/report", h.HandleForensicReport)
}

// HandleIngest handles POST /correlation/documents requests.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[IngestRequest](w, r, h.logger, ctx, requestID)
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
	detections, err := parseDetections(req.Detections)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, _, err := h.service.IngestDocument(ctx, sessionID, documentID, detections, req.DetectionMetrics)
	if err != nil {
		h.logger.ErrorContext(ctx, "document ingest failed",
			"request_id", requestID,
			"session_id", sessionID.String(),
			"document_id", documentID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "document ingested",
		"request_id", requestID,
		"session_id", sessionID.String(),
		"document_id", documentID.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if record == nil {
		// No PII found; nothing stored.
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"stored": false})
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"stored": true,
		"record": record,
	})
}

// HandleCheck handles POST /correlation/check requests.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CheckRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	sessionID, err := id.ParseSessionID(req.SessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	detections, err := parseDetections(req.Detections)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	check, err := h.service.CheckDetections(ctx, sessionID, detections)
	if err != nil {
		h.logger.ErrorContext(ctx, "correlation check failed",
			"request_id", requestID,
			"session_id", sessionID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, check)
}

// HandleCrossSession handles POST /correlation/cross-session requests.
func (h *Handler) HandleCrossSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CrossSessionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	entanglementIDs, err := parseEntanglementIDs(req.EntanglementIDs)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	results, err := h.service.FindCrossSessionCorrelations(ctx, entanglementIDs, id.SessionID(req.ExcludeSession))
	if err != nil {
		h.logger.ErrorContext(ctx, "cross-session lookup failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"correlations": results,
	})
}

// HandleSessionSummary handles GET /correlation/sessions/{sessionID}.
func (h *Handler) HandleSessionSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	summary, err := h.service.SessionSummary(ctx, sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if summary == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "session has no correlation records"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// HandleSessionDocuments handles GET /correlation/sessions/{sessionID}/documents.
func (h *Handler) HandleSessionDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	documents, err := h.service.SessionDocuments(ctx, sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"documents":  documents,
	})
}

// HandleSessionAudit handles GET /correlation/sessions/{sessionID}/audit,
// the compliance view of everything recorded for one session.
func (h *Handler) HandleSessionAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	events, err := h.trail.List(ctx, sessionID)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit trail read failed",
			"session_id", sessionID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"events":     events,
	})
}

// HandleClearSession handles DELETE /correlation/sessions/{sessionID}.
func (h *Handler) HandleClearSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	sessionID, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.ClearSession(ctx, sessionID); err != nil {
		h.logger.ErrorContext(ctx, "session clear failed",
			"request_id", requestID,
			"session_id", sessionID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "session cleared",
		"request_id", requestID,
		"session_id", sessionID.String(),
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleAnalytics handles GET /correlation/analytics requests. An optional
// since query parameter (RFC 3339) restricts the window.
func (h *Handler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "since must be RFC 3339"))
			return
		}
		since = &parsed
	}

	analytics, err := h.service.GetCorrelationAnalytics(ctx, since)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, analytics)
}

// HandleForensicReport handles POST /forensics/report requests.
func (h *Handler) HandleForensicReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[ForensicReportRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	sessionIDs := make([]id.SessionID, 0, len(req.SessionIDs))
	for _, raw := range req.SessionIDs {
		sessionID, err := id.ParseSessionID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		sessionIDs = append(sessionIDs, sessionID)
	}

	report, err := h.service.ForensicReport(ctx, sessionIDs)
	if err != nil {
		h.logger.ErrorContext(ctx, "forensic report failed",
			"request_id", requestID,
			"sessions", len(sessionIDs),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "forensic report generated",
		"request_id", requestID,
		"sessions", len(sessionIDs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, report)
}
