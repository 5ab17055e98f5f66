// Package service orchestrates the hasher and the correlation store to
// answer the one question this subsystem exists for: does this document
// share PII with anything we have already seen.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/hasher"
	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/metrics"
	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/models"
	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/store"
	id "github.com/ProdByBuddha/readmyfineprint/pkg/domain"
	dErrors "github.com/ProdByBuddha/readmyfineprint/pkg/domain-errors"
	audit "github.com/ProdByBuddha/readmyfineprint/pkg/platform/audit"
	"github.com/ProdByBuddha/readmyfineprint/pkg/requestcontext"
)

// Store is the persistence contract the service depends on.
type Store = store.Store

// AuditPublisher records security-relevant actions without blocking on
// audit-store failures.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// riskWeights assigns a base severity per PII type; a match contributes
// weight x confidence to the document risk score.
var riskWeights = map[models.PIIType]float64{
	models.PIITypeSSN:        10,
	models.PIITypeCreditCard: 9,
	models.PIITypeDOB:        6,
	models.PIITypeAddress:    5,
	models.PIITypePhone:      4,
	models.PIITypeEmail:      3,
	models.PIITypeIPAddress:  3,
	models.PIITypeName:       2,
}

// highConfidenceThreshold separates matches the detector is sure about.
const highConfidenceThreshold = 0.85

// Service implements the correlation operations.
type Service struct {
	store     Store
	hasher    *hasher.Hasher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	audit     AuditPublisher
	retention time.Duration
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

// WithRetention overrides the default 30-day retention window.
func WithRetention(retention time.Duration) Option {
	return func(s *Service) {
		if retention > 0 {
			s.retention = retention
		}
	}
}

// New constructs the correlation service.
func New(st Store, h *hasher.Hasher, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("correlation store is required")
	}
	if h == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	svc := &Service{
		store:     st,
		hasher:    h,
		logger:    slog.Default(),
		retention: 30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// IngestDocument hashes the upstream detection input and stores the
// resulting correlation record. Hashing failure aborts the whole event; no
// value is written in any form.
func (s *Service) IngestDocument(
	ctx context.Context,
	sessionID id.SessionID,
	documentID id.DocumentID,
	detections []models.DetectedPII,
	detectionMetrics *models.DetectionMetrics,
) (*models.DocumentCorrelationData, []models.HashedPIIMatch, error) {
	start := time.Now()
	matches, err := s.hasher.HashDetections(detections)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeOf(err), "hashing aborted document event")
	}
	if s.metrics != nil {
		s.metrics.HashingDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}

	record, err := s.StoreDocumentCorrelation(ctx, sessionID, documentID, matches, detectionMetrics)
	if err != nil {
		return nil, nil, err
	}
	return record, matches, nil
}

// StoreDocumentCorrelation computes the document fingerprint and PII-type
// histogram from already-hashed matches and persists the record. Empty input
// is a logged no-op, not an error.
func (s *Service) StoreDocumentCorrelation(
	ctx context.Context,
	sessionID id.SessionID,
	documentID id.DocumentID,
	matches []models.HashedPIIMatch,
	detectionMetrics *models.DetectionMetrics,
) (*models.DocumentCorrelationData, error) {
	if sessionID.IsEmpty() || documentID.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "session_id and document_id are required")
	}
	if len(matches) == 0 {
		s.logger.InfoContext(ctx, "no PII matches; skipping correlation store",
			"session_id", sessionID.String(),
			"document_id", documentID.String(),
		)
		if s.metrics != nil {
			s.metrics.EmptyDocumentsSeen.Inc()
		}
		return nil, nil
	}

	now := requestcontext.Now(ctx)
	record := s.buildRecord(sessionID, documentID, matches, detectionMetrics, now)

	if err := s.store.StoreDocumentCorrelation(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "store document correlation")
	}

	if s.metrics != nil {
		s.metrics.DocumentsStored.Inc()
		s.metrics.MatchesPerDocument.Observe(float64(len(matches)))
	}
	s.emitAudit(ctx, audit.Event{
		SessionID:         sessionID,
		DocumentID:        documentID,
		Action:            string(audit.EventCorrelationStored),
		RequestID:         requestcontext.RequestID(ctx),
		EntanglementCount: len(record.CorrelationIDs),
	})
	return record, nil
}

// CheckCrossDocumentCorrelation compares a new document's entanglement IDs
// against the session's most recent record. Strength is |shared| / |new|;
// it is intentionally not symmetric.
func (s *Service) CheckCrossDocumentCorrelation(
	ctx context.Context,
	sessionID id.SessionID,
	newMatches []models.HashedPIIMatch,
) (*models.CorrelationCheck, error) {
	if s.metrics != nil {
		s.metrics.CorrelationChecks.Inc()
	}

	check := &models.CorrelationCheck{
		SharedIDs:   []id.EntanglementID{},
		SharedTypes: []models.PIIType{},
	}

	newIDs := uniqueIDs(newMatches)
	check.AnalysisDetails.NewIDCount = len(newIDs)
	if len(newIDs) == 0 {
		return check, nil
	}

	previous, err := s.store.GetSessionCorrelation(ctx, sessionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "get session correlation")
	}
	if previous == nil {
		return check, nil
	}

	prevSet := make(map[id.EntanglementID]struct{}, len(previous.CorrelationIDs))
	for _, entID := range previous.CorrelationIDs {
		prevSet[entID] = struct{}{}
	}
	for _, entID := range newIDs {
		if _, ok := prevSet[entID]; ok {
			check.SharedIDs = append(check.SharedIDs, entID)
		}
	}

	newRisk := computeRiskScore(newMatches)
	check.HasSharedPII = len(check.SharedIDs) > 0
	check.Strength = float64(len(check.SharedIDs)) / float64(len(newIDs))
	check.SharedTypes = sharedTypes(newMatches, previous.PIITypes)
	check.RiskEscalation = newRisk > previous.RiskScore
	prevDoc := previous.DocumentID
	check.PreviousDocument = &prevDoc
	check.AnalysisDetails = models.AnalysisDetail{
		NewIDCount:      len(newIDs),
		ComparedIDCount: len(previous.CorrelationIDs),
		SharedIDCount:   len(check.SharedIDs),
		NewRiskScore:    newRisk,
		PriorRiskScore:  previous.RiskScore,
	}

	if check.HasSharedPII {
		if s.metrics != nil {
			s.metrics.SharedPIIDetected.Inc()
		}
		s.emitAudit(ctx, audit.Event{
			SessionID:         sessionID,
			DocumentID:        previous.DocumentID,
			Action:            string(audit.EventCorrelationChecked),
			Decision:          "shared_pii",
			RequestID:         requestcontext.RequestID(ctx),
			EntanglementCount: len(check.SharedIDs),
		})
	}
	return check, nil
}

// CheckDetections hashes raw detections and runs the cross-document check
// against the session's latest record. Nothing is persisted.
func (s *Service) CheckDetections(
	ctx context.Context,
	sessionID id.SessionID,
	detections []models.DetectedPII,
) (*models.CorrelationCheck, error) {
	matches, err := s.hasher.HashDetections(detections)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeOf(err), "hashing aborted correlation check")
	}
	return s.CheckCrossDocumentCorrelation(ctx, sessionID, matches)
}

// SessionDocuments returns the session's full time-ordered history.
func (s *Service) SessionDocuments(ctx context.Context, sessionID id.SessionID) ([]*models.DocumentCorrelationData, error) {
	documents, err := s.store.GetSessionDocuments(ctx, sessionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "get session documents")
	}
	return documents, nil
}

// FindCrossSessionCorrelations resolves which live documents in other
// sessions contain any of the given entanglement IDs.
func (s *Service) FindCrossSessionCorrelations(
	ctx context.Context,
	entanglementIDs []id.EntanglementID,
	excludeSession id.SessionID,
) ([]*models.CrossSessionCorrelation, error) {
	if s.metrics != nil {
		s.metrics.CrossSessionLookups.Inc()
	}
	results, err := s.store.FindCrossSessionCorrelations(ctx, entanglementIDs, excludeSession)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "find cross-session correlations")
	}
	if len(results) > 0 {
		if s.metrics != nil {
			s.metrics.CrossSessionHits.Inc()
		}
		s.emitAudit(ctx, audit.Event{
			SessionID:         excludeSession,
			Action:            string(audit.EventCrossSessionHit),
			Decision:          "correlated",
			Reason:            strconv.Itoa(len(results)) + " documents share entanglement IDs",
			RequestID:         requestcontext.RequestID(ctx),
			EntanglementCount: len(entanglementIDs),
		})
	}
	return results, nil
}

// ClearSession deletes everything stored for a session. Exposed for
// right-to-erasure requests; the deletion is audited as a compliance event.
func (s *Service) ClearSession(ctx context.Context, sessionID id.SessionID) error {
	if err := s.store.ClearSession(ctx, sessionID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "clear session")
	}
	if s.metrics != nil {
		s.metrics.SessionsCleared.Inc()
	}
	s.emitAudit(ctx, audit.Event{
		SessionID: sessionID,
		Action:    string(audit.EventSessionCleared),
		Decision:  "erased",
		RequestID: requestcontext.RequestID(ctx),
	})
	return nil
}

// GetCorrelationAnalytics proxies the store's aggregate reporting.
func (s *Service) GetCorrelationAnalytics(ctx context.Context, since *time.Time) (*models.CorrelationAnalytics, error) {
	analytics, err := s.store.GetCorrelationAnalytics(ctx, since)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "correlation analytics")
	}
	return analytics, nil
}

// buildRecord assembles a DocumentCorrelationData from hashed matches.
func (s *Service) buildRecord(
	sessionID id.SessionID,
	documentID id.DocumentID,
	matches []models.HashedPIIMatch,
	detectionMetrics *models.DetectionMetrics,
	now time.Time,
) *models.DocumentCorrelationData {
	correlationIDs := uniqueIDs(matches)
	histogram := make(map[models.PIIType]int, len(matches))
	highConfidence := 0
	confidenceSum := 0.0
	for _, match := range matches {
		histogram[match.Type]++
		confidenceSum += match.Confidence
		if match.Confidence > highConfidenceThreshold {
			highConfidence++
		}
	}

	avgConfidence := confidenceSum / float64(len(matches))
	coverage := avgConfidence
	if detectionMetrics != nil && detectionMetrics.CoverageConfidence > 0 {
		coverage = detectionMetrics.CoverageConfidence
	}

	return &models.DocumentCorrelationData{
		SessionID:           sessionID,
		DocumentID:          documentID,
		CorrelationIDs:      correlationIDs,
		DocumentFingerprint: documentFingerprint(correlationIDs, histogram),
		PIITypes:            histogram,
		RiskScore:           computeRiskScore(matches),
		DetectionQuality: models.DetectionQuality{
			TotalMatches:          len(matches),
			HighConfidenceMatches: highConfidence,
			FalsePositiveRisk:     1 - avgConfidence,
			CoverageConfidence:    coverage,
		},
		Timestamp: now,
		ExpiresAt: now.Add(s.retention),
	}
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err)
	}
}

// computeRiskScore sums weight x confidence over all matches, clamped to the
// storable range.
func computeRiskScore(matches []models.HashedPIIMatch) float64 {
	score := 0.0
	for _, match := range matches {
		weight, ok := riskWeights[match.Type]
		if !ok {
			weight = 2
		}
		score += weight * match.Confidence
	}
	return store.ClampRiskScore(score)
}

// documentFingerprint hashes the full correlation-ID set plus the type
// histogram into one stable document-level digest.
func documentFingerprint(ids []id.EntanglementID, histogram map[models.PIIType]int) string {
	sorted := make([]string, 0, len(ids))
	for _, entID := range ids {
		sorted = append(sorted, entID.String())
	}
	sort.Strings(sorted)

	types := make([]string, 0, len(histogram))
	for piiType, count := range histogram {
		types = append(types, string(piiType)+"="+strconv.Itoa(count))
	}
	sort.Strings(types)

	digest := sha256.Sum256([]byte(strings.Join(sorted, "|") + "#" + strings.Join(types, ",")))
	return hex.EncodeToString(digest[:])
}

// uniqueIDs extracts the distinct entanglement-ID set in first-seen order.
func uniqueIDs(matches []models.HashedPIIMatch) []id.EntanglementID {
	seen := make(map[id.EntanglementID]struct{}, len(matches))
	ids := make([]id.EntanglementID, 0, len(matches))
	for _, match := range matches {
		if _, ok := seen[match.EntanglementID]; ok {
			continue
		}
		seen[match.EntanglementID] = struct{}{}
		ids = append(ids, match.EntanglementID)
	}
	return ids
}

// sharedTypes lists PII types present in both the new matches and the prior
// histogram, in stable order.
func sharedTypes(matches []models.HashedPIIMatch, prior map[models.PIIType]int) []models.PIIType {
	newTypes := make(map[models.PIIType]struct{}, len(matches))
	for _, match := range matches {
		newTypes[match.Type] = struct{}{}
	}
	shared := make([]models.PIIType, 0, len(newTypes))
	for piiType := range newTypes {
		if prior[piiType] > 0 {
			shared = append(shared, piiType)
		}
	}
	sort.Slice(shared, func(i, j int) bool { return shared[i] < shared[j] })
	return shared
}
