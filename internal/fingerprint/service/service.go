// Package service builds and scores payload fingerprints: the five-layer
// hash chain wrapping one document-processing event.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	corrmodels "github.com/ProdByBuddha/readmyfineprint/internal/correlation/models"
	"github.com/ProdByBuddha/readmyfineprint/internal/fingerprint/metrics"
	"github.com/ProdByBuddha/readmyfineprint/internal/fingerprint/models"
	id "github.com/ProdByBuddha/readmyfineprint/pkg/domain"
	dErrors "github.com/ProdByBuddha/readmyfineprint/pkg/domain-errors"
	audit "github.com/ProdByBuddha/readmyfineprint/pkg/platform/audit"
	"github.com/ProdByBuddha/readmyfineprint/pkg/requestcontext"
)

// Linkage markers. Each linkage hash mixes in its own marker so a hash
// computed for one purpose can never satisfy a check for another.
const (
	markerRedactionLink   = "REDACTION_LINK"
	markerAPIRequestLink  = "API_REQUEST_LINK"
	markerPIIEntanglement = "PII_ENTANGLEMENT_LINK"
	markerCompleteChain   = "COMPLETE_CHAIN"
	linkageSeparator      = "|"
)

// redactionMarkerPrefix is what the upstream redactor substitutes PII spans
// with, e.g. "[REDACTED:SSN]".
const redactionMarkerPrefix = "[REDACTED"

// defaultDetectionConfidence is assumed when the caller supplies no upstream
// detection metrics. Deliberately conservative.
const defaultDetectionConfidence = 0.5

// hashSampleCount bounds how many hash prefixes the PII summary layer keeps
// for spot-checking.
const hashSampleCount = 3

const hashAlgorithm = "sha256"

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service constructs payload fingerprints.
type Service struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   AuditPublisher
}

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

func New(opts ...Option) *Service {
	svc := &Service{logger: slog.Default()}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// CreateFingerprint hashes the five canonical layers, binds them with
// linkage hashes, and scores the chain. Single shot, no retries.
func (s *Service) CreateFingerprint(ctx context.Context, input models.PayloadInput) (*models.PayloadFingerprint, error) {
	if input.DocumentID.IsEmpty() || input.SessionID.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "document_id and session_id are required")
	}

	started := requestcontext.Now(ctx)
	collectStart := time.Now()

	requestBytes, err := json.Marshal(input.APIRequest)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "serialize api request")
	}
	responseBytes, err := json.Marshal(input.APIResponse)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "serialize api response")
	}

	markerCount := strings.Count(input.RedactedContent, redactionMarkerPrefix)
	layers := []models.PayloadLayer{
		buildLayer("original_content", models.ContentTypeOriginal, []byte(input.OriginalContent), started, map[string]any{
			"token_estimate": tokenEstimate(input.OriginalContent),
		}),
		buildLayer("redacted_content", models.ContentTypeRedacted, []byte(input.RedactedContent), started, map[string]any{
			"token_estimate":  tokenEstimate(input.RedactedContent),
			"redaction_count": markerCount,
		}),
		buildLayer("api_request", models.ContentTypeAPIRequest, requestBytes, started, nil),
		buildLayer("api_response", models.ContentTypeAPIResponse, responseBytes, started, nil),
		buildPIILayer(input.Matches, started),
	}
	collectMs := time.Since(collectStart).Milliseconds()

	linkStart := time.Now()
	entanglementIDs := entanglementList(input.Matches)
	linkages := models.Linkages{
		OriginalToRedacted:   linkageHash(layers[0].Hash, layers[1].Hash, markerRedactionLink),
		RedactedToAPIRequest: linkageHash(layers[1].Hash, layers[2].Hash, markerAPIRequestLink),
		PIIToEntanglement:    linkageHash(layers[4].Hash, strings.Join(entanglementIDs, linkageSeparator), markerPIIEntanglement),
		CompleteChain:        chainHash(layers),
	}
	linkMs := time.Since(linkStart).Milliseconds()

	securityMetrics := computeSecurityMetrics(input.Matches, input.Detection, markerCount)

	completed := started.Add(time.Since(collectStart))
	fingerprint := &models.PayloadFingerprint{
		FingerprintID: newFingerprintID(started),
		DocumentID:    input.DocumentID,
		SessionID:     input.SessionID,
		Layers:        layers,
		Linkages:      linkages,
		ProcessingChain: models.ProcessingChain{
			StartedAt:       started,
			CompletedAt:     completed,
			TotalDurationMs: completed.Sub(started).Milliseconds(),
			StageDurations: map[string]int64{
				"collect_layers":   collectMs,
				"compute_linkages": linkMs,
			},
		},
		SecurityMetrics: securityMetrics,
	}

	if s.metrics != nil {
		s.metrics.FingerprintsCreated.Inc()
		s.metrics.ChainIntegrity.Observe(securityMetrics.ChainIntegrity)
	}
	s.logger.InfoContext(ctx, "payload fingerprint created",
		"fingerprint_id", fingerprint.FingerprintID.String(),
		"document_id", input.DocumentID.String(),
		"chain_integrity", securityMetrics.ChainIntegrity,
	)
	if s.audit != nil {
		event := audit.Event{
			SessionID:         input.SessionID,
			DocumentID:        input.DocumentID,
			Action:            string(audit.EventFingerprintCreated),
			FingerprintID:     fingerprint.FingerprintID.String(),
			RequestID:         requestcontext.RequestID(ctx),
			EntanglementCount: len(entanglementIDs),
		}
		if err := s.audit.Emit(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err)
		}
	}
	return fingerprint, nil
}

func buildLayer(name string, contentType models.ContentType, content []byte, timestamp time.Time, metadata map[string]any) models.PayloadLayer {
	digest := sha256.Sum256(content)
	return models.PayloadLayer{
		LayerName:   name,
		ContentType: contentType,
		Hash:        hex.EncodeToString(digest[:]),
		Algorithm:   hashAlgorithm,
		Size:        len(content),
		Timestamp:   timestamp,
		Metadata:    metadata,
	}
}

// buildPIILayer hashes a summary of the detected PII: counts by type, the
// entanglement-ID list, and a small sample of at-rest hash prefixes for
// spot-checking. Raw values never reach this layer.
func buildPIILayer(matches []corrmodels.HashedPIIMatch, timestamp time.Time) models.PayloadLayer {
	histogram := make(map[string]int, len(matches))
	for _, match := range matches {
		histogram[string(match.Type)]++
	}
	types := make([]string, 0, len(histogram))
	for piiType, count := range histogram {
		types = append(types, piiType+"="+strconv.Itoa(count))
	}
	sort.Strings(types)

	samples := make([]string, 0, hashSampleCount)
	for _, match := range matches {
		if len(samples) == hashSampleCount {
			break
		}
		if len(match.HashedValue) >= 12 {
			samples = append(samples, match.HashedValue[:12])
		}
	}

	summary := strings.Join(types, ",") + "#" +
		strings.Join(entanglementList(matches), linkageSeparator) + "#" +
		strings.Join(samples, ",")

	return buildLayer("pii_summary", models.ContentTypePIIIndividual, []byte(summary), timestamp, map[string]any{
		"match_count": len(matches),
		"type_count":  len(histogram),
	})
}

func computeSecurityMetrics(matches []corrmodels.HashedPIIMatch, detection *corrmodels.DetectionMetrics, markerCount int) models.SecurityMetrics {
	confidence := defaultDetectionConfidence
	if detection != nil && detection.PIIDetectionConfidence > 0 {
		confidence = detection.PIIDetectionConfidence
	}

	redactionIntegrity := 1.0
	if len(matches) > 0 {
		redactionIntegrity = float64(markerCount) / float64(len(matches))
		if redactionIntegrity > 1 {
			redactionIntegrity = 1
		}
	}

	forensicScore := 0.5
	if len(matches) > 1 {
		forensicScore += 0.2
	}
	for _, match := range matches {
		if match.Confidence > 0.85 {
			forensicScore += 0.2
			break
		}
	}
	if markerCount > 0 && len(matches) > 0 {
		forensicScore += 0.1
	}
	if forensicScore > 1 {
		forensicScore = 1
	}

	return models.SecurityMetrics{
		PIIDetectionConfidence: confidence,
		RedactionIntegrity:     redactionIntegrity,
		ChainIntegrity:         (confidence + redactionIntegrity) / 2,
		ForensicScore:          forensicScore,
	}
}

func linkageHash(left, right, marker string) string {
	digest := sha256.Sum256([]byte(left + right + marker))
	return hex.EncodeToString(digest[:])
}

func chainHash(layers []models.PayloadLayer) string {
	hashes := make([]string, 0, len(layers))
	for _, layer := range layers {
		hashes = append(hashes, layer.Hash)
	}
	digest := sha256.Sum256([]byte(strings.Join(hashes, linkageSeparator) + markerCompleteChain))
	return hex.EncodeToString(digest[:])
}

func entanglementList(matches []corrmodels.HashedPIIMatch) []string {
	seen := make(map[id.EntanglementID]struct{}, len(matches))
	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		if _, ok := seen[match.EntanglementID]; ok {
			continue
		}
		seen[match.EntanglementID] = struct{}{}
		ids = append(ids, match.EntanglementID.String())
	}
	return ids
}

// newFingerprintID derives a globally unique ID from creation time plus
// random bytes; collisions within one nanosecond are covered by the suffix.
func newFingerprintID(at time.Time) id.FingerprintID {
	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		// crypto/rand failing means the platform is broken; degrade to a
		// time-only suffix rather than abort the audit trail.
		return id.FingerprintID(fmt.Sprintf("fp_%d_%d", at.UnixNano(), time.Now().UnixNano()%1_000_000))
	}
	return id.FingerprintID(fmt.Sprintf("fp_%d_%s", at.UnixNano(), hex.EncodeToString(suffix)))
}

// tokenEstimate is the rough four-characters-per-token heuristic used for
// layer metadata only.
func tokenEstimate(content string) int {
	return (len(content) + 3) / 4
}
