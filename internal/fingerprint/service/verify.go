package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ProdByBuddha/readmyfineprint/internal/fingerprint/models"
	audit "github.com/ProdByBuddha/readmyfineprint/pkg/platform/audit"
	"github.com/ProdByBuddha/readmyfineprint/pkg/requestcontext"
)

// minLayerHashLength is the shortest hash any layer may legitimately carry.
// A full SHA-256 hex digest is 64 characters; anything shorter than this has
// been truncated or tampered with.
const minLayerHashLength = 32

// timingToleranceMs allows for clock rounding between the recorded total and
// the end-minus-start delta.
const timingToleranceMs = 1000

// Trust penalties per issue category.
const (
	penaltyLayerHash    = 0.25
	penaltyMissingLayer = 0.30
	penaltyLinkage      = 0.20
	penaltyMetrics      = 0.15
	penaltyTiming       = 0.10
)

// expectedLayerCount is fixed: a chain always has exactly five layers.
const expectedLayerCount = 5

// VerifyFingerprintIntegrity checks the structural soundness of a
// fingerprint. It never returns an error: a degraded fingerprint produces
// issues and a reduced trust score so that forensic reporting can proceed.
func (s *Service) VerifyFingerprintIntegrity(ctx context.Context, fingerprint *models.PayloadFingerprint) models.VerificationResult {
	result := models.VerificationResult{
		IsValid:    true,
		Issues:     []string{},
		TrustScore: 1.0,
	}
	if fingerprint == nil {
		result.IsValid = false
		result.TrustScore = 0
		result.Issues = append(result.Issues, "fingerprint is absent")
		return result
	}

	if len(fingerprint.Layers) != expectedLayerCount {
		addIssue(&result, penaltyMissingLayer,
			fmt.Sprintf("expected %d layers, found %d", expectedLayerCount, len(fingerprint.Layers)))
	}
	for _, layer := range fingerprint.Layers {
		if len(layer.Hash) < minLayerHashLength {
			addIssue(&result, penaltyLayerHash,
				fmt.Sprintf("layer %q hash is too short (%d chars)", layer.LayerName, len(layer.Hash)))
		}
	}

	linkages := map[string]string{
		"original_to_redacted":    fingerprint.Linkages.OriginalToRedacted,
		"redacted_to_api_request": fingerprint.Linkages.RedactedToAPIRequest,
		"pii_to_entanglement":     fingerprint.Linkages.PIIToEntanglement,
		"complete_chain":          fingerprint.Linkages.CompleteChain,
	}
	for name, value := range linkages {
		if value == "" {
			addIssue(&result, penaltyLinkage, fmt.Sprintf("linkage %q is missing", name))
		}
	}

	if fingerprint.SecurityMetrics.ChainIntegrity < 0.5 {
		addIssue(&result, penaltyMetrics,
			fmt.Sprintf("chain integrity %.2f below 0.5", fingerprint.SecurityMetrics.ChainIntegrity))
	}
	if fingerprint.SecurityMetrics.PIIDetectionConfidence < 0.6 {
		addIssue(&result, penaltyMetrics,
			fmt.Sprintf("pii detection confidence %.2f below 0.6", fingerprint.SecurityMetrics.PIIDetectionConfidence))
	}

	chain := fingerprint.ProcessingChain
	elapsed := chain.CompletedAt.Sub(chain.StartedAt)
	drift := elapsed - time.Duration(chain.TotalDurationMs)*time.Millisecond
	if math.Abs(float64(drift.Milliseconds())) > timingToleranceMs {
		addIssue(&result, penaltyTiming,
			fmt.Sprintf("recorded total %dms disagrees with timestamps by %dms", chain.TotalDurationMs, drift.Milliseconds()))
	}

	if result.TrustScore < 0 {
		result.TrustScore = 0
	}

	if s.metrics != nil {
		s.metrics.VerificationsRun.Inc()
		if !result.IsValid {
			s.metrics.DegradedFingerprints.Inc()
		}
	}
	if !result.IsValid {
		s.logger.WarnContext(ctx, "fingerprint failed integrity verification",
			"fingerprint_id", fingerprint.FingerprintID.String(),
			"issues", len(result.Issues),
			"trust_score", result.TrustScore,
		)
		if s.audit != nil {
			event := audit.Event{
				SessionID:     fingerprint.SessionID,
				DocumentID:    fingerprint.DocumentID,
				Action:        string(audit.EventFingerprintDegraded),
				Decision:      "degraded",
				Reason:        result.Issues[0],
				FingerprintID: fingerprint.FingerprintID.String(),
				RequestID:     requestcontext.RequestID(ctx),
			}
			if err := s.audit.Emit(ctx, event); err != nil {
				s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err)
			}
		}
	}
	return result
}

// CreateForensicReport derives the risk view of one fingerprint. Risk is a
// function of chain integrity alone; the recommendations surface whichever
// specific metrics fell short.
func (s *Service) CreateForensicReport(ctx context.Context, fingerprint *models.PayloadFingerprint) *models.ForensicReport {
	verification := s.VerifyFingerprintIntegrity(ctx, fingerprint)
	report := &models.ForensicReport{
		GeneratedAt:     requestcontext.Now(ctx),
		Verification:    verification,
		Recommendations: []string{},
	}
	if fingerprint == nil {
		report.OverallRisk = models.RiskHigh
		report.Recommendations = append(report.Recommendations, "fingerprint is absent; treat the processing event as unverifiable")
		return report
	}

	report.FingerprintID = fingerprint.FingerprintID
	report.DocumentID = fingerprint.DocumentID
	report.SessionID = fingerprint.SessionID
	report.SecurityMetrics = fingerprint.SecurityMetrics

	sm := fingerprint.SecurityMetrics
	switch {
	case sm.ChainIntegrity >= 0.7:
		report.OverallRisk = models.RiskLow
	case sm.ChainIntegrity >= 0.5:
		report.OverallRisk = models.RiskMedium
	default:
		report.OverallRisk = models.RiskHigh
	}

	if sm.RedactionIntegrity < 1.0 {
		report.Recommendations = append(report.Recommendations,
			"not every detected PII item was redacted in the outbound text; review the redaction stage")
	}
	if sm.PIIDetectionConfidence < 0.6 {
		report.Recommendations = append(report.Recommendations,
			"upstream detection confidence is low; consider a second detection pass before relying on this fingerprint")
	}
	if sm.ForensicScore < 0.7 {
		report.Recommendations = append(report.Recommendations,
			"forensic score is limited; the event carries little corroborating evidence for investigation")
	}
	if !verification.IsValid {
		report.Recommendations = append(report.Recommendations,
			"fingerprint failed integrity verification; see verification issues before using it as evidence")
	}
	return report
}

func addIssue(result *models.VerificationResult, penalty float64, issue string) {
	result.IsValid = false
	result.Issues = append(result.Issues, issue)
	result.TrustScore -= penalty
}
