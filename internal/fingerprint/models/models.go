// Package models defines the payload-fingerprint types. A fingerprint is an
// append-only audit artifact: created once per document-processing event and
// never mutated afterwards.
package models

import (
	"time"

	corrmodels "github.com/ProdByBuddha/readmyfineprint/internal/correlation/models"
	id "github.com/ProdByBuddha/readmyfineprint/pkg/domain"
)

// ContentType names which processing stage a layer captures.
type ContentType string

const (
	ContentTypeOriginal      ContentType = "original"
	ContentTypeRedacted      ContentType = "redacted"
	ContentTypeAPIRequest    ContentType = "api_request"
	ContentTypeAPIResponse   ContentType = "api_response"
	ContentTypePIIIndividual ContentType = "pii_individual"
)

// PayloadLayer is one hashed artifact in a processing chain. Immutable once
// computed.
type PayloadLayer struct {
	LayerName   string         `json:"layer_name"`
	ContentType ContentType    `json:"content_type"`
	Hash        string         `json:"hash"`
	Algorithm   string         `json:"algorithm"`
	Size        int            `json:"size"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Linkages holds the four cross-layer hashes proving the layers belong to
// one chain. Each is computed with its own textual marker so a linkage for
// one purpose can never be confused with another.
type Linkages struct {
	OriginalToRedacted   string `json:"original_to_redacted"`
	RedactedToAPIRequest string `json:"redacted_to_api_request"`
	PIIToEntanglement    string `json:"pii_to_entanglement"`
	CompleteChain        string `json:"complete_chain"`
}

// ProcessingChain records when the event ran and how long each stage took.
type ProcessingChain struct {
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     time.Time        `json:"completed_at"`
	TotalDurationMs int64            `json:"total_duration_ms"`
	StageDurations  map[string]int64 `json:"stage_durations,omitempty"`
}

// SecurityMetrics scores the fingerprint's evidentiary quality, all on a
// 0 to 1 scale.
type SecurityMetrics struct {
	PIIDetectionConfidence float64 `json:"pii_detection_confidence"`
	RedactionIntegrity     float64 `json:"redaction_integrity"`
	ChainIntegrity         float64 `json:"chain_integrity"`
	ForensicScore          float64 `json:"forensic_score"`
}

// PayloadFingerprint is the aggregate: exactly five ordered layers, their
// linkages, the processing timeline, and the security scores.
type PayloadFingerprint struct {
	FingerprintID   id.FingerprintID `json:"fingerprint_id"`
	DocumentID      id.DocumentID    `json:"document_id"`
	SessionID       id.SessionID     `json:"session_id"`
	Layers          []PayloadLayer   `json:"layers"`
	Linkages        Linkages         `json:"linkages"`
	ProcessingChain ProcessingChain  `json:"processing_chain"`
	SecurityMetrics SecurityMetrics  `json:"security_metrics"`
}

// Layer returns the layer with the given content type, or nil.
func (f *PayloadFingerprint) Layer(contentType ContentType) *PayloadLayer {
	for i := range f.Layers {
		if f.Layers[i].ContentType == contentType {
			return &f.Layers[i]
		}
	}
	return nil
}

// PayloadInput is everything one document-processing event hands to the
// fingerprinting service. The API payloads are treated as opaque bytes; this
// subsystem serializes and hashes them, never interprets them.
type PayloadInput struct {
	DocumentID      id.DocumentID
	SessionID       id.SessionID
	OriginalContent string
	RedactedContent string
	APIRequest      any
	APIResponse     any
	Matches         []corrmodels.HashedPIIMatch
	Detection       *corrmodels.DetectionMetrics
}

// VerificationResult is the structured outcome of an integrity check.
// Verification never fails hard: a degraded fingerprint yields issues and a
// reduced trust score, not an error.
type VerificationResult struct {
	IsValid    bool     `json:"is_valid"`
	Issues     []string `json:"issues"`
	TrustScore float64  `json:"trust_score"`
}

// Risk levels for a fingerprint forensic report.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// ForensicReport is the compliance-export view of one fingerprint.
type ForensicReport struct {
	FingerprintID   id.FingerprintID   `json:"fingerprint_id"`
	DocumentID      id.DocumentID      `json:"document_id"`
	SessionID       id.SessionID       `json:"session_id"`
	GeneratedAt     time.Time          `json:"generated_at"`
	OverallRisk     string             `json:"overall_risk"`
	SecurityMetrics SecurityMetrics    `json:"security_metrics"`
	Verification    VerificationResult `json:"verification"`
	Recommendations []string           `json:"recommendations"`
}
