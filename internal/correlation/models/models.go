// Package models defines the correlation domain types. Everything here is
// already hashed: raw PII values exist only transiently inside the hasher and
// the ingest DTO, and must never appear on any type that is persisted,
// serialized, or logged.
package models

import (
	"time"

	id "github.com/ProdByBuddha/readmyfineprint/pkg/domain"
)

// PIIType enumerates the categories of sensitive values the upstream
// detector reports.
type PIIType string

const (
	PIITypeSSN        PIIType = "SSN"
	PIITypeEmail      PIIType = "EMAIL"
	PIITypePhone      PIIType = "PHONE"
	PIITypeCreditCard PIIType = "CREDIT_CARD"
	PIITypeAddress    PIIType = "ADDRESS"
	PIITypeDOB        PIIType = "DOB"
	PIITypeName       PIIType = "NAME"
	PIITypeIPAddress  PIIType = "IP_ADDRESS"
)

// KnownPIITypes lists every type the hasher carries a salt for.
var KnownPIITypes = []PIIType{
	PIITypeSSN, PIITypeEmail, PIITypePhone, PIITypeCreditCard,
	PIITypeAddress, PIITypeDOB, PIITypeName, PIITypeIPAddress,
}

// Valid reports whether t is a known PII type.
func (t PIIType) Valid() bool {
	for _, known := range KnownPIITypes {
		if t == known {
			return true
		}
	}
	return false
}

// DetectedPII is the upstream detection input: one candidate PII span with
// its raw value. It is consumed by the hasher and discarded; the RawValue
// field is excluded from every serialization path.
type DetectedPII struct {
	Type            PIIType `json:"type"`
	RawValue        string  `json:"-"`
	Confidence      float64 `json:"confidence"`
	DetectionMethod string  `json:"detection_method"`
}

// HashedPIIMatch is one detected-and-hashed PII occurrence. Immutable once
// created.
type HashedPIIMatch struct {
	Type PIIType `json:"type"`

	// HashedValue is the high-cost Argon2id hash kept for storage-at-rest.
	// Never reversed, never compared in hot paths.
	HashedValue string `json:"hashed_value"`

	// EntanglementID is the fast deterministic correlation key. Same value
	// and type always produce the same ID, so cross-document identity
	// matching never touches plaintext.
	EntanglementID id.EntanglementID `json:"entanglement_id"`

	Confidence      float64 `json:"confidence"`
	DetectionMethod string  `json:"detection_method"`
}

// DetectionQuality summarizes how trustworthy the upstream detection pass
// was for one document.
type DetectionQuality struct {
	TotalMatches          int     `json:"total_matches"`
	HighConfidenceMatches int     `json:"high_confidence_matches"`
	FalsePositiveRisk     float64 `json:"false_positive_risk"`
	CoverageConfidence    float64 `json:"coverage_confidence"`
}

// DetectionMetrics is optional caller-supplied context from the detection
// stage, used for quality bookkeeping and fingerprint security metrics.
type DetectionMetrics struct {
	PIIDetectionConfidence float64 `json:"pii_detection_confidence"`
	CoverageConfidence     float64 `json:"coverage_confidence"`
}

// DocumentCorrelationData is one document's correlation record. Upserted as
// a whole on reprocessing; deleted by expiry or session clear.
type DocumentCorrelationData struct {
	SessionID           id.SessionID        `json:"session_id"`
	DocumentID          id.DocumentID       `json:"document_id"`
	CorrelationIDs      []id.EntanglementID `json:"correlation_ids"`
	DocumentFingerprint string              `json:"document_fingerprint"`
	PIITypes            map[PIIType]int     `json:"pii_types"`
	RiskScore           float64             `json:"risk_score"`
	DetectionQuality    DetectionQuality    `json:"detection_quality"`
	Timestamp           time.Time           `json:"timestamp"`
	ExpiresAt           time.Time           `json:"expires_at"`
}

// CorrelationCheck is the per-document workflow decision result: does this
// new document share PII with the session's most recent record.
type CorrelationCheck struct {
	HasSharedPII bool                `json:"has_shared_pii"`
	SharedIDs    []id.EntanglementID `json:"shared_ids"`

	// Strength is |shared| / |new document's ID set|. Asymmetric on purpose:
	// comparing A against B is not the same question as B against A.
	Strength float64 `json:"strength"`

	// SharedTypes lists PII types present in both documents. Type overlap
	// alone is not correlation (two different SSNs share a type); only
	// SharedIDs prove identity overlap.
	SharedTypes []PIIType `json:"shared_types"`

	RiskEscalation   bool           `json:"risk_escalation"`
	PreviousDocument *id.DocumentID `json:"previous_document,omitempty"`
	AnalysisDetails  AnalysisDetail `json:"analysis_details"`
}

// AnalysisDetail carries the raw counts behind a correlation decision so
// reviewers can sanity-check the strength arithmetic.
type AnalysisDetail struct {
	NewIDCount      int     `json:"new_id_count"`
	ComparedIDCount int     `json:"compared_id_count"`
	SharedIDCount   int     `json:"shared_id_count"`
	NewRiskScore    float64 `json:"new_risk_score"`
	PriorRiskScore  float64 `json:"prior_risk_score"`
}

// CrossSessionCorrelation is one reverse-index hit: a live document in
// another session sharing entanglement IDs with the queried set.
type CrossSessionCorrelation struct {
	SessionID  id.SessionID        `json:"session_id"`
	DocumentID id.DocumentID       `json:"document_id"`
	SharedIDs  []id.EntanglementID `json:"shared_ids"`
	Strength   float64             `json:"strength"`
}

// SessionSummary aggregates all documents in one session.
type SessionSummary struct {
	SessionID               id.SessionID `json:"session_id"`
	DocumentCount           int          `json:"document_count"`
	TotalCorrelations       int          `json:"total_correlations"`
	AverageRiskScore        float64      `json:"average_risk_score"`
	PIITypesFound           []PIIType    `json:"pii_types_found"`
	LastDocumentFingerprint string       `json:"last_document_fingerprint"`
}

// SessionPairCorrelation is one unordered session pair in a forensic report,
// compared over the union of each session's entanglement IDs.
type SessionPairCorrelation struct {
	SessionA  id.SessionID        `json:"session_a"`
	SessionB  id.SessionID        `json:"session_b"`
	SharedIDs []id.EntanglementID `json:"shared_ids"`

	// StrengthAToB divides by session A's union size, StrengthBToA by
	// session B's. Reported separately rather than collapsed into one
	// symmetric number.
	StrengthAToB float64 `json:"strength_a_to_b"`
	StrengthBToA float64 `json:"strength_b_to_a"`
}

// RiskProfile is the aggregate risk view across a forensic cohort.
type RiskProfile struct {
	AverageRiskScore     float64         `json:"average_risk_score"`
	HighestRiskSession   id.SessionID    `json:"highest_risk_session"`
	HighestRiskScore     float64         `json:"highest_risk_score"`
	MostCommonPIITypes   []PIIType       `json:"most_common_pii_types"`
	PIITypeTotals        map[PIIType]int `json:"pii_type_totals"`
	UniqueEntanglementID int             `json:"unique_entanglement_ids"`
}

// ForensicReport is the cross-session investigation artifact.
type ForensicReport struct {
	GeneratedAt       time.Time                `json:"generated_at"`
	SessionIDs        []id.SessionID           `json:"session_ids"`
	SessionSummaries  []SessionSummary         `json:"session_summaries"`
	CrossCorrelations []SessionPairCorrelation `json:"cross_correlations"`
	RiskProfile       RiskProfile              `json:"risk_profile"`
}

// CorrelationAnalytics is the aggregate reporting shape for operators.
type CorrelationAnalytics struct {
	TotalSessions    int            `json:"total_sessions"`
	TotalDocuments   int            `json:"total_documents"`
	RiskDistribution map[string]int `json:"risk_distribution"`
}

// Risk distribution bucket names.
const (
	RiskBucketLow    = "low"
	RiskBucketMedium = "medium"
	RiskBucketHigh   = "high"
)

// RiskBucket maps a stored risk score onto a coarse reporting bucket.
func RiskBucket(score float64) string {
	switch {
	case score >= 7.0:
		return RiskBucketHigh
	case score >= 3.0:
		return RiskBucketMedium
	default:
		return RiskBucketLow
	}
}
