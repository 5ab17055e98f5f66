package audit

import (
	"context"
	"time"

	id "github.com/ProdByBuddha/readmyfineprint/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance,
	// such as right-to-erasure session clears. Long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to forensic review: cross
	// session correlation hits, fingerprint verification failures.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine bookkeeping useful for debugging.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. By
// construction it can only carry identifiers and counts; raw PII never
// reaches this type.
type Event struct {
	Category   EventCategory `json:"category"`
	Timestamp  time.Time     `json:"timestamp"`
	SessionID  id.SessionID  `json:"session_id"`
	DocumentID id.DocumentID `json:"document_id,omitempty"`
	Action     string        `json:"action"`
	Decision   string        `json:"decision,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	RequestID  string        `json:"request_id,omitempty"`

	// FingerprintID is set for payload-fingerprint events.
	FingerprintID string `json:"fingerprint_id,omitempty"`

	// EntanglementCount records how many correlation IDs an event touched
	// without listing them.
	EntanglementCount int `json:"entanglement_count,omitempty"`
}

// AuditEvent names the actions this subsystem records.
type AuditEvent string

const (
	EventCorrelationStored    AuditEvent = "document_correlation_stored"
	EventCorrelationChecked   AuditEvent = "cross_document_correlation_checked"
	EventCrossSessionHit      AuditEvent = "cross_session_correlation_detected"
	EventSessionCleared       AuditEvent = "session_cleared"
	EventForensicReportBuilt  AuditEvent = "forensic_report_generated"
	EventFingerprintCreated   AuditEvent = "payload_fingerprint_created"
	EventFingerprintDegraded  AuditEvent = "payload_fingerprint_verification_degraded"
	EventRetentionSweepFailed AuditEvent = "retention_sweep_failed"
)

// eventCategories is the source of truth mapping actions to categories.
var eventCategories = map[AuditEvent]EventCategory{
	EventCorrelationStored:    CategoryOperations,
	EventCorrelationChecked:   CategoryOperations,
	EventCrossSessionHit:      CategorySecurity,
	EventSessionCleared:       CategoryCompliance,
	EventForensicReportBuilt:  CategorySecurity,
	EventFingerprintCreated:   CategoryOperations,
	EventFingerprintDegraded:  CategorySecurity,
	EventRetentionSweepFailed: CategoryOperations,
}

// Category derives the event category from the action name.
func (e AuditEvent) Category() EventCategory {
	if category, ok := eventCategories[e]; ok {
		return category
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySession(ctx context.Context, sessionID id.SessionID) ([]Event, error)
}
