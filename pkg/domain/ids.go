package domain

import (
	"strings"

	dErrors "github.com/ProdByBuddha/readmyfineprint/pkg/domain-errors"
)

// Typed identifiers so session, document, and entanglement IDs cannot be
// swapped at call sites. Session and document IDs are opaque strings assigned
// by the upstream processing pipeline; entanglement IDs are produced by the
// hasher and are valid only in hex form.
type (
	// SessionID scopes a bounded sequence of document-processing events.
	SessionID string

	// DocumentID identifies one processed document within a session.
	DocumentID string

	// EntanglementID is the fast deterministic correlation key for one PII
	// value. It is derived, never parsed from user input.
	EntanglementID string

	// FingerprintID identifies one payload fingerprint (time+random derived).
	FingerprintID string
)

// maxIDLength bounds externally supplied identifiers before they reach
// storage keys.
const maxIDLength = 128

// ParseSessionID validates an externally supplied session identifier.
func ParseSessionID(raw string) (SessionID, error) {
	if err := validateExternalID(raw, "session_id"); err != nil {
		return "", err
	}
	return SessionID(raw), nil
}

// ParseDocumentID validates an externally supplied document identifier.
func ParseDocumentID(raw string) (DocumentID, error) {
	if err := validateExternalID(raw, "document_id"); err != nil {
		return "", err
	}
	return DocumentID(raw), nil
}

func validateExternalID(raw, field string) error {
	if strings.TrimSpace(raw) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	if len(raw) > maxIDLength {
		return dErrors.New(dErrors.CodeInvalidInput, field+" exceeds maximum length")
	}
	return nil
}

func (s SessionID) String() string      { return string(s) }
func (d DocumentID) String() string     { return string(d) }
func (e EntanglementID) String() string { return string(e) }
func (f FingerprintID) String() string  { return string(f) }

func (s SessionID) IsEmpty() bool  { return s == "" }
func (d DocumentID) IsEmpty() bool { return d == "" }
