package handler

import (
	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/models"
	id "github.com/ProdByBuddha/readmyfineprint/pkg/domain"
	dErrors "github.com/ProdByBuddha/readmyfineprint/pkg/domain-errors"
)

// maxDetectionsPerDocument bounds one ingest request. Documents with more
// detections than this are almost certainly detector malfunctions.
const maxDetectionsPerDocument = 1000

// DetectionDTO is one raw detection on the wire. Value is the only place
// plaintext PII crosses this API; it is hashed immediately and never echoed.
type DetectionDTO struct {
	Type            string  `json:"type"`
	Value           string  `json:"value"`
	Confidence      float64 `json:"confidence"`
	DetectionMethod string  `json:"detection_method"`
}

// IngestRequest is the POST /correlation/documents body.
type IngestRequest struct {
	SessionID        string                   `json:"session_id"`
	DocumentID       string                   `json:"document_id"`
	Detections       []DetectionDTO           `json:"detections"`
	DetectionMetrics *models.DetectionMetrics `json:"detection_metrics,omitempty"`
}

// CheckRequest is the POST /correlation/check body.
type CheckRequest struct {
	SessionID  string         `json:"session_id"`
	Detections []DetectionDTO `json:"detections"`
}

// CrossSessionRequest is the POST /correlation/cross-session body.
type CrossSessionRequest struct {
	EntanglementIDs []string `json:"entanglement_ids"`
	ExcludeSession  string   `json:"exclude_session,omitempty"`
}

// ForensicReportRequest is the POST /forensics/report body.
type ForensicReportRequest struct {
	SessionIDs []string `json:"session_ids"`
}

func parseDetections(dtos []DetectionDTO) ([]models.DetectedPII, error) {
	if len(dtos) > maxDetectionsPerDocument {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "too many detections in one request")
	}
	detections := make([]models.DetectedPII, 0, len(dtos))
	for _, dto := range dtos {
		piiType := models.PIIType(dto.Type)
		if !piiType.Valid() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown pii type: "+dto.Type)
		}
		if dto.Value == "" {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "detection value must not be empty")
		}
		if dto.Confidence < 0 || dto.Confidence > 1 {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "confidence must be between 0 and 1")
		}
		detections = append(detections, models.DetectedPII{
			Type:            piiType,
			RawValue:        dto.Value,
			Confidence:      dto.Confidence,
			DetectionMethod: dto.DetectionMethod,
		})
	}
	return detections, nil
}

func parseEntanglementIDs(raw []string) ([]id.EntanglementID, error) {
	if len(raw) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "entanglement_ids must not be empty")
	}
	ids := make([]id.EntanglementID, 0, len(raw))
	for _, value := range raw {
		if value == "" {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "entanglement_ids contain empty value")
		}
		ids = append(ids, id.EntanglementID(value))
	}
	return ids, nil
}
