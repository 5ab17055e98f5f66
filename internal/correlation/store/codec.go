package store

import (
	"encoding/json"
	"fmt"

	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/models"
	id "github.com/ProdByBuddha/readmyfineprint/pkg/domain"
)

// The postgres and redis backends both serialize the correlation-ID set,
// type histogram, and detection quality as JSON at the storage boundary.
// One shared codec keeps the write and read paths from drifting.

func marshalCorrelationIDs(ids []id.EntanglementID) ([]byte, error) {
	if ids == nil {
		ids = []id.EntanglementID{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("marshal correlation ids: %w", err)
	}
	return raw, nil
}

func unmarshalCorrelationIDs(raw []byte) ([]id.EntanglementID, error) {
	var ids []id.EntanglementID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("unmarshal correlation ids: %w", err)
	}
	return ids, nil
}

func marshalPIITypes(histogram map[models.PIIType]int) ([]byte, error) {
	if histogram == nil {
		histogram = map[models.PIIType]int{}
	}
	raw, err := json.Marshal(histogram)
	if err != nil {
		return nil, fmt.Errorf("marshal pii type histogram: %w", err)
	}
	return raw, nil
}

func unmarshalPIITypes(raw []byte) (map[models.PIIType]int, error) {
	var histogram map[models.PIIType]int
	if err := json.Unmarshal(raw, &histogram); err != nil {
		return nil, fmt.Errorf("unmarshal pii type histogram: %w", err)
	}
	return histogram, nil
}

func marshalDetectionQuality(quality models.DetectionQuality) ([]byte, error) {
	raw, err := json.Marshal(quality)
	if err != nil {
		return nil, fmt.Errorf("marshal detection quality: %w", err)
	}
	return raw, nil
}

func unmarshalDetectionQuality(raw []byte) (models.DetectionQuality, error) {
	var quality models.DetectionQuality
	if err := json.Unmarshal(raw, &quality); err != nil {
		return models.DetectionQuality{}, fmt.Errorf("unmarshal detection quality: %w", err)
	}
	return quality, nil
}

// dedupeIDs drops duplicate entanglement IDs while preserving order, so
// strength denominators count distinct identities.
func dedupeIDs(ids []id.EntanglementID) []id.EntanglementID {
	seen := make(map[id.EntanglementID]struct{}, len(ids))
	out := make([]id.EntanglementID, 0, len(ids))
	for _, entID := range ids {
		if _, ok := seen[entID]; ok {
			continue
		}
		seen[entID] = struct{}{}
		out = append(out, entID)
	}
	return out
}

// cloneRecord deep-copies a record so the memory backend never hands callers
// aliased slices or maps.
func cloneRecord(data *models.DocumentCorrelationData) *models.DocumentCorrelationData {
	if data == nil {
		return nil
	}
	out := *data
	out.CorrelationIDs = append([]id.EntanglementID(nil), data.CorrelationIDs...)
	out.PIITypes = make(map[models.PIIType]int, len(data.PIITypes))
	for t, n := range data.PIITypes {
		out.PIITypes[t] = n
	}
	return &out
}
