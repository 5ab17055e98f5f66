package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/models"
	id "github.com/ProdByBuddha/readmyfineprint/pkg/domain"
)

// InMemoryStore is the development and test drop-in. Same contract and the
// same parent/index consistency guarantees as the persistent backends, under
// one mutex.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]*models.DocumentCorrelationData
	index   map[id.EntanglementID]map[recordKey]struct{}
	clock   Clock
}

type recordKey struct {
	session  id.SessionID
	document id.DocumentID
}

// MemoryOption configures an InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithMemoryClock sets the clock function for testability.
func WithMemoryClock(clock Clock) MemoryOption {
	return func(s *InMemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewMemory constructs an in-memory correlation store.
func NewMemory(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		records: make(map[recordKey]*models.DocumentCorrelationData),
		index:   make(map[id.EntanglementID]map[recordKey]struct{}),
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *InMemoryStore) StoreDocumentCorrelation(_ context.Context, data *models.DocumentCorrelationData) error {
	if data == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{session: data.SessionID, document: data.DocumentID}

	// Full index replacement: drop the prior record's entries first so a
	// reprocessed document never leaves stale reverse-index rows behind.
	if prior, exists := s.records[key]; exists {
		s.dropIndexEntries(prior.CorrelationIDs, key)
	}

	stored := cloneRecord(data)
	stored.RiskScore = ClampRiskScore(stored.RiskScore)
	s.records[key] = stored
	for _, entID := range stored.CorrelationIDs {
		if s.index[entID] == nil {
			s.index[entID] = make(map[recordKey]struct{})
		}
		s.index[entID][key] = struct{}{}
	}
	return nil
}

func (s *InMemoryStore) GetSessionCorrelation(_ context.Context, sessionID id.SessionID) (*models.DocumentCorrelationData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	var latest *models.DocumentCorrelationData
	for key, record := range s.records {
		if key.session != sessionID || !record.ExpiresAt.After(now) {
			continue
		}
		if latest == nil || record.Timestamp.After(latest.Timestamp) {
			latest = record
		}
	}
	return cloneRecord(latest), nil
}

func (s *InMemoryStore) GetSessionDocuments(_ context.Context, sessionID id.SessionID) ([]*models.DocumentCorrelationData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	var records []*models.DocumentCorrelationData
	for key, record := range s.records {
		if key.session == sessionID && record.ExpiresAt.After(now) {
			records = append(records, cloneRecord(record))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

func (s *InMemoryStore) FindCrossSessionCorrelations(_ context.Context, entanglementIDs []id.EntanglementID, excludeSession id.SessionID) ([]*models.CrossSessionCorrelation, error) {
	entanglementIDs = dedupeIDs(entanglementIDs)
	if len(entanglementIDs) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	shared := make(map[recordKey][]id.EntanglementID)
	for _, entID := range entanglementIDs {
		for key := range s.index[entID] {
			if key.session == excludeSession {
				continue
			}
			record, exists := s.records[key]
			if !exists || !record.ExpiresAt.After(now) {
				continue
			}
			shared[key] = append(shared[key], entID)
		}
	}

	results := make([]*models.CrossSessionCorrelation, 0, len(shared))
	for key, ids := range shared {
		results = append(results, &models.CrossSessionCorrelation{
			SessionID:  key.session,
			DocumentID: key.document,
			SharedIDs:  ids,
			Strength:   float64(len(ids)) / float64(len(entanglementIDs)),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].SessionID != results[j].SessionID {
			return results[i].SessionID < results[j].SessionID
		}
		return results[i].DocumentID < results[j].DocumentID
	})
	return results, nil
}

func (s *InMemoryStore) ClearSession(_ context.Context, sessionID id.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, record := range s.records {
		if key.session != sessionID {
			continue
		}
		s.dropIndexEntries(record.CorrelationIDs, key)
		delete(s.records, key)
	}
	return nil
}

func (s *InMemoryStore) GetCorrelationAnalytics(_ context.Context, since *time.Time) (*models.CorrelationAnalytics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock()
	analytics := &models.CorrelationAnalytics{
		RiskDistribution: map[string]int{},
	}
	sessions := make(map[id.SessionID]struct{})
	for key, record := range s.records {
		if !record.ExpiresAt.After(now) {
			continue
		}
		if since != nil && record.Timestamp.Before(*since) {
			continue
		}
		sessions[key.session] = struct{}{}
		analytics.TotalDocuments++
		analytics.RiskDistribution[models.RiskBucket(record.RiskScore)]++
	}
	analytics.TotalSessions = len(sessions)
	return analytics, nil
}

func (s *InMemoryStore) RemoveExpiredAt(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for key, record := range s.records {
		if record.ExpiresAt.After(now) {
			continue
		}
		s.dropIndexEntries(record.CorrelationIDs, key)
		delete(s.records, key)
		purged++
	}
	return purged, nil
}

// IndexSize reports the number of reverse-index entries for one document.
// Test hook for the idempotent-upsert property.
func (s *InMemoryStore) IndexSize(sessionID id.SessionID, documentID id.DocumentID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := recordKey{session: sessionID, document: documentID}
	count := 0
	for _, keys := range s.index {
		if _, ok := keys[key]; ok {
			count++
		}
	}
	return count
}

// dropIndexEntries removes a document's reverse-index entries. Caller holds
// the write lock.
func (s *InMemoryStore) dropIndexEntries(ids []id.EntanglementID, key recordKey) {
	for _, entID := range ids {
		if keys := s.index[entID]; keys != nil {
			delete(keys, key)
			if len(keys) == 0 {
				delete(s.index, entID)
			}
		}
	}
}
