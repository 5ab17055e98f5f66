package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/models"
	id "github.com/ProdByBuddha/readmyfineprint/pkg/domain"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewMemory(WithMemoryClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) record(session, document string, offset time.Duration, ids ...string) *models.DocumentCorrelationData {
	entIDs := make([]id.EntanglementID, 0, len(ids))
	for _, raw := range ids {
		entIDs = append(entIDs, id.EntanglementID(raw))
	}
	return &models.DocumentCorrelationData{
		SessionID:           id.SessionID(session),
		DocumentID:          id.DocumentID(document),
		CorrelationIDs:      entIDs,
		DocumentFingerprint: "fp-" + document,
		PIITypes:            map[models.PIIType]int{models.PIITypeSSN: len(entIDs)},
		RiskScore:           5.0,
		Timestamp:           s.now.Add(offset),
		ExpiresAt:           s.now.Add(30 * 24 * time.Hour),
	}
}

func (s *InMemoryStoreSuite) TestUpsertReplacesIndex() {
	first := s.record("sess-1", "doc-1", 0, "ent-a", "ent-b")
	s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, first))
	s.Equal(2, s.store.IndexSize("sess-1", "doc-1"))

	// Reprocessing the same document with different IDs must fully replace
	// the reverse index, leaving no stale entries.
	second := s.record("sess-1", "doc-1", time.Minute, "ent-c")
	s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, second))
	s.Equal(1, s.store.IndexSize("sess-1", "doc-1"))

	hits, err := s.store.FindCrossSessionCorrelations(s.ctx, []id.EntanglementID{"ent-a"}, "")
	s.Require().NoError(err)
	s.Empty(hits, "stale index entry survived upsert")
}

func (s *InMemoryStoreSuite) TestUpsertIdempotent() {
	record := s.record("sess-1", "doc-1", 0, "ent-a", "ent-b")
	s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, record))
	s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, record))

	s.Equal(2, s.store.IndexSize("sess-1", "doc-1"))
	documents, err := s.store.GetSessionDocuments(s.ctx, "sess-1")
	s.Require().NoError(err)
	s.Len(documents, 1)
}

func (s *InMemoryStoreSuite) TestGetSessionCorrelation() {
	s.Run("returns nil for unknown session", func() {
		record, err := s.store.GetSessionCorrelation(s.ctx, "missing")
		s.Require().NoError(err)
		s.Nil(record)
	})

	s.Run("returns the latest record", func() {
		s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, s.record("sess-1", "doc-1", 0, "ent-a")))
		s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, s.record("sess-1", "doc-2", time.Minute, "ent-b")))

		record, err := s.store.GetSessionCorrelation(s.ctx, "sess-1")
		s.Require().NoError(err)
		s.Require().NotNil(record)
		s.Equal(id.DocumentID("doc-2"), record.DocumentID)
	})

	s.Run("skips expired records", func() {
		expired := s.record("sess-2", "doc-1", 0, "ent-x")
		expired.ExpiresAt = s.now.Add(-time.Hour)
		s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, expired))

		record, err := s.store.GetSessionCorrelation(s.ctx, "sess-2")
		s.Require().NoError(err)
		s.Nil(record)
	})
}

func (s *InMemoryStoreSuite) TestGetSessionDocumentsOrdered() {
	s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, s.record("sess-1", "doc-2", time.Minute, "ent-b")))
	s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, s.record("sess-1", "doc-1", 0, "ent-a")))
	s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, s.record("sess-1", "doc-3", 2*time.Minute, "ent-c")))

	documents, err := s.store.GetSessionDocuments(s.ctx, "sess-1")
	s.Require().NoError(err)
	s.Require().Len(documents, 3)
	s.Equal(id.DocumentID("doc-1"), documents[0].DocumentID)
	s.Equal(id.DocumentID("doc-2"), documents[1].DocumentID)
	s.Equal(id.DocumentID("doc-3"), documents[2].DocumentID)
}

func (s *InMemoryStoreSuite) TestFindCrossSessionCorrelations() {
	s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, s.record("sess-1", "doc-1", 0, "ent-a", "ent-b")))
	s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, s.record("sess-2", "doc-1", 0, "ent-b", "ent-c")))

	s.Run("excludes the querying session", func() {
		hits, err := s.store.FindCrossSessionCorrelations(s.ctx, []id.EntanglementID{"ent-b"}, "sess-1")
		s.Require().NoError(err)
		s.Require().Len(hits, 1)
		s.Equal(id.SessionID("sess-2"), hits[0].SessionID)
	})

	s.Run("strength divides by queried set size", func() {
		hits, err := s.store.FindCrossSessionCorrelations(s.ctx, []id.EntanglementID{"ent-b", "ent-c"}, "sess-1")
		s.Require().NoError(err)
		s.Require().Len(hits, 1)
		s.InDelta(1.0, hits[0].Strength, 1e-9)

		hits, err = s.store.FindCrossSessionCorrelations(s.ctx, []id.EntanglementID{"ent-b", "ent-zz"}, "sess-1")
		s.Require().NoError(err)
		s.Require().Len(hits, 1)
		s.InDelta(0.5, hits[0].Strength, 1e-9)
	})

	s.Run("duplicate query IDs do not inflate strength", func() {
		hits, err := s.store.FindCrossSessionCorrelations(s.ctx,
			[]id.EntanglementID{"ent-b", "ent-b", "ent-zz"}, "sess-1")
		s.Require().NoError(err)
		s.Require().Len(hits, 1)
		s.InDelta(0.5, hits[0].Strength, 1e-9)
	})

	s.Run("empty query returns nothing", func() {
		hits, err := s.store.FindCrossSessionCorrelations(s.ctx, nil, "")
		s.Require().NoError(err)
		s.Empty(hits)
	})
}

func (s *InMemoryStoreSuite) TestClearSession() {
	s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, s.record("sess-1", "doc-1", 0, "ent-a")))
	s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, s.record("sess-2", "doc-1", 0, "ent-b")))

	s.Require().NoError(s.store.ClearSession(s.ctx, "sess-1"))

	documents, err := s.store.GetSessionDocuments(s.ctx, "sess-1")
	s.Require().NoError(err)
	s.Empty(documents)

	hits, err := s.store.FindCrossSessionCorrelations(s.ctx, []id.EntanglementID{"ent-a"}, "")
	s.Require().NoError(err)
	s.Empty(hits, "cleared session left index entries behind")

	// The other session is untouched.
	documents, err = s.store.GetSessionDocuments(s.ctx, "sess-2")
	s.Require().NoError(err)
	s.Len(documents, 1)
}

func (s *InMemoryStoreSuite) TestRemoveExpiredAt() {
	live := s.record("sess-1", "doc-1", 0, "ent-a")
	expired := s.record("sess-1", "doc-2", 0, "ent-b")
	expired.ExpiresAt = s.now.Add(time.Hour)
	s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, live))
	s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, expired))

	purged, err := s.store.RemoveExpiredAt(s.ctx, s.now.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal(1, purged)

	hits, err := s.store.FindCrossSessionCorrelations(s.ctx, []id.EntanglementID{"ent-b"}, "")
	s.Require().NoError(err)
	s.Empty(hits, "expired record left index entries behind")

	documents, err := s.store.GetSessionDocuments(s.ctx, "sess-1")
	s.Require().NoError(err)
	s.Len(documents, 1)
}

func (s *InMemoryStoreSuite) TestGetCorrelationAnalytics() {
	low := s.record("sess-1", "doc-1", 0, "ent-a")
	low.RiskScore = 1.5
	medium := s.record("sess-1", "doc-2", time.Minute, "ent-b")
	medium.RiskScore = 4.0
	high := s.record("sess-2", "doc-1", 2*time.Minute, "ent-c")
	high.RiskScore = 8.25
	for _, record := range []*models.DocumentCorrelationData{low, medium, high} {
		s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, record))
	}

	s.Run("full window", func() {
		analytics, err := s.store.GetCorrelationAnalytics(s.ctx, nil)
		s.Require().NoError(err)
		s.Equal(2, analytics.TotalSessions)
		s.Equal(3, analytics.TotalDocuments)
		s.Equal(1, analytics.RiskDistribution[models.RiskBucketLow])
		s.Equal(1, analytics.RiskDistribution[models.RiskBucketMedium])
		s.Equal(1, analytics.RiskDistribution[models.RiskBucketHigh])
	})

	s.Run("since filter", func() {
		since := s.now.Add(90 * time.Second)
		analytics, err := s.store.GetCorrelationAnalytics(s.ctx, &since)
		s.Require().NoError(err)
		s.Equal(1, analytics.TotalDocuments)
		s.Equal(1, analytics.TotalSessions)
	})
}

func (s *InMemoryStoreSuite) TestRiskScoreClamped() {
	record := s.record("sess-1", "doc-1", 0, "ent-a")
	record.RiskScore = 42.7
	s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, record))

	stored, err := s.store.GetSessionCorrelation(s.ctx, "sess-1")
	s.Require().NoError(err)
	s.Equal(MaxRiskScore, stored.RiskScore)
}

func (s *InMemoryStoreSuite) TestReadsReturnCopies() {
	record := s.record("sess-1", "doc-1", 0, "ent-a")
	s.Require().NoError(s.store.StoreDocumentCorrelation(s.ctx, record))

	first, err := s.store.GetSessionCorrelation(s.ctx, "sess-1")
	s.Require().NoError(err)
	first.CorrelationIDs[0] = "mutated"
	first.PIITypes[models.PIITypeEmail] = 99

	second, err := s.store.GetSessionCorrelation(s.ctx, "sess-1")
	s.Require().NoError(err)
	s.Equal(id.EntanglementID("ent-a"), second.CorrelationIDs[0])
	s.NotContains(second.PIITypes, models.PIITypeEmail)
}

func TestClampRiskScore(t *testing.T) {
	cases := []struct {
		name string
		in   float64
		want float64
	}{
		{"negative clamps to zero", -3.2, 0},
		{"rounds down below midpoint", 4.551, 4.55},
		{"rounds up above midpoint", 4.559, 4.56},
		{"above max clamps", 12.34, MaxRiskScore},
		{"max passes through", 9.99, 9.99},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClampRiskScore(tc.in)
			if got != tc.want {
				t.Fatalf("ClampRiskScore(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
