package service

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/models"
	id "github.com/ProdByBuddha/readmyfineprint/pkg/domain"
	dErrors "github.com/ProdByBuddha/readmyfineprint/pkg/domain-errors"
	audit "github.com/ProdByBuddha/readmyfineprint/pkg/platform/audit"
	"github.com/ProdByBuddha/readmyfineprint/pkg/requestcontext"
)

// reportFetchConcurrency bounds concurrent per-session fetches while
// building a forensic report.
const reportFetchConcurrency = 4

// SessionSummary aggregates a session's stored documents into one view.
// Returns nil with no error when the session has no live records.
func (s *Service) SessionSummary(ctx context.Context, sessionID id.SessionID) (*models.SessionSummary, error) {
	documents, err := s.store.GetSessionDocuments(ctx, sessionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "get session documents")
	}
	if len(documents) == 0 {
		return nil, nil
	}
	return summarize(sessionID, documents), nil
}

// ForensicReport builds the cross-session investigation artifact: per-session
// summaries, every pairwise correlation, and an aggregate risk profile.
func (s *Service) ForensicReport(ctx context.Context, sessionIDs []id.SessionID) (*models.ForensicReport, error) {
	if len(sessionIDs) < 2 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "forensic report requires at least two sessions")
	}

	unique := make([]id.SessionID, 0, len(sessionIDs))
	seen := make(map[id.SessionID]struct{}, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		if sessionID.IsEmpty() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "session IDs must not be empty")
		}
		if _, ok := seen[sessionID]; ok {
			continue
		}
		seen[sessionID] = struct{}{}
		unique = append(unique, sessionID)
	}
	if len(unique) < 2 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "forensic report requires at least two distinct sessions")
	}

	documentSets := make([][]*models.DocumentCorrelationData, len(unique))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(reportFetchConcurrency)
	for i, sessionID := range unique {
		i, sessionID := i, sessionID
		group.Go(func() error {
			documents, err := s.store.GetSessionDocuments(groupCtx, sessionID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeUnavailable, "get session documents")
			}
			documentSets[i] = documents
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	report := &models.ForensicReport{
		GeneratedAt:       requestcontext.Now(ctx),
		SessionIDs:        unique,
		SessionSummaries:  make([]models.SessionSummary, 0, len(unique)),
		CrossCorrelations: make([]models.SessionPairCorrelation, 0, len(unique)*(len(unique)-1)/2),
	}

	unions := make([]map[id.EntanglementID]struct{}, len(unique))
	for i, documents := range documentSets {
		unions[i] = entanglementUnion(documents)
		if summary := summarize(unique[i], documents); summary != nil {
			report.SessionSummaries = append(report.SessionSummaries, *summary)
		}
	}

	for i := 0; i < len(unique); i++ {
		for j := i + 1; j < len(unique); j++ {
			report.CrossCorrelations = append(report.CrossCorrelations, pairCorrelation(
				unique[i], unions[i],
				unique[j], unions[j],
			))
		}
	}

	report.RiskProfile = buildRiskProfile(unique, documentSets, unions)

	if s.metrics != nil {
		s.metrics.ForensicReportsBuilt.Inc()
	}
	s.emitAudit(ctx, audit.Event{
		Action:    string(audit.EventForensicReportBuilt),
		Decision:  "generated",
		RequestID: requestcontext.RequestID(ctx),
	})
	return report, nil
}

// summarize folds one session's documents into a SessionSummary. Returns nil
// for an empty document list.
func summarize(sessionID id.SessionID, documents []*models.DocumentCorrelationData) *models.SessionSummary {
	if len(documents) == 0 {
		return nil
	}

	riskSum := 0.0
	totalCorrelations := 0
	typeSet := make(map[models.PIIType]struct{})
	for _, document := range documents {
		riskSum += document.RiskScore
		totalCorrelations += len(document.CorrelationIDs)
		for piiType := range document.PIITypes {
			typeSet[piiType] = struct{}{}
		}
	}

	types := make([]models.PIIType, 0, len(typeSet))
	for piiType := range typeSet {
		types = append(types, piiType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	// GetSessionDocuments returns oldest first; the last element is the
	// session's most recent record.
	return &models.SessionSummary{
		SessionID:               sessionID,
		DocumentCount:           len(documents),
		TotalCorrelations:       totalCorrelations,
		AverageRiskScore:        riskSum / float64(len(documents)),
		PIITypesFound:           types,
		LastDocumentFingerprint: documents[len(documents)-1].DocumentFingerprint,
	}
}

// entanglementUnion collects the distinct entanglement IDs across a
// session's documents.
func entanglementUnion(documents []*models.DocumentCorrelationData) map[id.EntanglementID]struct{} {
	union := make(map[id.EntanglementID]struct{})
	for _, document := range documents {
		for _, entID := range document.CorrelationIDs {
			union[entID] = struct{}{}
		}
	}
	return union
}

// pairCorrelation compares two sessions over their ID unions. Both
// directional strengths are reported; an empty union yields strength 0 in
// that direction rather than a division by zero.
func pairCorrelation(
	sessionA id.SessionID, unionA map[id.EntanglementID]struct{},
	sessionB id.SessionID, unionB map[id.EntanglementID]struct{},
) models.SessionPairCorrelation {
	shared := make([]id.EntanglementID, 0)
	small, large := unionA, unionB
	if len(unionB) < len(unionA) {
		small, large = unionB, unionA
	}
	for entID := range small {
		if _, ok := large[entID]; ok {
			shared = append(shared, entID)
		}
	}
	sort.Slice(shared, func(i, j int) bool { return shared[i] < shared[j] })

	pair := models.SessionPairCorrelation{
		SessionA:  sessionA,
		SessionB:  sessionB,
		SharedIDs: shared,
	}
	if len(unionA) > 0 {
		pair.StrengthAToB = float64(len(shared)) / float64(len(unionA))
	}
	if len(unionB) > 0 {
		pair.StrengthBToA = float64(len(shared)) / float64(len(unionB))
	}
	return pair
}

// buildRiskProfile aggregates per-session averages and type totals into the
// cohort-level risk view.
func buildRiskProfile(
	sessions []id.SessionID,
	documentSets [][]*models.DocumentCorrelationData,
	unions []map[id.EntanglementID]struct{},
) models.RiskProfile {
	profile := models.RiskProfile{
		PIITypeTotals: make(map[models.PIIType]int),
	}

	allIDs := make(map[id.EntanglementID]struct{})
	riskSum := 0.0
	sessionsWithData := 0
	for i, documents := range documentSets {
		if len(documents) == 0 {
			continue
		}
		sessionsWithData++

		sessionRiskSum := 0.0
		for _, document := range documents {
			sessionRiskSum += document.RiskScore
			for piiType, count := range document.PIITypes {
				profile.PIITypeTotals[piiType] += count
			}
		}
		sessionRisk := sessionRiskSum / float64(len(documents))
		riskSum += sessionRisk
		if sessionRisk > profile.HighestRiskScore {
			profile.HighestRiskScore = sessionRisk
			profile.HighestRiskSession = sessions[i]
		}
		for entID := range unions[i] {
			allIDs[entID] = struct{}{}
		}
	}
	if sessionsWithData > 0 {
		profile.AverageRiskScore = riskSum / float64(sessionsWithData)
	}
	profile.UniqueEntanglementID = len(allIDs)

	type typeCount struct {
		piiType models.PIIType
		count   int
	}
	counts := make([]typeCount, 0, len(profile.PIITypeTotals))
	for piiType, count := range profile.PIITypeTotals {
		counts = append(counts, typeCount{piiType, count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].piiType < counts[j].piiType
	})
	limit := 3
	if len(counts) < limit {
		limit = len(counts)
	}
	for _, entry := range counts[:limit] {
		profile.MostCommonPIITypes = append(profile.MostCommonPIITypes, entry.piiType)
	}
	return profile
}
