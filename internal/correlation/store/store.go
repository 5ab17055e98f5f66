// Package store persists document correlation records and the reverse
// entanglement index. The Store interface is backend-agnostic; Postgres is
// the production implementation, with memory and Redis drop-ins selected by
// configuration.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/models"
	id "github.com/ProdByBuddha/readmyfineprint/pkg/domain"
	audit "github.com/ProdByBuddha/readmyfineprint/pkg/platform/audit"
)

// Store is the correlation persistence contract.
//
// Implementations must keep the reverse index slaved to its parent record:
// StoreDocumentCorrelation replaces the record and all its index rows
// atomically, and no read path may observe an index entry whose parent is
// absent or expired.
type Store interface {
	// StoreDocumentCorrelation upserts one document's record and fully
	// replaces its reverse-index rows. Idempotent: storing identical data
	// twice is a no-op in effect.
	StoreDocumentCorrelation(ctx context.Context, data *models.DocumentCorrelationData) error

	// GetSessionCorrelation returns the most recent non-expired record for
	// the session, or nil if the session has none.
	GetSessionCorrelation(ctx context.Context, sessionID id.SessionID) (*models.DocumentCorrelationData, error)

	// GetSessionDocuments returns the session's full non-expired history,
	// oldest first.
	GetSessionDocuments(ctx context.Context, sessionID id.SessionID) ([]*models.DocumentCorrelationData, error)

	// FindCrossSessionCorrelations looks up which live documents contain any
	// of the given entanglement IDs, excluding excludeSession when non-empty.
	// Strength is |shared| / len(entanglementIDs).
	FindCrossSessionCorrelations(ctx context.Context, entanglementIDs []id.EntanglementID, excludeSession id.SessionID) ([]*models.CrossSessionCorrelation, error)

	// ClearSession deletes the session's records and their index rows. Used
	// for right-to-erasure requests and test cleanup.
	ClearSession(ctx context.Context, sessionID id.SessionID) error

	// GetCorrelationAnalytics aggregates live records, optionally limited to
	// those stored at or after since.
	GetCorrelationAnalytics(ctx context.Context, since *time.Time) (*models.CorrelationAnalytics, error)

	// RemoveExpiredAt purges records whose retention lapsed as of now, plus
	// any index rows left without a parent. Runs in bounded batches so it
	// never starves concurrent writers. Returns the number of parent records
	// purged.
	RemoveExpiredAt(ctx context.Context, now time.Time) (int, error)
}

// maintenanceBatchSize bounds each delete statement during the expiry sweep.
const maintenanceBatchSize = 500

// AuditPublisher records sweep failures for the compliance trail.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// StartMaintenance runs the periodic expiry sweep until ctx is cancelled.
// Sweep errors are logged, audited, and the loop continues; a transient
// backend outage must not kill retention enforcement for the process
// lifetime. purged and auditor may be nil.
func StartMaintenance(ctx context.Context, s Store, interval time.Duration, logger *slog.Logger, purged prometheus.Counter, auditor AuditPublisher) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.RemoveExpiredAt(ctx, time.Now())
			if err != nil {
				logger.ErrorContext(ctx, "correlation expiry sweep failed", "error", err)
				if auditor != nil {
					event := audit.Event{
						Action:   string(audit.EventRetentionSweepFailed),
						Decision: "deferred",
						Reason:   err.Error(),
					}
					if emitErr := auditor.Emit(ctx, event); emitErr != nil {
						logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", emitErr)
					}
				}
				continue
			}
			if count > 0 {
				if purged != nil {
					purged.Add(float64(count))
				}
				logger.InfoContext(ctx, "correlation expiry sweep", "purged_records", count)
			}
		}
	}
}

// MaxRiskScore is the largest risk value the fixed-precision storage column
// can represent (two decimal places, one integer digit short of 10).
const MaxRiskScore = 9.99

// ClampRiskScore clamps a risk score into the representable range and rounds
// it to the stored precision. Every write path must pass through here so the
// in-memory value always matches what a round-trip through storage returns.
func ClampRiskScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > MaxRiskScore {
		return MaxRiskScore
	}
	// round half away from zero at two decimals
	return float64(int64(score*100+0.5)) / 100
}
