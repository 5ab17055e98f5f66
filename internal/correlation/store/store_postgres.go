package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/models"
	id "github.com/ProdByBuddha/readmyfineprint/pkg/domain"
)

// PostgresStore persists correlation records in PostgreSQL.
type PostgresStore struct {
	db    *sql.DB
	clock Clock

	initOnce sync.Once
	initErr  error
}

// Clock abstracts time for testability.
type Clock func() time.Time

// PostgresOption configures a PostgresStore instance.
type PostgresOption func(*PostgresStore)

// WithPostgresClock sets the clock function for testability.
func WithPostgresClock(clock Clock) PostgresOption {
	return func(s *PostgresStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewPostgres constructs a PostgreSQL-backed correlation store. The schema is
// initialized lazily on first use, exactly once per process.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		db:    db,
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// schemaDDL is idempotent so concurrent first-use across processes cannot
// create duplicate or partial schema.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS document_correlations (
	session_id           TEXT NOT NULL,
	document_id          TEXT NOT NULL,
	correlation_ids      JSONB NOT NULL,
	document_fingerprint TEXT NOT NULL,
	pii_types            JSONB NOT NULL,
	risk_score           NUMERIC(3,2) NOT NULL,
	detection_quality    JSONB NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL,
	expires_at           TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, document_id)
);
CREATE INDEX IF NOT EXISTS idx_document_correlations_session
	ON document_correlations (session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_document_correlations_expires
	ON document_correlations (expires_at);

CREATE TABLE IF NOT EXISTS correlation_index (
	entanglement_id TEXT NOT NULL,
	session_id      TEXT NOT NULL,
	document_id     TEXT NOT NULL,
	PRIMARY KEY (entanglement_id, session_id, document_id)
);
CREATE INDEX IF NOT EXISTS idx_correlation_index_parent
	ON correlation_index (session_id, document_id);
`

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	s.initOnce.Do(func() {
		if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
			s.initErr = fmt.Errorf("initialize correlation schema: %w", err)
		}
	})
	return s.initErr
}

// StoreDocumentCorrelation upserts the parent record and replaces its index
// rows in one transaction, so a reader never sees an index row without its
// parent or a parent with a stale index.
func (s *PostgresStore) StoreDocumentCorrelation(ctx context.Context, data *models.DocumentCorrelationData) error {
	if data == nil {
		return fmt.Errorf("correlation data is required")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}

	correlationIDs, err := marshalCorrelationIDs(data.CorrelationIDs)
	if err != nil {
		return err
	}
	piiTypes, err := marshalPIITypes(data.PIITypes)
	if err != nil {
		return err
	}
	quality, err := marshalDetectionQuality(data.DetectionQuality)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin correlation upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO document_correlations (
			session_id, document_id, correlation_ids, document_fingerprint,
			pii_types, risk_score, detection_quality, created_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id, document_id) DO UPDATE SET
			correlation_ids      = EXCLUDED.correlation_ids,
			document_fingerprint = EXCLUDED.document_fingerprint,
			pii_types            = EXCLUDED.pii_types,
			risk_score           = EXCLUDED.risk_score,
			detection_quality    = EXCLUDED.detection_quality,
			created_at           = EXCLUDED.created_at,
			expires_at           = EXCLUDED.expires_at
	`,
		data.SessionID.String(),
		data.DocumentID.String(),
		correlationIDs,
		data.DocumentFingerprint,
		piiTypes,
		ClampRiskScore(data.RiskScore),
		quality,
		data.Timestamp,
		data.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("upsert document correlation: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM correlation_index WHERE session_id = $1 AND document_id = $2`,
		data.SessionID.String(), data.DocumentID.String(),
	)
	if err != nil {
		return fmt.Errorf("clear correlation index: %w", err)
	}

	if len(data.CorrelationIDs) > 0 {
		ids := make([]string, 0, len(data.CorrelationIDs))
		for _, entID := range data.CorrelationIDs {
			ids = append(ids, entID.String())
		}
		// Batch insert using unnest for O(1) round trips instead of O(n).
		// ON CONFLICT guards against duplicate entanglement IDs within one
		// document (the same SSN appearing twice).
		_, err = tx.ExecContext(ctx, `
			INSERT INTO correlation_index (entanglement_id, session_id, document_id)
			SELECT unnest($1::text[]), $2, $3
			ON CONFLICT (entanglement_id, session_id, document_id) DO NOTHING
		`, pq.Array(ids), data.SessionID.String(), data.DocumentID.String())
		if err != nil {
			return fmt.Errorf("insert correlation index: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit correlation upsert: %w", err)
	}
	return nil
}

const recordColumns = `
	session_id, document_id, correlation_ids, document_fingerprint,
	pii_types, risk_score::float8, detection_quality, created_at, expires_at
`

// GetSessionCorrelation returns the session's most recent live record.
func (s *PostgresStore) GetSessionCorrelation(ctx context.Context, sessionID id.SessionID) (*models.DocumentCorrelationData, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM document_correlations
		WHERE session_id = $1 AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`, sessionID.String(), s.clock())

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session correlation: %w", err)
	}
	return record, nil
}

// GetSessionDocuments returns the session's live history, oldest first.
func (s *PostgresStore) GetSessionDocuments(ctx context.Context, sessionID id.SessionID) ([]*models.DocumentCorrelationData, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM document_correlations
		WHERE session_id = $1 AND expires_at > $2
		ORDER BY created_at ASC
	`, sessionID.String(), s.clock())
	if err != nil {
		return nil, fmt.Errorf("get session documents: %w", err)
	}
	defer rows.Close()

	var records []*models.DocumentCorrelationData
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session document: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session documents: %w", err)
	}
	return records, nil
}

// FindCrossSessionCorrelations resolves the reverse index joined back to
// live parent records.
func (s *PostgresStore) FindCrossSessionCorrelations(ctx context.Context, entanglementIDs []id.EntanglementID, excludeSession id.SessionID) ([]*models.CrossSessionCorrelation, error) {
	entanglementIDs = dedupeIDs(entanglementIDs)
	if len(entanglementIDs) == 0 {
		return nil, nil
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entanglementIDs))
	for _, entID := range entanglementIDs {
		ids = append(ids, entID.String())
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ci.entanglement_id, ci.session_id, ci.document_id
		FROM correlation_index ci
		JOIN document_correlations dc
			ON dc.session_id = ci.session_id AND dc.document_id = ci.document_id
		WHERE ci.entanglement_id = ANY($1)
			AND ci.session_id <> $2
			AND dc.expires_at > $3
		ORDER BY ci.session_id, ci.document_id
	`, pq.Array(ids), excludeSession.String(), s.clock())
	if err != nil {
		return nil, fmt.Errorf("find cross-session correlations: %w", err)
	}
	defer rows.Close()

	type docKey struct {
		session  string
		document string
	}
	shared := make(map[docKey][]id.EntanglementID)
	var order []docKey
	for rows.Next() {
		var entID, session, document string
		if err := rows.Scan(&entID, &session, &document); err != nil {
			return nil, fmt.Errorf("scan cross-session row: %w", err)
		}
		key := docKey{session: session, document: document}
		if _, seen := shared[key]; !seen {
			order = append(order, key)
		}
		shared[key] = append(shared[key], id.EntanglementID(entID))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cross-session rows: %w", err)
	}

	results := make([]*models.CrossSessionCorrelation, 0, len(order))
	for _, key := range order {
		ids := shared[key]
		results = append(results, &models.CrossSessionCorrelation{
			SessionID:  id.SessionID(key.session),
			DocumentID: id.DocumentID(key.document),
			SharedIDs:  ids,
			Strength:   float64(len(ids)) / float64(len(entanglementIDs)),
		})
	}
	return results, nil
}

// ClearSession removes a session's records and index rows.
func (s *PostgresStore) ClearSession(ctx context.Context, sessionID id.SessionID) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session clear: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM correlation_index WHERE session_id = $1`, sessionID.String()); err != nil {
		return fmt.Errorf("clear session index: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM document_correlations WHERE session_id = $1`, sessionID.String()); err != nil {
		return fmt.Errorf("clear session records: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session clear: %w", err)
	}
	return nil
}

// GetCorrelationAnalytics aggregates live records for operator reporting.
func (s *PostgresStore) GetCorrelationAnalytics(ctx context.Context, since *time.Time) (*models.CorrelationAnalytics, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	from := time.Time{}
	if since != nil {
		from = *since
	}

	// Bucket thresholds mirror models.RiskBucket.
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			CASE
				WHEN risk_score >= 7 THEN 'high'
				WHEN risk_score >= 3 THEN 'medium'
				ELSE 'low'
			END AS bucket,
			COUNT(*),
			COUNT(DISTINCT session_id)
		FROM document_correlations
		WHERE expires_at > $1 AND created_at >= $2
		GROUP BY bucket
	`, s.clock(), from)
	if err != nil {
		return nil, fmt.Errorf("correlation analytics: %w", err)
	}
	defer rows.Close()

	analytics := &models.CorrelationAnalytics{
		RiskDistribution: map[string]int{},
	}
	for rows.Next() {
		var bucket string
		var documents, sessions int
		if err := rows.Scan(&bucket, &documents, &sessions); err != nil {
			return nil, fmt.Errorf("scan analytics row: %w", err)
		}
		analytics.RiskDistribution[bucket] = documents
		analytics.TotalDocuments += documents
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analytics rows: %w", err)
	}

	// Distinct sessions can't be summed across buckets; count separately.
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT session_id)
		FROM document_correlations
		WHERE expires_at > $1 AND created_at >= $2
	`, s.clock(), from).Scan(&analytics.TotalSessions)
	if err != nil {
		return nil, fmt.Errorf("count analytics sessions: %w", err)
	}
	return analytics, nil
}

// RemoveExpiredAt purges expired parents and orphaned index rows in bounded
// batches. No single statement touches more than maintenanceBatchSize rows,
// so the sweep never holds long locks against concurrent writers.
func (s *PostgresStore) RemoveExpiredAt(ctx context.Context, now time.Time) (int, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return 0, err
	}

	purged := 0
	for {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM document_correlations
			WHERE ctid IN (
				SELECT ctid FROM document_correlations
				WHERE expires_at < $1
				LIMIT $2
			)
		`, now, maintenanceBatchSize)
		if err != nil {
			return purged, fmt.Errorf("purge expired correlations: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return purged, fmt.Errorf("purge expired correlations: %w", err)
		}
		purged += int(affected)
		if affected < maintenanceBatchSize {
			break
		}
	}

	for {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM correlation_index
			WHERE ctid IN (
				SELECT ci.ctid
				FROM correlation_index ci
				LEFT JOIN document_correlations dc
					ON dc.session_id = ci.session_id AND dc.document_id = ci.document_id
				WHERE dc.session_id IS NULL
				LIMIT $1
			)
		`, maintenanceBatchSize)
		if err != nil {
			return purged, fmt.Errorf("purge orphaned index rows: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return purged, fmt.Errorf("purge orphaned index rows: %w", err)
		}
		if affected < maintenanceBatchSize {
			break
		}
	}
	return purged, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.DocumentCorrelationData, error) {
	var (
		session, document, fingerprint string
		correlationIDs, piiTypes       []byte
		quality                        []byte
		riskScore                      float64
		createdAt, expiresAt           time.Time
	)
	if err := row.Scan(
		&session, &document, &correlationIDs, &fingerprint,
		&piiTypes, &riskScore, &quality, &createdAt, &expiresAt,
	); err != nil {
		return nil, err
	}

	ids, err := unmarshalCorrelationIDs(correlationIDs)
	if err != nil {
		return nil, err
	}
	histogram, err := unmarshalPIITypes(piiTypes)
	if err != nil {
		return nil, err
	}
	detectionQuality, err := unmarshalDetectionQuality(quality)
	if err != nil {
		return nil, err
	}

	return &models.DocumentCorrelationData{
		SessionID:           id.SessionID(session),
		DocumentID:          id.DocumentID(document),
		CorrelationIDs:      ids,
		DocumentFingerprint: fingerprint,
		PIITypes:            histogram,
		RiskScore:           riskScore,
		DetectionQuality:    detectionQuality,
		Timestamp:           createdAt,
		ExpiresAt:           expiresAt,
	}, nil
}
