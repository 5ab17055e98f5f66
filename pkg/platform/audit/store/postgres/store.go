package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	id "github.com/ProdByBuddha/readmyfineprint/pkg/domain"
	audit "github.com/ProdByBuddha/readmyfineprint/pkg/platform/audit"
)

// Store persists audit events in PostgreSQL. Appends are independent of the
// domain write they describe: the publisher is fail-open and may buffer
// events past the originating request, so an audit row records that an
// action was reported, not that it committed.
type Store struct {
	db *sql.DB

	initOnce sync.Once
	initErr  error
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS audit_events (
	id                 UUID PRIMARY KEY,
	category           TEXT NOT NULL,
	timestamp          TIMESTAMPTZ NOT NULL,
	session_id         TEXT,
	document_id        TEXT,
	action             TEXT NOT NULL,
	decision           TEXT,
	reason             TEXT,
	request_id         TEXT,
	fingerprint_id     TEXT,
	entanglement_count INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_events_session ON audit_events (session_id, timestamp);
`

func (s *Store) ensureSchema(ctx context.Context) error {
	s.initOnce.Do(func() {
		if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
			s.initErr = fmt.Errorf("initialize audit schema: %w", err)
		}
	})
	return s.initErr
}

// Append inserts one audit event. Idempotent per event ID via ON CONFLICT.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	query := `
		INSERT INTO audit_events (
			id, category, timestamp, session_id, document_id,
			action, decision, reason, request_id, fingerprint_id, entanglement_count
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.New(),
		string(event.Category),
		event.Timestamp,
		event.SessionID.String(),
		event.DocumentID.String(),
		event.Action,
		event.Decision,
		event.Reason,
		event.RequestID,
		event.FingerprintID,
		event.EntanglementCount,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListBySession returns a session's audit trail, oldest first.
func (s *Store) ListBySession(ctx context.Context, sessionID id.SessionID) ([]audit.Event, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, timestamp, session_id, document_id,
			   action, decision, reason, request_id, fingerprint_id, entanglement_count
		FROM audit_events
		WHERE session_id = $1
		ORDER BY timestamp ASC
	`, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var event audit.Event
		var category, session, document string
		var decision, reason, requestID, fpID sql.NullString
		if err := rows.Scan(
			&category, &event.Timestamp, &session, &document,
			&event.Action, &decision, &reason, &requestID, &fpID, &event.EntanglementCount,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		event.SessionID = id.SessionID(session)
		event.DocumentID = id.DocumentID(document)
		event.Decision = decision.String
		event.Reason = reason.String
		event.RequestID = requestID.String
		event.FingerprintID = fpID.String
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
