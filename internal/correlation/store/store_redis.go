package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ProdByBuddha/readmyfineprint/internal/correlation/models"
	id "github.com/ProdByBuddha/readmyfineprint/pkg/domain"
)

// Redis key layout. Parent records expire via native TTL; the session zset
// and reverse-index sets are cleaned opportunistically by the sweep since
// their members can outlive the parent key.
const (
	redisRecordKeyPrefix  = "corr:doc:"     // corr:doc:{session}:{document} -> JSON record
	redisSessionKeyPrefix = "corr:session:" // corr:session:{session}        -> zset of document IDs by timestamp
	redisEntListKey       = "corr:ent:"     // corr:ent:{entanglementID}     -> set of "session|document"
	redisMemberSeparator  = "|"
)

// RedisStore is the KV drop-in for deployments without PostgreSQL. Same
// contract; expiry rides on Redis TTLs instead of an expires_at column.
type RedisStore struct {
	client *redis.Client
	clock  Clock
}

// RedisOption configures a RedisStore instance.
type RedisOption func(*RedisStore)

// WithRedisClock sets the clock function for testability.
func WithRedisClock(clock Clock) RedisOption {
	return func(s *RedisStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewRedis constructs a Redis-backed correlation store.
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func recordKeyFor(session id.SessionID, document id.DocumentID) string {
	return redisRecordKeyPrefix + session.String() + ":" + document.String()
}

func sessionKeyFor(session id.SessionID) string {
	return redisSessionKeyPrefix + session.String()
}

func entKeyFor(entID id.EntanglementID) string {
	return redisEntListKey + entID.String()
}

func memberFor(session id.SessionID, document id.DocumentID) string {
	return session.String() + redisMemberSeparator + document.String()
}

func splitMember(member string) (id.SessionID, id.DocumentID, bool) {
	session, document, ok := strings.Cut(member, redisMemberSeparator)
	if !ok || session == "" || document == "" {
		return "", "", false
	}
	return id.SessionID(session), id.DocumentID(document), true
}

func (s *RedisStore) StoreDocumentCorrelation(ctx context.Context, data *models.DocumentCorrelationData) error {
	if data == nil {
		return fmt.Errorf("correlation data is required")
	}

	stored := cloneRecord(data)
	stored.RiskScore = ClampRiskScore(stored.RiskScore)
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal correlation record: %w", err)
	}

	ttl := stored.ExpiresAt.Sub(s.clock())
	if ttl <= 0 {
		// Already expired on arrival; nothing to persist.
		return nil
	}

	// Drop the prior version's index entries before writing the new ones so
	// a reprocessed document fully replaces its reverse index.
	prior, err := s.getRecord(ctx, stored.SessionID, stored.DocumentID)
	if err != nil {
		return err
	}

	member := memberFor(stored.SessionID, stored.DocumentID)
	pipe := s.client.TxPipeline()
	if prior != nil {
		for _, entID := range prior.CorrelationIDs {
			pipe.SRem(ctx, entKeyFor(entID), member)
		}
	}
	pipe.Set(ctx, recordKeyFor(stored.SessionID, stored.DocumentID), payload, ttl)
	pipe.ZAdd(ctx, sessionKeyFor(stored.SessionID), redis.Z{
		Score:  float64(stored.Timestamp.UnixMilli()),
		Member: stored.DocumentID.String(),
	})
	pipe.Expire(ctx, sessionKeyFor(stored.SessionID), ttl)
	for _, entID := range stored.CorrelationIDs {
		pipe.SAdd(ctx, entKeyFor(entID), member)
		pipe.Expire(ctx, entKeyFor(entID), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store correlation record: %w", err)
	}
	return nil
}

func (s *RedisStore) GetSessionCorrelation(ctx context.Context, sessionID id.SessionID) (*models.DocumentCorrelationData, error) {
	// Newest first; skip zset members whose record key already expired.
	documents, err := s.client.ZRevRange(ctx, sessionKeyFor(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read session history: %w", err)
	}
	for _, document := range documents {
		record, err := s.getRecord(ctx, sessionID, id.DocumentID(document))
		if err != nil {
			return nil, err
		}
		if record != nil {
			return record, nil
		}
	}
	return nil, nil
}

func (s *RedisStore) GetSessionDocuments(ctx context.Context, sessionID id.SessionID) ([]*models.DocumentCorrelationData, error) {
	documents, err := s.client.ZRange(ctx, sessionKeyFor(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read session history: %w", err)
	}
	records := make([]*models.DocumentCorrelationData, 0, len(documents))
	for _, document := range documents {
		record, err := s.getRecord(ctx, sessionID, id.DocumentID(document))
		if err != nil {
			return nil, err
		}
		if record != nil {
			records = append(records, record)
		}
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records, nil
}

func (s *RedisStore) FindCrossSessionCorrelations(ctx context.Context, entanglementIDs []id.EntanglementID, excludeSession id.SessionID) ([]*models.CrossSessionCorrelation, error) {
	entanglementIDs = dedupeIDs(entanglementIDs)
	if len(entanglementIDs) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	memberCmds := make([]*redis.StringSliceCmd, len(entanglementIDs))
	for i, entID := range entanglementIDs {
		memberCmds[i] = pipe.SMembers(ctx, entKeyFor(entID))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read correlation index: %w", err)
	}

	type docRef struct {
		session  id.SessionID
		document id.DocumentID
	}
	shared := make(map[docRef][]id.EntanglementID)
	var order []docRef
	for i, cmd := range memberCmds {
		members, err := cmd.Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("read correlation index: %w", err)
		}
		for _, member := range members {
			session, document, ok := splitMember(member)
			if !ok || session == excludeSession {
				continue
			}
			ref := docRef{session: session, document: document}
			if _, seen := shared[ref]; !seen {
				order = append(order, ref)
			}
			shared[ref] = append(shared[ref], entanglementIDs[i])
		}
	}

	results := make([]*models.CrossSessionCorrelation, 0, len(order))
	for _, ref := range order {
		// Index members can outlive their parent record TTL; verify the
		// parent is still live before reporting the hit.
		record, err := s.getRecord(ctx, ref.session, ref.document)
		if err != nil {
			return nil, err
		}
		if record == nil {
			continue
		}
		ids := shared[ref]
		results = append(results, &models.CrossSessionCorrelation{
			SessionID:  ref.session,
			DocumentID: ref.document,
			SharedIDs:  ids,
			Strength:   float64(len(ids)) / float64(len(entanglementIDs)),
		})
	}
	return results, nil
}

func (s *RedisStore) ClearSession(ctx context.Context, sessionID id.SessionID) error {
	documents, err := s.client.ZRange(ctx, sessionKeyFor(sessionID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read session history: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, document := range documents {
		docID := id.DocumentID(document)
		record, err := s.getRecord(ctx, sessionID, docID)
		if err != nil {
			return err
		}
		if record != nil {
			member := memberFor(sessionID, docID)
			for _, entID := range record.CorrelationIDs {
				pipe.SRem(ctx, entKeyFor(entID), member)
			}
		}
		pipe.Del(ctx, recordKeyFor(sessionID, docID))
	}
	pipe.Del(ctx, sessionKeyFor(sessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (s *RedisStore) GetCorrelationAnalytics(ctx context.Context, since *time.Time) (*models.CorrelationAnalytics, error) {
	analytics := &models.CorrelationAnalytics{
		RiskDistribution: map[string]int{},
	}
	sessions := make(map[id.SessionID]struct{})

	// SCAN keeps this O(keys) without blocking the server; analytics is an
	// operator-facing report, not a hot path.
	iter := s.client.Scan(ctx, 0, redisRecordKeyPrefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		payload, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read correlation record: %w", err)
		}
		var record models.DocumentCorrelationData
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, fmt.Errorf("unmarshal correlation record: %w", err)
		}
		if since != nil && record.Timestamp.Before(*since) {
			continue
		}
		sessions[record.SessionID] = struct{}{}
		analytics.TotalDocuments++
		analytics.RiskDistribution[models.RiskBucket(record.RiskScore)]++
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan correlation records: %w", err)
	}
	analytics.TotalSessions = len(sessions)
	return analytics, nil
}

// RemoveExpiredAt is mostly a no-op under Redis (record keys expire via
// TTL); the sweep's job here is pruning index members whose parent record is
// gone.
func (s *RedisStore) RemoveExpiredAt(ctx context.Context, _ time.Time) (int, error) {
	pruned := 0
	iter := s.client.Scan(ctx, 0, redisEntListKey+"*", 256).Iterator()
	for iter.Next(ctx) {
		entKey := iter.Val()
		members, err := s.client.SMembers(ctx, entKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return pruned, fmt.Errorf("read index members: %w", err)
		}
		for _, member := range members {
			session, document, ok := splitMember(member)
			if !ok {
				continue
			}
			exists, err := s.client.Exists(ctx, recordKeyFor(session, document)).Result()
			if err != nil {
				return pruned, fmt.Errorf("check parent record: %w", err)
			}
			if exists == 0 {
				if err := s.client.SRem(ctx, entKey, member).Err(); err != nil {
					return pruned, fmt.Errorf("prune index member: %w", err)
				}
				pruned++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return pruned, fmt.Errorf("scan index keys: %w", err)
	}
	return pruned, nil
}

func (s *RedisStore) getRecord(ctx context.Context, sessionID id.SessionID, documentID id.DocumentID) (*models.DocumentCorrelationData, error) {
	payload, err := s.client.Get(ctx, recordKeyFor(sessionID, documentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read correlation record: %w", err)
	}
	var record models.DocumentCorrelationData
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("unmarshal correlation record: %w", err)
	}
	return &record, nil
}
