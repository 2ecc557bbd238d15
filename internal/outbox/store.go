package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	perr "example.com/territory/internal/errors"
)

// PgStore keeps the outbox and its dead-letter table in Postgres.
type PgStore struct {
	pool     *pgxpool.Pool
	claimTTL time.Duration
}

// NewPgStore constructs a PgStore. Claimed rows that were never marked published become
// claimable again after claimTTL.
func NewPgStore(pool *pgxpool.Pool, claimTTL time.Duration) *PgStore {
	if claimTTL <= 0 {
		claimTTL = time.Minute
	}
	return &PgStore{pool: pool, claimTTL: claimTTL}
}

// Claim implements Store.
func (s *PgStore) Claim(ctx context.Context, limit int) (messages []Message, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, perr.FromPostgres(err, "begin claim")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const query = `SELECT event_id, user_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload
        FROM outbox
        WHERE published_at IS NULL AND (claimed_at IS NULL OR claimed_at < $2)
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, limit, time.Now().Add(-s.claimTTL))
	if err != nil {
		return nil, perr.FromPostgres(err, "select outbox")
	}
	ids := make([]int64, 0, limit)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.EventID, &msg.UserID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &msg.Payload); err != nil {
			rows.Close()
			return nil, perr.FromPostgres(err, "scan outbox")
		}
		messages = append(messages, msg)
		ids = append(ids, msg.EventID)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, perr.FromPostgres(err, "select outbox")
	}

	if len(ids) == 0 {
		_ = tx.Rollback(ctx)
		return nil, nil
	}
	if _, err = tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, perr.FromPostgres(err, "claim outbox")
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, perr.FromPostgres(err, "commit claim")
	}
	return messages, nil
}

// MarkPublished implements Store.
func (s *PgStore) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return perr.FromPostgres(err, "mark published")
	}
	return nil
}

// MoveToDLQ implements Store. The rows are copied in one transaction.
func (s *PgStore) MoveToDLQ(ctx context.Context, messages []Message, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return perr.FromPostgres(err, "begin dlq")
	}
	defer tx.Rollback(ctx)

	const stmt = `INSERT INTO outbox_dlq (event_id, user_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, NOW())`
	for _, msg := range messages {
		if _, err := tx.Exec(ctx, stmt,
			msg.EventID, msg.UserID, msg.EventType, msg.Topic, []byte(msg.Payload), reason+" (topic="+msg.Topic+")",
			msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
		); err != nil {
			return perr.FromPostgres(err, "insert dlq")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return perr.FromPostgres(err, "commit dlq")
	}
	return nil
}
