package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DefaultCommitTimeout bounds a single Commit transaction.
const DefaultCommitTimeout = 5 * time.Second

const entryColumns = `seq, ts, action, severity,
	actor_id, actor_email, actor_role, actor_ip,
	target_type, target_id, target_email,
	request_id, changes, metadata,
	previous_hash, curr_hash, is_immutable`

// PostgresStore persists the ledger in PostgreSQL. The tail lives in a
// single-row table that is advanced by a conditional UPDATE in the same
// transaction as the entry INSERT, so entry and tail are always consistent.
// The schema rejects UPDATE and DELETE on entries (see migrations/).
type PostgresStore struct {
	pool          *pgxpool.Pool
	commitTimeout time.Duration
	logger        *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, commitTimeout time.Duration, logger *zap.Logger) *PostgresStore {
	if commitTimeout <= 0 {
		commitTimeout = DefaultCommitTimeout
	}
	return &PostgresStore{pool: pool, commitTimeout: commitTimeout, logger: logger}
}

// Tail implements Store.
func (s *PostgresStore) Tail(ctx context.Context) (Tail, error) {
	var t Tail
	if err := s.pool.QueryRow(ctx,
		`SELECT last_seq, last_hash FROM audit_ledger_tail WHERE id = 1`,
	).Scan(&t.Sequence, &t.Hash); err != nil {
		return Tail{}, fmt.Errorf("read ledger tail: %w", err)
	}
	return t, nil
}

// Commit implements Store. Once started, the transaction is not abandoned
// when ctx is cancelled; it runs to completion or to the commit timeout so
// the caller never sees an ambiguous outcome caused by its own deadline.
func (s *PostgresStore) Commit(ctx context.Context, expected Tail, entry *Entry) error {
	if entry.SequenceNumber != expected.Next() || entry.PreviousHash != expected.Hash {
		return fmt.Errorf("entry %d is not chained to tail %d", entry.SequenceNumber, expected.Sequence)
	}
	err := ctx.Err()
	if err != nil {
		return err
	}

	var changes, metadata any
	if entry.Changes != nil {
		if changes, err = jsonParam(entry.Changes); err != nil {
			return fmt.Errorf("marshal changes: %w", err)
		}
	}
	if entry.Metadata != nil {
		metadata, err = jsonParam(entry.Metadata)
	}
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var targetType, targetID, targetEmail *string
	if t := entry.Target; t != nil {
		targetType, targetID, targetEmail = nullable(t.Type), &t.ID, nullable(t.Email)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.commitTimeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The row lock taken by this UPDATE serialises concurrent committers;
	// the loser re-evaluates the WHERE clause against the new tail and
	// matches nothing.
	tag, err := tx.Exec(ctx,
		`UPDATE audit_ledger_tail
		    SET last_seq = $1, last_hash = $2, updated_at = now()
		  WHERE id = 1 AND last_seq = $3 AND last_hash = $4`,
		entry.SequenceNumber, entry.CurrentHash, expected.Sequence, expected.Hash,
	)
	if err != nil {
		return fmt.Errorf("advance ledger tail: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTailMoved
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_ledger_entries (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		entry.SequenceNumber, entry.Timestamp, string(entry.Action), string(entry.Severity),
		entry.Actor.ID, entry.Actor.Email, entry.Actor.Role, entry.Actor.IP,
		targetType, targetID, targetEmail,
		entry.RequestID, changes, metadata,
		entry.PreviousHash, entry.CurrentHash, entry.IsImmutable,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			s.logger.Debug("ledger insert collided with an existing entry",
				zap.Int64("seq", entry.SequenceNumber),
				zap.String("constraint", pgErr.ConstraintName),
			)
			return ErrTailMoved
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, seq int64) (*Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM audit_ledger_entries WHERE seq = $1`, seq)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %d: %w", seq, err)
	}
	return e, nil
}

// Range implements Store. It is a keyset scan on the primary key.
func (s *PostgresStore) Range(ctx context.Context, after, upTo int64, limit int) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM audit_ledger_entries
		  WHERE seq > $1 AND seq <= $2
		  ORDER BY seq ASC
		  LIMIT $3`,
		after, upTo, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger range: %w", err)
	}
	return collectEntries(rows)
}

// FindByActor implements Store.
func (s *PostgresStore) FindByActor(ctx context.Context, actorID string, f Filter) ([]*Entry, error) {
	return s.find(ctx, "actor_id", actorID, f)
}

// FindByTarget implements Store.
func (s *PostgresStore) FindByTarget(ctx context.Context, targetID string, f Filter) ([]*Entry, error) {
	return s.find(ctx, "target_id", targetID, f)
}

func (s *PostgresStore) find(ctx context.Context, column, id string, f Filter) ([]*Entry, error) {
	where := []string{column + " = $1"}
	args := []any{id}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if !f.From.IsZero() {
		add("ts >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("ts <= $%d", f.To)
	}
	args = append(args, f.Limit, f.Skip)

	q := fmt.Sprintf(`SELECT %s FROM audit_ledger_entries
		 WHERE %s
		 ORDER BY ts DESC, seq DESC
		 LIMIT $%d OFFSET $%d`,
		entryColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger by %s: %w", column, err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]*Entry, error) {
	defer rows.Close()
	out := []*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return out, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e                                 Entry
		action, severity                  string
		targetType, targetID, targetEmail *string
		changes, metadata                 []byte
	)
	if err := row.Scan(
		&e.SequenceNumber, &e.Timestamp, &action, &severity,
		&e.Actor.ID, &e.Actor.Email, &e.Actor.Role, &e.Actor.IP,
		&targetType, &targetID, &targetEmail,
		&e.RequestID, &changes, &metadata,
		&e.PreviousHash, &e.CurrentHash, &e.IsImmutable,
	); err != nil {
		return nil, err
	}
	e.Timestamp = e.Timestamp.UTC()
	e.Action = Action(action)
	e.Severity = Severity(severity)
	if targetID != nil {
		e.Target = &Target{ID: *targetID, Type: deref(targetType), Email: deref(targetEmail)}
	}
	if changes != nil {
		var c Changes
		if err := decodeJSON(changes, &c); err != nil {
			return nil, fmt.Errorf("entry %d changes: %w", e.SequenceNumber, err)
		}
		e.Changes = &c
	}
	if metadata != nil {
		if err := decodeJSON(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("entry %d metadata: %w", e.SequenceNumber, err)
		}
	}
	return &e, nil
}

// jsonParam encodes v as text for a jsonb parameter.
func jsonParam(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
