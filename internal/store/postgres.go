package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BartekS5/archive-ingest/pkg/logger"
	"github.com/BartekS5/archive-ingest/pkg/models"
)

const lookupBatchSize = 1000

var postgresUpsert = buildPostgresUpsert()

func buildPostgresUpsert() string {
	placeholders := make([]string, len(upsertColumns))
	var sets []string
	for i, col := range upsertColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != "identifier" {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	return fmt.Sprintf(`INSERT INTO archive_items (%s)
VALUES (%s)
ON CONFLICT (identifier)
DO UPDATE SET %s`,
		strings.Join(upsertColumns, ", "), strings.Join(placeholders, ", "), strings.Join(sets, ", "))
}

// PostgresSession holds one pooled connection for the whole run.
type PostgresSession struct {
	pool *pgxpool.Pool
	conn *pgxpool.Conn
	tx   pgx.Tx
}

func NewPostgresSession(ctx context.Context, pool *pgxpool.Pool) (*PostgresSession, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &PostgresSession{pool: pool, conn: conn}, nil
}

func (s *PostgresSession) begin(ctx context.Context) (pgx.Tx, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	if s.conn == nil {
		return nil, errors.New("connection closed")
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	s.tx = tx
	return tx, nil
}

func (s *PostgresSession) Savepoint(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, "SAVEPOINT "+name)
	return err
}

func (s *PostgresSession) RollbackTo(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if s.tx == nil {
		return ErrNoTransaction
	}
	_, err := s.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name)
	return err
}

func (s *PostgresSession) Release(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if s.tx == nil {
		return ErrNoTransaction
	}
	_, err := s.tx.Exec(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

func (s *PostgresSession) UpsertItem(ctx context.Context, item *models.ArchiveItem) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, postgresUpsert, itemArgs(item)...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return &WriteError{Identifier: item.Identifier, Err: err}
		}
		return err
	}
	return nil
}

func (s *PostgresSession) Commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Commit(ctx)
}

func (s *PostgresSession) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func (s *PostgresSession) Reset(ctx context.Context) error {
	rbErr := s.Rollback(ctx)
	if rbErr == nil && s.conn != nil && s.conn.Ping(ctx) == nil {
		return nil
	}
	logger.Warn("Postgres connection unusable, reconnecting (rollback error: %v)", rbErr)
	if s.conn != nil {
		s.conn.Release()
		s.conn = nil
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("reacquire connection: %w", err)
	}
	s.conn = conn
	return nil
}

func (s *PostgresSession) InsertLookup(ctx context.Context, kind models.LookupKind, values []interface{}) (int64, error) {
	table, err := lookupTable(kind)
	if err != nil {
		return 0, err
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES ($1) ON CONFLICT (%s) DO NOTHING",
		pgx.Identifier{table}.Sanitize(), kind.Column(), kind.Column())

	var inserted int64
	for i := 0; i < len(values); i += lookupBatchSize {
		j := i + lookupBatchSize
		if j > len(values) {
			j = len(values)
		}
		b := &pgx.Batch{}
		for _, v := range values[i:j] {
			b.Queue(query, v)
		}
		br := tx.SendBatch(ctx, b)
		for k := i; k < j; k++ {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return inserted, err
			}
			inserted += tag.RowsAffected()
		}
		if err := br.Close(); err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

func (s *PostgresSession) Close() error {
	ctx := context.Background()
	err := s.Rollback(ctx)
	if s.conn != nil {
		s.conn.Release()
		s.conn = nil
	}
	s.pool.Close()
	return err
}
