package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/BartekS5/archive-ingest/pkg/logger"
	"github.com/BartekS5/archive-ingest/pkg/models"
)

var sqlServerUpsert = buildSQLServerUpsert()

func buildSQLServerUpsert() string {
	var sets, placeholders []string
	for i, col := range upsertColumns {
		p := fmt.Sprintf("@p%d", i+1)
		placeholders = append(placeholders, p)
		if col != "identifier" {
			sets = append(sets, fmt.Sprintf("%s = %s", col, p))
		}
	}
	sets = append(sets, "updated_at = SYSUTCDATETIME()")
	return fmt.Sprintf(`MERGE archive_items WITH (HOLDLOCK) AS t
USING (SELECT @p1 AS identifier) AS s
ON t.identifier_hash = CAST(HASHBYTES('SHA2_256', s.identifier) AS BINARY(32))
AND t.identifier = s.identifier
WHEN MATCHED THEN UPDATE SET %s
WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);`,
		strings.Join(sets, ", "), strings.Join(upsertColumns, ", "), strings.Join(placeholders, ", "))
}

// SQLServerSession pins one *sql.Conn so that SAVE TRANSACTION points and the
// surrounding transaction stay on the same server session.
type SQLServerSession struct {
	db   *sql.DB
	conn *sql.Conn
	tx   *sql.Tx
}

func NewSQLServerSession(ctx context.Context, db *sql.DB) (*SQLServerSession, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &SQLServerSession{db: db, conn: conn}, nil
}

func (s *SQLServerSession) begin(ctx context.Context) (*sql.Tx, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	if s.conn == nil {
		return nil, errors.New("connection closed")
	}
	// database/sql rolls a transaction back when its context ends, so the
	// transaction is detached from cancellation and statements carry ctx.
	tx, err := s.conn.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	s.tx = tx
	return tx, nil
}

func (s *SQLServerSession) Savepoint(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "SAVE TRANSACTION "+name)
	return err
}

func (s *SQLServerSession) RollbackTo(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if s.tx == nil {
		return ErrNoTransaction
	}
	_, err := s.tx.ExecContext(ctx, "ROLLBACK TRANSACTION "+name)
	return err
}

// Release is a no-op: SQL Server drops save points with the transaction.
func (s *SQLServerSession) Release(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if s.tx == nil {
		return ErrNoTransaction
	}
	return nil
}

func (s *SQLServerSession) UpsertItem(ctx context.Context, item *models.ArchiveItem) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, sqlServerUpsert, itemArgs(item)...); err != nil {
		var msErr mssql.Error
		if errors.As(err, &msErr) {
			return &WriteError{Identifier: item.Identifier, Err: err}
		}
		return err
	}
	return nil
}

func (s *SQLServerSession) Commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Commit()
}

func (s *SQLServerSession) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (s *SQLServerSession) Reset(ctx context.Context) error {
	rbErr := s.Rollback(ctx)
	if rbErr == nil && s.conn != nil && s.conn.PingContext(ctx) == nil {
		return nil
	}
	logger.Warn("SQL Server connection unusable, reconnecting (rollback error: %v)", rbErr)
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("reacquire connection: %w", err)
	}
	s.conn = conn
	return nil
}

func (s *SQLServerSession) InsertLookup(ctx context.Context, kind models.LookupKind, values []interface{}) (int64, error) {
	table, err := lookupTable(kind)
	if err != nil {
		return 0, err
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	col := kind.Column()
	query := fmt.Sprintf("IF NOT EXISTS (SELECT 1 FROM %s WHERE %s = @p1) INSERT INTO %s (%s) VALUES (@p1)",
		table, col, table, col)

	var inserted int64
	for _, v := range values {
		res, err := tx.ExecContext(ctx, query, v)
		if err != nil {
			return inserted, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}
	return inserted, nil
}

func (s *SQLServerSession) Close() error {
	err := s.Rollback(context.Background())
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}
