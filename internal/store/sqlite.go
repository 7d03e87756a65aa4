package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BartekS5/archive-ingest/pkg/models"
	"github.com/BartekS5/archive-ingest/pkg/utils"
)

// SchemaModels are the gorm models migrated when a SQLite store is opened.
var SchemaModels = []interface{}{
	&models.ArchiveItem{}, &models.Language{}, &models.Subject{}, &models.Year{},
}

var sqliteConflict = clause.OnConflict{
	Columns:   []clause.Column{{Name: "identifier"}},
	DoUpdates: clause.AssignmentColumns(append(append([]string{}, upsertColumns[1:]...), "updated_at")),
}

// SQLiteSession writes through gorm. The pool is capped at one connection so
// the transaction and every savepoint share it.
type SQLiteSession struct {
	db *gorm.DB
	tx *gorm.DB
}

func NewSQLiteSession(db *gorm.DB) (*SQLiteSession, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return &SQLiteSession{db: db}, nil
}

// DB exposes the underlying handle, mainly for inspection in tests.
func (s *SQLiteSession) DB() *gorm.DB { return s.db }

func (s *SQLiteSession) begin(ctx context.Context) (*gorm.DB, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	// The transaction outlives a cancelled command context so the open batch
	// can still be committed; statements take ctx themselves.
	tx := s.db.WithContext(context.WithoutCancel(ctx)).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	s.tx = tx
	return tx, nil
}

func (s *SQLiteSession) Savepoint(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	return tx.WithContext(ctx).SavePoint(name).Error
}

func (s *SQLiteSession) RollbackTo(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if s.tx == nil {
		return ErrNoTransaction
	}
	return s.tx.WithContext(ctx).RollbackTo(name).Error
}

func (s *SQLiteSession) Release(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if s.tx == nil {
		return ErrNoTransaction
	}
	return s.tx.WithContext(ctx).Exec("RELEASE SAVEPOINT " + name).Error
}

func (s *SQLiteSession) UpsertItem(ctx context.Context, item *models.ArchiveItem) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	row := *item
	row.ID = 0
	if err := tx.WithContext(ctx).Clauses(sqliteConflict).Create(&row).Error; err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &WriteError{Identifier: item.Identifier, Err: err}
	}
	return nil
}

func (s *SQLiteSession) Commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Commit().Error
}

func (s *SQLiteSession) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	return tx.Rollback().Error
}

func (s *SQLiteSession) Reset(ctx context.Context) error {
	rbErr := s.Rollback(ctx)
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping after reset (rollback error: %v): %w", rbErr, err)
	}
	return nil
}

func (s *SQLiteSession) InsertLookup(ctx context.Context, kind models.LookupKind, values []interface{}) (int64, error) {
	if _, err := lookupTable(kind); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, nil
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	var rows interface{}
	switch kind {
	case models.LookupYears:
		years := make([]models.Year, 0, len(values))
		for _, v := range values {
			years = append(years, models.Year{Year: int(utils.IntOrZero(v))})
		}
		rows = &years
	case models.LookupSubjects:
		subjects := make([]models.Subject, 0, len(values))
		for _, v := range values {
			subjects = append(subjects, models.Subject{Name: utils.Stringify(v)})
		}
		rows = &subjects
	default:
		languages := make([]models.Language, 0, len(values))
		for _, v := range values {
			languages = append(languages, models.Language{Name: utils.Stringify(v)})
		}
		rows = &languages
	}
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, lookupBatchSize)
	return res.RowsAffected, res.Error
}

func (s *SQLiteSession) Close() error {
	err := s.Rollback(context.Background())
	sqlDB, dbErr := s.db.DB()
	if dbErr != nil {
		return dbErr
	}
	if cerr := sqlDB.Close(); err == nil {
		err = cerr
	}
	return err
}
