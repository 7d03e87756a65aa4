package store

import (
	"context"
	"fmt"

	"github.com/BartekS5/archive-ingest/internal/config"
	"github.com/BartekS5/archive-ingest/pkg/database"
)

// Open connects to the configured database and returns a write session.
// Any failure here is fatal for the calling command.
func Open(ctx context.Context, cfg *config.Config) (Session, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}

	switch cfg.DatabaseDriver {
	case "postgres":
		pool, err := database.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s, err := NewPostgresSession(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil

	case "sqlserver":
		db, err := database.ConnectSQL(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s, err := NewSQLServerSession(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return s, nil

	case "sqlite":
		db, err := database.ConnectSQLite(cfg.DatabaseURL, SchemaModels...)
		if err != nil {
			return nil, err
		}
		return NewSQLiteSession(db)

	case "mongodb":
		client, err := database.ConnectMongo(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s, err := NewMongoSession(ctx, client, cfg.MongoDatabase)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
}
