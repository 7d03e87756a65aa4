package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/BartekS5/archive-ingest/pkg/models"
	"github.com/BartekS5/archive-ingest/pkg/utils"
)

// MongoSession writes archive items as documents keyed by identifier. Every
// document write is atomic on its own, so rollback points and commits are
// no-ops and a failed write never touches other documents.
type MongoSession struct {
	Client *mongo.Client
	DB     *mongo.Database
}

func NewMongoSession(ctx context.Context, client *mongo.Client, database string) (*MongoSession, error) {
	s := &MongoSession{Client: client, DB: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoSession) ensureIndexes(ctx context.Context) error {
	indexes := map[string]string{
		"archive_items":                "identifier",
		string(models.LookupLanguages): models.LookupLanguages.Column(),
		string(models.LookupSubjects):  models.LookupSubjects.Column(),
		string(models.LookupYears):     models.LookupYears.Column(),
	}
	for coll, key := range indexes {
		model := mongo.IndexModel{
			Keys:    bson.D{{Key: key, Value: 1}},
			Options: options.Index().SetUnique(true),
		}
		if _, err := s.DB.Collection(coll).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("create index on %s.%s: %w", coll, key, err)
		}
	}
	return nil
}

func (s *MongoSession) Savepoint(ctx context.Context, name string) error { return checkName(name) }
func (s *MongoSession) RollbackTo(ctx context.Context, name string) error { return checkName(name) }
func (s *MongoSession) Release(ctx context.Context, name string) error { return checkName(name) }
func (s *MongoSession) Commit(ctx context.Context) error { return nil }
func (s *MongoSession) Rollback(ctx context.Context) error { return nil }

func (s *MongoSession) UpsertItem(ctx context.Context, item *models.ArchiveItem) error {
	doc, err := itemDocument(item)
	if err != nil {
		return &WriteError{Identifier: item.Identifier, Err: err}
	}
	update := bson.M{
		"$set":         doc,
		"$currentDate": bson.M{"updated_at": true},
		"$setOnInsert": bson.M{"created_at": time.Now().UTC()},
	}
	opts := options.Update().SetUpsert(true)
	_, err = s.DB.Collection("archive_items").UpdateOne(ctx, bson.M{"identifier": item.Identifier}, update, opts)
	if err != nil {
		if isMongoWriteError(err) {
			return &WriteError{Identifier: item.Identifier, Err: err}
		}
		return err
	}
	return nil
}

func itemDocument(item *models.ArchiveItem) (bson.M, error) {
	doc := bson.M{
		"identifier":  item.Identifier,
		"title":       item.Title,
		"description": item.Description,
		"language":    item.Language,
		"item_size":   item.ItemSize,
		"downloads":   item.Downloads,
		"btih":        item.BTIH,
		"mediatype":   item.MediaType,
		"publicdate":  item.PublicDate,
		"url":         item.URL,
		"subject":     nil,
	}
	if len(item.Subject) > 0 {
		var subject []interface{}
		if err := json.Unmarshal(item.Subject, &subject); err != nil {
			return nil, fmt.Errorf("decode subject: %w", err)
		}
		doc["subject"] = subject
	}
	return doc, nil
}

func isMongoWriteError(err error) bool {
	var we mongo.WriteException
	var ce mongo.CommandError
	return errors.As(err, &we) || errors.As(err, &ce)
}

func (s *MongoSession) Reset(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.Client.Ping(pingCtx, readpref.Primary())
}

func (s *MongoSession) InsertLookup(ctx context.Context, kind models.LookupKind, values []interface{}) (int64, error) {
	table, err := lookupTable(kind)
	if err != nil {
		return 0, err
	}
	coll := s.DB.Collection(table)
	col := kind.Column()
	opts := options.Update().SetUpsert(true)

	var inserted int64
	for _, v := range values {
		if kind == models.LookupYears {
			v = utils.IntOrZero(v)
		}
		res, err := coll.UpdateOne(ctx, bson.M{col: v}, bson.M{"$setOnInsert": bson.M{col: v}}, opts)
		if err != nil {
			return inserted, err
		}
		inserted += res.UpsertedCount
	}
	return inserted, nil
}

func (s *MongoSession) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Client.Disconnect(ctx)
}
