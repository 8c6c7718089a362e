// Package mongodriver registers a MongoDB-backed docstore.Driver under
// the module name "mongo". Importing this package for side effect is
// what "loads the module" — the docstore package itself never imports
// go.mongodb.org/mongo-driver.
package mongodriver

import (
	"context"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"memoryengine/internal/memory/store/docstore"
)

func init() {
	docstore.Register("mongo", New)
}

type driver struct {
	client *mongo.Client
	db     *mongo.Database
}

// New dials cfg.ConnectionString and returns a Driver backed by
// cfg.DBName. Of cfg.ClientOptions, only a string "appName" entry is
// applied to the Mongo client options; other entries are ignored.
func New(ctx context.Context, cfg docstore.Config) (docstore.Driver, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("mongo driver: connectionString is required")
	}
	opts := options.Client().ApplyURI(cfg.ConnectionString)
	if appName, ok := cfg.ClientOptions["appName"].(string); ok {
		opts.SetAppName(appName)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo driver: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo driver: ping: %w", err)
	}
	return &driver{client: client, db: client.Database(cfg.DBName)}, nil
}

func (d *driver) Upsert(ctx context.Context, collection, id string, doc any) error {
	_, err := d.db.Collection(collection).ReplaceOne(
		ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo driver: upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

func (d *driver) LoadAll(ctx context.Context, collection string) (map[string]json.RawMessage, error) {
	cur, err := d.db.Collection(collection).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongo driver: find %s: %w", collection, err)
	}
	defer cur.Close(ctx)

	out := map[string]json.RawMessage{}
	for cur.Next(ctx) {
		var raw bson.Raw
		if err := cur.Decode(&raw); err != nil {
			continue
		}
		id, ok := raw.Lookup("_id").StringValueOK()
		if !ok {
			continue
		}
		extJSON, err := bson.MarshalExtJSON(raw, false, false)
		if err != nil {
			continue
		}
		out[id] = extJSON
	}
	return out, cur.Err()
}

func (d *driver) Delete(ctx context.Context, collection, id string) error {
	_, err := d.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo driver: delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (d *driver) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}
