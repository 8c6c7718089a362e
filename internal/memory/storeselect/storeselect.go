// Package storeselect turns a config.StoreConfig into a concrete
// store.Bundle, dispatching on Type the way the public contract's
// configuration-knobs table describes: "file", "document", "hybrid",
// plus the "redis" and "s3" single-tier conveniences this engine adds
// on top of the spec's adapter list.
package storeselect

import (
	"context"
	"fmt"

	appconfig "memoryengine/internal/config"
	"memoryengine/internal/memory/store"
	"memoryengine/internal/memory/store/docstore"
	"memoryengine/internal/memory/store/file"
	"memoryengine/internal/memory/store/objecttier"
	"memoryengine/internal/memory/store/redistier"
	"memoryengine/internal/memory/store/tiered"
	"memoryengine/internal/memory/store/unsupported"
	"memoryengine/internal/objectstore"
)

// Build dispatches on cfg.Type and returns the corresponding
// store.Bundle. s3Cfg is only consulted when a "s3" or "hybrid" tier
// needs an object-store-backed tier; it may be zero otherwise.
func Build(ctx context.Context, cfg appconfig.StoreConfig, s3Cfg appconfig.S3Config) (store.Bundle, error) {
	switch cfg.Type {
	case "", "file":
		basePath := cfg.BasePath
		if basePath == "" {
			basePath = cfg.ResolvedConnectionString()
		}
		if basePath == "" {
			basePath = "./data"
		}
		return file.Bundle(basePath), nil

	case "document":
		return docstore.Bundle(docstore.Config{
			ConnectionString:       cfg.ConnectionString,
			DBName:                 cfg.DBName,
			CollectionPrefix:       cfg.CollectionPrefix,
			ModuleName:             cfg.ModuleName,
			ConnectionEnvKey:       cfg.ConnectionEnvKey,
			DBNameEnvKey:           cfg.DBNameEnvKey,
			CollectionPrefixEnvKey: cfg.CollectionPrefixEnvKey,
		}), nil

	case "redis":
		client, err := redistier.NewClient(cfg.ResolvedConnectionString())
		if err != nil {
			return store.Bundle{}, err
		}
		return redistier.Bundle(client, cfg.CollectionPrefix), nil

	case "s3":
		os, err := buildObjectStore(ctx, s3Cfg)
		if err != nil {
			return store.Bundle{}, err
		}
		return objecttier.Bundle(os, cfg.CollectionPrefix), nil

	case "hybrid":
		short, err := Build(ctx, asStoreConfig(cfg.Hybrid.ShortTerm), s3Cfg)
		if err != nil {
			return store.Bundle{}, fmt.Errorf("hybrid short-term tier: %w", err)
		}
		mid, err := Build(ctx, asStoreConfig(cfg.Hybrid.MidTerm), s3Cfg)
		if err != nil {
			return store.Bundle{}, fmt.Errorf("hybrid mid-term tier: %w", err)
		}
		var long store.Bundle
		if cfg.Hybrid.LongTerm.Type != "" {
			long, err = Build(ctx, asStoreConfig(cfg.Hybrid.LongTerm), s3Cfg)
			if err != nil {
				return store.Bundle{}, fmt.Errorf("hybrid long-term tier: %w", err)
			}
		}
		return tiered.Bundle(tiered.Tiers{ShortTerm: short, MidTerm: mid, LongTerm: long}, tiered.DefaultRouting()), nil

	default:
		return unsupported.Bundle(cfg.Type), nil
	}
}

func asStoreConfig(t appconfig.HybridTier) appconfig.StoreConfig {
	return appconfig.StoreConfig{Type: t.Type, ConnectionString: t.ConnectionString, BasePath: t.BasePath}
}

func buildObjectStore(ctx context.Context, cfg appconfig.S3Config) (objectstore.ObjectStore, error) {
	s3cfg := objectstore.S3Config{
		Bucket:                cfg.Bucket,
		Region:                cfg.Region,
		Endpoint:              cfg.Endpoint,
		Prefix:                cfg.Prefix,
		UsePathStyle:          cfg.UsePathStyle,
		TLSInsecureSkipVerify: cfg.TLSInsecureSkipVerify,
	}
	return objectstore.NewS3Store(ctx, s3cfg)
}
