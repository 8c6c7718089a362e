package storeselect

import (
	"context"
	"testing"

	appconfig "memoryengine/internal/config"
)

func TestBuild_EmptyTypeDefaultsToFileBackend(t *testing.T) {
	bundle, err := Build(context.Background(), appconfig.StoreConfig{BasePath: t.TempDir()}, appconfig.S3Config{})
	if err != nil {
		t.Fatalf("expected no error building the default file backend, got %v", err)
	}
	if err := bundle.PrepareAll(context.Background()); err != nil {
		t.Fatalf("expected the file backend to prepare successfully, got %v", err)
	}
}

func TestBuild_FileTypeUsesBasePath(t *testing.T) {
	dir := t.TempDir()
	bundle, err := Build(context.Background(), appconfig.StoreConfig{Type: "file", BasePath: dir}, appconfig.S3Config{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := bundle.PrepareAll(context.Background()); err != nil {
		t.Fatalf("expected prepare to succeed against a writable temp dir, got %v", err)
	}
}

func TestBuild_UnknownTypeReturnsUnsupportedBundle(t *testing.T) {
	bundle, err := Build(context.Background(), appconfig.StoreConfig{Type: "carrier-pigeon"}, appconfig.S3Config{})
	if err != nil {
		t.Fatalf("expected Build itself to succeed for an unknown type, got %v", err)
	}
	if err := bundle.PrepareAll(context.Background()); err == nil {
		t.Fatalf("expected the unsupported bundle to fail on Prepare")
	}
}

func TestBuild_HybridMissingLongTermLeavesItZeroValue(t *testing.T) {
	cfg := appconfig.StoreConfig{
		Type: "hybrid",
		Hybrid: appconfig.HybridConfig{
			ShortTerm: appconfig.HybridTier{Type: "file", BasePath: t.TempDir()},
			MidTerm:   appconfig.HybridTier{Type: "file", BasePath: t.TempDir()},
		},
	}
	bundle, err := Build(context.Background(), cfg, appconfig.S3Config{})
	if err != nil {
		t.Fatalf("expected hybrid build with no long-term tier to succeed, got %v", err)
	}
	if err := bundle.PrepareAll(context.Background()); err != nil {
		t.Fatalf("expected hybrid bundle to prepare successfully, got %v", err)
	}
}
