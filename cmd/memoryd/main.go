// Command memoryd is a small demo host for the conversation memory
// engine: it wires configuration, logging, a storage backend, and an
// LLM provider, creates one session, and runs it through a scripted
// streamed-message/compaction walkthrough so the wiring can be
// exercised end to end without a real agent loop attached.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	appconfig "memoryengine/internal/config"
	"memoryengine/internal/llm"
	anthropicllm "memoryengine/internal/llm/anthropic"
	googlellm "memoryengine/internal/llm/google"
	openaillm "memoryengine/internal/llm/openai"
	"memoryengine/internal/memory"
	"memoryengine/internal/memory/storeselect"
	"memoryengine/internal/observability"
	"memoryengine/internal/version"

	_ "memoryengine/internal/memory/store/docstore/mongodriver"
	_ "memoryengine/internal/memory/store/docstore/pgdriver"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the engine's YAML configuration file")
	sessionID := flag.String("session", "", "resume an existing session id instead of creating a fresh one")
	flag.Parse()

	cfg, err := appconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)
	log.Info().Str("version", version.Version).Msg("memoryd: starting")

	ctx := context.Background()
	bundle, err := storeselect.Build(ctx, cfg.Store, cfg.S3)
	if err != nil {
		log.Fatal().Err(err).Msg("memoryd: failed to build store bundle")
	}

	engine := memory.New(bundle, nil)
	if err := engine.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("memoryd: engine initialization failed")
	}
	defer func() {
		if err := engine.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("memoryd: engine close failed")
		}
	}()

	provider := buildProvider(ctx, cfg.LLM)
	compactionEngine := memory.NewCompactionEngine(provider, engine, memory.CompactionConfig{
		MaxTokens:       cfg.Compaction.MaxTokens,
		MaxOutputTokens: cfg.Compaction.MaxOutputTokens,
		TriggerRatio:    cfg.Compaction.TriggerRatio,
		KeepLastN:       cfg.Compaction.KeepLastN,
		Model:           cfg.Compaction.Model,
	})

	newPrompt := ""
	if *sessionID == "" {
		newPrompt = "You are a helpful coding assistant."
	}
	facade := memory.NewSessionFacade(engine, compactionEngine, *sessionID, newPrompt)
	if err := facade.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("memoryd: session facade initialization failed")
	}

	log.Info().Str("session_id", facade.SessionID()).Msg("memoryd: session ready")

	facade.AddMessage(ctx, memory.Message{
		MessageID: "demo-1",
		Role:      memory.RoleUser,
		Content:   "Summarize what this repository does.",
		Type:      memory.MessageTypeText,
	}, true)

	if err := facade.CompactBeforeLLMCall(ctx); err != nil {
		log.Warn().Err(err).Msg("memoryd: compaction check failed")
	}

	if err := facade.Sync(ctx); err != nil {
		log.Fatal().Err(err).Msg("memoryd: sync failed")
	}

	c, err := engine.GetCurrentContext(ctx, facade.SessionID())
	if err != nil {
		log.Fatal().Err(err).Msg("memoryd: failed to read back context")
	}
	log.Info().Int("message_count", len(c.Messages)).Msg("memoryd: demo walkthrough complete")
}

// buildProvider constructs the llm.Provider named by cfg.Provider, or
// nil when unset: CompactionEngine treats a nil provider as "fall back
// to a static truncation notice" rather than failing startup.
func buildProvider(ctx context.Context, cfg appconfig.LLMConfig) llm.Provider {
	apiKey := ""
	if cfg.APIKeyEnvKey != "" {
		apiKey = os.Getenv(cfg.APIKeyEnvKey)
	}
	httpClient := observability.NewHTTPClient(nil)

	switch cfg.Provider {
	case "anthropic":
		return anthropicllm.New(apiKey, httpClient)
	case "openai":
		return openaillm.New(apiKey, cfg.BaseURL, httpClient)
	case "google":
		c, err := googlellm.New(ctx, apiKey, httpClient)
		if err != nil {
			log.Warn().Err(err).Msg("memoryd: google provider init failed, compaction summaries will use the static fallback")
			return nil
		}
		return c
	default:
		return nil
	}
}
