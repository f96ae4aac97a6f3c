package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"onyx-chat/internal/config"
	"onyx-chat/internal/conversation"
	"onyx-chat/internal/llm"
	"onyx-chat/internal/session"
	"onyx-chat/internal/storage"
	"onyx-chat/internal/streaming"
	"onyx-chat/internal/title"
)

// Runtime holds the collaborators shared by every front-end: the key/value
// store, the interaction log and the model clients.
type Runtime struct {
	KV       storage.KV
	Recorder storage.Recorder
	Streamer *streaming.Client
	Titler   *title.Generator
	StoreKey string
}

// Open wires the runtime from configuration. Credentials reach the providers only here.
func Open(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	kv, err := storage.Open(cfg.StoreBackend, cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var rec storage.Recorder
	if cfg.InteractionLogPath != "" {
		fr, err := storage.NewFileRecorder(cfg.InteractionLogPath)
		if err != nil {
			log.Printf("failed to init file recorder: %v", err)
		} else {
			rec = fr
		}
	}

	provider := string(cfg.LLMProvider)
	factory := llm.NewFactory(cfg)
	chatClient, err := factory.CreateClient(ctx, provider, llm.ModelFor(cfg, provider))
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	titleClient := llm.Client(chatClient)
	if provider == llm.ProviderGemini && cfg.TitleModel != cfg.GeminiModel {
		tc, err := factory.CreateClient(ctx, provider, cfg.TitleModel)
		if err != nil {
			log.Printf("⚠️ Title model %s unavailable, using the chat model: %v", cfg.TitleModel, err)
		} else {
			titleClient = tc
		}
	}

	log.Printf("🧠 LLM provider=%s model=%s store=%s(%s)", provider, llm.ModelFor(cfg, provider), cfg.StoreBackend, cfg.StorePath)

	return &Runtime{
		KV:       kv,
		Recorder: rec,
		Streamer: streaming.New(chatClient, SystemPrompt(cfg), cfg.ContextMessages),
		Titler:   title.New(titleClient),
		StoreKey: cfg.StoreKey,
	}, nil
}

// NewController builds a controller over store; owner tags its interaction log entries.
func (r *Runtime) NewController(store *session.Store, owner string) *conversation.Controller {
	return conversation.New(store, r.Streamer, r.Titler, conversation.WithRecorder(r.Recorder, owner))
}

func (r *Runtime) Close() {
	if err := r.KV.Close(); err != nil {
		log.Printf("failed to close store: %v", err)
	}
}

// SystemPrompt reads the configured prompt file and falls back to the built-in
// instruction addressed by the assistant's name.
func SystemPrompt(cfg *config.Config) string {
	if cfg.SystemPromptPath != "" {
		data, err := os.ReadFile(cfg.SystemPromptPath)
		if err == nil && strings.TrimSpace(string(data)) != "" {
			return strings.TrimSpace(string(data))
		}
		log.Printf("system prompt file not found or unreadable at %s, using built-in prompt", cfg.SystemPromptPath)
	}
	name := cfg.AssistantName
	if name == "" {
		name = "Onyx"
	}
	return strings.Replace(config.DefaultSystemPrompt, "Onyx", name, 1)
}
