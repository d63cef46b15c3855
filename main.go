package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"videoQA/config"
	"videoQA/processors"
	"videoQA/server"
	"videoQA/storage"
)

func main() {
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if !cfg.HasValidAPI() {
		config.PrintConfigInstructions()
		log.Error("caption/embedding/chat API is not configured")
		os.Exit(1)
	}

	for _, dir := range []string{cfg.UploadDir, cfg.KeyframeDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Error("failed to create data dir", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	// Process-wide capability singletons, injected everywhere below.
	cli := processors.NewOpenAIClient(cfg)
	captioner := processors.NewOpenAICaptioner(cli, cfg)
	embedder := processors.NewOpenAIEmbedder(cli, cfg)
	generator := processors.NewOpenAIGenerator(cli, cfg)

	store := storage.NewFrameContextStore(cfg.KeyframeDir)

	backend, err := storage.OpenBackend(cfg)
	if err != nil {
		log.Warn("failed to initialize similarity backend, falling back to local index", "store", cfg.Store, "error", err)
		backend = nil
	}
	backendName := "local"
	if backend != nil {
		backendName = backend.Name()
	}
	log.Info("similarity backend initialized", "store", backendName)

	indexer := storage.NewContextIndexer(store, captioner, embedder, backend, log)

	var provider processors.ContextProvider = store
	if cfg.RemoteContextURL != "" {
		provider = processors.NewRemoteContextProvider(cfg.RemoteContextURL, cfg.RequestTimeout())
		log.Info("using remote context service", "url", cfg.RemoteContextURL)
	}
	answerer := processors.NewAnswerOrchestrator(provider, generator, log)

	extractor := processors.NewKeyframeExtractor()

	srv := server.New(cfg.UploadDir, backendName, store, extractor, indexer, answerer, log)
	mux := http.NewServeMux()
	srv.Routes(mux)

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}
	log.Info("server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
