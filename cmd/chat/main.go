package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"

	"onyx-chat/internal/app"
	"onyx-chat/internal/config"
	"onyx-chat/internal/console"
	"onyx-chat/internal/session"
)

const historyFile = ".onyx_history"

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init runtime: %v", err)
	}
	defer rt.Close()

	ctrl := rt.NewController(session.NewStore(rt.KV, rt.StoreKey), "console")
	if err := ctrl.Start(); err != nil {
		log.Printf("⚠️ Failed to persist first session: %v", err)
	}
	defer ctrl.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	histPath := filepath.Join(cfg.StorePath, historyFile)
	if f, err := os.Open(histPath); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}

	err = console.New(ctrl, os.Stdout).Run(ctx, line)
	if err != nil && !errors.Is(err, liner.ErrPromptAborted) {
		log.Printf("console stopped: %v", err)
	}

	if f, err := os.Create(histPath); err == nil {
		_, _ = line.WriteHistory(f)
		_ = f.Close()
	}
}
