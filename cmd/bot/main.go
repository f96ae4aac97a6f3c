package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"onyx-chat/internal/analytics"
	"onyx-chat/internal/app"
	"onyx-chat/internal/auth"
	"onyx-chat/internal/config"
	"onyx-chat/internal/scheduler"
	"onyx-chat/internal/storage"
	"onyx-chat/internal/telegram"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()
	if cfg.TelegramBotToken == "" {
		log.Fatalf("TELEGRAM_BOT_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init runtime: %v", err)
	}
	defer rt.Close()

	authSvc, err := auth.NewWithRepo(auth.NewKVRepository(rt.KV, auth.DefaultKey), cfg.AllowedUsers)
	if err != nil {
		log.Fatalf("failed to init auth: %v", err)
	}

	bot, err := telegram.New(cfg.TelegramBotToken, authSvc, rt.NewController, telegram.Options{
		KV:          rt.KV,
		StoreKey:    rt.StoreKey,
		AdminUserID: cfg.AdminUserID,
		ParseMode:   cfg.MessageParseMode,
	})
	if err != nil {
		log.Fatalf("failed to create bot: %v", err)
	}
	defer bot.Close()

	sched := scheduler.New()
	if rt.Recorder != nil {
		if err := sched.Add("daily-report", cfg.ReportSchedule, reportJob(rt.Recorder, bot)); err != nil {
			log.Fatalf("failed to schedule report: %v", err)
		}
	}
	if err := sched.Add("snapshot-backup", cfg.BackupSchedule, func(ctx context.Context) error {
		return bot.BackupAll(time.Now().UTC().Format("2006-01-02"))
	}); err != nil {
		log.Fatalf("failed to schedule backup: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	bot.Start(ctx)
	log.Println("👋 Shutting down")
}

func reportJob(rec storage.Recorder, bot *telegram.Bot) scheduler.JobFunc {
	return func(ctx context.Context) error {
		events, err := rec.LoadInteractions()
		if err != nil {
			return fmt.Errorf("load interactions: %w", err)
		}
		stats := analytics.AnalyzeDailyLogs(events, time.Now().UTC())
		summary := stats.GenerateReportSummary()
		log.Printf("📊 Daily report:\n%s", summary)
		bot.NotifyAdmin(summary)
		return nil
	}
}
