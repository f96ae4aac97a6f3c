package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"onyx-chat/internal/app"
	"onyx-chat/internal/config"
	"onyx-chat/internal/mcpserver"
	"onyx-chat/internal/session"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ Failed to init runtime: %v", err)
	}
	defer rt.Close()

	ctrl := rt.NewController(session.NewStore(rt.KV, rt.StoreKey), "mcp")
	if err := ctrl.Start(); err != nil {
		log.Printf("⚠️ Failed to persist first session: %v", err)
	}
	defer ctrl.Close()

	log.Printf("🚀 Starting sessions MCP server")

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "onyx-chat-sessions-mcp",
		Version: "1.0.0",
	}, nil)
	mcpserver.New(ctrl).Register(server)

	log.Printf("🔗 Starting server on stdin/stdout...")
	if err := server.Run(ctx, mcp.NewStdioTransport()); err != nil && ctx.Err() == nil {
		log.Printf("❌ Server failed: %v", err)
	}
}
