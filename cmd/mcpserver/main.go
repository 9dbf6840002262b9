package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/mark3labs/mcp-go/server"

	"ledgerwork-backend/escrow"
	"ledgerwork-backend/mcp"
	"ledgerwork-backend/reconciler"
	storage "ledgerwork-backend/storage/marketplace"

	"github.com/google/uuid"
)

type config struct {
	StoreDriver string
	PGDSN       string
	Workers     int
}

func loadConfig() config {
	storeDriver := os.Getenv("LEDGERWORK_STORE_DRIVER")
	if storeDriver == "" {
		storeDriver = "memory"
	}

	workers := 4
	if raw := os.Getenv("LEDGERWORK_RECONCILER_WORKERS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			workers = v
		}
	}

	return config{
		StoreDriver: storeDriver,
		PGDSN:       os.Getenv("LEDGERWORK_DB_DSN"),
		Workers:     workers,
	}
}

func main() {
	cfg := loadConfig()

	ctx := context.Background()
	var store storage.Store
	var err error
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.PGDSN == "" {
			log.Fatal("LEDGERWORK_DB_DSN required when LEDGERWORK_STORE_DRIVER=postgres")
		}
		store, err = storage.NewPGStore(ctx, cfg.PGDSN)
	default:
		store = storage.NewMemoryStore()
	}
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer store.Close()

	chain := escrow.NewClientFromEnv()

	recCfg := reconciler.DefaultConfig()
	recCfg.Workers = cfg.Workers
	rec := reconciler.New(store, chain, recCfg, uuid.NewString)

	recCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	rec.Start(recCtx)
	defer rec.Stop()

	mcpServer := mcp.NewMCPServer(store, rec)

	log.Printf("LedgerWork MCP server starting (driver=%s, workers=%d)", cfg.StoreDriver, cfg.Workers)
	log.Printf("Server: LedgerWork MCP Server v1.0.0")

	// Stdio transport: the verifier agent runs this binary as a subprocess.
	if err := server.ServeStdio(mcpServer.GetMCPServer()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
