package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"grndock/infrastructure/audit"
	"grndock/infrastructure/barcode"
	"grndock/infrastructure/erp"
	httpserver "grndock/infrastructure/http"
	"grndock/infrastructure/sqlite"
)

func main() {
	addr := getenv("APP_ADDR", ":8080")
	dbPath := getenv("SQLITE_PATH", "grndock.db")

	db, err := sqlite.OpenDB(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := sqlite.ApplyMigrations(context.Background(), db, "infrastructure/sqlite/migrations"); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	// The real ERP connector is deployed separately and injected here;
	// the in-memory client keeps the service runnable without it.
	erpClient := erp.NewFake()
	encoder := barcode.NewQREncoder(256)
	auditSvc := audit.NewService()

	server := httpserver.NewServer(addr, db, erpClient, encoder, auditSvc)
	if err := server.Start(); err != nil {
		log.Fatalf("start server: %v", err)
	}
	log.Printf("grndock listening on %s", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if err := server.Stop(); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
