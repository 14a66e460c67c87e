package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/manzt/higlass-go/internal/config"
	"github.com/manzt/higlass-go/internal/store"
	"github.com/manzt/higlass-go/internal/tileserver"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("hgserve: starting",
		"host", cfg.Host,
		"port", cfg.Port,
		"db_path", cfg.DBPath,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	factories := tileserver.NewFactoryRegistry()
	factories.Register(tileserver.FiletypeChromSizesTSV, tileserver.NewChromSizesTSVFactory(http.DefaultClient))

	srv := tileserver.New(nil, tileserver.Options{
		Host:      cfg.Host,
		Port:      cfg.Port,
		Store:     db,
		Factories: factories,
		Logger:    logger,
	})

	addr, err := srv.Start(context.Background())
	if err != nil {
		log.Fatalf("failed to start tile server: %v", err)
	}
	logger.Info("hgserve: serving", "address", addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("hgserve: shutting down", "signal", sig.String())

	if err := srv.Stop(context.Background()); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
