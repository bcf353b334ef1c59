package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classroll/internal/attendance"
	"classroll/internal/config"
	"classroll/internal/metrics"
	"classroll/internal/queue"
	"classroll/internal/sheets"
	"classroll/internal/store"
)

// Worker consumes attendance changes from redis and appends them to the
// spreadsheet.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if redisClient == nil || cfg.QueueBackend == "memory" {
		log.Fatalf("worker needs the redis queue; with QUEUE_BACKEND=memory the api forwards in-process")
	}
	defer redisClient.Close()
	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)

	sheet, err := sheets.Open(sheets.Config{
		SpreadsheetID: cfg.SheetsSpreadsheetID,
		ClientEmail:   cfg.SheetsClientEmail,
		PrivateKeyPEM: cfg.SheetsPrivateKey,
		Range:         cfg.SheetsRange,
		TokenURL:      cfg.SheetsTokenURL,
		BaseURL:       cfg.SheetsBaseURL,
	}, log.Default())
	if err != nil {
		log.Fatalf("sheets client: %v", err)
	}
	if !cfg.SheetsEnabled() {
		log.Println("WARNING: spreadsheet not configured, rows are only logged")
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewForwarder(reg)
	go serveMetrics(ctx, reg, cfg.WorkerMetricsAddr)

	f := sheets.Forwarder{Names: attendance.NewRepository(db.Client), Sheet: sheet, Log: log.Default()}

	log.Println("worker started, waiting for messages...")
	if err := f.Run(ctx, q, m.Forwarded); err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}
	log.Println("worker stopped")
}

func serveMetrics(ctx context.Context, reg *prometheus.Registry, addr string) {
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("metrics server: %v", err)
	}
}
