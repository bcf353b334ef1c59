package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classroll/internal/api"
	"classroll/internal/attendance"
	"classroll/internal/config"
	"classroll/internal/httpmiddleware"
	"classroll/internal/metrics"
	"classroll/internal/queue"
	"classroll/internal/sheets"
	"classroll/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := log.Default()

	db, err := store.NewDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		if db == nil {
			return err
		}
		log.Printf("warning: db not reachable: %v", err)
	}
	defer db.Close()

	repo := attendance.NewRepository(db.Client)
	if cfg.AutoMigrate {
		if err := repo.Migrate(ctx); err != nil {
			log.Printf("warning: migrate failed: %v", err)
		}
	}

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" || redisClient == nil {
		q = queue.NewInMemory(64)
		// nobody else can drain an in-process queue
		go forwardInProcess(ctx, cfg, repo, q)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	st := attendance.New(repo,
		attendance.WithLogger(logger),
		attendance.WithNotifier(queue.Publisher{Queue: q}),
		attendance.WithObserver(metrics.NewStore(prometheus.DefaultRegisterer)),
	)
	go func() {
		if err := st.Load(ctx); err != nil {
			log.Printf("initial load incomplete: %v", err)
			return
		}
		log.Printf("loaded %d classes", len(st.Classes()))
	}()

	var limiter httpmiddleware.Limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	checks := map[string]api.Checker{"db": db}
	if redisClient != nil {
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
		checks["redis"] = redisClient
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(requestTimeout(cfg.RequestTimeout))
	r.Use(httpmiddleware.RateLimit(limiter, logger))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &api.Handler{Store: st, Log: logger, MaxUploadBytes: cfg.MaxUploadBytes, Checks: checks}
	h.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// forwardInProcess runs the sheet forwarder inside the API process for the
// in-memory queue.
func forwardInProcess(ctx context.Context, cfg config.App, repo *attendance.Repository, q queue.Queue) {
	sheet, err := sheets.Open(sheetsConfig(cfg), log.Default())
	if err != nil {
		log.Printf("sheet forwarding disabled: %v", err)
		sheet = sheets.LogAppender{Log: log.Default()}
	}
	m := metrics.NewForwarder(prometheus.DefaultRegisterer)
	f := sheets.Forwarder{Names: repo, Sheet: sheet, Log: log.Default()}
	if err := f.Run(ctx, q, m.Forwarded); err != nil {
		log.Printf("in-process forwarder stopped: %v", err)
	}
}

func sheetsConfig(cfg config.App) sheets.Config {
	return sheets.Config{
		SpreadsheetID: cfg.SheetsSpreadsheetID,
		ClientEmail:   cfg.SheetsClientEmail,
		PrivateKeyPEM: cfg.SheetsPrivateKey,
		Range:         cfg.SheetsRange,
		TokenURL:      cfg.SheetsTokenURL,
		BaseURL:       cfg.SheetsBaseURL,
	}
}

// requestTimeout bounds the context handed to the store.
func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
