package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intakecalc/platform/promotion-engine/internal/config"
	"github.com/intakecalc/platform/promotion-engine/internal/gateway"
	"github.com/intakecalc/platform/promotion-engine/internal/telemetry"
)

var version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.LoadGateway()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "destination-gateway", cfg.OTelEndpoint)
	if err != nil {
		log.Fatalf("setup tracing: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	var backend gateway.Backend
	if cfg.InMemory {
		backend = gateway.NewMemoryBackend()
		log.Println("serving from memory; rows are lost on exit")
	} else {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)

		pg := gateway.NewPGBackend(db)
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = pg.EnsureSchema(sctx)
		cancel()
		if err != nil {
			log.Fatalf("ensure schema: %v", err)
		}
		backend = pg
		log.Println("connected to postgres")
	}
	if len(cfg.Secret) == 0 {
		log.Println("warning: GATEWAY_SECRET not set; calls are not authenticated")
	}

	mcpServer := gateway.NewServer(gateway.ServerConfig{
		Backend:      backend,
		Secret:       []byte(cfg.Secret),
		Version:      version,
		ReplayWindow: cfg.ReplayWindow,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Handle("/mcp", server.NewStreamableHTTPServer(mcpServer))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := backend.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("destination gateway %s listening on %s", version, cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
