package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/intakecalc/platform/promotion-engine/internal/audit"
	"github.com/intakecalc/platform/promotion-engine/internal/blueprint"
	"github.com/intakecalc/platform/promotion-engine/internal/config"
	"github.com/intakecalc/platform/promotion-engine/internal/docstore"
	"github.com/intakecalc/platform/promotion-engine/internal/errorlog"
	"github.com/intakecalc/platform/promotion-engine/internal/gateway"
	"github.com/intakecalc/platform/promotion-engine/internal/httpserver"
	"github.com/intakecalc/platform/promotion-engine/internal/promotion"
	"github.com/intakecalc/platform/promotion-engine/internal/readiness"
	"github.com/intakecalc/platform/promotion-engine/internal/telemetry"
	"github.com/intakecalc/platform/promotion-engine/internal/transform"
	"github.com/intakecalc/platform/promotion-engine/internal/trigger"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.LoadService()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "promotion-service", cfg.OTelEndpoint)
	if err != nil {
		log.Fatalf("setup tracing: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	bp, err := blueprint.Load(cfg.BlueprintPath)
	if err != nil {
		log.Fatalf("load blueprint: %v", err)
	}

	store, err := docstore.OpenSQLite(ctx, cfg.DocStorePath)
	if err != nil {
		log.Fatalf("open document store: %v", err)
	}
	defer store.Close()

	// Error reports always reach the process log; Postgres is added when configured.
	reporters := errorlog.Multi{errorlog.NewLogReporter(log.New(os.Stderr, "[errorlog] ", log.LstdFlags))}
	if cfg.ErrorLogDatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.ErrorLogDatabaseURL)
		if err != nil {
			log.Fatalf("open error log db: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pctx)
		cancel()
		if err != nil {
			log.Fatalf("ping error log db: %v", err)
		}
		reporters = append(reporters, errorlog.NewPGReporter(db, nil))
		log.Println("error log sink: postgres")
	}

	dest, err := gateway.Dial(ctx, gateway.ClientConfig{
		URL:    cfg.GatewayURL,
		Secret: []byte(cfg.GatewaySecret),
	})
	if err != nil {
		log.Fatalf("connect gateway: %v", err)
	}
	defer dest.Close()

	recorderCfg := audit.RecorderConfig{Log: audit.NewLog(dest)}
	if cfg.AuditTopic != "" {
		producer, err := audit.NewKafkaProducer(audit.KafkaProducerConfig{
			Brokers:     cfg.KafkaBrokers,
			Topic:       cfg.AuditTopic,
			MaxAttempts: 3,
		})
		if err != nil {
			log.Fatalf("init kafka producer: %v", err)
		}
		defer producer.Close()
		recorderCfg.Producer = producer
		log.Printf("promotion log feed: kafka topic %s", cfg.AuditTopic)
	}
	if cfg.ArchiveBucket != "" {
		archiver, err := audit.NewS3Archiver(ctx, cfg.ArchiveBucket, cfg.ArchivePrefix)
		if err != nil {
			log.Fatalf("init s3 archiver: %v", err)
		}
		recorderCfg.Archiver = archiver
		log.Printf("payload archive: s3://%s/%s", cfg.ArchiveBucket, cfg.ArchivePrefix)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	exec, err := promotion.New(promotion.Config{
		Store: store,
		Gatekeeper: readiness.New(readiness.Config{
			Store:             store,
			Reporter:          reporters,
			BaselineTolerance: bp.Integrity.BaselineTolerance,
			ReadAttempts:      cfg.ReadAttempts,
		}),
		Transformer:     transform.New(bp),
		Destination:     dest,
		Audit:           audit.NewRecorder(recorderCfg),
		Reporter:        reporters,
		Blueprint:       bp,
		Metrics:         promotion.NewMetrics(reg),
		Debug:           cfg.Debug,
		FinalizeTimeout: cfg.FinalizeTimeout,
		StaleAfter:      cfg.StaleAfter,
	})
	if err != nil {
		log.Fatalf("init executor: %v", err)
	}
	log.Printf("blueprint %s (%s)", exec.BlueprintHash(), bp.SchemaVersion)

	var consumerDone chan struct{}
	if len(cfg.KafkaBrokers) > 0 && cfg.TriggerTopic != "" {
		reader, err := trigger.NewKafkaReader(trigger.KafkaConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.TriggerTopic,
			GroupID: cfg.TriggerGroup,
		})
		if err != nil {
			log.Fatalf("init trigger reader: %v", err)
		}
		consumer := trigger.NewConsumer(trigger.ConsumerConfig{
			Reader:         reader,
			Handler:        exec,
			Reporter:       reporters,
			AttemptTimeout: cfg.RequestTimeout,
		})
		consumerDone = make(chan struct{})
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(ctx); err != nil {
				log.Printf("[trigger] stopped: %v", err)
			}
			_ = consumer.Close()
		}()
		log.Printf("consuming status changes from %s", cfg.TriggerTopic)
	}

	srv := httpserver.New(httpserver.Config{
		Service:        exec,
		Store:          store,
		Gateway:        dest,
		Gatherer:       reg,
		RequestTimeout: cfg.RequestTimeout,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("promotion service listening on %s", cfg.Addr)
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
	if consumerDone != nil {
		<-consumerDone
	}
}
