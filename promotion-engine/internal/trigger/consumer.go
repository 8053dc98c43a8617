// Package trigger feeds prospect status changes from Kafka into the executor.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/intakecalc/platform/promotion-engine/internal/errorlog"
	"github.com/intakecalc/platform/promotion-engine/internal/models"
	"github.com/intakecalc/platform/promotion-engine/internal/promotion"
)

// Handler is satisfied by *promotion.Executor.
type Handler interface {
	HandleStatusChange(ctx context.Context, ev promotion.TriggerEvent) (promotion.Outcome, error)
}

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewKafkaReader builds a group reader for the status change topic.
func NewKafkaReader(cfg KafkaConsumerConfig) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "promotion-engine"
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: 0,
	}), nil
}

type ConsumerConfig struct {
	Reader   MessageReader
	Handler  Handler
	Reporter errorlog.Reporter
	Logger   *log.Logger

	// AttemptTimeout bounds each dispatched attempt. Defaults to 2m.
	AttemptTimeout time.Duration
}

// Consumer dispatches every event in its own goroutine. Offsets are committed
// once the event is handed off; the claim on the prospect record makes a
// redelivered event a no-op.
type Consumer struct {
	reader   MessageReader
	handler  Handler
	reporter errorlog.Reporter
	logger   *log.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[trigger] ", log.LstdFlags)
	}
	if cfg.Reporter == nil {
		cfg.Reporter = errorlog.NewLogReporter(cfg.Logger)
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 2 * time.Minute
	}
	return &Consumer{
		reader:   cfg.Reader,
		handler:  cfg.Handler,
		reporter: cfg.Reporter,
		logger:   cfg.Logger,
		timeout:  cfg.AttemptTimeout,
	}
}

// Run consumes until ctx ends, then waits for in-flight attempts.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.wg.Wait()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch status change: %w", err)
		}

		ev, err := Decode(msg.Value)
		if err != nil {
			c.reporter.Report(ctx, errorlog.Report{
				Process:  errorlog.ProcessTrigger,
				Message:  fmt.Sprintf("discard message at offset %d: %v", msg.Offset, err),
				Severity: models.SeverityLow,
			})
		} else {
			c.dispatch(ctx, ev)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Printf("commit offset %d: %v", msg.Offset, err)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, ev promotion.TriggerEvent) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		out, err := c.handler.HandleStatusChange(actx, ev)
		switch {
		case err != nil:
			c.logger.Printf("prospect %s: %v", ev.ProspectID, err)
		case !out.Skipped:
			c.logger.Printf("prospect %s: %s (client %s)", ev.ProspectID, out.State, out.ClientID)
		}
	}()
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Decode parses a status change message.
func Decode(body []byte) (promotion.TriggerEvent, error) {
	var ev promotion.TriggerEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("decode status change: %w", err)
	}
	if ev.ProspectID == "" {
		return ev, fmt.Errorf("decode status change: prospect_id required")
	}
	return ev, nil
}
