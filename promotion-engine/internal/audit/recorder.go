package audit

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/intakecalc/platform/promotion-engine/internal/canonical"
	"github.com/intakecalc/platform/promotion-engine/internal/models"
)

type RecorderConfig struct {
	Log      *Log
	Producer Producer // optional
	Archiver Archiver // optional
	Logger   *log.Logger

	// SideEffectTimeout bounds publish and archive together. Defaults to 30s.
	SideEffectTimeout time.Duration
}

// Recorder appends the single log entry of an attempt and fans it out. Only
// the append is authoritative; publish and archive failures are logged.
type Recorder struct {
	log      *Log
	producer Producer
	archiver Archiver
	logger   *log.Logger
	timeout  time.Duration
}

func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[audit.recorder] ", log.LstdFlags)
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = 30 * time.Second
	}
	return &Recorder{
		log:      cfg.Log,
		producer: cfg.Producer,
		archiver: cfg.Archiver,
		logger:   cfg.Logger,
		timeout:  cfg.SideEffectTimeout,
	}
}

func (r *Recorder) History(ctx context.Context, prospectID string) ([]models.PromotionLogEntry, error) {
	return r.log.History(ctx, prospectID)
}

func (r *Recorder) HasCompleted(ctx context.Context, prospectID string) (bool, error) {
	return r.log.HasCompleted(ctx, prospectID)
}

// Record appends e and, when payload is non-nil, archives it. The returned
// key is empty when no snapshot was stored.
func (r *Recorder) Record(ctx context.Context, e models.PromotionLogEntry, payload *models.DestinationPayload) (string, error) {
	if err := r.log.Append(ctx, e); err != nil {
		return "", err
	}

	sctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if r.producer != nil {
		body, err := canonical.Marshal(e)
		if err == nil {
			_, err = r.producer.Produce(sctx, []byte(e.ProspectID), body)
		}
		if err != nil {
			r.logger.Printf("publish promotion %s: %v", e.PromotionID, err)
		}
	}

	var key string
	if r.archiver != nil && payload != nil {
		k, err := r.archiver.ArchivePayload(sctx, e.PromotionID, *payload)
		if err != nil {
			r.logger.Printf("archive promotion %s: %v", e.PromotionID, err)
		} else {
			key = k
		}
	}
	return key, nil
}
