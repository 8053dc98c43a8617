// Package promotion runs a prospect through validation, transformation and the
// destination writes, and records the outcome of every attempt.
package promotion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/intakecalc/platform/promotion-engine/internal/blueprint"
	"github.com/intakecalc/platform/promotion-engine/internal/destination"
	"github.com/intakecalc/platform/promotion-engine/internal/docstore"
	"github.com/intakecalc/platform/promotion-engine/internal/errorlog"
	"github.com/intakecalc/platform/promotion-engine/internal/models"
	"github.com/intakecalc/platform/promotion-engine/internal/readiness"
	"github.com/intakecalc/platform/promotion-engine/internal/transform"
)

var (
	ErrValidationFailed = errors.New("validation failed")
	ErrTransformation   = transform.ErrTransformation
	ErrInsertFailed     = errors.New("insert failed")
	ErrAlreadyPromoted  = errors.New("prospect already promoted")
	ErrInProgress       = errors.New("promotion already in progress")
)

type State string

const (
	StateNotTriggered State = "not_triggered"
	StateValidating   State = "validating"
	StateTransforming State = "transforming"
	StateWriting      State = "writing"
	StateFinalizing   State = "finalizing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// TriggerEvent is a prospect status transition observed upstream.
type TriggerEvent struct {
	ProspectID string                `json:"prospect_id"`
	OldStatus  models.ProspectStatus `json:"old_status"`
	NewStatus  models.ProspectStatus `json:"new_status"`
}

// Outcome describes how far an attempt got. Skipped outcomes did not start an
// attempt and carry no promotion id.
type Outcome struct {
	ProspectID     string                   `json:"prospect_id"`
	PromotionID    string                   `json:"promotion_id,omitempty"`
	ClientID       string                   `json:"client_id,omitempty"`
	State          State                    `json:"state"`
	Status         models.PromotionStatus   `json:"status,omitempty"`
	Skipped        bool                     `json:"skipped,omitempty"`
	SkipReason     string                   `json:"skip_reason,omitempty"`
	Recovered      bool                     `json:"recovered,omitempty"`
	Verdict        *models.ReadinessVerdict `json:"verdict,omitempty"`
	InsertedCounts map[string]int           `json:"inserted_counts,omitempty"`
	Warnings       []string                 `json:"warnings,omitempty"`
	ArchiveKey     string                   `json:"archive_key,omitempty"`
}

type Assessor interface {
	Assess(ctx context.Context, prospectID string) (readiness.Assessment, error)
}

type Transformer interface {
	Transform(prospectID string, set models.SourceSet, blueprintHash string) (models.DestinationPayload, error)
}

// AuditTrail is satisfied by *audit.Recorder.
type AuditTrail interface {
	Record(ctx context.Context, e models.PromotionLogEntry, payload *models.DestinationPayload) (string, error)
	HasCompleted(ctx context.Context, prospectID string) (bool, error)
	History(ctx context.Context, prospectID string) ([]models.PromotionLogEntry, error)
}

type Config struct {
	Store       docstore.Store
	Gatekeeper  Assessor
	Transformer Transformer
	Destination destination.Client
	Audit       AuditTrail
	Reporter    errorlog.Reporter
	Blueprint   blueprint.Blueprint
	Metrics     *Metrics
	Logger      *log.Logger
	Debug       bool

	// FinalizeTimeout bounds the status and log writes that close an attempt.
	// They run detached from the caller's context. Defaults to 30s.
	FinalizeTimeout time.Duration
	// StaleAfter is how long a prospect may sit in promoting before a manual
	// re-trigger is allowed to take it over. Defaults to 10m.
	StaleAfter time.Duration
}

type Executor struct {
	store       docstore.Store
	gatekeeper  Assessor
	transformer Transformer
	dest        destination.Client
	audit       AuditTrail
	reporter    errorlog.Reporter
	policy      blueprint.TablePolicy
	bpHash      string
	metrics     *Metrics
	logger      *log.Logger
	debug       bool
	finalizeTTL time.Duration
	staleAfter  time.Duration
	now         func() time.Time
	newID       func() string
}

func New(cfg Config) (*Executor, error) {
	if cfg.Store == nil || cfg.Gatekeeper == nil || cfg.Transformer == nil || cfg.Destination == nil || cfg.Audit == nil {
		return nil, errors.New("promotion: store, gatekeeper, transformer, destination and audit are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[promotion.executor] ", log.LstdFlags)
	}
	if cfg.Reporter == nil {
		cfg.Reporter = errorlog.NewLogReporter(cfg.Logger)
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if cfg.Blueprint.Policy == nil {
		bp, err := blueprint.Default()
		if err != nil {
			return nil, err
		}
		cfg.Blueprint = bp
	}
	hash, err := cfg.Blueprint.Hash()
	if err != nil {
		return nil, err
	}
	return &Executor{
		store:       cfg.Store,
		gatekeeper:  cfg.Gatekeeper,
		transformer: cfg.Transformer,
		dest:        cfg.Destination,
		audit:       cfg.Audit,
		reporter:    cfg.Reporter,
		policy:      cfg.Blueprint.Policy,
		bpHash:      hash,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		debug:       cfg.Debug,
		finalizeTTL: cfg.FinalizeTimeout,
		staleAfter:  cfg.StaleAfter,
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

// BlueprintHash is stamped on every payload and log entry.
func (e *Executor) BlueprintHash() string { return e.bpHash }

// HandleStatusChange runs an attempt when ev moves a prospect into client.
// Any other transition, or one that loses the claim, is a skipped no-op.
func (e *Executor) HandleStatusChange(ctx context.Context, ev TriggerEvent) (Outcome, error) {
	if ev.NewStatus != models.ProspectStatusClient || ev.OldStatus == models.ProspectStatusClient {
		e.debugf("ignore %s: %s -> %s", ev.ProspectID, ev.OldStatus, ev.NewStatus)
		e.metrics.skip("not_a_promotion")
		return Outcome{
			ProspectID: ev.ProspectID,
			State:      StateNotTriggered,
			Skipped:    true,
			SkipReason: fmt.Sprintf("transition %s -> %s does not promote", ev.OldStatus, ev.NewStatus),
		}, nil
	}
	return e.run(ctx, ev.ProspectID)
}

// Retrigger forces a prospect back to client and runs an attempt. Prospects
// that already carry a client id are refused.
func (e *Executor) Retrigger(ctx context.Context, prospectID string) (Outcome, error) {
	p, err := e.store.GetProspect(ctx, prospectID)
	if err != nil {
		return Outcome{ProspectID: prospectID, State: StateNotTriggered}, fmt.Errorf("load prospect %s: %w", prospectID, err)
	}
	if p.ClientID != "" {
		return Outcome{ProspectID: prospectID, ClientID: p.ClientID, State: StateNotTriggered},
			fmt.Errorf("%w: %s is linked to client %s", ErrAlreadyPromoted, prospectID, p.ClientID)
	}
	if p.Status == models.ProspectStatusPromoting && e.now().Sub(p.UpdatedAt) < e.staleAfter {
		return Outcome{ProspectID: prospectID, State: StateNotTriggered},
			fmt.Errorf("%w: %s claimed at %s", ErrInProgress, prospectID, p.UpdatedAt.Format(time.RFC3339))
	}
	if p.Status != models.ProspectStatusClient {
		_, err := e.store.UpdateProspect(ctx, docstore.ProspectUpdate{
			ProspectID:     prospectID,
			Status:         models.ProspectStatusClient,
			ExpectedStatus: p.Status,
		})
		if err != nil {
			return Outcome{ProspectID: prospectID, State: StateNotTriggered}, fmt.Errorf("reset prospect %s: %w", prospectID, err)
		}
		e.logger.Printf("retrigger %s: status %s -> client", prospectID, p.Status)
	}
	return e.run(ctx, prospectID)
}

// Readiness evaluates the prospect without claiming it.
func (e *Executor) Readiness(ctx context.Context, prospectID string) (models.ReadinessVerdict, error) {
	a, err := e.gatekeeper.Assess(ctx, prospectID)
	return a.Verdict, err
}

func (e *Executor) History(ctx context.Context, prospectID string) ([]models.PromotionLogEntry, error) {
	return e.audit.History(ctx, prospectID)
}

func (e *Executor) run(ctx context.Context, prospectID string) (Outcome, error) {
	claimed, err := e.store.ClaimForPromotion(ctx, prospectID)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			e.report(ctx, errorlog.Report{
				ProspectID: prospectID,
				Process:    errorlog.ProcessTrigger,
				Message:    fmt.Sprintf("claim prospect: %v", err),
				Severity:   models.SeverityHigh,
			})
		}
		return Outcome{ProspectID: prospectID, State: StateNotTriggered}, fmt.Errorf("claim prospect %s: %w", prospectID, err)
	}
	if !claimed {
		e.debugf("skip %s: not awaiting promotion", prospectID)
		e.metrics.skip("claim_lost")
		return Outcome{
			ProspectID: prospectID,
			State:      StateNotTriggered,
			Skipped:    true,
			SkipReason: "prospect is not awaiting promotion",
		}, nil
	}

	a := &attempt{
		Executor: e,
		out: Outcome{
			ProspectID:     prospectID,
			PromotionID:    e.newID(),
			InsertedCounts: map[string]int{},
		},
	}
	ctx, span := otel.Tracer("promotion-engine/promotion").Start(ctx, "promotion.attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("promotion.prospect_id", prospectID),
		attribute.String("promotion.id", a.out.PromotionID),
	)
	e.logger.Printf("promotion %s started for %s", a.out.PromotionID, prospectID)

	out, err := a.execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(out.State))
	}
	span.SetAttributes(attribute.String("promotion.state", string(out.State)))
	return out, err
}

func (e *Executor) report(ctx context.Context, r errorlog.Report) {
	e.reporter.Report(context.WithoutCancel(ctx), r)
}

func (e *Executor) debugf(format string, args ...any) {
	if e.debug {
		e.logger.Printf("debug: "+format, args...)
	}
}
