// Package readiness decides whether a prospect's source documents are complete
// and consistent enough to be promoted.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/intakecalc/platform/promotion-engine/internal/docstore"
	"github.com/intakecalc/platform/promotion-engine/internal/errorlog"
	"github.com/intakecalc/platform/promotion-engine/internal/models"
)

const (
	CheckIntake     = "intake"
	CheckProjection = "projection"
	CheckCostSplit  = "cost_split"
	CheckCompliance = "compliance"
	CheckSavings    = "savings"
	CheckIntegrity  = "integrity"
)

type Config struct {
	Store    docstore.Store
	Reporter errorlog.Reporter
	Logger   *log.Logger

	// BaselineTolerance is the absolute currency difference at which the
	// intake total and projection baseline are reported as mismatched.
	// Zero or less flags any difference.
	BaselineTolerance float64

	// ReadAttempts bounds tries per document read. Defaults to 3.
	ReadAttempts   uint
	InitialBackoff time.Duration
}

type Gatekeeper struct {
	store     docstore.Store
	reporter  errorlog.Reporter
	logger    *log.Logger
	tolerance float64
	attempts  uint
	backoff   time.Duration
	now       func() time.Time
}

func New(cfg Config) *Gatekeeper {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[readiness] ", log.LstdFlags)
	}
	if cfg.Reporter == nil {
		cfg.Reporter = errorlog.NewLogReporter(cfg.Logger)
	}
	if cfg.ReadAttempts == 0 {
		cfg.ReadAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 50 * time.Millisecond
	}
	return &Gatekeeper{
		store:     cfg.Store,
		reporter:  cfg.Reporter,
		logger:    cfg.Logger,
		tolerance: cfg.BaselineTolerance,
		attempts:  cfg.ReadAttempts,
		backoff:   cfg.InitialBackoff,
		now:       time.Now,
	}
}

// Assessment pairs a verdict with the typed documents it was computed from so
// the transformer sees exactly what was validated.
type Assessment struct {
	Verdict models.ReadinessVerdict
	Sources models.SourceSet
}

// Evaluate returns the readiness verdict for a prospect. An error is returned
// only when ctx ends before the reads complete.
func (g *Gatekeeper) Evaluate(ctx context.Context, prospectID string) (models.ReadinessVerdict, error) {
	a, err := g.Assess(ctx, prospectID)
	return a.Verdict, err
}

type readResult struct {
	raw []byte
	err error
}

func (g *Gatekeeper) Assess(ctx context.Context, prospectID string) (Assessment, error) {
	ctx, span := otel.Tracer("promotion-engine/readiness").Start(ctx, "readiness.assess")
	defer span.End()
	span.SetAttributes(attribute.String("prospect.id", prospectID))

	results := make([]readResult, len(models.SourceDocumentKinds))
	grp, gctx := errgroup.WithContext(ctx)
	for i, kind := range models.SourceDocumentKinds {
		grp.Go(func() error {
			raw, err := g.read(gctx, kind, prospectID)
			results[i] = readResult{raw: raw, err: err}
			return nil
		})
	}
	_ = grp.Wait()
	if err := ctx.Err(); err != nil {
		return Assessment{}, fmt.Errorf("evaluate %s: %w", prospectID, err)
	}

	v := models.ReadinessVerdict{
		ProspectID: prospectID,
		Errors:     []string{},
		Warnings:   []string{},
		Checks:     map[string]bool{},
	}
	var set models.SourceSet
	failed := map[models.DocumentKind]failure{}
	for i, kind := range models.SourceDocumentKinds {
		res := results[i]
		switch {
		case errors.Is(res.err, docstore.ErrNotFound):
		case res.err != nil:
			failed[kind] = failure{infra: true}
			v.InfrastructureErrors = append(v.InfrastructureErrors, fmt.Sprintf("%s: %v", kind, res.err))
			g.reporter.Report(ctx, errorlog.Report{
				ProspectID: prospectID,
				Process:    errorlog.ProcessDocumentRead,
				Severity:   models.SeverityHigh,
				Message:    fmt.Sprintf("infrastructure_error: read %s document: %v", kind, res.err),
			})
		default:
			if err := Decode(kind, res.raw, &set); err != nil {
				failed[kind] = failure{reason: err.Error()}
			}
		}
	}

	c := checker{verdict: &v, failed: failed, tolerance: g.tolerance}
	c.intake(set.Intake)
	c.projection(set.Projection)
	c.costSplit(set.CostSplit)
	c.compliance(set.Compliance)
	c.savings(set.Savings)
	c.integrity(set)

	v.CanPromote = len(v.Errors) == 0
	v.EvaluatedAt = g.now().UTC()
	span.SetAttributes(
		attribute.Bool("readiness.can_promote", v.CanPromote),
		attribute.Int("readiness.errors", len(v.Errors)),
		attribute.Int("readiness.warnings", len(v.Warnings)),
	)
	return Assessment{Verdict: v, Sources: set}, nil
}

// read fetches one document, retrying transient store failures. ErrNotFound
// is final.
func (g *Gatekeeper) read(ctx context.Context, kind models.DocumentKind, prospectID string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.backoff
	attempt := 0
	return backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		raw, err := g.store.GetDocument(ctx, kind, prospectID)
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, backoff.Permanent(err)
		}
		if err != nil && attempt > 1 {
			g.logger.Printf("read %s/%s attempt %d: %v", kind, prospectID, attempt, err)
		}
		return raw, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(g.attempts))
}

// failure describes why a document is unavailable: a store read that kept
// failing, or a body that did not decode.
type failure struct {
	infra  bool
	reason string
}

type checker struct {
	verdict   *models.ReadinessVerdict
	failed    map[models.DocumentKind]failure
	tolerance float64
}

func (c checker) errorf(format string, args ...any) {
	c.verdict.Errors = append(c.verdict.Errors, fmt.Sprintf(format, args...))
}

func (c checker) warnf(format string, args ...any) {
	c.verdict.Warnings = append(c.verdict.Warnings, fmt.Sprintf(format, args...))
}

// absent records the error for a document that is missing, unreadable or
// malformed and reports whether one was recorded.
func (c checker) absent(kind models.DocumentKind, present bool) bool {
	if present {
		return false
	}
	f, ok := c.failed[kind]
	switch {
	case ok && f.infra:
		c.errorf("%s: document not found (store read failed)", kind)
	case ok:
		c.verdict.Errors = append(c.verdict.Errors, f.reason)
	default:
		c.errorf("%s: document not found", kind)
	}
	c.verdict.Checks[string(kind)] = false
	return true
}

func (c checker) intake(d *models.IntakeDocument) {
	if c.absent(models.DocumentIntake, d != nil) {
		return
	}
	before := len(c.verdict.Errors)
	if !d.Validated {
		c.errorf("intake: document has not been validated")
	}
	if d.CompanyName == "" {
		c.errorf("intake: company name is required")
	}
	if _, ok := NormalizeState(d.State); !ok {
		c.errorf("intake: state %q is not a recognised state code", d.State)
	}
	switch {
	case d.EmployeeCount == nil:
		c.errorf("intake: employee count is required")
	case *d.EmployeeCount < 1:
		c.errorf("intake: employee count must be at least 1, got %d", *d.EmployeeCount)
	}
	switch {
	case d.TotalAnnualCost == nil:
		c.errorf("intake: total annual cost is required")
	case *d.TotalAnnualCost < 0:
		c.errorf("intake: total annual cost must be non-negative, got %.2f", *d.TotalAnnualCost)
	}
	if d.RenewalDate != "" {
		if _, err := ParseDate(d.RenewalDate); err != nil {
			c.errorf("intake: renewal date %q is not a valid date", d.RenewalDate)
		}
	}
	for i, e := range d.Census {
		if e.AnnualClaims == nil {
			c.errorf("intake: census[%d] annual claims is required", i)
		}
		if e.DateOfBirth != "" {
			if _, err := ParseDate(e.DateOfBirth); err != nil {
				c.errorf("intake: census[%d] date of birth %q is not a valid date", i, e.DateOfBirth)
			}
		}
	}
	c.verdict.Checks[CheckIntake] = len(c.verdict.Errors) == before
}

func (c checker) projection(d *models.ProjectionDocument) {
	if c.absent(models.DocumentProjection, d != nil) {
		return
	}
	before := len(c.verdict.Errors)
	for _, p := range []struct {
		name string
		v    *float64
	}{{"baseline", d.Baseline}, {"P10", d.P10}, {"P50", d.P50}, {"P90", d.P90}, {"volatility factor", d.VolatilityFactor}} {
		if p.v == nil {
			c.errorf("projection: %s value is missing", p.name)
		}
	}
	if d.Iterations == nil {
		c.errorf("projection: iterations value is missing")
	}
	c.verdict.Checks[CheckProjection] = len(c.verdict.Errors) == before
}

func (c checker) costSplit(d *models.CostSplitDocument) {
	if c.absent(models.DocumentCostSplit, d != nil) {
		return
	}
	before := len(c.verdict.Errors)
	c.utilizerGroup("high-cost", d.HighCost)
	c.utilizerGroup("low-cost", d.LowCost)
	c.verdict.Checks[CheckCostSplit] = len(c.verdict.Errors) == before
}

func (c checker) utilizerGroup(name string, g *models.UtilizerGroup) {
	switch {
	case g == nil:
		c.errorf("cost_split: %s utilizer group is missing", name)
		return
	case g.EmployeeCount == nil:
		c.errorf("cost_split: %s employee count is missing", name)
	}
	if g.TotalCost == nil {
		c.errorf("cost_split: %s total cost is missing", name)
	}
}

func (c checker) compliance(d *models.ComplianceDocument) {
	if c.absent(models.DocumentCompliance, d != nil) {
		return
	}
	before := len(c.verdict.Errors)
	if d.Requirements == nil {
		c.errorf("compliance: requirements collection is missing")
	}
	for i, r := range d.Requirements {
		if r.Code == "" && r.Title == "" {
			c.errorf("compliance: requirements[%d] has no code or title", i)
		}
		if !KnownRequirementLevel(r.Level) {
			c.errorf("compliance: requirements[%d] level %q is not federal, state or local", i, r.Level)
		}
	}
	c.verdict.Checks[CheckCompliance] = len(c.verdict.Errors) == before
}

func (c checker) savings(d *models.SavingsDocument) {
	if c.absent(models.DocumentSavings, d != nil) {
		return
	}
	before := len(c.verdict.Errors)
	if d.RetroTotal == nil {
		c.errorf("savings: retro scenario total is missing")
	}
	if d.RetroPercent == nil {
		c.errorf("savings: retro scenario percent is missing")
	}
	if d.ForwardTotal == nil {
		c.errorf("savings: forward scenario total is missing")
	}
	if d.ForwardPercent == nil {
		c.errorf("savings: forward scenario percent is missing")
	}
	if d.CombinedTotal == nil {
		c.errorf("savings: combined scenario total is missing")
	}
	c.verdict.Checks[CheckSavings] = len(c.verdict.Errors) == before
}

// integrity cross-checks documents. Mismatches are warnings only.
func (c checker) integrity(set models.SourceSet) {
	before := len(c.verdict.Warnings)
	if set.Intake != nil && set.Projection != nil && set.Intake.TotalAnnualCost != nil && set.Projection.Baseline != nil {
		total, baseline := *set.Intake.TotalAnnualCost, *set.Projection.Baseline
		diff := math.Abs(total - baseline)
		if (c.tolerance <= 0 && diff > 0) || (c.tolerance > 0 && diff >= c.tolerance) {
			c.warnf("integrity: intake total annual cost %.2f does not match projection baseline %.2f (difference %.2f)",
				total, baseline, diff)
		}
	}
	if set.Intake != nil && set.CostSplit != nil && set.Intake.EmployeeCount != nil &&
		set.CostSplit.HighCost != nil && set.CostSplit.LowCost != nil &&
		set.CostSplit.HighCost.EmployeeCount != nil && set.CostSplit.LowCost.EmployeeCount != nil {
		high, low := *set.CostSplit.HighCost.EmployeeCount, *set.CostSplit.LowCost.EmployeeCount
		if high+low != *set.Intake.EmployeeCount {
			c.warnf("integrity: cost split employee counts (%d high + %d low = %d) do not match intake employee count %d",
				high, low, high+low, *set.Intake.EmployeeCount)
		}
	}
	c.verdict.Checks[CheckIntegrity] = len(c.verdict.Warnings) == before
}
