// Package transform maps a readiness-approved source set onto the normalized
// destination payload.
package transform

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/intakecalc/platform/promotion-engine/internal/blueprint"
	"github.com/intakecalc/platform/promotion-engine/internal/canonical"
	"github.com/intakecalc/platform/promotion-engine/internal/models"
	"github.com/intakecalc/platform/promotion-engine/internal/readiness"
)

// ErrTransformation marks a source set that cannot be mapped. Callers should
// only see it when validation was skipped or is out of step with mapping.
var ErrTransformation = errors.New("transformation error")

type Transformer struct {
	thresholds blueprint.Thresholds
	now        func() time.Time
	newID      func() string
}

func New(bp blueprint.Blueprint) *Transformer {
	return &Transformer{
		thresholds: bp.Thresholds,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Transform builds the full payload or returns an error wrapping
// ErrTransformation. It never returns a partial payload.
func (t *Transformer) Transform(prospectID string, set models.SourceSet, blueprintHash string) (models.DestinationPayload, error) {
	if set.Intake == nil || set.Projection == nil || set.CostSplit == nil || set.Compliance == nil || set.Savings == nil {
		return models.DestinationPayload{}, fmt.Errorf("%w: source set is incomplete", ErrTransformation)
	}
	ts := t.now().UTC()
	clientID := t.newID()

	client, err := t.client(clientID, prospectID, set.Intake, ts)
	if err != nil {
		return models.DestinationPayload{}, err
	}
	employees, err := t.employees(clientID, set.Intake.Census, set.CostSplit)
	if err != nil {
		return models.DestinationPayload{}, err
	}
	flags, err := t.complianceFlags(clientID, client.EmployeeCount, set.Compliance)
	if err != nil {
		return models.DestinationPayload{}, err
	}
	fm, err := financialModel(clientID, set.Projection, set.CostSplit)
	if err != nil {
		return models.DestinationPayload{}, err
	}
	savings, err := savingsScenario(clientID, set.Savings)
	if err != nil {
		return models.DestinationPayload{}, err
	}
	contentHash, err := canonical.Fingerprint(set)
	if err != nil {
		return models.DestinationPayload{}, fmt.Errorf("%w: %v", ErrTransformation, err)
	}

	return models.DestinationPayload{
		Client:          client,
		Employees:       employees,
		ComplianceFlags: flags,
		FinancialModel:  fm,
		SavingsScenario: savings,
		Metadata: models.PromotionMetadata{
			ProspectID:           prospectID,
			PromotionTimestamp:   ts,
			SchemaVersion:        blueprint.SchemaVersion,
			BlueprintVersionHash: blueprintHash,
			ContentHash:          contentHash,
		},
	}, nil
}

func missing(record, field string) error {
	return fmt.Errorf("%w: %s.%s is required", ErrTransformation, record, field)
}

func (t *Transformer) client(clientID, prospectID string, in *models.IntakeDocument, ts time.Time) (models.ClientRecord, error) {
	if in.CompanyName == "" {
		return models.ClientRecord{}, missing("client", "company_name")
	}
	state, ok := readiness.NormalizeState(in.State)
	if !ok {
		return models.ClientRecord{}, fmt.Errorf("%w: client.state %q is not a state code", ErrTransformation, in.State)
	}
	if in.EmployeeCount == nil {
		return models.ClientRecord{}, missing("client", "employee_count")
	}
	if in.TotalAnnualCost == nil {
		return models.ClientRecord{}, missing("client", "total_annual_cost")
	}
	rec := models.ClientRecord{
		ClientID:           clientID,
		ProspectID:         prospectID,
		CompanyName:        in.CompanyName,
		State:              state,
		Industry:           in.Industry,
		ContactName:        in.ContactName,
		ContactEmail:       in.ContactEmail,
		EmployeeCount:      *in.EmployeeCount,
		TotalAnnualCost:    *in.TotalAnnualCost,
		PromotionTimestamp: ts,
	}
	if in.RenewalDate != "" {
		d, err := readiness.ParseDate(in.RenewalDate)
		if err != nil {
			return models.ClientRecord{}, fmt.Errorf("%w: client.renewal_date: %v", ErrTransformation, err)
		}
		rec.RenewalDate = &d
	}
	return rec, nil
}

func (t *Transformer) employees(clientID string, census []models.CensusEntry, split *models.CostSplitDocument) ([]models.EmployeeRecord, error) {
	highCost := map[string]bool{}
	if split.HighCost != nil {
		for _, id := range split.HighCost.EmployeeIDs {
			highCost[id] = true
		}
	}
	out := make([]models.EmployeeRecord, 0, len(census))
	for i, e := range census {
		if e.AnnualClaims == nil {
			return nil, fmt.Errorf("%w: employees[%d].annual_claims is required", ErrTransformation, i)
		}
		rec := models.EmployeeRecord{
			EmployeeID:   t.newID(),
			ClientID:     clientID,
			ExternalRef:  e.EmployeeID,
			FirstName:    e.FirstName,
			LastName:     e.LastName,
			Gender:       e.Gender,
			ZipCode:      e.ZipCode,
			CoverageTier: e.CoverageTier,
			AnnualClaims: *e.AnnualClaims,
			HighCost:     e.EmployeeID != "" && highCost[e.EmployeeID],
		}
		if e.DateOfBirth != "" {
			dob, err := readiness.ParseDate(e.DateOfBirth)
			if err != nil {
				return nil, fmt.Errorf("%w: employees[%d].date_of_birth: %v", ErrTransformation, i, err)
			}
			rec.DateOfBirth = &dob
		}
		out = append(out, rec)
	}
	return out, nil
}

func (t *Transformer) complianceFlags(clientID string, employeeCount int, doc *models.ComplianceDocument) (models.ComplianceFlagsRecord, error) {
	rec := models.ComplianceFlagsRecord{
		ClientID:            clientID,
		FederalRequirements: []string{},
		StateRequirements:   []string{},
		LocalRequirements:   []string{},
	}
	for i, r := range doc.Requirements {
		name := r.Code
		if name == "" {
			name = r.Title
		}
		if name == "" {
			return models.ComplianceFlagsRecord{}, fmt.Errorf("%w: requirements[%d] has no code or title", ErrTransformation, i)
		}
		switch strings.ToLower(r.Level) {
		case "federal":
			rec.FederalRequirements = append(rec.FederalRequirements, name)
		case "state":
			rec.StateRequirements = append(rec.StateRequirements, name)
		case "local":
			rec.LocalRequirements = append(rec.LocalRequirements, name)
		default:
			return models.ComplianceFlagsRecord{}, fmt.Errorf("%w: requirements[%d] has unknown level %q", ErrTransformation, i, r.Level)
		}
	}
	rec.TotalRequirementCount = len(rec.FederalRequirements) + len(rec.StateRequirements) + len(rec.LocalRequirements)

	// Thresholds decided by the compliance engine win over the blueprint.
	aca, erisa := t.thresholds.ACAEmployees, t.thresholds.ERISAEmployees
	if doc.ACAThreshold != nil {
		aca = *doc.ACAThreshold
	}
	if doc.ERISAThreshold != nil {
		erisa = *doc.ERISAThreshold
	}
	rec.ACAApplicable = employeeCount >= aca
	rec.ERISAPlan = employeeCount >= erisa && !doc.GovernmentPlan && !doc.ChurchPlan
	return rec, nil
}

func financialModel(clientID string, p *models.ProjectionDocument, split *models.CostSplitDocument) (models.FinancialModelRecord, error) {
	floats := []struct {
		name string
		v    *float64
	}{
		{"baseline_cost", p.Baseline},
		{"p10_cost", p.P10},
		{"p50_cost", p.P50},
		{"p90_cost", p.P90},
		{"volatility_factor", p.VolatilityFactor},
	}
	for _, f := range floats {
		if f.v == nil {
			return models.FinancialModelRecord{}, missing("financial_model", f.name)
		}
	}
	if p.Iterations == nil {
		return models.FinancialModelRecord{}, missing("financial_model", "iterations")
	}
	high, err := group("high_cost", split.HighCost)
	if err != nil {
		return models.FinancialModelRecord{}, err
	}
	low, err := group("low_cost", split.LowCost)
	if err != nil {
		return models.FinancialModelRecord{}, err
	}
	return models.FinancialModelRecord{
		ClientID:            clientID,
		BaselineCost:        *p.Baseline,
		P10Cost:             *p.P10,
		P50Cost:             *p.P50,
		P90Cost:             *p.P90,
		Iterations:          *p.Iterations,
		VolatilityFactor:    *p.VolatilityFactor,
		HighCostCount:       *high.EmployeeCount,
		HighCostTotal:       *high.TotalCost,
		LowCostCount:        *low.EmployeeCount,
		LowCostTotal:        *low.TotalCost,
		HighCostThresholdPc: split.ThresholdPercent,
	}, nil
}

func group(name string, g *models.UtilizerGroup) (*models.UtilizerGroup, error) {
	switch {
	case g == nil:
		return nil, missing("financial_model", name)
	case g.EmployeeCount == nil:
		return nil, missing("financial_model", name+"_count")
	case g.TotalCost == nil:
		return nil, missing("financial_model", name+"_total")
	}
	return g, nil
}

func savingsScenario(clientID string, s *models.SavingsDocument) (models.SavingsScenarioRecord, error) {
	fields := []struct {
		name string
		v    *float64
	}{
		{"retro_total", s.RetroTotal},
		{"retro_percent", s.RetroPercent},
		{"forward_total", s.ForwardTotal},
		{"forward_percent", s.ForwardPercent},
		{"combined_total", s.CombinedTotal},
	}
	for _, f := range fields {
		if f.v == nil {
			return models.SavingsScenarioRecord{}, missing("savings_scenario", f.name)
		}
	}
	return models.SavingsScenarioRecord{
		ClientID:       clientID,
		RetroTotal:     *s.RetroTotal,
		RetroPercent:   *s.RetroPercent,
		ForwardTotal:   *s.ForwardTotal,
		ForwardPercent: *s.ForwardPercent,
		CombinedTotal:  *s.CombinedTotal,
	}, nil
}
