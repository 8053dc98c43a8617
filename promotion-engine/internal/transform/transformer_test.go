package transform

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intakecalc/platform/promotion-engine/internal/blueprint"
	"github.com/intakecalc/platform/promotion-engine/internal/models"
	"github.com/intakecalc/platform/promotion-engine/internal/testfixtures"
)

func newTestTransformer(t *testing.T) *Transformer {
	t.Helper()
	bp, err := blueprint.Default()
	require.NoError(t, err)
	tr := New(bp)
	n := 0
	tr.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	tr.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return tr
}

func TestTransformChildrenShareClientID(t *testing.T) {
	tr := newTestTransformer(t)
	set := testfixtures.Sources(t, testfixtures.Complete())

	p, err := tr.Transform("p-1", set, "bp-hash")
	require.NoError(t, err)

	clientID := p.Client.ClientID
	assert.Equal(t, "id-1", clientID)
	require.Len(t, p.Employees, 3)
	for _, e := range p.Employees {
		assert.Equal(t, clientID, e.ClientID)
		assert.NotEqual(t, clientID, e.EmployeeID)
	}
	assert.Equal(t, clientID, p.ComplianceFlags.ClientID)
	assert.Equal(t, clientID, p.FinancialModel.ClientID)
	assert.Equal(t, clientID, p.SavingsScenario.ClientID)
}

func TestTransformMapsFields(t *testing.T) {
	tr := newTestTransformer(t)
	set := testfixtures.Sources(t, testfixtures.Complete())

	p, err := tr.Transform("p-1", set, "bp-hash")
	require.NoError(t, err)

	assert.Equal(t, "p-1", p.Client.ProspectID)
	assert.Equal(t, "Acme Fabrication", p.Client.CompanyName)
	assert.Equal(t, "CA", p.Client.State)
	assert.Equal(t, 3, p.Client.EmployeeCount)
	assert.Equal(t, 120000.0, p.Client.TotalAnnualCost)
	require.NotNil(t, p.Client.RenewalDate)
	assert.Equal(t, "2027-01-01", p.Client.RenewalDate.Format("2006-01-02"))

	assert.Equal(t, "E1", p.Employees[0].ExternalRef)
	assert.True(t, p.Employees[0].HighCost)
	assert.False(t, p.Employees[1].HighCost)
	assert.Nil(t, p.Employees[2].DateOfBirth)

	assert.Equal(t, []string{"COBRA"}, p.ComplianceFlags.FederalRequirements)
	assert.Equal(t, []string{"CAL-COBRA"}, p.ComplianceFlags.StateRequirements)
	assert.Equal(t, []string{"SF-HCSO"}, p.ComplianceFlags.LocalRequirements)
	assert.Equal(t, 3, p.ComplianceFlags.TotalRequirementCount)
	assert.False(t, p.ComplianceFlags.ACAApplicable)
	assert.True(t, p.ComplianceFlags.ERISAPlan)

	fm := p.FinancialModel
	assert.Equal(t, 105000.0, fm.P10Cost)
	assert.Equal(t, 121500.0, fm.P50Cost)
	assert.Equal(t, 150250.0, fm.P90Cost)
	assert.Equal(t, 10000, fm.Iterations)
	assert.Equal(t, 1, fm.HighCostCount)
	assert.Equal(t, 2, fm.LowCostCount)

	assert.Equal(t, 21000.0, p.SavingsScenario.CombinedTotal)

	assert.Equal(t, blueprint.SchemaVersion, p.Metadata.SchemaVersion)
	assert.Equal(t, "bp-hash", p.Metadata.BlueprintVersionHash)
	assert.Len(t, p.Metadata.ContentHash, 64)
}

func TestTransformContentHashFollowsData(t *testing.T) {
	tr := newTestTransformer(t)
	docs := testfixtures.Complete()
	a, err := tr.Transform("p-1", testfixtures.Sources(t, docs), "h")
	require.NoError(t, err)
	b, err := tr.Transform("p-1", testfixtures.Sources(t, docs), "h")
	require.NoError(t, err)
	assert.Equal(t, a.Metadata.ContentHash, b.Metadata.ContentHash)
	assert.NotEqual(t, a.Client.ClientID, b.Client.ClientID)

	docs[models.DocumentSavings]["combinedTotal"] = 22000.0
	c, err := tr.Transform("p-1", testfixtures.Sources(t, docs), "h")
	require.NoError(t, err)
	assert.NotEqual(t, a.Metadata.ContentHash, c.Metadata.ContentHash)
}

func TestTransformThresholds(t *testing.T) {
	tr := newTestTransformer(t)
	docs := testfixtures.Complete()
	docs[models.DocumentIntake]["employeeCount"] = 60
	delete(docs[models.DocumentCompliance], "acaEmployeeThreshold")
	docs[models.DocumentCompliance]["churchPlan"] = true

	p, err := tr.Transform("p-1", testfixtures.Sources(t, docs), "h")
	require.NoError(t, err)
	// Falls back to the blueprint threshold of 50.
	assert.True(t, p.ComplianceFlags.ACAApplicable)
	assert.False(t, p.ComplianceFlags.ERISAPlan)
}

func TestTransformRejectsMissingRequiredNumbers(t *testing.T) {
	cases := map[string]struct {
		kind  models.DocumentKind
		field string
	}{
		"total cost": {models.DocumentIntake, "totalAnnualCost"},
		"baseline":   {models.DocumentProjection, "baseline"},
		"iterations": {models.DocumentProjection, "iterations"},
		"volatility": {models.DocumentProjection, "volatilityFactor"},
		"low cost":   {models.DocumentCostSplit, "lowCost"},
		"retro pct":  {models.DocumentSavings, "retroPercent"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			docs := testfixtures.Complete()
			delete(docs[tc.kind], tc.field)
			_, err := newTestTransformer(t).Transform("p-1", testfixtures.Sources(t, docs), "h")
			assert.ErrorIs(t, err, ErrTransformation)
		})
	}
}

func TestTransformRejectsIncompleteSet(t *testing.T) {
	set := testfixtures.Sources(t, testfixtures.Complete())
	set.Savings = nil
	_, err := newTestTransformer(t).Transform("p-1", set, "h")
	assert.ErrorIs(t, err, ErrTransformation)
}

func TestTransformRejectsUnknownRequirementLevel(t *testing.T) {
	docs := testfixtures.Complete()
	docs[models.DocumentCompliance]["requirements"] = []any{map[string]any{"code": "X", "level": "galactic"}}
	_, err := newTestTransformer(t).Transform("p-1", testfixtures.Sources(t, docs), "h")
	assert.ErrorIs(t, err, ErrTransformation)
}
