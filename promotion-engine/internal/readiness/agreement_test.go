package readiness_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intakecalc/platform/promotion-engine/internal/blueprint"
	"github.com/intakecalc/platform/promotion-engine/internal/docstore"
	"github.com/intakecalc/platform/promotion-engine/internal/models"
	"github.com/intakecalc/platform/promotion-engine/internal/testfixtures"
	"github.com/intakecalc/platform/promotion-engine/internal/transform"
)

func census(docs testfixtures.Documents, i int) map[string]any {
	return docs[models.DocumentIntake]["census"].([]any)[i].(map[string]any)
}

func requirement(docs testfixtures.Documents, i int) map[string]any {
	return docs[models.DocumentCompliance]["requirements"].([]any)[i].(map[string]any)
}

func group(docs testfixtures.Documents, name string) map[string]any {
	return docs[models.DocumentCostSplit][name].(map[string]any)
}

// An approved verdict must always transform, and every field the transformer
// needs must surface as a verdict error naming its document.
func TestApprovedDocumentsAlwaysTransform(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(testfixtures.Documents)
		approve bool
		want    string
	}{
		{"projection baseline", func(d testfixtures.Documents) { delete(d[models.DocumentProjection], "baseline") }, false, "projection: baseline value is missing"},
		{"projection iterations", func(d testfixtures.Documents) { delete(d[models.DocumentProjection], "iterations") }, false, "projection: iterations value is missing"},
		{"projection volatility", func(d testfixtures.Documents) { delete(d[models.DocumentProjection], "volatilityFactor") }, false, "projection: volatility factor value is missing"},
		{"high cost total", func(d testfixtures.Documents) { delete(group(d, "highCost"), "totalCost") }, false, "cost_split: high-cost total cost is missing"},
		{"low cost count", func(d testfixtures.Documents) { delete(group(d, "lowCost"), "employeeCount") }, false, "cost_split: low-cost employee count is missing"},
		{"retro percent", func(d testfixtures.Documents) { delete(d[models.DocumentSavings], "retroPercent") }, false, "savings: retro scenario percent is missing"},
		{"forward percent", func(d testfixtures.Documents) { delete(d[models.DocumentSavings], "forwardPercent") }, false, "savings: forward scenario percent is missing"},
		{"annual claims", func(d testfixtures.Documents) { delete(census(d, 0), "annualClaims") }, false, "intake: census[0] annual claims is required"},
		{"date of birth", func(d testfixtures.Documents) { census(d, 1)["dateOfBirth"] = "someday" }, false, `intake: census[1] date of birth "someday" is not a valid date`},
		{"requirement level", func(d testfixtures.Documents) { requirement(d, 0)["level"] = "regional" }, false, `compliance: requirements[0] level "regional" is not federal, state or local`},
		{"requirement name", func(d testfixtures.Documents) {
			delete(requirement(d, 2), "code")
			delete(requirement(d, 2), "title")
		}, false, "compliance: requirements[2] has no code or title"},
		{"requirement title only", func(d testfixtures.Documents) { delete(requirement(d, 1), "code") }, true, ""},
		{"no industry", func(d testfixtures.Documents) { delete(d[models.DocumentIntake], "industry") }, true, ""},
		{"no renewal date", func(d testfixtures.Documents) { delete(d[models.DocumentIntake], "renewalDate") }, true, ""},
		{"no census", func(d testfixtures.Documents) { delete(d[models.DocumentIntake], "census") }, true, ""},
		{"no aca threshold", func(d testfixtures.Documents) { delete(d[models.DocumentCompliance], "acaEmployeeThreshold") }, true, ""},
	}
	bp, err := blueprint.Default()
	require.NoError(t, err)
	tr := transform.New(bp)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			docs := testfixtures.Complete()
			tc.mutate(docs)
			store := docstore.NewMemoryStore()
			testfixtures.Seed(t, store, "p-1", docs)

			a, err := newGatekeeper(store, nil).Assess(context.Background(), "p-1")
			require.NoError(t, err)
			_, terr := tr.Transform("p-1", a.Sources, "bp-hash")

			assert.Equal(t, tc.approve, a.Verdict.CanPromote, a.Verdict.Errors)
			assert.Equal(t, a.Verdict.CanPromote, terr == nil, "verdict and transform disagree: %v", terr)
			if tc.want != "" {
				assert.Contains(t, a.Verdict.Errors, tc.want)
			}
		})
	}
}
