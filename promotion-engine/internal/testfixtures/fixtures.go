// Package testfixtures builds source document sets shared by package tests.
package testfixtures

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/intakecalc/platform/promotion-engine/internal/docstore"
	"github.com/intakecalc/platform/promotion-engine/internal/models"
)

// Documents holds editable JSON bodies keyed by collection.
type Documents map[models.DocumentKind]map[string]any

// Complete returns a consistent five-document set for a three person group.
func Complete() Documents {
	return Documents{
		models.DocumentIntake: {
			"validated":       true,
			"companyName":     "Acme Fabrication",
			"state":           "CA",
			"industry":        "manufacturing",
			"contactName":     "Dana Ortiz",
			"contactEmail":    "dana@acme.example",
			"employeeCount":   3,
			"totalAnnualCost": 120000.0,
			"renewalDate":     "2027-01-01",
			"census": []any{
				map[string]any{"employeeId": "E1", "firstName": "Ana", "lastName": "Lee", "dateOfBirth": "1980-04-02",
					"gender": "F", "zipCode": "94107", "coverageTier": "employee", "annualClaims": 60000.0},
				map[string]any{"employeeId": "E2", "firstName": "Raj", "lastName": "Patel", "dateOfBirth": "1990-11-20",
					"gender": "M", "zipCode": "94110", "coverageTier": "family", "annualClaims": 35000.0},
				map[string]any{"employeeId": "E3", "firstName": "Kim", "lastName": "Novak",
					"zipCode": "94016", "coverageTier": "employee_spouse", "annualClaims": 25000.0},
			},
		},
		models.DocumentProjection: {
			"validated":        true,
			"baseline":         120000.0,
			"p10":              105000.0,
			"p50":              121500.0,
			"p90":              150250.0,
			"iterations":       10000,
			"volatilityFactor": 0.18,
		},
		models.DocumentCostSplit: {
			"validated":        true,
			"thresholdPercent": 10.0,
			"highCost":         map[string]any{"employeeCount": 1, "totalCost": 60000.0, "employeeIds": []any{"E1"}},
			"lowCost":          map[string]any{"employeeCount": 2, "totalCost": 60000.0, "employeeIds": []any{"E2", "E3"}},
		},
		models.DocumentCompliance: {
			"validated":              true,
			"acaEmployeeThreshold":   50,
			"erisaEmployeeThreshold": 1,
			"evaluatedStates":        []any{"CA"},
			"requirements": []any{
				map[string]any{"code": "COBRA", "title": "COBRA continuation", "level": "federal"},
				map[string]any{"code": "CAL-COBRA", "title": "Cal-COBRA", "level": "state"},
				map[string]any{"code": "SF-HCSO", "title": "SF Health Care Security Ordinance", "level": "local"},
			},
		},
		models.DocumentSavings: {
			"validated":      true,
			"retroTotal":     9000.0,
			"retroPercent":   7.5,
			"forwardTotal":   12000.0,
			"forwardPercent": 10.0,
			"combinedTotal":  21000.0,
		},
	}
}

// Seed writes every document in docs for prospectID.
func Seed(t testing.TB, store docstore.Store, prospectID string, docs Documents) {
	t.Helper()
	for kind, body := range docs {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal %s: %v", kind, err)
		}
		if err := store.PutDocument(context.Background(), kind, prospectID, raw); err != nil {
			t.Fatalf("seed %s: %v", kind, err)
		}
	}
}

// SeedProspect stores the prospect record with the given status.
func SeedProspect(t testing.TB, store docstore.Store, prospectID string, status models.ProspectStatus) {
	t.Helper()
	if err := store.PutProspect(context.Background(), models.Prospect{ProspectID: prospectID, Status: status}); err != nil {
		t.Fatalf("seed prospect: %v", err)
	}
}

// Sources decodes docs into a typed set without going through a store.
func Sources(t testing.TB, docs Documents) models.SourceSet {
	t.Helper()
	raw, err := json.Marshal(docs)
	if err != nil {
		t.Fatalf("marshal documents: %v", err)
	}
	var set models.SourceSet
	if err := json.Unmarshal(raw, &set); err != nil {
		t.Fatalf("decode documents: %v", err)
	}
	return set
}
