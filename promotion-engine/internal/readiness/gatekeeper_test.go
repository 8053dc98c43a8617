package readiness_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intakecalc/platform/promotion-engine/internal/docstore"
	"github.com/intakecalc/platform/promotion-engine/internal/errorlog"
	"github.com/intakecalc/platform/promotion-engine/internal/models"
	"github.com/intakecalc/platform/promotion-engine/internal/readiness"
	"github.com/intakecalc/platform/promotion-engine/internal/testfixtures"
)

func newGatekeeper(store docstore.Store, rep errorlog.Reporter) *readiness.Gatekeeper {
	return readiness.New(readiness.Config{
		Store:             store,
		Reporter:          rep,
		BaselineTolerance: 1.0,
		InitialBackoff:    time.Millisecond,
	})
}

func TestEvaluateCompleteProspect(t *testing.T) {
	store := docstore.NewMemoryStore()
	testfixtures.Seed(t, store, "p-1", testfixtures.Complete())

	v, err := newGatekeeper(store, nil).Evaluate(context.Background(), "p-1")
	require.NoError(t, err)
	assert.True(t, v.CanPromote)
	assert.Empty(t, v.Errors)
	assert.Empty(t, v.Warnings)
	for _, check := range []string{"intake", "projection", "cost_split", "compliance", "savings", "integrity"} {
		assert.True(t, v.Checks[check], check)
	}
}

func TestEvaluateMissingDocumentNamesIt(t *testing.T) {
	for _, kind := range models.SourceDocumentKinds {
		t.Run(string(kind), func(t *testing.T) {
			docs := testfixtures.Complete()
			delete(docs, kind)
			store := docstore.NewMemoryStore()
			testfixtures.Seed(t, store, "p-1", docs)

			v, err := newGatekeeper(store, nil).Evaluate(context.Background(), "p-1")
			require.NoError(t, err)
			assert.False(t, v.CanPromote)
			require.NotEmpty(t, v.Errors)
			assert.Contains(t, v.Errors, string(kind)+": document not found")
			assert.False(t, v.Checks[string(kind)])
		})
	}
}

func TestEvaluateBaselineMismatchIsWarning(t *testing.T) {
	docs := testfixtures.Complete()
	docs[models.DocumentIntake]["totalAnnualCost"] = 1000000.0
	docs[models.DocumentProjection]["baseline"] = 1000001.0
	store := docstore.NewMemoryStore()
	testfixtures.Seed(t, store, "p-1", docs)

	v, err := newGatekeeper(store, nil).Evaluate(context.Background(), "p-1")
	require.NoError(t, err)
	assert.True(t, v.CanPromote)
	assert.Empty(t, v.Errors)
	require.Len(t, v.Warnings, 1)
	assert.Contains(t, v.Warnings[0], "projection baseline")
	assert.False(t, v.Checks["integrity"])
}

func TestEvaluateBaselineWithinTolerance(t *testing.T) {
	docs := testfixtures.Complete()
	docs[models.DocumentIntake]["totalAnnualCost"] = 1000000.0
	docs[models.DocumentProjection]["baseline"] = 1000000.5
	store := docstore.NewMemoryStore()
	testfixtures.Seed(t, store, "p-1", docs)

	v, err := newGatekeeper(store, nil).Evaluate(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Empty(t, v.Warnings)
}

func TestEvaluateCostSplitCountMismatchIsWarning(t *testing.T) {
	docs := testfixtures.Complete()
	docs[models.DocumentIntake]["employeeCount"] = 100
	docs[models.DocumentCostSplit]["highCost"] = map[string]any{"employeeCount": 9, "totalCost": 500000.0}
	docs[models.DocumentCostSplit]["lowCost"] = map[string]any{"employeeCount": 90, "totalCost": 500000.0}
	store := docstore.NewMemoryStore()
	testfixtures.Seed(t, store, "p-1", docs)

	v, err := newGatekeeper(store, nil).Evaluate(context.Background(), "p-1")
	require.NoError(t, err)
	assert.True(t, v.CanPromote)
	require.Len(t, v.Warnings, 1)
	assert.Contains(t, v.Warnings[0], "9 high + 90 low = 99")
	assert.Contains(t, v.Warnings[0], "100")
}

func TestEvaluateIntakeRules(t *testing.T) {
	cases := map[string]struct {
		field string
		value any
		want  string
	}{
		"not validated":  {"validated", false, "intake: document has not been validated"},
		"no company":     {"companyName", "", "intake: company name is required"},
		"bad state":      {"state", "Atlantis", `intake: state "Atlantis" is not a recognised state code`},
		"zero employees": {"employeeCount", 0, "intake: employee count must be at least 1, got 0"},
		"negative cost":  {"totalAnnualCost", -1.0, "intake: total annual cost must be non-negative, got -1.00"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			docs := testfixtures.Complete()
			docs[models.DocumentIntake][tc.field] = tc.value
			store := docstore.NewMemoryStore()
			testfixtures.Seed(t, store, "p-1", docs)

			v, err := newGatekeeper(store, nil).Evaluate(context.Background(), "p-1")
			require.NoError(t, err)
			assert.False(t, v.CanPromote)
			assert.Contains(t, v.Errors, tc.want)
			assert.False(t, v.Checks["intake"])
		})
	}
}

func TestEvaluateAcceptsFullStateName(t *testing.T) {
	docs := testfixtures.Complete()
	docs[models.DocumentIntake]["state"] = "new york"
	store := docstore.NewMemoryStore()
	testfixtures.Seed(t, store, "p-1", docs)

	v, err := newGatekeeper(store, nil).Evaluate(context.Background(), "p-1")
	require.NoError(t, err)
	assert.True(t, v.CanPromote)
}

func TestEvaluateShapeRules(t *testing.T) {
	cases := map[string]struct {
		kind  models.DocumentKind
		field string
		want  string
	}{
		"projection p50": {models.DocumentProjection, "p50", "projection: P50 value is missing"},
		"high cost":      {models.DocumentCostSplit, "highCost", "cost_split: high-cost utilizer group is missing"},
		"requirements":   {models.DocumentCompliance, "requirements", "compliance: requirements collection is missing"},
		"combined":       {models.DocumentSavings, "combinedTotal", "savings: combined scenario total is missing"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			docs := testfixtures.Complete()
			delete(docs[tc.kind], tc.field)
			store := docstore.NewMemoryStore()
			testfixtures.Seed(t, store, "p-1", docs)

			v, err := newGatekeeper(store, nil).Evaluate(context.Background(), "p-1")
			require.NoError(t, err)
			assert.False(t, v.CanPromote)
			assert.Contains(t, v.Errors, tc.want)
		})
	}
}

func TestEvaluateEmptyRequirementsIsValid(t *testing.T) {
	docs := testfixtures.Complete()
	docs[models.DocumentCompliance]["requirements"] = []any{}
	store := docstore.NewMemoryStore()
	testfixtures.Seed(t, store, "p-1", docs)

	v, err := newGatekeeper(store, nil).Evaluate(context.Background(), "p-1")
	require.NoError(t, err)
	assert.True(t, v.CanPromote)
}

func TestEvaluateMalformedDocument(t *testing.T) {
	store := docstore.NewMemoryStore()
	testfixtures.Seed(t, store, "p-1", testfixtures.Complete())
	require.NoError(t, store.PutDocument(context.Background(), models.DocumentSavings, "p-1",
		json.RawMessage(`{"retroTotal":"lots"}`)))

	v, err := newGatekeeper(store, nil).Evaluate(context.Background(), "p-1")
	require.NoError(t, err)
	assert.False(t, v.CanPromote)
	require.Len(t, v.Errors, 1)
	assert.Contains(t, v.Errors[0], "savings: document is malformed")
	assert.Empty(t, v.InfrastructureErrors)
}

func TestEvaluateReadFailureReportedAsInfrastructure(t *testing.T) {
	store := docstore.NewMemoryStore()
	testfixtures.Seed(t, store, "p-1", testfixtures.Complete())
	store.ReadErr[models.DocumentCompliance] = errors.New("connection refused")
	rep := errorlog.NewMemoryReporter()

	v, err := newGatekeeper(store, rep).Evaluate(context.Background(), "p-1")
	require.NoError(t, err)
	assert.False(t, v.CanPromote)
	assert.Contains(t, v.Errors, "compliance: document not found (store read failed)")
	require.Len(t, v.InfrastructureErrors, 1)

	entries := rep.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.SeverityHigh, entries[0].Severity)
	assert.Equal(t, "document_read", entries[0].Process)
	assert.Contains(t, entries[0].Message, "infrastructure_error")
}

// flakyStore fails the first reads of one document kind.
type flakyStore struct {
	*docstore.MemoryStore
	mu       sync.Mutex
	kind     models.DocumentKind
	failures int
	calls    int
}

func (f *flakyStore) GetDocument(ctx context.Context, kind models.DocumentKind, id string) (json.RawMessage, error) {
	if kind == f.kind {
		f.mu.Lock()
		f.calls++
		fail := f.calls <= f.failures
		f.mu.Unlock()
		if fail {
			return nil, errors.New("timeout")
		}
	}
	return f.MemoryStore.GetDocument(ctx, kind, id)
}

func TestEvaluateRetriesTransientReads(t *testing.T) {
	mem := docstore.NewMemoryStore()
	testfixtures.Seed(t, mem, "p-1", testfixtures.Complete())
	store := &flakyStore{MemoryStore: mem, kind: models.DocumentProjection, failures: 2}
	rep := errorlog.NewMemoryReporter()

	v, err := newGatekeeper(store, rep).Evaluate(context.Background(), "p-1")
	require.NoError(t, err)
	assert.True(t, v.CanPromote)
	assert.Equal(t, 3, store.calls)
	assert.Empty(t, rep.Entries())
}

func TestEvaluateNotFoundIsNotRetried(t *testing.T) {
	mem := docstore.NewMemoryStore()
	store := &flakyStore{MemoryStore: mem, kind: models.DocumentIntake}

	v, err := newGatekeeper(store, nil).Evaluate(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)
	assert.Len(t, v.Errors, 5)
}

func TestEvaluateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newGatekeeper(docstore.NewMemoryStore(), nil).Evaluate(ctx, "p-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeState(t *testing.T) {
	code, ok := readiness.NormalizeState("tx")
	assert.True(t, ok)
	assert.Equal(t, "TX", code)
	code, ok = readiness.NormalizeState("  District of  Columbia ")
	assert.True(t, ok)
	assert.Equal(t, "DC", code)
	_, ok = readiness.NormalizeState("ZZ")
	assert.False(t, ok)
}
