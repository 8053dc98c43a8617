package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intakecalc/platform/promotion-engine/internal/models"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteDocumentRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	_, err := st.GetDocument(ctx, models.DocumentIntake, "p-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.PutDocument(ctx, models.DocumentIntake, "p-1", json.RawMessage(`{"companyName":"Acme"}`)))
	require.NoError(t, st.PutDocument(ctx, models.DocumentIntake, "p-1", json.RawMessage(`{"companyName":"Acme Co"}`)))

	body, err := st.GetDocument(ctx, models.DocumentIntake, "p-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"companyName":"Acme Co"}`, string(body))

	err = st.PutDocument(ctx, models.DocumentSavings, "p-1", json.RawMessage(`{broken`))
	assert.Error(t, err)
}

func TestSQLiteClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.NoError(t, st.PutProspect(ctx, models.Prospect{ProspectID: "p-1", Status: models.ProspectStatusClient}))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.ClaimForPromotion(ctx, "p-1")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claims)

	p, err := st.GetProspect(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, models.ProspectStatusPromoting, p.Status)
}

func TestSQLiteClaimRejectsLinkedClient(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.NoError(t, st.PutProspect(ctx, models.Prospect{
		ProspectID: "p-2",
		Status:     models.ProspectStatusClient,
		ClientID:   "c-existing",
	}))

	ok, err := st.ClaimForPromotion(ctx, "p-2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = st.ClaimForPromotion(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteUpdateProspect(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.NoError(t, st.PutProspect(ctx, models.Prospect{ProspectID: "p-3", Status: models.ProspectStatusPromoting}))

	clientID := "c-3"
	p, err := st.UpdateProspect(ctx, ProspectUpdate{
		ProspectID:     "p-3",
		Status:         models.ProspectStatusCompleted,
		ExpectedStatus: models.ProspectStatusPromoting,
		ClientID:       &clientID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProspectStatusCompleted, p.Status)
	assert.Equal(t, "c-3", p.ClientID)

	_, err = st.UpdateProspect(ctx, ProspectUpdate{
		ProspectID:     "p-3",
		Status:         models.ProspectStatusValidationFailed,
		ExpectedStatus: models.ProspectStatusPromoting,
	})
	assert.ErrorIs(t, err, ErrConflict)

	p, err = st.UpdateProspect(ctx, ProspectUpdate{
		ProspectID:       "p-3",
		Status:           models.ProspectStatusValidationFailed,
		ValidationErrors: []string{"intake: document missing"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"intake: document missing"}, p.ValidationErrors)
	assert.Equal(t, "c-3", p.ClientID)
}

func TestOpenSQLiteReportsOpenFailure(t *testing.T) {
	orig := openDB
	t.Cleanup(func() { openDB = orig })
	openDB = func(driverName, dataSourceName string) (*sql.DB, error) {
		return nil, errors.New("boom")
	}
	_, err := OpenSQLite(context.Background(), "ignored")
	assert.ErrorContains(t, err, "open sqlite")
}
