package destination_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intakecalc/platform/promotion-engine/internal/destination"
)

func TestParseStatement(t *testing.T) {
	st, err := destination.ParseStatement("SELECT client_id, prospect_id FROM clients WHERE prospect_id = $1")
	require.NoError(t, err)
	assert.Equal(t, "SELECT", st.Verb)
	assert.Equal(t, "clients", st.Table)
	assert.Equal(t, []string{"client_id", "prospect_id"}, st.Columns)
	assert.Equal(t, []string{"prospect_id"}, st.Where)

	st, err = destination.ParseStatement("select * from promotion_log where prospect_id = $1 and status = $2 order by created_at desc;")
	require.NoError(t, err)
	assert.Nil(t, st.Columns)
	assert.Equal(t, []string{"prospect_id", "status"}, st.Where)
	assert.Equal(t, "created_at", st.OrderBy)
	assert.True(t, st.OrderDesc)

	st, err = destination.ParseStatement("DELETE FROM employees WHERE client_id = $1")
	require.NoError(t, err)
	assert.Equal(t, "DELETE", st.Verb)

	for _, bad := range []string{
		"DROP TABLE clients",
		"DELETE FROM employees",
		"SELECT * FROM invoices",
		"SELECT * FROM clients WHERE prospect_id = $2",
		"SELECT * FROM clients WHERE prospect_id LIKE $1",
		"SELECT name; DROP FROM clients",
	} {
		_, err := destination.ParseStatement(bad)
		assert.Error(t, err, bad)
	}
}

func TestMemoryClientInsertAndQuery(t *testing.T) {
	ctx := context.Background()
	c := destination.NewMemoryClient()

	res, err := c.InsertOne(ctx, destination.TableClients, destination.Record{"client_id": "c-1", "prospect_id": "p-1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "c-1", res.GeneratedID)

	batch, err := c.InsertBatch(ctx, destination.TableEmployees, []destination.Record{
		{"client_id": "c-1", "employee_id": "e-1"},
		{"client_id": "c-1", "employee_id": "e-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Count)

	q, err := c.Query(ctx, "SELECT client_id FROM clients WHERE prospect_id = $1", "p-1")
	require.NoError(t, err)
	require.Len(t, q.Rows, 1)
	assert.Equal(t, "c-1", q.Rows[0]["client_id"])

	del, err := c.Query(ctx, "DELETE FROM employees WHERE client_id = $1", "c-1")
	require.NoError(t, err)
	assert.Equal(t, 2, del.Rows[0]["deleted"])
	assert.Empty(t, c.Rows(destination.TableEmployees))
}

func TestMemoryClientDistinguishesFailures(t *testing.T) {
	ctx := context.Background()
	c := destination.NewMemoryClient()
	c.TransportErrors[destination.TableEmployees] = errors.New("connection reset")
	c.Rejections[destination.TableSavingsScenarios] = "constraint violation"

	_, err := c.InsertBatch(ctx, destination.TableEmployees, []destination.Record{{"client_id": "c"}})
	var te *destination.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "insert_batch", te.Op)

	res, err := c.InsertOne(ctx, destination.TableSavingsScenarios, destination.Record{"client_id": "c"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "constraint violation", res.Message)

	c.Down = true
	assert.False(t, c.Health(ctx))
}

func TestMemoryClientEnforcesUniqueKeys(t *testing.T) {
	ctx := context.Background()
	c := destination.NewMemoryClient()

	res, err := c.InsertOne(ctx, destination.TableClients, destination.Record{"client_id": "c-1", "prospect_id": "p-1"})
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = c.InsertOne(ctx, destination.TableClients, destination.Record{"client_id": "c-2", "prospect_id": "p-1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "clients_prospect_id_key")
	assert.Len(t, c.Rows(destination.TableClients), 1)

	batch, err := c.InsertBatch(ctx, destination.TableEmployees, []destination.Record{
		{"employee_id": "e-1", "client_id": "c-1"},
		{"employee_id": "e-1", "client_id": "c-1"},
	})
	require.NoError(t, err)
	assert.False(t, batch.Success)
	assert.Empty(t, c.Rows(destination.TableEmployees))
}

func TestMemoryClientBatchLimit(t *testing.T) {
	c := destination.NewMemoryClient()
	c.BatchLimits[destination.TableEmployees] = 1

	batch, err := c.InsertBatch(context.Background(), destination.TableEmployees, []destination.Record{
		{"employee_id": "e-1", "client_id": "c-1"},
		{"employee_id": "e-2", "client_id": "c-1"},
	})
	require.NoError(t, err)
	assert.True(t, batch.Success)
	assert.Equal(t, 1, batch.Count)
	assert.Len(t, c.Rows(destination.TableEmployees), 1)
}

func TestRecordOfUsesJSONNames(t *testing.T) {
	r, err := destination.RecordOf(struct {
		ClientID string  `json:"client_id"`
		Total    float64 `json:"total_annual_cost"`
	}{"c-1", 10})
	require.NoError(t, err)
	assert.Equal(t, destination.Record{"client_id": "c-1", "total_annual_cost": 10.0}, r)
}

func TestStatementStringRoundTrips(t *testing.T) {
	for _, q := range []string{
		"SELECT client_id, prospect_id FROM clients WHERE prospect_id = $1",
		"SELECT * FROM promotion_log WHERE prospect_id = $1 AND status = $2 ORDER BY created_at DESC",
		"DELETE FROM employees WHERE client_id = $1",
	} {
		st, err := destination.ParseStatement(q)
		require.NoError(t, err)
		assert.Equal(t, q, st.String())
	}
}
