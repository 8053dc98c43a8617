package errorlog

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intakecalc/platform/promotion-engine/internal/models"
)

func TestNewEntryDefaults(t *testing.T) {
	e := NewEntry(Report{Process: ProcessDestination, Message: "employees insert failed"}, 0)
	assert.NotEmpty(t, e.ErrorID)
	assert.Equal(t, models.SeverityMedium, e.Severity)
	assert.Equal(t, models.ResolutionUnresolved, e.ResolutionStatus)
	assert.Nil(t, e.ProspectID)
	assert.Nil(t, e.StackTrace)
	require.NotNil(t, e.FunctionName)
	assert.Contains(t, *e.FunctionName, "TestNewEntryDefaults")

	crit := NewEntry(Report{ProspectID: "p-1", Severity: models.SeverityCritical, Message: "x"}, 0)
	require.NotNil(t, crit.ProspectID)
	assert.Equal(t, "p-1", *crit.ProspectID)
	assert.NotNil(t, crit.StackTrace)
}

func TestPGReporterInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO error_logs").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "destination_write", "boom", "high",
			"unresolved", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rep := NewPGReporter(db, nil)
	rep.Report(context.Background(), Report{
		ProspectID: "p-1",
		Process:    ProcessDestination,
		Message:    "boom",
		Severity:   models.SeverityHigh,
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGReporterSwallowsInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO error_logs").WillReturnError(errors.New("db down"))

	var buf bytes.Buffer
	rep := NewPGReporter(db, log.New(&buf, "", 0))
	rep.Report(context.Background(), Report{Process: ProcessFinalize, Message: "lost"})

	assert.Contains(t, buf.String(), "db down")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGReporterUnresolved(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"error_id", "prospect_id", "client_id", "process", "message", "severity",
		"resolution_status", "stack_trace", "function_name", "created_at", "updated_at"}).
		AddRow("e-1", "p-1", nil, "readiness_check", "intake missing", "medium", "unresolved", nil, "fn", now, now)
	mock.ExpectQuery("SELECT error_id, prospect_id").WithArgs("p-1", "unresolved").WillReturnRows(rows)

	out, err := NewPGReporter(db, nil).Unresolved(context.Background(), "p-1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "e-1", out[0].ErrorID)
	assert.Nil(t, out[0].ClientID)
	require.NotNil(t, out[0].FunctionName)
	assert.Equal(t, "fn", *out[0].FunctionName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMultiFansOut(t *testing.T) {
	mem := NewMemoryReporter()
	var buf bytes.Buffer
	Multi{mem, NewLogReporter(log.New(&buf, "", 0)), nil}.Report(context.Background(), Report{
		ProspectID: "p-9",
		Process:    ProcessTrigger,
		Message:    "duplicate trigger",
		Severity:   models.SeverityLow,
	})
	require.Len(t, mem.Entries(), 1)
	assert.Contains(t, buf.String(), "prospect=p-9")
}
