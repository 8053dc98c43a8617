package errorlog

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/intakecalc/platform/promotion-engine/internal/models"
)

// PGReporter persists reports into the error_logs table. Insert failures are
// logged and dropped; reporting never blocks the pipeline.
type PGReporter struct {
	db     *sql.DB
	logger *log.Logger
}

func NewPGReporter(db *sql.DB, logger *log.Logger) *PGReporter {
	if logger == nil {
		logger = log.New(os.Stderr, "[errorlog.pg] ", log.LstdFlags)
	}
	return &PGReporter{db: db, logger: logger}
}

func (p *PGReporter) Report(ctx context.Context, r Report) {
	entry := NewEntry(r, 1)
	if err := p.Insert(ctx, entry); err != nil {
		p.logger.Printf("drop error report %s (%s): %v", entry.ErrorID, entry.Message, err)
	}
}

func (p *PGReporter) Insert(ctx context.Context, e models.ErrorLogEntry) error {
	const q = `
		INSERT INTO error_logs (error_id, prospect_id, client_id, process, message, severity,
			resolution_status, stack_trace, function_name, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`
	_, err := p.db.ExecContext(ctx, q,
		e.ErrorID, e.ProspectID, e.ClientID, e.Process, e.Message, string(e.Severity),
		string(e.ResolutionStatus), e.StackTrace, e.FunctionName, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert error log: %w", err)
	}
	return nil
}

// Unresolved lists open entries for a prospect, newest first.
func (p *PGReporter) Unresolved(ctx context.Context, prospectID string) ([]models.ErrorLogEntry, error) {
	const q = `
		SELECT error_id, prospect_id, client_id, process, message, severity, resolution_status,
			stack_trace, function_name, created_at, updated_at
		FROM error_logs
		WHERE prospect_id = $1 AND resolution_status = $2
		ORDER BY created_at DESC
	`
	rows, err := p.db.QueryContext(ctx, q, prospectID, string(models.ResolutionUnresolved))
	if err != nil {
		return nil, fmt.Errorf("list error logs: %w", err)
	}
	defer rows.Close()

	var out []models.ErrorLogEntry
	for rows.Next() {
		var e models.ErrorLogEntry
		var prospect, client, stack, function sql.NullString
		var severity, resolution string
		if err := rows.Scan(&e.ErrorID, &prospect, &client, &e.Process, &e.Message, &severity,
			&resolution, &stack, &function, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan error log: %w", err)
		}
		e.Severity = models.Severity(severity)
		e.ResolutionStatus = models.ResolutionStatus(resolution)
		e.ProspectID = nullable(prospect)
		e.ClientID = nullable(client)
		e.StackTrace = nullable(stack)
		e.FunctionName = nullable(function)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
