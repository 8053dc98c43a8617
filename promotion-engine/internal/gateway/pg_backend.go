package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/intakecalc/platform/promotion-engine/internal/destination"
)

type colKind int

const (
	colText colKind = iota
	colNumeric
	colInt
	colBool
	colJSON
	colTime
)

// columns is the column whitelist per destination table. Statements never
// interpolate identifiers that are not listed here.
var columns = map[string]map[string]colKind{
	destination.TableClients: {
		"client_id": colText, "prospect_id": colText, "company_name": colText, "state": colText,
		"industry": colText, "contact_name": colText, "contact_email": colText,
		"employee_count": colInt, "total_annual_cost": colNumeric,
		"renewal_date": colTime, "promotion_timestamp": colTime,
	},
	destination.TableEmployees: {
		"employee_id": colText, "client_id": colText, "external_ref": colText,
		"first_name": colText, "last_name": colText, "date_of_birth": colTime,
		"gender": colText, "zip_code": colText, "coverage_tier": colText,
		"annual_claims": colNumeric, "high_cost": colBool,
	},
	destination.TableComplianceFlags: {
		"client_id": colText, "federal_requirements": colJSON, "state_requirements": colJSON,
		"local_requirements": colJSON, "aca_applicable": colBool, "erisa_plan": colBool,
		"total_requirement_count": colInt,
	},
	destination.TableFinancialModels: {
		"client_id": colText, "baseline_cost": colNumeric, "p10_cost": colNumeric,
		"p50_cost": colNumeric, "p90_cost": colNumeric, "iterations": colInt,
		"volatility_factor": colNumeric, "high_cost_count": colInt, "high_cost_total": colNumeric,
		"low_cost_count": colInt, "low_cost_total": colNumeric, "high_cost_threshold_pct": colNumeric,
	},
	destination.TableSavingsScenarios: {
		"client_id": colText, "retro_total": colNumeric, "retro_percent": colNumeric,
		"forward_total": colNumeric, "forward_percent": colNumeric, "combined_total": colNumeric,
	},
	destination.TablePromotionLog: {
		"promotion_id": colText, "prospect_id": colText, "client_id": colText, "status": colText,
		"stage": colText, "error_message": colText, "warnings": colJSON, "inserted_counts": colJSON,
		"blueprint_version_hash": colText, "created_at": colTime,
	},
}

var returning = map[string]string{
	destination.TableClients:      "client_id",
	destination.TableEmployees:    "employee_id",
	destination.TablePromotionLog: "promotion_id",
}

const schema = `
CREATE TABLE IF NOT EXISTS clients (
  client_id text PRIMARY KEY,
  prospect_id text NOT NULL UNIQUE,
  company_name text NOT NULL,
  state char(2) NOT NULL,
  industry text,
  contact_name text,
  contact_email text,
  employee_count integer NOT NULL CHECK (employee_count >= 1),
  total_annual_cost numeric(14,2) NOT NULL CHECK (total_annual_cost >= 0),
  renewal_date timestamptz,
  promotion_timestamp timestamptz NOT NULL
);
CREATE TABLE IF NOT EXISTS employees (
  employee_id text PRIMARY KEY,
  client_id text NOT NULL REFERENCES clients (client_id) ON DELETE CASCADE,
  external_ref text,
  first_name text,
  last_name text,
  date_of_birth timestamptz,
  gender text,
  zip_code text,
  coverage_tier text,
  annual_claims numeric(14,2) NOT NULL,
  high_cost boolean NOT NULL DEFAULT false
);
CREATE INDEX IF NOT EXISTS idx_employees_client ON employees (client_id);
CREATE TABLE IF NOT EXISTS compliance_flags (
  client_id text PRIMARY KEY REFERENCES clients (client_id) ON DELETE CASCADE,
  federal_requirements jsonb NOT NULL DEFAULT '[]',
  state_requirements jsonb NOT NULL DEFAULT '[]',
  local_requirements jsonb NOT NULL DEFAULT '[]',
  aca_applicable boolean NOT NULL,
  erisa_plan boolean NOT NULL,
  total_requirement_count integer NOT NULL
);
CREATE TABLE IF NOT EXISTS financial_models (
  client_id text PRIMARY KEY REFERENCES clients (client_id) ON DELETE CASCADE,
  baseline_cost numeric(14,2) NOT NULL,
  p10_cost numeric(14,2) NOT NULL,
  p50_cost numeric(14,2) NOT NULL,
  p90_cost numeric(14,2) NOT NULL,
  iterations integer NOT NULL,
  volatility_factor numeric(8,4) NOT NULL,
  high_cost_count integer NOT NULL,
  high_cost_total numeric(14,2) NOT NULL,
  low_cost_count integer NOT NULL,
  low_cost_total numeric(14,2) NOT NULL,
  high_cost_threshold_pct numeric(6,2)
);
CREATE TABLE IF NOT EXISTS savings_scenarios (
  client_id text PRIMARY KEY REFERENCES clients (client_id) ON DELETE CASCADE,
  retro_total numeric(14,2) NOT NULL,
  retro_percent numeric(8,4) NOT NULL,
  forward_total numeric(14,2) NOT NULL,
  forward_percent numeric(8,4) NOT NULL,
  combined_total numeric(14,2) NOT NULL
);
CREATE TABLE IF NOT EXISTS promotion_log (
  promotion_id text PRIMARY KEY,
  prospect_id text NOT NULL,
  client_id text,
  status text NOT NULL,
  stage text,
  error_message text,
  warnings jsonb NOT NULL DEFAULT '[]',
  inserted_counts jsonb NOT NULL DEFAULT '{}',
  blueprint_version_hash text,
  created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_promotion_log_prospect ON promotion_log (prospect_id, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS uniq_promotion_log_completed ON promotion_log (prospect_id) WHERE status = 'completed';
CREATE TABLE IF NOT EXISTS error_logs (
  error_id text PRIMARY KEY,
  prospect_id text,
  client_id text,
  process text NOT NULL,
  message text NOT NULL,
  severity text NOT NULL,
  resolution_status text NOT NULL DEFAULT 'unresolved',
  stack_trace text,
  function_name text,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_error_logs_prospect ON error_logs (prospect_id, created_at DESC);
`

// PGBackend serves gateway calls from Postgres.
type PGBackend struct {
	db *sql.DB
}

func NewPGBackend(db *sql.DB) *PGBackend {
	return &PGBackend{db: db}
}

// EnsureSchema creates the destination tables when missing.
func (p *PGBackend) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *PGBackend) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PGBackend) InsertOne(ctx context.Context, table string, record destination.Record) (string, error) {
	q, args, err := insertStatement(table, record)
	if err != nil {
		return "", err
	}
	idCol, ok := returning[table]
	if !ok {
		if _, err := p.db.ExecContext(ctx, q, args...); err != nil {
			return "", fmt.Errorf("insert %s: %w", table, err)
		}
		return "", nil
	}
	var id string
	if err := p.db.QueryRowContext(ctx, q+" RETURNING "+idCol, args...).Scan(&id); err != nil {
		return "", fmt.Errorf("insert %s: %w", table, err)
	}
	return id, nil
}

// InsertBatch writes every record or none.
func (p *PGBackend) InsertBatch(ctx context.Context, table string, records []destination.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	for i, rec := range records {
		q, args, err := insertStatement(table, rec)
		if err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return 0, fmt.Errorf("insert %s record %d: %w", table, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return len(records), nil
}

func (p *PGBackend) Query(ctx context.Context, st destination.Statement, params []any) ([]destination.Record, error) {
	cols := columns[st.Table]
	for _, c := range append(append([]string{}, st.Columns...), st.Where...) {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("unknown column %q on %s", c, st.Table)
		}
	}
	if st.OrderBy != "" {
		if _, ok := cols[st.OrderBy]; !ok {
			return nil, fmt.Errorf("unknown column %q on %s", st.OrderBy, st.Table)
		}
	}

	var b strings.Builder
	if st.Verb == "DELETE" {
		b.WriteString("DELETE FROM " + st.Table)
		writeWhere(&b, st.Where)
		res, err := p.db.ExecContext(ctx, b.String(), params...)
		if err != nil {
			return nil, fmt.Errorf("delete %s: %w", st.Table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("delete %s: %w", st.Table, err)
		}
		return []destination.Record{{"deleted": n}}, nil
	}

	selected := st.Columns
	if len(selected) == 0 {
		selected = sortedColumns(st.Table)
	}
	b.WriteString("SELECT " + strings.Join(selected, ", ") + " FROM " + st.Table)
	writeWhere(&b, st.Where)
	if st.OrderBy != "" {
		b.WriteString(" ORDER BY " + st.OrderBy)
		if st.OrderDesc {
			b.WriteString(" DESC")
		}
	}
	rows, err := p.db.QueryContext(ctx, b.String(), params...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", st.Table, err)
	}
	defer rows.Close()

	var out []destination.Record
	for rows.Next() {
		vals := make([]any, len(selected))
		ptrs := make([]any, len(selected))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", st.Table, err)
		}
		rec := destination.Record{}
		for i, c := range selected {
			v, err := fromColumn(cols[c], vals[i])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c, err)
			}
			rec[c] = v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func insertStatement(table string, record destination.Record) (string, []any, error) {
	cols, ok := columns[table]
	if !ok {
		return "", nil, fmt.Errorf("unknown table %q", table)
	}
	if len(record) == 0 {
		return "", nil, fmt.Errorf("empty record for %s", table)
	}
	names := make([]string, 0, len(record))
	for name := range record {
		if _, ok := cols[name]; !ok {
			return "", nil, fmt.Errorf("unknown column %q on %s", name, table)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	args := make([]any, len(names))
	marks := make([]string, len(names))
	for i, name := range names {
		v, err := toColumn(cols[name], record[name])
		if err != nil {
			return "", nil, fmt.Errorf("column %s: %w", name, err)
		}
		args[i] = v
		marks[i] = "$" + strconv.Itoa(i+1)
	}
	q := "INSERT INTO " + table + " (" + strings.Join(names, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
	return q, args, nil
}

func writeWhere(b *strings.Builder, where []string) {
	for i, c := range where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(c + " = $" + strconv.Itoa(i+1))
	}
}

func sortedColumns(table string) []string {
	out := make([]string, 0, len(columns[table]))
	for c := range columns[table] {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func toColumn(kind colKind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if kind == colJSON {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	switch v.(type) {
	case map[string]any, []any:
		return nil, fmt.Errorf("structured value for scalar column")
	}
	return v, nil
}

func fromColumn(kind colKind, v any) (any, error) {
	b, isBytes := v.([]byte)
	switch {
	case v == nil:
		return nil, nil
	case kind == colJSON:
		var raw []byte
		if isBytes {
			raw = b
		} else if s, ok := v.(string); ok {
			raw = []byte(s)
		} else {
			return v, nil
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	case kind == colNumeric && isBytes:
		return strconv.ParseFloat(string(b), 64)
	case isBytes:
		return string(b), nil
	}
	return v, nil
}
