// Package destination defines the write contract toward the relational system
// of record. Calls are single-attempt; retry belongs to the caller.
package destination

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	TableClients          = "clients"
	TableEmployees        = "employees"
	TableComplianceFlags  = "compliance_flags"
	TableFinancialModels  = "financial_models"
	TableSavingsScenarios = "savings_scenarios"
	TablePromotionLog     = "promotion_log"
)

// Tables lists every table the pipeline may address.
var Tables = []string{
	TableClients,
	TableEmployees,
	TableComplianceFlags,
	TableFinancialModels,
	TableSavingsScenarios,
	TablePromotionLog,
}

// ChildTables are written after the client row, in this order.
var ChildTables = []string{
	TableEmployees,
	TableComplianceFlags,
	TableFinancialModels,
	TableSavingsScenarios,
}

// KnownTable reports whether name is one of Tables.
func KnownTable(name string) bool {
	for _, t := range Tables {
		if t == name {
			return true
		}
	}
	return false
}

// Record is a column-name keyed row.
type Record map[string]any

// RecordOf converts a tagged struct into a Record using its JSON field names.
func RecordOf(v any) (Record, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

type InsertResult struct {
	Success     bool
	GeneratedID string
	Message     string
}

type BatchResult struct {
	Success bool
	Count   int
	Message string
}

type QueryResult struct {
	Success bool
	Rows    []Record
	Message string
}

// Client is implemented by the gateway adapter. A non-nil error always means
// the remote call itself failed; a reply with Success false means the remote
// side handled the call and rejected the data.
type Client interface {
	InsertOne(ctx context.Context, table string, record Record) (InsertResult, error)
	InsertBatch(ctx context.Context, table string, records []Record) (BatchResult, error)
	Query(ctx context.Context, query string, params ...any) (QueryResult, error)
	Health(ctx context.Context) bool
}

// TransportError marks a failure to reach or converse with the gateway.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("destination %s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
