package destination

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// idColumns names the column returned as GeneratedID per table.
var idColumns = map[string]string{
	TableClients:      "client_id",
	TableEmployees:    "employee_id",
	TablePromotionLog: "promotion_id",
}

// uniqueColumns mirrors the primary keys and unique constraints of the
// relational schema.
var uniqueColumns = map[string][]string{
	TableClients:          {"client_id", "prospect_id"},
	TableEmployees:        {"employee_id"},
	TableComplianceFlags:  {"client_id"},
	TableFinancialModels:  {"client_id"},
	TableSavingsScenarios: {"client_id"},
	TablePromotionLog:     {"promotion_id"},
}

// MemoryClient is an in-process Client used by tests and local runs without
// a gateway. Failure maps let callers simulate transport and data errors per
// table.
type MemoryClient struct {
	mu     sync.Mutex
	tables map[string][]Record

	TransportErrors map[string]error
	Rejections      map[string]string
	// BatchLimits caps how many records of a batch are stored per table. The
	// batch still reports success with the smaller count.
	BatchLimits map[string]int
	Down        bool
	Calls       []string
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		tables:          map[string][]Record{},
		TransportErrors: map[string]error{},
		Rejections:      map[string]string{},
		BatchLimits:     map[string]int{},
	}
}

func (m *MemoryClient) InsertOne(ctx context.Context, table string, record Record) (InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "insert_one:"+table)
	if err := m.fail("insert_one", table); err != nil {
		return InsertResult{}, err
	}
	if !KnownTable(table) {
		return InsertResult{Success: false, Message: fmt.Sprintf("unknown table %q", table)}, nil
	}
	if msg, ok := m.Rejections[table]; ok {
		return InsertResult{Success: false, Message: msg}, nil
	}
	row := copyRecord(record)
	id := ""
	if col, ok := idColumns[table]; ok {
		id, _ = row[col].(string)
		if id == "" {
			id = uuid.NewString()
			row[col] = id
		}
	}
	if msg := m.conflict(table, []Record{row}); msg != "" {
		return InsertResult{Success: false, Message: msg}, nil
	}
	m.tables[table] = append(m.tables[table], row)
	return InsertResult{Success: true, GeneratedID: id}, nil
}

func (m *MemoryClient) InsertBatch(ctx context.Context, table string, records []Record) (BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "insert_batch:"+table)
	if err := m.fail("insert_batch", table); err != nil {
		return BatchResult{}, err
	}
	if !KnownTable(table) {
		return BatchResult{Success: false, Message: fmt.Sprintf("unknown table %q", table)}, nil
	}
	if msg, ok := m.Rejections[table]; ok {
		return BatchResult{Success: false, Message: msg}, nil
	}
	if limit, ok := m.BatchLimits[table]; ok && limit < len(records) {
		records = records[:limit]
	}
	if msg := m.conflict(table, records); msg != "" {
		return BatchResult{Success: false, Message: msg}, nil
	}
	for _, r := range records {
		m.tables[table] = append(m.tables[table], copyRecord(r))
	}
	return BatchResult{Success: true, Count: len(records)}, nil
}

func (m *MemoryClient) Query(ctx context.Context, query string, params ...any) (QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := ParseStatement(query)
	if err != nil {
		return QueryResult{Success: false, Message: err.Error()}, nil
	}
	m.Calls = append(m.Calls, "query:"+st.Verb+":"+st.Table)
	if err := m.fail("query", st.Table); err != nil {
		return QueryResult{}, err
	}
	if len(params) != len(st.Where) {
		return QueryResult{Success: false, Message: fmt.Sprintf("expected %d params, got %d", len(st.Where), len(params))}, nil
	}
	match := func(r Record) bool {
		for i, col := range st.Where {
			if fmt.Sprint(r[col]) != fmt.Sprint(params[i]) {
				return false
			}
		}
		return true
	}
	if st.Verb == "DELETE" {
		kept := m.tables[st.Table][:0]
		removed := 0
		for _, r := range m.tables[st.Table] {
			if match(r) {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		m.tables[st.Table] = kept
		return QueryResult{Success: true, Rows: []Record{{"deleted": removed}}}, nil
	}
	var rows []Record
	for _, r := range m.tables[st.Table] {
		if !match(r) {
			continue
		}
		if len(st.Columns) == 0 {
			rows = append(rows, copyRecord(r))
			continue
		}
		out := Record{}
		for _, c := range st.Columns {
			out[c] = r[c]
		}
		rows = append(rows, out)
	}
	if st.OrderBy != "" {
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := fmt.Sprint(rows[i][st.OrderBy]), fmt.Sprint(rows[j][st.OrderBy])
			if st.OrderDesc {
				return a > b
			}
			return a < b
		})
	}
	return QueryResult{Success: true, Rows: rows}, nil
}

func (m *MemoryClient) Health(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.Down
}

// Rows returns a copy of every row stored in table.
func (m *MemoryClient) Rows(table string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.tables[table]))
	for _, r := range m.tables[table] {
		out = append(out, copyRecord(r))
	}
	return out
}

func (m *MemoryClient) fail(op, table string) error {
	if m.Down {
		return &TransportError{Op: op, Err: fmt.Errorf("gateway unreachable")}
	}
	if err, ok := m.TransportErrors[table]; ok {
		return &TransportError{Op: op, Err: err}
	}
	return nil
}

// conflict returns a rejection message when rows would duplicate a unique
// column, against stored rows or each other. Empty values are not checked.
func (m *MemoryClient) conflict(table string, rows []Record) string {
	for _, col := range uniqueColumns[table] {
		seen := map[string]bool{}
		for _, r := range m.tables[table] {
			if v := fmt.Sprint(r[col]); r[col] != nil && v != "" {
				seen[v] = true
			}
		}
		for _, r := range rows {
			if r[col] == nil {
				continue
			}
			v := fmt.Sprint(r[col])
			if v == "" {
				continue
			}
			if seen[v] {
				return fmt.Sprintf("duplicate key value violates unique constraint %s_%s_key", table, col)
			}
			seen[v] = true
		}
	}
	return ""
}

func copyRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
