// Package errorlog is the pipeline's side of the unified error logger: any
// stage reports structured failures here and never depends on the outcome.
package errorlog

import (
	"context"
	"log"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/intakecalc/platform/promotion-engine/internal/models"
)

type Process string

const (
	ProcessDocumentRead   Process = "document_read"
	ProcessReadiness      Process = "readiness_check"
	ProcessTransformation Process = "transformation"
	ProcessDestination    Process = "destination_write"
	ProcessChildInsert    Process = "child_insert_warning"
	ProcessFinalize       Process = "finalize"
	ProcessTrigger        Process = "promotion_trigger"
)

// Report is the input accepted by the logger.
type Report struct {
	ProspectID   string
	ClientID     string
	Process      Process
	Message      string
	Severity     models.Severity
	StackTrace   string
	FunctionName string
}

type Reporter interface {
	Report(ctx context.Context, r Report)
}

// NewEntry converts a report into a persisted entry. The caller's function
// name is captured when absent and a stack is attached for high and critical
// reports.
func NewEntry(r Report, skip int) models.ErrorLogEntry {
	now := time.Now().UTC()
	entry := models.ErrorLogEntry{
		ErrorID:          uuid.NewString(),
		Process:          string(r.Process),
		Message:          r.Message,
		Severity:         r.Severity,
		ResolutionStatus: models.ResolutionUnresolved,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if entry.Severity == "" {
		entry.Severity = models.SeverityMedium
	}
	if r.ProspectID != "" {
		entry.ProspectID = strptr(r.ProspectID)
	}
	if r.ClientID != "" {
		entry.ClientID = strptr(r.ClientID)
	}
	fn := r.FunctionName
	if fn == "" {
		if pc, _, _, ok := runtime.Caller(skip + 1); ok {
			if f := runtime.FuncForPC(pc); f != nil {
				fn = f.Name()
			}
		}
	}
	if fn != "" {
		entry.FunctionName = strptr(fn)
	}
	stack := r.StackTrace
	if stack == "" && (entry.Severity == models.SeverityHigh || entry.Severity == models.SeverityCritical) {
		stack = string(debug.Stack())
	}
	if stack != "" {
		entry.StackTrace = strptr(stack)
	}
	return entry
}

// LogReporter writes reports to a standard logger.
type LogReporter struct {
	logger *log.Logger
}

func NewLogReporter(logger *log.Logger) *LogReporter {
	if logger == nil {
		logger = log.New(os.Stderr, "[errorlog] ", log.LstdFlags)
	}
	return &LogReporter{logger: logger}
}

func (l *LogReporter) Report(ctx context.Context, r Report) {
	parts := []string{"severity=" + string(r.Severity), "process=" + string(r.Process)}
	if r.ProspectID != "" {
		parts = append(parts, "prospect="+r.ProspectID)
	}
	if r.ClientID != "" {
		parts = append(parts, "client="+r.ClientID)
	}
	l.logger.Printf("%s: %s", strings.Join(parts, " "), r.Message)
}

// Multi fans a report out to several reporters.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, r Report) {
	for _, rep := range m {
		if rep != nil {
			rep.Report(ctx, r)
		}
	}
}

// MemoryReporter keeps entries in memory for tests.
type MemoryReporter struct {
	mu      sync.Mutex
	entries []models.ErrorLogEntry
}

func NewMemoryReporter() *MemoryReporter {
	return &MemoryReporter{}
}

func (m *MemoryReporter) Report(ctx context.Context, r Report) {
	entry := NewEntry(r, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

func (m *MemoryReporter) Entries() []models.ErrorLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ErrorLogEntry(nil), m.entries...)
}

func strptr(s string) *string { return &s }
