package readiness

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/intakecalc/platform/promotion-engine/internal/models"
)

// MalformedError reports a document whose body does not decode into its
// typed shape. It is kept apart from incomplete business data.
type MalformedError struct {
	Kind models.DocumentKind
	Err  error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: document is malformed: %v", e.Kind, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Decode parses a raw document body into the typed field of set that matches
// kind.
func Decode(kind models.DocumentKind, raw json.RawMessage, set *models.SourceSet) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return &MalformedError{Kind: kind, Err: fmt.Errorf("expected a JSON object")}
	}
	var err error
	switch kind {
	case models.DocumentIntake:
		var d models.IntakeDocument
		if err = json.Unmarshal(trimmed, &d); err == nil {
			set.Intake = &d
		}
	case models.DocumentProjection:
		var d models.ProjectionDocument
		if err = json.Unmarshal(trimmed, &d); err == nil {
			set.Projection = &d
		}
	case models.DocumentCostSplit:
		var d models.CostSplitDocument
		if err = json.Unmarshal(trimmed, &d); err == nil {
			set.CostSplit = &d
		}
	case models.DocumentCompliance:
		var d models.ComplianceDocument
		if err = json.Unmarshal(trimmed, &d); err == nil {
			set.Compliance = &d
		}
	case models.DocumentSavings:
		var d models.SavingsDocument
		if err = json.Unmarshal(trimmed, &d); err == nil {
			set.Savings = &d
		}
	default:
		return fmt.Errorf("unknown document kind %q", kind)
	}
	if err != nil {
		return &MalformedError{Kind: kind, Err: err}
	}
	return nil
}
