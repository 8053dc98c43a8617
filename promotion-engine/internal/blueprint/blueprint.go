// Package blueprint holds the transformation configuration whose fingerprint
// is stamped onto every promotion payload and log entry.
package blueprint

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/intakecalc/platform/promotion-engine/internal/canonical"
	"github.com/intakecalc/platform/promotion-engine/internal/destination"
)

// SchemaVersion is the destination schema the transformer targets.
const SchemaVersion = "promotion-schema/1.2.0"

//go:embed default.yaml
var defaultYAML []byte

type FailureAction string

const (
	// Abort stops the promotion when a write to the table fails.
	Abort FailureAction = "abort"
	// Continue records a warning and carries on with the remaining writes.
	Continue FailureAction = "continue"
)

// TablePolicy maps destination table names to the action taken when a write
// to that table fails.
type TablePolicy map[string]FailureAction

// For returns the configured action, defaulting to Continue for child tables
// and Abort for the clients table.
func (p TablePolicy) For(table string) FailureAction {
	if a, ok := p[table]; ok {
		return a
	}
	if table == destination.TableClients {
		return Abort
	}
	return Continue
}

type Thresholds struct {
	ACAEmployees   int `yaml:"aca_employees" json:"aca_employees"`
	ERISAEmployees int `yaml:"erisa_employees" json:"erisa_employees"`
}

type Integrity struct {
	BaselineTolerance float64 `yaml:"baseline_tolerance" json:"baseline_tolerance"`
}

type Blueprint struct {
	SchemaVersion string      `yaml:"-" json:"schema_version"`
	Policy        TablePolicy `yaml:"policy" json:"policy"`
	Thresholds    Thresholds  `yaml:"thresholds" json:"thresholds"`
	Integrity     Integrity   `yaml:"integrity" json:"integrity"`
}

// Default returns the embedded blueprint.
func Default() (Blueprint, error) {
	return Parse(defaultYAML)
}

// Load reads a blueprint file. An empty path yields the embedded default.
func Load(path string) (Blueprint, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Blueprint{}, fmt.Errorf("read blueprint: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Blueprint, error) {
	var bp Blueprint
	if err := yaml.Unmarshal(data, &bp); err != nil {
		return Blueprint{}, fmt.Errorf("parse blueprint: %w", err)
	}
	bp.SchemaVersion = SchemaVersion
	if bp.Policy == nil {
		bp.Policy = TablePolicy{}
	}
	if err := bp.Validate(); err != nil {
		return Blueprint{}, err
	}
	return bp, nil
}

func (b Blueprint) Validate() error {
	for table, action := range b.Policy {
		if !destination.KnownTable(table) || table == destination.TablePromotionLog {
			return fmt.Errorf("blueprint: policy names unknown table %q", table)
		}
		if action != Abort && action != Continue {
			return fmt.Errorf("blueprint: table %q has invalid action %q", table, action)
		}
	}
	// Children cannot be written without the generated client id.
	if b.Policy.For(destination.TableClients) != Abort {
		return fmt.Errorf("blueprint: clients table must abort on failure")
	}
	if b.Thresholds.ACAEmployees <= 0 || b.Thresholds.ERISAEmployees <= 0 {
		return fmt.Errorf("blueprint: employee thresholds must be positive")
	}
	if b.Integrity.BaselineTolerance < 0 {
		return fmt.Errorf("blueprint: baseline tolerance must be non-negative")
	}
	return nil
}

// Hash fingerprints the configuration, not any prospect data.
func (b Blueprint) Hash() (string, error) {
	h, err := canonical.Fingerprint(b)
	if err != nil {
		return "", fmt.Errorf("hash blueprint: %w", err)
	}
	return h, nil
}
