package models

import (
	"time"
)

type ProspectStatus string

const (
	ProspectStatusProspecting      ProspectStatus = "prospecting"
	ProspectStatusClient           ProspectStatus = "client"
	ProspectStatusPromoting        ProspectStatus = "promoting"
	ProspectStatusCompleted        ProspectStatus = "completed"
	ProspectStatusValidationFailed ProspectStatus = "validation_failed"
	ProspectStatusInsertFailed     ProspectStatus = "insert_failed"
)

// Prospect is the mutable lead record owned by the document store.
type Prospect struct {
	ProspectID       string         `json:"prospect_id"`
	Status           ProspectStatus `json:"status"`
	ClientID         string         `json:"client_id,omitempty"`
	ValidationErrors []string       `json:"validation_errors,omitempty"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type ReadinessVerdict struct {
	ProspectID string          `json:"prospect_id"`
	CanPromote bool            `json:"can_promote"`
	Errors     []string        `json:"errors"`
	Warnings   []string        `json:"warnings"`
	Checks     map[string]bool `json:"checks"`
	// InfrastructureErrors lists document reads that failed for reasons other
	// than absence. Those documents are also counted as missing in Errors.
	InfrastructureErrors []string  `json:"infrastructure_errors,omitempty"`
	EvaluatedAt          time.Time `json:"evaluated_at"`
}

// Destination records. Field names mirror the relational columns.

type ClientRecord struct {
	ClientID           string     `json:"client_id"`
	ProspectID         string     `json:"prospect_id"`
	CompanyName        string     `json:"company_name"`
	State              string     `json:"state"`
	Industry           string     `json:"industry,omitempty"`
	ContactName        string     `json:"contact_name,omitempty"`
	ContactEmail       string     `json:"contact_email,omitempty"`
	EmployeeCount      int        `json:"employee_count"`
	TotalAnnualCost    float64    `json:"total_annual_cost"`
	RenewalDate        *time.Time `json:"renewal_date,omitempty"`
	PromotionTimestamp time.Time  `json:"promotion_timestamp"`
}

type EmployeeRecord struct {
	EmployeeID   string     `json:"employee_id"`
	ClientID     string     `json:"client_id"`
	ExternalRef  string     `json:"external_ref,omitempty"`
	FirstName    string     `json:"first_name,omitempty"`
	LastName     string     `json:"last_name,omitempty"`
	DateOfBirth  *time.Time `json:"date_of_birth,omitempty"`
	Gender       string     `json:"gender,omitempty"`
	ZipCode      string     `json:"zip_code,omitempty"`
	CoverageTier string     `json:"coverage_tier,omitempty"`
	AnnualClaims float64    `json:"annual_claims"`
	HighCost     bool       `json:"high_cost"`
}

type ComplianceFlagsRecord struct {
	ClientID              string   `json:"client_id"`
	FederalRequirements   []string `json:"federal_requirements"`
	StateRequirements     []string `json:"state_requirements"`
	LocalRequirements     []string `json:"local_requirements"`
	ACAApplicable         bool     `json:"aca_applicable"`
	ERISAPlan             bool     `json:"erisa_plan"`
	TotalRequirementCount int      `json:"total_requirement_count"`
}

type FinancialModelRecord struct {
	ClientID            string  `json:"client_id"`
	BaselineCost        float64 `json:"baseline_cost"`
	P10Cost             float64 `json:"p10_cost"`
	P50Cost             float64 `json:"p50_cost"`
	P90Cost             float64 `json:"p90_cost"`
	Iterations          int     `json:"iterations"`
	VolatilityFactor    float64 `json:"volatility_factor"`
	HighCostCount       int     `json:"high_cost_count"`
	HighCostTotal       float64 `json:"high_cost_total"`
	LowCostCount        int     `json:"low_cost_count"`
	LowCostTotal        float64 `json:"low_cost_total"`
	HighCostThresholdPc float64 `json:"high_cost_threshold_pct,omitempty"`
}

type SavingsScenarioRecord struct {
	ClientID       string  `json:"client_id"`
	RetroTotal     float64 `json:"retro_total"`
	RetroPercent   float64 `json:"retro_percent"`
	ForwardTotal   float64 `json:"forward_total"`
	ForwardPercent float64 `json:"forward_percent"`
	CombinedTotal  float64 `json:"combined_total"`
}

type PromotionMetadata struct {
	ProspectID           string    `json:"prospect_id"`
	PromotionTimestamp   time.Time `json:"promotion_timestamp"`
	SchemaVersion        string    `json:"schema_version"`
	BlueprintVersionHash string    `json:"blueprint_version_hash"`
	ContentHash          string    `json:"content_hash"`
}

// DestinationPayload is the normalized bundle written to the relational store.
type DestinationPayload struct {
	Client          ClientRecord          `json:"client"`
	Employees       []EmployeeRecord      `json:"employees"`
	ComplianceFlags ComplianceFlagsRecord `json:"compliance_flags"`
	FinancialModel  FinancialModelRecord  `json:"financial_model"`
	SavingsScenario SavingsScenarioRecord `json:"savings_scenario"`
	Metadata        PromotionMetadata     `json:"metadata"`
}

type PromotionStatus string

const (
	PromotionStatusPending    PromotionStatus = "pending"
	PromotionStatusCompleted  PromotionStatus = "completed"
	PromotionStatusFailed     PromotionStatus = "failed"
	PromotionStatusRolledBack PromotionStatus = "rolled_back"
)

// PromotionLogEntry is the append-only audit row written once per attempt.
type PromotionLogEntry struct {
	PromotionID          string          `json:"promotion_id"`
	ProspectID           string          `json:"prospect_id"`
	ClientID             string          `json:"client_id,omitempty"`
	Status               PromotionStatus `json:"status"`
	Stage                string          `json:"stage,omitempty"`
	ErrorMessage         string          `json:"error_message,omitempty"`
	Warnings             []string        `json:"warnings,omitempty"`
	InsertedCounts       map[string]int  `json:"inserted_counts"`
	BlueprintVersionHash string          `json:"blueprint_version_hash,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type ResolutionStatus string

const (
	ResolutionUnresolved ResolutionStatus = "unresolved"
	ResolutionInProgress ResolutionStatus = "in_progress"
	ResolutionResolved   ResolutionStatus = "resolved"
	ResolutionWontFix    ResolutionStatus = "wont_fix"
	ResolutionArchived   ResolutionStatus = "archived"
)

type ErrorLogEntry struct {
	ErrorID          string           `json:"error_id"`
	ProspectID       *string          `json:"prospect_id,omitempty"`
	ClientID         *string          `json:"client_id,omitempty"`
	Process          string           `json:"process"`
	Message          string           `json:"message"`
	Severity         Severity         `json:"severity"`
	ResolutionStatus ResolutionStatus `json:"resolution_status"`
	StackTrace       *string          `json:"stack_trace,omitempty"`
	FunctionName     *string          `json:"function_name,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}
