package models

// DocumentKind names one of the five per-prospect source collections.
type DocumentKind string

const (
	DocumentIntake     DocumentKind = "intake"
	DocumentProjection DocumentKind = "projection"
	DocumentCostSplit  DocumentKind = "cost_split"
	DocumentCompliance DocumentKind = "compliance"
	DocumentSavings    DocumentKind = "savings"
)

// SourceDocumentKinds lists the collections in evaluation order.
var SourceDocumentKinds = []DocumentKind{
	DocumentIntake,
	DocumentProjection,
	DocumentCostSplit,
	DocumentCompliance,
	DocumentSavings,
}

// Source documents are produced by the calculation engines. Pointer fields
// distinguish "absent" from a legitimate zero.

type CensusEntry struct {
	EmployeeID   string   `json:"employeeId"`
	FirstName    string   `json:"firstName"`
	LastName     string   `json:"lastName"`
	DateOfBirth  string   `json:"dateOfBirth"`
	Gender       string   `json:"gender"`
	ZipCode      string   `json:"zipCode"`
	CoverageTier string   `json:"coverageTier"`
	AnnualClaims *float64 `json:"annualClaims"`
}

type IntakeDocument struct {
	Validated       bool          `json:"validated"`
	CompanyName     string        `json:"companyName"`
	State           string        `json:"state"`
	Industry        string        `json:"industry"`
	ContactName     string        `json:"contactName"`
	ContactEmail    string        `json:"contactEmail"`
	EmployeeCount   *int          `json:"employeeCount"`
	TotalAnnualCost *float64      `json:"totalAnnualCost"`
	RenewalDate     string        `json:"renewalDate"`
	Census          []CensusEntry `json:"census"`
}

type ProjectionDocument struct {
	Validated        bool     `json:"validated"`
	Baseline         *float64 `json:"baseline"`
	P10              *float64 `json:"p10"`
	P50              *float64 `json:"p50"`
	P90              *float64 `json:"p90"`
	Iterations       *int     `json:"iterations"`
	VolatilityFactor *float64 `json:"volatilityFactor"`
}

type UtilizerGroup struct {
	EmployeeCount *int     `json:"employeeCount"`
	TotalCost     *float64 `json:"totalCost"`
	EmployeeIDs   []string `json:"employeeIds"`
}

type CostSplitDocument struct {
	Validated        bool           `json:"validated"`
	HighCost         *UtilizerGroup `json:"highCost"`
	LowCost          *UtilizerGroup `json:"lowCost"`
	ThresholdPercent float64        `json:"thresholdPercent"`
}

type Requirement struct {
	Code        string `json:"code"`
	Title       string `json:"title"`
	Level       string `json:"level"` // federal, state or local
	Description string `json:"description"`
}

type ComplianceDocument struct {
	Validated bool `json:"validated"`
	// Requirements is nil when the engine never produced the collection and
	// empty when it ran and found nothing.
	Requirements    []Requirement `json:"requirements"`
	ACAThreshold    *int          `json:"acaEmployeeThreshold"`
	ERISAThreshold  *int          `json:"erisaEmployeeThreshold"`
	GovernmentPlan  bool          `json:"governmentPlan"`
	ChurchPlan      bool          `json:"churchPlan"`
	EvaluatedStates []string      `json:"evaluatedStates"`
}

type SavingsDocument struct {
	Validated      bool     `json:"validated"`
	RetroTotal     *float64 `json:"retroTotal"`
	RetroPercent   *float64 `json:"retroPercent"`
	ForwardTotal   *float64 `json:"forwardTotal"`
	ForwardPercent *float64 `json:"forwardPercent"`
	CombinedTotal  *float64 `json:"combinedTotal"`
}

// SourceSet is the typed view of a prospect's documents. A nil field means
// the document was absent, unreadable or malformed.
type SourceSet struct {
	Intake     *IntakeDocument     `json:"intake,omitempty"`
	Projection *ProjectionDocument `json:"projection,omitempty"`
	CostSplit  *CostSplitDocument  `json:"cost_split,omitempty"`
	Compliance *ComplianceDocument `json:"compliance,omitempty"`
	Savings    *SavingsDocument    `json:"savings,omitempty"`
}
