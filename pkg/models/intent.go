package models

// Operation names the fixed vocabulary of pipeline steps.
type Operation string

const (
	OpDiscover     Operation = "discover"
	OpPII          Operation = "pii"
	OpSubset       Operation = "subset"
	OpMask         Operation = "mask"
	OpSynthetic    Operation = "synthetic"
	OpProvision    Operation = "provision"
	OpSchemaFusion Operation = "schema_fusion"
	OpQuality      Operation = "quality"
)

// CanonicalOperationOrder is the execution and presentation order for
// operations. Anything outside this list sorts after it, in discovery order.
var CanonicalOperationOrder = []Operation{
	OpDiscover, OpPII, OpSubset, OpMask, OpSynthetic, OpProvision,
	OpSchemaFusion, OpQuality,
}

// SyntheticMode selects how synthetic data is generated.
type SyntheticMode string

const (
	ModeSchema   SyntheticMode = "schema"
	ModeURL      SyntheticMode = "url"
	ModeTestCase SyntheticMode = "test_case"
	ModeDomain   SyntheticMode = "domain"
	ModeHybrid   SyntheticMode = "hybrid"
)

// Intent is the decision engine's classification of which pipeline
// operations apply to a given input. Operations are deduplicated and sorted
// in canonical order.
type Intent struct {
	RequiresDB             bool          `json:"requires_db"`
	RequiresUICrawl        bool          `json:"requires_ui_crawl"`
	RequiresDomainFallback bool          `json:"requires_domain_fallback"`
	Operations             []Operation   `json:"operations"`
	PreferredSyntheticMode SyntheticMode `json:"preferred_synthetic_mode"`
}

// Has reports whether the intent includes the given operation.
func (in *Intent) Has(op Operation) bool {
	for _, o := range in.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// SortOperations deduplicates ops and orders them canonically, appending
// unknown operations afterward in their original order.
func SortOperations(ops []Operation) []Operation {
	seen := make(map[Operation]bool, len(ops))
	present := make(map[Operation]bool, len(ops))
	for _, op := range ops {
		present[op] = true
	}

	ordered := make([]Operation, 0, len(ops))
	for _, op := range CanonicalOperationOrder {
		if present[op] && !seen[op] {
			seen[op] = true
			ordered = append(ordered, op)
		}
	}
	for _, op := range ops {
		if !seen[op] {
			seen[op] = true
			ordered = append(ordered, op)
		}
	}
	return ordered
}
