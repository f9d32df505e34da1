package models

import "fmt"

// Plan is the executable expansion of an Intent: the same operations plus
// per-step configuration. Step configs are typed and validated once at plan
// construction; steps never reach into free-form maps.
type Plan struct {
	Operations             []Operation   `json:"operations"`
	PreferredSyntheticMode SyntheticMode `json:"preferred_synthetic_mode"`
	RequiresDB             bool          `json:"requires_db"`
	RequiresUICrawl        bool          `json:"requires_ui_crawl"`
	RequiresDomainFallback bool          `json:"requires_domain_fallback"`
	Steps                  StepConfigs   `json:"steps"`
}

// StepConfigs carries one optional config per operation.
type StepConfigs struct {
	Discover  *DiscoverConfig  `json:"discover,omitempty"`
	PII       *PIIConfig       `json:"pii,omitempty"`
	Subset    *SubsetConfig    `json:"subset,omitempty"`
	Mask      *MaskConfig      `json:"mask,omitempty"`
	Synthetic *SyntheticConfig `json:"synthetic,omitempty"`
	Provision *ProvisionConfig `json:"provision,omitempty"`
}

// DiscoverConfig configures schema discovery.
type DiscoverConfig struct {
	Namespaces   []string `json:"namespaces,omitempty"`
	IncludeStats bool     `json:"include_stats"`
	SampleSize   int      `json:"sample_size,omitempty"`
}

// PIIConfig configures PII classification.
type PIIConfig struct {
	MinConfidence float64 `json:"min_confidence,omitempty"`
}

// SubsetConfig configures FK-aware subsetting.
type SubsetConfig struct {
	RootTable       string                       `json:"root_table,omitempty"`
	Filters         map[string]map[string]string `json:"filters,omitempty"`
	MaxRowsPerTable map[string]int               `json:"max_rows_per_table,omitempty"`
}

// MaskConfig configures masking.
type MaskConfig struct {
	// Rules maps "table.column" to a masking technique, overriding the
	// technique recorded on the PII finding.
	Rules map[string]string `json:"rules,omitempty"`
}

// SyntheticConfig configures synthetic generation.
type SyntheticConfig struct {
	Mode              SyntheticMode  `json:"mode,omitempty"`
	CrawlFirst        bool           `json:"crawl_first,omitempty"`
	UseDomainFallback bool           `json:"use_domain_fallback,omitempty"`
	RowCounts         map[string]int `json:"row_counts,omitempty"`
	Scenario          string         `json:"scenario,omitempty"`
}

// ProvisionConfig configures provisioning.
type ProvisionConfig struct {
	TargetEnv  string `json:"target_env,omitempty"`
	ResetEnv   bool   `json:"reset_env"`
	MaxRetries int    `json:"max_retries,omitempty"`
}

// Validate checks step configs for values that would make a step
// unexecutable. It is called once at plan construction.
func (p *Plan) Validate() error {
	if p.PreferredSyntheticMode != "" {
		switch p.PreferredSyntheticMode {
		case ModeSchema, ModeURL, ModeTestCase, ModeDomain, ModeHybrid:
		default:
			return fmt.Errorf("unknown synthetic mode %q", p.PreferredSyntheticMode)
		}
	}
	if c := p.Steps.Subset; c != nil {
		for table, n := range c.MaxRowsPerTable {
			if n < 0 {
				return fmt.Errorf("negative row cap %d for table %q", n, table)
			}
		}
	}
	if c := p.Steps.Synthetic; c != nil {
		for table, n := range c.RowCounts {
			if n < 0 {
				return fmt.Errorf("negative row count %d for table %q", n, table)
			}
		}
	}
	if c := p.Steps.Provision; c != nil && c.MaxRetries < 0 {
		return fmt.Errorf("negative provision max_retries %d", c.MaxRetries)
	}
	return nil
}
