package services

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/models"
)

// IntentInputs are the heterogeneous signals the decision engine classifies.
// All fields are optional; absence of signals yields a minimal intent, never
// an error.
type IntentInputs struct {
	TestCaseContent  string
	TestCaseURLs     []string
	ConnectionString string
	Domain           string
	SchemaVersionID  *uuid.UUID

	// EnableSubset disables the subset operation when explicitly false.
	// Nil means enabled.
	EnableSubset *bool
}

// DecisionEngine maps input signals to an ordered operation list and a
// preferred synthetic mode. It is pure and deterministic: no I/O, and
// malformed or absent input never raises.
type DecisionEngine struct {
	logger *zap.Logger
}

// NewDecisionEngine creates a DecisionEngine.
func NewDecisionEngine(logger *zap.Logger) *DecisionEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecisionEngine{logger: logger.Named("decision")}
}

// formFieldPatterns match test-case phrasing that fills a form field, either
// as prose ("Enter email as test@example.com") or as a programmatic
// form-interaction call. Pure navigation content matches none of them.
var formFieldPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:enter|fill|input|type)\s+["']?\w+["']?\s+as\s+`),
	regexp.MustCompile(`(?i)\b(?:enter|fill|input|type)\s+["'][^"']+["']\s+in\s+`),
	regexp.MustCompile(`(?i)send_keys\s*\([^)]+\)`),
	regexp.MustCompile(`(?i)\.fill\s*\([^)]+\)`),
	regexp.MustCompile(`(?i)\.type\s*\([^)]+\)`),
}

// dataEntryKeywords catch looser phrasing like "fill all the required
// details" that still implies form data entry.
var dataEntryKeywords = regexp.MustCompile(`(?i)\b(?:enter|fill|input|type)\b.*\b(?:details?|fields?|form|information|data|credentials?)\b`)

func hasFormFields(content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	for _, p := range formFieldPatterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}

// ClassifyIntent evaluates each classification rule independently and merges
// the results into a deduplicated, canonically ordered operation list.
func (e *DecisionEngine) ClassifyIntent(in IntentInputs) *models.Intent {
	intent := &models.Intent{
		Operations:             []models.Operation{},
		PreferredSyntheticMode: models.ModeSchema,
	}
	var ops []models.Operation

	// Connection string signals source database access.
	if in.ConnectionString != "" {
		intent.RequiresDB = true
		ops = append(ops, models.OpDiscover)
		if in.EnableSubset == nil || *in.EnableSubset {
			ops = append(ops, models.OpSubset)
		}
		ops = append(ops, models.OpPII)
	}

	// Any non-blank URL triggers crawling.
	for _, u := range in.TestCaseURLs {
		if strings.TrimSpace(u) != "" {
			intent.RequiresUICrawl = true
			ops = append(ops, models.OpSynthetic)
			intent.PreferredSyntheticMode = models.ModeURL
			break
		}
	}

	// Domain tag enables the domain pack.
	if in.Domain != "" {
		ops = append(ops, models.OpSynthetic)
		if !intent.RequiresUICrawl && in.SchemaVersionID == nil {
			intent.PreferredSyntheticMode = models.ModeDomain
		}
	}

	// Form-field phrasing in the test case steers toward test_case mode.
	if hasFormFields(in.TestCaseContent) {
		ops = append(ops, models.OpSynthetic)
		if !intent.RequiresUICrawl {
			intent.PreferredSyntheticMode = models.ModeTestCase
		}
	}

	// No schema at all but some signal present: fall back to domain packs.
	hasSignal := in.Domain != "" || in.TestCaseContent != "" || len(in.TestCaseURLs) > 0
	if in.SchemaVersionID == nil && in.ConnectionString == "" && hasSignal {
		intent.RequiresDomainFallback = true
		ops = append(ops, models.OpSynthetic)
		if in.Domain != "" && (in.TestCaseContent != "" || len(in.TestCaseURLs) > 0) {
			intent.PreferredSyntheticMode = models.ModeHybrid
		} else if !intent.RequiresUICrawl && !hasFormFields(in.TestCaseContent) {
			// Crawl and test-case modes outrank the domain pack.
			intent.PreferredSyntheticMode = models.ModeDomain
		}
	}

	// A schema (existing version or discoverable) enables PII and masking.
	if in.SchemaVersionID != nil || in.ConnectionString != "" {
		ops = append(ops, models.OpPII, models.OpMask)
	}

	// Anything that materializes data needs provisioning.
	for _, op := range ops {
		if op == models.OpSynthetic || op == models.OpSubset {
			ops = append(ops, models.OpProvision)
			break
		}
	}

	intent.Operations = models.SortOperations(ops)

	e.logger.Info("Classified intent",
		zap.Bool("requires_db", intent.RequiresDB),
		zap.Bool("requires_ui_crawl", intent.RequiresUICrawl),
		zap.Bool("requires_domain_fallback", intent.RequiresDomainFallback),
		zap.String("preferred_synthetic_mode", string(intent.PreferredSyntheticMode)),
		zap.Any("operations", intent.Operations))

	return intent
}

// NeedsTestData decides whether test-case content requires synthetic data.
// Returns the decision plus a human-readable reason. Pure navigation content
// (click/select only) does not need data.
func (e *DecisionEngine) NeedsTestData(content string) (bool, string) {
	if strings.TrimSpace(content) == "" {
		return false, "test case content is empty"
	}
	if hasFormFields(content) {
		return true, "form field entry pattern detected"
	}
	if dataEntryKeywords.MatchString(content) {
		return true, "data entry phrasing detected (fill/enter details)"
	}
	return false, "navigation-only content (click/select), no data entry"
}

// GeneratePipelinePlan expands an intent into an executable plan with
// per-step configuration hints. It applies no additional business rules and
// validates the assembled step configs once.
func (e *DecisionEngine) GeneratePipelinePlan(intent *models.Intent) (*models.Plan, error) {
	plan := &models.Plan{
		Operations:             intent.Operations,
		PreferredSyntheticMode: intent.PreferredSyntheticMode,
		RequiresDB:             intent.RequiresDB,
		RequiresUICrawl:        intent.RequiresUICrawl,
		RequiresDomainFallback: intent.RequiresDomainFallback,
	}

	if intent.RequiresUICrawl {
		plan.Steps.Synthetic = &models.SyntheticConfig{
			Mode:       models.ModeURL,
			CrawlFirst: true,
		}
	}
	if intent.RequiresDomainFallback {
		if plan.Steps.Synthetic == nil {
			plan.Steps.Synthetic = &models.SyntheticConfig{}
		}
		plan.Steps.Synthetic.UseDomainFallback = true
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}
