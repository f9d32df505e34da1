package services

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/datastore"
	"github.com/tdmstack/tdm-engine/pkg/models"
	"github.com/tdmstack/tdm-engine/pkg/repositories"
)

const defaultSyntheticRows = 100

// Test-case parsing patterns. Cucumber steps, Selenium send_keys calls and
// plain "enter X in Y" phrasing all yield field names.
var (
	cucumberEnterPattern = regexp.MustCompile(`(?i)(?:Given|When|And|Then)\s+I\s+(?:enter|fill|type)\s+"([^"]*)"\s+(?:in|into|as)(?:\s+the)?\s+"?([\w\s]+?)"?(?:\s+field)?\s*$`)
	seleniumFieldPattern = regexp.MustCompile(`(?i)(?:findElement|find_element)\s*\(\s*By\.(?:id|name|ID|NAME)\s*[,(]\s*["']([\w-]+)["']`)
	manualEnterPattern   = regexp.MustCompile(`(?i)\b(?:enter|fill|input|type)\b[^\n]*?\b(?:in|into)\s+(?:the\s+)?([\w]+)\s+field`)
)

// SyntheticInputs are the raw materials a generation run may draw from.
type SyntheticInputs struct {
	TestCaseContent string
	TestCaseURLs    []string
	Domain          string
	SchemaVersionID *uuid.UUID
	TestCaseID      string
}

// SyntheticService generates synthetic datasets from test-case content,
// crawled UI schemas, domain packs or discovered database schemas, in that
// order of preference.
type SyntheticService struct {
	datasetRepo repositories.DatasetRepository
	schemaRepo  repositories.SchemaRepository
	store       *datastore.Store
	storePath   string
	crawler     UICrawler
	logger      *zap.Logger
}

// NewSyntheticService creates a SyntheticService.
func NewSyntheticService(datasetRepo repositories.DatasetRepository, schemaRepo repositories.SchemaRepository, store *datastore.Store, storePath string, crawler UICrawler, logger *zap.Logger) *SyntheticService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyntheticService{
		datasetRepo: datasetRepo,
		schemaRepo:  schemaRepo,
		store:       store,
		storePath:   storePath,
		crawler:     crawler,
		logger:      logger.Named("synthetic"),
	}
}

// Generate resolves a schema fragment from the richest available input and
// materializes a dataset version from it. Crawl failures degrade to the
// domain pack and are reported as fallback events rather than errors.
func (s *SyntheticService) Generate(ctx context.Context, inputs SyntheticInputs, cfg *models.SyntheticConfig) (*StepResult, error) {
	if cfg == nil {
		cfg = &models.SyntheticConfig{}
	}

	fragment, mode, events, err := s.resolveFragment(ctx, inputs, cfg)
	if err != nil {
		return nil, err
	}

	versionID := uuid.New()
	rowCounts := models.RowCounts{}
	for _, entity := range fragment.Entities {
		n := rowCountFor(entity.Name, cfg.RowCounts)
		data := generateTable(entity, n)
		if _, err := s.store.WriteTable(versionID, entity.Name, data); err != nil {
			return nil, fmt.Errorf("writing table %s: %w", entity.Name, err)
		}
		rowCounts[entity.Name] = n
	}

	sourceType := models.DatasetSourceSynthetic
	if mode == models.ModeURL && fragment.Source == FragmentSourceUI {
		sourceType = models.DatasetSourceSyntheticCrawled
	}

	version := &models.DatasetVersion{
		ID:              versionID,
		Name:            fmt.Sprintf("synthetic_%s", versionID.String()[:8]),
		SchemaVersionID: inputs.SchemaVersionID,
		SourceType:      sourceType,
		PathPrefix:      filepath.Join(s.storePath, versionID.String()),
	}
	if err := s.datasetRepo.Create(ctx, version, rowCounts); err != nil {
		return nil, err
	}

	s.logger.Info("Synthetic generation completed",
		zap.String("mode", string(mode)),
		zap.String("dataset_version_id", versionID.String()),
		zap.Int("entities", len(fragment.Entities)))

	entityNames := make([]string, len(fragment.Entities))
	for i, e := range fragment.Entities {
		entityNames[i] = e.Name
	}

	result := &StepResult{
		DatasetVersionID: &versionID,
		Message:          fmt.Sprintf("Generated synthetic data (%s mode). Dataset: %s", mode, versionID),
		Details: map[string]any{
			"dataset_version_id": versionID.String(),
			"mode":               string(mode),
			"entities":           entityNames,
			"row_counts":         rowCounts,
		},
		Fallbacks: events,
	}

	switch {
	case inputs.SchemaVersionID != nil && mode == models.ModeSchema:
		result.Lineage = append(result.Lineage, models.LineageEdge{
			SourceType: models.ArtifactSchemaVersion,
			SourceID:   inputs.SchemaVersionID.String(),
			TargetType: models.ArtifactDatasetVersion,
			TargetID:   versionID.String(),
			Operation:  string(models.OpSynthetic),
		})
	case inputs.TestCaseID != "":
		result.Lineage = append(result.Lineage, models.LineageEdge{
			SourceType: models.ArtifactTestCase,
			SourceID:   inputs.TestCaseID,
			TargetType: models.ArtifactDatasetVersion,
			TargetID:   versionID.String(),
			Operation:  string(models.OpSynthetic),
		})
	}
	return result, nil
}

// resolveFragment picks the generation mode by input richness: test-case
// content first, then URLs, then domain pack, then discovered schema. An
// explicit cfg.Mode overrides the ranking when its input is present.
func (s *SyntheticService) resolveFragment(ctx context.Context, inputs SyntheticInputs, cfg *models.SyntheticConfig) (*SchemaFragment, models.SyntheticMode, []models.FallbackEvent, error) {
	mode := cfg.Mode
	if mode == "" || !modeInputPresent(mode, inputs) {
		switch {
		case strings.TrimSpace(inputs.TestCaseContent) != "":
			mode = models.ModeTestCase
		case len(inputs.TestCaseURLs) > 0:
			mode = models.ModeURL
		case inputs.Domain != "":
			mode = models.ModeDomain
		case inputs.SchemaVersionID != nil:
			mode = models.ModeSchema
		default:
			return nil, "", nil, fmt.Errorf("no usable input for synthetic generation")
		}
	}

	switch mode {
	case models.ModeTestCase:
		return parseTestCaseFragment(inputs.TestCaseContent), models.ModeTestCase, nil, nil

	case models.ModeHybrid:
		return s.hybridFragment(ctx, inputs)

	case models.ModeURL:
		domain := inputs.Domain
		strategies := []Strategy[*SchemaFragment]{
			{Name: "crawl", Run: func(ctx context.Context) (*SchemaFragment, error) {
				return s.crawler.Crawl(ctx, inputs.TestCaseURLs)
			}},
			{Name: "domain_pack", Run: func(ctx context.Context) (*SchemaFragment, error) {
				return domainPackFragment(domain), nil
			}},
		}
		fragment, events, err := WithFallbacks(ctx, strategies, func(f *SchemaFragment) bool {
			return f == nil || len(f.Entities) == 0
		})
		if err != nil {
			return nil, "", events, err
		}
		return fragment, models.ModeURL, events, nil

	case models.ModeDomain:
		return domainPackFragment(inputs.Domain), models.ModeDomain, nil, nil

	case models.ModeSchema:
		graph, err := s.schemaRepo.LoadGraph(ctx, *inputs.SchemaVersionID)
		if err != nil {
			return nil, "", nil, err
		}
		return graphFragment(graph), models.ModeSchema, nil, nil
	}
	return nil, "", nil, fmt.Errorf("unknown synthetic mode %q", mode)
}

// hybridFragment blends the domain pack with whatever else the test case
// provides: parsed content fields, plus crawled UI forms when URLs are
// present. A failed crawl narrows the blend instead of failing it.
func (s *SyntheticService) hybridFragment(ctx context.Context, inputs SyntheticInputs) (*SchemaFragment, models.SyntheticMode, []models.FallbackEvent, error) {
	var fragments []*SchemaFragment
	var events []models.FallbackEvent

	if strings.TrimSpace(inputs.TestCaseContent) != "" {
		fragments = append(fragments, parseTestCaseFragment(inputs.TestCaseContent))
	}
	if len(inputs.TestCaseURLs) > 0 {
		fragment, err := s.crawler.Crawl(ctx, inputs.TestCaseURLs)
		if err != nil {
			s.logger.Warn("UI crawl failed during hybrid generation", zap.Error(err))
			events = append(events, models.FallbackEvent{Step: "hybrid_crawl", Error: err.Error()})
		} else {
			fragments = append(fragments, fragment)
		}
	}
	fragments = append(fragments, domainPackFragment(inputs.Domain))

	return mergeFragments(FragmentSourceHybrid, fragments...), models.ModeHybrid, events, nil
}

// mergeFragments unions entities and fields across fragments. Entities merge
// by case-insensitive name; on field collisions the earlier fragment wins.
func mergeFragments(source string, fragments ...*SchemaFragment) *SchemaFragment {
	merged := &SchemaFragment{Source: source}
	index := map[string]int{}
	for _, fragment := range fragments {
		if fragment == nil {
			continue
		}
		for _, entity := range fragment.Entities {
			key := strings.ToLower(entity.Name)
			i, ok := index[key]
			if !ok {
				i = len(merged.Entities)
				index[key] = i
				merged.Entities = append(merged.Entities, EntitySpec{Name: entity.Name})
			}
			for _, field := range entity.Fields {
				if hasField(merged.Entities[i].Fields, field.Name) {
					continue
				}
				merged.Entities[i].Fields = append(merged.Entities[i].Fields, field)
			}
		}
	}
	return merged
}

func hasField(fields []FieldSpec, name string) bool {
	lower := strings.ToLower(name)
	for _, f := range fields {
		if strings.ToLower(f.Name) == lower {
			return true
		}
	}
	return false
}

func modeInputPresent(mode models.SyntheticMode, inputs SyntheticInputs) bool {
	switch mode {
	case models.ModeTestCase:
		return strings.TrimSpace(inputs.TestCaseContent) != ""
	case models.ModeHybrid:
		return inputs.Domain != "" &&
			(strings.TrimSpace(inputs.TestCaseContent) != "" || len(inputs.TestCaseURLs) > 0)
	case models.ModeURL:
		return len(inputs.TestCaseURLs) > 0
	case models.ModeDomain:
		return inputs.Domain != ""
	case models.ModeSchema:
		return inputs.SchemaVersionID != nil
	}
	return false
}

// parseTestCaseFragment extracts field names from test-case text. All fields
// land on a single "user" entity; content that yields no fields gets a
// default user schema so generation always produces something.
func parseTestCaseFragment(content string) *SchemaFragment {
	seen := map[string]bool{}
	var fields []FieldSpec
	add := func(raw string) {
		name := strings.ToLower(strings.TrimSpace(raw))
		name = strings.ReplaceAll(name, " ", "_")
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		fields = append(fields, FieldSpec{Name: name, Type: inferFieldType(name), Required: true})
	}

	for _, line := range strings.Split(content, "\n") {
		if m := cucumberEnterPattern.FindStringSubmatch(line); m != nil {
			add(m[2])
			continue
		}
		for _, m := range seleniumFieldPattern.FindAllStringSubmatch(line, -1) {
			add(m[1])
		}
		if m := manualEnterPattern.FindStringSubmatch(line); m != nil {
			add(m[1])
		}
	}

	if len(fields) == 0 {
		return &SchemaFragment{Source: FragmentSourceTestCase, Entities: []EntitySpec{
			{Name: "user", Fields: []FieldSpec{
				{Name: "id", Type: "id", Required: true},
				{Name: "name", Type: "name", Required: true},
				{Name: "email", Type: "email", Required: true},
				{Name: "created_at", Type: "date", Required: true},
			}},
		}}
	}
	return &SchemaFragment{Source: FragmentSourceTestCase, Entities: []EntitySpec{
		{Name: "user", Fields: fields},
	}}
}

// graphFragment converts a discovered schema graph into a fragment, using
// inferred semantic types where discovery recorded them.
func graphFragment(graph *models.SchemaGraph) *SchemaFragment {
	fragment := &SchemaFragment{Source: FragmentSourceDB}
	for _, table := range graph.Tables {
		entity := EntitySpec{Name: table.Name}
		for _, col := range graph.Columns[table.ID] {
			fieldType := mapDataType(col.DataType)
			if col.InferredType != nil && *col.InferredType != "" {
				fieldType = *col.InferredType
			}
			entity.Fields = append(entity.Fields, FieldSpec{
				Name:     col.Name,
				Type:     fieldType,
				Required: !col.IsNullable,
			})
		}
		fragment.Entities = append(fragment.Entities, entity)
	}
	return fragment
}

func mapDataType(dataType string) string {
	dt := strings.ToLower(dataType)
	switch {
	case strings.Contains(dt, "int") || strings.Contains(dt, "numeric") ||
		strings.Contains(dt, "decimal") || strings.Contains(dt, "float") ||
		strings.Contains(dt, "double") || strings.Contains(dt, "money"):
		return "number"
	case strings.Contains(dt, "date") || strings.Contains(dt, "time"):
		return "date"
	case strings.Contains(dt, "bool") || dt == "bit":
		return "boolean"
	case strings.Contains(dt, "uuid"):
		return "id"
	default:
		return "string"
	}
}

// inferFieldType classifies a field by its name keywords.
func inferFieldType(name string) string {
	n := strings.ToLower(name)
	switch {
	case n == "id" || strings.HasSuffix(n, "_id"):
		return "id"
	case strings.Contains(n, "email"):
		return "email"
	case strings.Contains(n, "phone") || strings.Contains(n, "mobile"):
		return "phone"
	case strings.Contains(n, "password"):
		return "password"
	case strings.Contains(n, "name"):
		return "name"
	case strings.Contains(n, "address") || strings.Contains(n, "city") ||
		strings.Contains(n, "street") || strings.Contains(n, "zip"):
		return "address"
	case strings.Contains(n, "date") || strings.Contains(n, "_at") ||
		strings.Contains(n, "birth") || strings.Contains(n, "dob"):
		return "date"
	case strings.Contains(n, "amount") || strings.Contains(n, "price") ||
		strings.Contains(n, "total") || strings.Contains(n, "balance") ||
		strings.Contains(n, "count") || strings.Contains(n, "quantity"):
		return "number"
	default:
		return "string"
	}
}

func rowCountFor(entity string, counts map[string]int) int {
	if counts != nil {
		if n, ok := counts[entity]; ok {
			return n
		}
		if n, ok := counts["*"]; ok {
			return n
		}
	}
	return defaultSyntheticRows
}

var syntheticFirstNames = []string{
	"Alice", "Bob", "Carol", "David", "Emma", "Frank", "Grace", "Henry",
	"Irene", "James", "Karen", "Liam", "Mia", "Noah", "Olivia", "Peter",
}

var syntheticLastNames = []string{
	"Anderson", "Brown", "Chen", "Davis", "Evans", "Garcia", "Hill",
	"Johnson", "Kim", "Lopez", "Miller", "Nguyen", "Patel", "Smith",
}

var syntheticStreets = []string{
	"Main St", "Oak Ave", "Park Blvd", "Cedar Ln", "Elm Dr", "Maple Way",
}

// generateTable produces n deterministic rows for one entity. The generator
// is seeded from the entity name so repeated runs over the same schema yield
// identical data.
func generateTable(entity EntitySpec, n int) *datastore.TableData {
	sum := sha256.Sum256([]byte(entity.Name))
	rng := rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(sum[:8]))))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	columns := make([]string, len(entity.Fields))
	for i, f := range entity.Fields {
		columns[i] = f.Name
	}

	rows := make([][]string, 0, n)
	for i := 1; i <= n; i++ {
		row := make([]string, len(entity.Fields))
		for j, f := range entity.Fields {
			row[j] = generateValue(f, i, rng, base)
		}
		rows = append(rows, row)
	}
	return &datastore.TableData{Columns: columns, Rows: rows}
}

func generateValue(f FieldSpec, seq int, rng *rand.Rand, base time.Time) string {
	switch f.Type {
	case "id":
		return fmt.Sprintf("%d", seq)
	case "email":
		return fmt.Sprintf("user%d@example.com", seq)
	case "phone":
		return fmt.Sprintf("+1-555-%03d-%04d", rng.Intn(1000), rng.Intn(10000))
	case "name":
		first := syntheticFirstNames[rng.Intn(len(syntheticFirstNames))]
		last := syntheticLastNames[rng.Intn(len(syntheticLastNames))]
		if strings.Contains(f.Name, "first") {
			return first
		}
		if strings.Contains(f.Name, "last") {
			return last
		}
		return first + " " + last
	case "address":
		return fmt.Sprintf("%d %s", 1+rng.Intn(9999), syntheticStreets[rng.Intn(len(syntheticStreets))])
	case "date":
		return base.AddDate(0, 0, rng.Intn(365)).Format("2006-01-02")
	case "number":
		return fmt.Sprintf("%.2f", float64(rng.Intn(100000))/100)
	case "boolean":
		if rng.Intn(2) == 0 {
			return "false"
		}
		return "true"
	case "password":
		return fmt.Sprintf("Pw%s!", maskHash(fmt.Sprintf("%s-%d", f.Name, seq))[:8])
	default:
		return fmt.Sprintf("%s_%d", f.Name, seq)
	}
}
