package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/models"
	"github.com/tdmstack/tdm-engine/pkg/repositories"
)

// fragmentWeights rank schema sources by trust. Database schemas win over
// crawled UI forms, UI forms over test-case text, and everything over the
// generic domain pack.
var fragmentWeights = map[string]float64{
	FragmentSourceDB:       1.0,
	FragmentSourceAPI:      0.9,
	FragmentSourceUI:       0.8,
	FragmentSourceTestCase: 0.6,
	FragmentSourceDomain:   0.4,
}

// Field-name match scores. Exact names merge with full confidence; a name
// containing the other merges at reduced confidence.
const (
	matchExact     = 1.0
	matchSubstring = 0.7
)

// FusionInputs are the sources a fusion run may draw fragments from.
type FusionInputs struct {
	SchemaVersionID *uuid.UUID
	TestCaseContent string
	TestCaseURLs    []string
	Domain          string
}

// FusionService merges schema fragments from multiple sources into one
// unified schema, resolving field conflicts by source weight.
type FusionService struct {
	schemaRepo repositories.SchemaRepository
	crawler    UICrawler
	logger     *zap.Logger
}

// NewFusionService creates a FusionService.
func NewFusionService(schemaRepo repositories.SchemaRepository, crawler UICrawler, logger *zap.Logger) *FusionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FusionService{
		schemaRepo: schemaRepo,
		crawler:    crawler,
		logger:     logger.Named("fusion"),
	}
}

// fusedField is one field of the unified schema with its provenance.
type fusedField struct {
	Type       string   `json:"type"`
	Required   bool     `json:"required"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`

	weight float64
}

// fusedEntity accumulates fields merged from matching entities.
type fusedEntity struct {
	name    string
	sources map[string]bool
	fields  map[string]*fusedField
	order   []string
}

// Fuse collects fragments from every available input and merges them. The
// unified schema is returned as a JSON-shaped map so it can be stored on the
// job context and in job results directly.
func (s *FusionService) Fuse(ctx context.Context, inputs FusionInputs) (*StepResult, map[string]any, error) {
	fragments, events, err := s.collectFragments(ctx, inputs)
	if err != nil {
		return nil, nil, err
	}
	if len(fragments) == 0 {
		return nil, nil, fmt.Errorf("no schema fragments available for fusion")
	}

	// Heavier sources first so they claim entity and field identities.
	sort.SliceStable(fragments, func(i, j int) bool {
		return fragmentWeights[fragments[i].Source] > fragmentWeights[fragments[j].Source]
	})

	var entities []*fusedEntity
	sourcesUsed := map[string]bool{}
	for _, fragment := range fragments {
		sourcesUsed[fragment.Source] = true
		weight := fragmentWeights[fragment.Source]
		for _, spec := range fragment.Entities {
			target := matchEntity(entities, spec.Name)
			if target == nil {
				target = &fusedEntity{
					name:    spec.Name,
					sources: map[string]bool{},
					fields:  map[string]*fusedField{},
				}
				entities = append(entities, target)
			}
			target.sources[fragment.Source] = true
			mergeFields(target, spec.Fields, fragment.Source, weight)
		}
	}

	unified := map[string]any{}
	entityMap := map[string]any{}
	for _, e := range entities {
		fieldMap := map[string]any{}
		for _, name := range e.order {
			fieldMap[name] = e.fields[name]
		}
		entityMap[e.name] = map[string]any{
			"fields":  fieldMap,
			"sources": sortedKeys(e.sources),
		}
	}
	unified["entities"] = entityMap
	unified["sources_used"] = sortedKeys(sourcesUsed)

	s.logger.Info("Schema fusion completed",
		zap.Int("fragments", len(fragments)),
		zap.Int("entities", len(entities)),
		zap.Strings("sources", sortedKeys(sourcesUsed)))

	return &StepResult{
		Message: fmt.Sprintf("Fused %d fragments into %d entities", len(fragments), len(entities)),
		Details: map[string]any{
			"fragments": len(fragments),
			"entities":  len(entities),
			"sources":   sortedKeys(sourcesUsed),
		},
		Fallbacks: events,
	}, unified, nil
}

func (s *FusionService) collectFragments(ctx context.Context, inputs FusionInputs) ([]*SchemaFragment, []models.FallbackEvent, error) {
	var fragments []*SchemaFragment
	var events []models.FallbackEvent

	if inputs.SchemaVersionID != nil {
		graph, err := s.schemaRepo.LoadGraph(ctx, *inputs.SchemaVersionID)
		if err != nil {
			return nil, nil, fmt.Errorf("loading schema for fusion: %w", err)
		}
		fragments = append(fragments, graphFragment(graph))
	}

	if len(inputs.TestCaseURLs) > 0 {
		// UI crawl is additive here; a failed crawl narrows the fusion
		// instead of failing it.
		fragment, err := s.crawler.Crawl(ctx, inputs.TestCaseURLs)
		if err != nil {
			s.logger.Warn("UI crawl failed during fusion", zap.Error(err))
			events = append(events, models.FallbackEvent{Step: "fusion_crawl", Error: err.Error()})
		} else {
			fragments = append(fragments, fragment)
		}
	}

	if strings.TrimSpace(inputs.TestCaseContent) != "" {
		fragments = append(fragments, parseTestCaseFragment(inputs.TestCaseContent))
	}

	if inputs.Domain != "" {
		fragments = append(fragments, domainPackFragment(inputs.Domain))
	}

	return fragments, events, nil
}

// matchEntity finds an already-fused entity the name merges into: exact name
// match, or one name containing the other.
func matchEntity(entities []*fusedEntity, name string) *fusedEntity {
	lower := strings.ToLower(name)
	for _, e := range entities {
		if strings.ToLower(e.name) == lower {
			return e
		}
	}
	for _, e := range entities {
		el := strings.ToLower(e.name)
		if strings.Contains(el, lower) || strings.Contains(lower, el) {
			return e
		}
	}
	return nil
}

func mergeFields(entity *fusedEntity, fields []FieldSpec, source string, weight float64) {
	for _, f := range fields {
		key, score := matchField(entity, f.Name)
		if key == "" {
			key, score = f.Name, matchExact
			entity.order = append(entity.order, key)
			entity.fields[key] = &fusedField{
				Type:       f.Type,
				Required:   f.Required,
				Sources:    []string{source},
				Confidence: weight * score,
				weight:     weight,
			}
			continue
		}

		existing := entity.fields[key]
		if !containsString(existing.Sources, source) {
			existing.Sources = append(existing.Sources, source)
		}
		// The heavier source dictates the type; required is sticky.
		if weight > existing.weight {
			existing.Type = f.Type
			existing.weight = weight
		}
		existing.Required = existing.Required || f.Required
		if c := weight * score; c > existing.Confidence {
			existing.Confidence = c
		}
	}
}

// matchField finds the fused field a name merges into and the match score.
func matchField(entity *fusedEntity, name string) (string, float64) {
	lower := strings.ToLower(name)
	for _, key := range entity.order {
		if strings.ToLower(key) == lower {
			return key, matchExact
		}
	}
	for _, key := range entity.order {
		kl := strings.ToLower(key)
		if len(kl) >= 3 && len(lower) >= 3 &&
			(strings.Contains(kl, lower) || strings.Contains(lower, kl)) {
			return key, matchSubstring
		}
	}
	return "", 0
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
