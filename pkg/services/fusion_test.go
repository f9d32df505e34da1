package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// staticCrawler returns a fixed fragment.
type staticCrawler struct {
	fragment *SchemaFragment
	err      error
}

func (c staticCrawler) Crawl(ctx context.Context, urls []string) (*SchemaFragment, error) {
	return c.fragment, c.err
}

func TestMatchField(t *testing.T) {
	entity := &fusedEntity{
		fields: map[string]*fusedField{
			"email":      {},
			"first_name": {},
			"id":         {},
		},
		order: []string{"email", "first_name", "id"},
	}

	key, score := matchField(entity, "Email")
	assert.Equal(t, "email", key)
	assert.Equal(t, matchExact, score)

	key, score = matchField(entity, "name")
	assert.Equal(t, "first_name", key)
	assert.Equal(t, matchSubstring, score)

	// Short names never substring-match; "id" inside "paid" must not merge.
	key, _ = matchField(entity, "paid")
	assert.Empty(t, key)

	key, _ = matchField(entity, "phone")
	assert.Empty(t, key)
}

func TestFuse_HeavierSourceDictatesType(t *testing.T) {
	ui := &SchemaFragment{Source: FragmentSourceUI, Entities: []EntitySpec{
		{Name: "customer", Fields: []FieldSpec{
			{Name: "email", Type: "string", Required: true},
		}},
	}}

	svc := NewFusionService(nil, staticCrawler{fragment: ui}, zap.NewNop())

	// Domain pack types email as "email"; UI typed it "string". UI is the
	// heavier source, so the fused field keeps "string", but required-ness
	// from either side sticks.
	result, unified, err := svc.Fuse(context.Background(), FusionInputs{
		TestCaseURLs: []string{"https://example.com"},
		Domain:       "ecommerce",
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	entities := unified["entities"].(map[string]any)
	require.Contains(t, entities, "customer")
	customer := entities["customer"].(map[string]any)
	fields := customer["fields"].(map[string]any)

	email := fields["email"].(*fusedField)
	assert.Equal(t, "string", email.Type)
	assert.True(t, email.Required)
	assert.ElementsMatch(t, []string{FragmentSourceUI, FragmentSourceDomain}, email.Sources)

	assert.ElementsMatch(t, []string{FragmentSourceUI, FragmentSourceDomain}, customer["sources"])
	assert.Equal(t, []string{FragmentSourceDomain, FragmentSourceUI}, unified["sources_used"])
}

func TestFuse_CrawlFailureIsAdditive(t *testing.T) {
	svc := NewFusionService(nil, staticCrawler{err: assert.AnError}, zap.NewNop())

	result, unified, err := svc.Fuse(context.Background(), FusionInputs{
		TestCaseURLs: []string{"https://down.example.com"},
		Domain:       "banking",
	})
	require.NoError(t, err)

	require.Len(t, result.Fallbacks, 1)
	assert.Equal(t, "fusion_crawl", result.Fallbacks[0].Step)
	assert.Equal(t, []string{FragmentSourceDomain}, unified["sources_used"])
}

func TestFuse_NoInputs(t *testing.T) {
	svc := NewFusionService(nil, staticCrawler{}, zap.NewNop())
	_, _, err := svc.Fuse(context.Background(), FusionInputs{})
	require.Error(t, err)
}

func TestFuse_EntityMergeBySubstring(t *testing.T) {
	ui := &SchemaFragment{Source: FragmentSourceUI, Entities: []EntitySpec{
		{Name: "customer_signup", Fields: []FieldSpec{
			{Name: "email", Type: "email"},
		}},
	}}

	svc := NewFusionService(nil, staticCrawler{fragment: ui}, zap.NewNop())

	_, unified, err := svc.Fuse(context.Background(), FusionInputs{
		TestCaseURLs: []string{"https://example.com"},
		Domain:       "ecommerce",
	})
	require.NoError(t, err)

	// "customer" from the domain pack folds into "customer_signup" claimed
	// by the heavier UI fragment.
	entities := unified["entities"].(map[string]any)
	assert.Contains(t, entities, "customer_signup")
	assert.NotContains(t, entities, "customer")
}
