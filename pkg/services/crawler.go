package services

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"
)

// FieldSpec describes one field of an entity in a schema fragment.
type FieldSpec struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required" yaml:"required"`
}

// EntitySpec groups the fields of one logical entity.
type EntitySpec struct {
	Name   string      `json:"name" yaml:"name"`
	Fields []FieldSpec `json:"fields" yaml:"fields"`
}

// SchemaFragment is a partial schema inferred from one source. Fragments from
// multiple sources are merged by schema fusion; Source ranks their weight.
type SchemaFragment struct {
	Source   string       `json:"source"`
	Entities []EntitySpec `json:"entities"`
}

// Fragment source labels, in descending fusion weight.
const (
	FragmentSourceDB       = "db"
	FragmentSourceAPI      = "api"
	FragmentSourceUI       = "ui"
	FragmentSourceTestCase = "test_case"
	FragmentSourceDomain   = "domain"
)

// FragmentSourceHybrid marks a fragment blended from several of the sources
// above by hybrid-mode generation.
const FragmentSourceHybrid = "hybrid"

// UICrawler extracts form schemas from application URLs.
type UICrawler interface {
	Crawl(ctx context.Context, urls []string) (*SchemaFragment, error)
}

// HTTPCrawler fetches each URL and parses its HTML form fields into entity
// specs. One entity per form; forms without named inputs are skipped.
type HTTPCrawler struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPCrawler creates a crawler with a bounded request timeout.
func NewHTTPCrawler(logger *zap.Logger) *HTTPCrawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPCrawler{
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger.Named("crawler"),
	}
}

var _ UICrawler = (*HTTPCrawler)(nil)

// Crawl visits every URL and merges the extracted forms into one fragment.
// A URL that fails to fetch or parse fails the whole crawl; degradation to
// domain packs is the caller's concern.
func (c *HTTPCrawler) Crawl(ctx context.Context, urls []string) (*SchemaFragment, error) {
	fragment := &SchemaFragment{Source: FragmentSourceUI}
	for _, url := range urls {
		entities, err := c.crawlOne(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("crawling %s: %w", url, err)
		}
		fragment.Entities = append(fragment.Entities, entities...)
	}
	if len(fragment.Entities) == 0 {
		return nil, fmt.Errorf("no form fields found across %d urls", len(urls))
	}
	return fragment, nil
}

func (c *HTTPCrawler) crawlOne(ctx context.Context, url string) ([]EntitySpec, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	entities := extractForms(doc)
	c.logger.Debug("Crawled page",
		zap.String("url", url),
		zap.Int("forms", len(entities)))
	return entities, nil
}

// extractForms walks the document and turns each <form> with named inputs
// into an entity. Hidden and submit inputs are ignored.
func extractForms(doc *html.Node) []EntitySpec {
	var entities []EntitySpec
	formIdx := 0

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "form" {
			formIdx++
			entity := EntitySpec{Name: formEntityName(n, formIdx)}
			collectFields(n, &entity)
			if len(entity.Fields) > 0 {
				entities = append(entities, entity)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return entities
}

func formEntityName(form *html.Node, idx int) string {
	for _, name := range []string{"id", "name"} {
		if v := attrValue(form, name); v != "" {
			return strings.ToLower(v)
		}
	}
	return fmt.Sprintf("form_%d", idx)
}

func collectFields(n *html.Node, entity *EntitySpec) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "input":
			inputType := attrValue(n, "type")
			if inputType == "hidden" || inputType == "submit" || inputType == "button" {
				break
			}
			if name := fieldName(n); name != "" {
				entity.Fields = append(entity.Fields, FieldSpec{
					Name:     name,
					Type:     inferHTMLFieldType(inputType, name),
					Required: attrValue(n, "required") != "" || hasAttr(n, "required"),
				})
			}
		case "select", "textarea":
			if name := fieldName(n); name != "" {
				entity.Fields = append(entity.Fields, FieldSpec{
					Name:     name,
					Type:     "string",
					Required: hasAttr(n, "required"),
				})
			}
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectFields(child, entity)
	}
}

func fieldName(n *html.Node) string {
	if name := attrValue(n, "name"); name != "" {
		return strings.ToLower(name)
	}
	return strings.ToLower(attrValue(n, "id"))
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func inferHTMLFieldType(inputType, name string) string {
	switch inputType {
	case "email":
		return "email"
	case "tel":
		return "phone"
	case "number", "range":
		return "number"
	case "date", "datetime-local":
		return "date"
	case "password":
		return "password"
	case "checkbox":
		return "boolean"
	}
	return inferFieldType(name)
}

//go:embed domain_packs.yaml
var domainPacksYAML []byte

var (
	domainPacksOnce    sync.Once
	domainPacks        map[string][]EntitySpec
	domainPackFallback []EntitySpec
)

// loadDomainPacks parses the embedded pack catalog. The catalog is part of
// the binary, so a parse failure is a build defect and panics at first use.
func loadDomainPacks() {
	var catalog struct {
		Packs []struct {
			Name     string       `yaml:"name"`
			Aliases  []string     `yaml:"aliases"`
			Entities []EntitySpec `yaml:"entities"`
		} `yaml:"packs"`
		Default []EntitySpec `yaml:"default"`
	}
	if err := yaml.Unmarshal(domainPacksYAML, &catalog); err != nil {
		panic(fmt.Sprintf("invalid embedded domain pack catalog: %v", err))
	}

	domainPacks = make(map[string][]EntitySpec)
	for _, p := range catalog.Packs {
		domainPacks[p.Name] = p.Entities
		for _, alias := range p.Aliases {
			domainPacks[alias] = p.Entities
		}
	}
	domainPackFallback = catalog.Default
}

// domainPackFragment returns the reference schema for a known business
// domain. Unknown domains get the generic fallback entity set.
func domainPackFragment(domain string) *SchemaFragment {
	domainPacksOnce.Do(loadDomainPacks)

	if entities, ok := domainPacks[strings.ToLower(domain)]; ok {
		return &SchemaFragment{Source: FragmentSourceDomain, Entities: entities}
	}
	return &SchemaFragment{Source: FragmentSourceDomain, Entities: domainPackFallback}
}
