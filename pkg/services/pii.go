package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/models"
	"github.com/tdmstack/tdm-engine/pkg/repositories"
)

// piiColumnHints maps a PII type to column-name keywords that signal it.
// Detection is name-based only; value sampling is the source database's
// concern and stays out of the metadata path.
var piiColumnHints = map[string][]string{
	models.PIITypeEmail:    {"email", "e_mail", "mail", "user_email"},
	models.PIITypePhone:    {"phone", "mobile", "tel", "contact_number", "phone_number"},
	models.PIITypeSSN:      {"ssn", "social_security", "social_security_number"},
	models.PIITypeName:     {"first_name", "last_name", "full_name", "customer_name", "name"},
	models.PIITypeAddress:  {"address", "street", "city", "zip", "billing_address"},
	models.PIITypeCard:     {"card_number", "credit_card", "pan"},
	models.PIITypeBirthday: {"birth", "dob", "date_of_birth"},
	models.PIITypeIPAddr:   {"ip_address", "ip_addr"},
}

// defaultTechniques picks the masking technique applied to each PII type
// unless a mask rule overrides it.
var defaultTechniques = map[string]string{
	models.PIITypeEmail:    models.TechniqueHash,
	models.PIITypePhone:    models.TechniqueRedact,
	models.PIITypeSSN:      models.TechniqueRedact,
	models.PIITypeName:     models.TechniqueFake,
	models.PIITypeAddress:  models.TechniqueFake,
	models.PIITypeCard:     models.TechniqueRedact,
	models.PIITypeBirthday: models.TechniqueNull,
	models.PIITypeIPAddr:   models.TechniqueHash,
}

func containsToken(columnName, keyword string) bool {
	return strings.Contains(strings.ToLower(columnName), keyword)
}

// PIIService classifies schema columns as PII by column-name heuristics and
// persists the findings for the masking step.
type PIIService struct {
	schemaRepo repositories.SchemaRepository
	piiRepo    repositories.PIIRepository
	logger     *zap.Logger
}

// NewPIIService creates a PIIService.
func NewPIIService(schemaRepo repositories.SchemaRepository, piiRepo repositories.PIIRepository, logger *zap.Logger) *PIIService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PIIService{schemaRepo: schemaRepo, piiRepo: piiRepo, logger: logger.Named("pii")}
}

// hintConfidence is the confidence assigned to a column-name match.
const hintConfidence = 0.85

// Classify scans every column of the schema version and records one finding
// per matched column. Re-running on the same version replaces the previous
// findings.
func (s *PIIService) Classify(ctx context.Context, schemaVersionID uuid.UUID, cfg *models.PIIConfig) (*StepResult, error) {
	graph, err := s.schemaRepo.LoadGraph(ctx, schemaVersionID)
	if err != nil {
		return nil, err
	}

	minConfidence := 0.0
	if cfg != nil {
		minConfidence = cfg.MinConfidence
	}

	var findings []*models.PIIFinding
	for _, table := range graph.Tables {
		for _, col := range graph.Columns[table.ID] {
			piiType := classifyColumn(col.Name)
			if piiType == "" || hintConfidence < minConfidence {
				continue
			}
			findings = append(findings, &models.PIIFinding{
				SchemaVersionID: schemaVersionID,
				TableName:       table.Name,
				ColumnName:      col.Name,
				PIIType:         piiType,
				Technique:       defaultTechniques[piiType],
				Confidence:      hintConfidence,
			})
		}
	}

	if err := s.piiRepo.ReplaceFindings(ctx, schemaVersionID, findings); err != nil {
		return nil, err
	}

	s.logger.Info("PII classification completed",
		zap.String("schema_version_id", schemaVersionID.String()),
		zap.Int("findings", len(findings)))

	return &StepResult{
		SchemaVersionID: &schemaVersionID,
		Message:         fmt.Sprintf("PII classification completed: %d findings", len(findings)),
		Details: map[string]any{
			"schema_version_id": schemaVersionID.String(),
			"findings":          len(findings),
		},
	}, nil
}

// classifyColumn returns the PII type for a column name, or "". Hint order
// within one type list matters: more specific keywords come first so
// "first_name" classifies as a name before the bare "name" keyword would.
func classifyColumn(name string) string {
	// Fixed evaluation order keeps classification deterministic.
	for _, piiType := range []string{
		models.PIITypeEmail, models.PIITypePhone, models.PIITypeSSN,
		models.PIITypeCard, models.PIITypeBirthday, models.PIITypeIPAddr,
		models.PIITypeAddress, models.PIITypeName,
	} {
		for _, k := range piiColumnHints[piiType] {
			if containsToken(name, k) {
				return piiType
			}
		}
	}
	return ""
}
