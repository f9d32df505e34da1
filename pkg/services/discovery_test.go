package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tdmstack/tdm-engine/pkg/models"
)

func TestInferSemanticType(t *testing.T) {
	tests := []struct {
		column string
		want   string
	}{
		{"email_address", models.PIITypeEmail},
		{"ip_address", models.PIITypeIPAddr},
		{"shipping_address", models.PIITypeAddress},
		{"first_name", models.PIITypeName},
		{"date_of_birth", models.PIITypeBirthday},
		{"created_at", ""},
		{"total", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, inferSemanticType(tt.column), "column %s", tt.column)
	}
}

func TestInferSemanticType_AmbiguousNamesStable(t *testing.T) {
	// ip_address and email_address match more than one hint list. Repeated
	// runs must agree so rediscovering a source never flips a column's
	// inferred type under the synthetic generator.
	for i := 0; i < 100; i++ {
		assert.Equal(t, models.PIITypeIPAddr, inferSemanticType("ip_address"))
		assert.Equal(t, models.PIITypeEmail, inferSemanticType("email_address"))
	}
}
