package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// SubstituteVariables Tests
// =============================================================================

func TestSubstituteVariables_Simple(t *testing.T) {
	result := SubstituteVariables("${BACKEND_URL}/api", map[string]string{"BACKEND_URL": "https://b.example.com"})
	assert.Equal(t, "https://b.example.com/api", result)
}

func TestSubstituteVariables_NilVariables(t *testing.T) {
	assert.Equal(t, "${MISSING}", SubstituteVariables("${MISSING}", nil))
}

func TestSubstituteVariables_ValueWithDollarSign(t *testing.T) {
	vars := map[string]string{"PRICE": "$100"}
	result := SubstituteVariables("Cost: ${PRICE}", vars)
	assert.Equal(t, "Cost: $100", result)
}

func TestSubstituteVariables_TableDriven(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		variables map[string]string
		want      string
	}{
		{"simple substitution", "${VAR}", map[string]string{"VAR": "value"}, "value"},
		{"with default, var exists", "${VAR:-default}", map[string]string{"VAR": "actual"}, "actual"},
		{"with default, var missing", "${VAR:-default}", map[string]string{}, "default"},
		{"empty default", "[${VAR:-}]", map[string]string{}, "[]"},
		{"not found, no default", "${VAR}", map[string]string{}, "${VAR}"},
		{"empty value", "[${VAR}]", map[string]string{"VAR": ""}, "[]"},
		{"adjacent", "${A}${B}", map[string]string{"A": "1", "B": "2"}, "12"},
		{"no placeholders", "plain", nil, "plain"},
		{"invalid name kept", "${1BAD}", map[string]string{"1BAD": "x"}, "${1BAD}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SubstituteVariables(tt.value, tt.variables))
		})
	}
}

// =============================================================================
// Resolution Tests
// =============================================================================

func TestUnresolvedVariables(t *testing.T) {
	missing := UnresolvedVariables("${B}-${A}-${A}-${C:-x}-${D}", map[string]string{"D": "d"})
	assert.Equal(t, []string{"A", "B"}, missing)
}

func TestResolveEnv(t *testing.T) {
	env := map[string]string{
		"VITE_API_BASE_URL": "${BACKEND_URL}/api",
		"STATIC":            "value",
	}

	rendered, missing := ResolveEnv(env, map[string]string{"BACKEND_URL": "https://api.example.com"})
	assert.Empty(t, missing)
	assert.Equal(t, "https://api.example.com/api", rendered["VITE_API_BASE_URL"])
	assert.Equal(t, "value", rendered["STATIC"])

	_, missing = ResolveEnv(env, nil)
	assert.Equal(t, []string{"BACKEND_URL"}, missing)
}
