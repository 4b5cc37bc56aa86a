package policycore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAgainstSchemaAcceptsWellTypedPolicies(t *testing.T) {
	policies, err := LoadPolicySet("ok.cedar", []byte(testPolicies))
	require.NoError(t, err)

	assert.NoError(t, ValidateAgainstSchema(policies))
}

// A policy that reaches for an attribute no schema entity declares must be
// rejected at startup rather than silently accepted (SPEC_FULL.md §4.5).
func TestValidateAgainstSchemaRejectsUnknownAttribute(t *testing.T) {
	policies, err := LoadPolicySet("bad.cedar", []byte(`
permit (principal, action == Action::"GetList", resource)
when { resource.nonexistent_attribute == "x" };
`))
	require.NoError(t, err)

	assert.Error(t, ValidateAgainstSchema(policies))
}
