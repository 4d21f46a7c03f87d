package abandoned

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, SupportedResourceTypes(), cfg.ResourceTypes)
	assert.Zero(t, cfg.MinConfidenceScore)
	assert.False(t, cfg.IncludeZeroCost)
}

func TestParseConfig_ReadsAllFields(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{
		"resourceTypes":      []any{"microsoft.network/publicipaddresses"},
		"minConfidenceScore": 60,
		"includeZeroCost":    true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"microsoft.network/publicipaddresses"}, cfg.ResourceTypes)
	assert.Equal(t, 60, cfg.MinConfidenceScore)
	assert.True(t, cfg.IncludeZeroCost)
}

func TestParseConfig_NarrowedTypesGateDetectors(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{
		"resourceTypes": []any{"microsoft.compute/disks"},
	})
	require.NoError(t, err)

	assert.True(t, cfg.enabled("microsoft.compute/disks"))
	assert.False(t, cfg.enabled("microsoft.network/natgateways"))
}

func TestParseConfig_EmptyTypeListMeansAll(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{"resourceTypes": []any{}})
	require.NoError(t, err)

	assert.Equal(t, SupportedResourceTypes(), cfg.ResourceTypes)
}

func TestParseConfig_RejectsUnknownResourceType(t *testing.T) {
	_, err := ParseConfig(map[string]any{
		"resourceTypes": []any{"microsoft.web/sites"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "microsoft.web/sites")
}

func TestParseConfig_RejectsOutOfRangeConfidence(t *testing.T) {
	_, err := ParseConfig(map[string]any{"minConfidenceScore": 101})
	require.Error(t, err)

	_, err = ParseConfig(map[string]any{"minConfidenceScore": -1})
	require.Error(t, err)
}

func TestParseConfig_RejectsMalformedValues(t *testing.T) {
	_, err := ParseConfig(map[string]any{"resourceTypes": "not-a-list"})
	require.Error(t, err)
}
