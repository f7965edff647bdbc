package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireString(t *testing.T) {
	t.Setenv("BRIDGE_TEST_REQUIRED", "value")
	v, err := RequireString("BRIDGE_TEST_REQUIRED")
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	_, err = RequireString("BRIDGE_TEST_ABSENT_VAR")
	assert.Error(t, err)
}

func TestOptionalString(t *testing.T) {
	assert.Equal(t, "fallback", OptionalString("BRIDGE_TEST_ABSENT_VAR", "fallback"))
	t.Setenv("BRIDGE_TEST_OPTIONAL", "set")
	assert.Equal(t, "set", OptionalString("BRIDGE_TEST_OPTIONAL", "fallback"))
}

func TestOptionalInt(t *testing.T) {
	assert.Equal(t, 7070, OptionalInt("BRIDGE_TEST_ABSENT_VAR", 7070))
	t.Setenv("BRIDGE_TEST_INT", "9000")
	assert.Equal(t, 9000, OptionalInt("BRIDGE_TEST_INT", 7070))
	t.Setenv("BRIDGE_TEST_INT", "not-a-number")
	assert.Equal(t, 7070, OptionalInt("BRIDGE_TEST_INT", 7070))
}

func TestOptionalFloat(t *testing.T) {
	assert.InDelta(t, 0.0, OptionalFloat("BRIDGE_TEST_ABSENT_VAR", 0.0), 0.0001)
	t.Setenv("BRIDGE_TEST_FLOAT", "3.5")
	assert.InDelta(t, 3.5, OptionalFloat("BRIDGE_TEST_FLOAT", 0.0), 0.0001)
}
