package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupPathResolvesNestedSegments(t *testing.T) {
	input := map[string]any{
		"clickType": "DOUBLE",
		"battery": map[string]any{
			"voltage": "2322mV",
		},
	}

	v, ok := LookupPath(input, "clickType")
	assert.True(t, ok)
	assert.Equal(t, "DOUBLE", v)

	v, ok = LookupPath(input, "battery.voltage")
	assert.True(t, ok)
	assert.Equal(t, "2322mV", v)
}

func TestLookupPathMissingSegment(t *testing.T) {
	input := map[string]any{"battery": map[string]any{"voltage": "2322mV"}}

	_, ok := LookupPath(input, "battery.current")
	assert.False(t, ok)

	// an intermediate segment that is not a map cannot be descended into
	_, ok = LookupPath(input, "battery.voltage.unit")
	assert.False(t, ok)

	_, ok = LookupPath(input, "temperature")
	assert.False(t, ok)
}

func TestLookupPathNilValueIsPresent(t *testing.T) {
	input := map[string]any{"clickType": nil}

	v, ok := LookupPath(input, "clickType")
	assert.True(t, ok, "an explicit null is present, not missing")
	assert.Nil(t, v)
}

func TestValidatePath(t *testing.T) {
	assert.NoError(t, ValidatePath("clickType"))
	assert.NoError(t, ValidatePath("battery.voltage"))

	assert.Error(t, ValidatePath(""))
	assert.Error(t, ValidatePath(".voltage"))
	assert.Error(t, ValidatePath("battery."))
	assert.Error(t, ValidatePath("battery..voltage"))
}

func TestPathLeaf(t *testing.T) {
	assert.Equal(t, "voltage", pathLeaf("battery.voltage"))
	assert.Equal(t, "clickType", pathLeaf("clickType"))
}
