package restd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapJSONArrayEmpty(t *testing.T) {
	got := string(wrapJSONArray(nil))
	assert.Equal(t, "[]", got)
}

func TestWrapJSONArrayJoinsRawObjects(t *testing.T) {
	got := string(wrapJSONArray([]string{`{"a":1}`, `{"b":2}`}))
	assert.Equal(t, `[{"a":1},{"b":2}]`, got)
}

func TestParsePositiveInt(t *testing.T) {
	n, err := parsePositiveInt("42")
	assert.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = parsePositiveInt("-1")
	assert.Error(t, err, "expected an error for a non-positive value")

	_, err = parsePositiveInt("nope")
	assert.Error(t, err, "expected an error for a non-numeric value")
}
