package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_Name(t *testing.T) {
	b, err := MarshalCanonical(NewName("wait", "for", 0.1, 2))
	require.NoError(t, err)
	assert.Equal(t, `["wait","for",0.1,2]`, string(b))
}

func TestMarshalCanonical_ObjectKeyOrder(t *testing.T) {
	b, err := MarshalCanonical(map[string]any{
		"b":  1,
		"a":  "x",
		"aa": true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","aa":true,"b":1}`, string(b))
}

func TestMarshalCanonical_NoHTMLEscape(t *testing.T) {
	b, err := MarshalCanonical("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(b))
}

func TestMarshalCanonical_NFC(t *testing.T) {
	// "e" + combining acute accent normalises to U+00E9
	b, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(b))
}

func TestMarshalCanonical_LineSeparatorsStayLiteral(t *testing.T) {
	b, err := MarshalCanonical("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(b))
}

func TestMarshalCanonical_RejectsNull(t *testing.T) {
	_, err := MarshalCanonical(nil)
	assert.Error(t, err)

	_, err = MarshalCanonical([]any{"a", nil})
	assert.Error(t, err)
}
