package ai

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDirectObject(t *testing.T) {
	value, err := Parse(`{"is_assignment": true, "confidence": 0.9}`)
	require.NoError(t, err)

	object, ok := value.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, true, object["is_assignment"])
}

func TestParseFencedArrayReturnsArray(t *testing.T) {
	raw := "```json\n[{\"number\": 1, \"question_text\": \"What is 2+2?\"}, {\"number\": 2, \"question_text\": \"Explain gravity.\"}]\n```"

	value, err := Parse(raw)
	require.NoError(t, err)

	array, ok := value.([]interface{})
	require.True(t, ok, "fenced array must parse as a list, not an object")
	require.Len(t, array, 2)

	first, ok := array[0].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "What is 2+2?", first["question_text"])
}

func TestParseArrayWithPreambleBeforeObjectRecovery(t *testing.T) {
	// The surrounding prose makes a direct parse fail; the array slice must
	// win over the braces of the first nested object.
	raw := `Here are the questions: [{"number": 1}, {"number": 2}] hope that helps`

	array, err := ParseArray(raw)
	require.NoError(t, err)
	require.Len(t, array, 2)
}

func TestParseGenericFence(t *testing.T) {
	raw := "```\n{\"title\": \"Lab 3\"}\n```"

	object, err := ParseObject(raw)
	require.NoError(t, err)
	require.Equal(t, "Lab 3", object["title"])
}

func TestParseRepairsPythonLiterals(t *testing.T) {
	raw := `{'is_assignment': True, 'deadline': None, 'fields': {'title': 'HW 2',},}`

	object, err := ParseObject(raw)
	require.NoError(t, err)
	require.Equal(t, true, object["is_assignment"])
	require.Nil(t, object["deadline"])

	fields, ok := object["fields"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "HW 2", fields["title"])
}

func TestParseRepairsTrailingCommas(t *testing.T) {
	array, err := ParseArray(`[1, 2, 3,]`)
	require.NoError(t, err)
	require.Len(t, array, 3)
}

func TestParseObjectWithSurroundingText(t *testing.T) {
	raw := `The analysis is as follows {"confidence": 0.8} thank you`

	object, err := ParseObject(raw)
	require.NoError(t, err)
	require.InDelta(t, 0.8, object["confidence"], 1e-9)
}

func TestParseFailureCarriesPreview(t *testing.T) {
	_, err := Parse("this is not json at all")
	require.Error(t, err)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Contains(t, parseErr.Preview, "this is not json")
}

func TestParseArrayRejectsObjectResult(t *testing.T) {
	_, err := ParseArray(`{"number": 1}`)
	require.Error(t, err)
}
