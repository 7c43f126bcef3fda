package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datasweep/internal/errs"
)

func TestExtractJSONPlain(t *testing.T) {
	result, err := extractJSON(`{"responses": [{"response_id": "r1", "response_type": "confirmation", "confidence_score": 0.9, "rationale": "explicit deletion statement"}]}`)
	require.NoError(t, err)
	require.Len(t, result.Responses, 1)
	assert.Equal(t, "r1", result.Responses[0].ResponseID)
	assert.Equal(t, "confirmation", result.Responses[0].ResponseType)
	assert.Equal(t, 0.9, result.Responses[0].Confidence)
}

func TestExtractJSONFenced(t *testing.T) {
	fenced := "```json\n{\"responses\": [{\"response_id\": \"r1\", \"response_type\": \"rejection\", \"confidence_score\": 0.8}]}\n```"
	result, err := extractJSON(fenced)
	require.NoError(t, err)
	require.Len(t, result.Responses, 1)
	assert.Equal(t, "rejection", result.Responses[0].ResponseType)
}

func TestExtractJSONWithSurroundingProse(t *testing.T) {
	text := "Here is the classification you asked for: {\"responses\": []} hope that helps"
	result, err := extractJSON(text)
	require.NoError(t, err)
	assert.Empty(t, result.Responses)
}

func TestExtractJSONRejectsGarbage(t *testing.T) {
	_, err := extractJSON("I could not classify these messages, sorry.")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeValidationFailure))

	_, err = extractJSON("{not json at all]")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeValidationFailure))
}

func TestBuildPromptIncludesThreadContext(t *testing.T) {
	prompt, err := buildPrompt(ThreadPayload{
		BrokerName: "Acme Data",
		Responses: []ThreadMessage{
			{ResponseID: "r1", Sender: "privacy@acmedata.com", Subject: "Re: deletion", Body: "done"},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, prompt, "Acme Data")
	assert.Contains(t, prompt, "r1")
	assert.Contains(t, prompt, "confidence_score")
	assert.Contains(t, prompt, "request_info")
}
