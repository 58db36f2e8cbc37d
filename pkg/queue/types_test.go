package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEgressDescriptor(t *testing.T) {
	t.Run("full descriptor", func(t *testing.T) {
		input := json.RawMessage(`{"runtime":{"egress":{"action":"external.write","target_url":"https://example.net/submit","method":"POST"}}}`)
		desc, err := parseEgressDescriptor(input)
		require.NoError(t, err)
		require.NotNil(t, desc)
		assert.Equal(t, "external.write", desc.Action)
		assert.Equal(t, "https://example.net/submit", desc.TargetURL)
		assert.Equal(t, "POST", desc.Method)
	})

	t.Run("no runtime block", func(t *testing.T) {
		desc, err := parseEgressDescriptor(json.RawMessage(`{"goal":"summarize"}`))
		require.NoError(t, err)
		assert.Nil(t, desc)
	})

	t.Run("empty input", func(t *testing.T) {
		desc, err := parseEgressDescriptor(nil)
		require.NoError(t, err)
		assert.Nil(t, desc)
	})

	t.Run("malformed input", func(t *testing.T) {
		_, err := parseEgressDescriptor(json.RawMessage(`{`))
		require.Error(t, err)
	})
}

func TestRunActor(t *testing.T) {
	actorType, actorID := runActor(json.RawMessage(`{"agent_id":"agt_1"}`))
	assert.Equal(t, "agent", actorType)
	assert.Equal(t, "agt_1", actorID)

	actorType, actorID = runActor(json.RawMessage(`{}`))
	assert.Equal(t, "service", actorType)
	assert.Equal(t, "run-worker", actorID)
}
