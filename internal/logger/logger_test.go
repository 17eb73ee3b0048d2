package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentTagsChildLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, "production")

	child := Component(base, "router")
	child.Info().Msg("message routed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "router", line["component"])
	assert.Equal(t, "message routed", line["message"])
}
