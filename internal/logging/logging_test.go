package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithWriter("info", "json", &buf)
	require.NoError(t, err)
	l.Debug("hidden")
	l.Warn("the reaction is DROPPED", zap.String("reaction", "2020-05-01_R5"))
	require.NoError(t, l.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "2020-05-01_R5", entry["reaction"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestInvalidSettings(t *testing.T) {
	_, err := New("loud", "json")
	assert.ErrorContains(t, err, "invalid log level")
	_, err = New("info", "xml")
	assert.ErrorContains(t, err, "invalid log format")

	l, err := New("debug", "")
	require.NoError(t, err)
	assert.NotNil(t, l)
}
