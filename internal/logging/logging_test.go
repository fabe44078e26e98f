package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, "debug", "json")
	defer Setup("info", "text")

	log.WithField("symbol", "AAPL").Debug("fetched")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "AAPL", entry["symbol"])
	assert.Equal(t, "fetched", entry["msg"])
}

func TestSetupWriterBadLevel(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, "loud", "text")
	defer Setup("info", "text")
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}
