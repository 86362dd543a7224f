package cmd

import (
	"bytes"
	"testing"

	"github.com/ospbot/ospbot/ospbot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWriteConfigRedactsSecrets(t *testing.T) {
	t.Parallel()

	c := ospbot.DefaultConfig()
	c.Token = "bot-secret"
	c.PostgresPassword = "db-secret"
	c.API.Token = "api-secret"

	buf := &bytes.Buffer{}
	require.NoError(t, writeConfig(buf, c))

	out := buf.String()
	assert.NotContains(t, out, "bot-secret")
	assert.NotContains(t, out, "db-secret")
	assert.NotContains(t, out, "api-secret")

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, redacted, decoded["botToken"])
	assert.Equal(t, redacted, decoded["PSQL_PASSWORD"])
	assert.Equal(t, "INFO", decoded["log_level"])
	assert.Equal(t, ospbot.DefaultStrictPrefix, decoded["strict_prefix"])

	api, ok := decoded["api"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, redacted, api["token"])

	// the original config is untouched
	assert.Equal(t, "bot-secret", c.Token)
	assert.Equal(t, "api-secret", c.API.Token)
}

func TestRedactedConfigLeavesEmptySecrets(t *testing.T) {
	t.Parallel()

	c := ospbot.DefaultConfig()
	rc := redactedConfig(c)
	assert.Empty(t, rc.Token)
	assert.Empty(t, rc.PostgresPassword)
	assert.Empty(t, rc.API.Token)
}
