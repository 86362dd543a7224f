package ospbot

import (
	"bytes"
	"log/slog"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t)
	require.NoError(t, cfg.Validate())

	cfg = newTestConfig(t)
	cfg.Token = ""
	assert.ErrorContains(t, cfg.Validate(), "Config.Token")

	cfg = newTestConfig(t)
	cfg.DatabaseType = dbTypePostgres
	err := cfg.Validate()
	assert.ErrorContains(t, err, "Config.PostgresUser")
	assert.ErrorContains(t, err, "Config.PostgresDB")
	assert.ErrorContains(t, err, "Config.PostgresHost")

	cfg.PostgresUser = "osp"
	cfg.PostgresDB = "ospbot"
	cfg.PostgresHost = "localhost"
	assert.NoError(t, cfg.Validate())

	cfg = newTestConfig(t)
	cfg.OwnerIDs = []string{"not-an-id"}
	cfg.Prefixes = nil
	cfg.LogLevel = nil
	err = cfg.Validate()
	assert.ErrorContains(t, err, "OwnerIDs")
	assert.ErrorContains(t, err, "Prefixes")
	assert.ErrorContains(t, err, "log_level must be set")

	cfg = newTestConfig(t)
	cfg.API.Enabled = true
	assert.ErrorContains(t, cfg.Validate(), "Config.API.Token")
	cfg.API.Token = "token"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_PostgresDSN(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.PostgresUser = "osp"
	cfg.PostgresPassword = "p@ss/word"
	cfg.PostgresDB = "ospbot"
	cfg.PostgresHost = "db.internal"

	dsn := cfg.PostgresDSN()
	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.internal:5432", u.Host)
	assert.Equal(t, "/ospbot", u.Path)
	assert.Equal(t, "osp", u.User.Username())
	password, ok := u.User.Password()
	require.True(t, ok)
	assert.Equal(t, "p@ss/word", password)

	cfg.PostgresPassword = ""
	cfg.PostgresPort = 0
	assert.Equal(t, "postgres://osp@db.internal:5432/ospbot", cfg.PostgresDSN())
}

func TestConfig_LogValueRedacts(t *testing.T) {
	t.Parallel()

	cfg := newTestConfig(t)
	cfg.Token = "super-secret-token"
	cfg.PostgresPassword = "super-secret-password"
	cfg.API.Token = "super-secret-api-token"

	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, nil))
	logger.Info("config", "config", cfg)

	out := buf.String()
	assert.NotContains(t, out, "super-secret")
	assert.Contains(t, out, "[redacted]")
	assert.Contains(t, out, `"strict_prefix":"."`)
}

func TestCORSConfig_GINConfig(t *testing.T) {
	t.Parallel()

	c := DefaultCORSConfig().GINConfig()
	assert.True(t, c.AllowAllOrigins)
	assert.Empty(t, c.AllowOrigins)
	assert.Equal(t, DefaultCORSAllowMethods, c.AllowMethods)

	cc := DefaultCORSConfig()
	cc.AllowOrigins = []string{"https://example.com"}
	c = cc.GINConfig()
	assert.False(t, c.AllowAllOrigins)
	assert.Equal(t, []string{"https://example.com"}, c.AllowOrigins)
}
