package ospbot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// jsonLogs decodes each line written by a slog.JSONHandler
func jsonLogs(t testing.TB, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var rv []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		rv = append(rv, m)
	}
	return rv
}

func TestDiscordgoLogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, discordgo.LogDebug, discordgoLogLevel(slog.LevelDebug))
	assert.Equal(t, discordgo.LogDebug, discordgoLogLevel(slog.LevelDebug-4))
	assert.Equal(t, discordgo.LogInformational, discordgoLogLevel(slog.LevelInfo))
	assert.Equal(t, discordgo.LogWarning, discordgoLogLevel(slog.LevelWarn))
	assert.Equal(t, discordgo.LogError, discordgoLogLevel(slog.LevelError))
}

func TestDiscordgoLoggerFunc(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	handler := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logFunc := discordgoLoggerFunc(context.Background(), handler)

	logFunc(discordgo.LogWarning, 0, "heartbeat %s\n", "late")
	logFunc(discordgo.LogError, 0, "bad")
	logFunc(99, 0, "unknown level")

	logs := jsonLogs(t, buf)
	require.Len(t, logs, 3)
	assert.Equal(t, "WARN", logs[0]["level"])
	assert.Equal(t, "heartbeat late", logs[0]["msg"])
	assert.Equal(t, "discordgo", logs[0][loggerNameKey])
	assert.Equal(t, "ERROR", logs[1]["level"])
	assert.Equal(t, "INFO", logs[2]["level"])
}

func TestGORMLogger_Trace(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	handler := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	g := newGORMLogger(handler, 100*time.Millisecond)
	ctx := context.Background()
	fc := func() (string, int64) { return "SELECT 1", 1 }

	g.Trace(ctx, time.Now(), fc, nil)
	g.Trace(ctx, time.Now().Add(-time.Second), fc, nil)
	g.Trace(ctx, time.Now(), fc, errors.New("no such table"))
	g.Trace(ctx, time.Now(), fc, gorm.ErrRecordNotFound)

	logs := jsonLogs(t, buf)
	require.Len(t, logs, 4)
	assert.Equal(t, "sql completed", logs[0]["msg"])
	assert.Equal(t, "slow sql", logs[1]["msg"])
	assert.Equal(t, "WARN", logs[1]["level"])
	assert.Equal(t, "sql error", logs[2]["msg"])
	assert.Equal(t, "no such table", logs[2]["err"])
	assert.Equal(t, "sql completed", logs[3]["msg"])
	assert.Equal(t, "SELECT 1", logs[3]["sql"])
}

func TestGocronLogger(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	g := newGocronLogger(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	g.Debug("hidden")
	g.Info("scheduled", "job", "birthday_announce")
	g.Error("failed")

	logs := jsonLogs(t, buf)
	require.Len(t, logs, 2)
	assert.Equal(t, "scheduled", logs[0]["msg"])
	assert.Equal(t, "birthday_announce", logs[0]["job"])
	assert.Equal(t, "gocron", logs[0][loggerNameKey])
}
