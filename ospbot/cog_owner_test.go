package ospbot

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOwnerBot(t testing.TB) (*OSPBot, *mockDiscordSession) {
	t.Helper()
	bot, session := newTestBot(t, nil, nil)
	require.NoError(t, bot.cogs.loadSetup(nil).Err())
	markReady(bot)
	return bot, session
}

func TestParseToggle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		args    []string
		current bool
		want    bool
		wantErr bool
	}{
		{args: nil, current: false, want: true},
		{args: nil, current: true, want: false},
		{args: []string{"on"}, current: true, want: true},
		{args: []string{"ENABLE"}, current: false, want: true},
		{args: []string{"off"}, current: false, want: false},
		{args: []string{"0"}, current: true, want: false},
		{args: []string{"maybe"}, current: true, want: true, wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseToggle(tt.args, tt.current)
		if tt.wantErr {
			assert.Error(t, err, tt.args)
		} else {
			assert.NoError(t, err, tt.args)
		}
		assert.Equal(t, tt.want, got, tt.args)
	}
}

func TestOwnerCog_Maintenance(t *testing.T) {
	t.Parallel()

	bot, session := newOwnerBot(t)

	// owner-only, so ignored without a reply
	send(bot, testUserID, ".maintenance on")
	assert.False(t, bot.State().Maintenance())
	assert.Empty(t, session.Sent())

	send(bot, testOwnerID, ".maintenance on")
	require.True(t, bot.State().Maintenance())
	assert.Equal(t, "Maintenance mode is now **on**.", session.lastContent(t))

	// non-owners are dropped entirely while in maintenance
	sent := len(session.Sent())
	send(bot, testUserID, ".ping")
	send(bot, testUserID, ".help")
	assert.Len(t, session.Sent(), sent)

	send(bot, testOwnerID, ".ping")
	assert.Equal(t, "Pong! `42ms`", session.lastContent(t))

	send(bot, testOwnerID, ".maint")
	assert.False(t, bot.State().Maintenance())
	assert.Equal(t, "Maintenance mode is now **off**.", session.lastContent(t))

	send(bot, testUserID, ".ping")
	assert.Equal(t, "Pong! `42ms`", session.lastContent(t))

	send(bot, testOwnerID, ".maintenance sideways")
	assert.False(t, bot.State().Maintenance())
	assert.Equal(t, "Usage: `maintenance [on|off]`", session.lastContent(t))
}

func TestOwnerCog_NoPrefix(t *testing.T) {
	t.Parallel()

	bot, session := newOwnerBot(t)

	send(bot, testOwnerID, "ping")
	assert.Empty(t, session.Sent())

	send(bot, testOwnerID, ".noprefix on")
	require.True(t, bot.State().NoPrefix())
	assert.Equal(t, "No-prefix mode is now **on**.", session.lastContent(t))

	send(bot, testOwnerID, "ping")
	assert.Equal(t, "Pong! `42ms`", session.lastContent(t))

	// only the strict prefix is left alone, so "o." gets a "." prepended
	// and no longer matches a command
	send(bot, testOwnerID, "o.noprefix off")
	assert.True(t, bot.State().NoPrefix())

	send(bot, testOwnerID, ".noprefix off")
	assert.False(t, bot.State().NoPrefix())

	sent := len(session.Sent())
	send(bot, testUserID, "ping")
	assert.Len(t, session.Sent(), sent)
}

func TestOwnerCog_Cogs(t *testing.T) {
	t.Parallel()

	bot, session := newOwnerBot(t)

	send(bot, testOwnerID, ".cogs")
	out := session.lastContent(t)
	assert.True(t, strings.HasPrefix(out, "**Loaded cogs:** birthday, owner, test\n"), out)
	assert.Contains(t, out, "**setup**")
	assert.Contains(t, out, "✅ `birthday`")
}

func TestOwnerCog_Activity(t *testing.T) {
	t.Parallel()

	bot, session := newOwnerBot(t)

	send(bot, testUserID, ".activity nope")
	session.mu.Lock()
	assert.Empty(t, session.statuses)
	session.mu.Unlock()

	send(bot, testOwnerID, ".activity with fire")
	assert.Equal(t, "Now playing **with fire**.", session.lastContent(t))

	send(bot, testOwnerID, ".status")
	assert.Equal(t, "Activity cleared.", session.lastContent(t))

	session.mu.Lock()
	defer session.mu.Unlock()
	require.Len(t, session.statuses, 2)
	require.Len(t, session.statuses[0].Activities, 1)
	assert.Equal(t, "with fire", session.statuses[0].Activities[0].Name)
	assert.Equal(t, string(discordgo.StatusOnline), session.statuses[0].Status)
	assert.Empty(t, session.statuses[1].Activities)
}
