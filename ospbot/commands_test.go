package ospbot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchPrefix(t *testing.T) {
	t.Parallel()

	prefixes := []string{"<@222>", "<@!222>", "o.", "."}
	tests := []struct {
		content string
		want    string
		ok      bool
	}{
		{content: ".ping", want: ".", ok: true},
		{content: "o.ping", want: "o.", ok: true},
		{content: "O.ping", want: "o.", ok: true},
		{content: "<@222> ping", want: "<@222>", ok: true},
		{content: "<@!222>ping", want: "<@!222>", ok: true},
		{content: "ping", ok: false},
		{content: "", ok: false},
		{content: "o", ok: false},
	}
	for _, tt := range tests {
		got, ok := matchPrefix(tt.content, prefixes)
		assert.Equal(t, tt.ok, ok, tt.content)
		assert.Equal(t, tt.want, got, tt.content)
	}
}

func TestCommandSet_Add(t *testing.T) {
	t.Parallel()

	s := newCommandSet()
	require.NoError(
		t, s.add(
			"one", []*Command{
				{Name: "Ping", Aliases: []string{"p"}, Handler: noopHandler},
				{Name: "echo", Handler: noopHandler},
			},
		),
	)

	cmd, ok := s.lookup("PING")
	require.True(t, ok)
	assert.Equal(t, "Ping", cmd.Name)
	assert.Equal(t, "one", cmd.Cog())

	cmd, ok = s.lookup("p")
	require.True(t, ok)
	assert.Equal(t, "Ping", cmd.Name)

	// an alias colliding with an existing name rejects the whole batch
	err := s.add(
		"two", []*Command{
			{Name: "new", Handler: noopHandler},
			{Name: "other", Aliases: []string{"echo"}, Handler: noopHandler},
		},
	)
	assert.ErrorIs(t, err, ErrDuplicateCommand)
	_, ok = s.lookup("new")
	assert.False(t, ok)

	err = s.add(
		"three", []*Command{
			{Name: "x", Handler: noopHandler},
			{Name: "y", Aliases: []string{"X"}, Handler: noopHandler},
		},
	)
	assert.ErrorIs(t, err, ErrDuplicateCommand)

	assert.Error(t, s.add("four", []*Command{{Name: "nohandler"}}))
	assert.Error(t, s.add("four", []*Command{{Name: "two words", Handler: noopHandler}}))
	assert.Error(t, s.add("four", []*Command{{Name: " ", Handler: noopHandler}}))

	list := s.list()
	require.Len(t, list, 2)
	assert.Equal(t, "Ping", list[0].Name)
	assert.Equal(t, "echo", list[1].Name)
}

func TestCooldowns(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := newCooldowns()
	c.now = func() time.Time { return now }

	cmd := &Command{Name: "blink", Cooldown: 5 * time.Second}
	assert.True(t, c.allow(cmd, "chan1"))
	assert.False(t, c.allow(cmd, "chan1"))

	// cooldowns are per channel
	assert.True(t, c.allow(cmd, "chan2"))

	now = now.Add(4 * time.Second)
	assert.False(t, c.allow(cmd, "chan1"))

	now = now.Add(time.Second)
	assert.True(t, c.allow(cmd, "chan1"))
	assert.False(t, c.allow(cmd, "chan1"))

	other := &Command{Name: "wink", Cooldown: 5 * time.Second}
	assert.True(t, c.allow(other, "chan1"))

	uncooled := &Command{Name: "ping"}
	for i := 0; i < 3; i++ {
		assert.True(t, c.allow(uncooled, "chan1"))
	}

	now = now.Add(time.Minute)
	c.mu.Lock()
	c.prune(now)
	assert.Empty(t, c.limiters)
	c.mu.Unlock()
}

// recordingCog records each invocation of its commands
type recordingCog struct {
	mu    sync.Mutex
	calls []*CommandContext
	err   error
}

func (c *recordingCog) handler(cc *CommandContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, cc)
	return c.err
}

func (c *recordingCog) Calls() []*CommandContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*CommandContext(nil), c.calls...)
}

func (c *recordingCog) registration() CogRegistration {
	return CogRegistration{
		Name: "recording",
		New: func(*OSPBot) (Cog, error) {
			return stubCog{
				name: "recording",
				commands: []*Command{
					{Name: "echo", Aliases: []string{"say"}, Handler: c.handler},
					{Name: "secret", OwnerOnly: true, Handler: c.handler},
					{Name: "slow", Cooldown: time.Minute, Handler: c.handler},
				},
			}, nil
		},
	}
}

func newRecordingBot(t testing.TB) (*OSPBot, *mockDiscordSession, *recordingCog) {
	t.Helper()
	rec := &recordingCog{}
	bot, session := newTestBot(t, nil, []CogRegistration{rec.registration()})
	require.NoError(t, bot.cogs.loadSetup(nil).Err())
	markReady(bot)
	return bot, session, rec
}

func TestDispatch(t *testing.T) {
	t.Parallel()

	bot, _, rec := newRecordingBot(t)
	ctx := context.Background()

	bot.Dispatch(ctx, newMessage(testUserID, ".echo hello   world"))
	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "echo", calls[0].Command.Name)
	assert.Equal(t, ".", calls[0].Prefix)
	assert.Equal(t, []string{"hello", "world"}, calls[0].Args)
	assert.Equal(t, testUserID, calls[0].AuthorID())

	bot.Dispatch(ctx, newMessage(testUserID, "o.SAY hi"))
	bot.Dispatch(ctx, newMessage(testUserID, "<@"+testBotUserID+"> echo"))
	bot.Dispatch(ctx, newMessage(testUserID, "<@!"+testBotUserID+">echo"))
	calls = rec.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "o.", calls[1].Prefix)
	assert.Equal(t, []string{"hi"}, calls[1].Args)
	assert.Equal(t, "<@"+testBotUserID+">", calls[2].Prefix)
	assert.Empty(t, calls[3].Args)
}

func TestDispatch_Ignored(t *testing.T) {
	t.Parallel()

	bot, session, rec := newRecordingBot(t)
	ctx := context.Background()

	fromBot := newMessage(testUserID, ".echo")
	fromBot.Author.Bot = true
	bot.Dispatch(ctx, fromBot)

	noAuthor := newMessage(testUserID, ".echo")
	noAuthor.Author = nil
	bot.Dispatch(ctx, noAuthor)

	bot.Dispatch(ctx, newMessage(testUserID, "echo"))
	bot.Dispatch(ctx, newMessage(testUserID, "."))
	bot.Dispatch(ctx, newMessage(testUserID, ".nope"))
	bot.Dispatch(ctx, newMessage(testUserID, ".secret"))

	assert.Empty(t, rec.Calls())
	assert.Empty(t, session.Sent())

	bot.Dispatch(ctx, newMessage(testOwnerID, ".secret"))
	assert.Len(t, rec.Calls(), 1)
}

func TestDispatch_Cooldown(t *testing.T) {
	t.Parallel()

	bot, _, rec := newRecordingBot(t)
	ctx := context.Background()

	bot.Dispatch(ctx, newMessage(testUserID, ".slow"))
	bot.Dispatch(ctx, newMessage(testOwnerID, ".slow"))
	assert.Len(t, rec.Calls(), 1)

	elsewhere := newMessage(testUserID, ".slow")
	elsewhere.ChannelID = "555555555555555555"
	bot.Dispatch(ctx, elsewhere)
	assert.Len(t, rec.Calls(), 2)
}

func TestDispatch_ErrorReported(t *testing.T) {
	t.Parallel()

	bot, session, rec := newRecordingBot(t)
	rec.err = errors.New("echo failed")

	bot.Dispatch(context.Background(), newMessage(testUserID, ".echo"))

	sent := session.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, testErrorChannelID, sent[0].ChannelID)
	assert.Contains(t, sent[0].Content, "An error occurred in an command:echo event")
	assert.Contains(t, sent[0].Content, "echo failed")
}

func TestReply(t *testing.T) {
	t.Parallel()

	bot, session, _ := newRecordingBot(t)
	m := newMessage(testUserID, ".echo")
	cc := &CommandContext{ctx: context.Background(), Bot: bot, Message: m}

	_, err := cc.Reply("<@" + testOwnerID + "> hello")
	require.NoError(t, err)

	sent := session.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, testChannelID, sent[0].ChannelID)
	require.NotNil(t, sent[0].Reference)
	assert.Equal(t, m.ID, sent[0].Reference.MessageID)
}

func TestHelpCommand(t *testing.T) {
	t.Parallel()

	bot, session, _ := newRecordingBot(t)
	ctx := context.Background()

	bot.Dispatch(ctx, newMessage(testUserID, ".help"))
	help := session.lastContent(t)
	assert.Contains(t, help, "`echo`")
	assert.Contains(t, help, "`help`")
	assert.NotContains(t, help, "secret")

	bot.Dispatch(ctx, newMessage(testOwnerID, ".commands"))
	assert.Contains(t, session.lastContent(t), "`secret`")
}
