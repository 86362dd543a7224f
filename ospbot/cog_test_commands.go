package ospbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	testCogName       = "test"
	animationCooldown = 5 * time.Second
)

// Frame is one step of an Animation: the message content, and how long
// it stays up before the next step
type Frame struct {
	Content string
	Hold    time.Duration
}

// Animation is a scripted message. The first frame is sent, each later
// frame is an edit of that message, and after the last frame's hold the
// message and the command that triggered it are deleted.
type Animation struct {
	Name   string
	Help   string
	Frames []Frame
}

var animations = []Animation{
	{
		Name: "blink",
		Help: "Blinks",
		Frames: []Frame{
			{Content: "👁👄👁", Hold: 500 * time.Millisecond},
			{Content: "➖👄➖", Hold: 100 * time.Millisecond},
			{Content: "👁👄👁", Hold: time.Second},
		},
	},
	{
		Name: "blink2",
		Help: "Blinks, differently",
		Frames: []Frame{
			{Content: "👀", Hold: 500 * time.Millisecond},
			{Content: "😑", Hold: 100 * time.Millisecond},
			{Content: "👀", Hold: time.Second},
		},
	},
	{
		Name: "wink",
		Help: "Winks",
		Frames: []Frame{
			{Content: "👁👄👁", Hold: 500 * time.Millisecond},
			{Content: "👁👄➖", Hold: 100 * time.Millisecond},
			{Content: "👁👄👁", Hold: time.Second},
		},
	},
	{
		Name: "smiles",
		Help: "Smiles, increasingly",
		Frames: []Frame{
			{Content: ":slight_smile:", Hold: time.Second},
			{Content: ":grinning:", Hold: time.Second},
			{Content: ":smiley:", Hold: time.Second},
			{Content: ":smile:", Hold: time.Second},
			{Content: ":grin:", Hold: time.Second},
			{Content: ":laughing:", Hold: time.Second},
			{Content: ":joy:", Hold: time.Second},
			{Content: ":rofl:", Hold: time.Second},
		},
	},
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// testCog provides the animation commands
type testCog struct {
	bot *OSPBot
}

func newTestCog(d *OSPBot) (Cog, error) {
	return &testCog{bot: d}, nil
}

func (*testCog) Name() string {
	return testCogName
}

func (c *testCog) Commands() []*Command {
	cmds := make([]*Command, 0, len(animations))
	for _, a := range animations {
		cmds = append(
			cmds, &Command{
				Name:     a.Name,
				Help:     a.Help,
				Cooldown: animationCooldown,
				Handler:  c.animationHandler(a),
			},
		)
	}
	return cmds
}

func (c *testCog) animationHandler(a Animation) CommandHandler {
	return func(cc *CommandContext) error {
		return playAnimation(
			cc.Context(),
			cc.Session(),
			cc.Message.ChannelID,
			cc.Message.ID,
			a,
			c.bot.sleep,
			cc.Logger,
		)
	}
}

// playAnimation plays a through in channelID, then deletes the animated
// message and the invoking message. If a message disappears part way
// through, the remaining steps are skipped and nil is returned.
func playAnimation(
	ctx context.Context,
	session DiscordSessionHandler,
	channelID string,
	invokingMessageID string,
	a Animation,
	sleep sleepFunc,
	logger *slog.Logger,
) error {
	if len(a.Frames) == 0 {
		return nil
	}
	logger = logger.With("animation", a.Name)

	msg, err := session.ChannelMessageSend(channelID, a.Frames[0].Content)
	if err != nil {
		return fmt.Errorf("error sending %s animation: %w", a.Name, err)
	}
	if err = sleep(ctx, a.Frames[0].Hold); err != nil {
		return stopAnimation(ctx, logger, err)
	}

	for _, frame := range a.Frames[1:] {
		if _, err = session.ChannelMessageEdit(channelID, msg.ID, frame.Content); err != nil {
			return stopAnimation(ctx, logger, err)
		}
		if err = sleep(ctx, frame.Hold); err != nil {
			return stopAnimation(ctx, logger, err)
		}
	}

	if err = session.ChannelMessageDelete(channelID, msg.ID); err != nil {
		return stopAnimation(ctx, logger, err)
	}
	if err = session.ChannelMessageDelete(channelID, invokingMessageID); err != nil {
		return stopAnimation(ctx, logger, err)
	}
	return nil
}

// stopAnimation decides whether the error that ended an animation
// should be reported
func stopAnimation(ctx context.Context, logger *slog.Logger, err error) error {
	switch {
	case isMessageGone(err):
		logger.DebugContext(ctx, "animation message gone, stopping", "error", err)
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		logger.DebugContext(ctx, "animation canceled", "error", err)
		return nil
	default:
		return fmt.Errorf("animation stopped: %w", err)
	}
}
