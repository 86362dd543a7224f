package ospbot

import (
	"fmt"
	"strings"
	"time"
)

const ownerCogName = "owner"

// ownerCog has the bot administration commands
type ownerCog struct {
	bot *OSPBot
}

func newOwnerCog(d *OSPBot) (Cog, error) {
	return &ownerCog{bot: d}, nil
}

func (*ownerCog) Name() string {
	return ownerCogName
}

func (c *ownerCog) Commands() []*Command {
	return []*Command{
		{
			Name:      "maintenance",
			Aliases:   []string{"maint"},
			Usage:     "[on|off]",
			Help:      "Only respond to owners",
			OwnerOnly: true,
			Handler: c.toggle(
				"Maintenance mode",
				c.bot.state.Maintenance,
				c.bot.state.SetMaintenance,
			),
		},
		{
			Name:      "noprefix",
			Usage:     "[on|off]",
			Help:      "Let owners run commands without a prefix",
			OwnerOnly: true,
			Handler: c.toggle(
				"No-prefix mode",
				c.bot.state.NoPrefix,
				c.bot.state.SetNoPrefix,
			),
		},
		{
			Name:      "cogs",
			Help:      "Shows cog load results",
			OwnerOnly: true,
			Handler:   c.cogs,
		},
		{
			Name:      "activity",
			Aliases:   []string{"status"},
			Usage:     "[text]",
			Help:      "Sets the bot's activity until the next reconnect",
			OwnerOnly: true,
			Handler:   c.activity,
		},
		{
			Name:    "ping",
			Help:    "Shows gateway latency",
			Handler: c.ping,
		},
	}
}

// parseToggle interprets an optional on/off argument. With no argument,
// the current value is flipped.
func parseToggle(args []string, current bool) (bool, error) {
	if len(args) == 0 {
		return !current, nil
	}
	switch strings.ToLower(args[0]) {
	case "on", "true", "enable", "enabled", "yes", "1":
		return true, nil
	case "off", "false", "disable", "disabled", "no", "0":
		return false, nil
	default:
		return current, fmt.Errorf("expected on or off, got %q", args[0])
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func (c *ownerCog) toggle(
	label string,
	get func() bool,
	set func(bool) bool,
) CommandHandler {
	return func(cc *CommandContext) error {
		enabled, err := parseToggle(cc.Args, get())
		if err != nil {
			_, replyErr := cc.Reply(fmt.Sprintf("Usage: `%s %s`", cc.Command.Name, cc.Command.Usage))
			return replyErr
		}
		previous := set(enabled)
		cc.Logger.WarnContext(
			cc.Context(),
			"toggled "+cc.Command.Name,
			"enabled", enabled,
			"previous", previous,
			"state", c.bot.state.Snapshot(),
		)
		_, err = cc.Reply(fmt.Sprintf("%s is now **%s**.", label, onOff(enabled)))
		return err
	}
}

func (c *ownerCog) cogs(cc *CommandContext) error {
	var b strings.Builder
	b.WriteString("**Loaded cogs:** ")
	if loaded := c.bot.cogs.Loaded(); len(loaded) > 0 {
		b.WriteString(strings.Join(loaded, ", "))
	} else {
		b.WriteString("none")
	}
	b.WriteString("\n")

	for _, report := range c.bot.cogs.Reports() {
		fmt.Fprintf(&b, "**%s** (%s)\n", report.Phase, report.StartedAt.Format("2006-01-02 15:04:05 MST"))
		for _, res := range report.Results {
			if res.OK() {
				fmt.Fprintf(&b, "✅ `%s` %s\n", res.Name, res.Duration.Round(time.Microsecond))
			} else {
				fmt.Fprintf(&b, "❌ `%s` %s\n", res.Name, truncate(res.Error, 200))
			}
		}
	}
	_, err := cc.Reply(b.String())
	return err
}

func (c *ownerCog) ping(cc *CommandContext) error {
	latency := cc.Session().HeartbeatLatency()
	_, err := cc.Reply(fmt.Sprintf("Pong! `%dms`", latency.Milliseconds()))
	return err
}

func (c *ownerCog) activity(cc *CommandContext) error {
	activity := strings.Join(cc.Args, " ")
	if err := cc.Session().UpdateStatusComplex(presence(activity)); err != nil {
		return fmt.Errorf("error updating status: %w", err)
	}
	cc.Logger.InfoContext(cc.Context(), "updated activity", "activity", activity)
	if activity == "" {
		_, err := cc.Reply("Activity cleared.")
		return err
	}
	_, err := cc.Reply(fmt.Sprintf("Now playing **%s**.", activity))
	return err
}
