package ospbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const (
	recordSeparator = string(rune(30))

	// cooldown buckets are pruned once there are this many
	maxCooldownBuckets = 10000
)

var ErrDuplicateCommand = errors.New("duplicate command name")

// CommandHandler runs a command. A returned error is logged and sent to
// the error channel.
type CommandHandler func(c *CommandContext) error

// Command is a text command provided by a cog
type Command struct {
	Name    string
	Aliases []string
	Help    string

	// Usage is shown after the command name in help output, ex: "[on|off]"
	Usage string

	// OwnerOnly commands are silently ignored for non-owners
	OwnerOnly bool

	// Cooldown allows one invocation per channel per Cooldown.
	// Zero disables it.
	Cooldown time.Duration

	Handler CommandHandler

	cog string
}

// Cog returns the name of the cog which registered the command
func (c *Command) Cog() string {
	return c.cog
}

func (c *Command) names() []string {
	return append([]string{c.Name}, c.Aliases...)
}

// CommandContext is passed to a CommandHandler
type CommandContext struct {
	ctx     context.Context
	Bot     *OSPBot
	Message *discordgo.Message
	Command *Command

	// Prefix is the prefix the command was invoked with
	Prefix string

	// Args are the whitespace-separated words following the command name
	Args   []string
	Logger *slog.Logger
}

func (c *CommandContext) Context() context.Context {
	return c.ctx
}

func (c *CommandContext) Session() DiscordSessionHandler {
	return c.Bot.discord.session
}

func (c *CommandContext) AuthorID() string {
	return messageAuthorID(c.Message)
}

// Reply sends content to the channel the command was invoked in,
// without pinging anyone it mentions
func (c *CommandContext) Reply(content string) (*discordgo.Message, error) {
	return c.Session().ChannelMessageSendComplex(
		c.Message.ChannelID,
		&discordgo.MessageSend{
			Content:         truncate(content, discordMaxMessageLength),
			AllowedMentions: &discordgo.MessageAllowedMentions{},
			Reference:       c.Message.Reference(),
		},
	)
}

// commandSet is the table of registered commands, keyed by lowercased
// name and alias
type commandSet struct {
	mu        sync.RWMutex
	commands  map[string]*Command
	ordered   []*Command
	cooldowns *cooldowns
}

func newCommandSet() *commandSet {
	return &commandSet{
		commands:  map[string]*Command{},
		cooldowns: newCooldowns(),
	}
}

// add registers every command in cmds under the given cog name. Nothing
// is registered if any name or alias is empty or already taken.
func (s *commandSet) add(cog string, cmds []*Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]struct{}{}
	for _, cmd := range cmds {
		if cmd == nil || cmd.Handler == nil {
			return fmt.Errorf("cog %q: command without a handler", cog)
		}
		for _, name := range cmd.names() {
			key := strings.ToLower(strings.TrimSpace(name))
			if key == "" || strings.ContainsAny(key, " \t\n") {
				return fmt.Errorf("cog %q: invalid command name %q", cog, name)
			}
			if existing, ok := s.commands[key]; ok {
				return fmt.Errorf(
					"%w: %q (cog %q) is already registered by cog %q",
					ErrDuplicateCommand, name, cog, existing.cog,
				)
			}
			if _, ok := seen[key]; ok {
				return fmt.Errorf("%w: %q is repeated in cog %q", ErrDuplicateCommand, name, cog)
			}
			seen[key] = struct{}{}
		}
	}

	for _, cmd := range cmds {
		cmd.cog = cog
		for _, name := range cmd.names() {
			s.commands[strings.ToLower(strings.TrimSpace(name))] = cmd
		}
		s.ordered = append(s.ordered, cmd)
	}
	return nil
}

func (s *commandSet) lookup(name string) (*Command, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cmd, ok := s.commands[strings.ToLower(name)]
	return cmd, ok
}

// list returns registered commands sorted by name
func (s *commandSet) list() []*Command {
	s.mu.RLock()
	rv := make([]*Command, len(s.ordered))
	copy(rv, s.ordered)
	s.mu.RUnlock()

	sort.Slice(rv, func(i, j int) bool { return rv[i].Name < rv[j].Name })
	return rv
}

// cooldowns tracks a token bucket per command and channel
type cooldowns struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func newCooldowns() *cooldowns {
	return &cooldowns{
		limiters: map[string]*rate.Limiter{},
		now:      time.Now,
	}
}

// allow consumes the bucket for cmd in channelID, returning false if the
// command is still cooling down there
func (c *cooldowns) allow(cmd *Command, channelID string) bool {
	if cmd.Cooldown <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	key := cmd.Name + recordSeparator + channelID
	limiter, ok := c.limiters[key]
	if !ok {
		if len(c.limiters) >= maxCooldownBuckets {
			c.prune(now)
		}
		limiter = rate.NewLimiter(rate.Every(cmd.Cooldown), 1)
		c.limiters[key] = limiter
	}
	return limiter.AllowN(now, 1)
}

// prune drops buckets which have fully refilled
func (c *cooldowns) prune(now time.Time) {
	for key, limiter := range c.limiters {
		if limiter.TokensAt(now) >= float64(limiter.Burst()) {
			delete(c.limiters, key)
		}
	}
}

// matchPrefix returns the longest prefix content starts with, compared
// case-insensitively
func matchPrefix(content string, prefixes []string) (string, bool) {
	var match string
	for _, p := range prefixes {
		if p == "" || len(p) > len(content) || len(p) <= len(match) {
			continue
		}
		if strings.EqualFold(content[:len(p)], p) {
			match = p
		}
	}
	return match, match != ""
}

// prefixes returns the accepted command prefixes: mentions of the bot,
// followed by the configured prefixes
func (d *OSPBot) prefixes() []string {
	rv := make([]string, 0, len(d.config.Prefixes)+2)
	if id := d.discord.userID(); id != "" {
		rv = append(rv, "<@"+id+">", "<@!"+id+">")
	}
	return append(rv, d.config.Prefixes...)
}

// Dispatch parses a command from m and runs it. Messages from bots,
// messages without a known prefix and unknown commands are ignored.
func (d *OSPBot) Dispatch(ctx context.Context, m *discordgo.Message) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	prefix, ok := matchPrefix(m.Content, d.prefixes())
	if !ok {
		return
	}
	fields := strings.Fields(m.Content[len(prefix):])
	if len(fields) == 0 {
		return
	}

	logger := d.logger.With(
		loggerNameKey, "commands",
		slog.Group("message", messageLogAttrs(m)...),
	)

	cmd, ok := d.commands.lookup(fields[0])
	if !ok {
		logger.DebugContext(ctx, "unknown command", "command", fields[0])
		return
	}
	logger = logger.With("command", cmd.Name)

	if cmd.OwnerOnly && !d.router.IsOwner(m.Author.ID) {
		logger.DebugContext(ctx, "ignoring owner-only command from non-owner")
		return
	}
	if !d.commands.cooldowns.allow(cmd, m.ChannelID) {
		logger.DebugContext(ctx, "command on cooldown")
		return
	}

	d.invokeCommand(
		ctx,
		&CommandContext{
			ctx:     WithLogger(ctx, logger),
			Bot:     d,
			Message: m,
			Command: cmd,
			Prefix:  prefix,
			Args:    fields[1:],
			Logger:  logger,
		},
	)
}

// invokeCommand runs the command's handler, reporting returned errors
// and recovered panics
func (d *OSPBot) invokeCommand(ctx context.Context, c *CommandContext) {
	event := "command:" + c.Command.Name
	defer func() {
		if rc := recover(); rc != nil {
			d.handleRecover(c.ctx, event, rc)
		}
	}()

	start := time.Now()
	err := c.Command.Handler(c)
	if err != nil {
		c.Logger.ErrorContext(ctx, "command failed", tint.Err(err), "duration", time.Since(start))
		d.ReportError(ctx, event, err, nil)
		return
	}
	c.Logger.DebugContext(ctx, "command finished", "duration", time.Since(start))
}

// helpCommand lists every registered command
func (d *OSPBot) helpCommand() *Command {
	return &Command{
		Name:    "help",
		Aliases: []string{"commands"},
		Help:    "Lists available commands",
		Handler: func(c *CommandContext) error {
			owner := d.router.IsOwner(c.AuthorID())
			var b strings.Builder
			b.WriteString("**Commands**\n")
			for _, cmd := range d.commands.list() {
				if cmd.OwnerOnly && !owner {
					continue
				}
				b.WriteString("`")
				b.WriteString(cmd.Name)
				if cmd.Usage != "" {
					b.WriteString(" ")
					b.WriteString(cmd.Usage)
				}
				b.WriteString("`")
				if cmd.Help != "" {
					b.WriteString(" - ")
					b.WriteString(cmd.Help)
				}
				b.WriteString("\n")
			}
			_, err := c.Reply(b.String())
			return err
		},
	}
}
