package ospbot

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Discord manages the gateway session and tracks its connection state.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *Config
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	connected                   atomic.Bool
	user                        atomic.Pointer[discordgo.User]
	discordgoRemoveHandlerFuncs []func()
}

func newDiscord(config *Config, logger *slog.Logger) *Discord {
	return &Discord{
		config:                      config,
		logger:                      logger,
		discordgoRemoveHandlerFuncs: []func(){},
	}
}

// newSession creates a discordgo session authenticated with the bot token.
// Events are dispatched on their own goroutines.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = false
	disc.StateEnabled = true
	session.session = disc

	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}
	return session, nil
}

// identify returns the gateway identify payload: configured intents, and
// an online presence showing the configured activity
func (d *Discord) identify() discordgo.Identify {
	identify := discordgo.Identify{Intents: d.config.GatewayIntents}
	identify.Presence = discordgo.GatewayStatusUpdate{
		Status: string(discordgo.StatusOnline),
	}
	if d.config.Activity != "" {
		identify.Presence.Game = discordgo.Activity{
			Name: d.config.Activity,
			Type: discordgo.ActivityTypeGame,
		}
	}
	return identify
}

// presence is the status update showing the given activity, if any
func presence(activity string) discordgo.UpdateStatusData {
	data := discordgo.UpdateStatusData{Status: string(discordgo.StatusOnline)}
	if activity != "" {
		data.Activities = []*discordgo.Activity{
			{Name: activity, Type: discordgo.ActivityTypeGame},
		}
	}
	return data
}

// User returns the bot's own user, once a ready event has been received
func (d *Discord) User() *discordgo.User {
	return d.user.Load()
}

func (d *Discord) userID() string {
	if u := d.User(); u != nil {
		return u.ID
	}
	return ""
}

func (d *Discord) Connected() bool {
	return d.connected.Load()
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		d.logger.Info(
			"connected",
			"session_id", sessionID(s),
			"connects", d.metricConnects.Load(),
		)
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		d.logger.Warn(
			"disconnected",
			"session_id", sessionID(s),
			"disconnects", d.metricDisconnects.Load(),
		)
	}
}

func sessionID(s *discordgo.Session) string {
	if s != nil && s.State != nil {
		return s.State.SessionID
	}
	return ""
}

// DiscordSessionHandler defines the methods of `discordgo.Session` used by
// the bot, so they can be mocked in tests.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// ChannelMessageSend sends a message to a specified channel.
	ChannelMessageSend(
		channelID string,
		message string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendComplex sends a message with attachments, embeds
	// or allowed-mention settings.
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageEdit replaces the content of an existing message
	ChannelMessageEdit(
		channelID string,
		messageID string,
		content string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageDelete deletes a message
	ChannelMessageDelete(
		channelID string,
		messageID string,
		opts ...discordgo.RequestOption,
	) error

	// UpdateStatusComplex sends the given status update, untouched
	UpdateStatusComplex(data discordgo.UpdateStatusData) error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// HeartbeatLatency returns the latency between the last heartbeat
	// and its acknowledgement
	HeartbeatLatency() time.Duration

	// SetIdentify sets the identify object that's sent during the initial
	// handshake with the discord gateway
	SetIdentify(discordgo.Identify)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSend(channelID, message, opts...)
	if err != nil {
		d.logger.Error(
			"error sending message",
			tint.Err(err),
			"channel_id", channelID,
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendComplex(channelID, data, opts...)
	if err != nil {
		d.logger.Error(
			"error sending message",
			tint.Err(err),
			"channel_id", channelID,
			"files", len(data.Files),
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageEdit(
	channelID string,
	messageID string,
	content string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageEdit(channelID, messageID, content, opts...)
}

func (d DiscordSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	opts ...discordgo.RequestOption,
) error {
	return d.session.ChannelMessageDelete(channelID, messageID, opts...)
}

func (d DiscordSession) UpdateStatusComplex(data discordgo.UpdateStatusData) error {
	return d.session.UpdateStatusComplex(data)
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) HeartbeatLatency() time.Duration {
	return d.session.HeartbeatLatency()
}

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify = i
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	if d.session == nil {
		return fmt.Errorf("no session to set log level %s on", lvl)
	}
	d.session.LogLevel = discordgoLogLevel(lvl)
	return nil
}
