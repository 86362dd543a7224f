package ospbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/ospbot/ospbot/ospbot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// OSPBot is the bot: it owns the gateway session, the database, the
// command table and the cogs providing its commands.
type OSPBot struct {
	config *Config

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	state    *State
	router   *Router
	commands *commandSet
	cogs     *cogLoader
	errors   *errorReporter
	discord  *Discord
	db       *Database

	// Serves the admin API, if enabled
	api *API

	// Posts birthday greetings, if a birthday channel is configured
	birthdays *birthdayAnnouncer

	// sleep is used by animations between frames
	sleep sleepFunc

	// ready is closed on the first gateway ready event
	ready     chan struct{}
	readyOnce sync.Once

	// signalStop enables an explicit stop signal to be sent to the bot,
	// such as by the `/api/quit` endpoint
	signalStop chan struct{}

	// signalReady has a value sent on it when Run has finished starting
	// up: the database is migrated, setup cogs are loaded and the gateway
	// session is open
	signalReady chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time
}

// New creates the bot from config. Nothing is connected until Run.
func New(config *Config) (*OSPBot, error) {
	return newBot(config, defaultCogs())
}

func newBot(config *Config, registry []CogRegistration) (*OSPBot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'postgres' or 'sqlite')"),
		)
	}

	config.fillLogLevels()

	d := &OSPBot{
		config:      config,
		state:       NewState(),
		commands:    newCommandSet(),
		sleep:       sleepContext,
		ready:       make(chan struct{}),
		signalStop:  make(chan struct{}, 1),
		signalReady: make(chan struct{}, 1),
	}

	d.logHandler = newLogHandler(defaultLogWriter, config.LogLevel)
	d.logger = slog.New(d.logHandler)
	slog.SetDefault(d.logger)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(defaultLogWriter, config.DiscordGoLogLevel),
	)

	d.discord = newDiscord(
		config,
		slog.New(newLogHandler(defaultLogWriter, config.DiscordLogLevel)).With(loggerNameKey, "discord"),
	)
	d.router = NewRouter(
		d.state,
		config.OwnerIDs,
		config.StrictPrefix,
		d.logger.With(loggerNameKey, "router"),
	)
	d.errors = newErrorReporter(
		d.discord,
		config.ErrorChannelID,
		d.ready,
		d.logger.With(loggerNameKey, "error_reporter"),
	)
	d.cogs = newCogLoader(d, registry, d.commands, d.logger.With(loggerNameKey, "cogs"))

	if err := d.commands.add("", []*Command{d.helpCommand()}); err != nil {
		errs = append(errs, err)
	}

	if config.API != nil && config.API.Enabled {
		api, err := newAPI(d, config.API)
		if err != nil {
			errs = append(errs, err)
		}
		d.api = api
	}

	return d, errors.Join(errs...)
}

func (d *OSPBot) State() *State {
	return d.state
}

func (d *OSPBot) Config() *Config {
	return d.config
}

func (d *OSPBot) ValidateConfig() error {
	return d.config.Validate()
}

// Stop sends the stop signal to a running bot, returning false if ctx
// is done first
func (d *OSPBot) Stop(ctx context.Context) bool {
	select {
	case d.signalStop <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run connects to the database and the discord gateway, and blocks until
// ctx is canceled or a stop signal is received.
func (d *OSPBot) Run(ctx context.Context) error {
	// prevents concurrent runs
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.startedAt = time.Now()
	logger := d.logger

	if err := d.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", d.config))

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, d.config.StartupTimeout)
	defer startCancel()

	if err := d.initRun(startCtx, ctx); err != nil {
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		return errors.Join(err, d.shutdown(ctx))
	}
	startCancel()
	logger.InfoContext(ctx, "init complete", "startup_duration", time.Since(d.startedAt))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(
		func() error {
			select {
			case <-d.signalStop:
				logger.Warn("got stop signal, canceling")
				cancel()
			case <-gctx.Done():
			}
			return nil
		},
	)
	if d.api != nil {
		g.Go(
			func() error {
				if err := d.api.Serve(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(err))
					return err
				}
				return nil
			},
		)
	}

	select {
	case d.signalReady <- struct{}{}:
		logger.InfoContext(ctx, "sent ready signal")
	default:
	}

	// block until something cancels the runtime context, generally an
	// interrupt, the `/api/quit` endpoint, or the API failing to serve
	<-gctx.Done()

	shutdownErr := d.shutdown(ctx)
	cancel()
	return errors.Join(g.Wait(), shutdownErr)
}

// initRun opens and migrates the database, loads non-delayed cogs and
// opens the gateway session
func (d *OSPBot) initRun(startCtx context.Context, ctx context.Context) error {
	if d.db == nil {
		d.logger.Debug("initializing DB...")
		db, err := OpenDatabase(startCtx, d.config, d.logger)
		if err != nil {
			return fmt.Errorf("error initializing database: %w", err)
		}
		d.db = db
	}
	if err := d.db.Migrate(startCtx); err != nil {
		return err
	}

	report := d.cogs.loadSetup(d.config.DelayedLoadCogs)
	if failed := report.Failed(); len(failed) > 0 {
		d.logger.WarnContext(ctx, "some cogs failed to load", "failed", len(failed))
	}

	if err := d.initDiscordSession(ctx); err != nil {
		return fmt.Errorf("error creating discord session: %w", err)
	}

	if d.config.BirthdayChannelID != "" {
		announcer, err := newBirthdayAnnouncer(
			d,
			newLogHandler(defaultLogWriter, d.config.LogLevel),
		)
		if err != nil {
			return err
		}
		if err = announcer.Start(ctx); err != nil {
			return err
		}
		d.birthdays = announcer
	}

	d.logger.InfoContext(ctx, "connecting to discord")
	if err := d.discord.session.Open(); err != nil {
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	return nil
}

func (d *OSPBot) initDiscordSession(ctx context.Context) error {
	logger := d.discord.logger

	if d.discord.session == nil {
		disc, err := d.discord.newSession()
		if err != nil {
			return err
		}
		d.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	for _, h := range d.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	d.discord.session.SetIdentify(d.discord.identify())

	d.discord.discordgoRemoveHandlerFuncs = []func(){
		d.discord.session.AddHandler(d.discord.handlerConnect()),
		d.discord.session.AddHandler(d.discord.handlerDisconnect()),
		d.discord.session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.Ready) {
				d.handleReady(ctx, r)
			},
		),
		d.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				d.handleMessageCreate(ctx, m)
			},
		),
	}
	return nil
}

// handleReady records the bot user and, on the first ready event only,
// loads the delayed cogs
func (d *OSPBot) handleReady(ctx context.Context, r *discordgo.Ready) {
	defer func() {
		if rc := recover(); rc != nil {
			d.handleRecover(ctx, "on_ready", rc)
		}
	}()

	if r != nil && r.User != nil {
		d.discord.user.Store(r.User)
		d.logger.InfoContext(
			ctx,
			"ready",
			"session_id", r.SessionID,
			slog.Group("user", "id", r.User.ID, "username", r.User.Username),
			"guilds", len(r.Guilds),
		)
	}
	d.readyOnce.Do(func() { close(d.ready) })

	if !d.state.MarkStarted() {
		d.logger.InfoContext(ctx, "reconnected, delayed cogs already handled")
		return
	}
	if len(d.config.DelayedLoadCogs) > 0 {
		d.cogs.loadDelayed(d.config.DelayedLoadCogs)
	}
}

// handleMessageCreate routes each incoming message to the dispatcher
func (d *OSPBot) handleMessageCreate(ctx context.Context, m *discordgo.MessageCreate) {
	defer func() {
		if rc := recover(); rc != nil {
			d.handleRecover(ctx, "on_message", rc)
		}
	}()
	if m == nil || m.Message == nil {
		return
	}
	d.router.RouteMessage(ctx, m.Message, d)
}

// shutdown closes the gateway session, scheduler, API and database,
// bounded by the configured shutdown timeout
func (d *OSPBot) shutdown(ctx context.Context) error {
	shutdownStart := time.Now()
	d.logger.WarnContext(
		ctx,
		"shutting down",
		"shutdown_timeout", d.config.ShutdownTimeout,
	)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), d.config.ShutdownTimeout)
	defer closeCancel()

	var errs []error
	if d.discord.session != nil {
		if err := d.discord.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing discord session: %w", err))
		}
	}
	if d.birthdays != nil {
		if err := d.birthdays.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("error stopping scheduler: %w", err))
		}
	}
	if d.api != nil {
		if err := d.api.Shutdown(closeCtx); err != nil {
			errs = append(errs, fmt.Errorf("error shutting down api: %w", err))
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing database: %w", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		d.logger.ErrorContext(ctx, "shutdown finished with errors", tint.Err(err))
	} else {
		d.logger.InfoContext(ctx, "shutdown complete", "duration", time.Since(shutdownStart))
	}
	return err
}
