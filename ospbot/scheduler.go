package ospbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/lmittmann/tint"
)

const birthdayAnnounceJobName = "birthday_announce"

// birthdayAnnouncer posts a daily greeting for users whose birthday is
// today (UTC)
type birthdayAnnouncer struct {
	bot       *OSPBot
	channelID string
	cron      string
	scheduler gocron.Scheduler
	now       func() time.Time
	logger    *slog.Logger

	stopOnce sync.Once
	stopped  bool
	stopErr  error
}

func newBirthdayAnnouncer(d *OSPBot, logHandler slog.Handler) (*birthdayAnnouncer, error) {
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(newGocronLogger(logHandler)),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating scheduler: %w", err)
	}
	return &birthdayAnnouncer{
		bot:       d,
		channelID: d.config.BirthdayChannelID,
		cron:      d.config.BirthdayAnnounceCron,
		scheduler: s,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.New(logHandler).With(loggerNameKey, "scheduler"),
	}, nil
}

// Start schedules the announcement job. ctx is passed to each run.
func (a *birthdayAnnouncer) Start(ctx context.Context) error {
	job, err := a.scheduler.NewJob(
		gocron.CronJob(a.cron, false),
		gocron.NewTask(
			func() {
				if e := a.announce(ctx); e != nil {
					a.logger.ErrorContext(ctx, "birthday announcement failed", tint.Err(e))
					a.bot.ReportError(ctx, birthdayAnnounceJobName, e, nil)
				}
			},
		),
		gocron.WithName(birthdayAnnounceJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return errors.Join(
			fmt.Errorf("error scheduling %s: %w", birthdayAnnounceJobName, err),
			a.Stop(),
		)
	}
	a.scheduler.Start()

	next, _ := job.NextRun()
	a.logger.InfoContext(
		ctx,
		"scheduled birthday announcements",
		"cron", a.cron,
		"channel_id", a.channelID,
		"next_run", next,
	)
	return nil
}

// Stop shuts down the scheduler. Later calls return the first result.
func (a *birthdayAnnouncer) Stop() error {
	a.stopOnce.Do(
		func() {
			a.stopErr = a.scheduler.Shutdown()
			a.stopped = true
		},
	)
	return a.stopErr
}

// announce mentions everyone with a birthday today in a single message
func (a *birthdayAnnouncer) announce(ctx context.Context) error {
	users, err := a.bot.db.UsersWithBirthdates(ctx)
	if err != nil {
		return err
	}
	today := a.now()
	celebrating := birthdaysOn(users, today)
	if len(celebrating) == 0 {
		a.logger.DebugContext(ctx, "no birthdays today", "date", today.Format(birthdateLayout))
		return nil
	}

	session := a.bot.discord.session
	if session == nil {
		return errors.New("no discord session")
	}
	content := birthdayGreeting(celebrating)
	if _, err = session.ChannelMessageSend(a.channelID, content); err != nil {
		return fmt.Errorf("error sending birthday greeting: %w", err)
	}
	a.logger.InfoContext(ctx, "sent birthday greeting", "users", len(celebrating))
	return nil
}

func birthdayGreeting(users []UserInfo) string {
	mentions := make([]string, 0, len(users))
	for _, u := range users {
		mentions = append(mentions, u.Mention())
	}
	var who string
	switch len(mentions) {
	case 1:
		who = mentions[0]
	case 2:
		who = mentions[0] + " and " + mentions[1]
	default:
		who = strings.Join(mentions[:len(mentions)-1], ", ") + " and " + mentions[len(mentions)-1]
	}
	return truncate("🎉 Happy birthday "+who+"! 🎂", discordMaxMessageLength)
}
