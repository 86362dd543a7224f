package ospbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const errorReportFilename = "traceback.txt"

// errorReporter posts error traces to the configured error channel
type errorReporter struct {
	discord   *Discord
	channelID string
	ready     <-chan struct{}
	maxLength int
	logger    *slog.Logger
}

func newErrorReporter(
	discord *Discord,
	channelID string,
	ready <-chan struct{},
	logger *slog.Logger,
) *errorReporter {
	return &errorReporter{
		discord:   discord,
		channelID: channelID,
		ready:     ready,
		maxLength: discordMaxMessageLength,
		logger:    logger,
	}
}

// errorTrace is the error text followed by the stack, when there is one
func errorTrace(err error, stack []byte) string {
	var msg string
	if err != nil {
		msg = err.Error()
	}
	if len(stack) == 0 {
		return msg
	}
	return msg + "\n\n" + strings.TrimRight(string(stack), "\n")
}

func errorReportHeader(event string) string {
	return fmt.Sprintf("```yaml\nAn error occurred in an %s event```", event)
}

func errorReportText(event string, trace string) string {
	return errorReportHeader(event) + "```go\n" + trace + "\n```"
}

// Report waits for the gateway to be ready, then sends a report of err to
// the error channel. When the full report is longer than a discord
// message allows, only the header is sent as text, and the trace is
// attached as a file. Delivery errors are logged and returned, never
// retried.
func (r *errorReporter) Report(
	ctx context.Context,
	event string,
	err error,
	stack []byte,
) error {
	trace := errorTrace(err, stack)
	logger := r.logger.With("event", event)

	if r.channelID == "" {
		logger.WarnContext(ctx, "no error channel configured, not reporting", "trace", trace)
		return nil
	}

	select {
	case <-r.ready:
	case <-ctx.Done():
		logger.WarnContext(
			ctx,
			"gave up waiting for ready to report error",
			tint.Err(ctx.Err()),
			"trace", trace,
		)
		return ctx.Err()
	}

	session := r.discord.session
	if session == nil {
		return errors.New("no discord session")
	}

	text := errorReportText(event, trace)
	var sendErr error
	if utf8.RuneCountInString(text) <= r.maxLength {
		_, sendErr = session.ChannelMessageSend(r.channelID, text)
	} else {
		_, sendErr = session.ChannelMessageSendComplex(
			r.channelID,
			&discordgo.MessageSend{
				Content: errorReportHeader(event),
				Files: []*discordgo.File{
					{
						Name:        errorReportFilename,
						ContentType: "text/plain",
						Reader:      strings.NewReader(trace),
					},
				},
			},
		)
	}
	if sendErr != nil {
		logger.ErrorContext(
			ctx,
			"error sending error report",
			tint.Err(sendErr),
			"channel_id", r.channelID,
			"trace", trace,
		)
		return sendErr
	}
	logger.InfoContext(ctx, "sent error report", "channel_id", r.channelID)
	return nil
}

// ReportError sends an error report for the given event to the error
// channel. It blocks until the gateway is ready, or ctx is done.
func (d *OSPBot) ReportError(
	ctx context.Context,
	event string,
	err error,
	stack []byte,
) {
	_ = d.errors.Report(ctx, event, err, stack)
}

// handleRecover logs and reports a recovered panic
func (d *OSPBot) handleRecover(ctx context.Context, event string, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = d.logger
	}
	stack := debug.Stack()

	var err error
	switch v := rc.(type) {
	case error:
		err = v
	case string:
		err = errors.New(v)
	default:
		err = fmt.Errorf("%v", v)
	}
	logger.ErrorContext(
		ctx,
		"recovered from panic",
		tint.Err(err),
		"event", event,
		"stack_trace", string(stack),
	)
	d.ReportError(ctx, event, fmt.Errorf("panic: %w", err), stack)
}
