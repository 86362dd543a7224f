package ospbot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestErrorReporter(channelID string) (*errorReporter, *mockDiscordSession, chan struct{}) {
	session := newMockDiscordSession()
	d := newDiscord(DefaultConfig(), slog.Default())
	d.session = session
	ready := make(chan struct{})
	return newErrorReporter(d, channelID, ready, slog.Default()), session, ready
}

// errorWithReportLength returns an error whose report text is exactly n runes
func errorWithReportLength(t testing.TB, event string, n int) error {
	t.Helper()
	overhead := utf8.RuneCountInString(errorReportText(event, ""))
	require.Greater(t, n, overhead)
	return errors.New(strings.Repeat("é", n-overhead))
}

func TestErrorReporter_Short(t *testing.T) {
	t.Parallel()

	r, session, ready := newTestErrorReporter(testErrorChannelID)
	close(ready)

	err := errorWithReportLength(t, "on_message", discordMaxMessageLength)
	require.NoError(t, r.Report(context.Background(), "on_message", err, nil))

	sent := session.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, testErrorChannelID, sent[0].ChannelID)
	assert.Empty(t, sent[0].Files)
	assert.Equal(t, discordMaxMessageLength, utf8.RuneCountInString(sent[0].Content))
	assert.Equal(t, errorReportText("on_message", err.Error()), sent[0].Content)
	assert.True(t, strings.HasPrefix(sent[0].Content, "```yaml\nAn error occurred in an on_message event```"))
	assert.True(t, strings.HasSuffix(sent[0].Content, "\n```"))
}

func TestErrorReporter_Long(t *testing.T) {
	t.Parallel()

	r, session, ready := newTestErrorReporter(testErrorChannelID)
	close(ready)

	err := errorWithReportLength(t, "on_ready", discordMaxMessageLength+1)
	stack := []byte("goroutine 1 [running]:\nmain.main()\n")
	require.NoError(t, r.Report(context.Background(), "on_ready", err, stack))

	sent := session.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, errorReportHeader("on_ready"), sent[0].Content)
	require.Len(t, sent[0].Files, 1)

	attached, ok := sent[0].Files[errorReportFilename]
	require.True(t, ok)
	assert.Equal(t, errorTrace(err, stack), string(attached))
	assert.True(t, strings.HasPrefix(string(attached), err.Error()+"\n\ngoroutine 1"))
}

func TestErrorReporter_WaitsForReady(t *testing.T) {
	t.Parallel()

	r, session, ready := newTestErrorReporter(testErrorChannelID)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.Report(ctx, "on_message", errors.New("too early"), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, session.Sent())

	done := make(chan error, 1)
	go func() {
		done <- r.Report(context.Background(), "on_message", errors.New("after ready"), nil)
	}()

	select {
	case <-session.messages:
		t.Fatal("report sent before ready")
	case <-time.After(50 * time.Millisecond):
	}

	close(ready)
	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for report")
	}
	require.Len(t, session.Sent(), 1)
	assert.Contains(t, session.Sent()[0].Content, "after ready")
}

func TestErrorReporter_NoChannel(t *testing.T) {
	t.Parallel()

	r, session, _ := newTestErrorReporter("")
	// not ready, but with no channel there's nothing to wait for
	require.NoError(t, r.Report(context.Background(), "on_message", errors.New("boom"), nil))
	assert.Empty(t, session.Sent())
}

func TestErrorReporter_SendFailure(t *testing.T) {
	t.Parallel()

	r, session, ready := newTestErrorReporter(testErrorChannelID)
	close(ready)
	sendErr := errors.New("missing access")
	session.sendErr = sendErr

	err := r.Report(context.Background(), "on_message", errors.New("boom"), nil)
	assert.ErrorIs(t, err, sendErr)
}

func TestHandleRecover(t *testing.T) {
	t.Parallel()

	bot, session := newTestBot(t, nil, []CogRegistration{})
	markReady(bot)

	func() {
		defer func() {
			if rc := recover(); rc != nil {
				bot.handleRecover(context.Background(), "on_message", rc)
			}
		}()
		panic(errors.New("nil map"))
	}()

	sent := session.Sent()
	require.Len(t, sent, 1)
	trace := sent[0].Content
	if f, ok := sent[0].Files[errorReportFilename]; ok {
		trace = string(f)
	}
	assert.Contains(t, trace, "panic: nil map")
	assert.Contains(t, trace, "goroutine")
}

func TestErrorTrace(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "boom", errorTrace(errors.New("boom"), nil))
	assert.Equal(t, "boom\n\nstack", errorTrace(errors.New("boom"), []byte("stack\n\n")))
	assert.Equal(t, "", errorTrace(nil, nil))
}
