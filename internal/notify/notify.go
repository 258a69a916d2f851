// Package notify shows the two user-facing notifications of a session.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

// Notifier shows a notification to the user.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Console prints notifications to a terminal.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// NewConsole creates a console notifier writing to w, or stderr when w is nil.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = color.Error
	}
	return &Console{out: w, now: time.Now}
}

// Notify writes a highlighted line.
func (c *Console) Notify(_ context.Context, title, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stamp := color.New(color.Faint).Sprint(c.now().Format("15:04:05"))
	heading := color.New(color.FgYellow, color.Bold).Sprint(title)
	_, err := fmt.Fprintf(c.out, "%s %s %s\n", stamp, heading, message)
	return err
}

// Log records notifications in the structured log.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a log notifier.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "notify").Logger()}
}

// Notify logs the notification at warn level.
func (l *Log) Notify(_ context.Context, title, message string) error {
	l.logger.Warn().Str("title", title).Msg(message)
	return nil
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify calls every notifier and joins their errors.
func (m Multi) Notify(ctx context.Context, title, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, title, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
