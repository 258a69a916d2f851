// Package native speaks Chrome's native messaging protocol with the
// companion extension over stdin and stdout.
package native

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/goodtune/lockedin/internal/watcher"
	"github.com/rs/zerolog"
)

// Message types.
const (
	TypeNavigation = "navigation"
	TypeRedirect   = "redirect"
	TypeNotify     = "notify"
)

// inbound is a message from the extension.
type inbound struct {
	Type   string      `json:"type"`
	TabID  json.Number `json:"tabId"`
	URL    string      `json:"url"`
	Title  string      `json:"title"`
	Status string      `json:"status"`
}

type redirectMessage struct {
	Type  string      `json:"type"`
	TabID json.Number `json:"tabId"`
	URL   string      `json:"url"`
}

type notifyMessage struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Host is the native messaging endpoint. It is a watcher event source, the
// pipeline's tab port and a notifier at once.
type Host struct {
	in     io.Reader
	out    io.Writer
	mu     sync.Mutex // serializes frames on out
	logger zerolog.Logger
}

// New creates a host reading frames from in and writing to out.
func New(in io.Reader, out io.Writer, logger zerolog.Logger) *Host {
	return &Host{
		in:     in,
		out:    out,
		logger: logger.With().Str("component", "native").Logger(),
	}
}

// Events decodes navigation messages until the extension closes stdin.
func (h *Host) Events(ctx context.Context) (<-chan watcher.Event, error) {
	events := make(chan watcher.Event)

	go func() {
		defer close(events)

		for {
			payload, err := ReadMessage(h.in)
			if errors.Is(err, io.EOF) {
				h.logger.Info().Msg("Extension disconnected")
				return
			}
			if err != nil {
				h.logger.Error().Err(err).Msg("Failed to read native message")
				return
			}

			var msg inbound
			if err := json.Unmarshal(payload, &msg); err != nil {
				h.logger.Warn().Err(err).Msg("Ignoring undecodable message")
				continue
			}
			if msg.Type != TypeNavigation {
				h.logger.Debug().Str("type", msg.Type).Msg("Ignoring message")
				continue
			}

			event := watcher.Event{
				TabID:  msg.TabID.String(),
				URL:    msg.URL,
				Title:  msg.Title,
				Status: watcher.Status(msg.Status),
			}

			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

// Redirect asks the extension to navigate tabID to url.
func (h *Host) Redirect(_ context.Context, tabID, url string) error {
	return h.send(redirectMessage{Type: TypeRedirect, TabID: json.Number(tabID), URL: url})
}

// Notify asks the extension to show a notification.
func (h *Host) Notify(_ context.Context, title, message string) error {
	return h.send(notifyMessage{Type: TypeNotify, Title: title, Message: message})
}

func (h *Host) send(v any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return WriteMessage(h.out, v)
}
