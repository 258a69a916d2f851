// Package cdp observes and redirects browser tabs over the Chrome DevTools
// protocol.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/goodtune/lockedin/internal/watcher"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned before Connect succeeds.
var ErrNotConnected = errors.New("browser not connected")

// Config holds the DevTools connection settings.
type Config struct {
	ControlURL        string // ws:// endpoint of a running browser
	Launch            bool   // launch a browser instead of connecting
	Headless          bool
	NavigationTimeout time.Duration
}

// Host binds one browser. It is a watcher event source and the pipeline's
// tab port.
type Host struct {
	config   Config
	browser  *rod.Browser
	launcher *launcher.Launcher

	mu    sync.RWMutex
	pages map[string]*rod.Page

	logger zerolog.Logger
}

// New creates an unconnected host.
func New(cfg Config, logger zerolog.Logger) *Host {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 15 * time.Second
	}
	return &Host{
		config: cfg,
		pages:  make(map[string]*rod.Page),
		logger: logger.With().Str("component", "cdp").Logger(),
	}
}

// Connect attaches to the configured browser, launching one if asked.
func (h *Host) Connect(ctx context.Context) error {
	controlURL := h.config.ControlURL
	if h.config.Launch {
		h.launcher = h.newLauncher()
		u, err := h.launcher.Launch()
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}
	if controlURL == "" {
		return errors.New("no DevTools URL configured")
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to browser: %w", err)
	}
	h.browser = browser

	h.logger.Info().Str("control_url", controlURL).Bool("launched", h.config.Launch).Msg("Connected to browser")
	return nil
}

func (h *Host) newLauncher() *launcher.Launcher {
	return launcher.New().Headless(h.config.Headless)
}

// Events emits navigation events for every open and future page target.
func (h *Host) Events(ctx context.Context) (<-chan watcher.Event, error) {
	if h.browser == nil {
		return nil, ErrNotConnected
	}

	events := make(chan watcher.Event)
	var wg sync.WaitGroup

	emit := func(e watcher.Event) {
		select {
		case events <- e:
		case <-ctx.Done():
		}
	}

	attach := func(page *rod.Page) {
		tabID := string(page.TargetID)

		h.mu.Lock()
		if _, ok := h.pages[tabID]; ok {
			h.mu.Unlock()
			return
		}
		h.pages[tabID] = page
		h.mu.Unlock()

		h.logger.Debug().Str("tab", tabID).Msg("Watching page")

		wait := page.Context(ctx).EachEvent(
			func(ev *proto.PageFrameStartedLoading) {
				if ev.FrameID != page.FrameID {
					return
				}
				emit(watcher.Event{TabID: tabID, Status: watcher.StatusLoading})
			},
			func(ev *proto.PageLoadEventFired) {
				info, err := page.Info()
				if err != nil {
					h.logger.Debug().Err(err).Str("tab", tabID).Msg("Failed to read page info")
					return
				}
				emit(watcher.Event{TabID: tabID, URL: info.URL, Title: info.Title, Status: watcher.StatusComplete})
			},
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			wait()
		}()
	}

	pages, err := h.browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	for _, page := range pages {
		attach(page)
	}

	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(h.browser); err != nil {
		return nil, fmt.Errorf("discover targets: %w", err)
	}

	waitTargets := h.browser.Context(ctx).EachEvent(
		func(ev *proto.TargetTargetCreated) {
			if ev.TargetInfo.Type != proto.TargetTargetInfoTypePage {
				return
			}
			page, err := h.browser.PageFromTarget(ev.TargetInfo.TargetID)
			if err != nil {
				h.logger.Warn().Err(err).Str("target", string(ev.TargetInfo.TargetID)).Msg("Failed to attach page")
				return
			}
			attach(page)
		},
		func(ev *proto.TargetTargetDestroyed) {
			h.forget(string(ev.TargetID))
		},
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		waitTargets()
	}()

	go func() {
		<-ctx.Done()
		wg.Wait()
		close(events)
	}()

	return events, nil
}

// Redirect navigates tabID to url.
func (h *Host) Redirect(ctx context.Context, tabID, url string) error {
	h.mu.RLock()
	page, ok := h.pages[tabID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown tab %s", tabID)
	}

	if err := page.Context(ctx).Timeout(h.config.NavigationTimeout).Navigate(url); err != nil {
		return fmt.Errorf("navigate tab %s: %w", tabID, err)
	}
	return nil
}

// Close disconnects, and stops the browser when this host launched it.
func (h *Host) Close() error {
	var err error
	if h.browser != nil && h.launcher != nil {
		err = h.browser.Close()
	}
	if h.launcher != nil {
		h.launcher.Kill()
	}
	return err
}

func (h *Host) forget(tabID string) {
	h.mu.Lock()
	_, ok := h.pages[tabID]
	delete(h.pages, tabID)
	h.mu.Unlock()

	if ok {
		h.logger.Debug().Str("tab", tabID).Msg("Page closed")
	}
}
