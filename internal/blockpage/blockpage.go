// Package blockpage serves the page a distracting tab is redirected to.
package blockpage

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Path is where the block page is mounted.
const Path = "/blocked"

// ScriptPath serves the close button behaviour.
const ScriptPath = "/blocked.js"

//go:embed blocked.html
var pageSource string

//go:embed blocked.js
var script []byte

var pageTemplate = template.Must(template.New("blocked").Parse(pageSource))

type pageData struct {
	Reason string
	Goal   string
	Script string
}

// Handler renders the block page. Only the reason and goal query
// parameters are read; both are rendered as text.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		data := pageData{Reason: q.Get("reason"), Goal: q.Get("goal"), Script: ScriptPath}

		var buf bytes.Buffer
		if err := pageTemplate.Execute(&buf, data); err != nil {
			http.Error(w, "failed to render page", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; script-src 'self'")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(buf.Bytes())
	})
}

// ScriptHandler serves the block page script.
func ScriptHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(script)
	})
}

// Server serves the block page on a local address.
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer creates a block page server listening on addr.
func NewServer(addr string, logger zerolog.Logger) *Server {
	router := mux.NewRouter()
	router.Handle(Path, Handler()).Methods(http.MethodGet)
	router.Handle(ScriptPath, ScriptHandler()).Methods(http.MethodGet)

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "blockpage").Logger(),
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting block page server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Block page server error")
		}
	}()
	return nil
}

// URL returns the block page address. Valid after Start.
func (s *Server) URL() string {
	return "http://" + s.listener.Addr().String() + Path
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
