package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	channerics "github.com/niceyeti/channerics/channels"
	"github.com/rs/zerolog"

	"github.com/lucaswhitaker22/specracer/engine"
	"github.com/lucaswhitaker22/specracer/model"
	"github.com/lucaswhitaker22/specracer/store"
)

const (
	// DefaultStaleAfter disconnects sockets with no activity for this
	// long; keepalive pongs count as activity.
	DefaultStaleAfter  = 2 * time.Minute
	defaultSweepPeriod = 30 * time.Second
	defaultGrace       = time.Second
)

// HealthReporter serves the /health endpoint.
type HealthReporter interface {
	Report() model.HealthReport
}

// Options wire the server to its collaborators.
type Options struct {
	Addr        string
	Registry    *engine.Registry
	Connections *Connections
	Broadcast   *Broadcaster
	Durable     store.Durable
	Health      HealthReporter
	Tokens      TokenResolver

	StaleAfter    time.Duration
	SweepPeriod   time.Duration
	ShutdownGrace time.Duration
	Logger        zerolog.Logger
}

// Server is the network front of the service: HTTP routes, the websocket
// endpoint, and the stale-connection sweep.
type Server struct {
	echo     *echo.Echo
	registry *engine.Registry
	conns    *Connections
	bcast    *Broadcaster
	durable  store.Durable
	health   HealthReporter
	tokens   TokenResolver

	opts     Options
	log      zerolog.Logger
	closing  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

// New assembles a server. Registry, Connections, and Broadcast are
// required; the rest defaults.
func New(opts Options) *Server {
	if opts.Tokens == nil {
		opts.Tokens = DefaultTokenResolver
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.SweepPeriod <= 0 {
		opts.SweepPeriod = defaultSweepPeriod
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = defaultGrace
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		registry: opts.Registry,
		conns:    opts.Connections,
		bcast:    opts.Broadcast,
		durable:  opts.Durable,
		health:   opts.Health,
		tokens:   opts.Tokens,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "server").Logger(),
		done:     make(chan struct{}),
	}
	s.routes()
	return s
}

// Start serves until Shutdown. Blocking.
func (s *Server) Start() error {
	go s.sweepLoop()
	s.log.Info().Str("addr", s.opts.Addr).Msg("listening")
	if err := s.echo.Start(s.opts.Addr); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// sweepLoop disconnects sockets that have gone quiet.
func (s *Server) sweepLoop() {
	for range channerics.NewTicker(s.done, s.opts.SweepPeriod) {
		for _, c := range s.conns.Stale(s.opts.StaleAfter, time.Now()) {
			s.log.Info().Str("socket_id", c.ID).Time("last_seen", c.LastSeen()).
				Msg("disconnecting stale socket")
			c.Close()
			s.conns.Remove(c.ID)
		}
	}
}

// Shutdown stops intake, halts every race engine, then tells each
// client the server is going away, gives send buffers a grace period to
// drain, and closes sockets and the listener. Engines halt before the
// announcement so no update frame can follow the shutdown notice;
// active races stay recoverable from their snapshots.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	s.registry.Shutdown(ctx)
	s.announceShutdown()

	select {
	case <-time.After(s.opts.ShutdownGrace):
	case <-ctx.Done():
	}

	for _, c := range s.conns.All() {
		c.Close()
	}
	s.stopOnce.Do(func() { close(s.done) })
	return s.echo.Shutdown(ctx)
}

// announceShutdown sends each connected client one shutdown frame.
func (s *Server) announceShutdown() {
	s.bcast.ToAll(ErrorFrame(CodeServerShutdown, "server is shutting down"))
}
