package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucaswhitaker22/specracer/engine"
	"github.com/lucaswhitaker22/specracer/model"
	"github.com/lucaswhitaker22/specracer/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: validOrigin,
}

// validOrigin admits non-browser clients, same-origin pages, and
// localhost for development.
func validOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	return u.Hostname() == "localhost" || u.Hostname() == "127.0.0.1"
}

type createRaceRequest struct {
	TrackID         string `json:"trackId"`
	TotalLaps       int    `json:"totalLaps"`
	MaxParticipants int    `json:"maxParticipants"`
}

type joinRaceRequest struct {
	PlayerID string `json:"playerId"`
	CarID    string `json:"carId"`
}

type leaveRaceRequest struct {
	PlayerID string `json:"playerId"`
}

func (s *Server) routes() {
	s.echo.POST("/races", s.createRace)
	s.echo.POST("/races/:id/join", s.joinRace)
	s.echo.POST("/races/:id/leave", s.leaveRace)
	s.echo.POST("/races/:id/start", s.startRace)
	s.echo.GET("/races/:id", s.getRace)
	s.echo.GET("/races/:id/results", s.getResults)
	s.echo.GET("/health", s.getHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/ws", s.serveWS)
}

func (s *Server) createRace(c echo.Context) error {
	var req createRaceRequest
	if err := c.Bind(&req); err != nil {
		return httpError(c, http.StatusBadRequest, CodeInvalidRequest, "malformed request body")
	}
	eng, err := s.registry.Create(req.TrackID, req.TotalLaps, req.MaxParticipants)
	if err != nil {
		return s.respondError(c, err)
	}
	state := eng.State()
	s.persist("create race", func(ctx context.Context) error {
		return s.durable.CreateRace(ctx, state.Race)
	})
	return c.JSON(http.StatusCreated, state)
}

func (s *Server) joinRace(c echo.Context) error {
	var req joinRaceRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.PlayerID) == "" {
		return httpError(c, http.StatusBadRequest, CodeInvalidRequest, "playerId is required")
	}
	raceID := c.Param("id")
	eng, err := s.registry.Get(raceID)
	if err != nil {
		return s.respondError(c, err)
	}
	if err := eng.Join(req.PlayerID, req.CarID); err != nil {
		return s.respondError(c, err)
	}
	state := eng.State()
	if part, ok := state.Participants[req.PlayerID]; ok {
		s.persist("add participant", func(ctx context.Context) error {
			return s.durable.AddParticipant(ctx, raceID, req.PlayerID, req.CarID, part.Position)
		})
	}
	return c.JSON(http.StatusOK, state)
}

func (s *Server) leaveRace(c echo.Context) error {
	var req leaveRaceRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.PlayerID) == "" {
		return httpError(c, http.StatusBadRequest, CodeInvalidRequest, "playerId is required")
	}
	raceID := c.Param("id")
	eng, err := s.registry.Get(raceID)
	if err != nil {
		return s.respondError(c, err)
	}
	if err := eng.Leave(req.PlayerID); err != nil {
		return s.respondError(c, err)
	}
	if client, ok := s.conns.ClientFor(req.PlayerID); ok {
		s.conns.LeaveRace(client.ID, raceID)
	}
	s.persist("remove participant", func(ctx context.Context) error {
		return s.durable.RemoveParticipant(ctx, raceID, req.PlayerID)
	})
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

func (s *Server) startRace(c echo.Context) error {
	raceID := c.Param("id")
	eng, err := s.registry.Get(raceID)
	if err != nil {
		return s.respondError(c, err)
	}
	if err := eng.Start(); err != nil {
		return s.respondError(c, err)
	}
	s.persist("mark started", func(ctx context.Context) error {
		return s.durable.MarkStarted(ctx, raceID, time.Now())
	})
	return c.JSON(http.StatusOK, map[string]any{"success": true, "raceId": raceID})
}

func (s *Server) getRace(c echo.Context) error {
	eng, err := s.registry.Get(c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, eng.State())
}

// getResults serves live results from the engine while the race is
// resident and falls back to the durable store once it has retired.
func (s *Server) getResults(c echo.Context) error {
	raceID := c.Param("id")
	if eng, err := s.registry.Get(raceID); err == nil {
		if result := eng.Result(); result != nil {
			return c.JSON(http.StatusOK, result)
		}
		return httpError(c, http.StatusNotFound, CodeRaceNotFound, "race has not finished")
	}
	if s.durable != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		result, err := s.durable.Results(ctx, raceID)
		if err == nil {
			return c.JSON(http.StatusOK, result)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return s.respondError(c, err)
		}
	}
	return httpError(c, http.StatusNotFound, CodeRaceNotFound, "no results for race")
}

func (s *Server) getHealth(c echo.Context) error {
	if s.health == nil {
		return c.JSON(http.StatusOK, map[string]any{"overall": model.StatusHealthy})
	}
	report := s.health.Report()
	status := http.StatusOK
	if report.Overall == model.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, report)
}

func (s *Server) serveWS(c echo.Context) error {
	if s.closing.Load() {
		return httpError(c, http.StatusServiceUnavailable, CodeServerShutdown, "server is shutting down")
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return nil
	}
	client := NewClient(conn, s.log)
	s.conns.Add(client)
	go client.writePump()
	go client.readPump(s.handleFrame, func(cl *Client) {
		s.conns.Remove(cl.ID)
	})
	return nil
}

// respondError translates engine and store errors into the protocol's
// JSON error body with a matching HTTP status.
func (s *Server) respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, engine.ErrRaceNotFound):
		return httpError(c, http.StatusNotFound, CodeRaceNotFound, err.Error())
	case errors.Is(err, engine.ErrRaceAlreadyStarted):
		return httpError(c, http.StatusConflict, CodeRaceStarted, err.Error())
	case errors.Is(err, engine.ErrCarNotAvailable):
		return httpError(c, http.StatusConflict, CodeCarNotAvailable, err.Error())
	case errors.Is(err, engine.ErrCapacityExceeded):
		return httpError(c, http.StatusConflict, CodeCapacityExceeded, err.Error())
	case errors.Is(err, engine.ErrAlreadyJoined),
		errors.Is(err, engine.ErrRaceFinished),
		errors.Is(err, engine.ErrNoParticipants),
		errors.Is(err, engine.ErrNotParticipant):
		return httpError(c, http.StatusConflict, CodeJoinFailed, err.Error())
	case errors.Is(err, engine.ErrTrackNotAvailable),
		errors.Is(err, engine.ErrInvalidConfig):
		return httpError(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	default:
		s.log.Error().Err(err).Msg("request failed")
		return httpError(c, http.StatusInternalServerError, CodeStateCorrupted, "internal error")
	}
}

func httpError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, map[string]any{
		"code":      code,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
