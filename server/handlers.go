package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lucaswhitaker22/specracer/command"
	"github.com/lucaswhitaker22/specracer/engine"
)

// Wire error codes. Input-class rejections travel in command:result
// frames instead and reuse the command package codes.
const (
	CodeAuthFailed       = "AUTH_FAILED"
	CodeJoinFailed       = "JOIN_FAILED"
	CodeLeaveFailed      = "LEAVE_FAILED"
	CodeCommandFailed    = "COMMAND_FAILED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeStateCorrupted   = "RACE_STATE_CORRUPTED"
	CodeServerShutdown   = "SERVER_SHUTDOWN"
	CodeRaceNotFound     = "RACE_NOT_FOUND"
	CodeRaceStarted      = "RACE_ALREADY_STARTED"
	CodeCarNotAvailable  = "CAR_NOT_AVAILABLE"
	CodeCapacityExceeded = "CAPACITY_EXCEEDED"
	CodeInvalidRequest   = "INVALID_REQUEST"
)

// TokenResolver turns an opaque auth token into a player id.
type TokenResolver func(token string) (playerID string, err error)

// DefaultTokenResolver trusts the token as the player id. Production
// deployments plug in a real verifier.
func DefaultTokenResolver(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("empty token")
	}
	return token, nil
}

type authPayload struct {
	Token string `json:"token"`
}

type joinPayload struct {
	RaceID string `json:"raceId"`
	CarID  string `json:"carId"`
}

type leavePayload struct {
	RaceID string `json:"raceId"`
}

type commandParams struct {
	Intensity json.RawMessage `json:"intensity,omitempty"`
	Gear      *int            `json:"gear,omitempty"`
}

type commandPayload struct {
	Text       string         `json:"text,omitempty"`
	Type       string         `json:"type,omitempty"`
	Parameters *commandParams `json:"parameters,omitempty"`
}

// handleFrame dispatches one inbound frame. Unauthenticated sockets may
// only authenticate.
func (s *Server) handleFrame(c *Client, frame InboundFrame) {
	if s.closing.Load() {
		c.TrySend(ErrorFrame(CodeServerShutdown, "server is shutting down"))
		return
	}

	if frame.Type == "player:authenticate" {
		s.handleAuthenticate(c, frame.Data)
		return
	}

	playerID, ok := s.conns.PlayerFor(c.ID)
	if !ok {
		c.TrySend(ErrorFrame(CodeAuthFailed, "authenticate first"))
		return
	}

	switch frame.Type {
	case "race:join":
		s.handleJoin(c, playerID, frame.Data)
	case "race:leave":
		s.handleLeave(c, playerID, frame.Data)
	case "race:command":
		s.handleCommand(c, playerID, frame.Data)
	default:
		c.TrySend(ErrorFrame(CodeCommandFailed, fmt.Sprintf("unknown frame type %q", frame.Type)))
	}
}

func (s *Server) handleAuthenticate(c *Client, data json.RawMessage) {
	var p authPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.TrySend(ErrorFrame(CodeAuthFailed, "malformed authenticate payload"))
		return
	}
	playerID, err := s.tokens(p.Token)
	if err != nil {
		c.TrySend(ErrorFrame(CodeAuthFailed, err.Error()))
		return
	}
	if evicted := s.conns.Authenticate(c.ID, playerID); evicted != nil {
		evicted.TrySend(ErrorFrame(CodeAuthFailed, "session superseded by a newer connection"))
		evicted.Close()
		s.log.Info().Str("player_id", playerID).Str("evicted_socket", evicted.ID).
			Msg("player re-authenticated, prior socket evicted")
	}
	c.TrySend(Frame{Type: "connection:authenticated", Data: map[string]any{
		"playerId": playerID,
	}})
}

func (s *Server) handleJoin(c *Client, playerID string, data json.RawMessage) {
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.TrySend(ErrorFrame(CodeJoinFailed, "malformed join payload"))
		return
	}
	eng, err := s.registry.Get(p.RaceID)
	if err != nil {
		c.TrySend(ErrorFrame(frameErrCode(CodeJoinFailed, err), err.Error()))
		return
	}
	if err := eng.Join(playerID, p.CarID); err != nil {
		if errors.Is(err, engine.ErrAlreadyJoined) {
			// A returning participant resubscribes to the stream and gets
			// the current state instead of an error.
			s.conns.JoinRace(c.ID, p.RaceID)
			c.TrySend(Frame{Type: "race:state", Data: eng.State()})
			return
		}
		c.TrySend(ErrorFrame(frameErrCode(CodeJoinFailed, err), err.Error()))
		return
	}
	s.conns.JoinRace(c.ID, p.RaceID)

	state := eng.State()
	if part, ok := state.Participants[playerID]; ok {
		s.persist("add participant", func(ctx context.Context) error {
			return s.durable.AddParticipant(ctx, p.RaceID, playerID, p.CarID, part.Position)
		})
	}
	c.TrySend(Frame{Type: "race:state", Data: state})
}

func (s *Server) handleLeave(c *Client, playerID string, data json.RawMessage) {
	var p leavePayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.TrySend(ErrorFrame(CodeLeaveFailed, "malformed leave payload"))
		return
	}
	eng, err := s.registry.Get(p.RaceID)
	if err != nil {
		c.TrySend(ErrorFrame(frameErrCode(CodeLeaveFailed, err), err.Error()))
		return
	}
	if err := eng.Leave(playerID); err != nil {
		c.TrySend(ErrorFrame(frameErrCode(CodeLeaveFailed, err), err.Error()))
		return
	}
	s.conns.LeaveRace(c.ID, p.RaceID)
	s.persist("remove participant", func(ctx context.Context) error {
		return s.durable.RemoveParticipant(ctx, p.RaceID, playerID)
	})
	c.TrySend(commandResult(true, "left race"))
}

func (s *Server) handleCommand(c *Client, playerID string, data json.RawMessage) {
	var p commandPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.TrySend(ErrorFrame(CodeCommandFailed, "malformed command payload"))
		return
	}
	raceID, ok := s.conns.RaceFor(c.ID)
	if !ok {
		c.TrySend(ErrorFrame(CodeCommandFailed, "join a race first"))
		return
	}
	eng, err := s.registry.Get(raceID)
	if err != nil {
		c.TrySend(ErrorFrame(frameErrCode(CodeCommandFailed, err), err.Error()))
		return
	}

	cmd, err := command.Parse(commandLine(p))
	if err != nil {
		c.TrySend(commandResult(false, err.Error()))
		return
	}
	if err := eng.Submit(playerID, cmd); err != nil {
		var cmdErr *command.Error
		if errors.As(err, &cmdErr) {
			c.TrySend(commandResult(false, cmdErr.Error()))
			return
		}
		c.TrySend(ErrorFrame(frameErrCode(CodeCommandFailed, err), err.Error()))
		return
	}
	c.TrySend(commandResult(true, ""))
}

// commandLine renders a typed command payload as the equivalent text
// line so both forms share one validation path.
func commandLine(p commandPayload) string {
	if strings.TrimSpace(p.Text) != "" {
		return p.Text
	}
	parts := []string{p.Type}
	if p.Parameters != nil {
		if p.Type == "shift" {
			if p.Parameters.Gear != nil {
				parts = append(parts, strconv.Itoa(*p.Parameters.Gear))
			}
		} else if tok := intensityToken(p.Parameters.Intensity); tok != "" {
			parts = append(parts, tok)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// intensityToken accepts the number and percent-string forms the
// protocol allows. Anything else passes through for the parser to
// reject.
func intensityToken(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return strconv.FormatFloat(num, 'f', -1, 64)
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return strings.TrimSpace(str)
	}
	return string(raw)
}

func commandResult(success bool, message string) Frame {
	data := map[string]any{"success": success}
	if message != "" {
		data["message"] = message
	}
	return Frame{Type: "command:result", Data: data}
}

// frameErrCode maps engine sentinels onto wire codes, falling back to
// the operation's own code.
func frameErrCode(fallback string, err error) string {
	switch {
	case errors.Is(err, engine.ErrRaceNotFound):
		return CodeRaceNotFound
	case errors.Is(err, engine.ErrRaceAlreadyStarted):
		return CodeRaceStarted
	case errors.Is(err, engine.ErrCarNotAvailable):
		return CodeCarNotAvailable
	case errors.Is(err, engine.ErrCapacityExceeded):
		return CodeCapacityExceeded
	default:
		return fallback
	}
}

// persist runs a best-effort durable write off the hot path.
func (s *Server) persist(op string, fn func(context.Context) error) {
	if s.durable == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.log.Warn().Err(err).Str("op", op).Msg("durable write failed")
		}
	}()
}
