package server

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/lucaswhitaker22/specracer/engine"
	"github.com/lucaswhitaker22/specracer/model"
)

// Broadcaster fans engine publications out to race members. Sends are
// non-blocking: a client whose buffer overflows is disconnected, because
// a slow consumer must never stall the tick path.
type Broadcaster struct {
	conns *Connections
	log   zerolog.Logger
}

// NewBroadcaster wires the dispatcher to the connection registry.
func NewBroadcaster(conns *Connections, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		conns: conns,
		log:   logger.With().Str("component", "broadcast").Logger(),
	}
}

// Sink returns the per-race publication consumer handed to an engine.
func (b *Broadcaster) Sink(raceID string) engine.Sink {
	return &raceSink{b: b, raceID: raceID}
}

type raceSink struct {
	b      *Broadcaster
	raceID string
}

// Publish converts one tick's publication into frames and delivers them
// to every subscribed socket in order: the state update first, then each
// event, then the event-specific notification frames.
func (s *raceSink) Publish(pub *engine.Publication) {
	frames := make([]Frame, 0, 1+2*len(pub.Events))
	frames = append(frames, Frame{Type: "race:update", Data: pub.State})

	finished := false
	for _, ev := range pub.Events {
		frames = append(frames, Frame{Type: "race:event", Data: ev})
		switch ev.Type {
		case model.EventRaceStart:
			frames = append(frames, Frame{Type: "race:started", Data: map[string]any{
				"raceId": s.raceID,
			}})
		case model.EventRaceFinish:
			finished = true
			frames = append(frames, Frame{Type: "race:completed", Data: map[string]any{
				"raceId": s.raceID,
				"result": ev.Payload,
			}})
		case model.EventPitStop:
			data := map[string]any{
				"actions":    ev.Payload["actions"],
				"durationMs": ev.Payload["durationMs"],
			}
			if len(ev.Players) > 0 {
				data["playerId"] = ev.Players[0]
			}
			frames = append(frames, Frame{Type: "race:pitStop", Data: data})
		}
	}

	s.b.ToRace(s.raceID, frames...)
	if finished {
		s.b.conns.DropRace(s.raceID)
	}
}

// ToRace delivers frames to every member of a race.
func (b *Broadcaster) ToRace(raceID string, frames ...Frame) {
	for _, c := range b.conns.Members(raceID) {
		b.deliver(c, frames...)
	}
}

// ToPlayer delivers frames to one player's socket, if connected.
func (b *Broadcaster) ToPlayer(playerID string, frames ...Frame) bool {
	c, ok := b.conns.ClientFor(playerID)
	if !ok {
		return false
	}
	b.deliver(c, frames...)
	return true
}

// ToAll delivers a frame to every connected socket.
func (b *Broadcaster) ToAll(frame Frame) {
	for _, c := range b.conns.All() {
		b.deliver(c, frame)
	}
}

// deliver pushes frames onto one client, disconnecting it on overflow.
// Frames after the first failure are not attempted; the socket is dead.
func (b *Broadcaster) deliver(c *Client, frames ...Frame) {
	for _, f := range frames {
		if c.TrySend(f) {
			continue
		}
		broadcastDropped.Inc()
		b.log.Warn().
			Str("socket_id", c.ID).
			Str("frame_type", f.Type).
			Msg("send buffer overflow, disconnecting client")
		c.Close()
		b.conns.Remove(c.ID)
		return
	}
}

// ErrorFrame builds the protocol's error frame.
func ErrorFrame(code, message string) Frame {
	return Frame{Type: "error", Data: map[string]any{
		"code":      code,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}}
}
