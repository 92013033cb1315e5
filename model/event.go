package model

import "time"

// EventType classifies a race event.
type EventType string

const (
	EventRaceStart   EventType = "race_start"
	EventRaceFinish  EventType = "race_finish"
	EventOvertake    EventType = "overtake"
	EventPitStop     EventType = "pit_stop"
	EventLapComplete EventType = "lap_complete"
	EventIncident    EventType = "incident"
)

// MaxExportedEvents caps how many recent events leave the engine in state
// copies and snapshots. The engine's own log is append-only.
const MaxExportedEvents = 100

// RaceEvent is one significant occurrence within a race, emitted by the
// engine during a tick and broadcast to all participants.
type RaceEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	RaceTimeSec float64        `json:"raceTimeSec"`
	Lap         int            `json:"lap"`
	Players     []string       `json:"players,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	WallTime    time.Time      `json:"wallTime"`
}

// PitAction names one service performed during a pit stop.
type PitAction string

const (
	PitRefuel     PitAction = "refuel"
	PitTireChange PitAction = "tire_change"
)
