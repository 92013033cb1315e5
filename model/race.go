package model

import "time"

// RaceStatus is the lifecycle state of a race. Transitions are monotone:
// waiting -> active -> finished.
type RaceStatus string

const (
	RaceWaiting  RaceStatus = "waiting"
	RaceActive   RaceStatus = "active"
	RaceFinished RaceStatus = "finished"
)

// Race holds the immutable configuration of one race.
type Race struct {
	ID              string     `json:"raceId"`
	TrackID         string     `json:"trackId"`
	TotalLaps       int        `json:"totalLaps"`
	MaxParticipants int        `json:"maxParticipants"`
	Status          RaceStatus `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
}

// TireWear tracks per-axle tire degradation in percent. 0 is fresh,
// 100 is fully worn. Fronts wear faster than rears under braking.
type TireWear struct {
	Front float64 `json:"front"`
	Rear  float64 `json:"rear"`
}

// Max returns the more worn of the two axles.
func (t TireWear) Max() float64 {
	if t.Front > t.Rear {
		return t.Front
	}
	return t.Rear
}

// Location is a participant's place on track.
type Location struct {
	Lap       int     `json:"lap"`
	Sector    int     `json:"sector"`
	DistanceM float64 `json:"distanceMeters"`
}

// Participant is one player's car state within a race. The owning engine
// is the only writer; everything handed out is a copy.
type Participant struct {
	PlayerID      string    `json:"playerId"`
	CarID         string    `json:"carId"`
	Position      int       `json:"position"`
	FuelPct       float64   `json:"fuelPct"`
	Tires         TireWear  `json:"tireWear"`
	SpeedKmh      float64   `json:"speedKmh"`
	Gear          int       `json:"gear"`
	Location      Location  `json:"location"`
	LapTimeSec    float64   `json:"lapTimeSec"`
	TotalTimeSec  float64   `json:"totalTimeSec"`
	LastCommand   string    `json:"lastCommandType,omitempty"`
	LastCommandAt time.Time `json:"lastCommandAt,omitempty"`
	JoinedAt      time.Time `json:"joinedAt"`

	// LapStartSec is the race time at which the current lap began, used
	// to derive lap_complete deltas. Carried through snapshots so a
	// recovered race keeps true lap timing.
	LapStartSec float64 `json:"lapStartSec"`
}

// RaceState is the full authoritative state of one race: configuration,
// simulation clock, and every participant. Owned exclusively by the race
// engine; consumers receive deep copies.
type RaceState struct {
	Race
	CurrentLap   int                     `json:"currentLap"`
	RaceTimeSec  float64                 `json:"raceTimeSec"`
	Participants map[string]*Participant `json:"participants"`
	Events       []RaceEvent             `json:"events,omitempty"`
}

// Copy returns a deep copy safe to hand outside the engine.
func (s *RaceState) Copy() *RaceState {
	cp := *s
	cp.Participants = make(map[string]*Participant, len(s.Participants))
	for id, p := range s.Participants {
		pc := *p
		cp.Participants[id] = &pc
	}
	if len(s.Events) > 0 {
		cp.Events = make([]RaceEvent, len(s.Events))
		copy(cp.Events, s.Events)
	}
	return &cp
}

// ParticipantCount returns the number of participants.
func (s *RaceState) ParticipantCount() int {
	return len(s.Participants)
}

// RaceResult is the final outcome published on race_finish and persisted.
type RaceResult struct {
	RaceID      string        `json:"raceId"`
	TrackID     string        `json:"trackId"`
	TotalLaps   int           `json:"totalLaps"`
	RaceTimeSec float64       `json:"raceTimeSec"`
	Standings   []FinalResult `json:"standings"`
}

// FinalResult is one participant's line in the standings.
type FinalResult struct {
	Position     int     `json:"position"`
	PlayerID     string  `json:"playerId"`
	CarID        string  `json:"carId"`
	Laps         int     `json:"laps"`
	TotalTimeSec float64 `json:"totalTimeSec"`
}
