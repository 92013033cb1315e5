package model

import "time"

// RaceSnapshot is a checksummed capture of a race's authoritative state at
// a tick boundary. Snapshots are validated on read; an invalid snapshot is
// skipped, never returned.
type RaceSnapshot struct {
	ID          string    `json:"id"`
	RaceID      string    `json:"raceId"`
	TickTimeSec float64   `json:"tickTimeSec"`
	WallTime    time.Time `json:"wallTime"`
	State       RaceState `json:"state"`
	Checksum    string    `json:"checksum"`
}
