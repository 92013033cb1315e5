package engine

import "errors"

// Lifecycle errors surfaced to transport handlers. The server layer maps
// these onto protocol error codes.
var (
	ErrRaceNotFound       = errors.New("race not found")
	ErrRaceAlreadyStarted = errors.New("race already started")
	ErrRaceFinished       = errors.New("race already finished")
	ErrCarNotAvailable    = errors.New("car not available")
	ErrTrackNotAvailable  = errors.New("track not available")
	ErrCapacityExceeded   = errors.New("race is full")
	ErrNotParticipant     = errors.New("player is not in this race")
	ErrAlreadyJoined      = errors.New("player already joined")
	ErrNoParticipants     = errors.New("race has no participants")
	ErrInvalidConfig      = errors.New("invalid race configuration")
)
