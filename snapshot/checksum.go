// Package snapshot captures periodic checkpoints of running races,
// validates them on the way back in, and bounds how many are retained
// per race. Snapshots are the primary source for crash recovery.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/lucaswhitaker22/specracer/model"
)

// Checksum hashes the recovery-critical subset of a race state: race ID,
// lap, clock, participant count, and each participant's (id, position,
// total time) in player-ID order. Field order and float formatting are
// fixed so the digest is reproducible across processes.
func Checksum(state *model.RaceState) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%.6f|%d", state.ID, state.CurrentLap, state.RaceTimeSec, len(state.Participants))

	ids := make([]string, 0, len(state.Participants))
	for id := range state.Participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := state.Participants[id]
		fmt.Fprintf(h, "|%s:%d:%.6f", p.PlayerID, p.Position, p.TotalTimeSec)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Validate rejects snapshots whose checksum no longer matches their
// state or whose structure is unusable for recovery.
func Validate(snap *model.RaceSnapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInvalidSnapshot)
	}
	if snap.RaceID == "" || snap.RaceID != snap.State.ID {
		return fmt.Errorf("%w: race ID mismatch (%q vs %q)", ErrInvalidSnapshot, snap.RaceID, snap.State.ID)
	}
	if got := Checksum(&snap.State); got != snap.Checksum {
		return fmt.Errorf("%w: checksum mismatch", ErrInvalidSnapshot)
	}
	for id, p := range snap.State.Participants {
		switch {
		case p == nil:
			return fmt.Errorf("%w: participant %s is nil", ErrInvalidSnapshot, id)
		case p.PlayerID != id:
			return fmt.Errorf("%w: participant key %s holds %s", ErrInvalidSnapshot, id, p.PlayerID)
		case p.CarID == "":
			return fmt.Errorf("%w: participant %s has no car", ErrInvalidSnapshot, id)
		case p.Position < 1:
			return fmt.Errorf("%w: participant %s has position %d", ErrInvalidSnapshot, id, p.Position)
		}
	}
	return nil
}
