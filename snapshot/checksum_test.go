package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaswhitaker22/specracer/model"
)

func raceState(raceID string) *model.RaceState {
	return &model.RaceState{
		Race:        model.Race{ID: raceID, TrackID: "silverline", TotalLaps: 3, MaxParticipants: 4, Status: model.RaceActive},
		CurrentLap:  2,
		RaceTimeSec: 61.3,
		Participants: map[string]*model.Participant{
			"alice": {PlayerID: "alice", CarID: "apex-gt", Position: 1, TotalTimeSec: 61.3,
				Location: model.Location{Lap: 2, Sector: 1, DistanceM: 240}},
			"bob": {PlayerID: "bob", CarID: "falcon-rs", Position: 2, TotalTimeSec: 61.3,
				Location: model.Location{Lap: 1, Sector: 3, DistanceM: 4480}},
		},
	}
}

func TestChecksumStableAcrossInsertionOrder(t *testing.T) {
	a := raceState("race_1")

	b := &model.RaceState{
		Race:         a.Race,
		CurrentLap:   a.CurrentLap,
		RaceTimeSec:  a.RaceTimeSec,
		Participants: map[string]*model.Participant{},
	}
	// Insert in reverse order; the digest must not care.
	for _, id := range []string{"bob", "alice"} {
		cp := *a.Participants[id]
		b.Participants[id] = &cp
	}

	assert.Equal(t, Checksum(a), Checksum(b))
	assert.Len(t, Checksum(a), 64)
}

func TestChecksumSeesRecoveryCriticalFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*model.RaceState)
	}{
		{"race_id", func(s *model.RaceState) { s.ID = "race_other" }},
		{"current_lap", func(s *model.RaceState) { s.CurrentLap++ }},
		{"race_time", func(s *model.RaceState) { s.RaceTimeSec += 0.1 }},
		{"position", func(s *model.RaceState) { s.Participants["alice"].Position = 2 }},
		{"total_time", func(s *model.RaceState) { s.Participants["bob"].TotalTimeSec += 1 }},
		{"participant_set", func(s *model.RaceState) { delete(s.Participants, "bob") }},
	}
	base := Checksum(raceState("race_1"))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := raceState("race_1")
			tc.mutate(state)
			assert.NotEqual(t, base, Checksum(state))
		})
	}
}

func TestChecksumIgnoresCosmeticFields(t *testing.T) {
	state := raceState("race_1")
	base := Checksum(state)

	state.Participants["alice"].SpeedKmh = 250
	state.Participants["alice"].FuelPct = 12
	state.Events = append(state.Events, model.RaceEvent{ID: "evt_x", Type: model.EventOvertake})

	assert.Equal(t, base, Checksum(state))
}

func TestValidate(t *testing.T) {
	valid := func() *model.RaceSnapshot {
		state := raceState("race_1")
		return &model.RaceSnapshot{
			ID:       "snap_1",
			RaceID:   "race_1",
			State:    *state.Copy(),
			Checksum: Checksum(state),
		}
	}

	require.NoError(t, Validate(valid()))

	cases := []struct {
		name   string
		mutate func(*model.RaceSnapshot)
	}{
		{"tampered_state", func(s *model.RaceSnapshot) { s.State.RaceTimeSec += 5 }},
		{"tampered_checksum", func(s *model.RaceSnapshot) { s.Checksum = "deadbeef" }},
		{"race_id_mismatch", func(s *model.RaceSnapshot) { s.RaceID = "race_2" }},
		{"missing_race_id", func(s *model.RaceSnapshot) { s.RaceID, s.State.ID = "", "" }},
		{"zero_position", func(s *model.RaceSnapshot) {
			s.State.Participants["alice"].Position = 0
			s.Checksum = Checksum(&s.State)
		}},
		{"missing_car", func(s *model.RaceSnapshot) {
			s.State.Participants["bob"].CarID = ""
			s.Checksum = Checksum(&s.State)
		}},
		{"mismatched_key", func(s *model.RaceSnapshot) {
			s.State.Participants["alice"].PlayerID = "mallory"
			s.Checksum = Checksum(&s.State)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := valid()
			tc.mutate(snap)
			assert.ErrorIs(t, Validate(snap), ErrInvalidSnapshot)
		})
	}
}
