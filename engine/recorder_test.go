package engine

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaswhitaker22/specracer/model"
)

func recordedFrames(n int) *bytes.Buffer {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)
	for i := 1; i <= n; i++ {
		rec.Publish(&Publication{
			Tick: uint64(i),
			State: &model.RaceState{
				Race:        model.Race{ID: "race_1_rec", TrackID: "silverline", TotalLaps: 2},
				RaceTimeSec: float64(i) * 0.1,
				Participants: map[string]*model.Participant{
					"alice": {PlayerID: "alice", CarID: "apex-gt", Position: 1},
				},
			},
		})
	}
	return &buf
}

func TestRecordReplayRoundTrip(t *testing.T) {
	buf := recordedFrames(3)

	p, err := NewPlayer(buf)
	require.NoError(t, err)
	require.Equal(t, 3, p.Len())

	for want := uint64(1); want <= 3; want++ {
		frame, ok := p.Next()
		require.True(t, ok)
		assert.Equal(t, want, frame.Tick)
		assert.InDelta(t, float64(want)*0.1, frame.State.RaceTimeSec, 1e-9)
		assert.Equal(t, "race_1_rec", frame.State.ID)
	}
	_, ok := p.Next()
	assert.False(t, ok)
}

func TestPlayerSeekClamps(t *testing.T) {
	p, err := NewPlayer(recordedFrames(3))
	require.NoError(t, err)

	p.Seek(2)
	frame, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(3), frame.Tick)

	p.Seek(-5)
	frame, ok = p.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(1), frame.Tick)

	p.Seek(99)
	_, ok = p.Next()
	assert.False(t, ok)
}

func TestPlayerStopsAtTornFrame(t *testing.T) {
	buf := recordedFrames(2)
	buf.WriteString(`{"tick":3,"state":`)

	p, err := NewPlayer(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())
}
