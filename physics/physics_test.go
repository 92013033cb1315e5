package physics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucaswhitaker22/specracer/model"
)

const dt = 0.1

func testCar(t *testing.T) model.Car {
	t.Helper()
	car, ok := model.CarByID("apex-gt")
	require.True(t, ok)
	return car
}

func testTrack(t *testing.T) model.Track {
	t.Helper()
	trk, ok := model.TrackByID("silverline")
	require.True(t, ok)
	return trk
}

func freshParticipant() model.Participant {
	return model.Participant{
		PlayerID: "p1",
		CarID:    "apex-gt",
		FuelPct:  100,
		Gear:     1,
		Location: model.Location{Lap: 1, Sector: 1},
	}
}

func accelerate(i float64) model.Command {
	return model.Command{Kind: model.CmdAccelerate, Intensity: i}
}

func TestStepDeterministic(t *testing.T) {
	car, trk := testCar(t), testTrack(t)
	p := freshParticipant()
	p.SpeedKmh = 120
	p.Location.DistanceM = 800

	a, eventsA := Step(p, car, accelerate(0.8), trk, dt, DefaultEnvironment())
	b, eventsB := Step(p, car, accelerate(0.8), trk, dt, DefaultEnvironment())

	assert.Equal(t, a, b)
	assert.Equal(t, eventsA, eventsB)
}

func TestStepDoesNotMutateInput(t *testing.T) {
	car, trk := testCar(t), testTrack(t)
	p := freshParticipant()
	p.SpeedKmh = 100
	before := p

	Step(p, car, accelerate(1), trk, dt, DefaultEnvironment())
	assert.Equal(t, before, p)
}

func TestAccelerateFromStandstill(t *testing.T) {
	car, trk := testCar(t), testTrack(t)
	p := freshParticipant()

	p, _ = Step(p, car, accelerate(1), trk, dt, DefaultEnvironment())
	assert.Greater(t, p.SpeedKmh, 0.0)
	assert.InDelta(t, dt, p.TotalTimeSec, 1e-9)
}

func TestTopSpeedCap(t *testing.T) {
	car, trk := testCar(t), testTrack(t)
	p := freshParticipant()
	p.Gear = 8
	p.SpeedKmh = car.TopSpeedKmh

	for i := 0; i < 100; i++ {
		p, _ = Step(p, car, accelerate(1), trk, dt, DefaultEnvironment())
		require.LessOrEqual(t, p.SpeedKmh, car.TopSpeedKmh)
	}
}

func TestBrakeReducesSpeedNeverNegative(t *testing.T) {
	car, trk := testCar(t), testTrack(t)
	p := freshParticipant()
	p.SpeedKmh = 80

	prev := p.SpeedKmh
	for i := 0; i < 200; i++ {
		p, _ = Step(p, car, model.Command{Kind: model.CmdBrake, Intensity: 1}, trk, dt, DefaultEnvironment())
		require.LessOrEqual(t, p.SpeedKmh, prev)
		require.GreaterOrEqual(t, p.SpeedKmh, 0.0)
		prev = p.SpeedKmh
	}
	assert.Zero(t, p.SpeedKmh)
}

func TestCoastDecelerates(t *testing.T) {
	car, trk := testCar(t), testTrack(t)
	p := freshParticipant()
	p.SpeedKmh = 200

	p2, _ := Step(p, car, model.Coast(), trk, dt, DefaultEnvironment())
	assert.Less(t, p2.SpeedKmh, p.SpeedKmh)
}

func TestShiftSetsGear(t *testing.T) {
	car, trk := testCar(t), testTrack(t)
	p := freshParticipant()
	p.SpeedKmh = 60

	p, _ = Step(p, car, model.Command{Kind: model.CmdShift, Gear: 3}, trk, dt, DefaultEnvironment())
	assert.Equal(t, 3, p.Gear)

	// Shift applies no throttle, so drag should have bled a little speed.
	assert.Less(t, p.SpeedKmh, 60.0)
}

func TestLapWrapCarriesResidual(t *testing.T) {
	car, trk := testCar(t), testTrack(t)
	p := freshParticipant()
	p.SpeedKmh = 180 // 50 m/s
	p.Location.DistanceM = trk.LengthM - 2

	p, _ = Step(p, car, model.Coast(), trk, dt, DefaultEnvironment())
	assert.Equal(t, 2, p.Location.Lap)
	assert.Less(t, p.Location.DistanceM, trk.LengthM)
	assert.GreaterOrEqual(t, p.Location.DistanceM, 0.0)
	assert.Equal(t, 1, p.Location.Sector)
}

func TestFuelMonotonicDecrease(t *testing.T) {
	car, trk := testCar(t), testTrack(t)
	p := freshParticipant()
	p.SpeedKmh = 250

	prev := p.FuelPct
	for i := 0; i < 100; i++ {
		p, _ = Step(p, car, accelerate(1), trk, dt, DefaultEnvironment())
		require.LessOrEqual(t, p.FuelPct, prev)
		prev = p.FuelPct
	}
	assert.Less(t, p.FuelPct, 100.0)
}

func TestZeroFuelDisablesThrottle(t *testing.T) {
	car, trk := testCar(t), testTrack(t)
	p := freshParticipant()
	p.FuelPct = 0
	p.SpeedKmh = 100

	p2, _ := Step(p, car, accelerate(1), trk, dt, DefaultEnvironment())
	assert.Less(t, p2.SpeedKmh, p.SpeedKmh, "no thrust without fuel")
	assert.GreaterOrEqual(t, p2.SpeedKmh, 0.0)
	assert.Zero(t, p2.FuelPct)
}

func TestLowFuelEventFiresOnceAtCrossing(t *testing.T) {
	car, trk := testCar(t), testTrack(t)
	p := freshParticipant()
	p.FuelPct = 5.0001
	p.SpeedKmh = 300

	var fired int
	for i := 0; i < 50; i++ {
		var events []LocalEvent
		p, events = Step(p, car, accelerate(1), trk, dt, DefaultEnvironment())
		for _, e := range events {
			if e.Kind == LowFuel {
				fired++
			}
		}
	}
	assert.Equal(t, 1, fired, "crossing below 5%% fires exactly once")
}

func TestFrontTiresWearFaster(t *testing.T) {
	car, trk := testCar(t), testTrack(t)
	p := freshParticipant()
	p.SpeedKmh = 250

	for i := 0; i < 500; i++ {
		p, _ = Step(p, car, accelerate(0.9), trk, dt, DefaultEnvironment())
	}
	require.Greater(t, p.Tires.Rear, 0.0)
	assert.InDelta(t, 1.2, p.Tires.Front/p.Tires.Rear, 0.01)
}

func TestTireWearSaturatesAt100(t *testing.T) {
	car, trk := testCar(t), testTrack(t)
	p := freshParticipant()
	p.SpeedKmh = 250
	p.Tires = model.TireWear{Front: 99.9, Rear: 99.9}

	for i := 0; i < 100; i++ {
		p, _ = Step(p, car, accelerate(1), trk, dt, DefaultEnvironment())
		require.LessOrEqual(t, p.Tires.Front, 100.0)
		require.LessOrEqual(t, p.Tires.Rear, 100.0)
	}
	assert.Equal(t, 100.0, p.Tires.Front)
}

func TestTireWornEventAtThreshold(t *testing.T) {
	car, trk := testCar(t), testTrack(t)
	p := freshParticipant()
	p.SpeedKmh = 250
	p.Tires = model.TireWear{Front: 79.99, Rear: 66}

	var fired int
	for i := 0; i < 200; i++ {
		var events []LocalEvent
		p, events = Step(p, car, accelerate(1), trk, dt, DefaultEnvironment())
		for _, e := range events {
			if e.Kind == TireWorn {
				fired++
			}
		}
	}
	assert.Equal(t, 1, fired)
	assert.Greater(t, p.Tires.Front, 80.0)
}

func TestPitCommandAppliesLightBraking(t *testing.T) {
	car, trk := testCar(t), testTrack(t)
	p := freshParticipant()
	p.SpeedKmh = 150

	coasted, _ := Step(p, car, model.Coast(), trk, dt, DefaultEnvironment())
	pitted, _ := Step(p, car, model.Command{Kind: model.CmdPit}, trk, dt, DefaultEnvironment())
	assert.Less(t, pitted.SpeedKmh, coasted.SpeedKmh)
}

func TestFasterCarPullsAhead(t *testing.T) {
	trk := testTrack(t)
	strong, ok := model.CarByID("vortex-v8")
	require.True(t, ok)
	weak, ok := model.CarByID("meridian-s4")
	require.True(t, ok)

	a, b := freshParticipant(), freshParticipant()
	for i := 0; i < 600; i++ {
		a, _ = Step(a, strong, accelerate(1), trk, dt, DefaultEnvironment())
		b, _ = Step(b, weak, accelerate(1), trk, dt, DefaultEnvironment())
	}
	totalA := float64(a.Location.Lap)*trk.LengthM + a.Location.DistanceM
	totalB := float64(b.Location.Lap)*trk.LengthM + b.Location.DistanceM
	assert.Greater(t, totalA, totalB)
}
