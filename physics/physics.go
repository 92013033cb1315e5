// Package physics implements the per-tick participant state update. Step is
// a pure function: identical inputs produce identical outputs, which is what
// makes snapshots replayable and races deterministic.
package physics

import (
	"math"

	"github.com/lucaswhitaker22/specracer/model"
	"github.com/lucaswhitaker22/specracer/util"
)

const (
	airDensityDefault = 1.225 // kg/m^3 at sea level
	rollingResistance = 0.015
	tankLiters        = 60.0

	// Fuel burn scales between idle and full throttle.
	idleBurnShare   = 0.2
	throttleBurnMax = 1.5
	idleBurnPctSec  = 0.002

	// Thresholds for local incident detection.
	lowFuelPct  = 5.0
	tireWornPct = 80.0

	// Front tires carry braking and steering load.
	frontWearRatio = 1.2

	// Reference speed for the downforce rating (100 mph).
	downforceRefMs = 44.7

	// Launch modelling: below this speed the power-limited acceleration
	// is evaluated at this floor to avoid a divide-by-zero singularity.
	launchFloorMs = 3.0

	// Mean corner length used to estimate how much of a lap is cornering.
	cornerLengthM = 50.0

	wearBasePctSec  = 0.05
	wearSpeedCoef   = 0.3
	wearLateralCoef = 0.5
	wearBrakeCoef   = 0.7
	wearRefWeightKg = 1400.0

	// Worn tires lose up to this fraction of their grip.
	wearGripLoss = 0.3
)

// Environment carries the ambient conditions for a step. The zero value is
// not useful; use DefaultEnvironment.
type Environment struct {
	AirDensity float64
	GripFactor float64
}

// DefaultEnvironment returns sea-level air and a neutral grip multiplier.
func DefaultEnvironment() Environment {
	return Environment{AirDensity: airDensityDefault, GripFactor: 1.0}
}

// LocalEventKind names a per-participant incident detected during a step.
type LocalEventKind string

const (
	LowFuel  LocalEventKind = "low_fuel"
	TireWorn LocalEventKind = "tire_worn"
)

// LocalEvent is a threshold crossing observed during one step. The engine
// turns these into incident race events.
type LocalEvent struct {
	Kind  LocalEventKind
	Value float64
}

// Step advances one participant by dt seconds under the given command.
// The input participant is not modified.
func Step(p model.Participant, car model.Car, cmd model.Command, trk model.Track, dt float64, env Environment) (model.Participant, []LocalEvent) {
	if env.AirDensity <= 0 {
		env = DefaultEnvironment()
	}

	throttle, brake := commandInputs(cmd)
	if cmd.Kind == model.CmdShift && cmd.Gear >= 1 && cmd.Gear <= 8 {
		p.Gear = cmd.Gear
	}
	if p.Gear < 1 {
		p.Gear = 1
	}
	if p.FuelPct <= 0 {
		throttle = 0
	}

	v := util.KmhToMs(p.SpeedKmh)
	mass := car.WeightKg
	grip := effectiveGrip(car, trk, env, p.Tires)

	// Drive acceleration: the lesser of what the engine can push and what
	// the tires can transmit.
	var accel float64
	if throttle > 0 {
		power := util.HpToWatts(car.Horsepower) * drivetrainEfficiency(car.Drivetrain) * gearEfficiency(car, p.Gear, p.SpeedKmh)
		vRef := math.Max(v, launchFloorMs)
		aPower := power * throttle / (mass * vRef)
		aGrip := grip * util.Gravity * (1 + downforceN(car, v)/(mass*util.Gravity)) * tractionFactor(car.Drivetrain)
		accel = math.Min(aPower, aGrip)
	}

	// Resistive decelerations apply whenever the car is moving.
	var brakeDecel float64
	if v > 0 {
		dragN := 0.5 * env.AirDensity * car.DragCoef * car.FrontalAreaM2 * v * v
		accel -= dragN / mass
		accel -= rollingResistance * util.Gravity
		if brake > 0 {
			brakeDecel = brake * grip * util.Gravity * (1 + downforceN(car, v)/(mass*util.Gravity))
			accel -= brakeDecel
		}
	}

	vNew := v + accel*dt
	if vNew < 0 {
		vNew = 0
	}
	if vMax := util.KmhToMs(topSpeed(car, env)); vNew > vMax {
		vNew = vMax
	}

	// Advance along the track on the average speed over the step.
	avg := (v + vNew) / 2
	dist := p.Location.DistanceM + avg*dt
	if trk.LengthM > 0 {
		laps := int(dist / trk.LengthM)
		if laps > 0 {
			p.Location.Lap += laps
			dist -= float64(laps) * trk.LengthM
		}
	}
	p.Location.DistanceM = dist
	p.Location.Sector = trk.SectorAt(dist)
	p.SpeedKmh = util.MsToKmh(vNew)
	p.TotalTimeSec += dt
	p.LapTimeSec += dt

	var events []LocalEvent

	// Fuel burn.
	prevFuel := p.FuelPct
	p.FuelPct = util.ClampPct(p.FuelPct - fuelBurnPctPerSec(car, p.SpeedKmh, throttle)*dt)
	if prevFuel >= lowFuelPct && p.FuelPct < lowFuelPct {
		events = append(events, LocalEvent{Kind: LowFuel, Value: p.FuelPct})
	}

	// Tire wear.
	prevWorst := p.Tires.Max()
	rearRate := wearPctPerSec(car, trk, avg, brakeDecel)
	p.Tires.Rear = util.ClampPct(p.Tires.Rear + rearRate*dt)
	p.Tires.Front = util.ClampPct(p.Tires.Front + rearRate*frontWearRatio*dt)
	if prevWorst <= tireWornPct && p.Tires.Max() > tireWornPct {
		events = append(events, LocalEvent{Kind: TireWorn, Value: p.Tires.Max()})
	}

	return p, events
}

// commandInputs maps a command onto throttle and brake pedal positions.
// A pit command applies light braking on the approach.
func commandInputs(cmd model.Command) (throttle, brake float64) {
	switch cmd.Kind {
	case model.CmdAccelerate:
		return util.Clamp(cmd.Intensity, 0, 1), 0
	case model.CmdBrake:
		return 0, util.Clamp(cmd.Intensity, 0, 1)
	case model.CmdPit:
		return 0, 0.5
	default:
		return 0, 0
	}
}

// effectiveGrip folds tire compound, surface, and wear into one friction
// coefficient.
func effectiveGrip(car model.Car, trk model.Track, env Environment, tires model.TireWear) float64 {
	wearAvg := (tires.Front + tires.Rear) / 2
	wearFactor := 1 - wearGripLoss*wearAvg/100
	return car.TireGrip * trk.GripFactor() * env.GripFactor * wearFactor
}

// drivetrainEfficiency is the fraction of crank power reaching the wheels.
func drivetrainEfficiency(d model.Drivetrain) float64 {
	switch d {
	case model.DriveAWD:
		return 0.80
	case model.DriveFWD:
		return 0.90
	default:
		return 0.85
	}
}

// tractionFactor scales launch grip by how much rubber is driven.
func tractionFactor(d model.Drivetrain) float64 {
	switch d {
	case model.DriveAWD:
		return 1.0
	case model.DriveFWD:
		return 0.8
	default:
		return 0.85
	}
}

// gearEfficiency penalizes driving far from the gear's ideal speed band.
// Each gear's ideal speed derives from its ratio relative to top gear.
func gearEfficiency(car model.Car, gear int, speedKmh float64) float64 {
	if len(car.GearRatios) == 0 || gear < 1 || gear > len(car.GearRatios) {
		return 1.0
	}
	top := car.GearRatios[len(car.GearRatios)-1]
	ideal := car.TopSpeedKmh * top / car.GearRatios[gear-1]
	if ideal <= 0 {
		return 1.0
	}
	ratio := speedKmh / ideal
	eff := 1 - 0.35*math.Abs(ratio-0.85)
	return util.Clamp(eff, 0.55, 1.0)
}

// downforceN converts the rated downforce at 100 mph to newtons at speed v.
func downforceN(car model.Car, v float64) float64 {
	if v <= 0 {
		return 0
	}
	scale := v / downforceRefMs
	return car.AeroDownforceKg * util.Gravity * scale * scale
}

// topSpeed caps at the lower of the spec sheet figure and the speed where
// drag absorbs all available power.
func topSpeed(car model.Car, env Environment) float64 {
	power := util.HpToWatts(car.Horsepower) * drivetrainEfficiency(car.Drivetrain)
	cda := env.AirDensity * car.DragCoef * car.FrontalAreaM2
	if cda <= 0 {
		return car.TopSpeedKmh
	}
	vDrag := util.MsToKmh(math.Cbrt(2 * power / cda))
	return math.Min(car.TopSpeedKmh, vDrag)
}

// fuelBurnPctPerSec models consumption as the spec-sheet economy scaled by
// throttle, expressed against a fixed tank size.
func fuelBurnPctPerSec(car model.Car, speedKmh, throttle float64) float64 {
	scale := idleBurnShare + (throttleBurnMax-idleBurnShare)*throttle
	litersPerSec := car.FuelEconomyL100 * (speedKmh / 3600) / 100 * scale
	return litersPerSec/tankLiters*100 + idleBurnPctSec
}

// wearPctPerSec is the rear-axle wear rate; fronts wear frontWearRatio
// times faster. Lateral load is estimated from the track's mean corner
// radius and the share of the lap spent cornering.
func wearPctPerSec(car model.Car, trk model.Track, v, brakeDecel float64) float64 {
	if v <= 0 {
		return 0
	}
	speedRatio := util.MsToKmh(v) / math.Max(car.TopSpeedKmh, 1)

	var lateralG float64
	if trk.Corners > 0 && trk.LengthM > 0 {
		radius := trk.LengthM / (float64(trk.Corners) * 2 * math.Pi)
		cornerShare := util.Clamp(float64(trk.Corners)*cornerLengthM/trk.LengthM, 0, 1)
		lateralG = v * v / (radius * util.Gravity) * cornerShare
	}
	brakeG := brakeDecel / util.Gravity

	load := wearSpeedCoef*speedRatio + wearLateralCoef*lateralG + wearBrakeCoef*brakeG
	weightFactor := car.WeightKg / wearRefWeightKg
	return wearBasePctSec * load * weightFactor / math.Max(car.TireGrip, 0.1)
}
