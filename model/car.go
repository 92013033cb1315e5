package model

// Drivetrain is the driven-axle layout.
type Drivetrain string

const (
	DriveFWD Drivetrain = "FWD"
	DriveRWD Drivetrain = "RWD"
	DriveAWD Drivetrain = "AWD"
)

// Car is a read-only reference model. All physics inputs come from here;
// nothing in a Car changes during a race.
type Car struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Horsepower      float64    `json:"horsepower"`
	WeightKg        float64    `json:"weightKg"`
	DragCoef        float64    `json:"dragCoef"`
	FrontalAreaM2   float64    `json:"frontalAreaM2"`
	Drivetrain      Drivetrain `json:"drivetrain"`
	TireGrip        float64    `json:"tireGrip"`
	GearRatios      []float64  `json:"gearRatios"`
	AeroDownforceKg float64    `json:"aeroDownforceKgAt100mph"`
	FuelEconomyL100 float64    `json:"fuelEconomyL100"`
	TopSpeedKmh     float64    `json:"topSpeedKmh"`
}

// carCatalog is the built-in roster. IDs are stable; clients select by ID.
var carCatalog = map[string]Car{
	"apex-gt": {
		ID:              "apex-gt",
		Name:            "Apex GT",
		Horsepower:      520,
		WeightKg:        1420,
		DragCoef:        0.32,
		FrontalAreaM2:   2.0,
		Drivetrain:      DriveRWD,
		TireGrip:        1.25,
		GearRatios:      []float64{3.6, 2.5, 1.9, 1.5, 1.2, 1.0, 0.85, 0.74},
		AeroDownforceKg: 180,
		FuelEconomyL100: 18.5,
		TopSpeedKmh:     315,
	},
	"falcon-rs": {
		ID:              "falcon-rs",
		Name:            "Falcon RS",
		Horsepower:      450,
		WeightKg:        1350,
		DragCoef:        0.30,
		FrontalAreaM2:   1.9,
		Drivetrain:      DriveAWD,
		TireGrip:        1.35,
		GearRatios:      []float64{3.8, 2.6, 2.0, 1.6, 1.3, 1.05, 0.9, 0.78},
		AeroDownforceKg: 220,
		FuelEconomyL100: 16.0,
		TopSpeedKmh:     295,
	},
	"meridian-s4": {
		ID:              "meridian-s4",
		Name:            "Meridian S4",
		Horsepower:      380,
		WeightKg:        1280,
		DragCoef:        0.29,
		FrontalAreaM2:   1.85,
		Drivetrain:      DriveFWD,
		TireGrip:        1.15,
		GearRatios:      []float64{3.9, 2.7, 2.0, 1.55, 1.25, 1.02, 0.88, 0.76},
		AeroDownforceKg: 120,
		FuelEconomyL100: 13.5,
		TopSpeedKmh:     272,
	},
	"vortex-v8": {
		ID:              "vortex-v8",
		Name:            "Vortex V8",
		Horsepower:      610,
		WeightKg:        1560,
		DragCoef:        0.35,
		FrontalAreaM2:   2.1,
		Drivetrain:      DriveRWD,
		TireGrip:        1.2,
		GearRatios:      []float64{3.4, 2.4, 1.85, 1.45, 1.18, 0.98, 0.84, 0.72},
		AeroDownforceKg: 160,
		FuelEconomyL100: 21.0,
		TopSpeedKmh:     330,
	},
}

// CarByID looks up a car in the built-in catalog.
func CarByID(id string) (Car, bool) {
	c, ok := carCatalog[id]
	return c, ok
}

// CarIDs returns the catalog IDs in no particular order.
func CarIDs() []string {
	ids := make([]string, 0, len(carCatalog))
	for id := range carCatalog {
		ids = append(ids, id)
	}
	return ids
}
