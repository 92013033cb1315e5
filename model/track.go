package model

// Surface is the track surface type; it scales available grip.
type Surface string

const (
	SurfaceAsphalt  Surface = "asphalt"
	SurfaceConcrete Surface = "concrete"
	SurfaceMixed    Surface = "mixed"
)

// Track is a read-only circuit description.
type Track struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	LengthM    float64 `json:"length"`
	Sectors    int     `json:"sectors"`
	Corners    int     `json:"corners"`
	ElevationM float64 `json:"elevation"`
	Surface    Surface `json:"surface"`
	Difficulty int     `json:"difficulty"`
}

// SectorAt maps a distance along the lap to a 1-based sector index.
func (t Track) SectorAt(distanceM float64) int {
	if t.Sectors <= 0 || t.LengthM <= 0 {
		return 1
	}
	s := int(distanceM/(t.LengthM/float64(t.Sectors))) + 1
	if s > t.Sectors {
		s = t.Sectors
	}
	return s
}

// GripFactor converts the surface into a grip multiplier.
func (t Track) GripFactor() float64 {
	switch t.Surface {
	case SurfaceConcrete:
		return 0.95
	case SurfaceMixed:
		return 0.9
	default:
		return 1.0
	}
}

var trackCatalog = map[string]Track{
	"silverline": {
		ID:         "silverline",
		Name:       "Silverline Circuit",
		LengthM:    5000,
		Sectors:    3,
		Corners:    14,
		ElevationM: 22,
		Surface:    SurfaceAsphalt,
		Difficulty: 3,
	},
	"harbor-street": {
		ID:         "harbor-street",
		Name:       "Harbor Street Circuit",
		LengthM:    3200,
		Sectors:    3,
		Corners:    19,
		ElevationM: 8,
		Surface:    SurfaceConcrete,
		Difficulty: 4,
	},
	"alpine-ring": {
		ID:         "alpine-ring",
		Name:       "Alpine Ring",
		LengthM:    7100,
		Sectors:    4,
		Corners:    16,
		ElevationM: 140,
		Surface:    SurfaceMixed,
		Difficulty: 5,
	},
}

// TrackByID looks up a track in the built-in catalog.
func TrackByID(id string) (Track, bool) {
	t, ok := trackCatalog[id]
	return t, ok
}

// TrackIDs returns the catalog IDs in no particular order.
func TrackIDs() []string {
	ids := make([]string, 0, len(trackCatalog))
	for id := range trackCatalog {
		ids = append(ids, id)
	}
	return ids
}
