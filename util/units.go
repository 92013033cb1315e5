package util

// Gravity is standard gravitational acceleration in m/s^2.
const Gravity = 9.81

// KmhToMs converts km/h to m/s.
func KmhToMs(kmh float64) float64 {
	return kmh / 3.6
}

// MsToKmh converts m/s to km/h.
func MsToKmh(ms float64) float64 {
	return ms * 3.6
}

// HpToWatts converts mechanical horsepower to watts.
func HpToWatts(hp float64) float64 {
	return hp * 745.7
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampPct bounds v to [0, 100].
func ClampPct(v float64) float64 {
	return Clamp(v, 0, 100)
}
