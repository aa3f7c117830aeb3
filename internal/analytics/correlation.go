package analytics

import "math"

// WeatherVariable names one of the columns component N's poller writes
// into the weather table, the vocabulary WeatherCorrelation accepts
// (spec.md §3 Weather).
type WeatherVariable string

const (
	WeatherTemperature   WeatherVariable = "temperature"
	WeatherHumidity      WeatherVariable = "humidity"
	WeatherPressure      WeatherVariable = "pressure"
	WeatherWindSpeed     WeatherVariable = "wind_speed"
	WeatherPrecipitation WeatherVariable = "precipitation"
)

// HourlyObservation pairs a detection count with an optional weather
// variable reading for one hour_epoch (spec.md §3 Weather, §4.L).
type HourlyObservation struct {
	HourEpoch      int64
	DetectionCount float64
	Value          *float64 // nil when the weather variable is missing for this hour
}

// PearsonCorrelation computes Pearson's r between per-hour detection
// counts and a weather variable, skipping hours where Value is nil
// (spec.md §4.L). An undefined denominator (zero variance in either
// series) yields 0.0 rather than NaN.
func PearsonCorrelation(obs []HourlyObservation) float64 {
	var xs, ys []float64
	for _, o := range obs {
		if o.Value == nil {
			continue
		}
		xs = append(xs, o.DetectionCount)
		ys = append(ys, *o.Value)
	}
	n := len(xs)
	if n == 0 {
		return 0.0
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/float64(n), sumY/float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}

	denom := math.Sqrt(varX * varY)
	if denom == 0 {
		return 0.0
	}
	return cov / denom
}
