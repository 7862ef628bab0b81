package models

// ForecastRanges are the forecast lengths (days) a view may request.
var ForecastRanges = []int{1, 3, 5, 7}

// DefaultForecastDays is used when no range is given.
const DefaultForecastDays = 7

// ValidForecastRange reports whether days is one of ForecastRanges.
func ValidForecastRange(days int) bool {
	for _, r := range ForecastRanges {
		if r == days {
			return true
		}
	}
	return false
}

// WeatherReport mirrors the backend's /weather payload.
type WeatherReport struct {
	Forecast         []ForecastDay     `json:"forecast"`
	PredictiveAlerts []PredictiveAlert `json:"predictive_alerts"`
	Location         *Coordinates      `json:"location,omitempty"`
}

type ForecastDay struct {
	Date     string  `json:"date"`     // YYYY-MM-DD
	TempMax  float64 `json:"temp_max"` // °C
	TempMin  float64 `json:"temp_min"` // °C
	Humidity float64 `json:"humidity"` // %
	Wind     float64 `json:"wind"`     // km/h
	Rain     float64 `json:"rain"`     // mm
}

type PredictiveAlert struct {
	Type     string   `json:"type"` // e.g. "Heat Stress"
	Date     string   `json:"date"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lon float64 `json:"lon" bson:"lon"`
}

// Valid reports whether c lies within [-90,90] x [-180,180].
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// DefaultCoordinates is used when neither the session nor the caller knows a location.
var DefaultCoordinates = Coordinates{Lat: 34.05, Lon: -118.24}
