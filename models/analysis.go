package models

import "time"

// Severity is the coarse classification of detected field anomalies.
type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// Valid reports whether s is one of the three known levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// AnalysisResult is the single "current" analysis of a session.
// It is always replaced wholesale; nothing patches individual fields.
type AnalysisResult struct {
	NDVI         float64  `bson:"ndvi"                 json:"ndvi"`         // mean vegetation index, -1..1
	AffectedArea float64  `bson:"affectedArea"         json:"affectedArea"` // percent of field flagged, 0..100
	Severity     Severity `bson:"severity"             json:"severity"`
	Confidence   float64  `bson:"confidence"           json:"confidence"` // percent, 0..100
	Timestamp    string   `bson:"timestamp"            json:"timestamp"`  // ISO-8601
	ImageName    string   `bson:"imageName"            json:"imageName"`
	HeatmapURL   string   `bson:"heatmapUrl,omitempty" json:"heatmapUrl,omitempty"` // absolute or backend-relative
	RGBURL       string   `bson:"rgbUrl,omitempty"     json:"rgbUrl,omitempty"`

	Insights []Insight `bson:"insights,omitempty" json:"insights,omitempty"`

	// Geolocation is client-known; the backend never returns it.
	Lat *float64 `bson:"lat,omitempty" json:"lat,omitempty"`
	Lon *float64 `bson:"lon,omitempty" json:"lon,omitempty"`

	Metadata *CaptureMetadata `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// Insight is a textual finding attached to an analysis or to the dashboard.
type Insight struct {
	ID              string   `bson:"id,omitempty"              json:"id,omitempty"`
	Title           string   `bson:"title"                     json:"title"`
	Description     string   `bson:"description"               json:"description"`
	Severity        Severity `bson:"severity"                  json:"severity"`
	Zone            string   `bson:"zone,omitempty"            json:"zone,omitempty"`
	Confidence      *float64 `bson:"confidence,omitempty"      json:"confidence,omitempty"`
	Icon            string   `bson:"icon,omitempty"            json:"icon,omitempty"`
	Recommendations []string `bson:"recommendations,omitempty" json:"recommendations,omitempty"`
}

// CaptureMetadata describes the sensor of a (simulated) satellite capture.
type CaptureMetadata struct {
	Sensor     string   `bson:"sensor"     json:"sensor"`     // e.g. "Sentinel-2A"
	Resolution string   `bson:"resolution" json:"resolution"` // e.g. "10m"
	CloudCover string   `bson:"cloudCover" json:"cloudCover"`
	Bands      []string `bson:"bands"      json:"bands"` // e.g. B04, B03, B02, B08
}

// HasLocation reports whether both coordinates are set.
func (r AnalysisResult) HasLocation() bool { return r.Lat != nil && r.Lon != nil }

// Clone returns a deep copy so callers can never alias the stored value.
func (r AnalysisResult) Clone() AnalysisResult {
	out := r
	if r.Lat != nil {
		v := *r.Lat
		out.Lat = &v
	}
	if r.Lon != nil {
		v := *r.Lon
		out.Lon = &v
	}
	if r.Insights != nil {
		out.Insights = make([]Insight, len(r.Insights))
		for i, in := range r.Insights {
			c := in
			if in.Confidence != nil {
				v := *in.Confidence
				c.Confidence = &v
			}
			if in.Recommendations != nil {
				c.Recommendations = append([]string(nil), in.Recommendations...)
			}
			out.Insights[i] = c
		}
	}
	if r.Metadata != nil {
		m := *r.Metadata
		if r.Metadata.Bands != nil {
			m.Bands = append([]string(nil), r.Metadata.Bands...)
		}
		out.Metadata = &m
	}
	return out
}

// DefaultResult is the seed used when nothing has been persisted yet.
func DefaultResult(now time.Time) AnalysisResult {
	return AnalysisResult{
		NDVI:         0.62,
		AffectedArea: 23.4,
		Severity:     SeverityMedium,
		Confidence:   91.7,
		Timestamp:    FormatTimestamp(now),
		ImageName:    "field_scan_001.tif",
	}
}

// FormatTimestamp renders t the way the results are stamped (UTC, millisecond ISO-8601).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
