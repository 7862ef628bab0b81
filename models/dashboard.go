package models

// DashboardStats mirrors the backend's /dashboard-stats payload.
// Every field is optional on the wire; missing ones decode to zero values.
type DashboardStats struct {
	History           []HistoryPoint `json:"history"`
	FieldHealthScore  int            `json:"field_health_score,omitempty"`
	AnomaliesDetected int            `json:"anomalies_detected,omitempty"`
	Recommendations   []string       `json:"recommendations,omitempty"`
	GlobalInsights    []Insight      `json:"global_insights"`
}

// HistoryPoint is one entry of the NDVI time series.
type HistoryPoint struct {
	Date      string  `json:"date"` // free-form label, e.g. "Week 3" or "Scan 9"
	NDVI      float64 `json:"ndvi"`
	Threshold float64 `json:"threshold"`
	Filename  string  `json:"filename,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// BelowThreshold reports whether the point is under its own alert threshold.
func (h HistoryPoint) BelowThreshold() bool { return h.NDVI < h.Threshold }
