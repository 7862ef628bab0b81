package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"fieldscan/analysis"
	"fieldscan/models"

	"go.uber.org/zap"
)

// handleDashboardStats proxies the backend history and global insights.
func (a *App) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	stats, err := a.backend.GetDashboardStats(ctx)
	if err != nil {
		a.log.Warn("dashboard stats failed", zap.Error(err))
		http.Error(w, "Failed to fetch dashboard stats", http.StatusBadGateway)
		return
	}
	if stats.History == nil {
		stats.History = []models.HistoryPoint{}
	}
	if stats.GlobalInsights == nil {
		stats.GlobalInsights = []models.Insight{}
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleWeather returns the forecast for ?lat&lon, else the session's
// coordinates, else the default location. days must be a forecast range.
func (a *App) handleWeather(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	days := models.DefaultForecastDays
	if v := q.Get("days"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil || !models.ValidForecastRange(d) {
			http.Error(w, "days must be one of 1, 3, 5, 7", http.StatusBadRequest)
			return
		}
		days = d
	}

	loc := models.DefaultCoordinates
	if cur := analysis.MustFromContext(r.Context()).Result(); cur.HasLocation() {
		loc = models.Coordinates{Lat: *cur.Lat, Lon: *cur.Lon}
	}
	if v := q.Get("lat"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "bad lat", http.StatusBadRequest)
			return
		}
		loc.Lat = f
	}
	if v := q.Get("lon"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "bad lon", http.StatusBadRequest)
			return
		}
		loc.Lon = f
	}
	if !loc.Valid() {
		http.Error(w, "lat must be within [-90,90] and lon within [-180,180]", http.StatusBadRequest)
		return
	}

	key := fmt.Sprintf("%.4f:%.4f:%d", loc.Lat, loc.Lon, days)
	if a.weather != nil {
		if v, ok := a.weather.Get(key); ok {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	report, err := a.backend.GetWeather(ctx, loc.Lat, loc.Lon, days)
	if err != nil {
		a.log.Warn("weather fetch failed", zap.Error(err))
		http.Error(w, "Unable to connect to weather service", http.StatusBadGateway)
		return
	}
	if report.Forecast == nil {
		report.Forecast = []models.ForecastDay{}
	}
	if report.PredictiveAlerts == nil {
		report.PredictiveAlerts = []models.PredictiveAlert{}
	}
	if a.weather != nil {
		a.weather.SetDefault(key, report)
	}
	writeJSON(w, http.StatusOK, report)
}
