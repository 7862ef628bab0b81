package main

import (
	"context"
	"fmt"
	"time"

	"fieldscan/backend"
	"fieldscan/models"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print dashboard statistics from the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()

		stats, err := backend.New(cfg.BackendURL, backend.WithLogger(logger.Named("backend"))).GetDashboardStats(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	},
}

var (
	weatherLat, weatherLon float64
	weatherDays            int
)

var weatherCmd = &cobra.Command{
	Use:   "weather",
	Short: "Print the forecast and predictive alerts for a location",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !models.ValidForecastRange(weatherDays) {
			return fmt.Errorf("days must be one of %v", models.ForecastRanges)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()

		report, err := backend.New(cfg.BackendURL, backend.WithLogger(logger.Named("backend"))).
			GetWeather(ctx, weatherLat, weatherLon, weatherDays)
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

func init() {
	weatherCmd.Flags().Float64Var(&weatherLat, "lat", models.DefaultCoordinates.Lat, "latitude")
	weatherCmd.Flags().Float64Var(&weatherLon, "lon", models.DefaultCoordinates.Lon, "longitude")
	weatherCmd.Flags().IntVar(&weatherDays, "days", models.DefaultForecastDays, "forecast range (1, 3, 5 or 7)")
}
