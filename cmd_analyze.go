package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"fieldscan/analysis"
	"fieldscan/backend"
	"fieldscan/models"
	"fieldscan/storage"
	"fieldscan/workflow"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	analyzeLat, analyzeLon float64
	analyzeCapture         bool
	analyzeDataDir         string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [image]",
	Short: "Analyse an image (or a simulated capture) and store it as the latest result",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !analyzeCapture {
			return errors.New("an image path is required unless --capture is set")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		dir := cfg.DataDir
		if analyzeDataDir != "" {
			dir = analyzeDataDir
		}
		store, err := storage.NewFileStore(dir)
		if err != nil {
			return err
		}
		results, err := analysis.Load(ctx, store, analysis.DefaultKey, logger.Named("analysis"))
		if err != nil {
			return err
		}

		out := cmd.ErrOrStderr()
		lastStage := ""
		flow := workflow.New(results, backend.New(cfg.BackendURL, backend.WithLogger(logger.Named("backend"))), workflow.Options{
			TickInterval: cfg.TickInterval,
			CaptureDelay: cfg.CaptureDelay,
			Logger:       logger.Named("workflow"),
			OnChange: func(s workflow.Snapshot) {
				if s.Stage != "" && s.Stage != lastStage {
					lastStage = s.Stage
					fmt.Fprintf(out, "[%3.0f%%] %s\n", s.Progress, s.Stage)
				}
			},
		})
		defer flow.Close()

		loc := flow.Location()
		if cmd.Flags().Changed("lat") {
			loc.Lat = analyzeLat
		}
		if cmd.Flags().Changed("lon") {
			loc.Lon = analyzeLon
		}
		if err := flow.SetLocation(loc); err != nil {
			return err
		}

		if analyzeCapture {
			if _, err := flow.Capture(ctx, loc); err != nil {
				return err
			}
		} else {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := flow.Select(filepath.Base(args[0]), "", data); err != nil {
				return err
			}
		}

		if err := flow.Run(ctx); err != nil {
			return err
		}
		if snap := flow.Snapshot(); snap.State != workflow.Complete {
			return errors.New(snap.Status)
		}
		logger.Debug("result stored", zap.String("dir", dir))
		return printJSON(cmd, results.Result())
	},
}

func init() {
	analyzeCmd.Flags().Float64Var(&analyzeLat, "lat", models.DefaultCoordinates.Lat, "latitude recorded with the result")
	analyzeCmd.Flags().Float64Var(&analyzeLon, "lon", models.DefaultCoordinates.Lon, "longitude recorded with the result")
	analyzeCmd.Flags().BoolVar(&analyzeCapture, "capture", false, "simulate a satellite capture at --lat/--lon instead of reading a file")
	analyzeCmd.Flags().StringVar(&analyzeDataDir, "data-dir", "", "result directory (overrides DATA_DIR)")
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
