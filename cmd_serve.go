package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != "" {
			cfg.Port = servePort
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "listen port (overrides PORT)")
}

func serve(ctx context.Context, cfg Config, log *zap.Logger) error {
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	app, err := newApp(openCtx, cfg, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("fieldscan API listening",
			zap.String("addr", srv.Addr),
			zap.String("backend", app.backend.BaseURL()),
			zap.String("store", cfg.Store))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.close(context.Background())
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	err = srv.Shutdown(shutCtx)
	app.close(shutCtx)
	return err
}
