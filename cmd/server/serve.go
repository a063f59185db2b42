package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/deception-api/internal/audio"
	"github.com/Brownie44l1/deception-api/internal/config"
	"github.com/Brownie44l1/deception-api/internal/explain"
	"github.com/Brownie44l1/deception-api/internal/handlers"
	"github.com/Brownie44l1/deception-api/internal/model"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load the models and serve the HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	audioArt, textArt := artifacts(cfg)
	// Models load independently rather than all-or-nothing: a bad artifact
	// only disables its own endpoint.
	models := model.LoadSet(ctx, boundedStore{store, artifactFetchTimeout}, audioArt, textArt, cfg.Models.ONNXRuntimeLib)
	defer model.DestroyONNX()
	defer models.Close()

	var explainer explain.Explainer
	if e, err := explain.New(ctx, cfg.Explain); err != nil {
		log.Warn().Err(err).Msg("explanation endpoint disabled")
	} else {
		explainer = e
	}

	h := handlers.NewHandler(models, audio.NewExtractor(), explainer, handlers.Options{
		ScratchDir:     cfg.ScratchDir,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		ExplainTimeout: cfg.ExplainTimeout(),
		CORSOrigin:     cfg.CORSOrigin,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      cfg.ExplainTimeout() + 30*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Bool("audio_model", models.Audio != nil).
			Bool("text_model", models.Text != nil).
			Bool("explainer", explainer != nil).
			Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
