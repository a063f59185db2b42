package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/deception-api/internal/config"
	"github.com/Brownie44l1/deception-api/internal/model"
	"github.com/Brownie44l1/deception-api/internal/modelstore"
)

const artifactFetchTimeout = 5 * time.Minute

type rootFlags struct {
	configPath string
	addr       string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	root := &cobra.Command{
		Use:   "server",
		Short: "Deception detection API",
		Long: `Serves an audio and a text deception classifier over HTTP, plus
LLM-written explanations of transcripts.

Configuration comes from defaults, an optional YAML file (--config) and
environment variables such as PORT, AUDIO_MODEL_URL, TEXT_MODEL_URL and
GOOGLE_API_KEY.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&flags.addr, "addr", "", "listen address, overrides PORT and ADDR")

	serve := newServeCmd(&flags)
	root.RunE = serve.RunE
	root.AddCommand(serve, newFetchCmd(&flags), newFeaturesCmd(&flags))
	return root
}

// loadConfig reads the configuration and sets up the global logger.
func loadConfig(flags *rootFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return cfg, err
	}
	if flags.addr != "" {
		cfg.Addr = flags.addr
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(lc config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	lvl := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(lc.Level)); err == nil && lc.Level != "" {
		lvl = l
	}
	if lc.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.Level(lvl)
	zerolog.DefaultContextLogger = &log.Logger
}

func newStore(cfg config.Config) (*modelstore.Store, error) {
	store, err := modelstore.New(cfg.Models.CacheDir)
	if err != nil {
		return nil, err
	}
	store.Register("s3", modelstore.NewS3Fetcher(modelstore.NewS3Client(modelstore.S3Options{
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		SessionToken:    cfg.S3.SessionToken,
	})))
	return store, nil
}

func artifacts(cfg config.Config) (audio, text modelstore.Artifact) {
	audio = modelstore.Artifact{
		Name:   "audio",
		URL:    cfg.Models.Audio.URL,
		File:   cfg.Models.Audio.File,
		SHA256: cfg.Models.Audio.SHA256,
	}
	text = modelstore.Artifact{
		Name:   "text",
		URL:    cfg.Models.Text.URL,
		File:   cfg.Models.Text.File,
		SHA256: cfg.Models.Text.SHA256,
	}
	return audio, text
}

// boundedStore gives every artifact its own fetch deadline.
type boundedStore struct {
	store   *modelstore.Store
	timeout time.Duration
}

var _ model.Ensurer = boundedStore{}

func (b boundedStore) Ensure(ctx context.Context, a modelstore.Artifact) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.store.Ensure(ctx, a)
}
