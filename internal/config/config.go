package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
)

type Config struct {
	Addr        string `yaml:"addr"`
	CORSOrigin  string `yaml:"cors_origin"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
	// ScratchDir holds uploaded audio while features are extracted.
	ScratchDir string `yaml:"scratch_dir"`

	Log     LogConfig     `yaml:"log"`
	Models  ModelsConfig  `yaml:"models"`
	Explain ExplainConfig `yaml:"explain"`
	S3      S3Config      `yaml:"s3"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

type ModelsConfig struct {
	CacheDir       string         `yaml:"cache_dir"`
	ONNXRuntimeLib string         `yaml:"onnxruntime_lib"`
	Audio          ArtifactConfig `yaml:"audio"`
	Text           ArtifactConfig `yaml:"text"`
}

// ArtifactConfig locates one serialized model. URL may be empty when the
// file is provisioned into the cache directory out of band.
type ArtifactConfig struct {
	URL    string `yaml:"url"`
	File   string `yaml:"file"`
	SHA256 string `yaml:"sha256"`
}

type ExplainConfig struct {
	Provider      string `yaml:"provider"` // "gemini" or "openai"
	Model         string `yaml:"model"`    // empty: the provider's default
	GoogleAPIKey  string `yaml:"google_api_key"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	TimeoutSec    int    `yaml:"timeout_sec"`
}

type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

func Default() Config {
	return Config{
		Addr:        ":5000",
		CORSOrigin:  "*",
		MaxUploadMB: 32,
		ScratchDir:  os.TempDir(),
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Models: ModelsConfig{
			CacheDir: os.TempDir(),
			Audio:    ArtifactConfig{File: "deception_audio_logreg.onnx"},
			Text:     ArtifactConfig{File: "deception_text_svm.json"},
		},
		Explain: ExplainConfig{
			Provider:   "gemini",
			TimeoutSec: 60,
		},
		S3: S3Config{Region: "us-east-1"},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and finally the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Addr = ":" + v
	}
	c.Addr = getenv("ADDR", c.Addr)
	c.CORSOrigin = getenv("CORS_ORIGIN", c.CORSOrigin)
	c.MaxUploadMB = getenvInt("MAX_UPLOAD_MB", c.MaxUploadMB)
	c.ScratchDir = getenv("SCRATCH_DIR", c.ScratchDir)

	c.Log.Level = getenv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenv("LOG_FORMAT", c.Log.Format)

	c.Models.CacheDir = getenv("MODEL_CACHE_DIR", c.Models.CacheDir)
	c.Models.ONNXRuntimeLib = getenv("ONNXRUNTIME_LIB", c.Models.ONNXRuntimeLib)
	c.Models.Audio.URL = getenv("AUDIO_MODEL_URL", c.Models.Audio.URL)
	c.Models.Audio.File = getenv("AUDIO_MODEL_FILE", c.Models.Audio.File)
	c.Models.Audio.SHA256 = getenv("AUDIO_MODEL_SHA256", c.Models.Audio.SHA256)
	c.Models.Text.URL = getenv("TEXT_MODEL_URL", c.Models.Text.URL)
	c.Models.Text.File = getenv("TEXT_MODEL_FILE", c.Models.Text.File)
	c.Models.Text.SHA256 = getenv("TEXT_MODEL_SHA256", c.Models.Text.SHA256)

	c.Explain.Provider = getenv("EXPLAIN_PROVIDER", c.Explain.Provider)
	c.Explain.Model = getenv("EXPLAIN_MODEL", c.Explain.Model)
	c.Explain.GoogleAPIKey = getenv("GOOGLE_API_KEY", c.Explain.GoogleAPIKey)
	c.Explain.OpenAIAPIKey = getenv("OPENAI_API_KEY", c.Explain.OpenAIAPIKey)
	c.Explain.OpenAIBaseURL = getenv("OPENAI_BASE_URL", c.Explain.OpenAIBaseURL)
	c.Explain.TimeoutSec = getenvInt("EXPLAIN_TIMEOUT", c.Explain.TimeoutSec)

	c.S3.Region = getenv("S3_REGION", c.S3.Region)
	c.S3.Endpoint = getenv("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.AccessKeyID = getenv("AWS_ACCESS_KEY_ID", c.S3.AccessKeyID)
	c.S3.SecretAccessKey = getenv("AWS_SECRET_ACCESS_KEY", c.S3.SecretAccessKey)
	c.S3.SessionToken = getenv("AWS_SESSION_TOKEN", c.S3.SessionToken)
}

// MaxUploadBytes is the multipart memory limit for audio uploads.
func (c Config) MaxUploadBytes() int64 {
	if c.MaxUploadMB <= 0 {
		return 32 << 20
	}
	return int64(c.MaxUploadMB) << 20
}

func (c Config) ExplainTimeout() time.Duration {
	if c.Explain.TimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Explain.TimeoutSec) * time.Second
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
