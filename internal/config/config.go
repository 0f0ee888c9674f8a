package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	// storage
	StorageDriver string `yaml:"storageDriver"` // "file" (default) or "postgres"
	DataDir       string `yaml:"dataDir"`
	DatabaseURL   string `yaml:"databaseURL"`

	// queue
	QueueDriver      string `yaml:"queueDriver"` // "memory" (default), "redis" or "amqp"
	QueueConcurrency int    `yaml:"queueConcurrency"`
	QueueMaxRetries  int    `yaml:"queueMaxRetries"`
	QueueName        string `yaml:"queueName"`
	QueueGroup       string `yaml:"queueGroup"`
	RedisAddr        string `yaml:"redisAddr"`
	RedisPassword    string `yaml:"redisPassword"`
	AMQPURL          string `yaml:"amqpURL"`

	// upload limits
	MaxUploadBytes        int64 `yaml:"maxUploadBytes"`
	TranscriptionMaxBytes int64 `yaml:"transcriptionMaxBytes"`
	UploadRateLimit       int   `yaml:"uploadRateLimit"`
	UploadRateWindowSec   int   `yaml:"uploadRateWindowSec"`

	// external services
	TranscriptionURL        string  `yaml:"transcriptionURL"`
	TranscriptionKey        string  `yaml:"transcriptionKey"`
	TranscriptionTimeoutSec int     `yaml:"transcriptionTimeoutSec"`
	AnalysisBaseURL         string  `yaml:"analysisBaseURL"`
	AnalysisKey             string  `yaml:"analysisKey"`
	AnalysisModel           string  `yaml:"analysisModel"`
	AnalysisTemperature     float64 `yaml:"analysisTemperature"`

	// transcoder
	FFmpegPath        string `yaml:"ffmpegPath"`
	FFmpegTimeoutSec  int    `yaml:"ffmpegTimeoutSec"`
	CompressBitrateKb int    `yaml:"compressBitrateKb"`

	// optional object-storage archive for finalized audio
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	// service token guard for stage-trigger/delete endpoints
	ServiceTokenKey    string `yaml:"serviceTokenKey"`
	ServiceTokenIssuer string `yaml:"serviceTokenIssuer"`

	TrustedProxies []string `yaml:"trustedProxies"`
}

// Load reads config from path (defaults to config.yaml). A missing file is
// not an error; defaults plus environment variables still apply.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.StorageDriver = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("QUEUE_DRIVER"); v != "" {
		cfg.QueueDriver = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("TRANSCRIPTION_URL"); v != "" {
		cfg.TranscriptionURL = v
	}
	if v := os.Getenv("TRANSCRIPTION_KEY"); v != "" {
		cfg.TranscriptionKey = v
	}
	if v := os.Getenv("ANALYSIS_BASE_URL"); v != "" {
		cfg.AnalysisBaseURL = v
	}
	if v := os.Getenv("ANALYSIS_KEY"); v != "" {
		cfg.AnalysisKey = v
	}
	if v := os.Getenv("ANALYSIS_MODEL"); v != "" {
		cfg.AnalysisModel = v
	}
	if v := os.Getenv("SERVICE_TOKEN_KEY"); v != "" {
		cfg.ServiceTokenKey = v
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("TRANSCRIPTION_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.TranscriptionMaxBytes = n
		}
	}
	if v := os.Getenv("QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		parts := strings.Split(v, ",")
		cfg.TrustedProxies = cfg.TrustedProxies[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cfg.TrustedProxies = append(cfg.TrustedProxies, p)
			}
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *FileConfig) applyDefaults() {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.StorageDriver == "" {
		c.StorageDriver = "file"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.QueueDriver == "" {
		c.QueueDriver = "memory"
	}
	if c.QueueConcurrency <= 0 {
		c.QueueConcurrency = 2
	}
	if c.QueueMaxRetries <= 0 {
		c.QueueMaxRetries = 3
	}
	if c.QueueName == "" {
		c.QueueName = "callaudit:stages"
	}
	if c.QueueGroup == "" {
		c.QueueGroup = "callaudit"
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 100 << 20
	}
	if c.TranscriptionMaxBytes <= 0 {
		c.TranscriptionMaxBytes = 25 << 20
	}
	if c.UploadRateLimit <= 0 {
		c.UploadRateLimit = 120
	}
	if c.UploadRateWindowSec <= 0 {
		c.UploadRateWindowSec = 60
	}
	if c.TranscriptionTimeoutSec <= 0 {
		c.TranscriptionTimeoutSec = 300
	}
	if c.AnalysisModel == "" {
		c.AnalysisModel = "gpt-4o-mini"
	}
	if c.AnalysisTemperature <= 0 {
		c.AnalysisTemperature = 0.2
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.FFmpegTimeoutSec <= 0 {
		c.FFmpegTimeoutSec = 180
	}
	if c.CompressBitrateKb <= 0 {
		c.CompressBitrateKb = 32
	}
	if c.ServiceTokenIssuer == "" {
		c.ServiceTokenIssuer = "callaudit"
	}
}
