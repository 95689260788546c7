package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultBlockSize          = 100
	defaultPollIntervalSecs   = 5
	defaultUploadIntervalSecs = 30
	defaultUploadChunkLimit   = 100
	defaultCheckpointKey      = "default"
	defaultSupabaseTable      = "readings"
	defaultPostgresTable      = "readings"
)

type DecoderConfig struct {
	// Timezone is an IANA name used for storage timestamps that carry no offset. Empty means the host's local zone.
	Timezone    string `json:"timezone" yaml:"timezone"`
	IsolateRows bool   `json:"isolateRows" yaml:"isolateRows"`
}

type StorageConfig struct {
	Url              string `json:"url" yaml:"url"`
	BlockSize        int    `json:"blockSize" yaml:"blockSize"`
	PollIntervalSecs int    `json:"pollIntervalSecs" yaml:"pollIntervalSecs"`
}

type NotificationsConfig struct {
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"clientId" yaml:"clientId"`
	Topic    string `json:"topic" yaml:"topic"`
}

type HTTPConfig struct {
	Port int `json:"port" yaml:"port"`
}

type CheckpointConfig struct {
	RedisAddr string `json:"redisAddr" yaml:"redisAddr"`
	Key       string `json:"key" yaml:"key"`
}

type BufferConfig struct {
	SqlitePath         string `json:"sqlitePath" yaml:"sqlitePath"`
	UploadIntervalSecs int    `json:"uploadIntervalSecs" yaml:"uploadIntervalSecs"`
	UploadChunkLimit   int    `json:"uploadChunkLimit" yaml:"uploadChunkLimit"`
}

type SupabaseConfig struct {
	Url    string `json:"url" yaml:"url"`
	Schema string `json:"schema" yaml:"schema"`
	Table  string `json:"table" yaml:"table"`
	// key is specified via env var
	Key string `json:"-" yaml:"-"`
}

type PostgresConfig struct {
	// url is specified via env var
	Url   string `json:"-" yaml:"-"`
	Table string `json:"table" yaml:"table"`
}

type Config struct {
	LogLevel      string              `json:"logLevel" yaml:"logLevel"`
	Decoder       DecoderConfig       `json:"decoder" yaml:"decoder"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
	HTTP          HTTPConfig          `json:"http" yaml:"http"`
	Checkpoint    CheckpointConfig    `json:"checkpoint" yaml:"checkpoint"`
	Buffer        BufferConfig        `json:"buffer" yaml:"buffer"`
	Supabase      SupabaseConfig      `json:"supabase" yaml:"supabase"`
	Postgres      PostgresConfig      `json:"postgres" yaml:"postgres"`
}

// Read loads the config file at `path`. Files ending in .yaml or .yml are decoded as YAML, anything else as JSON.
// Secrets are taken from the SUPABASE_KEY and POSTGRES_URL environment variables.
func Read(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &config)
	default:
		err = json.Unmarshal(content, &config)
	}
	if err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	config.Supabase.Key = os.Getenv("SUPABASE_KEY")
	config.Postgres.Url = os.Getenv("POSTGRES_URL")
	config.setDefaults()

	err = config.Validate()
	if err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

func (c *Config) setDefaults() {
	if c.Storage.BlockSize == 0 {
		c.Storage.BlockSize = defaultBlockSize
	}
	if c.Storage.PollIntervalSecs == 0 {
		c.Storage.PollIntervalSecs = defaultPollIntervalSecs
	}
	if c.Buffer.UploadIntervalSecs == 0 {
		c.Buffer.UploadIntervalSecs = defaultUploadIntervalSecs
	}
	if c.Buffer.UploadChunkLimit == 0 {
		c.Buffer.UploadChunkLimit = defaultUploadChunkLimit
	}
	if c.Checkpoint.Key == "" {
		c.Checkpoint.Key = defaultCheckpointKey
	}
	if c.Supabase.Table == "" {
		c.Supabase.Table = defaultSupabaseTable
	}
	if c.Postgres.Table == "" {
		c.Postgres.Table = defaultPostgresTable
	}
}

// Validate checks that the config describes a runnable pipeline: somewhere to read readings from, a local buffer
// and somewhere to upload them to.
func (c *Config) Validate() error {
	var errs []error

	if c.Storage.Url == "" && c.Notifications.Broker == "" && c.HTTP.Port == 0 {
		errs = append(errs, errors.New("no reading source: set storage.url, notifications.broker or http.port"))
	}
	if c.Notifications.Broker != "" && c.Notifications.Topic == "" {
		errs = append(errs, errors.New("notifications.topic is required with a broker"))
	}
	if c.Storage.Url != "" && c.Checkpoint.RedisAddr == "" {
		errs = append(errs, errors.New("checkpoint.redisAddr is required when polling storage"))
	}
	if c.Storage.BlockSize < 0 || c.Storage.PollIntervalSecs < 0 {
		errs = append(errs, errors.New("storage.blockSize and storage.pollIntervalSecs must be positive"))
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.Buffer.SqlitePath == "" {
		errs = append(errs, errors.New("buffer.sqlitePath is required"))
	}
	if c.Buffer.UploadIntervalSecs < 0 || c.Buffer.UploadChunkLimit < 0 {
		errs = append(errs, errors.New("buffer.uploadIntervalSecs and buffer.uploadChunkLimit must be positive"))
	}
	if c.Supabase.Url == "" && c.Postgres.Url == "" {
		errs = append(errs, errors.New("no upload sink: set supabase.url or the POSTGRES_URL env var"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Location resolves decoder.timezone, defaulting to the host's local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Decoder.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Decoder.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone '%s': %w", c.Decoder.Timezone, err)
	}
	return loc, nil
}

// SlogLevel parses logLevel ("debug", "info", "warn" or "error"), defaulting to debug.
func (c *Config) SlogLevel() (slog.Level, error) {
	if c.LogLevel == "" {
		return slog.LevelDebug, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Storage.PollIntervalSecs) * time.Second
}

func (c *Config) UploadInterval() time.Duration {
	return time.Duration(c.Buffer.UploadIntervalSecs) * time.Second
}
