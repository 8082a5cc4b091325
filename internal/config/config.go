package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

const uploadsDirName = "share-relay-uploads"

// restrictedEnvVars mark platforms where only the temp directory is writable.
var restrictedEnvVars = []string{"VERCEL", "AWS_LAMBDA_FUNCTION_NAME", "K_SERVICE"}

// ByteSize is a size in bytes that parses human units such as "10MiB".
type ByteSize int64

func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(string(text))
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", text, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

type Config struct {
	Port          string        `env:"PORT" envDefault:"3000"`
	DataDir       string        `env:"SHARE_RELAY_DATA_DIR"`
	TTL           time.Duration `env:"SHARE_RELAY_TTL" envDefault:"30m"`
	SweepInterval time.Duration `env:"SHARE_RELAY_SWEEP_INTERVAL" envDefault:"1m"`
	MaxFileSize   ByteSize      `env:"SHARE_RELAY_MAX_FILE_SIZE" envDefault:"10MiB"`
	MaxTextSize   ByteSize      `env:"SHARE_RELAY_MAX_TEXT_SIZE" envDefault:"100KiB"`
	CodeLength    int           `env:"SHARE_RELAY_CODE_LENGTH" envDefault:"6"`
	LogLevel      slog.Level    `env:"SHARE_RELAY_LOG_LEVEL" envDefault:"info"`
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return ":" + c.Port
}

// Load loads .env (if present) and parses environment variables into Config.
func Load() (Config, error) {
	// Load .env if available; ignore error if file does not exist
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.DataDir == "" {
		cfg.DataDir = ResolveDataDir()
	}
	return cfg, nil
}

// Validate checks that the settings are usable together
func (c *Config) Validate() error {
	switch {
	case c.TTL <= 0:
		return errors.New("ttl must be positive")
	case c.SweepInterval <= 0:
		return errors.New("sweep interval must be positive")
	case c.SweepInterval >= c.TTL:
		return fmt.Errorf("sweep interval %s must be shorter than ttl %s", c.SweepInterval, c.TTL)
	case c.MaxFileSize <= 0:
		return errors.New("max file size must be positive")
	case c.MaxTextSize <= 0:
		return errors.New("max text size must be positive")
	case c.CodeLength < 4:
		return fmt.Errorf("code length %d is too short", c.CodeLength)
	}
	return nil
}

// ResolveDataDir picks a writable upload directory. Restricted platforms only
// allow writes under the temp directory, and so does any host where ./uploads
// cannot be created.
func ResolveDataDir() string {
	scratch := filepath.Join(os.TempDir(), uploadsDirName)
	for _, key := range restrictedEnvVars {
		if _, ok := os.LookupEnv(key); ok {
			return scratch
		}
	}

	local, err := filepath.Abs("uploads")
	if err != nil || !writable(local) {
		return scratch
	}
	return local
}

func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	probe.Close()
	os.Remove(probe.Name())
	return true
}
