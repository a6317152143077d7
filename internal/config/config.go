// Package config loads crstats settings from flags, environment, an
// optional .env file and an optional YAML file, in that precedence order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/raisserv2/clash-royale-battle-analysis/internal/parser"
	"github.com/raisserv2/clash-royale-battle-analysis/internal/segment"
)

// EnvPrefix prefixes every environment override, e.g. CRSTATS_LOG_LEVEL.
const EnvPrefix = "CRSTATS"

// Config is the full settings tree.
type Config struct {
	DB            string          `mapstructure:"db" validate:"required"`
	Log           LogConfig       `mapstructure:"log"`
	Workers       int             `mapstructure:"workers" validate:"gte=1,lte=256"`
	OutcomePolicy string          `mapstructure:"outcome_policy" validate:"oneof=skip fail"`
	Columns       ColumnsConfig   `mapstructure:"columns"`
	Segments      segment.Config  `mapstructure:"segments"`
	Analysis      AnalysisConfig  `mapstructure:"analysis"`
	Metrics       MetricsConfig   `mapstructure:"metrics"`
	Anthropic     AnthropicConfig `mapstructure:"anthropic"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// ColumnsConfig names the CSV columns of each side.
type ColumnsConfig struct {
	Participant0 string `mapstructure:"participant_0" validate:"required"`
	Participant1 string `mapstructure:"participant_1" validate:"required"`
	Winner0      string `mapstructure:"winner_0" validate:"required"`
	Winner1      string `mapstructure:"winner_1" validate:"required"`
	Deck0        string `mapstructure:"deck_0" validate:"required"`
	Deck1        string `mapstructure:"deck_1" validate:"required"`
	Tag          string `mapstructure:"tag"`
}

type AnalysisConfig struct {
	MinPlays int `mapstructure:"min_plays" validate:"gte=1"`
	Top      int `mapstructure:"top" validate:"gte=1"`
}

type MetricsConfig struct {
	// Textfile, when set, receives the ingest metrics in Prometheus text format.
	Textfile string `mapstructure:"textfile"`
}

type AnthropicConfig struct {
	Model  string `mapstructure:"model"`
	APIKey string `mapstructure:"api_key"`
}

// Parser returns the column layout for the record normalizer.
func (c ColumnsConfig) Parser() parser.Columns {
	return parser.Columns{
		Participant: [2]string{c.Participant0, c.Participant1},
		Winner:      [2]string{c.Winner0, c.Winner1},
		Deck:        [2]string{c.Deck0, c.Deck1},
		Tag:         c.Tag,
	}
}

// DefaultDBPath is ~/.crstats/crstats.db.
func DefaultDBPath() string {
	return filepath.Join(userHome(), ".crstats", "crstats.db")
}

func userHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// SetDefaults registers every key with its default so env overrides apply
// to keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	cols := parser.DefaultColumns()
	v.SetDefault("db", DefaultDBPath())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("workers", 1)
	v.SetDefault("outcome_policy", "skip")
	v.SetDefault("columns.participant_0", cols.Participant[0])
	v.SetDefault("columns.participant_1", cols.Participant[1])
	v.SetDefault("columns.winner_0", cols.Winner[0])
	v.SetDefault("columns.winner_1", cols.Winner[1])
	v.SetDefault("columns.deck_0", cols.Deck[0])
	v.SetDefault("columns.deck_1", cols.Deck[1])
	v.SetDefault("columns.tag", cols.Tag)
	v.SetDefault("segments.mode", "none")
	v.SetDefault("segments.field", 1)
	v.SetDefault("segments.truthy", "")
	v.SetDefault("segments.falsy", "")
	v.SetDefault("segments.default", "")
	v.SetDefault("analysis.min_plays", 100)
	v.SetDefault("analysis.top", 10)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.api_key", "")
}

// Load reads the configuration into v and returns the validated result.
// file may be empty, in which case crstats.yaml is looked up in the working
// directory and ~/.crstats; a missing file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("crstats")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(userHome(), ".crstats"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Anthropic.APIKey == "" {
		cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and that the segment router can be built.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := segment.FromConfig(c.Segments); err != nil {
		return fmt.Errorf("invalid config: segments: %w", err)
	}
	return nil
}

// NewLogger builds the process logger described by c.
func NewLogger(c LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if c.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.DisableStacktrace = true
	}
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
