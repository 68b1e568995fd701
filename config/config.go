// Package config loads the bridge's YAML configuration and batch manifests.
package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/mdgx-bridge/errors"
)

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Config struct {
	Evaluator EvaluatorConfig `yaml:"evaluator"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type EvaluatorConfig struct {
	// Module is the path of the evaluator .wasm file.
	Module string `yaml:"module"`
	// MemoryLimitPages caps evaluator linear memory in 64 KiB pages. Zero
	// keeps the runtime default; 65536 is the wasm32 ceiling.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages" validate:"lte=65536"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

type MetricsConfig struct {
	// Listen is the address serving /metrics. Empty disables the endpoint.
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"`
}

func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Load reads a configuration file over the defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.InvalidConfig("read "+path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if cfg.Evaluator.Module != "" && !filepath.IsAbs(cfg.Evaluator.Module) {
		cfg.Evaluator.Module = filepath.Join(filepath.Dir(path), cfg.Evaluator.Module)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := decodeStrict(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	return check(c)
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.InvalidConfig("encode config", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func decodeStrict(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !stderrors.Is(err, io.EOF) {
		return errors.InvalidConfig("decode yaml", err)
	}
	return nil
}

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.InvalidConfig("validate", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s fails %q (%s)", fe.Namespace(), fe.Tag(), fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return errors.InvalidConfig(strings.Join(msgs, "; "), err)
}

// NewLogger builds a zap logger writing to stderr.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, errors.InvalidConfig("logging.level", err)
	}

	var zc zap.Config
	switch cfg.Format {
	case "json":
		zc = zap.NewProductionConfig()
	case "console", "":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, errors.InvalidConfig(fmt.Sprintf("logging.format %q", cfg.Format), nil)
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, errors.InvalidConfig("build logger", err)
	}
	return logger, nil
}
