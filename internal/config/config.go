// Package config loads the mdprep configuration: a YAML pipeline file,
// an optional .env file and MDPREP_* environment overrides, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/example/mdprep/internal/artifacts"
	"github.com/example/mdprep/pipeline/domain"
)

// DefaultFile is the pipeline file looked up in the working directory.
const DefaultFile = "mdprep.yaml"

// DefaultLedgerFile is the run ledger created inside the work directory.
const DefaultLedgerFile = ".mdprep.db"

// Config is the complete mdprep configuration.
type Config struct {
	domain.PipelineConfig `yaml:",inline"`

	Engine  EngineConfig       `yaml:"engine"`
	Ledger  LedgerConfig       `yaml:"ledger"`
	Publish artifacts.S3Config `yaml:"publish"`
	Log     LogConfig          `yaml:"log"`
}

// EngineConfig selects the engine binary.
type EngineConfig struct {
	// Binary is gmx, gmx_mpi or a full path. Default: gmx
	Binary string `yaml:"binary"`
}

// LedgerConfig configures the sqlite run ledger.
type LedgerConfig struct {
	// Path defaults to <work_dir>/.mdprep.db.
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		PipelineConfig: domain.DefaultConfig(),
		Engine:         EngineConfig{Binary: "gmx"},
		Log:            LogConfig{Level: "info", Format: "text"},
	}
}

// LedgerPath returns the ledger file, or "" when the ledger is disabled.
func (c *Config) LedgerPath() string {
	if c.Ledger.Disabled {
		return ""
	}
	if c.Ledger.Path != "" {
		return c.Ledger.Path
	}
	return filepath.Join(c.WorkDir, DefaultLedgerFile)
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads path (when non-empty), then applies environment overrides.
// A missing path is an error only when required is set.
// Relative paths inside the file are resolved against the file's directory.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.decode(data); err != nil {
				return nil, &domain.ConfigurationError{Field: "config", Reason: fmt.Sprintf("%s: %v", path, err)}
			}
			cfg.resolveRelative(filepath.Dir(path))
		case errors.Is(err, fs.ErrNotExist) && !required:
		default:
			return nil, &domain.ConfigurationError{Field: "config", Reason: err.Error(), Missing: []string{path}}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, &domain.ConfigurationError{Field: "env", Reason: err.Error()}
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	// An explicit zero step count must survive defaulting.
	var probe struct {
		Steps *int `yaml:"equilibration_steps"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Steps != nil {
		c.SetEquilibrationSteps(*probe.Steps)
	}
	return nil
}

func (c *Config) resolveRelative(base string) {
	for _, p := range []*string{
		&c.Inputs.Structure, &c.Inputs.Reference, &c.Inputs.Descriptor,
		&c.Inputs.Topology, &c.Inputs.Index,
		&c.TemplatesDir, &c.WorkDir, &c.Ledger.Path,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

func (c *Config) applyEnv() error {
	if n, ok, err := envInt("EQUILIBRATION_STEPS", c.EquilibrationSteps); err != nil {
		return err
	} else if ok {
		c.SetEquilibrationSteps(n)
	}
	if n, ok, err := envInt("MAX_WARNINGS", c.MaxWarnings); err != nil {
		return err
	} else if ok {
		c.MaxWarnings = n
	}

	c.WorkDir = envString("WORK_DIR", c.WorkDir)
	c.TemplatesDir = envString("TEMPLATES_DIR", c.TemplatesDir)
	c.Engine.Binary = envString("GMX", c.Engine.Binary)
	c.Ledger.Path = envString("LEDGER", c.Ledger.Path)
	c.Log.Level = envString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("LOG_FORMAT", c.Log.Format)

	c.Publish.Endpoint = envString("S3_ENDPOINT", c.Publish.Endpoint)
	c.Publish.Region = envString("S3_REGION", c.Publish.Region)
	c.Publish.AccessKey = envString("S3_ACCESS_KEY", c.Publish.AccessKey)
	c.Publish.SecretKey = envString("S3_SECRET_KEY", c.Publish.SecretKey)
	c.Publish.Bucket = envString("S3_BUCKET", c.Publish.Bucket)

	var err error
	if c.Publish.UseSSL, err = envBool("S3_USE_SSL", c.Publish.UseSSL); err != nil {
		return err
	}
	if c.Ledger.Disabled, err = envBool("LEDGER_DISABLED", c.Ledger.Disabled); err != nil {
		return err
	}
	if c.SkipTrajectory, err = envBool("SKIP_TRAJECTORY", c.SkipTrajectory); err != nil {
		return err
	}
	return nil
}

// Marshal renders the effective configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	redacted := *c
	if redacted.Publish.SecretKey != "" {
		redacted.Publish.SecretKey = "***"
	}
	return yaml.Marshal(&redacted)
}
