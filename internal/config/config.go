// Package config loads the imagingqc YAML configuration and applies
// IMAGINGQC_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"imagingqc/internal/blob"
	"imagingqc/internal/infra/persistence"
	"imagingqc/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "IMAGINGQC_"

// Config is the root of the YAML document.
type Config struct {
	Log     logging.Config `yaml:"log"`
	Imports ImportsConfig  `yaml:"imports"`
	Blob    BlobConfig     `yaml:"blob"`
	Ledger  LedgerConfig   `yaml:"ledger"`
	Metrics MetricsConfig  `yaml:"metrics"`
}

// ImportsConfig holds defaults for import-file locations.
type ImportsConfig struct {
	Directory string `yaml:"directory"`
	FileName  string `yaml:"file_name"`
}

// BlobConfig selects where import files live.
type BlobConfig struct {
	Driver string   `yaml:"driver"` // fs | s3 | memory
	FSRoot string   `yaml:"fs_root"`
	S3     S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// LedgerConfig selects the QC ledger backend.
type LedgerConfig struct {
	Driver string `yaml:"driver"` // memory | sqlite | postgres
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log:     logging.Config{Format: "console", Level: "info"},
		Imports: ImportsConfig{Directory: ".", FileName: "import.json"},
		Blob:    BlobConfig{Driver: "fs"},
		Ledger:  LedgerConfig{Driver: "sqlite"},
	}
}

// Options control where Load looks.
type Options struct {
	// Path to the YAML file; empty skips the file.
	Path string
	// DotEnv is loaded into the process environment when it exists; empty
	// means ".env".
	DotEnv string
	// Lookup reads environment variables; nil means os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Load reads defaults, then the YAML file, then environment overrides.
func Load(opts Options) (Config, error) {
	cfg := Default()
	dotenv := opts.DotEnv
	if dotenv == "" {
		dotenv = ".env"
	}
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", dotenv, err)
	}
	if opts.Path != "" {
		b, err := os.ReadFile(opts.Path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(bytes.NewReader(b), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", opts.Path, err)
		}
	}
	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LOG_FORMAT":           &cfg.Log.Format,
		"LOG_LEVEL":            &cfg.Log.Level,
		"IMPORT_DIR":           &cfg.Imports.Directory,
		"IMPORT_FILE":          &cfg.Imports.FileName,
		"BLOB_DRIVER":          &cfg.Blob.Driver,
		"BLOB_FS_ROOT":         &cfg.Blob.FSRoot,
		"S3_BUCKET":            &cfg.Blob.S3.Bucket,
		"S3_REGION":            &cfg.Blob.S3.Region,
		"S3_PREFIX":            &cfg.Blob.S3.Prefix,
		"S3_ENDPOINT":          &cfg.Blob.S3.Endpoint,
		"S3_ACCESS_KEY_ID":     &cfg.Blob.S3.AccessKeyID,
		"S3_SECRET_ACCESS_KEY": &cfg.Blob.S3.SecretAccessKey,
		"S3_SESSION_TOKEN":     &cfg.Blob.S3.SessionToken,
		"LEDGER_DRIVER":        &cfg.Ledger.Driver,
		"LEDGER_PATH":          &cfg.Ledger.Path,
		"LEDGER_DSN":           &cfg.Ledger.DSN,
		"METRICS_ADDR":         &cfg.Metrics.Addr,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	if v, ok := lookup(EnvPrefix + "S3_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sS3_PATH_STYLE: %w", EnvPrefix, err)
		}
		cfg.Blob.S3.PathStyle = b
	}
	return nil
}

// BlobStoreConfig maps the blob section onto the store factory's configuration.
func (c Config) BlobStoreConfig() blob.Config {
	s := c.Blob.S3
	return blob.Config{
		Driver: blob.Driver(c.Blob.Driver),
		FSRoot: c.Blob.FSRoot,
		S3: blob.S3Config{
			Region:          s.Region,
			Bucket:          s.Bucket,
			Prefix:          s.Prefix,
			Endpoint:        s.Endpoint,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
			SessionToken:    s.SessionToken,
			PathStyle:       s.PathStyle,
		},
	}
}

// LedgerStoreConfig maps the ledger section onto persistence.Config.
func (c Config) LedgerStoreConfig() persistence.Config {
	return persistence.Config{
		Driver: persistence.Driver(c.Ledger.Driver),
		Path:   c.Ledger.Path,
		DSN:    c.Ledger.DSN,
	}
}

// SharedBlobStore reports whether import files live in a configured store
// rather than in plain directories.
func (c Config) SharedBlobStore() bool {
	d := strings.ToLower(strings.TrimSpace(c.Blob.Driver))
	return d == "s3" || d == "memory" || (d == "fs" && c.Blob.FSRoot != "")
}
