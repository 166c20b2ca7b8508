package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	kiloByte = 1024
	megaByte = 1024 * kiloByte
)

// DefaultBatchSize is used when no positive batch size is configured.
const DefaultBatchSize = 1024 * 8

type Config struct {
	Batch   BatchConfig   `yaml:"batch"`
	Eval    EvalConfig    `yaml:"eval"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Source  SourceConfig  `yaml:"source"`
	// loaded from .env files, never from yaml
	Secrets Secrets `yaml:"-"`
}
type BatchConfig struct {
	Size int `yaml:"size"` // rows per chunk read from a source
}
type EvalConfig struct {
	Workers       int  `yaml:"workers"`
	ConstFastPath bool `yaml:"const_fast_path"`
	// thread_local or fragment_local: the scope the first context opens with
	StateScope string `yaml:"state_scope"`
}
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // logfmt or json
}
type MetricsConfig struct {
	EnableMetrics bool   `yaml:"enable_metrics"`
	MetricsPort   int    `yaml:"metrics_port"`
	MetricsHost   string `yaml:"metrics_host"`
}
type SourceConfig struct {
	Type              string `yaml:"type"`
	Path              string `yaml:"path"`
	S3Region          string `yaml:"s3_region"`
	S3Bucket          string `yaml:"s3_bucket"`
	MaxDownloadSizeMB int    `yaml:"max_download_size_mb"` // objects above this are rejected
}
type Secrets struct {
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string
	S3Bucket    string
}

func (s SourceConfig) MaxDownloadBytes() int64 {
	return int64(s.MaxDownloadSizeMB) * int64(megaByte)
}

func defaultConfig() *Config {
	return &Config{
		Batch: BatchConfig{
			Size: DefaultBatchSize,
		},
		Eval: EvalConfig{
			Workers:       4,
			ConstFastPath: true,
			StateScope:    "fragment_local",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "logfmt",
		},
		Metrics: MetricsConfig{
			EnableMetrics: false,
			MetricsPort:   9999,
			MetricsHost:   "localhost",
		},
		Source: SourceConfig{
			Type:              "csv",
			S3Region:          "us-east-1",
			MaxDownloadSizeMB: 64,
		},
	}
}

var configInstance = defaultConfig()

func GetConfig() *Config {
	return configInstance
}

// overwrite global instance with loaded config
func Decode(filePath string) error {
	ext := strings.TrimPrefix(filepath.Ext(filePath), ".")
	if ext != "yaml" && ext != "yml" {
		return errors.New("file must be a .yaml or .yml file")
	}
	r, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer r.Close()
	config := make(map[string]interface{})
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&config); err != nil {
		return errors.Wrap(err, "failed to decode config")
	}
	merged := *configInstance
	mergeConfig(&merged, config)
	if err := merged.validate(); err != nil {
		return errors.Wrapf(err, "invalid config %s", filePath)
	}
	*configInstance = merged
	return nil
}

func (c *Config) validate() error {
	if c.Batch.Size <= 0 {
		return errors.Newf("batch.size must be positive, got %d", c.Batch.Size)
	}
	if c.Source.MaxDownloadSizeMB < 0 {
		return errors.Newf("source.max_download_size_mb must not be negative, got %d", c.Source.MaxDownloadSizeMB)
	}
	return nil
}

// LoadSecrets reads S3 credentials from the given .env files (default
// ".env") into the global config. Variables already set in the process
// environment take precedence.
func LoadSecrets(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to load secrets")
	}
	configInstance.Secrets = Secrets{
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
	}
	if configInstance.Source.S3Bucket == "" {
		configInstance.Source.S3Bucket = configInstance.Secrets.S3Bucket
	}
	return nil
}

func mergeConfig(dst *Config, src map[string]interface{}) {
	// =============================
	// BATCH
	// =============================
	if batch, ok := src["batch"].(map[string]interface{}); ok {
		if v, ok := batch["size"].(int); ok {
			dst.Batch.Size = v
		}
	}

	// =============================
	// EVAL
	// =============================
	if eval, ok := src["eval"].(map[string]interface{}); ok {
		if v, ok := eval["workers"].(int); ok {
			dst.Eval.Workers = v
		}
		if v, ok := eval["const_fast_path"].(bool); ok {
			dst.Eval.ConstFastPath = v
		}
		if v, ok := eval["state_scope"].(string); ok {
			dst.Eval.StateScope = v
		}
	}

	// =============================
	// LOG
	// =============================
	if lg, ok := src["log"].(map[string]interface{}); ok {
		if v, ok := lg["level"].(string); ok {
			dst.Log.Level = v
		}
		if v, ok := lg["format"].(string); ok {
			dst.Log.Format = v
		}
	}

	// =============================
	// METRICS
	// =============================
	if metrics, ok := src["metrics"].(map[string]interface{}); ok {
		if v, ok := metrics["enable_metrics"].(bool); ok {
			dst.Metrics.EnableMetrics = v
		}
		if v, ok := metrics["metrics_port"].(int); ok {
			dst.Metrics.MetricsPort = v
		}
		if v, ok := metrics["metrics_host"].(string); ok {
			dst.Metrics.MetricsHost = v
		}
	}

	// =============================
	// SOURCE
	// =============================
	if source, ok := src["source"].(map[string]interface{}); ok {
		if v, ok := source["type"].(string); ok {
			dst.Source.Type = v
		}
		if v, ok := source["path"].(string); ok {
			dst.Source.Path = v
		}
		if v, ok := source["s3_region"].(string); ok {
			dst.Source.S3Region = v
		}
		if v, ok := source["s3_bucket"].(string); ok {
			dst.Source.S3Bucket = v
		}
		if v, ok := source["max_download_size_mb"].(int); ok {
			dst.Source.MaxDownloadSizeMB = v
		}
	}
}
