// Package conf loads and validates the batch configuration file.
package conf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for one invocation.
type Config struct {
	Data    DataConfig
	Batch   BatchConfig
	Scorer  ScorerConfig
	Sampler SamplerConfig
	Docker  DockerConfig
	Kafka   KafkaConfig
}

// DataConfig locates the synthetic input datasets.
type DataConfig struct {
	Root       string
	Pattern    string
	StatusFile string
}

// BatchConfig controls chunking and failure semantics.
type BatchConfig struct {
	TotalRuns            int
	Parallelism          int
	SplitByRuns          bool
	SplitByFiles         bool
	OutputRoot           string
	PropagateRunFailures bool
}

// ScorerConfig describes how to invoke the scoring program.
type ScorerConfig struct {
	Python    string
	Main      string
	ExtraArgs []string
}

// SamplerConfig controls the memory sampler attached to scorer processes.
type SamplerConfig struct {
	Enabled  bool
	Interval time.Duration
}

// DockerConfig selects containerized scorer execution.
type DockerConfig struct {
	Enabled bool
	Image   string
}

// KafkaConfig wires queue mode and run-report publishing.
type KafkaConfig struct {
	Brokers        []string
	RequestsTopic  string
	ReportsTopic   string
	GroupID        string
	ReportsEnabled bool
}

// Load reads the configuration file at confPath, applies defaults, and
// returns the resolved configuration.
func Load(confPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(confPath)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %q: %w", confPath, err)
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data.root", "synthetic_data")
	v.SetDefault("data.pattern", "*/*-notes-00000.tsv")
	v.SetDefault("data.status_file", "noteStatusHistory-00000.tsv")

	v.SetDefault("batch.total_runs", 50)
	v.SetDefault("batch.parallelism", 8)
	v.SetDefault("batch.split_by_runs", true)
	v.SetDefault("batch.split_by_files", false)
	v.SetDefault("batch.output_root", "raw_output")
	v.SetDefault("batch.propagate_run_failures", true)

	v.SetDefault("scorer.python", "python")
	v.SetDefault("scorer.main", "sourcecode/main.py")
	v.SetDefault("scorer.extra_args", []string{})

	v.SetDefault("sampler.enabled", false)
	v.SetDefault("sampler.interval", "300s")

	v.SetDefault("docker.enabled", false)
	v.SetDefault("docker.image", "")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.requests_topic", "scoring-runs")
	v.SetDefault("kafka.reports_topic", "scoring-reports")
	v.SetDefault("kafka.group_id", "notebatch-worker")
	v.SetDefault("kafka.reports_enabled", false)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Data: DataConfig{
			Root:       v.GetString("data.root"),
			Pattern:    v.GetString("data.pattern"),
			StatusFile: v.GetString("data.status_file"),
		},
		Batch: BatchConfig{
			TotalRuns:            v.GetInt("batch.total_runs"),
			Parallelism:          v.GetInt("batch.parallelism"),
			SplitByRuns:          v.GetBool("batch.split_by_runs"),
			SplitByFiles:         v.GetBool("batch.split_by_files"),
			OutputRoot:           v.GetString("batch.output_root"),
			PropagateRunFailures: v.GetBool("batch.propagate_run_failures"),
		},
		Scorer: ScorerConfig{
			Python:    v.GetString("scorer.python"),
			Main:      v.GetString("scorer.main"),
			ExtraArgs: v.GetStringSlice("scorer.extra_args"),
		},
		Sampler: SamplerConfig{
			Enabled:  v.GetBool("sampler.enabled"),
			Interval: v.GetDuration("sampler.interval"),
		},
		Docker: DockerConfig{
			Enabled: v.GetBool("docker.enabled"),
			Image:   v.GetString("docker.image"),
		},
		Kafka: KafkaConfig{
			Brokers:        v.GetStringSlice("kafka.brokers"),
			RequestsTopic:  v.GetString("kafka.requests_topic"),
			ReportsTopic:   v.GetString("kafka.reports_topic"),
			GroupID:        v.GetString("kafka.group_id"),
			ReportsEnabled: v.GetBool("kafka.reports_enabled"),
		},
	}
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Batch.TotalRuns <= 0 {
		return fmt.Errorf("batch.total_runs must be positive, got %d", c.Batch.TotalRuns)
	}
	if c.Batch.Parallelism <= 0 {
		return fmt.Errorf("batch.parallelism must be positive, got %d", c.Batch.Parallelism)
	}
	if c.Batch.SplitByRuns == c.Batch.SplitByFiles {
		return fmt.Errorf("exactly one of batch.split_by_runs and batch.split_by_files must be set")
	}
	if c.Scorer.Python == "" {
		return fmt.Errorf("scorer.python must be provided")
	}
	if c.Scorer.Main == "" {
		return fmt.Errorf("scorer.main must be provided")
	}
	if c.Sampler.Enabled && c.Sampler.Interval <= 0 {
		return fmt.Errorf("sampler.interval must be positive, got %v", c.Sampler.Interval)
	}
	if c.Docker.Enabled && c.Docker.Image == "" {
		return fmt.Errorf("docker.image must be provided when docker.enabled is set")
	}
	if c.Kafka.ReportsEnabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must be provided when kafka.reports_enabled is set")
	}
	return nil
}
