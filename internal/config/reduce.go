package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/htpc-reduce/internal/cluster"
	"github.com/banshee-data/htpc-reduce/internal/event"
)

// DefaultConfigPath is the path to the canonical reduction defaults file.
const DefaultConfigPath = "config/reduce.defaults.json"

// ReduceConfig holds the parameters of a reduction run. Every field is
// optional; the Get* methods supply defaults for fields left unset, and
// command-line flags override whatever the file sets.
type ReduceConfig struct {
	// Chunking
	ChunkSize *int     `json:"chunk_size,omitempty"`
	Fulfill   *float64 `json:"fulfill,omitempty"` // fraction of records to process, (0, 1]
	Stop      *int     `json:"stop,omitempty"`    // hard record limit, 0 = none
	Workers   *int     `json:"workers,omitempty"`

	// Clustering
	Scale        *float64 `json:"scale,omitempty"`
	Metric       *string  `json:"metric,omitempty"` // "axis" or "euclidean"
	Axis         *string  `json:"axis,omitempty"`   // "x", "y" or "z"
	RequireGamma *bool    `json:"require_gamma,omitempty"`

	// Background scatter
	MultiSiteThreshold *float64 `json:"multisite_threshold,omitempty"`

	ProgressInterval *string `json:"progress_interval,omitempty"` // duration string like "2s"
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// LoadReduceConfig loads a ReduceConfig from a JSON file. Fields omitted
// from the file stay nil and fall back to their defaults.
func LoadReduceConfig(path string) (*ReduceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ReduceConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. Panics if the file cannot be loaded; intended for
// test setup.
func MustLoadDefaultConfig() *ReduceConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadReduceConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath)
}

// Validate checks the fields that are set.
func (c *ReduceConfig) Validate() error {
	if c.ChunkSize != nil && *c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", *c.ChunkSize)
	}
	if c.Fulfill != nil && (!(*c.Fulfill > 0) || *c.Fulfill > 1) {
		return fmt.Errorf("fulfill must be in (0, 1], got %f", *c.Fulfill)
	}
	if c.Stop != nil && *c.Stop < 0 {
		return fmt.Errorf("stop must be non-negative, got %d", *c.Stop)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.Scale != nil && !(*c.Scale > 0) {
		return fmt.Errorf("scale must be positive, got %f", *c.Scale)
	}
	if c.Axis != nil {
		if _, err := event.ParseAxis(*c.Axis); err != nil {
			return err
		}
	}
	if c.Metric != nil {
		if _, err := cluster.ParseMetric(*c.Metric, "z"); err != nil {
			return err
		}
	}
	if c.MultiSiteThreshold != nil && *c.MultiSiteThreshold < 0 {
		return fmt.Errorf("multisite_threshold must be non-negative, got %f", *c.MultiSiteThreshold)
	}
	if c.ProgressInterval != nil && *c.ProgressInterval != "" {
		if _, err := time.ParseDuration(*c.ProgressInterval); err != nil {
			return fmt.Errorf("invalid progress_interval '%s': %w", *c.ProgressInterval, err)
		}
	}
	return nil
}

// GetChunkSize returns the chunk_size value or the default.
func (c *ReduceConfig) GetChunkSize() int {
	if c.ChunkSize == nil {
		return 1000
	}
	return *c.ChunkSize
}

// GetFulfill returns the fulfill value or the default.
func (c *ReduceConfig) GetFulfill() float64 {
	if c.Fulfill == nil {
		return 1.0
	}
	return *c.Fulfill
}

// GetStop returns the stop value or the default (no limit).
func (c *ReduceConfig) GetStop() int {
	if c.Stop == nil {
		return 0
	}
	return *c.Stop
}

// GetWorkers returns the workers value or the default.
func (c *ReduceConfig) GetWorkers() int {
	if c.Workers == nil {
		return 1
	}
	return *c.Workers
}

// GetScale returns the scale value or the default.
func (c *ReduceConfig) GetScale() float64 {
	if c.Scale == nil {
		return cluster.DefaultScale
	}
	return *c.Scale
}

// GetAxis returns the configured axis, defaulting to z.
func (c *ReduceConfig) GetAxis() event.Axis {
	if c.Axis == nil {
		return event.AxisZ
	}
	a, err := event.ParseAxis(*c.Axis)
	if err != nil {
		return event.AxisZ
	}
	return a
}

// GetMetricName returns the metric value or the default.
func (c *ReduceConfig) GetMetricName() string {
	if c.Metric == nil || *c.Metric == "" {
		return cluster.MetricAxis
	}
	return *c.Metric
}

// BuildMetric returns the configured distance metric.
func (c *ReduceConfig) BuildMetric() (cluster.Metric, error) {
	return cluster.ParseMetric(c.GetMetricName(), c.GetAxis().String())
}

// GetRequireGamma returns the require_gamma value or the default.
func (c *ReduceConfig) GetRequireGamma() bool {
	if c.RequireGamma == nil {
		return false
	}
	return *c.RequireGamma
}

// GetMultiSiteThreshold returns the multisite_threshold value or the default.
func (c *ReduceConfig) GetMultiSiteThreshold() float64 {
	if c.MultiSiteThreshold == nil {
		return 10.0
	}
	return *c.MultiSiteThreshold
}

// GetProgressInterval parses and returns the ProgressInterval as a time.Duration.
func (c *ReduceConfig) GetProgressInterval() time.Duration {
	if c.ProgressInterval == nil || *c.ProgressInterval == "" {
		return 2 * time.Second
	}
	d, err := time.ParseDuration(*c.ProgressInterval)
	if err != nil {
		return 2 * time.Second
	}
	return d
}
