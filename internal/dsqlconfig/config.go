// Package dsqlconfig implements the YAML-tunable configuration surface of
// SPEC_FULL.md §2.3: page size, cache size, the B+Tree merge threshold (or
// "auto" for the adaptive strategy of spec §4.7.4), the WAL checkpoint
// frame threshold, and a lock-file path override.
//
// Grounded on the teacher's own direct dependency on gopkg.in/yaml.v3,
// repurposed here for storage tunables instead of the teacher's
// application config.
package dsqlconfig

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/dsqlcore/dsqlite/internal/dsqlerr"
	"github.com/dsqlcore/dsqlite/internal/pager"
)

// AutoMergeThreshold is the sentinel MergeThreshold value that leaves the
// B+Tree's adaptive strategy (spec §4.7.4) in control.
const AutoMergeThreshold = "auto"

// Config holds the tunables engine.Open accepts (spec §6.1, §4.7.4, §4.8,
// §6.3). Zero values for CheckpointThresholdFrames and LockPath mean
// "use the compiled-in default"; MergeThreshold of "" behaves like
// AutoMergeThreshold.
type Config struct {
	PageSize                  int    `yaml:"page_size"`
	CacheSize                 int    `yaml:"cache_size"`
	MergeThreshold            string `yaml:"merge_threshold"`
	CheckpointThresholdFrames int    `yaml:"checkpoint_threshold_frames"`
	LockPath                  string `yaml:"lock_path"`
}

// Default returns the compiled-in defaults from spec §6.1.
func Default() *Config {
	return &Config{
		PageSize:       pager.DefaultPageSize,
		CacheSize:      pager.DefaultCacheSize,
		MergeThreshold: AutoMergeThreshold,
	}
}

// Load reads a YAML file at path and overlays it on top of Default, so an
// incomplete file still yields a fully-populated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dsqlerr.E(dsqlerr.KindIO, "read config file", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, dsqlerr.E(dsqlerr.KindInvalidArgument, "parse config file", err)
	}
	if cfg.MergeThreshold == "" {
		cfg.MergeThreshold = AutoMergeThreshold
	}
	return cfg, nil
}

// FixedMergeThreshold parses MergeThreshold as a ratio, reporting ok=false
// when it is left at "auto".
func (c *Config) FixedMergeThreshold() (ratio float64, ok bool, err error) {
	if c.MergeThreshold == "" || c.MergeThreshold == AutoMergeThreshold {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(c.MergeThreshold, 64)
	if err != nil {
		return 0, false, dsqlerr.E(dsqlerr.KindInvalidArgument, "merge_threshold must be \"auto\" or a number", err)
	}
	return v, true, nil
}
