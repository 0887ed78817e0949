// Package config loads the JSON configuration spec.md §6 describes: a
// top-level document naming the LLC and DRAM configuration plus one
// entry per core, and a separate per-cache-level geometry file each
// `*.config` field points at.
//
// Grounded on timing/latency/config.go's LoadConfig/SaveConfig/Validate/
// Default...Config shape (JSON struct tags, os.ReadFile plus
// json.Unmarshal, fmt.Errorf("...: %w", err) wrapping).
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// CacheRef names the path to a separate cache geometry config file, per
// spec.md §6 "l1d.config", "l1i.config", etc.
type CacheRef struct {
	Config string `json:"config"`
}

// SDCConfig is the per-core SDC section: a cache geometry reference plus
// a toggle, since not every hierarchy configuration runs an SDC.
type SDCConfig struct {
	Config  string `json:"config"`
	Enabled bool   `json:"enabled"`
}

// IrregularPredictorConfig configures timing/irregular.Predictor.
type IrregularPredictorConfig struct {
	StrideThreshold uint64 `json:"stride_threshold"`
	Sets            int    `json:"sets"`
	Ways            int    `json:"ways"`
	StrideBits      uint8  `json:"stride_bits"`
	PSELBits        uint8  `json:"psel_bits"`
	Latency         uint8  `json:"latency"`
}

// PCPredictorConfig configures the metadata cache's PC-indexed predictor.
type PCPredictorConfig struct {
	CountersBits      uint8 `json:"counters_bits"`
	Size              int   `json:"size"`
	Threshold         int   `json:"threshold"`
	HighConfThreshold int   `json:"high_conf_threshold"`
}

// MetadataCacheConfig holds the per-core metadata cache block spec.md §6
// names alongside the irregular-access predictor. It is parsed only; no
// component reads it.
type MetadataCacheConfig struct {
	Sets              int               `json:"sets"`
	Ways              int               `json:"ways"`
	PCPredictor       PCPredictorConfig `json:"pc_predictor"`
	MissRateThreshold float64           `json:"miss_rate_threshold"`
}

// PopularLevelDetectorConfig holds the dual-threshold popular-level
// detector block. It is parsed only; no component reads it.
type PopularLevelDetectorConfig struct {
	Threshold1 float64 `json:"threshold_1"`
	Threshold2 float64 `json:"threshold_2"`
}

// PerceptronConfig configures one of the offchip predictor's two
// perceptrons: its threshold and, optionally, a feature list. Both are
// parsed; neither timing/offchip nor the CLI reads them.
type PerceptronConfig struct {
	Threshold float64  `json:"threshold"`
	Features  []string `json:"features,omitempty"`
}

// DemandPerceptronConfig is the demand side's two-threshold variant
// (τ1 gates core consumption, τ2 gates L1D consumption).
type DemandPerceptronConfig struct {
	Tau1     float64  `json:"tau_1"`
	Tau2     float64  `json:"tau_2"`
	Features []string `json:"features,omitempty"`
}

// OffchipPredConfig configures timing/offchip.Predictor.
type OffchipPredConfig struct {
	Prefetch PerceptronConfig       `json:"prefetch"`
	Demand   DemandPerceptronConfig `json:"demand"`
}

// L1DConfig is the per-core L1D-specific tuning spec.md §6 lists
// alongside the cache geometry reference: PSEL bits/threshold. Only
// Config is read; the irregular-access predictor takes its PSEL width
// from IrregularPredictorConfig.PSELBits.
type L1DConfig struct {
	Config       string `json:"config"`
	PSELBits     uint8  `json:"psel_bits"`
	PSELThreshold int   `json:"psel_threshold"`
}

// CoreConfig is one `cores[]` entry.
type CoreConfig struct {
	L1D                  L1DConfig                  `json:"l1d"`
	L1I                  CacheRef                    `json:"l1i"`
	L2C                  CacheRef                    `json:"l2c"`
	SDC                  SDCConfig                   `json:"sdc"`
	IrregularPredictor   IrregularPredictorConfig    `json:"irregular_predictor"`
	MetadataCache        MetadataCacheConfig         `json:"metadata_cache"`
	PopularLevelDetector PopularLevelDetectorConfig  `json:"popular_level_detector"`
	OffchipPred          OffchipPredConfig           `json:"offchip_pred"`
}

// DRAMConfig is the top-level `dram` section.
type DRAMConfig struct {
	MemoryTraceDirectory string `json:"memory_trace_directory"`
}

// Config is the full top-level simulator configuration document.
type Config struct {
	LLC   CacheRef     `json:"llc"`
	DRAM  DRAMConfig   `json:"dram"`
	Cores []CoreConfig `json:"cores"`
}

// CacheGeometryConfig is the content of one `*.config` file a CacheRef
// names: plugin selection plus geometry, per spec.md §6 "Each cache
// config file names a prefetcher-plugin path, a replacement-plugin
// path, geometry {...}".
type CacheGeometryConfig struct {
	Prefetcher  string `json:"prefetcher"`
	Replacement string `json:"replacement"`

	Sets      int `json:"sets"`
	Ways      int `json:"ways"`
	BlockSize int `json:"block_size"`

	MSHRSize          int `json:"mshr_size"`
	ReadQueueSize     int `json:"read_queue_size"`
	WriteQueueSize    int `json:"write_queue_size"`
	PrefetchQueueSize int `json:"prefetch_queue_size"`

	HitLatency  uint64 `json:"hit_latency"`
	FillLatency uint64 `json:"fill_latency"`
}

// DefaultCacheGeometryConfig returns reasonable L1D-class defaults, used
// to fill in fields a cache config file omits; a referenced file that is
// missing is an error.
func DefaultCacheGeometryConfig() *CacheGeometryConfig {
	return &CacheGeometryConfig{
		Prefetcher: "no-op", Replacement: "lru",
		Sets: 64, Ways: 8, BlockSize: 64,
		MSHRSize: 16, ReadQueueSize: 16, WriteQueueSize: 16, PrefetchQueueSize: 16,
		HitLatency: 4, FillLatency: 1,
	}
}

// Load reads and parses the top-level simulator configuration document.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadCacheGeometry reads and parses one `*.config` cache geometry file.
func LoadCacheGeometry(path string) (*CacheGeometryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache config file %q: %w", path, err)
	}

	cfg := DefaultCacheGeometryConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse cache config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the geometry fields a cache cannot be constructed
// without, per spec.md §7's ConfigMissing/ConfigTypeMismatch error kinds.
func (c *CacheGeometryConfig) Validate() error {
	if c.Sets <= 0 {
		return fmt.Errorf("sets must be > 0")
	}
	if c.Ways <= 0 {
		return fmt.Errorf("ways must be > 0")
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("block_size must be > 0")
	}
	if c.MSHRSize <= 0 {
		return fmt.Errorf("mshr_size must be > 0")
	}
	return nil
}

// Validate checks that every core names at least an L1D/L1I/L2C
// reference, and that the top-level LLC reference is present.
func (c *Config) Validate() error {
	if c.LLC.Config == "" {
		return fmt.Errorf("llc.config is required")
	}
	if len(c.Cores) == 0 {
		return fmt.Errorf("at least one core is required")
	}
	for i, core := range c.Cores {
		if core.L1D.Config == "" {
			return fmt.Errorf("cores[%d].l1d.config is required", i)
		}
		if core.L1I.Config == "" {
			return fmt.Errorf("cores[%d].l1i.config is required", i)
		}
		if core.L2C.Config == "" {
			return fmt.Errorf("cores[%d].l2c.config is required", i)
		}
	}
	return nil
}
