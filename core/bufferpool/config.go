package bufferpool

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gojodb/bufferpool/pkg/logger"
	"github.com/gojodb/bufferpool/pkg/telemetry"
)

// Config bootstraps a PoolManager (or a sharded ParallelPoolManager) plus
// its ambient logging and telemetry from a single YAML file: pool sizing
// lives alongside the `Logging`/`Telemetry` sub-configs instead of being
// compiled in as constants.
type Config struct {
	// PoolSize is the number of frames per pool instance.
	PoolSize int `yaml:"pool_size"`
	// PageSize is the fixed size, in bytes, of every page/frame.
	PageSize int `yaml:"page_size"`
	// NumInstances is the number of shards in a parallel pool front. 1
	// means "no sharding".
	NumInstances int `yaml:"num_instances"`
	// DBFile is the path to the backing file for FileDiskManager.
	DBFile string `yaml:"db_file"`

	Logging   logger.Config    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// DefaultConfig returns sane defaults for local/interactive use.
func DefaultConfig() Config {
	return Config{
		PoolSize:     64,
		PageSize:     4096,
		NumInstances: 1,
		DBFile:       "bufferpool.db",
		Logging: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
		},
		Telemetry: telemetry.Config{
			Enabled: false,
		},
	}
}

// LoadConfig reads and validates a YAML config file. Fields the file does
// not set keep DefaultConfig's values; a pool_size, page_size or
// num_instances that is zero or negative after loading is rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.PoolSize <= 0 {
		return Config{}, fmt.Errorf("bufferpool: pool_size must be positive, got %d", cfg.PoolSize)
	}
	if cfg.PageSize <= 0 {
		return Config{}, fmt.Errorf("bufferpool: page_size must be positive, got %d", cfg.PageSize)
	}
	if cfg.NumInstances <= 0 {
		return Config{}, fmt.Errorf("bufferpool: num_instances must be positive, got %d", cfg.NumInstances)
	}
	return cfg, nil
}
