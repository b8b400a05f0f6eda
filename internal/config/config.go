// Package config loads the engine's bring-up configuration. The index
// engine itself never touches viper; it takes a plain Config struct so
// that "no configuration variable handling" stays out of its public API
// while the surrounding cmd/ tooling still loads one from YAML.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config covers everything needed to bring up a btreeidx.Tree plus its
// storage and WAL backing: page size and buffer-pool capacity tune the
// in-memory footprint, the three path fields locate on-disk state, and
// PanicOnCorruption controls whether a failed validate_index aborts the
// process or just reports.
type Config struct {
	PageSize          int    `mapstructure:"page_size"`
	DataDir           string `mapstructure:"data_dir"`
	WALDir            string `mapstructure:"wal_dir"`
	BufferPoolFrames  int    `mapstructure:"buffer_pool_frames"`
	IndexSchemaFile   string `mapstructure:"index_schema_file"`
	PanicOnCorruption bool   `mapstructure:"panic_on_corruption"`
}

// Default returns the configuration used when no file is given, matching
// the page size and segment layout internal/storage already assumes.
func Default() Config {
	return Config{
		PageSize:          8 * 1024,
		DataDir:           "data/base",
		WALDir:            "data/wal",
		BufferPoolFrames:  1024,
		IndexSchemaFile:   "",
		PanicOnCorruption: true,
	}
}

// Load reads a YAML config file at path into Config, starting from
// Default() so a partial file only overrides the fields it sets.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return cfg, nil
}
