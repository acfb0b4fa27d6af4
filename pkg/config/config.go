package config

// EngineConfig represents the configuration for a Session & Call Engine
// instance.
type EngineConfig struct {
	HomeDir   string `mapstructure:"home_dir"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Store StoreConfig `mapstructure:"store"`
	Gas   GasConfig   `mapstructure:"gas"`
}

// StoreConfig configures the on-disk Commit Store (§6).
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// GasConfig is the policy input §9's Open Questions leaves unfixed: the
// per-instruction and per-page-grow cost table, plus the structural limits
// the engine enforces regardless of cost (max call depth, argument buffer
// size).
type GasConfig struct {
	CostPerInstruction uint64 `mapstructure:"cost_per_instruction"`
	CostPerPageGrow    uint64 `mapstructure:"cost_per_page_grow"`
	MaxCallDepth       int    `mapstructure:"max_call_depth"`
	ArgBufferBytes     uint32 `mapstructure:"arg_buffer_bytes"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		HomeDir:   "$HOME/.contractvm",
		LogLevel:  "info",
		LogFormat: "json",

		Store: StoreConfig{
			Path: "store",
		},

		Gas: GasConfig{
			CostPerInstruction: 1,
			CostPerPageGrow:    1000,
			MaxCallDepth:       32,
			ArgBufferBytes:     64 * 1024,
		},
	}
}
