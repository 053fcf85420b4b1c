package symbolication

import (
	"flag"
	"fmt"
)

type Config struct {
	MaxConcurrency int  `yaml:"max_concurrency"`
	IgnoreCache    bool `yaml:"ignore_cache"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.IntVar(&cfg.MaxConcurrency, "symbolication.max-concurrency", 8, "Maximum number of libraries looked up concurrently.")
	f.BoolVar(&cfg.IgnoreCache, "symbolication.ignore-cache", false, "Ask symbol providers to bypass cached symbols.")
}

func (cfg *Config) Validate() error {
	if cfg.MaxConcurrency < 1 {
		return fmt.Errorf("invalid max-concurrency value %d, must be positive", cfg.MaxConcurrency)
	}
	return nil
}
