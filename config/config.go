// Package config loads process configuration from environment variables,
// read once at startup per spec's "all are read once at process start".
package config

import "os"

// ProviderNames lists every vendor config.go knows how to source a
// default API key for.
var ProviderNames = []string{"openai", "groq", "openrouter", "anthropic", "gemini"}

// Config holds everything read from the environment at process start.
type Config struct {
	// DatabaseURL selects the execution store backend. Scheme determines
	// the driver: "sqlite://path", "mysql://...", "postgres://...".
	DatabaseURL string

	// BusURL selects the event bus backend. Empty means the in-process
	// LocalBus; "redis://host:port/db" selects RedisBus.
	BusURL string

	// Debug enables verbose logging.
	Debug bool

	// EncryptionKey is opaque to this engine — callers use it to decrypt
	// stored provider credentials before invoking the orchestrator; the
	// engine itself never encrypts or decrypts anything.
	EncryptionKey string

	// ProviderKeys holds one default API key per provider name, used to
	// fill in credentials a run request omits (see spec.md §6's merge
	// rule). Keyed by the names in ProviderNames.
	ProviderKeys map[string]string
}

// Load reads Config from the environment.
func Load() Config {
	cfg := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		BusURL:        os.Getenv("BUS_URL"),
		Debug:         os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1",
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		ProviderKeys:  make(map[string]string, len(ProviderNames)),
	}
	for _, name := range ProviderNames {
		if key := os.Getenv(providerEnvVar(name)); key != "" {
			cfg.ProviderKeys[name] = key
		}
	}
	return cfg
}

// providerEnvVar maps a provider name to its env var, e.g.
// "openrouter" -> "OPENROUTER_API_KEY".
func providerEnvVar(name string) string {
	upper := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper[i] = c
	}
	return string(upper) + "_API_KEY"
}

// MergeProviderKeys returns a copy of requested with any missing provider
// key filled in from cfg's env-sourced defaults, per the run-start merge
// rule: caller-supplied keys always win.
func (c Config) MergeProviderKeys(requested map[string]string) map[string]string {
	merged := make(map[string]string, len(c.ProviderKeys)+len(requested))
	for name, key := range c.ProviderKeys {
		merged[name] = key
	}
	for name, key := range requested {
		merged[name] = key
	}
	return merged
}
