// Package config provides centralized configuration for depguard, loaded
// from an optional YAML file, a .env file, and environment overrides.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in spec.md §4 and §6. Unset values fall
// back to the defaults below.
type Config struct {
	// Logging
	LogLevel string `env:"DEPGUARD_LOG_LEVEL" yaml:"log_level"`

	// Cache
	CacheDir          string        `env:"DEPGUARD_CACHE_DIR" yaml:"cache_dir"`
	CacheBackend      string        `env:"DEPGUARD_CACHE_BACKEND" yaml:"cache_backend"` // "memory" | "file"
	CacheSizeCapBytes int64         `env:"DEPGUARD_CACHE_SIZE_CAP_BYTES" yaml:"cache_size_cap_bytes"`
	TTLRegistry       time.Duration `env:"DEPGUARD_TTL_REGISTRY" yaml:"ttl_registry"`
	TTLOSV            time.Duration `env:"DEPGUARD_TTL_OSV" yaml:"ttl_osv"`
	TTLReputation     time.Duration `env:"DEPGUARD_TTL_REPUTATION" yaml:"ttl_reputation"`
	TTLLLM            time.Duration `env:"DEPGUARD_TTL_LLM" yaml:"ttl_llm"`
	TTLMaliciousDB    time.Duration `env:"DEPGUARD_TTL_MALICIOUS_DB" yaml:"ttl_malicious_db"`
	TTLNotFound       time.Duration `env:"DEPGUARD_TTL_NOT_FOUND" yaml:"ttl_not_found"`

	// Output
	OutputDir string `env:"DEPGUARD_OUTPUT_DIR" yaml:"output_dir"`

	// Worker pools
	IOWorkerPoolSize int `env:"DEPGUARD_IO_POOL_SIZE" yaml:"io_pool_size"`

	// Resolver
	MaxDepth     int `env:"DEPGUARD_MAX_DEPTH" yaml:"max_depth"`
	MaxNodesCap  int `env:"DEPGUARD_MAX_NODES" yaml:"max_nodes"`

	// Registry / OSV network
	RegistryRequestTimeout time.Duration `env:"DEPGUARD_REGISTRY_TIMEOUT" yaml:"registry_timeout"`
	OSVMaxConcurrent       int           `env:"DEPGUARD_OSV_MAX_CONCURRENT" yaml:"osv_max_concurrent"`
	OSVRequestTimeout      time.Duration `env:"DEPGUARD_OSV_TIMEOUT" yaml:"osv_timeout"`
	OSVBaseURL             string        `env:"DEPGUARD_OSV_BASE_URL" yaml:"osv_base_url"`
	NPMRegistryBaseURL     string        `env:"DEPGUARD_NPM_REGISTRY_URL" yaml:"npm_registry_url"`
	PyPIBaseURL            string        `env:"DEPGUARD_PYPI_URL" yaml:"pypi_url"`

	// Stage deadlines
	VulnStageDeadline        time.Duration `env:"DEPGUARD_DEADLINE_VULN" yaml:"deadline_vuln"`
	ReputationStageDeadline  time.Duration `env:"DEPGUARD_DEADLINE_REPUTATION" yaml:"deadline_reputation"`
	CodeStageDeadline        time.Duration `env:"DEPGUARD_DEADLINE_CODE" yaml:"deadline_code"`
	SupplyChainStageDeadline time.Duration `env:"DEPGUARD_DEADLINE_SUPPLYCHAIN" yaml:"deadline_supplychain"`
	SynthesisStageDeadline   time.Duration `env:"DEPGUARD_DEADLINE_SYNTHESIS" yaml:"deadline_synthesis"`

	// LLM (optional external collaborator)
	LLMEnabled       bool   `env:"DEPGUARD_LLM_ENABLED" yaml:"llm_enabled"`
	LLMHostOverride  string `env:"DEPGUARD_LLM_HOST" yaml:"llm_host"`
	LLMAPIKey        string `env:"DEPGUARD_LLM_API_KEY" yaml:"-"`
	SynthesisLLMCap  int    `env:"DEPGUARD_SYNTHESIS_LLM_PACKAGE_CAP" yaml:"synthesis_llm_package_cap"`

	// Credentials
	NVDAPIKey string `env:"DEPGUARD_NVD_API_KEY" yaml:"-"`
}

// Default returns the configuration defaults stated throughout spec.md §4.
func Default() Config {
	return Config{
		LogLevel:                 "info",
		CacheDir:                 ".depguard-cache",
		CacheBackend:             "file",
		CacheSizeCapBytes:        256 * 1024 * 1024,
		TTLRegistry:              6 * time.Hour,
		TTLOSV:                   3 * time.Hour,
		TTLReputation:            12 * time.Hour,
		TTLLLM:                   7 * 24 * time.Hour,
		TTLMaliciousDB:           7 * 24 * time.Hour,
		TTLNotFound:              30 * time.Minute,
		OutputDir:                ".depguard-out",
		IOWorkerPoolSize:         10,
		MaxDepth:                 6,
		MaxNodesCap:              5000,
		RegistryRequestTimeout:   3 * time.Second,
		OSVMaxConcurrent:         10,
		OSVRequestTimeout:        3 * time.Second,
		OSVBaseURL:               "https://api.osv.dev/v1",
		NPMRegistryBaseURL:       "https://registry.npmjs.org",
		PyPIBaseURL:              "https://pypi.org/pypi",
		VulnStageDeadline:        30 * time.Second,
		ReputationStageDeadline:  20 * time.Second,
		CodeStageDeadline:        40 * time.Second,
		SupplyChainStageDeadline: 30 * time.Second,
		SynthesisStageDeadline:   20 * time.Second,
		LLMEnabled:               false,
		SynthesisLLMCap:          50,
	}
}

// Load builds a Config starting from Default(), optionally overlaying a YAML
// file at path (ignored if empty or missing), a .env file in the working
// directory (ignored if missing), and then environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		} else if !os.IsNotExist(err) {
			return cfg, err
		}
	}

	_ = godotenv.Load() // best-effort; absence of .env is not an error

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	int64v := func(key string, dst *int64) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}

	str("DEPGUARD_LOG_LEVEL", &cfg.LogLevel)
	str("DEPGUARD_CACHE_DIR", &cfg.CacheDir)
	str("DEPGUARD_CACHE_BACKEND", &cfg.CacheBackend)
	int64v("DEPGUARD_CACHE_SIZE_CAP_BYTES", &cfg.CacheSizeCapBytes)
	dur("DEPGUARD_TTL_REGISTRY", &cfg.TTLRegistry)
	dur("DEPGUARD_TTL_OSV", &cfg.TTLOSV)
	dur("DEPGUARD_TTL_REPUTATION", &cfg.TTLReputation)
	dur("DEPGUARD_TTL_LLM", &cfg.TTLLLM)
	dur("DEPGUARD_TTL_MALICIOUS_DB", &cfg.TTLMaliciousDB)
	dur("DEPGUARD_TTL_NOT_FOUND", &cfg.TTLNotFound)
	str("DEPGUARD_OUTPUT_DIR", &cfg.OutputDir)
	integer("DEPGUARD_IO_POOL_SIZE", &cfg.IOWorkerPoolSize)
	integer("DEPGUARD_MAX_DEPTH", &cfg.MaxDepth)
	integer("DEPGUARD_MAX_NODES", &cfg.MaxNodesCap)
	dur("DEPGUARD_REGISTRY_TIMEOUT", &cfg.RegistryRequestTimeout)
	integer("DEPGUARD_OSV_MAX_CONCURRENT", &cfg.OSVMaxConcurrent)
	dur("DEPGUARD_OSV_TIMEOUT", &cfg.OSVRequestTimeout)
	str("DEPGUARD_OSV_BASE_URL", &cfg.OSVBaseURL)
	str("DEPGUARD_NPM_REGISTRY_URL", &cfg.NPMRegistryBaseURL)
	str("DEPGUARD_PYPI_URL", &cfg.PyPIBaseURL)
	dur("DEPGUARD_DEADLINE_VULN", &cfg.VulnStageDeadline)
	dur("DEPGUARD_DEADLINE_REPUTATION", &cfg.ReputationStageDeadline)
	dur("DEPGUARD_DEADLINE_CODE", &cfg.CodeStageDeadline)
	dur("DEPGUARD_DEADLINE_SUPPLYCHAIN", &cfg.SupplyChainStageDeadline)
	dur("DEPGUARD_DEADLINE_SYNTHESIS", &cfg.SynthesisStageDeadline)
	boolean("DEPGUARD_LLM_ENABLED", &cfg.LLMEnabled)
	str("DEPGUARD_LLM_HOST", &cfg.LLMHostOverride)
	str("DEPGUARD_LLM_API_KEY", &cfg.LLMAPIKey)
	integer("DEPGUARD_SYNTHESIS_LLM_PACKAGE_CAP", &cfg.SynthesisLLMCap)
	str("DEPGUARD_NVD_API_KEY", &cfg.NVDAPIKey)
}
