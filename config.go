package canopy

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is canopy's on-disk configuration, persisted at .canopy/config.toml.
type Config struct {
	Core     CoreConfig     `toml:"core"`
	Indexing IndexingConfig `toml:"indexing"`
	FTS      FTSConfig      `toml:"fts"`
	Ignore   IgnoreConfig   `toml:"ignore"`
}

type CoreConfig struct {
	// DefaultResultLimit is the query result cap the canopy CLI applies when
	// no --limit is given; other callers that pass no limit get Compile's
	// builtin 16. spec §9's Open Question is resolved in favor of the lower
	// value here (16); a higher value is reachable only via this field or a
	// per-request limit, never a builtin default.
	DefaultResultLimit int    `toml:"default_result_limit"`
	TTL                string `toml:"ttl"`
}

type IndexingConfig struct {
	DefaultGlob  string `toml:"default_glob"`
	PreviewBytes int    `toml:"preview_bytes"`
	ChunkLines   int    `toml:"chunk_lines"`
	ChunkOverlap int    `toml:"chunk_overlap"`
}

type FTSConfig struct {
	// Tokenizer for the fts_content/fts_symbol virtual tables. unicode61
	// without stemming is the default: code identifiers should not be
	// stemmed the way prose is.
	Tokenizer string `toml:"tokenizer"`
}

type IgnoreConfig struct {
	Patterns []string `toml:"patterns"`
}

// DefaultConfig returns canopy's built-in configuration.
func DefaultConfig() Config {
	return Config{
		Core: CoreConfig{
			DefaultResultLimit: 16,
			TTL:                "24h",
		},
		Indexing: IndexingConfig{
			DefaultGlob:  "**/*.{go,py,js,jsx,ts,tsx,rs,md,txt,json,yaml,yml,toml}",
			PreviewBytes: 100,
			ChunkLines:   50,
			ChunkOverlap: 10,
		},
		FTS: FTSConfig{
			Tokenizer: "unicode61",
		},
		Ignore: IgnoreConfig{
			Patterns: []string{
				".git", ".canopy", "node_modules", "target", "dist", "build",
				"__pycache__", ".venv", "venv", "*.min.js", "*.min.css",
				".DS_Store", "*.lock", "package-lock.json", "Cargo.lock",
			},
		},
	}
}

// TTLDuration parses Core.TTL, falling back to 24h on a malformed value.
func (c Config) TTLDuration() time.Duration {
	d, err := time.ParseDuration(c.Core.TTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// LoadConfig reads config.toml at path, filling any absent field with the
// default. A missing file is not an error — DefaultConfig() is returned.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("canopy: read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("canopy: parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path, creating parent directories as needed.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("canopy: create config dir: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("canopy: marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("canopy: write config %s: %w", path, err)
	}
	return nil
}
