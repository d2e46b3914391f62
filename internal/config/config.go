package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// ProjectConfigName is the per-directory configuration file.
const ProjectConfigName = ".recall.yaml"

// Config represents the complete recall configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	DataDir    string           `yaml:"data_dir" json:"data_dir"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Extract    ExtractConfig    `yaml:"extract" json:"extract"`
	Lexical    LexicalConfig    `yaml:"lexical" json:"lexical"`
	Vector     VectorConfig     `yaml:"vector" json:"vector"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// RootConfig is a watched directory whose files become documents of Session.
// An empty Session uses the directory's base name.
type RootConfig struct {
	Path    string `yaml:"path" json:"path"`
	Session string `yaml:"session,omitempty" json:"session,omitempty"`
}

// WatchConfig configures the incremental update controller.
type WatchConfig struct {
	Roots        []RootConfig `yaml:"roots" json:"roots"`
	Exclude      []string     `yaml:"exclude" json:"exclude"`
	Debounce     string       `yaml:"debounce" json:"debounce"`
	PollInterval string       `yaml:"poll_interval" json:"poll_interval"`
}

// ExtractConfig configures content extraction.
type ExtractConfig struct {
	MaxFileSizeMB int    `yaml:"max_file_size_mb" json:"max_file_size_mb"`
	Timeout       string `yaml:"timeout" json:"timeout"`
	// OCRTimeout is the separate, larger budget for image OCR.
	OCRTimeout string `yaml:"ocr_timeout" json:"ocr_timeout"`
	Workers    int    `yaml:"workers" json:"workers"`
	PDFToText  string `yaml:"pdftotext" json:"pdftotext"`
	Tesseract  string `yaml:"tesseract" json:"tesseract"`
}

// LexicalConfig holds the BM25 parameters.
type LexicalConfig struct {
	K1 float64 `yaml:"k1" json:"k1"`
	B  float64 `yaml:"b" json:"b"`
}

// VectorConfig selects and tunes the vector store backend.
type VectorConfig struct {
	// Backend is "exact" (brute force, default) or "hnsw".
	Backend       string  `yaml:"backend" json:"backend"`
	MinSimilarity float64 `yaml:"min_similarity" json:"min_similarity"`
	HNSWM         int     `yaml:"hnsw_m" json:"hnsw_m"`
	HNSWEfSearch  int     `yaml:"hnsw_ef_search" json:"hnsw_ef_search"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama" or "static".
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	Timeout    string `yaml:"timeout" json:"timeout"`

	MaxConcurrent     int     `yaml:"max_concurrent" json:"max_concurrent"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	CacheSize         int     `yaml:"cache_size" json:"cache_size"`
	BreakerFailures   int     `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerReset      string  `yaml:"breaker_reset" json:"breaker_reset"`
}

// HybridConfig holds the named weights of the hybrid merge:
//
//	combined = max(lexical_weight*lex, semantic_weight*sem) + lexical_bonus
//
// where the bonus only applies to documents found by the lexical index.
type HybridConfig struct {
	LexicalWeight  float64 `yaml:"lexical_weight" json:"lexical_weight"`
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`
	LexicalBonus   float64 `yaml:"lexical_bonus" json:"lexical_bonus"`
}

// SearchConfig configures the query engine.
type SearchConfig struct {
	Hybrid              HybridConfig `yaml:"hybrid" json:"hybrid"`
	DefaultLimit        int          `yaml:"default_limit" json:"default_limit"`
	CandidateMultiplier int          `yaml:"candidate_multiplier" json:"candidate_multiplier"`
	EmbedTimeout        string       `yaml:"embed_timeout" json:"embed_timeout"`
}

// LoggingConfig configures log verbosity for --debug runs.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// defaultExcludePatterns are always excluded from watched roots.
var defaultExcludePatterns = []string{
	".git",
	".DS_Store",
	"node_modules",
	"*.swp",
	"*.tmp",
	"*~",
	".#*",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	return &Config{
		Version: 1,
		DataDir: DefaultDataDir(),
		Watch: WatchConfig{
			Roots:        []RootConfig{},
			Exclude:      append([]string(nil), defaultExcludePatterns...),
			Debounce:     "500ms",
			PollInterval: "5s",
		},
		Extract: ExtractConfig{
			MaxFileSizeMB: 50,
			Timeout:       "30s",
			OCRTimeout:    "2m",
			Workers:       workers,
			PDFToText:     "pdftotext",
			Tesseract:     "tesseract",
		},
		Lexical: LexicalConfig{
			K1: 1.2,
			B:  0.75,
		},
		Vector: VectorConfig{
			Backend:       "exact",
			MinSimilarity: 0.2,
			HNSWM:         16,
			HNSWEfSearch:  64,
		},
		Embeddings: EmbeddingsConfig{
			// Zero dimensions are read from the embedder; an empty host
			// uses http://localhost:11434.
			Provider:          "ollama",
			Model:             "nomic-embed-text",
			Dimensions:        0,
			OllamaHost:        "",
			Timeout:           "30s",
			MaxConcurrent:     4,
			RequestsPerSecond: 0,
			CacheSize:         1000,
			BreakerFailures:   5,
			BreakerReset:      "30s",
		},
		Search: SearchConfig{
			Hybrid: HybridConfig{
				LexicalWeight:  1.0,
				SemanticWeight: 1.0,
				LexicalBonus:   0.1,
			},
			DefaultLimit:        20,
			CandidateMultiplier: 5,
			EmbedTimeout:        "2s",
		},
		Logging: LoggingConfig{
			Level: "debug",
		},
	}
}

// DefaultHomeDir returns the recall home (~/.recall), honoring RECALL_HOME.
func DefaultHomeDir() string {
	if home := os.Getenv("RECALL_HOME"); home != "" {
		return home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".recall")
	}
	return filepath.Join(home, ".recall")
}

// DefaultDataDir returns the default index directory.
func DefaultDataDir() string {
	return filepath.Join(DefaultHomeDir(), "data")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/recall/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/recall/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "recall", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "recall", "config.yaml")
	}
	return filepath.Join(home, ".config", "recall", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var parsed Config
	if err := readYAML(configPath, &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// Load loads configuration for the given directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/recall/config.yaml)
//  3. Project config (.recall.yaml in dir)
//  4. Environment variables (RECALL_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if dir != "" {
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			return nil, rerrors.New(rerrors.ErrCodeConfigNotFound, "config directory not found", err).
				WithDetail("path", dir).
				WithSuggestion("Pass an existing directory to --config-dir")
		}
		if err := cfg.loadFromFile(dir); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, rerrors.ConfigError("invalid configuration", err).
			WithSuggestion("check " + GetUserConfigPath() + " and " + ProjectConfigName)
	}

	return cfg, nil
}

// loadFromFile merges .recall.yaml (or .recall.yml) from dir when present.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{ProjectConfigName, ".recall.yml"} {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		var parsed Config
		if err := readYAML(path, &parsed); err != nil {
			return err
		}
		c.mergeWith(&parsed)
		return nil
	}
	return nil
}

func readYAML(path string, into *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return rerrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	// Watch
	if len(other.Watch.Roots) > 0 {
		c.Watch.Roots = other.Watch.Roots
	}
	if len(other.Watch.Exclude) > 0 {
		// Merge with defaults rather than replace
		c.Watch.Exclude = appendUnique(c.Watch.Exclude, other.Watch.Exclude...)
	}
	if other.Watch.Debounce != "" {
		c.Watch.Debounce = other.Watch.Debounce
	}
	if other.Watch.PollInterval != "" {
		c.Watch.PollInterval = other.Watch.PollInterval
	}

	// Extract
	if other.Extract.MaxFileSizeMB != 0 {
		c.Extract.MaxFileSizeMB = other.Extract.MaxFileSizeMB
	}
	if other.Extract.Timeout != "" {
		c.Extract.Timeout = other.Extract.Timeout
	}
	if other.Extract.OCRTimeout != "" {
		c.Extract.OCRTimeout = other.Extract.OCRTimeout
	}
	if other.Extract.Workers != 0 {
		c.Extract.Workers = other.Extract.Workers
	}
	if other.Extract.PDFToText != "" {
		c.Extract.PDFToText = other.Extract.PDFToText
	}
	if other.Extract.Tesseract != "" {
		c.Extract.Tesseract = other.Extract.Tesseract
	}

	// Lexical
	if other.Lexical.K1 != 0 {
		c.Lexical.K1 = other.Lexical.K1
	}
	if other.Lexical.B != 0 {
		c.Lexical.B = other.Lexical.B
	}

	// Vector
	if other.Vector.Backend != "" {
		c.Vector.Backend = other.Vector.Backend
	}
	if other.Vector.MinSimilarity != 0 {
		c.Vector.MinSimilarity = other.Vector.MinSimilarity
	}
	if other.Vector.HNSWM != 0 {
		c.Vector.HNSWM = other.Vector.HNSWM
	}
	if other.Vector.HNSWEfSearch != 0 {
		c.Vector.HNSWEfSearch = other.Vector.HNSWEfSearch
	}

	// Embeddings
	e := other.Embeddings
	if e.Provider != "" {
		c.Embeddings.Provider = e.Provider
	}
	if e.Model != "" {
		c.Embeddings.Model = e.Model
	}
	if e.Dimensions != 0 {
		c.Embeddings.Dimensions = e.Dimensions
	}
	if e.OllamaHost != "" {
		c.Embeddings.OllamaHost = e.OllamaHost
	}
	if e.Timeout != "" {
		c.Embeddings.Timeout = e.Timeout
	}
	if e.MaxConcurrent != 0 {
		c.Embeddings.MaxConcurrent = e.MaxConcurrent
	}
	if e.RequestsPerSecond != 0 {
		c.Embeddings.RequestsPerSecond = e.RequestsPerSecond
	}
	if e.CacheSize != 0 {
		c.Embeddings.CacheSize = e.CacheSize
	}
	if e.BreakerFailures != 0 {
		c.Embeddings.BreakerFailures = e.BreakerFailures
	}
	if e.BreakerReset != "" {
		c.Embeddings.BreakerReset = e.BreakerReset
	}

	// Search
	// Note: a zero weight can only be set through env overrides
	if other.Search.Hybrid.LexicalWeight != 0 {
		c.Search.Hybrid.LexicalWeight = other.Search.Hybrid.LexicalWeight
	}
	if other.Search.Hybrid.SemanticWeight != 0 {
		c.Search.Hybrid.SemanticWeight = other.Search.Hybrid.SemanticWeight
	}
	if other.Search.Hybrid.LexicalBonus != 0 {
		c.Search.Hybrid.LexicalBonus = other.Search.Hybrid.LexicalBonus
	}
	if other.Search.DefaultLimit != 0 {
		c.Search.DefaultLimit = other.Search.DefaultLimit
	}
	if other.Search.CandidateMultiplier != 0 {
		c.Search.CandidateMultiplier = other.Search.CandidateMultiplier
	}
	if other.Search.EmbedTimeout != "" {
		c.Search.EmbedTimeout = other.Search.EmbedTimeout
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
}

// applyEnvOverrides applies RECALL_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RECALL_DATA_DIR"); v != "" {
		c.DataDir = v
	}

	// Hybrid weights (explicit zero values are allowed here)
	if v := os.Getenv("RECALL_LEXICAL_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.Hybrid.LexicalWeight = w
		}
	}
	if v := os.Getenv("RECALL_SEMANTIC_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.Hybrid.SemanticWeight = w
		}
	}
	if v := os.Getenv("RECALL_LEXICAL_BONUS"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Search.Hybrid.LexicalBonus = w
		}
	}
	if v := os.Getenv("RECALL_CANDIDATE_MULTIPLIER"); v != "" {
		if m, err := strconv.Atoi(v); err == nil && m > 0 {
			c.Search.CandidateMultiplier = m
		}
	}

	if v := os.Getenv("RECALL_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("RECALL_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("RECALL_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("RECALL_VECTOR_BACKEND"); v != "" {
		c.Vector.Backend = v
	}
	if v := os.Getenv("RECALL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	h := c.Search.Hybrid
	if h.LexicalWeight < 0 || h.LexicalWeight > 1 {
		return fmt.Errorf("search.hybrid.lexical_weight must be between 0 and 1, got %g", h.LexicalWeight)
	}
	if h.SemanticWeight < 0 || h.SemanticWeight > 1 {
		return fmt.Errorf("search.hybrid.semantic_weight must be between 0 and 1, got %g", h.SemanticWeight)
	}
	if h.LexicalWeight == 0 && h.SemanticWeight == 0 {
		return fmt.Errorf("search.hybrid weights cannot both be zero")
	}
	if h.LexicalBonus < 0 || h.LexicalBonus > 1 {
		return fmt.Errorf("search.hybrid.lexical_bonus must be between 0 and 1, got %g", h.LexicalBonus)
	}
	if c.Search.DefaultLimit <= 0 {
		return fmt.Errorf("search.default_limit must be positive, got %d", c.Search.DefaultLimit)
	}
	if c.Search.CandidateMultiplier < 1 {
		return fmt.Errorf("search.candidate_multiplier must be at least 1, got %d", c.Search.CandidateMultiplier)
	}

	if c.Lexical.K1 <= 0 {
		return fmt.Errorf("lexical.k1 must be positive, got %g", c.Lexical.K1)
	}
	if c.Lexical.B < 0 || c.Lexical.B > 1 {
		return fmt.Errorf("lexical.b must be between 0 and 1, got %g", c.Lexical.B)
	}

	switch strings.ToLower(c.Vector.Backend) {
	case "exact", "hnsw":
	default:
		return fmt.Errorf("vector.backend must be 'exact' or 'hnsw', got %s", c.Vector.Backend)
	}
	if c.Vector.MinSimilarity < -1 || c.Vector.MinSimilarity > 1 {
		return fmt.Errorf("vector.min_similarity must be between -1 and 1, got %g", c.Vector.MinSimilarity)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "ollama", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'ollama' or 'static', got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions < 0 {
		return fmt.Errorf("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.MaxConcurrent < 1 {
		return fmt.Errorf("embeddings.max_concurrent must be at least 1, got %d", c.Embeddings.MaxConcurrent)
	}
	if c.Embeddings.RequestsPerSecond < 0 {
		return fmt.Errorf("embeddings.requests_per_second must be non-negative, got %g", c.Embeddings.RequestsPerSecond)
	}

	if c.Extract.MaxFileSizeMB <= 0 {
		return fmt.Errorf("extract.max_file_size_mb must be positive, got %d", c.Extract.MaxFileSizeMB)
	}
	if c.Extract.Workers < 1 {
		return fmt.Errorf("extract.workers must be at least 1, got %d", c.Extract.Workers)
	}

	durations := map[string]string{
		"watch.debounce":           c.Watch.Debounce,
		"watch.poll_interval":      c.Watch.PollInterval,
		"extract.timeout":          c.Extract.Timeout,
		"extract.ocr_timeout":      c.Extract.OCRTimeout,
		"embeddings.timeout":       c.Embeddings.Timeout,
		"embeddings.breaker_reset": c.Embeddings.BreakerReset,
		"search.embed_timeout":     c.Search.EmbedTimeout,
	}
	for name, v := range durations {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s must be a duration like \"500ms\", got %q", name, v)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, v)
		}
	}

	for i, root := range c.Watch.Roots {
		if root.Path == "" {
			return fmt.Errorf("watch.roots[%d].path is required", i)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// Duration parses a validated duration field. It falls back to def on
// values Validate would have rejected.
func Duration(v string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// SessionFor returns the session id for files under root.
func (r RootConfig) SessionFor() string {
	if r.Session != "" {
		return r.Session
	}
	return filepath.Base(filepath.Clean(r.Path))
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

func appendUnique(base []string, extra ...string) []string {
	seen := make(map[string]bool, len(base))
	for _, s := range base {
		seen[s] = true
	}
	for _, s := range extra {
		if !seen[s] {
			seen[s] = true
			base = append(base, s)
		}
	}
	return base
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
