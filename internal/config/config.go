// Package config loads amanrank configuration from YAML files and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanrank/internal/cache"
	"github.com/Aman-CERP/amanrank/internal/embed"
	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
	"github.com/Aman-CERP/amanrank/internal/logging"
	"github.com/Aman-CERP/amanrank/internal/search"
	"github.com/Aman-CERP/amanrank/internal/store"
)

// ProjectConfigName is the per-directory configuration file.
const ProjectConfigName = ".amanrank.yaml"

// Reranker providers
const (
	RerankerOverlap = "overlap"
	RerankerHTTP    = "http"
	RerankerNone    = "none"
)

// Config represents the complete amanrank configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Pipeline   PipelineConfig   `yaml:"pipeline" json:"pipeline"`
	BM25       store.BM25Config `yaml:"bm25" json:"bm25"`
	Fusion     FusionConfig     `yaml:"fusion" json:"fusion"`
	Vector     VectorConfig     `yaml:"vector" json:"vector"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Reranker   RerankerConfig   `yaml:"reranker" json:"reranker"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Logging    logging.Config   `yaml:"logging" json:"logging"`
}

// StoreConfig locates the persisted corpus.
type StoreConfig struct {
	// Path is the SQLite document store file (default: .amanrank/corpus.db).
	Path string `yaml:"path" json:"path"`
}

// PipelineConfig selects retrieval stages and their parameters.
type PipelineConfig struct {
	UseBM25      bool          `yaml:"use_bm25" json:"use_bm25"`
	UseVector    bool          `yaml:"use_vector" json:"use_vector"`
	UseFusion    bool          `yaml:"use_fusion" json:"use_fusion"`
	UseReranking bool          `yaml:"use_reranking" json:"use_reranking"`
	BM25Weight   float64       `yaml:"bm25_weight" json:"bm25_weight"`
	VectorWeight float64       `yaml:"vector_weight" json:"vector_weight"`
	TopK         int           `yaml:"top_k" json:"top_k"`
	RerankFetchK int           `yaml:"rerank_fetch_k" json:"rerank_fetch_k"`
	StageTimeout time.Duration `yaml:"stage_timeout" json:"stage_timeout"`
}

// FusionConfig configures how retriever rankings are combined.
type FusionConfig struct {
	// Method is "weighted" (default) or "rrf".
	Method string `yaml:"method" json:"method"`

	// Normalization is "none" (default) or "minmax". Only affects weighted fusion.
	Normalization string `yaml:"normalization" json:"normalization"`

	// RRFConstant is the RRF smoothing parameter k (default: 60).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
}

// VectorConfig configures the nearest-neighbour index.
type VectorConfig struct {
	// Index is "hnsw" (default) or "flat".
	Index    string       `yaml:"index" json:"index"`
	Metric   store.Metric `yaml:"metric" json:"metric"`
	M        int          `yaml:"m" json:"m"`
	EfSearch int          `yaml:"ef_search" json:"ef_search"`

	// IndexConcurrency bounds parallel embedding batches at load time.
	IndexConcurrency int `yaml:"index_concurrency" json:"index_concurrency"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "static" (default) or "ollama".
	Provider          string        `yaml:"provider" json:"provider"`
	Model             string        `yaml:"model" json:"model"`
	Host              string        `yaml:"host" json:"host"`
	Dimensions        int           `yaml:"dimensions" json:"dimensions"` // 0 = detect
	BatchSize         int           `yaml:"batch_size" json:"batch_size"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"` // 0 = unlimited
	CacheSize         int           `yaml:"cache_size" json:"cache_size"`
	FallbackToStatic  bool          `yaml:"fallback_to_static" json:"fallback_to_static"`
}

// RerankerConfig configures the cross-encoder.
type RerankerConfig struct {
	// Provider is "overlap" (default), "http" or "none".
	Provider    string        `yaml:"provider" json:"provider"`
	Endpoint    string        `yaml:"endpoint" json:"endpoint"`
	Model       string        `yaml:"model" json:"model"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	Instruction string        `yaml:"instruction" json:"instruction"`
}

// CacheConfig configures the result cache and its optional Redis tier.
type CacheConfig struct {
	Capacity int `yaml:"capacity" json:"capacity"`

	// RedisAddr enables the remote tier when set (host:port).
	RedisAddr     string        `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" json:"-"`
	RedisDB       int           `yaml:"redis_db" json:"redis_db"`
	RedisPrefix   string        `yaml:"redis_prefix" json:"redis_prefix"`
	RedisTTL      time.Duration `yaml:"redis_ttl" json:"redis_ttl"`
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	p := search.DefaultPipelineConfig()
	return &Config{
		Version: 1,
		Store: StoreConfig{
			Path: filepath.Join(".amanrank", "corpus.db"),
		},
		Pipeline: PipelineConfig{
			UseBM25:      p.UseBM25,
			UseVector:    p.UseVector,
			UseFusion:    p.UseFusion,
			UseReranking: p.UseReranking,
			BM25Weight:   p.BM25Weight,
			VectorWeight: p.VectorWeight,
			TopK:         p.TopK,
			RerankFetchK: p.RerankFetchK,
			StageTimeout: p.StageTimeout,
		},
		BM25: store.DefaultBM25Config(),
		Fusion: FusionConfig{
			Method:        search.FusionWeighted,
			Normalization: string(search.NormalizeNone),
			RRFConstant:   search.DefaultRRFConstant,
		},
		Vector: VectorConfig{
			Index:            "hnsw",
			Metric:           store.MetricCosine,
			M:                16,
			EfSearch:         64,
			IndexConcurrency: search.DefaultIndexConcurrency,
		},
		Embeddings: EmbeddingsConfig{
			Provider:         string(embed.ProviderStatic),
			Model:            embed.DefaultOllamaModel,
			BatchSize:        embed.DefaultBatchSize,
			Timeout:          60 * time.Second,
			CacheSize:        1000,
			FallbackToStatic: true,
		},
		Reranker: RerankerConfig{
			Provider: RerankerOverlap,
			Endpoint: search.DefaultRerankerEndpoint,
			Model:    search.DefaultRerankerModel,
			Timeout:  search.DefaultRerankerTimeout,
		},
		Cache: CacheConfig{
			Capacity:    cache.DefaultCapacity,
			RedisPrefix: cache.DefaultRedisPrefix,
			RedisTTL:    cache.DefaultRemoteTTL,
		},
		Logging: logging.DefaultConfig(),
	}
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/amanrank/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/amanrank/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanrank", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanrank", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanrank", "config.yaml")
}

// Load loads configuration for dir, in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/amanrank/config.yaml)
//  3. Project config (<dir>/.amanrank.yaml)
//  4. Environment variables (AMANRANK_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadYAML(GetUserConfigPath()); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	if err := cfg.loadYAML(filepath.Join(dir, ProjectConfigName)); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML decodes path over the current values. Keys absent from the file
// keep their prior value, so explicit false and zero are honoured. A
// missing file is not an error.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return amerrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err).
			WithDetail("path", path)
	}
	return nil
}

// envOverride maps one AMANRANK_* variable onto a field.
type envOverride struct {
	name  string
	apply func(c *Config, v string) error
}

var envOverrides = []envOverride{
	{"AMANRANK_TOP_K", func(c *Config, v string) error { return setInt(&c.Pipeline.TopK, v) }},
	{"AMANRANK_RERANK_FETCH_K", func(c *Config, v string) error { return setInt(&c.Pipeline.RerankFetchK, v) }},
	{"AMANRANK_BM25_WEIGHT", func(c *Config, v string) error { return setFloat(&c.Pipeline.BM25Weight, v) }},
	{"AMANRANK_VECTOR_WEIGHT", func(c *Config, v string) error { return setFloat(&c.Pipeline.VectorWeight, v) }},
	{"AMANRANK_USE_RERANKING", func(c *Config, v string) error { return setBool(&c.Pipeline.UseReranking, v) }},
	{"AMANRANK_FUSION_METHOD", func(c *Config, v string) error { c.Fusion.Method = v; return nil }},
	{"AMANRANK_RRF_CONSTANT", func(c *Config, v string) error { return setInt(&c.Fusion.RRFConstant, v) }},
	{"AMANRANK_EMBEDDINGS_PROVIDER", func(c *Config, v string) error { c.Embeddings.Provider = v; return nil }},
	{"AMANRANK_EMBEDDINGS_MODEL", func(c *Config, v string) error { c.Embeddings.Model = v; return nil }},
	{"AMANRANK_OLLAMA_HOST", func(c *Config, v string) error { c.Embeddings.Host = v; return nil }},
	{"AMANRANK_RERANKER_PROVIDER", func(c *Config, v string) error { c.Reranker.Provider = v; return nil }},
	{"AMANRANK_RERANKER_ENDPOINT", func(c *Config, v string) error { c.Reranker.Endpoint = v; return nil }},
	{"AMANRANK_CACHE_CAPACITY", func(c *Config, v string) error { return setInt(&c.Cache.Capacity, v) }},
	{"AMANRANK_REDIS_ADDR", func(c *Config, v string) error { c.Cache.RedisAddr = v; return nil }},
	{"AMANRANK_REDIS_PASSWORD", func(c *Config, v string) error { c.Cache.RedisPassword = v; return nil }},
	{"AMANRANK_STORE_PATH", func(c *Config, v string) error { c.Store.Path = v; return nil }},
	{"AMANRANK_LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
}

// applyEnvOverrides applies AMANRANK_* environment variables.
// A value that does not parse is a configuration error.
func (c *Config) applyEnvOverrides() error {
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := o.apply(c, strings.TrimSpace(v)); err != nil {
			return amerrors.ConfigError(fmt.Sprintf("invalid %s=%q", o.name, v), err)
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if err := c.PipelineConfig().Validate(); err != nil {
		return err
	}
	if c.Pipeline.BM25Weight < 0 || c.Pipeline.VectorWeight < 0 {
		return amerrors.ConfigError(fmt.Sprintf("pipeline weights must not be negative, got bm25=%g vector=%g",
			c.Pipeline.BM25Weight, c.Pipeline.VectorWeight), nil)
	}

	if c.BM25.K1 < 0 || c.BM25.B < 0 || c.BM25.B > 1 {
		return amerrors.ConfigError(fmt.Sprintf("bm25 requires k1 >= 0 and 0 <= b <= 1, got k1=%g b=%g", c.BM25.K1, c.BM25.B), nil)
	}

	if _, err := c.Fuser(); err != nil {
		return err
	}
	if c.Fusion.RRFConstant <= 0 {
		return amerrors.ConfigError(fmt.Sprintf("fusion.rrf_constant must be positive, got %d", c.Fusion.RRFConstant), nil)
	}

	switch c.Vector.Index {
	case "hnsw", "flat":
	default:
		return amerrors.ConfigError(fmt.Sprintf("vector.index must be 'hnsw' or 'flat', got %q", c.Vector.Index), nil)
	}
	if c.Vector.Metric != store.MetricCosine && c.Vector.Metric != store.MetricL2 {
		return amerrors.ConfigError(fmt.Sprintf("vector.metric must be 'cos' or 'l2', got %q", c.Vector.Metric), nil)
	}

	if !embed.IsValidProvider(c.Embeddings.Provider) {
		return amerrors.ConfigError(fmt.Sprintf("embeddings.provider must be one of %v, got %q",
			embed.ValidProviders(), c.Embeddings.Provider), nil)
	}
	if c.Embeddings.Dimensions < 0 || c.Embeddings.BatchSize < 0 || c.Embeddings.CacheSize < 0 {
		return amerrors.ConfigError("embeddings dimensions, batch_size and cache_size must not be negative", nil)
	}

	switch strings.ToLower(c.Reranker.Provider) {
	case RerankerOverlap, RerankerHTTP, RerankerNone:
	default:
		return amerrors.ConfigError(fmt.Sprintf("reranker.provider must be 'overlap', 'http' or 'none', got %q", c.Reranker.Provider), nil)
	}

	if c.Cache.Capacity < 0 {
		return amerrors.ConfigError(fmt.Sprintf("cache.capacity must not be negative, got %d", c.Cache.Capacity), nil)
	}

	if !logging.IsValidLevel(c.Logging.Level) {
		return amerrors.ConfigError(fmt.Sprintf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level), nil)
	}
	return nil
}

// PipelineConfig converts the pipeline section for search.Pipeline.Retrieve.
func (c *Config) PipelineConfig() search.PipelineConfig {
	p := c.Pipeline
	return search.PipelineConfig{
		UseBM25:      p.UseBM25,
		UseVector:    p.UseVector,
		UseFusion:    p.UseFusion,
		UseReranking: p.UseReranking,
		BM25Weight:   p.BM25Weight,
		VectorWeight: p.VectorWeight,
		TopK:         p.TopK,
		RerankFetchK: p.RerankFetchK,
		StageTimeout: p.StageTimeout,
	}
}

// Fuser builds the configured fusion strategy.
func (c *Config) Fuser() (search.Fuser, error) {
	norm, err := search.ParseNormalizer(c.Fusion.Normalization)
	if err != nil {
		return nil, amerrors.ConfigError(err.Error(), err)
	}
	f, err := search.NewFuser(c.Fusion.Method, norm, c.Fusion.RRFConstant)
	if err != nil {
		return nil, amerrors.ConfigError(err.Error(), err)
	}
	return f, nil
}

// VectorIndexConfig returns the index configuration for dims dimensions.
func (c *Config) VectorIndexConfig(dims int) store.VectorIndexConfig {
	return store.VectorIndexConfig{
		Dimensions: dims,
		Metric:     c.Vector.Metric,
		M:          c.Vector.M,
		EfSearch:   c.Vector.EfSearch,
	}
}

// EmbedderConfig converts the embeddings section for embed.NewEmbedder.
func (c *Config) EmbedderConfig() embed.Config {
	e := c.Embeddings
	return embed.Config{
		Provider:          embed.ParseProvider(e.Provider),
		Model:             e.Model,
		Host:              e.Host,
		Dimensions:        e.Dimensions,
		BatchSize:         e.BatchSize,
		Timeout:           e.Timeout,
		RequestsPerSecond: e.RequestsPerSecond,
		CacheSize:         e.CacheSize,
		FallbackToStatic:  e.FallbackToStatic,
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
