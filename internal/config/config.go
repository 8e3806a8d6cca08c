package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
}

// GraphConfig selects the graph store. Backend "badger" is embedded;
// "bolt" talks to Neo4j or Memgraph (Dialect) over the Bolt protocol.
type GraphConfig struct {
	Backend  string `toml:"backend" yaml:"backend"`
	Dialect  string `toml:"dialect" yaml:"dialect"`
	URI      string `toml:"uri" yaml:"uri"`
	User     string `toml:"user" yaml:"user"`
	Password string `toml:"password" yaml:"password"`
	DataDir  string `toml:"data_dir" yaml:"data_dir"`
	InMemory bool   `toml:"in_memory" yaml:"in_memory"`
}

type EvidenceConfig struct {
	DBPath          string `toml:"db_path" yaml:"db_path"`
	MaxPayloadDepth int    `toml:"max_payload_depth" yaml:"max_payload_depth"`
}

type RedisConfig struct {
	Addr           string   `toml:"addr" yaml:"addr"`
	Password       string   `toml:"password" yaml:"password"`
	DB             int      `toml:"db" yaml:"db"`
	Group          string   `toml:"group" yaml:"group"`
	Consumer       string   `toml:"consumer" yaml:"consumer"`
	EvidenceStream string   `toml:"evidence_stream" yaml:"evidence_stream"`
	SignalStream   string   `toml:"signal_stream" yaml:"signal_stream"`
	RelationStream string   `toml:"relation_stream" yaml:"relation_stream"`
	Block          Duration `toml:"block" yaml:"block"`
	BatchSize      int64    `toml:"batch_size" yaml:"batch_size"`
}

type ResilienceConfig struct {
	MaxRetries       int      `toml:"max_retries" yaml:"max_retries"`
	ConflictRetries  int      `toml:"conflict_retries" yaml:"conflict_retries"`
	BaseDelay        Duration `toml:"base_delay" yaml:"base_delay"`
	MaxDelay         Duration `toml:"max_delay" yaml:"max_delay"`
	Jitter           float64  `toml:"jitter" yaml:"jitter"`
	BreakerThreshold int      `toml:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerCooldown  Duration `toml:"breaker_cooldown" yaml:"breaker_cooldown"`
}

type AggregationConfig struct {
	Threshold float64 `toml:"threshold" yaml:"threshold"`
}

type SourcesConfig struct {
	Community []string `toml:"community" yaml:"community"`
}

type ConcurrencyConfig struct {
	IngestWorkers int `toml:"ingest_workers" yaml:"ingest_workers"`
}

type ResolveConfig struct {
	Timeout         Duration `toml:"timeout" yaml:"timeout"`
	DefaultMaxDepth int      `toml:"default_max_depth" yaml:"default_max_depth"`
}

type LogConfig struct {
	Level       string `toml:"level" yaml:"level"`
	Development bool   `toml:"development" yaml:"development"`
}

type Config struct {
	Server      ServerConfig      `toml:"server" yaml:"server"`
	Graph       GraphConfig       `toml:"graph" yaml:"graph"`
	Evidence    EvidenceConfig    `toml:"evidence" yaml:"evidence"`
	Redis       RedisConfig       `toml:"redis" yaml:"redis"`
	Resilience  ResilienceConfig  `toml:"resilience" yaml:"resilience"`
	Aggregation AggregationConfig `toml:"aggregation" yaml:"aggregation"`
	Sources     SourcesConfig     `toml:"sources" yaml:"sources"`
	Concurrency ConcurrencyConfig `toml:"concurrency" yaml:"concurrency"`
	Resolve     ResolveConfig     `toml:"resolve" yaml:"resolve"`
	Log         LogConfig         `toml:"log" yaml:"log"`
}

// Default returns a configuration that runs fully embedded: Badger graph
// under ./data/graph and SQLite evidence under ./data/evidence.db.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Graph: GraphConfig{
			Backend: "badger",
			Dialect: "neo4j",
			URI:     "bolt://localhost:7687",
			DataDir: "data/graph",
		},
		Evidence: EvidenceConfig{
			DBPath:          "data/evidence.db",
			MaxPayloadDepth: 32,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			Group:          "partgraph",
			EvidenceStream: "partgraph:evidence",
			SignalStream:   "partgraph:signals",
			RelationStream: "partgraph:relations",
			Block:          Duration(5 * time.Second),
			BatchSize:      32,
		},
		Resilience: ResilienceConfig{
			MaxRetries:       3,
			ConflictRetries:  20,
			BaseDelay:        Duration(50 * time.Millisecond),
			MaxDelay:         Duration(2 * time.Second),
			Jitter:           0.2,
			BreakerThreshold: 5,
			BreakerCooldown:  Duration(30 * time.Second),
		},
		Aggregation: AggregationConfig{Threshold: 0.5},
		Concurrency: ConcurrencyConfig{IngestWorkers: 4},
		Resolve: ResolveConfig{
			Timeout:         Duration(10 * time.Second),
			DefaultMaxDepth: 5,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a TOML or YAML file (chosen by extension) over the defaults.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	}

	return cfg, nil
}

// ApplyEnv overrides settings from PARTGRAPH_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []string
	integer := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
				return
			}
			*dst = b
		}
	}

	str("PARTGRAPH_ADDR", &c.Server.Addr)
	if port := getenv("PORT"); port != "" && getenv("PARTGRAPH_ADDR") == "" {
		c.Server.Addr = ":" + port
	}
	str("PARTGRAPH_GRAPH_BACKEND", &c.Graph.Backend)
	str("PARTGRAPH_GRAPH_DIALECT", &c.Graph.Dialect)
	str("PARTGRAPH_GRAPH_URI", &c.Graph.URI)
	str("PARTGRAPH_GRAPH_USER", &c.Graph.User)
	str("PARTGRAPH_GRAPH_PASSWORD", &c.Graph.Password)
	str("PARTGRAPH_GRAPH_DATA_DIR", &c.Graph.DataDir)
	boolean("PARTGRAPH_GRAPH_IN_MEMORY", &c.Graph.InMemory)
	str("PARTGRAPH_EVIDENCE_DB", &c.Evidence.DBPath)
	str("PARTGRAPH_REDIS_ADDR", &c.Redis.Addr)
	str("PARTGRAPH_REDIS_PASSWORD", &c.Redis.Password)
	str("PARTGRAPH_REDIS_CONSUMER", &c.Redis.Consumer)
	integer("PARTGRAPH_MAX_RETRIES", &c.Resilience.MaxRetries)
	integer("PARTGRAPH_BREAKER_THRESHOLD", &c.Resilience.BreakerThreshold)
	float("PARTGRAPH_THRESHOLD", &c.Aggregation.Threshold)
	integer("PARTGRAPH_INGEST_WORKERS", &c.Concurrency.IngestWorkers)
	str("PARTGRAPH_LOG_LEVEL", &c.Log.Level)
	boolean("PARTGRAPH_LOG_DEVELOPMENT", &c.Log.Development)
	if v := getenv("PARTGRAPH_COMMUNITY_SOURCES"); v != "" {
		c.Sources.Community = splitList(v)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string
	switch c.Graph.Backend {
	case "badger":
		if !c.Graph.InMemory && c.Graph.DataDir == "" {
			problems = append(problems, "graph.data_dir is required for the badger backend")
		}
	case "bolt":
		if c.Graph.URI == "" {
			problems = append(problems, "graph.uri is required for the bolt backend")
		}
		if c.Graph.Dialect != "neo4j" && c.Graph.Dialect != "memgraph" {
			problems = append(problems, fmt.Sprintf("graph.dialect %q must be neo4j or memgraph", c.Graph.Dialect))
		}
	default:
		problems = append(problems, fmt.Sprintf("graph.backend %q must be badger or bolt", c.Graph.Backend))
	}
	if c.Aggregation.Threshold < 0 || c.Aggregation.Threshold > 1 {
		problems = append(problems, "aggregation.threshold must be within [0,1]")
	}
	if c.Resilience.MaxRetries < 0 {
		problems = append(problems, "resilience.max_retries must not be negative")
	}
	if c.Resilience.ConflictRetries < 0 {
		problems = append(problems, "resilience.conflict_retries must not be negative")
	}
	if c.Resolve.DefaultMaxDepth < 1 || c.Resolve.DefaultMaxDepth > 5 {
		problems = append(problems, "resolve.default_max_depth must be within [1,5]")
	}
	if c.Concurrency.IngestWorkers < 1 {
		problems = append(problems, "concurrency.ingest_workers must be at least 1")
	}
	if c.Evidence.MaxPayloadDepth < 1 {
		problems = append(problems, "evidence.max_payload_depth must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
