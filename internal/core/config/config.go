package config

import (
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gobwas/glob"
)

const (
	DefaultPath            = "./scribe.toml"
	DefaultHeuristicTarget = "src/organism.rs"
	DefaultAssetsDir       = "assets/micro_saas"
	DefaultHeaderTag       = "PURIFIED_BY_SCRIBE"
)

type Config struct {
	Version       int           `toml:"version"`
	Scan          Scan          `toml:"scan"`
	Rules         []Rule        `toml:"rules"`
	Scribe        Scribe        `toml:"scribe"`
	DB            Database      `toml:"db"`
	Server        Server        `toml:"server"`
	Observability Observability `toml:"observability"`
	Watch         Watch         `toml:"watch"`
}

type Scan struct {
	Roots            []string `toml:"roots"`
	Extensions       []string `toml:"extensions"`
	ExcludeDirs      []string `toml:"exclude_dirs"`
	ExcludeFiles     []string `toml:"exclude_files"`
	RespectGitignore *bool    `toml:"respect_gitignore"`
	Workers          int      `toml:"workers"`
}

// Rule is a user-supplied pattern-scan rule appended after the built-in table.
type Rule struct {
	Name       string `toml:"name"`
	Pattern    string `toml:"pattern"`
	Kind       string `toml:"kind"`
	Title      string `toml:"title"`
	Suggestion string `toml:"suggestion"`
}

type Scribe struct {
	AssetsDir       string  `toml:"assets_dir"`
	HeuristicTarget string  `toml:"heuristic_target"`
	WritesPerSecond float64 `toml:"writes_per_second"`
	HeaderTag       string  `toml:"header_tag"`
}

type Database struct {
	Enabled     bool          `toml:"enabled"`
	Path        string        `toml:"path"`
	BusyTimeout time.Duration `toml:"busy_timeout"`
}

type Server struct {
	Address           string  `toml:"address"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

type Observability struct {
	MetricsEnabled *bool  `toml:"metrics_enabled"`
	OTLPEndpoint   string `toml:"otlp_endpoint"`
	ServiceName    string `toml:"service_name"`
}

type Watch struct {
	Debounce time.Duration `toml:"debounce"`
}

var validKinds = map[string]bool{
	"Redundancy":   true,
	"DeadCode":     true,
	"LogicGap":     true,
	"Optimization": true,
	"Security":     true,
	"Performance":  true,
}

// Default returns a validated configuration suitable for running without a file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}

// Parse decodes TOML text, applies defaults and env overrides, then validates.
func Parse(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, err
	}

	ApplyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateVersion(&cfg); err != nil {
		return nil, err
	}
	if err := validateScan(&cfg); err != nil {
		return nil, err
	}
	if err := validateRules(&cfg); err != nil {
		return nil, err
	}
	if err := validateScribe(&cfg); err != nil {
		return nil, err
	}
	if err := validateDatabase(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if len(cfg.Scan.Roots) == 0 {
		cfg.Scan.Roots = []string{"./src"}
	}
	if cfg.Scan.Extensions == nil {
		cfg.Scan.Extensions = []string{".rs", ".ts", ".tsx", ".js", ".go", ".py"}
	}
	if cfg.Scan.Workers <= 0 {
		cfg.Scan.Workers = runtime.NumCPU()
	}

	if strings.TrimSpace(cfg.Scribe.AssetsDir) == "" {
		cfg.Scribe.AssetsDir = DefaultAssetsDir
	}
	if strings.TrimSpace(cfg.Scribe.HeuristicTarget) == "" {
		cfg.Scribe.HeuristicTarget = DefaultHeuristicTarget
	}
	if strings.TrimSpace(cfg.Scribe.HeaderTag) == "" {
		cfg.Scribe.HeaderTag = DefaultHeaderTag
	}

	if strings.TrimSpace(cfg.DB.Path) == "" {
		cfg.DB.Path = "data/database/scribe.db"
	}
	if cfg.DB.BusyTimeout <= 0 {
		cfg.DB.BusyTimeout = 2 * time.Second
	}

	if strings.TrimSpace(cfg.Server.Address) == "" {
		cfg.Server.Address = "127.0.0.1:8890"
	}
	if cfg.Server.RequestsPerSecond <= 0 {
		cfg.Server.RequestsPerSecond = 5
	}
	if cfg.Server.Burst <= 0 {
		cfg.Server.Burst = 10
	}

	if strings.TrimSpace(cfg.Observability.ServiceName) == "" {
		cfg.Observability.ServiceName = "scribe"
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
}

func (s Scan) GitignoreEnabled() bool {
	if s.RespectGitignore == nil {
		return true
	}
	return *s.RespectGitignore
}

func (o Observability) MetricsOn() bool {
	if o.MetricsEnabled == nil {
		return true
	}
	return *o.MetricsEnabled
}

func validateVersion(cfg *Config) error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	return nil
}

func validateScan(cfg *Config) error {
	for i, root := range cfg.Scan.Roots {
		if strings.TrimSpace(root) == "" {
			return fmt.Errorf("scan.roots[%d] must not be empty", i)
		}
	}
	for i, ext := range cfg.Scan.Extensions {
		trimmed := strings.TrimSpace(ext)
		if trimmed == "" {
			return fmt.Errorf("scan.extensions[%d] must not be empty", i)
		}
		if !strings.HasPrefix(trimmed, ".") {
			return fmt.Errorf("scan.extensions[%d] %q must start with a dot", i, ext)
		}
	}
	for _, pattern := range cfg.Scan.ExcludeDirs {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("invalid scan.exclude_dirs pattern %q: %w", pattern, err)
		}
	}
	for _, pattern := range cfg.Scan.ExcludeFiles {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("invalid scan.exclude_files pattern %q: %w", pattern, err)
		}
	}
	return nil
}

func validateRules(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		ref := fmt.Sprintf("rules[%d]", i)
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			return fmt.Errorf("%s.name must not be empty", ref)
		}
		if seen[name] {
			return fmt.Errorf("duplicate rule name %q", name)
		}
		seen[name] = true
		if strings.TrimSpace(rule.Pattern) == "" {
			return fmt.Errorf("%s.pattern must not be empty", ref)
		}
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("%s.pattern %q: %w", ref, rule.Pattern, err)
		}
		if !validKinds[rule.Kind] {
			return fmt.Errorf("%s.kind %q must be one of: Redundancy, DeadCode, LogicGap, Optimization, Security, Performance", ref, rule.Kind)
		}
		if strings.TrimSpace(rule.Title) == "" {
			return fmt.Errorf("%s.title must not be empty", ref)
		}
	}
	return nil
}

func validateScribe(cfg *Config) error {
	if cfg.Scribe.WritesPerSecond < 0 {
		return fmt.Errorf("scribe.writes_per_second must be >= 0, got %v", cfg.Scribe.WritesPerSecond)
	}
	if strings.ContainsAny(cfg.Scribe.HeaderTag, "\r\n]") {
		return fmt.Errorf("scribe.header_tag must be a single line without ']'")
	}
	return nil
}

func validateDatabase(cfg *Config) error {
	if cfg.DB.Enabled && strings.TrimSpace(cfg.DB.Path) == "" {
		return fmt.Errorf("db.path must not be empty when db.enabled=true")
	}
	if info, err := os.Stat(cfg.DB.Path); err == nil && info.IsDir() {
		return fmt.Errorf("db.path %q is a directory, expected file", cfg.DB.Path)
	}
	return nil
}
