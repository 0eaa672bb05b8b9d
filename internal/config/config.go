package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Search strategies.
const (
	StrategySequential = "sequential"
	StrategyParallel   = "parallel"
)

// Engine kinds.
const (
	EngineGeneric     = "generic"
	EngineCorrelation = "correlation"
)

// Target kinds.
const (
	TargetLocalDir   = "localdir"
	TargetSABnzbd    = "sabnzbd"
	TargetNZBGet     = "nzbget"
	TargetSynology   = "synology"
	TargetPremiumize = "premiumize"
)

// Category modes and fallbacks.
const (
	CategoryOff       = "off"
	CategoryAutomatic = "automatic"
	CategoryFixed     = "fixed"
	CategoryManual    = "manual"
	FallbackNone      = "none"
	FallbackFixed     = "fixed"
	FallbackManual    = "manual"
)

// Title styles applied before dispatch.
const (
	TitleKeep   = "keep"
	TitleDots   = "dots"
	TitleSpaces = "spaces"
)

// Config holds all application configuration
type Config struct {
	v *viper.Viper

	LogLevel          string
	NotificationLevel string
	ServerPort        string
	IncomingDir       string
	DatabaseFile      string

	Search       SearchSettings
	Processing   ProcessingSettings
	Engines      []EngineConfig
	Targets      []TargetConfig
	Interception []InterceptionRule
}

// SearchSettings controls engine selection and completeness checking.
type SearchSettings struct {
	Strategy            string       `mapstructure:"strategy"`
	FetchTimeoutSeconds int          `mapstructure:"fetch_timeout_seconds"`
	FileCheck           FileCheck    `mapstructure:"file_check"`
	SegmentCheck        SegmentCheck `mapstructure:"segment_check"`
}

// FileCheck rejects results missing more than Threshold files.
type FileCheck struct {
	Enabled   bool `mapstructure:"enabled"`
	Threshold int  `mapstructure:"threshold"`
}

// SegmentCheck rejects results missing more than ThresholdPercent of segments.
type SegmentCheck struct {
	Enabled          bool    `mapstructure:"enabled"`
	ThresholdPercent float64 `mapstructure:"threshold_percent"`
}

// ProcessingSettings controls the post-fetch processing step.
type ProcessingSettings struct {
	TitleStyle     string   `mapstructure:"title_style"`
	AddMeta        bool     `mapstructure:"add_meta"`
	ReviewDialog   bool     `mapstructure:"review_dialog"`
	RemoveSubjects []string `mapstructure:"remove_subjects"`
}

// CleanSettings controls search-header normalization per engine.
type CleanSettings struct {
	StripUnderscores bool `mapstructure:"strip_underscores"`
	StripHyphens     bool `mapstructure:"strip_hyphens"`
	Quote            bool `mapstructure:"quote"`
}

// EngineConfig describes one search engine.
type EngineConfig struct {
	Name        string        `mapstructure:"name"`
	Active      bool          `mapstructure:"active"`
	Kind        string        `mapstructure:"kind"`
	SearchURL   string        `mapstructure:"search_url"`
	Response    string        `mapstructure:"response"` // html|json
	Pattern     string        `mapstructure:"pattern"`
	Group       int           `mapstructure:"group"`
	JSONPath    string        `mapstructure:"json_path"`
	DownloadURL string        `mapstructure:"download_url"`
	Clean       CleanSettings `mapstructure:"clean"`
}

// CategoryRule is one automatic categorization rule.
type CategoryRule struct {
	Name    string `mapstructure:"name"`
	Pattern string `mapstructure:"pattern"`
	Active  bool   `mapstructure:"active"`
	Default bool   `mapstructure:"default"`
}

// CategorySettings is the category policy of one target.
type CategorySettings struct {
	Mode     string         `mapstructure:"mode"`
	Fallback string         `mapstructure:"fallback"`
	List     []CategoryRule `mapstructure:"list"`
}

// UseCategories reports whether any category resolution should run.
func (c CategorySettings) UseCategories() bool {
	return c.Mode != "" && c.Mode != CategoryOff
}

// TargetConfig describes one configured download-client backend.
type TargetConfig struct {
	Name       string           `mapstructure:"name"`
	Active     bool             `mapstructure:"active"`
	Kind       string           `mapstructure:"kind"`
	URL        string           `mapstructure:"url"`
	APIKey     string           `mapstructure:"api_key"`
	Username   string           `mapstructure:"username"`
	Password   string           `mapstructure:"password"`
	Directory  string           `mapstructure:"directory"`
	Categories CategorySettings `mapstructure:"categories"`
}

// InterceptionRule maps a source domain to upload handling behavior.
type InterceptionRule struct {
	Domain              string   `mapstructure:"domain"`
	PathPattern         string   `mapstructure:"path_pattern"`
	ArchiveExtensions   []string `mapstructure:"archive_extensions"`
	RequireConfirmation bool     `mapstructure:"require_confirmation"`
}

// Load loads configuration from config.yaml in CONFIG_DIR plus NZBRELAY_*
// environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NZBRELAY")
	v.AutomaticEnv()

	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config", "nzbrelay")
	}
	absDir, err := filepath.Abs(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for CONFIG_DIR: %w", err)
	}
	configDir = absDir

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)

	// Missing config file is fine, defaults and env carry a minimal setup.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFile loads configuration from an explicit config file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NZBRELAY")
	v.AutomaticEnv()
	v.SetConfigFile(path)
	setDefaults(v, filepath.Dir(path))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return unmarshal(v)
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("log_level", "info")
	v.SetDefault("notification_level", "info")
	v.SetDefault("server_port", "8080")
	v.SetDefault("incoming_dir", "")
	v.SetDefault("database_file", filepath.Join(configDir, "nzbrelay.db"))
	v.SetDefault("search.strategy", StrategySequential)
	v.SetDefault("search.fetch_timeout_seconds", 30)
	v.SetDefault("search.file_check.enabled", true)
	v.SetDefault("search.file_check.threshold", 2)
	v.SetDefault("search.segment_check.enabled", true)
	v.SetDefault("search.segment_check.threshold_percent", 2.5)
	v.SetDefault("processing.title_style", TitleKeep)
	v.SetDefault("processing.add_meta", true)
	v.SetDefault("processing.review_dialog", false)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		v:                 v,
		LogLevel:          v.GetString("log_level"),
		NotificationLevel: v.GetString("notification_level"),
		ServerPort:        v.GetString("server_port"),
		IncomingDir:       v.GetString("incoming_dir"),
		DatabaseFile:      v.GetString("database_file"),
	}

	if err := v.UnmarshalKey("search", &cfg.Search); err != nil {
		return nil, fmt.Errorf("failed to parse search settings: %w", err)
	}
	if err := v.UnmarshalKey("processing", &cfg.Processing); err != nil {
		return nil, fmt.Errorf("failed to parse processing settings: %w", err)
	}
	if err := v.UnmarshalKey("engines", &cfg.Engines); err != nil {
		return nil, fmt.Errorf("failed to parse engines: %w", err)
	}
	if err := v.UnmarshalKey("targets", &cfg.Targets); err != nil {
		return nil, fmt.Errorf("failed to parse targets: %w", err)
	}
	if err := v.UnmarshalKey("interception", &cfg.Interception); err != nil {
		return nil, fmt.Errorf("failed to parse interception rules: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Search.Strategy {
	case StrategySequential, StrategyParallel:
	default:
		return fmt.Errorf("invalid search strategy: %s", c.Search.Strategy)
	}
	switch c.Processing.TitleStyle {
	case TitleKeep, TitleDots, TitleSpaces:
	default:
		return fmt.Errorf("invalid title style: %s", c.Processing.TitleStyle)
	}
	for _, engine := range c.Engines {
		if engine.Name == "" {
			return fmt.Errorf("engine without a name")
		}
		switch engine.Kind {
		case EngineGeneric, EngineCorrelation:
		default:
			return fmt.Errorf("engine %s: invalid kind %q", engine.Name, engine.Kind)
		}
		if engine.SearchURL == "" {
			return fmt.Errorf("engine %s: search_url is required", engine.Name)
		}
	}
	for _, target := range c.Targets {
		if target.Name == "" {
			return fmt.Errorf("target without a name")
		}
		switch target.Kind {
		case TargetLocalDir:
			if target.Directory == "" {
				return fmt.Errorf("target %s: directory is required", target.Name)
			}
		case TargetSABnzbd, TargetNZBGet, TargetSynology:
			if target.URL == "" {
				return fmt.Errorf("target %s: url is required", target.Name)
			}
		case TargetPremiumize:
			if target.APIKey == "" {
				return fmt.Errorf("target %s: api_key is required", target.Name)
			}
		default:
			return fmt.Errorf("target %s: invalid kind %q", target.Name, target.Kind)
		}
	}
	return nil
}

// Watch reloads the config file on change and invokes onChange with the new
// configuration. Invalid edits are reported via onError and skipped, the
// previous configuration stays active.
func (c *Config) Watch(onChange func(*Config), onError func(error)) {
	c.v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := unmarshal(c.v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	c.v.WatchConfig()
}
