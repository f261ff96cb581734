package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
)

// Config represents the main service configuration
type Config struct {
	General   GeneralConfig   `toml:"general"`
	Component ComponentConfig `toml:"component"`
	MUC       MUCConfig       `toml:"muc"`
	History   HistoryConfig   `toml:"history"`
	Storage   StorageConfig   `toml:"storage"`
	Logging   LoggingConfig   `toml:"logging"`
	Plugins   PluginsConfig   `toml:"plugins"`
	UI        UIConfig        `toml:"ui"`
}

// GeneralConfig contains general settings
type GeneralConfig struct {
	DataDir string `toml:"data_dir"`
}

// ComponentConfig describes the XEP-0114 connection to the host server
type ComponentConfig struct {
	JID     string `toml:"jid"`
	Secret  string `toml:"secret"`
	Address string `toml:"address"`
}

// MUCConfig contains the presence handling settings
type MUCConfig struct {
	LockNewRooms   bool     `toml:"lock_new_rooms"`
	FilterPresence bool     `toml:"filter_presence"`
	DeferCatchUp   bool     `toml:"defer_catch_up"`
	DelayInterval  Duration `toml:"delay_interval"`
	// DelayOrder is "lifo" or "fifo"
	DelayOrder  string     `toml:"delay_order"`
	DefaultRoom RoomConfig `toml:"default_room"`
}

// RoomConfig is the configuration applied to newly created rooms
type RoomConfig struct {
	Anonymity         string `toml:"anonymity"`
	MembersOnly       bool   `toml:"members_only"`
	Moderated         bool   `toml:"moderated"`
	Persistent        bool   `toml:"persistent"`
	Logging           bool   `toml:"logging"`
	PasswordProtected bool   `toml:"password_protected"`
	Password          string `toml:"password"`
}

// HistoryConfig configures the transcript store used for history replay
type HistoryConfig struct {
	// Backend is "buntdb" or "none"
	Backend string `toml:"backend"`
	// Path is the buntdb file, ":memory:" keeps it in memory
	Path string   `toml:"path"`
	TTL  Duration `toml:"ttl"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	// Enabled turns the sqlite room store and audit log on
	Enabled bool `toml:"enabled"`

	// RetentionDays is the number of days to keep audit log entries (0 = forever)
	RetentionDays int `toml:"retention_days"`

	// PruneSchedule is a cron expression for the retention job
	PruneSchedule string `toml:"prune_schedule"`

	// VacuumOnStartup runs database vacuum on startup
	VacuumOnStartup bool `toml:"vacuum_on_startup"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level   string `toml:"level"`
	File    string `toml:"file"`
	Console bool   `toml:"console"`
	JSON    bool   `toml:"json"`
}

// PluginsConfig contains plugin settings
type PluginsConfig struct {
	Enabled   []string `toml:"enabled"`
	PluginDir string   `toml:"plugin_dir"`

	// Options holds per-plugin settings keyed by plugin name
	Options map[string]map[string]string `toml:"options"`
}

// UIConfig contains the room monitor settings
type UIConfig struct {
	Theme    string   `toml:"theme"`
	ThemeDir string   `toml:"theme_dir"`
	Refresh  Duration `toml:"refresh"`
}

// Duration is a time.Duration that decodes from TOML strings such as "550ms"
type Duration struct {
	time.Duration
}

// UnmarshalText satisfies encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText satisfies encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Paths holds the XDG-compliant paths for the service
type Paths struct {
	ConfigDir string
	DataDir   string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Component: ComponentConfig{
			JID:     "muc.localhost",
			Address: "localhost:5347",
		},
		MUC: MUCConfig{
			LockNewRooms:   true,
			FilterPresence: true,
			DelayInterval:  Duration{553 * time.Millisecond},
			DelayOrder:     "lifo",
			DefaultRoom: RoomConfig{
				Anonymity: "semianonymous",
			},
		},
		History: HistoryConfig{
			Backend: "buntdb",
			Path:    ":memory:",
			TTL:     Duration{24 * time.Hour},
		},
		Storage: StorageConfig{
			Enabled:       true,
			RetentionDays: 0, // Forever
			PruneSchedule: "@daily",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Plugins: PluginsConfig{
			Enabled: []string{},
		},
		UI: UIConfig{
			Theme:   "nord",
			Refresh: Duration{time.Second},
		},
	}
}

// GetPaths returns XDG-compliant paths for the service
func GetPaths() (*Paths, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}

	return &Paths{
		ConfigDir: filepath.Join(configDir, "mucd"),
		DataDir:   filepath.Join(dataDir, "mucd"),
	}, nil
}

// FlagSet returns the command-line overrides understood by Load
func FlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "path to the TOML configuration file")
	fs.String("data-dir", "", "directory for databases and logs")
	fs.String("log-level", "", "log level (trace, debug, info, warn, error)")
	return fs
}

// Load loads the configuration from path, or from the XDG config dir when
// path is empty. Flags from FlagSet, if given, override file values.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, err
	}

	if flags != nil && path == "" {
		path, _ = flags.GetString("config")
	}
	if path == "" {
		path = filepath.Join(paths.ConfigDir, "config.toml")
	}

	cfg := DefaultConfig()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if flags != nil {
		if v, _ := flags.GetString("data-dir"); v != "" {
			cfg.General.DataDir = v
		}
		if v, _ := flags.GetString("log-level"); v != "" {
			cfg.Logging.Level = v
		}
	}

	// Expand paths
	if cfg.General.DataDir == "" {
		cfg.General.DataDir = paths.DataDir
	} else {
		cfg.General.DataDir = expandPath(cfg.General.DataDir)
	}

	if cfg.Plugins.PluginDir == "" {
		cfg.Plugins.PluginDir = filepath.Join(cfg.General.DataDir, "plugins")
	} else {
		cfg.Plugins.PluginDir = expandPath(cfg.Plugins.PluginDir)
	}

	if cfg.UI.ThemeDir == "" {
		cfg.UI.ThemeDir = filepath.Join(paths.ConfigDir, "themes")
	} else {
		cfg.UI.ThemeDir = expandPath(cfg.UI.ThemeDir)
	}

	if cfg.Logging.File != "" {
		cfg.Logging.File = expandPath(cfg.Logging.File)
	}

	if cfg.History.Path != ":memory:" && cfg.History.Path != "" {
		cfg.History.Path = expandPath(cfg.History.Path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	switch c.MUC.DelayOrder {
	case "", "lifo", "fifo":
	default:
		return fmt.Errorf("invalid muc.delay_order %q", c.MUC.DelayOrder)
	}
	switch c.MUC.DefaultRoom.Anonymity {
	case "", "fullanonymous", "semianonymous", "nonanonymous":
	default:
		return fmt.Errorf("invalid muc.default_room.anonymity %q", c.MUC.DefaultRoom.Anonymity)
	}
	switch c.History.Backend {
	case "", "buntdb", "none":
	default:
		return fmt.Errorf("invalid history.backend %q", c.History.Backend)
	}
	if c.MUC.DelayInterval.Duration < 0 {
		return fmt.Errorf("muc.delay_interval must not be negative")
	}
	return nil
}

// Save saves the configuration to path
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
