// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// ErrMissingCredentials is returned when the catalogue username or password is unset.
var ErrMissingCredentials = errors.New("catalogue credentials are not configured (set CATALOG_AUTH_USERNAME and CATALOG_AUTH_PASSWORD)")

// Known navigation strategy names.
const (
	StrategyMenu   = "menu"
	StrategyDirect = "direct"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Site() SiteConfig
	Auth() AuthConfig
	Navigation() NavigationConfig
	Search() SearchConfig
	Queue() QueueConfig
	Batch() BatchConfig

	SetBrowserHeadless(bool)
	SetNavigationStrategies([]string)
	SetQueueDataDir(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	SiteCfg       SiteConfig       `mapstructure:"site" yaml:"site"`
	AuthCfg       AuthConfig       `mapstructure:"auth" yaml:"auth"`
	NavigationCfg NavigationConfig `mapstructure:"navigation" yaml:"navigation"`
	SearchCfg     SearchConfig     `mapstructure:"search" yaml:"search"`
	QueueCfg      QueueConfig      `mapstructure:"queue" yaml:"queue"`
	BatchCfg      BatchConfig      `mapstructure:"batch" yaml:"batch"`
}

var _ Interface = (*Config)(nil)

// -- Getters --

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Site() SiteConfig             { return c.SiteCfg }
func (c *Config) Auth() AuthConfig             { return c.AuthCfg }
func (c *Config) Navigation() NavigationConfig { return c.NavigationCfg }
func (c *Config) Search() SearchConfig         { return c.SearchCfg }
func (c *Config) Queue() QueueConfig           { return c.QueueCfg }
func (c *Config) Batch() BatchConfig           { return c.BatchCfg }

// -- Setters --

func (c *Config) SetBrowserHeadless(b bool)          { c.BrowserCfg.Headless = b }
func (c *Config) SetNavigationStrategies(s []string) { c.NavigationCfg.Strategies = s }
func (c *Config) SetQueueDataDir(dir string)         { c.QueueCfg.DataDir = dir }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the optional outcome journal connection. An empty URL
// disables the journal; the ledger files remain the source of truth.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the controlled Chrome instance.
type BrowserConfig struct {
	Headless    bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath    string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args        []string      `mapstructure:"args" yaml:"args"`
	DisableGPU  bool          `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	Persona     PersonaConfig `mapstructure:"persona" yaml:"persona"`

	// ActionTimeout bounds every single browser call (query, click, fill).
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// PersonaConfig is the browser identity presented to the catalogue.
type PersonaConfig struct {
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
	Locale    string `mapstructure:"locale" yaml:"locale"`
	Timezone  string `mapstructure:"timezone" yaml:"timezone"`
}

// SiteConfig describes the remote catalogue application: where things live
// and how to recognize them.
type SiteConfig struct {
	BaseURL     string `mapstructure:"base_url" yaml:"base_url"`
	LandingPath string `mapstructure:"landing_path" yaml:"landing_path"`
	SearchPath  string `mapstructure:"search_path" yaml:"search_path"`

	Selectors SelectorConfig `mapstructure:"selectors" yaml:"selectors"`
	Markers   MarkerConfig   `mapstructure:"markers" yaml:"markers"`
}

// LandingURL is the absolute URL of the authenticated landing page.
func (s SiteConfig) LandingURL() string { return joinURL(s.BaseURL, s.LandingPath) }

// SearchURL is the absolute URL of the search surface.
func (s SiteConfig) SearchURL() string { return joinURL(s.BaseURL, s.SearchPath) }

// SelectorConfig holds the CSS selectors for every element the core touches.
type SelectorConfig struct {
	LoginLink        string `mapstructure:"login_link" yaml:"login_link"`
	LogoutLink       string `mapstructure:"logout_link" yaml:"logout_link"`
	UsernameField    string `mapstructure:"username_field" yaml:"username_field"`
	PasswordField    string `mapstructure:"password_field" yaml:"password_field"`
	LoginSubmit      string `mapstructure:"login_submit" yaml:"login_submit"`
	DialogClose      string `mapstructure:"dialog_close" yaml:"dialog_close"`
	MenuToggle       string `mapstructure:"menu_toggle" yaml:"menu_toggle"`
	SubmenuEntry     string `mapstructure:"submenu_entry" yaml:"submenu_entry"`
	Overlay          string `mapstructure:"overlay" yaml:"overlay"`
	SearchInput      string `mapstructure:"search_input" yaml:"search_input"`
	SearchButton     string `mapstructure:"search_button" yaml:"search_button"`
	StatusArea       string `mapstructure:"status_area" yaml:"status_area"`
	SaveButton       string `mapstructure:"save_button" yaml:"save_button"`
	ModalConfirm     string `mapstructure:"modal_confirm" yaml:"modal_confirm"`
	PermissionDenied string `mapstructure:"permission_denied" yaml:"permission_denied"`
}

// MarkerConfig holds the text and URL fragments used to classify pages.
// All text comparisons are case-insensitive substring matches.
type MarkerConfig struct {
	Searching         string   `mapstructure:"searching" yaml:"searching"`
	NoMatch           string   `mapstructure:"no_match" yaml:"no_match"`
	FoundMatch        string   `mapstructure:"found_match" yaml:"found_match"`
	LoginURLs         []string `mapstructure:"login_urls" yaml:"login_urls"`
	DeniedURLs        []string `mapstructure:"denied_urls" yaml:"denied_urls"`
	SearchURLFragment string   `mapstructure:"search_url_fragment" yaml:"search_url_fragment"`
}

// AuthConfig configures the session manager. Username and Password are never
// written back out (yaml:"-").
type AuthConfig struct {
	Username       string        `mapstructure:"username" yaml:"-"`
	Password       string        `mapstructure:"password" yaml:"-"`
	SnapshotPath   string        `mapstructure:"snapshot_path" yaml:"snapshot_path"`
	DialogAttempts int           `mapstructure:"dialog_attempts" yaml:"dialog_attempts"`
	DialogTimeout  time.Duration `mapstructure:"dialog_timeout" yaml:"dialog_timeout"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
}

// HasCredentials reports whether both credential strings are present.
func (a AuthConfig) HasCredentials() bool {
	return a.Username != "" && a.Password != ""
}

// NavigationConfig configures the navigation resolver.
type NavigationConfig struct {
	// Strategies is the preference order. Defaults to menu first.
	Strategies    []string      `mapstructure:"strategies" yaml:"strategies"`
	MaxAttempts   int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	MenuTimeout   time.Duration `mapstructure:"menu_timeout" yaml:"menu_timeout"`
	PopupWindow   time.Duration `mapstructure:"popup_window" yaml:"popup_window"`
	ClickAttempts int           `mapstructure:"click_attempts" yaml:"click_attempts"`
	ClickDelay    time.Duration `mapstructure:"click_delay" yaml:"click_delay"`
	InputTimeout  time.Duration `mapstructure:"input_timeout" yaml:"input_timeout"`
}

// SearchConfig configures the search classifier.
type SearchConfig struct {
	StatusTimeout time.Duration `mapstructure:"status_timeout" yaml:"status_timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	GraceDelay    time.Duration `mapstructure:"grace_delay" yaml:"grace_delay"`
	ModalTimeout  time.Duration `mapstructure:"modal_timeout" yaml:"modal_timeout"`
	SettleDelay   time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// QueueConfig locates the durable queue and ledger files.
type QueueConfig struct {
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// BatchConfig configures the orchestrator loop.
type BatchConfig struct {
	// MinInterval is the minimum spacing between two submissions.
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
	ItemTimeout time.Duration `mapstructure:"item_timeout" yaml:"item_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "catalog-cli")
	v.SetDefault("logger.log_file", "catalog.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.action_timeout", "15s")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.post_load_wait", "1500ms")
	v.SetDefault("browser.persona.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.persona.locale", "en-US")
	v.SetDefault("browser.persona.timezone", "America/New_York")

	// -- Site --
	// Registered empty so CATALOG_SITE_BASE_URL is seen by Unmarshal.
	v.SetDefault("site.base_url", "")
	v.SetDefault("site.landing_path", "/")
	v.SetDefault("site.search_path", "/cataloging/search")
	v.SetDefault("site.selectors.login_link", "a.login-link")
	v.SetDefault("site.selectors.logout_link", "a.logout-link")
	v.SetDefault("site.selectors.username_field", "#username")
	v.SetDefault("site.selectors.password_field", "#password")
	v.SetDefault("site.selectors.login_submit", "#login-submit")
	v.SetDefault("site.selectors.dialog_close", ".modal .close")
	v.SetDefault("site.selectors.menu_toggle", "#main-menu-toggle")
	v.SetDefault("site.selectors.submenu_entry", "#menu-cataloging-search")
	v.SetDefault("site.selectors.overlay", ".overlay-dismiss")
	v.SetDefault("site.selectors.search_input", "#isbn-search")
	v.SetDefault("site.selectors.search_button", "#isbn-search-submit")
	v.SetDefault("site.selectors.status_area", "#search-status")
	v.SetDefault("site.selectors.save_button", "#save-resource")
	v.SetDefault("site.selectors.modal_confirm", ".modal-confirm")
	v.SetDefault("site.selectors.permission_denied", ".permission-denied")
	v.SetDefault("site.markers.searching", "searching")
	v.SetDefault("site.markers.no_match", "no matching resource")
	v.SetDefault("site.markers.found_match", "found matching resource")
	v.SetDefault("site.markers.login_urls", []string{"/login", "/signin"})
	v.SetDefault("site.markers.denied_urls", []string{"accessdenied", "permission-denied"})
	v.SetDefault("site.markers.search_url_fragment", "/cataloging/search")

	// -- Auth --
	v.SetDefault("auth.snapshot_path", "~/.catalog-cli/session.json")
	v.SetDefault("auth.dialog_attempts", 3)
	v.SetDefault("auth.dialog_timeout", "10s")
	v.SetDefault("auth.confirm_timeout", "20s")

	// -- Navigation --
	v.SetDefault("navigation.strategies", []string{StrategyMenu, StrategyDirect})
	v.SetDefault("navigation.max_attempts", 3)
	v.SetDefault("navigation.menu_timeout", "15s")
	v.SetDefault("navigation.popup_window", "3s")
	v.SetDefault("navigation.click_attempts", 3)
	v.SetDefault("navigation.click_delay", "500ms")
	v.SetDefault("navigation.input_timeout", "10s")

	// -- Search --
	v.SetDefault("search.status_timeout", "20s")
	v.SetDefault("search.poll_interval", "250ms")
	v.SetDefault("search.grace_delay", "3s")
	v.SetDefault("search.modal_timeout", "2s")
	v.SetDefault("search.settle_delay", "1500ms")
	v.SetDefault("search.max_retries", 3)

	// -- Queue --
	v.SetDefault("queue.data_dir", "~/.catalog-cli/data")

	// -- Batch --
	v.SetDefault("batch.min_interval", "2s")
	v.SetDefault("batch.item_timeout", "5m")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Credentials only ever come from the environment or an untracked config file.
	_ = v.BindEnv("auth.username", "CATALOG_AUTH_USERNAME")
	_ = v.BindEnv("auth.password", "CATALOG_AUTH_PASSWORD")
	_ = v.BindEnv("database.url", "CATALOG_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves "~" in every configured filesystem path.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.AuthCfg.SnapshotPath, &c.QueueCfg.DataDir, &c.BrowserCfg.UserDataDir, &c.LoggerCfg.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("could not resolve path '%s': %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
// Credentials are checked separately by ValidateCredentials because commands
// like `status` work without them.
func (c *Config) Validate() error {
	if c.SiteCfg.BaseURL == "" {
		return fmt.Errorf("site.base_url is a required configuration field")
	}
	if err := c.NavigationCfg.Validate(); err != nil {
		return fmt.Errorf("navigation configuration invalid: %w", err)
	}
	if c.AuthCfg.DialogAttempts <= 0 {
		return fmt.Errorf("auth.dialog_attempts must be a positive integer")
	}
	if c.SearchCfg.MaxRetries <= 0 {
		return fmt.Errorf("search.max_retries must be a positive integer")
	}
	if c.SearchCfg.StatusTimeout <= 0 || c.SearchCfg.PollInterval <= 0 {
		return fmt.Errorf("search.status_timeout and search.poll_interval must be positive durations")
	}
	if c.QueueCfg.DataDir == "" {
		return fmt.Errorf("queue.data_dir is a required configuration field")
	}
	if c.BatchCfg.MinInterval < 0 {
		return fmt.Errorf("batch.min_interval must not be negative")
	}
	return nil
}

// ValidateCredentials returns ErrMissingCredentials when either credential is empty.
func (c *Config) ValidateCredentials() error {
	if !c.AuthCfg.HasCredentials() {
		return ErrMissingCredentials
	}
	return nil
}

// Validate checks the navigation settings.
func (n *NavigationConfig) Validate() error {
	if len(n.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	seen := make(map[string]bool, len(n.Strategies))
	for _, s := range n.Strategies {
		if s != StrategyMenu && s != StrategyDirect {
			return fmt.Errorf("unknown strategy %q (want %q or %q)", s, StrategyMenu, StrategyDirect)
		}
		if seen[s] {
			return fmt.Errorf("strategy %q listed twice", s)
		}
		seen[s] = true
	}
	if n.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be a positive integer")
	}
	if n.ClickAttempts <= 0 {
		return fmt.Errorf("click_attempts must be a positive integer")
	}
	if n.MenuTimeout <= 0 || n.PopupWindow <= 0 {
		return fmt.Errorf("menu_timeout and popup_window must be positive durations")
	}
	return nil
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	if path[0] != '/' {
		path = "/" + path
	}
	return base + path
}
