package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/maplink/internal/browser"
	"github.com/sells-group/maplink/internal/locate"
	"github.com/sells-group/maplink/internal/match"
	"github.com/sells-group/maplink/internal/resilience"
	"github.com/sells-group/maplink/internal/sheet"
	"github.com/sells-group/maplink/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Log     LogConfig              `yaml:"log" mapstructure:"log"`
	Server  ServerConfig           `yaml:"server" mapstructure:"server"`
	Output  OutputConfig           `yaml:"output" mapstructure:"output"`
	Browser BrowserConfig          `yaml:"browser" mapstructure:"browser"`
	Match   MatchConfig            `yaml:"match" mapstructure:"match"`
	Sheet   SheetConfig            `yaml:"sheet" mapstructure:"sheet"`
	Store   store.Config           `yaml:"store" mapstructure:"store"`
	Retry   resilience.RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	UploadDir      string   `yaml:"upload_dir" mapstructure:"upload_dir"`
	MaxUploadMB    int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// OutputConfig configures where ledgers and result files are written.
type OutputConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// BrowserConfig configures Chrome and the per-row automation.
type BrowserConfig struct {
	Headless      bool            `yaml:"headless" mapstructure:"headless"`
	ExecPath      string          `yaml:"exec_path" mapstructure:"exec_path"`
	UserAgent     string          `yaml:"user_agent" mapstructure:"user_agent"`
	WindowWidth   int             `yaml:"window_width" mapstructure:"window_width"`
	WindowHeight  int             `yaml:"window_height" mapstructure:"window_height"`
	SearchURL     string          `yaml:"search_url" mapstructure:"search_url"`
	SelectorsFile string          `yaml:"selectors_file" mapstructure:"selectors_file"`
	Pacing        time.Duration   `yaml:"pacing" mapstructure:"pacing"`
	Timeouts      locate.Timeouts `yaml:"timeouts" mapstructure:"timeouts"`
	// BlockResources skips images, fonts, stylesheets and media.
	BlockResources bool `yaml:"block_resources" mapstructure:"block_resources"`
	// MaxConsecutiveFailures aborts a job after that many failed rows in a row.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
}

// MatchConfig holds the candidate scoring weights and the search brand.
type MatchConfig struct {
	match.Config `yaml:",inline" mapstructure:",squash"`
	BrandPrefix  string `yaml:"brand_prefix" mapstructure:"brand_prefix"`
}

// SheetConfig configures how input workbooks are read.
type SheetConfig struct {
	Name      string `yaml:"name" mapstructure:"name"`
	HeaderRow int    `yaml:"header_row" mapstructure:"header_row"`
	StartRow  int    `yaml:"start_row" mapstructure:"start_row"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MAPLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	timeouts := locate.DefaultTimeouts()
	retry := resilience.DefaultRetryConfig()
	weights := match.DefaultConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.upload_dir", "uploads")
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("output.dir", "outputs")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.block_resources", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.search_url", locate.DefaultSearchURL)
	v.SetDefault("browser.pacing", 2*time.Second)
	v.SetDefault("browser.max_consecutive_failures", 10)
	v.SetDefault("browser.timeouts.navigate", timeouts.Navigate)
	v.SetDefault("browser.timeouts.settle", timeouts.Settle)
	v.SetDefault("browser.timeouts.submit", timeouts.Submit)
	v.SetDefault("browser.timeouts.details", timeouts.Details)
	v.SetDefault("browser.timeouts.reselect", timeouts.Reselect)
	v.SetDefault("browser.timeouts.modal", timeouts.Modal)
	v.SetDefault("browser.timeouts.dismiss", timeouts.Dismiss)
	v.SetDefault("browser.timeouts.poll_interval", timeouts.PollInterval)
	v.SetDefault("match.keyword_weight", weights.KeywordWeight)
	v.SetDefault("match.brand_bonus", weights.BrandBonus)
	v.SetDefault("match.min_keyword_len", weights.MinKeywordLen)
	v.SetDefault("match.max_candidates", weights.MaxCandidates)
	v.SetDefault("match.brand_tokens", weights.BrandTokens)
	v.SetDefault("match.brand_prefix", locate.DefaultBrandPrefix)
	v.SetDefault("sheet.name", sheet.DefaultSheetName)
	v.SetDefault("sheet.header_row", 2)
	v.SetDefault("sheet.start_row", 3)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "maplink.db")
	v.SetDefault("retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("retry.initial_backoff", retry.InitialBackoff)
	v.SetDefault("retry.max_backoff", retry.MaxBackoff)
	v.SetDefault("retry.multiplier", retry.Multiplier)
	v.SetDefault("retry.jitter_fraction", retry.JitterFraction)
}

// Validate checks the settings a command mode depends on and reports every
// problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		errs = append(errs, c.validateRun()...)
	case "run":
		errs = append(errs, c.validateRun()...)
	case "scan", "finalize":
	case "jobs":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateRun() []string {
	var errs []string
	if c.Output.Dir == "" {
		errs = append(errs, "output.dir is required")
	}
	if c.Match.MaxCandidates < 0 {
		errs = append(errs, "match.max_candidates must be >= 0")
	}
	if c.Match.KeywordWeight < 0 || c.Match.BrandBonus < 0 {
		errs = append(errs, "match weights must be >= 0")
	}
	if c.Browser.Pacing < 0 {
		errs = append(errs, "browser.pacing must be >= 0")
	}
	if c.Browser.MaxConsecutiveFailures < 0 {
		errs = append(errs, "browser.max_consecutive_failures must be >= 0")
	}
	return append(errs, c.validateStore()...)
}

func (c *Config) validateStore() []string {
	switch strings.ToLower(c.Store.Driver) {
	case "", "sqlite":
	case "postgres", "pgx":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for postgres"}
		}
	default:
		return []string{"store.driver must be sqlite or postgres"}
	}
	return nil
}

// ChromeOptions returns the browser launch settings.
func (c *Config) ChromeOptions() browser.ChromeOptions {
	return browser.ChromeOptions{
		Headless:     c.Browser.Headless,
		ExecPath:     c.Browser.ExecPath,
		UserAgent:    c.Browser.UserAgent,
		WindowWidth:  c.Browser.WindowWidth,
		WindowHeight: c.Browser.WindowHeight,

		BlockResources: c.Browser.BlockResources,
	}
}

// LocateConfig returns the per-row automation settings.
func (c *Config) LocateConfig() locate.Config {
	retry := c.Retry
	retry.OnRetry = resilience.RetryLogger("locate.navigate")
	return locate.Config{
		SearchURL:   c.Browser.SearchURL,
		BrandPrefix: c.Match.BrandPrefix,
		Timeouts:    c.Browser.Timeouts,
		Pacing:      c.Browser.Pacing,
		Retry:       retry,
	}
}

// SheetOptions returns the workbook reader settings.
func (c *Config) SheetOptions() sheet.Options {
	return sheet.Options{
		SheetName: c.Sheet.Name,
		HeaderRow: c.Sheet.HeaderRow,
		StartRow:  c.Sheet.StartRow,
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
