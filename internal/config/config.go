package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure for the service.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Server    ServerConfig    `mapstructure:"server"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Portal    PortalConfig    `mapstructure:"portal"`
	Session   SessionConfig   `mapstructure:"session"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Export    ExportConfig    `mapstructure:"export"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug string `mapstructure:"debug"`
	Info  string `mapstructure:"info"`
	Warn  string `mapstructure:"warn"`
	Error string `mapstructure:"error"`
	Fatal string `mapstructure:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"`
	AddSource   bool        `mapstructure:"add_source"`
	ServiceName string      `mapstructure:"service_name"`
	LogFile     string      `mapstructure:"log_file"`
	MaxSize     int         `mapstructure:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups"`
	MaxAge      int         `mapstructure:"max_age"`
	Compress    bool        `mapstructure:"compress"`
	Colors      ColorConfig `mapstructure:"colors"`
}

// ServerConfig holds settings for the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BrowserConfig holds settings for the headless browser.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors"`
	Args            []string `mapstructure:"args"`
	UserAgent       string   `mapstructure:"user_agent"`
}

// PortalConfig identifies the upstream portal and the credentials used
// against its identity provider. Username and password are environment-only.
type PortalConfig struct {
	LoginURL     string `mapstructure:"login_url"`
	DashboardURL string `mapstructure:"dashboard_url"`
	SignOutURL   string `mapstructure:"sign_out_url"`
	Domain       string `mapstructure:"domain"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
}

// SessionConfig governs session lifetime, snapshot persistence and the
// isolation sweep that precedes every new login.
type SessionConfig struct {
	TTL               time.Duration `mapstructure:"ttl"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	SnapshotDir       string        `mapstructure:"snapshot_dir"`
	SnapshotMaxAge    time.Duration `mapstructure:"snapshot_max_age"`
	ScreenshotDir     string        `mapstructure:"screenshot_dir"`
	IsolationCooldown time.Duration `mapstructure:"isolation_cooldown"`
	SignOutTimeout    time.Duration `mapstructure:"sign_out_timeout"`
}

// JobsConfig holds settings for the async ticket queue.
type JobsConfig struct {
	QueueSize  int           `mapstructure:"queue_size"`
	Workers    int           `mapstructure:"workers"`
	MaxTickets int           `mapstructure:"max_tickets"`
	TicketTTL  time.Duration `mapstructure:"ticket_ttl"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// ExportConfig describes the downstream export service hand-off.
type ExportConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	Attempts      int           `mapstructure:"attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
	WakeDelay     time.Duration `mapstructure:"wake_delay"`
	ExportTimeout time.Duration `mapstructure:"export_timeout"`
}

// SchedulerConfig controls the periodic unattended login.
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// SetDefaults installs defaults on the viper instance so the service can
// run with a minimal config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "pwc-portal-agent")
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)

	v.SetDefault("portal.login_url", "https://compliancenominationportal.in.pwc.com/")
	v.SetDefault("portal.dashboard_url", "https://compliancenominationportal.in.pwc.com/dashboard")
	v.SetDefault("portal.sign_out_url", "https://compliancenominationportal.in.pwc.com/signout")
	v.SetDefault("portal.domain", "compliancenominationportal.in.pwc.com")

	v.SetDefault("session.ttl", 10*time.Minute)
	v.SetDefault("session.cleanup_interval", time.Minute)
	v.SetDefault("session.snapshot_dir", "/tmp/pwc")
	v.SetDefault("session.snapshot_max_age", time.Hour)
	v.SetDefault("session.screenshot_dir", "/tmp/pwc/screenshots")
	v.SetDefault("session.isolation_cooldown", 15*time.Second)
	v.SetDefault("session.sign_out_timeout", 10*time.Second)

	v.SetDefault("jobs.queue_size", 32)
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.max_tickets", 1000)
	v.SetDefault("jobs.ticket_ttl", 24*time.Hour)
	v.SetDefault("jobs.job_timeout", 5*time.Minute)

	v.SetDefault("export.cooldown", time.Minute)
	v.SetDefault("export.attempts", 3)
	v.SetDefault("export.retry_delay", 10*time.Second)
	v.SetDefault("export.health_timeout", 5*time.Second)
	v.SetDefault("export.wake_delay", 15*time.Second)
	v.SetDefault("export.export_timeout", 5*time.Minute)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", 45*time.Minute)
}

// Load unmarshals the viper instance into a Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures. Missing credentials are deliberately NOT fatal here:
// they fail the individual login attempt, not the process.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Portal.LoginURL == "" {
		return fmt.Errorf("portal.login_url must not be empty")
	}
	if c.Portal.Domain == "" {
		return fmt.Errorf("portal.domain must not be empty")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive, got %s", c.Session.TTL)
	}
	if c.Session.CleanupInterval <= 0 {
		return fmt.Errorf("session.cleanup_interval must be positive, got %s", c.Session.CleanupInterval)
	}
	if c.Session.SnapshotDir == "" {
		return fmt.Errorf("session.snapshot_dir must not be empty")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be positive, got %d", c.Jobs.Workers)
	}
	if c.Export.Attempts <= 0 {
		return fmt.Errorf("export.attempts must be positive, got %d", c.Export.Attempts)
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive when the scheduler is enabled")
	}
	return nil
}

// HasCredentials reports whether a credential pair is configured.
func (c *Config) HasCredentials() bool {
	return c.Portal.Username != "" && c.Portal.Password != ""
}
