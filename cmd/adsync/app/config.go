package app

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/adsync/internal/cmd/application"
	"github.com/agentstation/adsync/pkg/constants"
	"github.com/agentstation/adsync/pkg/directory/ldap"
	"github.com/agentstation/adsync/pkg/errors"
)

// Config holds the application configuration loaded from config files,
// environment variables and .env files.
type Config struct {
	// Global flags
	Verbose  bool
	Quiet    bool
	NoColor  bool
	Format   string
	LogLevel string

	// Config file
	ConfigFile string

	// Directory connection
	Domain       string
	URL          string
	BaseDN       string
	BindDN       string
	BindPassword string
	StartTLS     bool
	Insecure     bool
	DialTimeout  time.Duration

	// Directory limits
	OpTimeout time.Duration
	Rate      float64
	Burst     int
	Retries   int

	// Fixture replaces the directory with a YAML file.
	Fixture string

	// JournalPath is the run journal. Empty disables it.
	JournalPath string

	// Logging configuration
	LogFormat string
	LogOutput string
}

// LoadConfig loads configuration from all sources in order of precedence:
// 1. Command-line flags (applied later by cobra)
// 2. ADSYNC_* environment variables
// 3. .env files
// 4. Config file (--config, ADSYNC_CONFIG, ./.adsync.yaml or ~/.adsync.yaml)
// 5. Defaults
func LoadConfig() (*Config, error) {
	return LoadConfigFile("")
}

// LoadConfigFile is LoadConfig with an explicit config file.
func LoadConfigFile(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigType("yaml")
		v.SetConfigName("." + constants.AppName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return nil, errors.NewConfigError("config", "cannot read config file", err)
		}
	}

	config := &Config{
		Verbose:  v.GetBool("verbose"),
		Quiet:    v.GetBool("quiet"),
		NoColor:  v.GetBool("no-color"),
		Format:   v.GetString("format"),
		LogLevel: v.GetString("log-level"),

		ConfigFile: v.ConfigFileUsed(),

		Domain:       v.GetString("domain"),
		URL:          v.GetString("url"),
		BaseDN:       v.GetString("base-dn"),
		BindDN:       v.GetString("bind-dn"),
		BindPassword: v.GetString("bind-password"),
		StartTLS:     v.GetBool("start-tls"),
		Insecure:     v.GetBool("insecure"),
		DialTimeout:  v.GetDuration("dial-timeout"),

		OpTimeout: v.GetDuration("op-timeout"),
		Rate:      v.GetFloat64("rate"),
		Burst:     v.GetInt("burst"),
		Retries:   v.GetInt("retries"),

		Fixture:     v.GetString("directory-file"),
		JournalPath: v.GetString("journal"),

		LogFormat: getEnvOrDefault("LOG_FORMAT", "auto"),
		LogOutput: getEnvOrDefault("LOG_OUTPUT", "stderr"),
	}
	if config.LogLevel == "" {
		config.LogLevel = os.Getenv("LOG_LEVEL")
	}

	// Fall back to the domain of the logged-on user, as Windows exposes it.
	if config.Domain == "" {
		config.Domain = os.Getenv("USERDNSDOMAIN")
	}

	return config, nil
}

// setDefaults registers the built-in defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("dial-timeout", constants.DialTimeout)
	v.SetDefault("op-timeout", constants.DirectoryOpTimeout)
	v.SetDefault("rate", float64(constants.DefaultRateLimit))
	v.SetDefault("burst", constants.BurstSize)
	v.SetDefault("retries", constants.MaxRetries)
	v.SetDefault("journal", defaultJournalPath())
}

// defaultJournalPath is ~/.adsync/journal.db, or empty without a home.
func defaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "."+constants.AppName, constants.JournalFile)
}

// UpdateFromFlags updates config values from parsed command flags.
// This should be called after cobra parses flags so that flag values take
// precedence over the config file and the environment.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// Settings returns the directory and journal settings for commands.
func (c *Config) Settings() application.Settings {
	return application.Settings{
		LDAP: ldap.Config{
			URL:                c.URL,
			Domain:             c.Domain,
			BaseDN:             c.BaseDN,
			BindDN:             c.BindDN,
			BindPassword:       c.BindPassword,
			StartTLS:           c.StartTLS,
			InsecureSkipVerify: c.Insecure,
			DialTimeout:        c.DialTimeout,
		},
		Fixture:     c.Fixture,
		JournalPath: c.JournalPath,
		OpTimeout:   c.OpTimeout,
		Rate:        c.Rate,
		Burst:       c.Burst,
		Retries:     c.Retries,
	}
}

// loadEnvFiles loads environment variables from .env files. Variables
// already set are kept, so .env.local is read first to override .env.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
