package cmd

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/EricBell/profile-gpt/internal/usage"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "profile-gpt"

	envPrefix = "PROFILE_GPT"

	modeLocal     = "local"
	modeContainer = "container"
)

type Config struct {
	Port   int    `mapstructure:"port"`
	Mode   string `mapstructure:"mode"`
	AppURL string `mapstructure:"app-url"`

	PersonaName  string `mapstructure:"persona-name"`
	PersonaFile  string `mapstructure:"persona-file"`
	TunablesFile string `mapstructure:"tunables-file"`
	LogDir       string `mapstructure:"log-dir"`

	AdminKey          string `mapstructure:"admin-key"`
	AdminKeyFile      string `mapstructure:"admin-key-file"`
	SessionSecret     string `mapstructure:"session-secret"`
	SessionSecretFile string `mapstructure:"session-secret-file"`
	SecureCookie      bool   `mapstructure:"secure-cookie"`

	Store   *StoreConfig           `mapstructure:"store"`
	AI      *AIConfig              `mapstructure:"ai"`
	Notify  *NotifyConfig          `mapstructure:"notify"`
	Pricing map[string]usage.Price `mapstructure:"pricing"`
}

type StoreConfig struct {
	// Driver is memory, sqlite or redis. Redis keeps sessions only; reset
	// requests stay in sqlite.
	Driver     string        `mapstructure:"driver"`
	SQLitePath string        `mapstructure:"sqlite-path"`
	RedisURL   string        `mapstructure:"redis-url"`
	SessionTTL time.Duration `mapstructure:"session-ttl"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey          string        `mapstructure:"api-key"`
	APIKeyFile      string        `mapstructure:"api-key-file"`
	Model           string        `mapstructure:"model"`
	ClassifierModel string        `mapstructure:"classifier-model"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxLogLength    int           `mapstructure:"max-log-length"`
}

type NotifyConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	SMTP    *SMTPConfig   `mapstructure:"smtp"`
	Slack   *SlackConfig  `mapstructure:"slack"`
}

type SMTPConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	PasswordFile string `mapstructure:"password-file"`
	From         string `mapstructure:"from"`
	To           string `mapstructure:"to"`
	ImplicitTLS  bool   `mapstructure:"implicit-tls"`
}

type SlackConfig struct {
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token-file"`
	Channel   string `mapstructure:"channel"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "profile-gpt answers recruiter questions about a professional profile",
	}
)

var defaults = map[string]any{
	"port":                     5000,
	"mode":                     modeContainer,
	"persona-name":             "Eric",
	"persona-file":             "./persona.txt",
	"tunables-file":            "./config.json",
	"log-dir":                  "./logs",
	"store.driver":             "sqlite",
	"store.sqlite-path":        "./profile-gpt.db",
	"store.session-ttl":        24 * time.Hour,
	"ai.provider":              "gemini",
	"ai.gemini.model":          "gemini-2.5-flash",
	"ai.gemini.timeout":        30 * time.Second,
	"ai.gemini.max-log-length": 500,
	"notify.timeout":           15 * time.Second,
	"notify.smtp.port":         587,
}

// legacyEnv keeps the variable names older deployments were configured with.
var legacyEnv = map[string][]string{
	"port":                   {"PORT"},
	"app-url":                {"APP_URL"},
	"persona-name":           {"PERSONA_NAME"},
	"persona-file":           {"PERSONA_FILE_PATH"},
	"tunables-file":          {"CONFIG_FILE_PATH"},
	"log-dir":                {"QUERY_LOG_PATH"},
	"admin-key":              {"ADMIN_RESET_KEY"},
	"session-secret":         {"FLASK_SECRET_KEY", "SESSION_SECRET"},
	"store.redis-url":        {"REDIS_URL"},
	"ai.gemini.api-key":      {"GEMINI_API_KEY"},
	"ai.gemini.api-key-file": {"GEMINI_API_KEY_FILE"},
	"notify.smtp.host":       {"SMTP_HOST"},
	"notify.smtp.port":       {"SMTP_PORT"},
	"notify.smtp.username":   {"SMTP_USERNAME", "SMTP_USER"},
	"notify.smtp.password":   {"SMTP_PASSWORD"},
	"notify.smtp.from":       {"SMTP_FROM", "SMTP_USERNAME"},
	"notify.smtp.to":         {"ADMIN_EMAIL"},
	"notify.slack.token":     {"SLACK_BOT_TOKEN"},
	"notify.slack.channel":   {"SLACK_CHANNEL"},
}

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	for key, value := range defaults {
		viper.SetDefault(key, value)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	for key, names := range legacyEnv {
		if err := viper.BindEnv(append([]string{key}, names...)...); err != nil {
			log.Fatalf("binding %v environment variables: %v", names, err)
		}
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is profile-gpt.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// The config file is optional, everything can come from the environment.
	// An explicit file that fails to parse is fatal.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	if config.Store == nil {
		config.Store = &StoreConfig{}
	}
	if config.AI == nil {
		config.AI = &AIConfig{}
	}
	if config.AI.Gemini == nil {
		config.AI.Gemini = &GeminiConfig{}
	}
	if config.Notify == nil {
		config.Notify = &NotifyConfig{}
	}

	return config, nil
}
