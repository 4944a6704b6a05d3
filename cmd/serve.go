package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/EricBell/profile-gpt/internal/ai/gemini"
	"github.com/EricBell/profile-gpt/internal/config"
	"github.com/EricBell/profile-gpt/internal/httpapi"
	"github.com/EricBell/profile-gpt/internal/identity"
	"github.com/EricBell/profile-gpt/internal/intent"
	"github.com/EricBell/profile-gpt/internal/jobfit"
	"github.com/EricBell/profile-gpt/internal/logger"
	"github.com/EricBell/profile-gpt/internal/notify"
	"github.com/EricBell/profile-gpt/internal/querylog"
	"github.com/EricBell/profile-gpt/internal/reset"
	"github.com/EricBell/profile-gpt/internal/secrets"
	"github.com/EricBell/profile-gpt/internal/session"
	"github.com/EricBell/profile-gpt/internal/store"
	"github.com/EricBell/profile-gpt/internal/usage"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	sessionSecretMinLength = 32
	adminKeyMinLength      = 16
	shutdownTimeout        = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat, job vetting and admin endpoints",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("mode", modeContainer, "run mode: local relaxes secret checks, container enforces them")
	serveCmd.Flags().IntP("port", "p", 0, "port to listen on")

	viper.BindPFlag("mode", serveCmd.Flags().Lookup("mode"))
	viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

func serve() {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the profile-gpt", zap.String("version", version), zap.String("mode", config.Mode))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(config), "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	local := strings.EqualFold(config.Mode, modeLocal)
	if !local && !strings.EqualFold(config.Mode, modeContainer) {
		logger.Fatal("unknown mode", zap.String("mode", config.Mode), zap.String("hint", "use local or container"))
	}

	sessionSecret, err := resolveSessionSecret(config, local, logger)
	if err != nil {
		logger.Fatal("loading the session secret", zap.Error(err),
			zap.String("hint", "set FLASK_SECRET_KEY or session-secret-file to a random value of at least 32 characters"))
	}

	adminKey, err := resolveAdminKey(config, logger)
	if err != nil {
		logger.Fatal("loading the admin key", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, closeFn, err := buildServer(ctx, config, sessionSecret, adminKey, logger)
	if err != nil {
		logger.Fatal("building the server", zap.Error(err))
	}
	defer func() {
		if err := closeFn(); err != nil {
			logger.Warn("closing the store", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		return
	}

	logger.Info("server stopped")
}

func buildServer(ctx context.Context, cfg *Config, sessionSecret, adminKey string, logger *zap.Logger) (*http.Server, func() error, error) {
	loader, err := config.NewLoader(cfg.PersonaFile, cfg.TunablesFile, logger)
	if err != nil {
		return nil, nil, err
	}
	loader.Watch()

	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, nil, err
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.AI.Provider))
	if provider != "" && provider != "gemini" {
		st.Close()
		return nil, nil, fmt.Errorf("unsupported ai provider: %s", cfg.AI.Provider)
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.AI.Gemini.APIKey,
		File:  cfg.AI.Gemini.APIKeyFile,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	model, err := gemini.NewGenerator(ctx, apiKey, gemini.Options{
		Model:        cfg.AI.Gemini.Model,
		Timeout:      cfg.AI.Gemini.Timeout,
		MaxLogLength: cfg.AI.Gemini.MaxLogLength,
	}, logger)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	tracker, err := usage.NewTracker(cfg.LogDir, cfg.Pricing, logger)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	queries, err := querylog.New(cfg.LogDir, logger)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	notifier, err := buildNotifier(cfg.Notify, logger)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	resets := reset.NewManager(st, st, notifier, reviewURL(cfg.AppURL), logger)

	sessions := session.NewService(session.Deps{
		Sessions:   st,
		Classifier: intent.NewClassifier(model, tracker, cfg.PersonaName, cfg.AI.Gemini.ClassifierModel, logger),
		Model:      model,
		Resets:     resets,
		Usage:      tracker,
		Queries:    queries,
		Logger:     logger,
	}, cfg.PersonaName, "")

	handler := &httpapi.Handler{
		Sessions: sessions,
		Resets:   resets,
		Analyzer: jobfit.NewAnalyzer(model, tracker, logger, cfg.AI.Gemini.MaxLogLength),
		Config:   loader,
		Signer:   identity.NewSigner(sessionSecret, cfg.SecureCookie),
		AdminKey: adminKey,
		LogDir:   cfg.LogDir,
		Version:  version,
		Logger:   logger,
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Model calls can take a while.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return srv, st.Close, nil
}

func openStore(ctx context.Context, cfg *StoreConfig, logger *zap.Logger) (store.Store, error) {
	driver := strings.TrimSpace(strings.ToLower(cfg.Driver))
	logger.Info("opening the store", zap.String("driver", driver))

	switch driver {
	case "memory":
		logger.Warn("sessions and reset requests are kept in memory and lost on restart")
		return store.NewMemory(), nil
	case "", "sqlite":
		return store.NewSQLite(cfg.SQLitePath)
	case "redis":
		if cfg.RedisURL == "" {
			return nil, errors.New("store.redis-url is required for the redis driver")
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}

		requests, err := store.NewSQLite(cfg.SQLitePath)
		if err != nil {
			client.Close()
			return nil, err
		}
		sessions := store.NewRedisSessions(client, cfg.SessionTTL)
		return store.NewComposite(sessions, requests, sessions.Close, requests.Close), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

func buildNotifier(cfg *NotifyConfig, logger *zap.Logger) (notify.Notifier, error) {
	var targets notify.Multi

	if cfg.SMTP != nil && cfg.SMTP.Host != "" {
		password, err := optionalSecret(secrets.Source{
			Name:  "smtp password",
			Value: cfg.SMTP.Password,
			File:  cfg.SMTP.PasswordFile,
		})
		if err != nil {
			return nil, err
		}
		targets = append(targets, &notify.SMTP{
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTP.Port,
			Username:    cfg.SMTP.Username,
			Password:    password,
			From:        cfg.SMTP.From,
			To:          cfg.SMTP.To,
			ImplicitTLS: cfg.SMTP.ImplicitTLS,
		})
		logger.Info("reset requests are mailed", zap.String("to", cfg.SMTP.To))
	}

	if cfg.Slack != nil && (cfg.Slack.Token != "" || cfg.Slack.TokenFile != "") {
		token, err := secrets.Load(secrets.Source{
			Name:  "slack token",
			Value: cfg.Slack.Token,
			File:  cfg.Slack.TokenFile,
		})
		if err != nil {
			return nil, err
		}
		targets = append(targets, &notify.Slack{Token: token, Channel: cfg.Slack.Channel})
		logger.Info("reset requests are posted to slack", zap.String("channel", cfg.Slack.Channel))
	}

	if len(targets) == 0 {
		logger.Warn("no notifier configured, reset requests are only visible in the admin endpoints")
		return notify.Nop{}, nil
	}

	return notify.NewAsync(targets, cfg.Timeout, logger), nil
}

// resolveSessionSecret validates the cookie signing secret. Local mode
// generates a missing secret and only warns about weak ones.
func resolveSessionSecret(cfg *Config, local bool, logger *zap.Logger) (string, error) {
	secret, err := secrets.Load(secrets.Source{
		Name:  "session secret",
		Value: cfg.SessionSecret,
		File:  cfg.SessionSecretFile,
	})
	if err != nil {
		if !local || !errors.Is(err, secrets.ErrMissing) {
			return "", err
		}
		generated, err := randomSecret()
		if err != nil {
			return "", err
		}
		logger.Warn("session secret is not set, generated one for this run; sessions will not survive a restart")
		return generated, nil
	}

	if err := secrets.Strength("session secret", secret, sessionSecretMinLength); err != nil {
		if !local {
			return "", err
		}
		logger.Warn("weak session secret accepted in local mode", zap.Error(err))
	}

	return secret, nil
}

// resolveAdminKey returns an empty key when none is configured, which closes
// the admin endpoints.
func resolveAdminKey(cfg *Config, logger *zap.Logger) (string, error) {
	key, err := optionalSecret(secrets.Source{
		Name:  "admin key",
		Value: cfg.AdminKey,
		File:  cfg.AdminKeyFile,
	})
	if err != nil {
		return "", err
	}
	if key == "" {
		logger.Info("admin key is not set, admin endpoints are disabled")
		return "", nil
	}

	if err := secrets.Strength("admin key", key, adminKeyMinLength); err != nil {
		if errors.Is(err, secrets.ErrWeak) {
			return "", err
		}
		logger.Warn("admin key is shorter than recommended", zap.Error(err))
	}

	return key, nil
}

func optionalSecret(src secrets.Source) (string, error) {
	value, err := secrets.Load(src)
	if errors.Is(err, secrets.ErrMissing) {
		return "", nil
	}
	return value, err
}

func randomSecret() (string, error) {
	buf := make([]byte, sessionSecretMinLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func reviewURL(appURL string) string {
	appURL = strings.TrimRight(strings.TrimSpace(appURL), "/")
	if appURL == "" {
		return ""
	}
	return appURL + "/admin/reset-requests?status=pending"
}

// redacted copies the config with secrets masked for the debug dump.
func redacted(cfg *Config) Config {
	out := *cfg
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}

	out.AdminKey = mask(out.AdminKey)
	out.SessionSecret = mask(out.SessionSecret)
	if cfg.AI != nil && cfg.AI.Gemini != nil {
		gem := *cfg.AI.Gemini
		gem.APIKey = mask(gem.APIKey)
		out.AI = &AIConfig{Provider: cfg.AI.Provider, Gemini: &gem}
	}
	if cfg.Notify != nil {
		n := *cfg.Notify
		if n.SMTP != nil {
			smtp := *n.SMTP
			smtp.Password = mask(smtp.Password)
			n.SMTP = &smtp
		}
		if n.Slack != nil {
			slack := *n.Slack
			slack.Token = mask(slack.Token)
			n.Slack = &slack
		}
		out.Notify = &n
	}
	return out
}
