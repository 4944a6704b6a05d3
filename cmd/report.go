package cmd

import (
	"log"
	"time"

	"github.com/EricBell/profile-gpt/internal/logger"
	"github.com/EricBell/profile-gpt/internal/ndjson"
	"github.com/EricBell/profile-gpt/internal/querylog"
	"github.com/EricBell/profile-gpt/internal/usage"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Print query log statistics: filter rate, categories and tokens saved",
	Run: func(cmd *cobra.Command, _ []string) {
		logger := reportLogger()
		from, to := reportRange(cmd, logger)

		entries, skipped, err := querylog.Load(viper.GetString("log-dir"), from, to)
		if err != nil {
			logger.Fatal("loading the query log", zap.Error(err))
		}
		if skipped > 0 {
			logger.Warn("skipped malformed lines", zap.Int("count", skipped))
		}

		recent, _ := cmd.Flags().GetInt("recent")
		report := struct {
			querylog.Stats
			RecentFiltered []querylog.Entry `json:"recent_filtered"`
		}{querylog.Analyze(entries), querylog.RecentFiltered(entries, recent)}

		if err := printJSON(report); err != nil {
			logger.Fatal("printing the report", zap.Error(err))
		}
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Print model call totals and estimated cost",
	Run: func(cmd *cobra.Command, _ []string) {
		logger := reportLogger()
		from, to := reportRange(cmd, logger)

		sessionID, _ := cmd.Flags().GetString("session")
		top, _ := cmd.Flags().GetInt("top")

		events, skipped, err := usage.Load(viper.GetString("log-dir"), usage.Filter{From: from, To: to, SessionID: sessionID})
		if err != nil {
			logger.Fatal("loading usage events", zap.Error(err))
		}

		summary := usage.Summarize(events, top)
		summary.SkippedLines = skipped
		if err := printJSON(summary); err != nil {
			logger.Fatal("printing the report", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd, usageCmd)

	for _, c := range []*cobra.Command{analyzeCmd, usageCmd} {
		c.Flags().String("from", "", "first day, YYMMDD, YYYY-MM-DD, today or yesterday")
		c.Flags().String("to", "", "last day, same formats as --from")
	}
	analyzeCmd.Flags().Int("recent", 10, "number of recent filtered queries to include")
	usageCmd.Flags().String("session", "", "only count this session")
	usageCmd.Flags().Int("top", 10, "number of most expensive sessions to list")
}

func reportLogger() *zap.Logger {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	return logger
}

func reportRange(cmd *cobra.Command, logger *zap.Logger) (time.Time, time.Time) {
	now := time.Now()
	var days [2]time.Time
	for i, name := range []string{"from", "to"} {
		value, _ := cmd.Flags().GetString(name)
		if value == "" {
			continue
		}
		day, err := ndjson.ParseDay(value, now)
		if err != nil {
			logger.Fatal("parsing a date", zap.String("flag", name), zap.Error(err))
		}
		days[i] = day
	}
	return days[0], days[1]
}
