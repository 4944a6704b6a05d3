package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/EricBell/profile-gpt/internal/domain"
	"github.com/EricBell/profile-gpt/internal/logger"
	"github.com/EricBell/profile-gpt/internal/notify"
	"github.com/EricBell/profile-gpt/internal/reset"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PromptApprove = "Approve"
	PromptDeny    = "Deny"
	PromptSkip    = "Skip"
	PromptBack    = "back"
)

// The operator running the CLI has direct access to the store.
var operator = reset.Caller{Admin: true}

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Manage session reset requests",
}

var requestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reset requests",
	Run: func(cmd *cobra.Command, _ []string) {
		withManager(func(ctx context.Context, mgr *reset.Manager, logger *zap.Logger) error {
			status, ok := domain.ParseRequestStatus(cmd.Flag("status").Value.String())
			if !ok {
				return fmt.Errorf("invalid status %q", cmd.Flag("status").Value.String())
			}
			requests, err := mgr.List(ctx, status)
			if err != nil {
				return err
			}
			return printJSON(requests)
		})
	},
}

var requestsApproveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Approve a reset request and reset its session",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		withManager(func(ctx context.Context, mgr *reset.Manager, logger *zap.Logger) error {
			sess, err := mgr.Approve(ctx, operator, args[0])
			if err != nil {
				return err
			}
			logger.Info("approved", zap.String("session_id", sess.ID))
			return nil
		})
	},
}

var requestsDenyCmd = &cobra.Command{
	Use:   "deny <request-id>",
	Short: "Deny a reset request",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		withManager(func(ctx context.Context, mgr *reset.Manager, logger *zap.Logger) error {
			req, err := mgr.Deny(ctx, operator, args[0])
			if err != nil {
				return err
			}
			logger.Info("denied", zap.String("session_id", req.SessionID))
			return nil
		})
	},
}

var requestsResetSessionCmd = &cobra.Command{
	Use:   "reset-session <request-id>",
	Short: "Reset the session of an approved request whose reset did not complete",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		withManager(func(ctx context.Context, mgr *reset.Manager, logger *zap.Logger) error {
			sess, err := mgr.ResetApproved(ctx, operator, args[0])
			if err != nil {
				return err
			}
			logger.Info("session reset", zap.String("session_id", sess.ID))
			return nil
		})
	},
}

var requestsReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Walk pending reset requests interactively",
	Run: func(_ *cobra.Command, _ []string) {
		withManager(review)
	},
}

func init() {
	rootCmd.AddCommand(requestsCmd)
	requestsCmd.AddCommand(requestsListCmd, requestsApproveCmd, requestsDenyCmd, requestsResetSessionCmd, requestsReviewCmd)

	requestsListCmd.Flags().StringP("status", "s", "pending", "pending, approved, denied or all")
}

// withManager opens the configured store and runs fn against a reset manager
// that does not notify.
func withManager(fn func(ctx context.Context, mgr *reset.Manager, logger *zap.Logger) error) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	if strings.EqualFold(config.Store.Driver, "memory") {
		logger.Fatal("the memory store is private to the server process", zap.String("hint", "use the admin endpoints instead"))
	}

	st, err := openStore(ctx, config.Store, logger)
	if err != nil {
		logger.Fatal("opening the store", zap.Error(err))
	}
	defer st.Close()

	mgr := reset.NewManager(st, st, notify.Nop{}, "", logger)
	if err := fn(ctx, mgr, logger); err != nil {
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, errExit) {
			return
		}
		st.Close()
		logger.Fatal("exiting", zap.Error(err))
	}
}

var errExit = errors.New("exit requested")

func review(ctx context.Context, mgr *reset.Manager, logger *zap.Logger) error {
	for {
		pending, err := mgr.ListPending(ctx)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			logger.Info("exiting", zap.String("reason", "no pending reset requests"))
			return nil
		}

		items := make([]string, 0, len(pending)+1)
		for _, req := range pending {
			items = append(items, fmt.Sprintf("%s %s / session %s / %s",
				req.ID, req.Email, req.SessionID, req.UpdatedAt.Format("2006-01-02 15:04"),
			))
		}

		requestPrompt := promptui.Select{
			Label: "Choose a reset request and press ENTER",
			Items: append(items, PromptBack),
		}

		_, selected, err := requestPrompt.Run()
		if err != nil {
			return err
		}
		if selected == PromptBack {
			return errExit
		}

		if err := decide(ctx, mgr, logger, strings.Split(selected, " ")[0]); err != nil {
			return err
		}
	}
}

func decide(ctx context.Context, mgr *reset.Manager, logger *zap.Logger, id string) error {
	actionPrompt := promptui.Select{
		Label: "Reset request " + id,
		Items: []string{PromptApprove, PromptDeny, PromptSkip},
	}

	_, action, err := actionPrompt.Run()
	if err != nil {
		return err
	}

	switch action {
	case PromptApprove:
		sess, err := mgr.Approve(ctx, operator, id)
		if err != nil {
			return err
		}
		logger.Info("approved", zap.String("reset_request_id", id), zap.String("session_id", sess.ID))
	case PromptDeny:
		if _, err := mgr.Deny(ctx, operator, id); err != nil {
			return err
		}
		logger.Info("denied", zap.String("reset_request_id", id))
	case PromptSkip:
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
