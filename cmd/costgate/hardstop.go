package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mercator-hq/costgate/pkg/cli"
	"mercator-hq/costgate/pkg/ledger"
	"mercator-hq/costgate/pkg/ledger/storage"
	"mercator-hq/costgate/pkg/server"
)

var hardStopFlags struct {
	addr     string
	lane     string
	provider string
	user     string
}

var hardStopCmd = &cobra.Command{
	Use:   "hardstop",
	Short: "Set or clear a bucket's hard stop",
	Long: `A hard-stopped bucket denies every call, with the local provider as
fallback, until an operator clears it. Hard stops persist across restarts.

Use --addr while "costgate serve" is running; editing the storage directly
under a live server would be overwritten by its next save.

Examples:
  # Stop the stable lane's OpenAI bucket
  costgate hardstop set --lane stable --provider openai

  # Clear it through a running server
  costgate hardstop clear --lane stable --provider openai --addr 127.0.0.1:9090

  # Stop one user's bucket
  costgate hardstop set --lane stable --provider openai --user alice`,
}

var hardStopSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Block all calls for a bucket",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHardStop(cmd, true)
	},
}

var hardStopClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Allow calls for a bucket again",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHardStop(cmd, false)
	},
}

func init() {
	rootCmd.AddCommand(hardStopCmd)
	hardStopCmd.AddCommand(hardStopSetCmd, hardStopClearCmd)

	hardStopCmd.PersistentFlags().StringVar(&hardStopFlags.addr, "addr", "", "admin API address of a running server")
	hardStopCmd.PersistentFlags().StringVar(&hardStopFlags.lane, "lane", "", "lane name (required)")
	hardStopCmd.PersistentFlags().StringVar(&hardStopFlags.provider, "provider", "", "provider name (required)")
	hardStopCmd.PersistentFlags().StringVar(&hardStopFlags.user, "user", "", "user identifier; empty addresses the global bucket")
	_ = hardStopCmd.MarkPersistentFlagRequired("lane")
	_ = hardStopCmd.MarkPersistentFlagRequired("provider")
}

func runHardStop(cmd *cobra.Command, stopped bool) error {
	key := ledger.UserKey(hardStopFlags.user, hardStopFlags.lane, hardStopFlags.provider)
	if err := key.Validate(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if hardStopFlags.addr != "" {
		client := newAdminClient(hardStopFlags.addr, cfg)
		defer client.Close()

		err := client.SetHardStop(ctx, server.HardStopRequest{
			Lane:     key.Lane,
			Provider: key.Provider,
			UserID:   key.UserID,
			Stopped:  stopped,
		})
		if err != nil {
			return cli.NewCommandError("hardstop", err)
		}
	} else {
		if cfg.Ledger.Storage.Backend == storage.BackendMemory {
			return fmt.Errorf("ledger storage is in-memory; use --addr to reach a running server")
		}

		l, _, err := openLedger(ctx, cfg, nil)
		if err != nil {
			return cli.NewCommandError("hardstop", err)
		}
		setErr := l.SetHardStop(ctx, key, stopped)
		if err := l.Close(); err != nil && setErr == nil {
			setErr = err
		}
		if setErr != nil {
			return cli.NewCommandError("hardstop", setErr)
		}
	}

	slog.Info("hard stop changed", "key", key.String(), "stopped", stopped)
	state := "cleared"
	if stopped {
		state = "set"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Hard stop %s for %s\n", state, key)
	return nil
}
