package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/costgate/pkg/cli"
	"mercator-hq/costgate/pkg/config"
	"mercator-hq/costgate/pkg/ledger/storage"
)

var statusFlags struct {
	addr   string
	format string
	user   string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print ledger buckets",
	Long: `Print every ledger bucket with its daily, monthly and reserved units,
lifetime cost and hard-stop flag.

Without --addr the ledger is read directly from the configured storage.
With --addr it is fetched from a running "costgate serve".

Examples:
  # Read the local ledger file
  costgate status

  # Ask a running server, as JSON
  costgate status --addr 127.0.0.1:9090 --format json

  # Only one user's buckets
  costgate status --user alice`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusFlags.addr, "addr", "", "admin API address of a running server")
	statusCmd.Flags().StringVarP(&statusFlags.format, "format", "o", "text", "output format: text, json, csv")
	statusCmd.Flags().StringVar(&statusFlags.user, "user", "", "only show buckets for this user")
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(statusFlags.format)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	doc, err := readDocument(cmd.Context(), cfg, statusFlags.addr)
	if err != nil {
		return cli.NewCommandError("status", err)
	}

	rows := cli.BucketRows(doc)
	if statusFlags.user != "" {
		filtered := rows[:0]
		for _, r := range rows {
			if r.User == statusFlags.user {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}

	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), rows)
}

// readDocument loads the ledger document from a server or from storage.
func readDocument(ctx context.Context, cfg *config.Config, addr string) (*storage.Document, error) {
	if addr != "" {
		client := newAdminClient(addr, cfg)
		defer client.Close()
		return client.Document(ctx)
	}

	if cfg.Ledger.Storage.Backend == storage.BackendMemory {
		return nil, fmt.Errorf("ledger storage is in-memory; use --addr to query a running server")
	}

	backend, err := storage.Open(cfg.Ledger.Storage.ToStorage())
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger storage: %w", err)
	}
	defer backend.Close()

	return backend.Load(ctx)
}
