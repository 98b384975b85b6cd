/*
Package cli provides helpers shared by the costgate subcommands.

Output Formatting:

Ledger buckets are flattened with BucketRows and rendered as a table, JSON
or CSV:

	format, err := cli.ParseFormat(flagValue)
	if err != nil {
		return err
	}
	rows := cli.BucketRows(l.Document())
	if err := cli.NewFormatter(format).FormatTo(os.Stdout, rows); err != nil {
		return err
	}

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

Exit Codes:

ExitCode maps a command error to the process exit status. A refused
admission exits with ExitDenied so scripts can tell it apart from failures.
*/
package cli
