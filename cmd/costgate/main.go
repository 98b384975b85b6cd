// Costgate is a cost-governed gateway for LLM provider calls.
//
// It keeps a persistent usage ledger per lane, provider and user, admits
// calls against configured caps, and executes admitted calls with
// budget-bounded retries:
//   - Daily, monthly and cost caps per lane and provider
//   - Reserve/commit accounting for in-flight calls
//   - Operator hard stops with fallback to the local provider
//   - Retry-After aware backoff under a per-call wall-clock budget
//
// Usage:
//
//	# Run the ledger, rollover scheduler and admin API
//	costgate serve --config costgate.yaml
//
//	# Print ledger buckets
//	costgate status
//
//	# Block a bucket until cleared
//	costgate hardstop set --lane stable --provider openai
//
//	# Make one governed call
//	costgate chat --lane stable --provider openai "Summarize this ticket"
//
//	# Check a configuration file
//	costgate validate --config costgate.yaml
package main

import (
	"os"

	_ "time/tzdata"

	"mercator-hq/costgate/pkg/cli"
)

func main() {
	os.Exit(cli.ExitCode(Execute()))
}
