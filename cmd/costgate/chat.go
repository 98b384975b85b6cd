package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/costgate/pkg/cli"
	"mercator-hq/costgate/pkg/config"
	"mercator-hq/costgate/pkg/gateway"
	"mercator-hq/costgate/pkg/ledger"
	"mercator-hq/costgate/pkg/providers"
)

// charsPerToken approximates prompt size when no estimate is given.
const charsPerToken = 4

var chatFlags struct {
	lane           string
	provider       string
	user           string
	system         string
	model          string
	temperature    float64
	estimateInput  int64
	estimateOutput int64
	noFallback     bool
	format         string
}

var chatCmd = &cobra.Command{
	Use:   "chat [flags] MESSAGE...",
	Short: "Make one governed provider call",
	Long: `Admit, execute and settle a single chat completion against the ledger.

The estimate is reserved while the call is in flight and replaced by the
usage the provider reports. A denied or failing call degrades to the local
provider unless --no-fallback is given. A denial without a usable fallback
exits with status 2.

Examples:
  # Ask the stable lane's OpenAI provider
  costgate chat --lane stable --provider openai "Summarize the release notes"

  # Charge a user's bucket and print the settlement as JSON
  costgate chat --provider openai --user alice --format json "Hello"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&chatFlags.lane, "lane", "stable", "lane to charge")
	chatCmd.Flags().StringVar(&chatFlags.provider, "provider", "", "provider to call (required)")
	chatCmd.Flags().StringVar(&chatFlags.user, "user", "", "user to charge; empty charges the global bucket")
	chatCmd.Flags().StringVar(&chatFlags.system, "system", "", "system prompt")
	chatCmd.Flags().StringVar(&chatFlags.model, "model", "", "override the provider's model")
	chatCmd.Flags().Float64Var(&chatFlags.temperature, "temperature", 0.2, "sampling temperature")
	chatCmd.Flags().Int64Var(&chatFlags.estimateInput, "estimate-input", 0, "estimated input units (default: derived from prompt length)")
	chatCmd.Flags().Int64Var(&chatFlags.estimateOutput, "estimate-output", 256, "estimated output units")
	chatCmd.Flags().BoolVar(&chatFlags.noFallback, "no-fallback", false, "fail instead of degrading to the local provider")
	chatCmd.Flags().StringVarP(&chatFlags.format, "format", "o", "text", "output format: text, json")
	_ = chatCmd.MarkFlagRequired("provider")
}

// chatOutput is the JSON form of a settled call.
type chatOutput struct {
	Content       string  `json:"content"`
	Lane          string  `json:"lane"`
	Provider      string  `json:"provider"`
	UserID        string  `json:"user_id,omitempty"`
	Model         string  `json:"model"`
	Degraded      bool    `json:"degraded"`
	ReservationID string  `json:"reservation_id"`
	InputUnits    int64   `json:"input_units"`
	OutputUnits   int64   `json:"output_units"`
	Cost          float64 `json:"cost"`
}

func runChat(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(chatFlags.format)
	if err != nil {
		return err
	}
	if format == cli.FormatCSV {
		return fmt.Errorf("csv output is not supported for chat")
	}

	key := ledger.UserKey(chatFlags.user, chatFlags.lane, chatFlags.provider)
	if err := key.Validate(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if _, err := syncGitLimits(ctx, cfg); err != nil {
		return cli.NewCommandError("chat", err)
	}

	rt, err := newRuntime(ctx, cfg, nil)
	if err != nil {
		return cli.NewCommandError("chat", err)
	}
	defer rt.Close()

	prompt := strings.Join(args, " ")
	var messages []providers.Message
	if chatFlags.system != "" {
		messages = append(messages, providers.Message{Role: "system", Content: chatFlags.system})
	}
	messages = append(messages, providers.Message{Role: "user", Content: prompt})

	spec := gateway.CallSpec{
		Key:         key,
		Estimate:    estimateUsage(cfg, key.Provider, messages),
		Messages:    messages,
		Temperature: chatFlags.temperature,
		Model:       chatFlags.model,
	}

	call := rt.gateway.CallWithFallback
	if chatFlags.noFallback {
		call = rt.gateway.Call
	}
	res, err := call(ctx, spec)
	if err != nil {
		return cli.NewCommandError("chat", err)
	}

	if res.Degraded {
		fmt.Fprintf(cmd.ErrOrStderr(), "note: served by fallback provider %q\n", res.Key.Provider)
	}

	if format == cli.FormatText {
		fmt.Fprintln(cmd.OutOrStdout(), res.Response.Content)
		return nil
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), chatOutput{
		Content:       res.Response.Content,
		Lane:          res.Key.Lane,
		Provider:      res.Key.Provider,
		UserID:        res.Key.UserID,
		Model:         res.Response.Model,
		Degraded:      res.Degraded,
		ReservationID: res.ReservationID,
		InputUnits:    res.Actual.InputUnits,
		OutputUnits:   res.Actual.OutputUnits,
		Cost:          res.Actual.Cost,
	})
}

// estimateUsage builds the reservation for a call, pricing it with the
// provider's configured rates.
func estimateUsage(cfg *config.Config, provider string, messages []providers.Message) ledger.Usage {
	input := chatFlags.estimateInput
	if input <= 0 {
		chars := 0
		for _, m := range messages {
			chars += len(m.Content)
		}
		input = int64((chars + charsPerToken - 1) / charsPerToken)
	}
	output := max(chatFlags.estimateOutput, 0)

	pricing := cfg.Providers[provider].Pricing
	cost := providers.Pricing{
		InputPer1K:  pricing.InputPer1K,
		OutputPer1K: pricing.OutputPer1K,
	}.Cost(providers.TokenUsage{PromptTokens: input, CompletionTokens: output})

	return ledger.Usage{InputUnits: input, OutputUnits: output, Cost: cost}
}
