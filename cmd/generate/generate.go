// Package generate implements the generate command for producing a changelog draft.
package generate

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alan/changelog-gen/cmd"
	"github.com/alan/changelog-gen/internal/changelog"
	"github.com/alan/changelog-gen/internal/commands"
	"github.com/alan/changelog-gen/internal/orchestrator"
	"github.com/spf13/cobra"
)

// NewGenerateCmd creates and returns the generate command
func NewGenerateCmd(globalConfigFile *string, loadConfig func(string) (*cmd.Config, error), saveConfig func(string, *cmd.Config) error) *cobra.Command {
	var (
		since       string
		daysBack    int
		output      string
		format      string
		tokenBudget int
		quiet       bool
	)

	cobraCmd := &cobra.Command{
		Use:   "generate",
		Short: "Fetch merged pull requests and generate a changelog draft",
		Long: `Generate fetches merged pull requests across the configured branches,
deduplicates and assembles them into changelog entries, and produces a
structured changelog draft using the configured model.

Results are cached locally, so repeated runs over the same window are fast
and do not re-fetch from the GitHub API.`,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runGenerate(globalConfigFile, since, daysBack, output, format, tokenBudget, quiet, loadConfig, saveConfig)
		},
	}

	cobraCmd.Flags().StringVar(&since, "since", "", "Start of the aggregation window (YYYY-MM-DD, overrides --days)")
	cobraCmd.Flags().IntVarP(&daysBack, "days", "d", 0, "Lookback window in days (default: from config)")
	cobraCmd.Flags().StringVarP(&output, "output", "o", "", "Write the draft to a file instead of stdout")
	cobraCmd.Flags().StringVar(&format, "format", "markdown", "Output format: markdown, html or json")
	cobraCmd.Flags().IntVar(&tokenBudget, "budget", 0, "Prompt token budget (default: from config)")
	cobraCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress and run summary output")

	return cobraCmd
}

func runGenerate(configFile *string, since string, daysBack int, output, format string, tokenBudget int, quiet bool, loadConfig func(string) (*cmd.Config, error), saveConfig func(string, *cmd.Config) error) error {
	outputFormat, err := changelog.ParseFormat(format)
	if err != nil {
		return err
	}

	base := &commands.BaseCommand{
		ConfigFile: configFile,
		LoadConfig: loadConfig,
		SaveConfig: saveConfig,
	}
	if !quiet {
		base.WithProgress(commands.DisplayPhaseProgress)
	}
	if err := base.Init(); err != nil {
		return err
	}
	defer base.Close()

	request, err := buildRequest(base.Config, since, daysBack, tokenBudget)
	if err != nil {
		return err
	}

	slog.Info("Starting changelog generation",
		"repository", fmt.Sprintf("%s/%s", request.Org, request.Repo),
		"branches", request.Branches,
		"since", request.Since.Format("2006-01-02"))

	draft, meta, err := base.Orchestrator.Run(base.Context, request)
	if err != nil {
		return fmt.Errorf("changelog generation failed: %w", err)
	}

	rendered, err := draft.Render(outputFormat)
	if err != nil {
		return fmt.Errorf("failed to render draft: %w", err)
	}

	if output != "" {
		if err := os.WriteFile(output, []byte(rendered), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Printf("Changelog written to %s\n", output)
	} else {
		fmt.Println(rendered)
	}

	if !quiet {
		commands.DisplayRunSummary(meta)
	}
	return nil
}

// buildRequest constructs the run request from config and flag overrides
func buildRequest(config *cmd.Config, since string, daysBack, tokenBudget int) (orchestrator.Request, error) {
	request := orchestrator.Request{
		Org:              config.Org,
		Repo:             config.Repo,
		Branches:         config.Branches,
		TokenBudget:      config.LLM.TokenBudget,
		TwoStepThreshold: config.LLM.TwoStepThreshold,
		WarnFraction:     config.LLM.TruncationWarnFrac,
	}
	if tokenBudget > 0 {
		request.TokenBudget = tokenBudget
	}

	days := config.DaysBack
	if daysBack > 0 {
		days = daysBack
	}

	now := time.Now().UTC()
	request.Until = now
	if since != "" {
		start, err := time.Parse("2006-01-02", since)
		if err != nil {
			return orchestrator.Request{}, fmt.Errorf("invalid --since date %q: expected YYYY-MM-DD", since)
		}
		if !start.Before(now) {
			return orchestrator.Request{}, fmt.Errorf("--since date %q is not in the past", since)
		}
		request.Since = start
	} else {
		request.Since = now.AddDate(0, 0, -days)
	}

	return request, nil
}
