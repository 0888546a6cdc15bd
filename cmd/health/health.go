// Package health implements the health command for checking pipeline dependencies.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alan/changelog-gen/cmd"
	"github.com/alan/changelog-gen/internal/commands"
	"github.com/alan/changelog-gen/internal/github"
	"github.com/alan/changelog-gen/internal/health"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewHealthCmd creates and returns the health command
func NewHealthCmd(globalConfigFile *string, loadConfig func(string) (*cmd.Config, error), saveConfig func(string, *cmd.Config) error) *cobra.Command {
	var asJSON bool

	cobraCmd := &cobra.Command{
		Use:   "health",
		Short: "Check cache, GitHub and model connectivity",
		Long: `Health probes every external dependency of the changelog pipeline:
the local cache store, the GitHub API, and the configured model key.

Exits non-zero when any dependency is unhealthy.`,
		SilenceUsage: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			return runHealth(cobraCmd.Context(), globalConfigFile, asJSON, loadConfig, saveConfig)
		},
	}

	cobraCmd.Flags().BoolVar(&asJSON, "json", false, "Emit the report as JSON")
	return cobraCmd
}

func runHealth(ctx context.Context, configFile *string, asJSON bool, loadConfig func(string) (*cmd.Config, error), saveConfig func(string, *cmd.Config) error) error {
	base := &commands.BaseCommand{
		ConfigFile: configFile,
		LoadConfig: loadConfig,
		SaveConfig: saveConfig,
	}
	if err := base.InitCache(); err != nil {
		return err
	}
	defer base.Close()

	var githubProbe func(ctx context.Context) error
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		client := github.NewClient(ctx, token, base.Config.Org, base.Config.Repo, base.Config.Fetch.PerPage)
		githubProbe = client.CheckConnectivity
	}

	checker := health.NewChecker(base.Cache, githubProbe, os.Getenv("OPENAI_API_KEY") != "")

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	report := checker.Run(probeCtx)

	if asJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		displayReport(report)
	}

	if report.Overall == health.StatusUnhealthy {
		return fmt.Errorf("one or more dependencies are unhealthy")
	}
	return nil
}

// displayReport prints a colored per-check summary
func displayReport(report health.Report) {
	fmt.Printf("Overall: %s\n", colorStatus(report.Overall))
	for _, check := range report.Checks {
		line := fmt.Sprintf("  %-8s %s", check.Name, colorStatus(check.Status))
		if check.Message != "" {
			line += " (" + check.Message + ")"
		}
		fmt.Println(line)
	}
}

func colorStatus(status health.Status) string {
	switch status {
	case health.StatusHealthy:
		return color.GreenString(string(status))
	case health.StatusDegraded:
		return color.YellowString(string(status))
	default:
		return color.RedString(string(status))
	}
}
