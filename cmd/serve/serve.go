// Package serve implements the serve command that exposes changelog
// generation over HTTP for the automation layer.
package serve

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/alan/changelog-gen/cmd"
	"github.com/alan/changelog-gen/internal/commands"
	"github.com/alan/changelog-gen/internal/health"
	"github.com/alan/changelog-gen/internal/web"
	"github.com/spf13/cobra"
)

// NewServeCmd creates and returns the serve command
func NewServeCmd(globalConfigFile *string, loadConfig func(string) (*cmd.Config, error), saveConfig func(string, *cmd.Config) error) *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cobraCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the changelog HTTP server",
		Long: `Serve starts an HTTP server with two endpoints:

  GET  /health         dependency health report
  POST /api/changelog  generate a changelog for the configured repository

Request fields not given in the POST body fall back to the configuration
file, so an empty body generates for the configured repository over the
configured window.`,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(globalConfigFile, addr, timeout, loadConfig, saveConfig)
		},
	}

	cobraCmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "Listen address")
	cobraCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Per-request generation timeout")

	return cobraCmd
}

func runServe(configFile *string, addr string, timeout time.Duration, loadConfig func(string) (*cmd.Config, error), saveConfig func(string, *cmd.Config) error) error {
	base := &commands.BaseCommand{
		ConfigFile: configFile,
		LoadConfig: loadConfig,
		SaveConfig: saveConfig,
	}
	if err := base.Init(); err != nil {
		return err
	}
	defer base.Close()

	var githubProbe func(ctx context.Context) error
	if base.GitHubClient != nil {
		githubProbe = base.GitHubClient.CheckConnectivity
	}
	checker := health.NewChecker(base.Cache, githubProbe, os.Getenv("OPENAI_API_KEY") != "")

	server := web.NewServer(base.Orchestrator, checker, web.Defaults{
		Org:         base.Config.Org,
		Repo:        base.Config.Repo,
		Branches:    base.Config.Branches,
		DaysBack:    base.Config.DaysBack,
		TokenBudget: base.Config.LLM.TokenBudget,
		Timeout:     timeout,
	})

	slog.Info("Starting changelog server", "addr", addr,
		"repository", base.Config.Org+"/"+base.Config.Repo)
	return server.Run(addr)
}
