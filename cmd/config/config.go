// Package config implements the config command for initializing and updating changelog-gen configuration.
package config

import (
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"github.com/alan/changelog-gen/cmd"
	"github.com/spf13/cobra"
)

// NewConfigCmd creates and returns the config command
func NewConfigCmd(globalConfigFile *string, loadConfig func(string) (*cmd.Config, error), saveConfig func(string, *cmd.Config) error) *cobra.Command {
	var (
		org      string
		repo     string
		branches []string
		daysBack int
		model    string
	)

	cobraCmd := &cobra.Command{
		Use:   "config",
		Short: "Initialize a new changelog.yaml configuration file",
		Long: `Config creates or updates a changelog.yaml file with the repository,
branches and generation settings for changelog runs.

When run from a git repository root, the organization and repository are
automatically detected from the git remote origin. Branches default to
'main' if not specified.`,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runConfig(*globalConfigFile, org, repo, branches, daysBack, model, loadConfig, saveConfig)
		},
	}

	cobraCmd.Flags().StringVarP(&org, "org", "o", "", "GitHub organization or username (auto-detected from git if available)")
	cobraCmd.Flags().StringVarP(&repo, "repo", "r", "", "GitHub repository name (auto-detected from git if available)")
	cobraCmd.Flags().StringSliceVarP(&branches, "branches", "b", nil, "Branches to aggregate (default: main)")
	cobraCmd.Flags().IntVarP(&daysBack, "days-back", "d", 0, "Default lookback window in days")
	cobraCmd.Flags().StringVarP(&model, "model", "m", "", "Generation model name")

	return cobraCmd
}

func runConfig(configFile, org, repo string, branches []string, daysBack int, model string, loadConfig func(string) (*cmd.Config, error), saveConfig func(string, *cmd.Config) error) error {
	config, isUpdate := loadOrCreateConfig(configFile, loadConfig)

	if org != "" {
		config.Org = org
	}
	if repo != "" {
		config.Repo = repo
	}
	if len(branches) > 0 {
		config.Branches = branches
	}
	if daysBack > 0 {
		config.DaysBack = daysBack
	}
	if model != "" {
		config.LLM.Model = model
	}

	// Try git detection for still-missing identity
	if config.Org == "" || config.Repo == "" {
		if detectedOrg, detectedRepo, err := detectGitRepo(); err == nil {
			if config.Org == "" {
				config.Org = detectedOrg
				slog.Info("Auto-detected organization", "org", detectedOrg)
			}
			if config.Repo == "" {
				config.Repo = detectedRepo
				slog.Info("Auto-detected repository", "repo", detectedRepo)
			}
		}
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return fmt.Errorf("%w (use --org/--repo flags or run from a git repository)", err)
	}

	if err := saveConfig(configFile, config); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	displayConfigSuccess(configFile, config, isUpdate)
	return nil
}

// displayConfigSuccess shows the configuration success message
func displayConfigSuccess(configFile string, config *cmd.Config, isUpdate bool) {
	action := "initialized"
	if isUpdate {
		action = "updated"
	}
	fmt.Printf("Successfully %s %s with:\n", action, configFile)
	fmt.Printf("  Organization: %s\n", config.Org)
	fmt.Printf("  Repository: %s\n", config.Repo)
	fmt.Printf("  Branches: %s\n", strings.Join(config.Branches, ", "))
	fmt.Printf("  Days back: %d\n", config.DaysBack)
	fmt.Printf("  Model: %s\n", config.LLM.Model)
}

// loadOrCreateConfig loads existing config or creates a new one
func loadOrCreateConfig(configFile string, loadConfig func(string) (*cmd.Config, error)) (*cmd.Config, bool) {
	if config, err := loadConfig(configFile); err == nil {
		return config, true
	}
	return &cmd.Config{}, false
}

// detectGitRepo extracts org and repo from the git remote origin
func detectGitRepo() (string, string, error) {
	gitCmd := exec.Command("git", "remote", "get-url", "origin")
	output, err := gitCmd.Output()
	if err != nil {
		return "", "", fmt.Errorf("not in a git repository: %w", err)
	}

	return parseRemoteURL(strings.TrimSpace(string(output)))
}

// parseRemoteURL extracts org and repo from SSH or HTTPS GitHub URLs
func parseRemoteURL(remoteURL string) (string, string, error) {
	sshRegex := regexp.MustCompile(`git@github\.com:([^/]+)/([^/]+?)(?:\.git)?$`)
	if matches := sshRegex.FindStringSubmatch(remoteURL); len(matches) == 3 {
		return matches[1], matches[2], nil
	}

	httpsRegex := regexp.MustCompile(`https://github\.com/([^/]+)/([^/]+?)(?:\.git)?/?$`)
	if matches := httpsRegex.FindStringSubmatch(remoteURL); len(matches) == 3 {
		return matches[1], matches[2], nil
	}

	return "", "", fmt.Errorf("unable to parse GitHub remote URL: %s", remoteURL)
}
