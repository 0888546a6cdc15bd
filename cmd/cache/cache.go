// Package cache implements the cache command for inspecting and pruning the local cache.
package cache

import (
	"fmt"

	"github.com/alan/changelog-gen/cmd"
	"github.com/alan/changelog-gen/internal/cache"
	"github.com/alan/changelog-gen/internal/commands"
	"github.com/spf13/cobra"
)

// NewCacheCmd creates and returns the cache command with its subcommands
func NewCacheCmd(globalConfigFile *string, loadConfig func(string) (*cmd.Config, error), saveConfig func(string, *cmd.Config) error) *cobra.Command {
	cobraCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the local response cache",
		Long: `Cache manages the durable cache used to avoid repeated GitHub and
generation calls. Entries are grouped into classes (raw-api, processed,
generated), each with its own time-to-live.`,
		SilenceUsage: true,
	}

	cobraCmd.AddCommand(newStatsCmd(globalConfigFile, loadConfig, saveConfig))
	cobraCmd.AddCommand(newSweepCmd(globalConfigFile, loadConfig, saveConfig))
	cobraCmd.AddCommand(newClearCmd(globalConfigFile, loadConfig, saveConfig))

	return cobraCmd
}

func newStatsCmd(globalConfigFile *string, loadConfig func(string) (*cmd.Config, error), saveConfig func(string, *cmd.Config) error) *cobra.Command {
	return &cobra.Command{
		Use:          "stats",
		Short:        "Show entry counts and hit ratios per cache class",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withCache(globalConfigFile, loadConfig, saveConfig, func(c *cache.Cache) error {
				stats := c.Stats()
				fmt.Printf("%-12s %8s %8s %8s %8s\n", "CLASS", "ENTRIES", "HITS", "MISSES", "RATIO")
				for _, class := range cache.Classes {
					s := stats[class]
					fmt.Printf("%-12s %8d %8d %8d %7.0f%%\n",
						class, s.Entries, s.Hits, s.Misses, s.HitRatio()*100)
				}
				return nil
			})
		},
	}
}

func newSweepCmd(globalConfigFile *string, loadConfig func(string) (*cmd.Config, error), saveConfig func(string, *cmd.Config) error) *cobra.Command {
	return &cobra.Command{
		Use:          "sweep",
		Short:        "Remove expired entries from the cache",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withCache(globalConfigFile, loadConfig, saveConfig, func(c *cache.Cache) error {
				removed, err := c.Sweep()
				if err != nil {
					return fmt.Errorf("sweep failed: %w", err)
				}
				fmt.Printf("Removed %d expired entries\n", removed)
				return nil
			})
		},
	}
}

func newClearCmd(globalConfigFile *string, loadConfig func(string) (*cmd.Config, error), saveConfig func(string, *cmd.Config) error) *cobra.Command {
	var classFlag string

	cobraCmd := &cobra.Command{
		Use:          "clear",
		Short:        "Delete all cache entries, or a single class with --class",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withCache(globalConfigFile, loadConfig, saveConfig, func(c *cache.Cache) error {
				if classFlag == "" {
					if err := c.ClearAll(); err != nil {
						return fmt.Errorf("clear failed: %w", err)
					}
					fmt.Println("Cleared all cache classes")
					return nil
				}
				class, ok := cache.ParseClass(classFlag)
				if !ok {
					return fmt.Errorf("unknown cache class %q (raw-api, processed, generated)", classFlag)
				}
				if err := c.Clear(class); err != nil {
					return fmt.Errorf("clear failed: %w", err)
				}
				fmt.Printf("Cleared cache class %s\n", class)
				return nil
			})
		},
	}

	cobraCmd.Flags().StringVar(&classFlag, "class", "", "Cache class to clear (default: all)")
	return cobraCmd
}

// withCache opens only the cache and ensures it is closed after fn
func withCache(globalConfigFile *string, loadConfig func(string) (*cmd.Config, error), saveConfig func(string, *cmd.Config) error, fn func(*cache.Cache) error) error {
	base := &commands.BaseCommand{
		ConfigFile: globalConfigFile,
		LoadConfig: loadConfig,
		SaveConfig: saveConfig,
	}
	if err := base.InitCache(); err != nil {
		return err
	}
	defer base.Close()
	return fn(base.Cache)
}
