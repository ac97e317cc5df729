package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"git.sr.ht/~gioverse/residency/internal/config"
)

var (
	cfgFile                 string
	flagImageBudget         uint64
	flagImageBudgetPerIter  uint64
	flagWorkers             int
	flagProfile             string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "residencyctl",
	Short: "Drive and inspect an asset residency manager",
	Long: `residencyctl exercises the residency package: a priority and
recency based policy that decides which image assets stay resident in a
constrained memory budget.

Commands:
  run      open a window paging synthetic images in and out of residency
  stress   drive the manager headlessly against a large synthetic set
  inspect  print a one-shot snapshot of a fresh manager after it settles`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile, &config.Config{
			ImageBudget:             flagImageBudget,
			ImageBudgetPerIteration: flagImageBudgetPerIter,
			Workers:                 flagWorkers,
			Profile:                 flagProfile,
		})
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
		return nil
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "project config file (default: .residency/config.yaml in the current directory; ~/.residency/config.yaml is always read beneath it)")
	rootCmd.PersistentFlags().Uint64Var(&flagImageBudget, "image-budget", 0, "hard total-bytes residency budget (0: use config default)")
	rootCmd.PersistentFlags().Uint64Var(&flagImageBudgetPerIter, "image-budget-per-iteration", 0, "soft per-iteration new-work budget (0: use config default)")
	rootCmd.PersistentFlags().IntVar(&flagWorkers, "workers", 0, "background worker pool size (0: runtime.NumCPU)")
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "profile kind: none, cpu, mem, block, goroutine, mutex, trace, gio")
}
