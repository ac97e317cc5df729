package main

import (
	"image"

	"github.com/spf13/cobra"

	"git.sr.ht/~gioverse/residency/debug"
	"git.sr.ht/~gioverse/residency/residency"
	"git.sr.ht/~gioverse/residency/residency/texture"
)

var inspectAssets int

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print a one-shot snapshot of a fresh manager after it settles",
	Long: `inspect registers a small synthetic asset set, runs a couple of
iterate passes to settle the policy, and dumps the resulting Stats as
JSON. It exists to sanity-check a chosen budget configuration without
opening a window.`,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().IntVar(&inspectAssets, "assets", 20, "number of synthetic assets to register")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	var mgr residency.Manager
	mgr.SetImageBudget(cfg.ImageBudget)
	mgr.SetImageBudgetPerIteration(cfg.ImageBudgetPerIteration)
	mgr.BindInstantiator(texture.New())

	fs := syntheticFS{size: image.Pt(32, 32)}
	for i, path := range fakePaths(inspectAssets) {
		id, err := mgr.RegisterFromPath(fs, path, residency.ImageClass(i%4), residency.Priority(1+i%3))
		if err != nil {
			return err
		}
		mgr.MarkUsed(id)
	}

	// No TaskGroup: every instantiation runs synchronously, so two
	// passes are enough for reported costs to settle into Resident
	// records.
	mgr.Iterate(nil)
	mgr.Iterate(nil)

	debug.Dump(mgr.Stats())
	return nil
}
