package main

import (
	"fmt"
	"image"
	"math/rand"

	"github.com/spf13/cobra"

	"git.sr.ht/~gioverse/residency/residency"
	"git.sr.ht/~gioverse/residency/residency/taskgroup"
	"git.sr.ht/~gioverse/residency/residency/texture"
)

var (
	stressAssets     int
	stressIterations int
)

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Drive a residency manager headlessly against a large synthetic asset set",
	RunE:  runStress,
}

func init() {
	stressCmd.Flags().IntVar(&stressAssets, "assets", 500, "number of synthetic assets to register")
	stressCmd.Flags().IntVar(&stressIterations, "iterations", 50, "number of iterate calls to run")
	rootCmd.AddCommand(stressCmd)
}

func runStress(cmd *cobra.Command, args []string) error {
	var mgr residency.Manager
	mgr.SetImageBudget(cfg.ImageBudget)
	mgr.SetImageBudgetPerIteration(cfg.ImageBudgetPerIteration)
	mgr.BindInstantiator(texture.New())

	fs := syntheticFS{size: image.Pt(64, 64)}
	paths := fakePaths(stressAssets)
	ids := make([]residency.AssetId, 0, len(paths))
	for i, path := range paths {
		class := residency.ImageClass(i % 4)
		prio := residency.Priority(1 + i%3)
		if i == 0 {
			// Always keep one record pinned to exercise the
			// hard-budget-bypass path.
			prio = residency.Persistent
		}
		id, err := mgr.RegisterFromPath(fs, path, class, prio)
		if err != nil {
			return fmt.Errorf("registering %q: %w", path, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return fmt.Errorf("no assets registered")
	}

	group := taskgroup.New(&taskgroup.FixedPool{Workers: cfg.Workers})

	for i := 0; i < stressIterations; i++ {
		// Simulate viewport-driven interest: mark a shifting random
		// subset used each iteration.
		touched := len(ids)/4 + 1
		for j := 0; j < touched; j++ {
			mgr.MarkUsed(ids[rand.Intn(len(ids))])
		}
		mgr.Iterate(group)
		if i%10 == 0 || i == stressIterations-1 {
			s := mgr.Stats()
			gs := group.Stats()
			fmt.Printf("iter=%d absent=%d loading=%d resident=%d total_consumed=%d timestamp=%d fence=%d queued=%d inflight=%d\n",
				i, s.Absent, s.Loading, s.Resident, s.TotalConsumed, s.Timestamp, s.FenceCount, gs.Queued, len(gs.Inflight))
		}
	}

	mgr.Close()
	return nil
}
