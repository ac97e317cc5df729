package main

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"gioui.org/app"
	"gioui.org/font/gofont"
	"gioui.org/io/system"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/spf13/cobra"

	"git.sr.ht/~gioverse/residency/debug"
	"git.sr.ht/~gioverse/residency/internal/profiling"
	rlayout "git.sr.ht/~gioverse/residency/layout"
	"git.sr.ht/~gioverse/residency/residency"
	"git.sr.ht/~gioverse/residency/residency/taskgroup"
	"git.sr.ht/~gioverse/residency/residency/texture"
)

type (
	C = layout.Context
	D = layout.Dimensions
)

var runAssets int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open a window paging synthetic images in and out of residency",
	Long: `run opens a scrollable list of synthetic images. Every visible
row is marked used on each frame, so scrolling changes which assets the
policy considers hot; rows not yet resident show a colored placeholder
tinted by ImageClass instead of the real image.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runAssets, "assets", 200, "number of synthetic assets to register")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ui, err := newDemoUI(runAssets)
	if err != nil {
		return err
	}
	go func() {
		w := app.NewWindow(app.Title("residencyctl"))
		if err := ui.run(w); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}()
	app.Main()
	return nil
}

// demoUI owns a residency.Manager wired to a real texture.Manager
// Instantiator and a worker-pool backed TaskGroup, and lays out one row
// per registered asset.
type demoUI struct {
	mgr     residency.Manager
	inst    *texture.Manager
	group   *taskgroup.Group
	classes map[residency.AssetId]residency.ImageClass
	ids     []residency.AssetId

	theme *material.Theme
	list  widget.List
}

func newDemoUI(n int) (*demoUI, error) {
	ui := &demoUI{
		inst:    texture.New(),
		group:   taskgroup.New(&taskgroup.FixedPool{Workers: cfg.Workers}),
		classes: make(map[residency.AssetId]residency.ImageClass),
		theme:   material.NewTheme(gofont.Collection()),
	}
	ui.list.Axis = layout.Vertical

	ui.mgr.SetImageBudget(cfg.ImageBudget)
	ui.mgr.SetImageBudgetPerIteration(cfg.ImageBudgetPerIteration)
	ui.mgr.BindInstantiator(ui.inst)

	fs := syntheticFS{size: image.Pt(48, 48)}
	for i, path := range fakePaths(n) {
		class := residency.ImageClass(i % 6)
		id, err := ui.mgr.RegisterFromPath(fs, path, class, residency.Priority(1))
		if err != nil {
			return nil, fmt.Errorf("registering %q: %w", path, err)
		}
		ui.classes[id] = class
		ui.ids = append(ui.ids, id)
	}
	return ui, nil
}

func (ui *demoUI) run(w *app.Window) error {
	profiler := profiling.Kind(cfg.Profile).New()
	profiler.Start()
	defer profiler.Stop()

	var ops op.Ops
	for e := range w.Events() {
		switch e := e.(type) {
		case system.DestroyEvent:
			return e.Err
		case system.FrameEvent:
			gtx := layout.NewContext(&ops, e)
			profiler.Record(gtx)
			ui.mgr.Iterate(ui.group)
			ui.layout(gtx)
			e.Frame(gtx.Ops)
			w.Invalidate()
		}
	}
	return nil
}

func (ui *demoUI) layout(gtx C) D {
	return material.List(ui.theme, &ui.list).Layout(gtx, len(ui.ids), func(gtx C, index int) D {
		return layout.UniformInset(unit.Dp(4)).Layout(gtx, func(gtx C) D {
			id := ui.ids[index]
			ui.mgr.MarkUsed(id)

			bg := rlayout.Background(classBackground(ui.classes[id]))
			return bg.Layout(gtx, func(gtx C) D {
				return layout.UniformInset(unit.Dp(2)).Layout(gtx, func(gtx C) D {
					return rlayout.Rounded(unit.Dp(6)).Layout(gtx, func(gtx C) D {
						px := gtx.Dp(unit.Dp(48))
						size := image.Point{X: px, Y: px}
						gtx.Constraints = layout.Exact(size)

						if imgOp, ok := ui.inst.ImageOp(id); ok {
							return widget.Image{Src: imgOp, Fit: widget.Contain}.Layout(gtx)
						}
						state, _ := ui.mgr.State(id)
						snapshot := []debug.Snapshot{{ID: id, Class: ui.classes[id], State: state}}
						return debug.Overlay{Side: unit.Dp(48)}.Layout(gtx, snapshot)
					})
				})
			})
		})
	})
}

// classBackground picks a dim backdrop hue per ImageClass so each row's
// letterboxing (visible while an image is still Loading) hints at what
// kind of asset it holds.
func classBackground(class residency.ImageClass) color.NRGBA {
	hue := float64((int32(class)%12+12)%12) * 30
	c := colorful.Hsv(hue, 0.35, 0.18).Clamped()
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 0xFF}
}
