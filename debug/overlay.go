package debug

import (
	"image"
	"image/color"

	"gioui.org/op"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/unit"
	"github.com/lucasb-eyer/go-colorful"

	"git.sr.ht/~gioverse/residency/residency"
)

// Snapshot is the minimal per-asset state Overlay needs to draw one
// square. The Manager does not expose a record iterator itself, so
// callers build a []Snapshot from whatever side channel they already
// have (typically residency.Manager.State per id plus a caller-side
// record of per-id classes).
type Snapshot struct {
	ID    residency.AssetId
	Class residency.ImageClass
	State residency.State
}

// Overlay draws one small square per asset, tinted by ImageClass and
// shaded by residency state: dim for Absent, saturated for Loading, and
// full brightness for Resident. This is the same colored-square-per-
// state technique used to visualize an individual async resource's
// queued/loading/loaded states, generalized here to lay out a whole
// asset table at once rather than one square per widget call site.
type Overlay struct {
	// Side is the width and height of each square. Defaults to 18dp.
	Side unit.Dp
	// Gap is the spacing between squares. Defaults to 2dp.
	Gap unit.Dp
}

// Layout renders snapshot as a left-to-right, top-to-bottom grid
// wrapped to the incoming constraints' maximum width.
func (o Overlay) Layout(gtx C, snapshot []Snapshot) D {
	side := o.Side
	if side == 0 {
		side = unit.Dp(18)
	}
	gap := o.Gap
	if gap == 0 {
		gap = unit.Dp(2)
	}
	px := gtx.Dp(side)
	gapPx := gtx.Dp(gap)

	maxX := gtx.Constraints.Max.X
	if maxX <= 0 {
		maxX = px
	}
	perRow := maxX / (px + gapPx)
	if perRow < 1 {
		perRow = 1
	}

	x, y, rowHeight := 0, 0, 0
	for i, s := range snapshot {
		if i > 0 && i%perRow == 0 {
			x = 0
			y += rowHeight + gapPx
		}
		drawSquare(gtx, image.Pt(x, y), px, colorFor(s))
		x += px + gapPx
		rowHeight = px
	}
	if len(snapshot) > 0 {
		y += rowHeight
	}
	return D{Size: image.Pt(maxX, y)}
}

func drawSquare(gtx C, at image.Point, side int, col color.NRGBA) {
	defer op.Offset(at).Push(gtx.Ops).Pop()
	paint.FillShape(gtx.Ops, col, clip.Rect{Max: image.Pt(side, side)}.Op())
}

// colorFor assigns a perceptually distinct hue per ImageClass, shaded by
// residency state.
func colorFor(s Snapshot) color.NRGBA {
	hue := float64((int32(s.Class)%12+12)%12) * 30
	var c colorful.Color
	switch s.State {
	case residency.Absent:
		c = colorful.Hsv(hue, 0.2, 0.25)
	case residency.Loading:
		c = colorful.Hsv(hue, 1, 0.85)
	case residency.Resident:
		c = colorful.Hsv(hue, 0.65, 1)
	default:
		c = colorful.Hsv(hue, 0.2, 0.25)
	}
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 0xFF}
}
