package main

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"

	"github.com/drhodes/golorem"
	"github.com/lucasb-eyer/go-colorful"

	"git.sr.ht/~gioverse/residency/residency"
)

// syntheticFS manufactures small solid-color PNG images on demand, keyed
// by path, standing in for a real asset pack for the run and stress
// commands. The color is derived deterministically from the path's
// hash, so repeated opens of the same path always produce the same
// image.
type syntheticFS struct {
	size image.Point
}

func (fs syntheticFS) Open(path string) (residency.Handle, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(path))
	hue := float64(h.Sum32() % 360)

	col := colorful.Hsv(hue, 0.6, 0.9).Clamped()
	r, g, b := col.RGB255()
	solid := color.NRGBA{R: r, G: g, B: b, A: 0xFF}

	img := image.NewNRGBA(image.Rectangle{Max: fs.size})
	for y := 0; y < fs.size.Y; y++ {
		for x := 0; x < fs.size.X; x++ {
			img.SetNRGBA(x, y, solid)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return nopCloser{bytes.NewReader(buf.Bytes())}, nil
}

// nopCloser adapts a *bytes.Reader into a residency.Handle: the
// synthetic image lives entirely in memory, so closing it is a no-op.
type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }

// fakePaths returns n distinct fake asset paths, built from random
// lorem-ipsum-style words so stress runs and the run demo have
// plausible-looking, never-repeating asset names without needing a real
// asset pack on disk.
func fakePaths(n int) []string {
	paths := make([]string, n)
	for i := range paths {
		paths[i] = fmt.Sprintf("textures/%s/%s-%d.png", lorem.Word(3, 8), lorem.Word(4, 12), i)
	}
	return paths
}
