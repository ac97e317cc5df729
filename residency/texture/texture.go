// Package texture provides a reference residency.Instantiator that
// decodes ordinary image files into Gio paint.ImageOp values, the same
// baking step CachedImage performs for a single eagerly-loaded image,
// generalized here to run per asset under the residency manager's
// control.
package texture

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"sync"

	"gioui.org/op/paint"

	"git.sr.ht/~gioverse/residency/residency"
	rwidget "git.sr.ht/~gioverse/residency/widget"
)

// Manager mints paint.ImageOp values on behalf of a residency.Manager.
// EstimateCost and Instantiate both need the full contents of an asset's
// handle - EstimateCost to sniff its header, Instantiate to decode it -
// but handle is a plain io.ReadCloser with no seek-back, so the first
// read of it is read to completion and cached in buf; the second read
// is served from that cache rather than the handle itself. Decoded
// results sit in a pending set until LatchHandles publishes them to a
// readable front set - mirroring the two-phase handoff the residency
// manager expects from every Instantiator.
type Manager struct {
	residency.NoopImageClass

	mu      sync.Mutex
	buf     map[residency.AssetId][]byte
	pending map[residency.AssetId]rwidget.CachedImage
	front   map[residency.AssetId]rwidget.CachedImage
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{
		buf:     make(map[residency.AssetId][]byte),
		pending: make(map[residency.AssetId]rwidget.CachedImage),
		front:   make(map[residency.AssetId]rwidget.CachedImage),
	}
}

// bufferedBytes returns handle's full contents, reading and caching them
// on the first call for id and serving every subsequent call (whether
// from EstimateCost or Instantiate, in either order) out of that cache.
// handle is read and closed at most once per id.
func (m *Manager) bufferedBytes(id residency.AssetId, handle residency.Handle) ([]byte, error) {
	m.mu.Lock()
	if data, ok := m.buf[id]; ok {
		m.mu.Unlock()
		return data, nil
	}
	m.mu.Unlock()

	data, err := io.ReadAll(handle)
	handle.Close()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.buf[id] = data
	m.mu.Unlock()
	return data, nil
}

// SetIDBounds is a no-op; both maps here are keyed, not dense, and need
// no pre-sizing.
func (m *Manager) SetIDBounds(n int) {}

// EstimateCost decodes just the image header, avoiding the cost of a
// full decode, and extrapolates the uncompressed RGBA footprint that
// residency will eventually hold for this asset.
func (m *Manager) EstimateCost(id residency.AssetId, handle residency.Handle) uint64 {
	data, err := m.bufferedBytes(id, handle)
	if err != nil {
		return 0
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	return uint64(cfg.Width) * uint64(cfg.Height) * 4
}

// Instantiate decodes handle in full, bakes it into a paint.ImageOp, and
// reports the real byte cost back to mgr. The result sits in pending
// until the next LatchHandles call.
func (m *Manager) Instantiate(mgr *residency.Manager, task residency.TaskHandle, id residency.AssetId, handle residency.Handle) {
	data, err := m.bufferedBytes(id, handle)
	if err != nil {
		mgr.ReportCost(id, 0)
		return
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		mgr.ReportCost(id, 0)
		return
	}

	var cached rwidget.CachedImage
	cached.Cache(img)

	bounds := img.Bounds()
	cost := uint64(bounds.Dx()) * uint64(bounds.Dy()) * 4

	m.mu.Lock()
	m.pending[id] = cached
	m.mu.Unlock()

	mgr.ReportCost(id, cost)
}

// Release drops id from the pending and front sets, letting the baked
// image operation be garbage collected. The buffered source bytes are
// kept, so a subsequent EstimateCost or Instantiate for the same id
// decodes them again rather than reading the already-consumed handle.
func (m *Manager) Release(id residency.AssetId) {
	m.mu.Lock()
	delete(m.pending, id)
	delete(m.front, id)
	m.mu.Unlock()
}

// LatchHandles publishes every image baked since the last call.
func (m *Manager) LatchHandles() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, img := range m.pending {
		m.front[id] = img
		delete(m.pending, id)
	}
}

// ImageOp returns the published image operation for id. ok is false
// until the asset has been instantiated and at least one LatchHandles
// call has run since.
func (m *Manager) ImageOp(id residency.AssetId) (op paint.ImageOp, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.front[id]
	if !ok {
		return paint.ImageOp{}, false
	}
	return img.Op(), true
}
