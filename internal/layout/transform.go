package layout

import (
	"math"
	"sync"
)

// Wheel deltas arrive in multiples of one notch (the conventional 120 units);
// one notch scales the view by wheelStep.
const (
	wheelNotch = 120.0
	wheelStep  = 1.1

	defaultMinScale = 0.25
	defaultMaxScale = 4.0
)

// TransformState is an immutable copy of the view transform. A world
// coordinate maps to screen space as screen = world*K + (X, Y).
type TransformState struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	K float64 `json:"k"`
}

// Transform is the pan/zoom handle for one view surface. It is driven by
// discrete pointer events, never by the tick loop, and remains usable after
// the layout has been stopped. Safe for concurrent use.
type Transform struct {
	mu         sync.RWMutex
	x, y       float64
	k          float64
	minK, maxK float64
	version    uint64
}

// NewTransform returns the identity transform.
func NewTransform() *Transform {
	return &Transform{k: 1, minK: defaultMinScale, maxK: defaultMaxScale}
}

// Wheel zooms by a wheel delta anchored at the screen point (cx, cy): the
// world point under the cursor stays fixed. Positive deltas (scrolling down)
// zoom out. The scale is clamped to the configured range.
func (t *Transform) Wheel(delta, cx, cy float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := t.k * math.Pow(wheelStep, -delta/wheelNotch)
	k = math.Min(math.Max(k, t.minK), t.maxK)
	if k == t.k {
		return
	}
	ratio := k / t.k
	t.x = cx - (cx-t.x)*ratio
	t.y = cy - (cy-t.y)*ratio
	t.k = k
	t.version++
}

// Drag pans by a screen-space delta.
func (t *Transform) Drag(dx, dy float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.x += dx
	t.y += dy
	t.version++
}

// State returns the current transform value.
func (t *Transform) State() TransformState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TransformState{X: t.x, Y: t.y, K: t.k}
}

// Version increments on every effective gesture; frame producers use it to
// notice transform-only changes while the engine idles.
func (t *Transform) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Apply maps a world coordinate to screen space under the current transform.
func (t *Transform) Apply(wx, wy float64) (sx, sy float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return wx*t.k + t.x, wy*t.k + t.y
}
