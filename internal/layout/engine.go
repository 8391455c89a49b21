// Package layout keeps a derived graph snapshot alive as an interactively
// navigable force-directed layout. The Engine owns per-node position state,
// the Transform owns the pan/zoom view state, and the Controller ties both to
// the lifetime of exactly one mounted view surface.
package layout

import (
	"math"
	"math/rand"
	"time"

	"github.com/cliniscribe/dxgraph/internal/reasoning"
)

// Config tunes the physics engine. Zero fields fall back to defaults chosen
// to match the d3-force behavior renderers expect.
type Config struct {
	Width          float64
	Height         float64
	AlphaDecay     float64
	AlphaMin       float64
	VelocityDecay  float64
	LinkDistance   float64
	ChargeStrength float64
	// Seed fixes the spawn randomness. Zero seeds from the clock.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = 960
	}
	if c.Height <= 0 {
		c.Height = 600
	}
	if c.AlphaDecay <= 0 {
		c.AlphaDecay = 0.02
	}
	if c.AlphaMin <= 0 {
		c.AlphaMin = 0.005
	}
	if c.VelocityDecay <= 0 {
		c.VelocityDecay = 0.25
	}
	if c.LinkDistance <= 0 {
		c.LinkDistance = 60
	}
	if c.ChargeStrength == 0 {
		c.ChargeStrength = -160
	}
	return c
}

// body is the live physics state for one node. Snapshot nodes are copied in;
// the engine never mutates a snapshot.
type body struct {
	node   reasoning.SymptomNode
	x, y   float64
	vx, vy float64
}

type spring struct {
	source, target *body
	strength       float64
}

// NodePosition is one row of the per-frame position view, in world
// coordinates.
type NodePosition struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Engine is the stateful force-directed layout process. It is not safe for
// concurrent use; the Controller serializes access to it.
type Engine struct {
	cfg     Config
	bodies  []*body
	index   map[string]*body
	springs []spring
	alpha   float64
	rng     *rand.Rand
}

// NewEngine returns an empty engine. It idles until the first Merge.
func NewEngine(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Engine{
		cfg:   cfg,
		index: make(map[string]*body),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Merge applies a new snapshot to the live set: bodies whose node ID survives
// keep their position and velocity, new IDs spawn at a randomized position
// near the center, vanished IDs are dropped. Springs are replaced wholesale
// from the snapshot's links. Merge reheats the simulation; a nil or empty
// snapshot is a valid steady state that leaves the engine idling over zero
// bodies.
func (e *Engine) Merge(snap *reasoning.GraphSnapshot) {
	if snap == nil {
		snap = &reasoning.GraphSnapshot{}
	}

	seen := make(map[string]struct{}, len(snap.Nodes))
	bodies := make([]*body, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		if b, ok := e.index[n.ID]; ok {
			b.node = n
			bodies = append(bodies, b)
			continue
		}
		b := &body{node: n}
		b.x, b.y = e.spawn()
		e.index[n.ID] = b
		bodies = append(bodies, b)
	}
	for id := range e.index {
		if _, ok := seen[id]; !ok {
			delete(e.index, id)
		}
	}
	e.bodies = bodies

	e.springs = e.springs[:0]
	for _, l := range snap.Links {
		source, ok := e.index[l.Source]
		target, ok2 := e.index[l.Target]
		if !ok || !ok2 {
			continue
		}
		e.springs = append(e.springs, spring{source: source, target: target, strength: l.Strength})
	}

	e.alpha = 1
}

// spawn places a new body on a randomized ring around the viewport center so
// fresh nodes neither stack on one point nor fly in from the origin.
func (e *Engine) spawn() (float64, float64) {
	angle := e.rng.Float64() * 2 * math.Pi
	radius := e.cfg.LinkDistance * (0.5 + e.rng.Float64())
	return e.cfg.Width/2 + radius*math.Cos(angle), e.cfg.Height/2 + radius*math.Sin(angle)
}

// Tick advances the simulation one step and reports whether it ran. Once
// alpha cools below AlphaMin the engine idles until the next Merge.
func (e *Engine) Tick() bool {
	if len(e.bodies) == 0 || e.alpha < e.cfg.AlphaMin {
		return false
	}

	e.alpha += (0 - e.alpha) * e.cfg.AlphaDecay

	// Link springs pull endpoints toward the rest distance, weighted by the
	// per-kind strength carried on the snapshot link.
	for _, s := range e.springs {
		dx := (s.target.x + s.target.vx) - (s.source.x + s.source.vx)
		dy := (s.target.y + s.target.vy) - (s.source.y + s.source.vy)
		dist := math.Hypot(dx, dy)
		if dist == 0 {
			dx, dy = e.jiggle(), e.jiggle()
			dist = math.Hypot(dx, dy)
		}
		k := (dist - e.cfg.LinkDistance) / dist * e.alpha * s.strength
		dx *= k
		dy *= k
		s.target.vx -= dx / 2
		s.target.vy -= dy / 2
		s.source.vx += dx / 2
		s.source.vy += dy / 2
	}

	// Pairwise charge repulsion. The graphs here stay small (one node per
	// form row), so the quadratic pass beats a quadtree.
	for i, a := range e.bodies {
		for _, b := range e.bodies[i+1:] {
			dx := b.x - a.x
			dy := b.y - a.y
			d2 := dx*dx + dy*dy
			if d2 == 0 {
				dx, dy = e.jiggle(), e.jiggle()
				d2 = dx*dx + dy*dy
			}
			f := e.cfg.ChargeStrength * e.alpha / d2
			a.vx += dx * f
			a.vy += dy * f
			b.vx -= dx * f
			b.vy -= dy * f
		}
	}

	// Centering keeps the layout anchored to the viewport center.
	var mx, my float64
	for _, b := range e.bodies {
		mx += b.x
		my += b.y
	}
	n := float64(len(e.bodies))
	mx = mx/n - e.cfg.Width/2
	my = my/n - e.cfg.Height/2
	for _, b := range e.bodies {
		b.x -= mx
		b.y -= my
	}

	decay := 1 - e.cfg.VelocityDecay
	for _, b := range e.bodies {
		b.vx *= decay
		b.vy *= decay
		b.x += b.vx
		b.y += b.vy
	}

	return true
}

func (e *Engine) jiggle() float64 {
	return (e.rng.Float64() - 0.5) * 1e-6
}

// Alpha reports the current cooling state.
func (e *Engine) Alpha() float64 { return e.alpha }

// Positions returns the live position view, one row per body in snapshot
// order.
func (e *Engine) Positions() []NodePosition {
	out := make([]NodePosition, len(e.bodies))
	for i, b := range e.bodies {
		out[i] = NodePosition{ID: b.node.ID, X: b.x, Y: b.y}
	}
	return out
}

// Position reports the live position of one node.
func (e *Engine) Position(id string) (NodePosition, bool) {
	b, ok := e.index[id]
	if !ok {
		return NodePosition{}, false
	}
	return NodePosition{ID: id, X: b.x, Y: b.y}, true
}

// Velocity reports the live velocity of one node.
func (e *Engine) Velocity(id string) (vx, vy float64, ok bool) {
	b, ok := e.index[id]
	if !ok {
		return 0, 0, false
	}
	return b.vx, b.vy, true
}
