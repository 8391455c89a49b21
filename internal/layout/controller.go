package layout

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cliniscribe/dxgraph/internal/metrics"
	"github.com/cliniscribe/dxgraph/internal/reasoning"
)

// State is the lifecycle phase of a Controller.
type State int

const (
	StateUninitialized State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Frame is one per-tick view of the live layout, delivered to OnFrame.
type Frame struct {
	Positions []NodePosition `json:"positions"`
	Alpha     float64        `json:"alpha"`
	Transform TransformState `json:"transform"`
}

// Options configures a Controller.
type Options struct {
	Engine        Config
	FrameInterval time.Duration
	// OnFrame is invoked from the tick goroutine after every effective tick
	// (engine advanced, or the transform changed while the engine idles).
	// It must not block: the next tick waits for it, and Cleanup waits for
	// the loop to drain.
	OnFrame func(Frame)
	Logger  *zap.Logger
}

// Controller owns one Engine and one Transform across the mounted lifetime
// of a single view surface. The lifecycle is forward-only:
//
//	Uninitialized -> Acquire() -> Running -> Stop() -> Stopped (terminal)
//
// Cleanup is callable from any state and idempotent: the first call halts
// the tick loop if one is running and releases both handles, every later
// call is a no-op. After Stop the layout freezes but pan/zoom stays live;
// after Cleanup returns, no further tick, frame, or state mutation occurs.
type Controller struct {
	mu            sync.Mutex
	state         State
	cleaned       bool
	engine        *Engine
	transform     *Transform
	opts          Options
	logger        *zap.Logger
	stopCh        chan struct{}
	doneCh        chan struct{}
	lastTransform uint64
}

// NewController returns a controller in the Uninitialized state.
func NewController(opts Options) *Controller {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = 33 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{opts: opts, logger: logger}
}

// Acquire creates the engine and transform, seeds the engine with the given
// snapshot, and schedules the tick loop. It is meant to be called exactly
// once per mount; any later call (or a call after Cleanup) is a logged no-op.
func (c *Controller) Acquire(snap *reasoning.GraphSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cleaned || c.state != StateUninitialized {
		c.logger.Warn("layout acquire ignored", zap.Stringer("state", c.state))
		return
	}

	c.engine = NewEngine(c.opts.Engine)
	c.transform = NewTransform()
	c.engine.Merge(snap)
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.state = StateRunning
	go c.run()
}

// Update merges a new snapshot into the running engine. Snapshots arriving
// in any other state are ignored; nil is treated as empty.
func (c *Controller) Update(snap *reasoning.GraphSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning || c.engine == nil {
		return
	}
	c.engine.Merge(snap)
}

// Stop halts the tick loop. Positions freeze where they are; the transform
// remains usable for static pan/zoom. There is no resume. Stop in any state
// but Running is a no-op. Once Stop returns no engine step will run: the
// loop re-checks the state under the lock before every tick.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return
	}
	c.state = StateStopped
	close(c.stopCh)
}

// Cleanup releases the controller. Idempotent from any state, including
// before Acquire; at most one teardown happens no matter how often it is
// called. When it returns the tick goroutine has exited.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	if c.cleaned {
		c.mu.Unlock()
		return
	}
	c.cleaned = true
	if c.state == StateRunning {
		close(c.stopCh)
	}
	c.state = StateStopped
	done := c.doneCh
	c.engine = nil
	c.transform = nil
	c.mu.Unlock()

	if done != nil {
		<-done
	}
	c.logger.Debug("layout controller released")
}

// Wheel forwards a zoom gesture to the transform. Gestures are independent
// of the tick loop and still apply after Stop; after Cleanup they are no-ops.
func (c *Controller) Wheel(delta, cx, cy float64) {
	if t := c.currentTransform(); t != nil {
		t.Wheel(delta, cx, cy)
	}
}

// Drag forwards a pan gesture to the transform.
func (c *Controller) Drag(dx, dy float64) {
	if t := c.currentTransform(); t != nil {
		t.Drag(dx, dy)
	}
}

// Positions returns the live position view for a renderer to read once per
// frame, or nil when the controller is not acquired or already released.
// After Stop the returned positions stay frozen.
func (c *Controller) Positions() []NodePosition {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return nil
	}
	return c.engine.Positions()
}

// Transform returns the current view transform, or the identity once the
// controller is released or not yet acquired.
func (c *Controller) Transform() TransformState {
	if t := c.currentTransform(); t != nil {
		return t.State()
	}
	return TransformState{K: 1}
}

// State reports the lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) currentTransform() *Transform {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transform
}

func (c *Controller) run() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.opts.FrameInterval)
	defer ticker.Stop()

	for {
		// A pending stop wins over a pending tick.
		select {
		case <-c.stopCh:
			return
		default:
		}
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			frame, ok := c.step()
			if ok && c.opts.OnFrame != nil {
				c.opts.OnFrame(frame)
			}
		}
	}
}

// step advances the engine one tick under the lock and assembles the frame.
// A frame is produced when the engine advanced or the transform changed since
// the last one; an idle engine with an untouched transform produces nothing.
func (c *Controller) step() (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning || c.engine == nil {
		return Frame{}, false
	}

	start := time.Now()
	advanced := c.engine.Tick()
	if advanced {
		metrics.Default().ObserveTickSeconds(time.Since(start).Seconds())
	}

	version := c.transform.Version()
	if !advanced && version == c.lastTransform {
		return Frame{}, false
	}
	c.lastTransform = version

	return Frame{
		Positions: c.engine.Positions(),
		Alpha:     c.engine.Alpha(),
		Transform: c.transform.State(),
	}, true
}
