package layout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cliniscribe/dxgraph/internal/reasoning"
)

func newTestController(frames chan Frame, cfg Config) *Controller {
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	return NewController(Options{
		Engine:        cfg,
		FrameInterval: 2 * time.Millisecond,
		OnFrame: func(f Frame) {
			select {
			case frames <- f:
			default:
			}
		},
	})
}

func waitFrame(t *testing.T, frames chan Frame) Frame {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
		return Frame{}
	}
}

func drainFrames(frames chan Frame) {
	for {
		select {
		case <-frames:
		default:
			return
		}
	}
}

func TestControllerDeliversFrames(t *testing.T) {
	frames := make(chan Frame, 1)
	c := newTestController(frames, Config{})
	defer c.Cleanup()

	snap := twoSymptomSnapshot()
	c.Acquire(snap)
	require.Equal(t, StateRunning, c.State())

	f := waitFrame(t, frames)
	assert.Len(t, f.Positions, len(snap.Nodes))
	assert.Greater(t, f.Alpha, 0.0)
	assert.Equal(t, TransformState{K: 1}, f.Transform)
}

func TestControllerLifecycleIsForwardOnly(t *testing.T) {
	frames := make(chan Frame, 1)
	c := newTestController(frames, Config{})
	defer c.Cleanup()

	require.Equal(t, StateUninitialized, c.State())

	c.Acquire(twoSymptomSnapshot())
	require.Equal(t, StateRunning, c.State())

	// A second acquire must not restart or replace the engine.
	c.Acquire(nil)
	require.Equal(t, StateRunning, c.State())
	assert.NotEmpty(t, c.Positions())

	c.Stop()
	require.Equal(t, StateStopped, c.State())

	// No resume.
	c.Acquire(twoSymptomSnapshot())
	require.Equal(t, StateStopped, c.State())
}

func TestControllerStopFreezesPositions(t *testing.T) {
	frames := make(chan Frame, 1)
	c := newTestController(frames, Config{})
	defer c.Cleanup()

	c.Acquire(twoSymptomSnapshot())
	waitFrame(t, frames)

	c.Stop()
	frozen := c.Positions()
	require.NotEmpty(t, frozen)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frozen, c.Positions())

	// At most one in-flight frame may still deliver; afterwards, silence.
	time.Sleep(10 * time.Millisecond)
	drainFrames(frames)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, frames)
}

func TestControllerCleanupIsIdempotent(t *testing.T) {
	frames := make(chan Frame, 1)
	c := newTestController(frames, Config{})

	c.Acquire(twoSymptomSnapshot())
	waitFrame(t, frames)

	c.Cleanup()
	c.Cleanup()
	c.Cleanup()

	assert.Equal(t, StateStopped, c.State())
	assert.Nil(t, c.Positions())
	assert.Equal(t, TransformState{K: 1}, c.Transform())

	drainFrames(frames)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, frames, "no frame may fire after cleanup returned")
}

func TestControllerStopAndCleanupBeforeAcquire(t *testing.T) {
	frames := make(chan Frame, 1)
	c := newTestController(frames, Config{})

	c.Stop()
	c.Cleanup()
	c.Cleanup()
	assert.Equal(t, StateStopped, c.State())

	// The controller is released: a late acquire must not start a loop.
	c.Acquire(twoSymptomSnapshot())
	assert.Equal(t, StateStopped, c.State())
	assert.Nil(t, c.Positions())

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, frames)
}

func TestControllerUpdateMergesIntoRunningEngine(t *testing.T) {
	frames := make(chan Frame, 1)
	c := newTestController(frames, Config{})
	defer c.Cleanup()

	c.Acquire(twoSymptomSnapshot())
	waitFrame(t, frames)

	c.Update(reasoning.Build(reasoning.Input{
		CurrentSymptom:     "chest pain",
		AssociatedSymptoms: []string{"dyspnea", "nausea"},
		Diagnoses:          []reasoning.Diagnosis{{Name: "MI", Confidence: 0.8}},
	}))

	require.Eventually(t, func() bool {
		for _, p := range c.Positions() {
			if p.ID == "diagnosis_0" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestControllerUpdateIgnoredUnlessRunning(t *testing.T) {
	frames := make(chan Frame, 1)
	c := newTestController(frames, Config{})
	defer c.Cleanup()

	// Before acquire.
	c.Update(twoSymptomSnapshot())
	assert.Nil(t, c.Positions())

	c.Acquire(twoSymptomSnapshot())
	waitFrame(t, frames)
	c.Stop()

	c.Update(reasoning.Build(reasoning.Input{
		CurrentSymptom:     "chest pain",
		AssociatedSymptoms: []string{"dyspnea", "nausea"},
		Diagnoses:          []reasoning.Diagnosis{{Name: "MI", Confidence: 0.8}},
	}))

	for _, p := range c.Positions() {
		assert.NotEqual(t, "diagnosis_0", p.ID, "merge after stop must be ignored")
	}
}

func TestControllerTransformStaysLiveAfterStop(t *testing.T) {
	frames := make(chan Frame, 1)
	c := newTestController(frames, Config{})
	defer c.Cleanup()

	c.Acquire(twoSymptomSnapshot())
	waitFrame(t, frames)
	c.Stop()

	c.Wheel(-120, 100, 50)
	assert.InDelta(t, wheelStep, c.Transform().K, 1e-9)

	c.Drag(10, -5)
	state := c.Transform()
	assert.NotZero(t, state.X)
	assert.NotZero(t, state.Y)
}

func TestControllerGesturesAfterCleanupAreNoops(t *testing.T) {
	frames := make(chan Frame, 1)
	c := newTestController(frames, Config{})

	c.Acquire(twoSymptomSnapshot())
	waitFrame(t, frames)
	c.Cleanup()

	c.Wheel(-120, 0, 0)
	c.Drag(5, 5)
	assert.Equal(t, TransformState{K: 1}, c.Transform())
}

func TestControllerEmitsFrameForGestureWhileIdle(t *testing.T) {
	frames := make(chan Frame, 1)
	// Cool almost immediately so the engine idles right after acquire.
	c := newTestController(frames, Config{AlphaDecay: 0.95, AlphaMin: 0.9})
	defer c.Cleanup()

	c.Acquire(twoSymptomSnapshot())

	// Wait for the engine to go quiet.
	time.Sleep(30 * time.Millisecond)
	drainFrames(frames)
	time.Sleep(30 * time.Millisecond)
	require.Empty(t, frames, "expected an idle engine")

	c.Drag(25, 0)

	f := waitFrame(t, frames)
	assert.Equal(t, 25.0, f.Transform.X)
}
