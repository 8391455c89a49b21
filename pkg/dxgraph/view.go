package dxgraph

import (
	"context"
	"sync"
	"time"

	"github.com/cliniscribe/dxgraph/internal/clinic"
	"github.com/cliniscribe/dxgraph/internal/layout"
)

// ViewOptions tunes a live layout view. Zero values fall back to the
// layout package defaults.
type ViewOptions struct {
	Engine        layout.Config
	FrameInterval time.Duration
	// OnFrame receives every layout frame. It runs on the tick goroutine
	// and must not block.
	OnFrame func(layout.Frame)
}

// View is a running force-directed layout bound to one case. It stays
// current by consuming the case's snapshot feed until closed. Callers that
// render frames themselves can poll Positions and Transform instead of
// passing OnFrame.
type View struct {
	controller *layout.Controller
	svc        *clinic.Service
	sub        *clinic.Subscription
	done       chan struct{}
	closeOnce  sync.Once
}

// NewView starts a live layout for the given case. The returned view must be
// closed when no longer needed; closing the Service closes it too.
func (s *Service) NewView(ctx context.Context, workspace, caseID string, opts ViewOptions) (*View, error) {
	snap, err := s.svc.Graph(ctx, workspace, caseID)
	if err != nil {
		return nil, err
	}
	v := &View{
		controller: layout.NewController(layout.Options{
			Engine:        opts.Engine,
			FrameInterval: opts.FrameInterval,
			OnFrame:       opts.OnFrame,
		}),
		svc:  s.svc,
		sub:  s.svc.Subscribe(workspace, caseID),
		done: make(chan struct{}),
	}
	v.controller.Acquire(snap)
	go v.feed()
	return v, nil
}

// feed pushes snapshot edits into the engine until the view closes or the
// case feed ends (case deleted, or service shut down).
func (v *View) feed() {
	for {
		select {
		case <-v.done:
			return
		case snap, ok := <-v.sub.C():
			if !ok {
				v.Close()
				return
			}
			v.controller.Update(snap)
		}
	}
}

// Positions returns the current node positions.
func (v *View) Positions() []layout.NodePosition { return v.controller.Positions() }

// Transform returns the current pan/zoom transform.
func (v *View) Transform() layout.TransformState { return v.controller.Transform() }

// State reports the layout lifecycle state.
func (v *View) State() layout.State { return v.controller.State() }

// Gestures

// Wheel applies a zoom step anchored at the cursor.
func (v *View) Wheel(delta, cx, cy float64) { v.controller.Wheel(delta, cx, cy) }

// Drag pans the viewport by a screen-space delta.
func (v *View) Drag(dx, dy float64) { v.controller.Drag(dx, dy) }

// Freeze halts the simulation permanently; pan and zoom stay live.
func (v *View) Freeze() { v.controller.Stop() }

// Close unsubscribes from case edits and releases the layout. Idempotent.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		close(v.done)
		v.svc.Unsubscribe(v.sub)
		v.controller.Cleanup()
	})
}
