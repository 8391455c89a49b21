package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cliniscribe/dxgraph/internal/clinic"
	"github.com/cliniscribe/dxgraph/internal/layout"
	"github.com/cliniscribe/dxgraph/internal/metrics"
	"github.com/cliniscribe/dxgraph/internal/reasoning"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxGestureSize = 4 * 1024

	// Outbound queue depth; a full queue drops frames, never blocks a tick.
	outBufferSize = 32

	// Gesture ingress budget per session. Beyond it gestures are shed,
	// the connection stays up.
	gestureRate  = rate.Limit(60)
	gestureBurst = 120
)

type helloMessage struct {
	Type      string                   `json:"type"`
	SessionID string                   `json:"sessionId"`
	CaseID    string                   `json:"caseId"`
	Snapshot  *reasoning.GraphSnapshot `json:"snapshot"`
	Transform layout.TransformState    `json:"transform"`
}

type frameMessage struct {
	Type      string                `json:"type"`
	Positions []layout.NodePosition `json:"positions"`
	Alpha     float64               `json:"alpha"`
	Transform layout.TransformState `json:"transform"`
}

type snapshotMessage struct {
	Type     string                   `json:"type"`
	Snapshot *reasoning.GraphSnapshot `json:"snapshot"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// gestureMessage is the inbound client vocabulary: wheel{delta,x,y},
// drag{dx,dy} and freeze{}.
type gestureMessage struct {
	Type  string  `json:"type"`
	Delta float64 `json:"delta"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	DX    float64 `json:"dx"`
	DY    float64 `json:"dy"`
}

// viewSession is one live layout view over a WebSocket connection. It owns
// exactly one layout controller for the lifetime of the connection and a
// subscription to the case's snapshot feed. All writes go through a single
// writer pump; the HTTP handler goroutine becomes the read pump.
type viewSession struct {
	id         string
	caseID     string
	conn       *websocket.Conn
	svc        *clinic.Service
	controller *layout.Controller
	sub        *clinic.Subscription
	limiter    *rate.Limiter
	logger     *zap.Logger
	out        chan any
	done       chan struct{}
	closeOnce  sync.Once
}

// handleView upgrades the request and serves a live view session until the
// client disconnects.
func (rt *Router) handleView(w http.ResponseWriter, r *http.Request) {
	ws := workspace(r)
	caseID := chi.URLParam(r, "caseID")

	// Resolve the case before upgrading so a missing case is a plain 404.
	snap, err := rt.svc.Graph(r.Context(), ws, caseID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rt.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	session := newViewSession(rt, ws, caseID, conn)
	session.run(snap)
}

func newViewSession(rt *Router, workspace, caseID string, conn *websocket.Conn) *viewSession {
	s := &viewSession{
		id:      uuid.NewString(),
		caseID:  caseID,
		conn:    conn,
		svc:     rt.svc,
		limiter: rate.NewLimiter(gestureRate, gestureBurst),
		out:     make(chan any, outBufferSize),
		done:    make(chan struct{}),
	}
	s.logger = rt.logger.With(
		zap.String("sessionID", s.id),
		zap.String("caseID", caseID),
	)
	s.controller = layout.NewController(layout.Options{
		FrameInterval: rt.frameInterval,
		OnFrame:       s.enqueueFrame,
		Logger:        s.logger,
	})
	s.sub = rt.svc.Subscribe(workspace, caseID)
	return s
}

// run drives the session. The hello message is queued before the controller
// starts ticking, so it always precedes the first frame.
func (s *viewSession) run(snap *reasoning.GraphSnapshot) {
	metrics.Default().AddViewSessions(1)
	defer s.close()

	s.enqueue(helloMessage{
		Type:      "hello",
		SessionID: s.id,
		CaseID:    s.caseID,
		Snapshot:  snap,
		Transform: s.controller.Transform(),
	})
	s.controller.Acquire(snap)

	go s.writePump()
	s.logger.Info("view session opened")
	s.readPump()
}

// close tears the session down: controller released, subscription dropped,
// connection closed. Safe from any goroutine; only the first call does work.
func (s *viewSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.controller.Cleanup()
		s.svc.Unsubscribe(s.sub)
		_ = s.conn.Close()
		metrics.Default().AddViewSessions(-1)
		s.logger.Info("view session closed")
	})
}

// enqueue queues a message for the writer pump without ever blocking the
// caller. A full queue drops the message; the next frame supersedes it.
func (s *viewSession) enqueue(msg any) {
	select {
	case <-s.done:
	case s.out <- msg:
	default:
		s.logger.Debug("outbound queue full, dropping message")
	}
}

func (s *viewSession) enqueueFrame(f layout.Frame) {
	s.enqueue(frameMessage{
		Type:      "frame",
		Positions: f.Positions,
		Alpha:     f.Alpha,
		Transform: f.Transform,
	})
}

// writePump is the sole writer on the connection. Snapshot updates from the
// case feed are merged into the layout before being forwarded.
func (s *viewSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-s.done:
			return
		case snap, ok := <-s.sub.C():
			if !ok {
				// case deleted, or the service is shutting down
				_ = s.writeJSON(errorMessage{Type: "error", Message: "case is gone"})
				return
			}
			s.controller.Update(snap)
			if err := s.writeJSON(snapshotMessage{Type: "snapshot", Snapshot: snap}); err != nil {
				return
			}
		case msg := <-s.out:
			if err := s.writeJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *viewSession) writeJSON(v any) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(v); err != nil {
		s.logger.Debug("websocket write failed", zap.Error(err))
		return err
	}
	return nil
}

// readPump decodes client gestures until the connection drops. Freeze stops
// the layout for good, but pan and zoom keep applying to the frozen scene.
func (s *viewSession) readPump() {
	s.conn.SetReadLimit(maxGestureSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		if !s.limiter.Allow() {
			// gesture storm: shed rather than disconnect
			continue
		}

		var msg gestureMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.enqueue(errorMessage{Type: "error", Message: "malformed gesture payload"})
			continue
		}

		switch msg.Type {
		case "wheel":
			s.controller.Wheel(msg.Delta, msg.X, msg.Y)
		case "drag":
			s.controller.Drag(msg.DX, msg.DY)
		case "freeze":
			s.controller.Stop()
		default:
			s.enqueue(errorMessage{Type: "error", Message: fmt.Sprintf("unknown message type %q", msg.Type)})
		}
	}
}
