package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocket keepalive tuning
const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 1024
)

// wsEnvelope wraps WebSocket messages with event discrimination, mirroring
// the named SSE events: "devices" carries a Payload, "error" an ErrorPayload.
type wsEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from arbitrary origins in lab deployments
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS handles one WebSocket subscriber with the same cadence and
// payload as the SSE stream. The read pump only watches for client close;
// subscribers send nothing meaningful upstream.
func (b *Broadcaster) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	subscriber := uuid.NewString()
	b.metrics.Subscribers.WithLabelValues("ws").Inc()
	defer b.metrics.Subscribers.WithLabelValues("ws").Dec()
	b.logger.Info("subscriber connected", "transport", "ws", "subscriber", subscriber)
	defer b.logger.Info("subscriber disconnected", "transport", "ws", "subscriber", subscriber)

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Read pump: detect client close or protocol errors
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	pinger := time.NewTicker(wsPingPeriod)
	defer pinger.Stop()

	for {
		if err := b.tickWS(ctx, conn); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-pinger.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ticker.C:
		}
	}
}

// tickWS sends one snapshot envelope. The returned error means the
// transport is gone; payload failures are reported in-band as an "error"
// envelope and the loop continues.
func (b *Broadcaster) tickWS(ctx context.Context, conn *websocket.Conn) error {
	payload, err := b.payload(ctx)
	var env wsEnvelope
	if err != nil {
		data, merr := json.Marshal(ErrorPayload{Error: err.Error()})
		if merr != nil {
			return merr
		}
		env = wsEnvelope{Event: "error", Data: data}
		b.metrics.EventsPublished.WithLabelValues("ws", "error").Inc()
	} else {
		data, merr := json.Marshal(payload)
		if merr != nil {
			return merr
		}
		env = wsEnvelope{Event: "devices", Data: data}
		b.metrics.EventsPublished.WithLabelValues("ws", "devices").Inc()
	}

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(env)
}
