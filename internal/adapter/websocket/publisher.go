package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeBunny2022/rtsp-overlay/internal/registry"
	"github.com/gorilla/websocket"
)

var (
	pingInterval = 30 * time.Second
	pingTimeout  = 5 * time.Second
	writeTimeout = 2 * time.Second
)

// Subscriber streams the overlay snapshots of one stream.
type Subscriber interface {
	Subscribe(ctx context.Context, streamID string) (<-chan *registry.Snapshot, func(), error)
}

// Observer is notified of connection lifecycle and pushes. metrics.WebSocketMetrics implements it.
type Observer interface {
	ConnectionOpened(streamID string)
	ConnectionClosed(streamID string)
	MessagePublished(streamID string)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened(string) {}
func (nopObserver) ConnectionClosed(string) {}
func (nopObserver) MessagePublished(string) {}

// Publisher pushes the latest overlay snapshot of a stream to WebSocket
// clients: once on connect, then after every change.
type Publisher struct {
	subscriber Subscriber
	observer   Observer
	upgrader   websocket.Upgrader
}

func NewPublisher(subscriber Subscriber, checkOrigin func(r *http.Request) bool, observer Observer) *Publisher {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Publisher{
		subscriber: subscriber,
		observer:   observer,
		upgrader:   websocket.Upgrader{CheckOrigin: checkOrigin},
	}
}

// Subscribe registers for snapshots before the upgrade so a store outage is
// still reported as a plain HTTP error.
func (p *Publisher) Subscribe(ctx context.Context, streamID string) (<-chan *registry.Snapshot, func(), error) {
	return p.subscriber.Subscribe(ctx, streamID)
}

// Serve upgrades the request and pushes snapshots from updates until the
// client goes away or ctx ends. It takes ownership of cancel.
func (p *Publisher) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, streamID string, updates <-chan *registry.Snapshot, cancel func()) error {
	defer cancel()

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		return nil
	}
	defer conn.Close() //nolint:errcheck

	p.observer.ConnectionOpened(streamID)
	defer p.observer.ConnectionClosed(streamID)
	slog.Debug("Overlay subscriber connected", "stream_id", streamID, "remote_addr", r.RemoteAddr)

	closed := make(chan struct{})
	go readUntilClosed(conn, closed)

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := conn.WriteJSON(snap); err != nil {
				slog.Debug("Overlay push failed", "stream_id", streamID, "error", err)
				return nil
			}
			p.observer.MessagePublished(streamID)

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}

		case <-closed:
			slog.Debug("Overlay subscriber disconnected", "stream_id", streamID)
			return nil

		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout)) //nolint:errcheck
			return nil
		}
	}
}

// readUntilClosed drains client frames so pongs and close frames are
// processed, and signals when the connection is gone.
func readUntilClosed(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout)) //nolint:errcheck
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
