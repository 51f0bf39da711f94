package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sasha-s/go-deadlock"

	"github.com/roman-kulish/pioneer-control/internal/telemetry"
)

const writeTimeout = time.Second

// broadcaster pushes telemetry snapshots to every subscribed socket
type broadcaster struct {
	provider telemetry.Provider
	interval time.Duration

	mu      deadlock.Mutex
	sockets []*websocket.Conn

	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

func newBroadcaster(provider telemetry.Provider, interval time.Duration) *broadcaster {
	return &broadcaster{
		provider: provider,
		interval: interval,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}
}

func (b *broadcaster) handler() http.Handler {
	return http.HandlerFunc(b.serve)
}

// serve registers the socket and blocks until the client goes away
func (b *broadcaster) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn(fmt.Sprintf("upgrading telemetry socket: %s", err.Error()))
		return
	}
	defer conn.Close()

	b.add(conn)
	defer b.remove(conn)

	b.logger.Debug("telemetry subscriber connected", slog.String("remote", r.RemoteAddr))

	// incoming messages are ignored, reading detects the close
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *broadcaster) add(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sockets = append(b.sockets, conn)
}

func (b *broadcaster) remove(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sock := range b.sockets {
		if sock == conn {
			b.sockets = append(b.sockets[:i], b.sockets[i+1:]...)
			break
		}
	}
}

func (b *broadcaster) start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-ticker.C:
				if tm := b.provider.Get(); tm != nil {
					b.send(tm)
				}
			}
		}
	}()
}

// send writes v to all sockets, dropping those that fail
func (b *broadcaster) send(v any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	alive := b.sockets[:0]
	for _, sock := range b.sockets {
		err := sock.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err == nil {
			err = sock.WriteJSON(v)
		}
		if err != nil {
			b.logger.Debug(fmt.Sprintf("dropping telemetry subscriber: %s", err.Error()))
			_ = sock.Close()
			continue
		}
		alive = append(alive, sock)
	}
	b.sockets = alive
}

// stop ends the publishing loop and closes every socket
func (b *broadcaster) stop() {
	if b.cancel != nil {
		b.cancel()
		b.wg.Wait()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sock := range b.sockets {
		_ = sock.Close()
	}
	b.sockets = nil
}
