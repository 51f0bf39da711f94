package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/roman-kulish/pioneer-control/internal/dispatch"
)

var ErrControllerInUse = errors.New("another controller is connected")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// controller admits a single control socket at a time
type controller struct {
	mu    sync.Mutex
	inuse bool
	conn  *websocket.Conn
}

func (c *controller) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inuse {
		return ErrControllerInUse
	}
	c.inuse = true
	return nil
}

func (c *controller) attach(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = conn
}

func (c *controller) release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inuse = false
	c.conn = nil
}

// close drops the connected controller, if any
func (c *controller) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// handleControl serves the controller socket. Each message is a JSON object
// carrying "action" and its parameters and is answered with one result.
// Holding a direction means re-sending it faster than the flush window.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Cache-Control", "no-cache")

	if err := s.controller.acquire(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	defer s.controller.release()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("upgrading control socket: %s", err.Error()))
		return
	}
	defer ws.Close()

	s.controller.attach(ws)
	s.logger.Info("controller connected", slog.String("remote", r.RemoteAddr))

	for {
		var fields map[string]any
		if err = ws.ReadJSON(&fields); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn(fmt.Sprintf("reading control socket: %s", err.Error()))
			}
			break
		}

		params := make(dispatch.Params, len(fields))
		for k, v := range fields {
			params[k] = stringify(v)
		}
		action := params["action"]
		delete(params, "action")

		res := s.handler.Handle(r.Context(), action, params)
		if err = ws.WriteJSON(res); err != nil {
			s.logger.Warn(fmt.Sprintf("writing control socket: %s", err.Error()))
			break
		}
	}

	s.logger.Info("controller disconnected", slog.String("remote", r.RemoteAddr))
}
