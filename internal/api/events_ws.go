package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/technosupport/firewatch/internal/events"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browsers authenticate with ?token=; CORS origins are enforced upstream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GET /api/v1/events streams alarm events as JSON text frames. Non-admin
// callers only receive events for their own alarms and source faults.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	caller := principal(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.Hub.Subscribe("ws", s.WSBuffer, events.AlarmKinds...)
	defer s.Hub.Unsubscribe(sub)

	// Reader goroutine handles pongs and detects client close.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case e, ok := <-sub.C():
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if !visibleTo(e, caller.IsAdmin(), caller.UserID) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}

func visibleTo(e events.Event, admin bool, userID int64) bool {
	if admin || e.Kind == events.SourceFault {
		return true
	}
	return e.Alarm != nil && e.Alarm.OwnerID == userID
}
