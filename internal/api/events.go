package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bryanchriswhite/PoseStreamer/internal/logger"
	"github.com/bryanchriswhite/PoseStreamer/internal/pose"
)

const (
	eventBuffer  = 16
	writeTimeout = 5 * time.Second
)

// eventClient forwards dispatcher callbacks to one WebSocket. Callbacks run
// on the UI loop and never block; a slow client loses events.
type eventClient struct {
	s      *Server
	events chan interface{}
}

func (c *eventClient) push(ev interface{}) {
	select {
	case c.events <- ev:
	default:
		c.s.eventDrop.Add(1)
	}
}

func (c *eventClient) OnResult(r pose.DetectionResult) {
	c.push(pose.NewResultEvent(r))
}

func (c *eventClient) OnError(err *pose.Error) {
	c.push(pose.NewErrorEvent(err))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	client := &eventClient{s: s, events: make(chan interface{}, eventBuffer)}
	unsubscribe := s.ctrl.Subscribe(client)
	defer unsubscribe()

	// the read side only detects the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Debug().Str("remote", r.RemoteAddr).Msg("Event client connected")
	defer log.Debug().Str("remote", r.RemoteAddr).Msg("Event client disconnected")

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev := <-client.events:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug().Err(err).Msg("WebSocket write error")
				}
				return
			}
			s.eventsOut.Add(1)
		}
	}
}
