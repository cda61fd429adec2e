package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// wsWriteWait bounds one websocket write during fan-out.
const wsWriteWait = 10 * time.Second

// handleSubscribe upgrades the connection and registers it as a change feed
// subscriber. The read loop exists only to notice the peer going away.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := &wsSubscriber{conn: conn}
	s.registry.Register(sub)
	defer s.registry.Unregister(sub)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}

// wsSubscriber adapts a websocket connection to the Subscriber contract.
// Writes arrive serialized from the registry, satisfying gorilla's single
// writer requirement.
type wsSubscriber struct {
	conn *websocket.Conn
}

func (s *wsSubscriber) Send(data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSubscriber) Close() error {
	return s.conn.Close()
}

func (s *wsSubscriber) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}
