package broadcast

import (
	"net"
	"time"
)

// writeTimeout bounds how long one subscriber write may stall the fan-out.
const writeTimeout = 100 * time.Millisecond

// connSubscriber adapts a raw TCP connection to the Subscriber contract with
// newline framing.
type connSubscriber struct {
	conn net.Conn
}

func newConnSubscriber(conn net.Conn) *connSubscriber {
	return &connSubscriber{conn: conn}
}

func (s *connSubscriber) Send(data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := s.conn.Write(append(data, '\n'))
	return err
}

func (s *connSubscriber) Close() error {
	return s.conn.Close()
}

func (s *connSubscriber) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}
