package multiplexhost

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/knightuniverse/mqtt-service/transport"
)

// port is one session's connection to the Host, the Go analogue of a
// browser MessagePort.
type port struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  bool
}

func newPort(conn *websocket.Conn) *port {
	return &port{id: uuid.NewString(), conn: conn}
}

func (p *port) read() (transport.Envelope, error) {
	var env transport.Envelope
	err := p.conn.ReadJSON(&env)
	return env, err
}

func (p *port) write(env transport.Envelope) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.closed {
		return nil
	}
	return p.conn.WriteJSON(env)
}

func (p *port) close() {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	_ = p.conn.Close()
}
