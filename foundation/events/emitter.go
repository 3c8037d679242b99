package events

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Emitter publishes events to a NATS subject.
type Emitter struct {
	conn    *nats.Conn
	subject string
}

// NewEmitter connects to the NATS server. The connection keeps reconnecting
// in the background if the server goes away.
func NewEmitter(natsURL string, subject string, name string) (*Emitter, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	e := Emitter{
		conn:    conn,
		subject: subject,
	}

	return &e, nil
}

// Emit publishes the event on the emitter subject. The event type is
// appended so subscribers can filter with a wildcard.
func (e *Emitter) Emit(ev Event) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}

	if err := e.conn.Publish(e.subject+"."+ev.Type, data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}

	return nil
}

// Close flushes pending events and closes the connection.
func (e *Emitter) Close() {
	if e.conn == nil {
		return
	}

	e.conn.Flush()
	e.conn.Close()
}
