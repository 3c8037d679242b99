package network

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Set of connection timings and limits.
const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	handshakeTimeout = 10 * time.Second
	maxMessageSize   = 32 << 20
	sendQueue        = 256
)

// Conn is an established and handshaken connection to a peer. Reads happen
// on the goroutine calling Run and all writes happen on a single writer
// goroutine so Send is safe from any goroutine.
type Conn struct {
	ws          *websocket.Conn
	peerID      string
	role        string
	address     string
	observed    string
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	intentional atomic.Bool
}

func newConn(ws *websocket.Conn, peerID string, role string, address string, observed string) *Conn {
	return &Conn{
		ws:       ws,
		peerID:   peerID,
		role:     role,
		address:  address,
		observed: observed,
		send:     make(chan []byte, sendQueue),
		done:     make(chan struct{}),
	}
}

// PeerID returns the node id of the remote peer.
func (c *Conn) PeerID() string {
	return c.peerID
}

// Role returns the connection role as seen from this node.
func (c *Conn) Role() string {
	return c.role
}

// Address returns the server address the remote peer advertised. It can be
// empty for inbound peers that run no reachable server.
func (c *Conn) Address() string {
	return c.address
}

// Observed returns this node's address as observed by the remote peer. It is
// only known on outbound connections.
func (c *Conn) Observed() string {
	return c.observed
}

// Send queues the message for the writer goroutine.
func (c *Conn) Send(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return fmt.Errorf("%w: send queue full for peer %s", ErrNetwork, c.peerID)
	}
}

// Close terminates the connection. The writer goroutine started by Run
// flushes the queued messages before the socket closes, so every Conn must
// be Run. It is safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// CloseIntentional terminates the connection and marks it so the owner does
// not try to reconnect.
func (c *Conn) CloseIntentional() {
	c.intentional.Store(true)
	c.Close()
}

// Intentional reports whether the connection was closed on purpose.
func (c *Conn) Intentional() bool {
	return c.intentional.Load()
}

// Run starts the writer goroutine and reads messages until the connection
// fails or is closed. Messages are delivered to onMessage in receive order.
// onClose is called exactly once with the reason, which is nil when the
// connection was closed locally.
func (c *Conn) Run(onMessage func(*Conn, Message), onClose func(*Conn, error)) {
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	err := c.readLoop(onMessage)
	c.Close()
	wg.Wait()

	onClose(c, err)
}

func (c *Conn) readLoop(onMessage func(*Conn, Message)) error {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("%w: %w", ErrClosed, err)
			}
			return fmt.Errorf("%w: %w", ErrNetwork, err)
		}

		msg, err := Decode(data)
		if err != nil {
			return err
		}

		onMessage(c, msg)
	}
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes what is still queued and a close frame so the messages
// sent right before a close reach the peer.
func (c *Conn) flush() {
	deadline := time.Now().Add(writeWait)

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(deadline)
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			c.ws.WriteControl(websocket.CloseMessage, frame, deadline)
			return
		}
	}
}

// IsClosed reports whether the error describes a connection closed by the
// remote peer.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}
