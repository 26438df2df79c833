package websocket

import (
	"net"
	"sync"
	"time"

	"github.com/relaymesh/kernel/pkg/codec"
	"github.com/relaymesh/kernel/pkg/hub"
	"github.com/relaymesh/kernel/pkg/logging"
	"github.com/relaymesh/kernel/pkg/types"
)

// client wraps one hijacked net.Conn and implements types.Client. Writes
// are serialized through writeMu since multiple goroutines (dispatch
// replies, heartbeat pings) may write concurrently.
type client struct {
	id   types.ClientID
	conn net.Conn
	hub  *hub.Hub
	log  *logging.Logger

	heartbeatInterval time.Duration

	writeMu sync.Mutex

	aliveMu sync.Mutex
	alive   bool

	unregisterOnce sync.Once
	closeOnce      sync.Once
	stopHeartbeat  chan struct{}

	// onClose, when set, lets the owning transport drop its bookkeeping
	// entry for this client. Called at most once, from readLoop's cleanup.
	onClose func()
}

func newClient(conn net.Conn, h *hub.Hub, log *logging.Logger, heartbeatMs int) *client {
	return &client{
		id:                types.ClientID(newClientID()),
		conn:              conn,
		hub:               h,
		log:               log,
		heartbeatInterval: time.Duration(heartbeatMs) * time.Millisecond,
		alive:             true,
		stopHeartbeat:     make(chan struct{}),
	}
}

// ID implements types.Client.
func (c *client) ID() types.ClientID { return c.id }

// Transport implements types.Client.
func (c *client) Transport() string { return "websocket" }

// Send implements types.Client: encode msg as JSON and frame it as a
// single text frame.
func (c *client) Send(msg types.Message) error {
	data, err := codec.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return c.writeFrame(opText, data)
}

// Close implements types.Client: destroy the socket. The read loop
// observes the resulting error and performs the single unregister.
func (c *client) Close(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *client) writeFrame(opcode byte, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(encodeFrame(opcode, payload))
	return err
}

func (c *client) markAlive() {
	c.aliveMu.Lock()
	c.alive = true
	c.aliveMu.Unlock()
}

// checkAndResetAlive reports whether the connection was marked alive
// since the last heartbeat tick, and clears the flag for the next one.
func (c *client) checkAndResetAlive() bool {
	c.aliveMu.Lock()
	defer c.aliveMu.Unlock()
	was := c.alive
	c.alive = false
	return was
}

// readLoop accumulates bytes into a per-connection buffer and decodes as
// many complete frames as are available on each read, per spec.md §4.5.
// It owns the connection's lifetime: on exit it stops the heartbeat and
// unregisters the client from the Hub exactly once.
func (c *client) readLoop() {
	closeReason := "connection closed"
	defer func() {
		close(c.stopHeartbeat)
		c.conn.Close()
		c.unregisterOnce.Do(func() {
			c.hub.UnregisterClient(c.id, closeReason)
			if c.onClose != nil {
				c.onClose()
			}
		})
	}()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)

	for {
		n, err := c.conn.Read(tmp)
		if err != nil {
			return
		}
		c.markAlive()
		buf = append(buf, tmp[:n]...)

		for {
			fr, consumed, ok, ferr := decodeFrame(buf)
			if ferr != nil {
				c.log.Error("websocket: invalid frame, closing connection", logging.String("id", string(c.id)))
				closeReason = "invalid frame"
				return
			}
			if !ok {
				break
			}
			buf = buf[consumed:]

			switch fr.opcode {
			case opText:
				c.handleText(fr.payload)
			case opClose:
				closeReason = "peer closed"
				return
			case opPing:
				_ = c.writeFrame(opPong, fr.payload)
			case opPong:
				c.markAlive()
			default:
				// Ignore binary/continuation and any reserved opcode.
			}
		}
	}
}

func (c *client) handleText(payload []byte) {
	msg, err := codec.DecodeMessage(payload)
	if err != nil {
		c.log.Error("websocket: dropping malformed message", logging.String("id", string(c.id)), logging.Err(err))
		return
	}
	c.hub.Receive(msg, c.id)
}

// runHeartbeat closes the connection if no data or pong has arrived
// since the previous tick, otherwise sends an empty ping.
func (c *client) runHeartbeat() {
	if c.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHeartbeat:
			return
		case <-ticker.C:
			if !c.checkAndResetAlive() {
				c.conn.Close()
				return
			}
			_ = c.writeFrame(opPing, nil)
		}
	}
}
