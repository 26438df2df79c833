package mesh

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/relaymesh/kernel/pkg/types"
)

// client is the synthetic types.Client registered with the Hub for a
// ready peer-mesh connection. Its Send writes one "message" envelope per
// call; its Close tears down the underlying socket.
type client struct {
	id       types.ClientID
	remoteID string
	conn     net.Conn
	writeMu  sync.Mutex
}

func newClient(remoteID string, conn net.Conn) *client {
	return &client{
		id:       types.ClientID(fmt.Sprintf("mesh:%s", remoteID)),
		remoteID: remoteID,
		conn:     conn,
	}
}

func (c *client) ID() types.ClientID { return c.id }

func (c *client) Transport() string { return "mesh" }

func (c *client) Send(msg types.Message) error {
	data, err := json.Marshal(messageEnvelope(msg))
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(data)
	return err
}

func (c *client) Close(reason string) error {
	return c.conn.Close()
}

// writeHello sends the handshake envelope on a conn that has not yet
// been wrapped in a *client — at most one goroutine touches conn at this
// point, so no locking is needed.
func writeHello(conn net.Conn, nodeID string) error {
	data, err := json.Marshal(helloEnvelope(nodeID))
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = conn.Write(data)
	return err
}
