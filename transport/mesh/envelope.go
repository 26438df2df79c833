// Package mesh implements the peer-mesh transport of spec.md §4.6: a
// flat TCP federation where every node may dial its configured peers and
// accept inbound connections, exchanging a line-delimited JSON envelope
// protocol. Each live peer surfaces in the Hub as a synthetic
// types.Client named "mesh:<nodeId>".
package mesh

import "github.com/relaymesh/kernel/pkg/types"

// envelope is the wire unit of the peer-mesh protocol: one JSON object
// per line, newline-terminated. Kind "hello" carries NodeID and is
// exchanged once per connection before any "message" envelope is sent.
type envelope struct {
	Kind    string         `json:"kind"`
	NodeID  string         `json:"nodeId,omitempty"`
	Message *types.Message `json:"message,omitempty"`
}

func helloEnvelope(nodeID string) envelope {
	return envelope{Kind: "hello", NodeID: nodeID}
}

func messageEnvelope(msg types.Message) envelope {
	return envelope{Kind: "message", Message: &msg}
}
