package kernel

import (
	"context"

	"github.com/relaymesh/kernel/pkg/hub"
)

// Transport is the interface every pluggable transport implements.
// Start binds whatever listener the transport needs and must return once
// listening; it spawns its own background goroutines for the accept/read
// loop. A bind failure propagates as a fatal error out of Kernel.Start.
// Stop must close every connection the transport owns and block until
// that is complete.
type Transport interface {
	Start(ctx context.Context, h *hub.Hub) error
	Stop(ctx context.Context) error
}
