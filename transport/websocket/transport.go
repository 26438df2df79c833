package websocket

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/relaymesh/kernel/pkg/hub"
	"github.com/relaymesh/kernel/pkg/logging"
)

// Options configures the WebSocket transport per spec.md §4.5. Engine
// lets a caller reuse an externally managed gin.Engine instead of having
// the transport bind its own listener.
type Options struct {
	Port                int
	Host                string
	Path                string
	HeartbeatIntervalMs int
	Logger              *logging.Logger

	// Engine, when set, is used instead of a freshly constructed
	// gin.Engine — the transport only registers its upgrade route on it
	// and never calls Run/ListenAndServe itself.
	Engine *gin.Engine
}

func (o Options) withDefaults() Options {
	if o.Port == 0 {
		o.Port = 7070
	}
	if o.Host == "" {
		o.Host = "0.0.0.0"
	}
	if o.HeartbeatIntervalMs == 0 {
		o.HeartbeatIntervalMs = 30000
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	return o
}

// Transport is the hand-rolled WebSocket server of spec.md §4.5.
type Transport struct {
	opts Options
	hub  *hub.Hub

	listener net.Listener
	server   *http.Server
	external bool

	mu        sync.Mutex
	clients   map[*client]struct{}
	clientsWG sync.WaitGroup
}

// New constructs a WebSocket transport. It does not bind anything until
// Start is called.
func New(opts Options) *Transport {
	return &Transport{opts: opts.withDefaults(), clients: make(map[*client]struct{})}
}

// Start implements kernel.Transport: it registers the upgrade route and,
// unless an external Engine was supplied, binds and serves its own
// listener. A bind failure is returned synchronously as a fatal error.
func (t *Transport) Start(ctx context.Context, h *hub.Hub) error {
	t.hub = h

	engine := t.opts.Engine
	if engine == nil {
		engine = gin.New()
		engine.Use(gin.Recovery())
	} else {
		t.external = true
	}

	route := t.opts.Path
	if route == "" {
		route = "/"
	}
	engine.Any(withWildcard(route), t.handleUpgrade)

	if t.external {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", t.opts.Host, t.opts.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("websocket: listen %s: %w", addr, err)
	}
	t.listener = ln
	t.server = &http.Server{Handler: engine}

	go func() {
		_ = t.server.Serve(ln)
	}()

	return nil
}

// withWildcard turns a path prefix into a gin route that matches the
// prefix itself and everything beneath it.
func withWildcard(path string) string {
	if strings.HasSuffix(path, "/*any") {
		return path
	}
	if path == "/" {
		return "/*any"
	}
	return strings.TrimSuffix(path, "/") + "/*any"
}

// Stop implements kernel.Transport: close every connection this
// transport accepted, then tear down the listener we own (a no-op for
// an external engine). It never touches clients owned by other
// transports sharing the same Hub.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	clients := make([]*client, 0, len(t.clients))
	for c := range t.clients {
		clients = append(clients, c)
	}
	t.mu.Unlock()
	for _, c := range clients {
		_ = c.Close("server shutting down")
	}
	t.clientsWG.Wait()

	if t.external || t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}

// handleUpgrade performs the RFC 6455 handshake by hand, then hands the
// hijacked connection off to a client's read/heartbeat loops.
func (t *Transport) handleUpgrade(c *gin.Context) {
	req := c.Request

	if !strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
		c.Status(http.StatusBadRequest)
		return
	}
	if t.opts.Path != "" && !strings.HasPrefix(req.URL.Path, t.opts.Path) {
		c.Status(http.StatusNotFound)
		return
	}
	key := req.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		c.Status(http.StatusBadRequest)
		return
	}

	hijacker, ok := c.Writer.(http.Hijacker)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}
	conn, _, err := hijacker.Hijack()
	if err != nil {
		t.opts.Logger.Error("websocket: hijack failed", logging.Err(err))
		return
	}

	accept := computeAcceptKey(key)
	response := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n\r\n"
	if _, err := conn.Write([]byte(response)); err != nil {
		conn.Close()
		return
	}

	cl := newClient(conn, t.hub, t.opts.Logger, t.opts.HeartbeatIntervalMs)
	cl.onClose = func() {
		t.mu.Lock()
		delete(t.clients, cl)
		t.mu.Unlock()
	}
	t.hub.RegisterClient(cl)

	t.mu.Lock()
	t.clients[cl] = struct{}{}
	t.mu.Unlock()

	t.clientsWG.Add(1)
	go func() {
		defer t.clientsWG.Done()
		cl.readLoop()
	}()
	go cl.runHeartbeat()
}
