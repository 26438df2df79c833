// Package kernel implements the dispatch kernel described in spec.md
// §4.4: a per-type and wildcard handler registry, the ack protocol, and
// the per-invocation toolkit handlers use to reply, send, broadcast, and
// manipulate rooms and presence.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/relaymesh/kernel/pkg/codec"
	"github.com/relaymesh/kernel/pkg/hub"
	"github.com/relaymesh/kernel/pkg/logging"
	"github.com/relaymesh/kernel/pkg/metrics"
	"github.com/relaymesh/kernel/pkg/types"
)

// Handler is a user-supplied procedure invoked for a matching message
// type. Returning a non-nil error is isolated by the kernel and reported
// to the originator as system:error; it never aborts dispatch.
type Handler func(tk *Toolkit, msg types.Message) error

// EventSpec names a handler template with bracketed placeholders, e.g.
// {Template: "chat:join:[roomId]", Params: []string{"lobby"}} resolves
// to the concrete type "chat:join:lobby".
type EventSpec struct {
	Template string
	Params   []string
}

var reservedTypes = map[string]struct{}{
	types.TypeSystemAck:   {},
	types.TypeSystemError: {},
	types.TypeSystemReply: {},
}

var placeholderPattern = regexp.MustCompile(`\[[A-Za-z0-9_]+\]`)

// resolveTemplate substitutes each bracketed placeholder in template, in
// order, with the corresponding entry in params.
func resolveTemplate(template string, params []string) (string, error) {
	placeholders := placeholderPattern.FindAllStringIndex(template, -1)
	if len(placeholders) != len(params) {
		return "", fmt.Errorf("kernel: template %q has %d placeholders, got %d params", template, len(placeholders), len(params))
	}
	i := 0
	return placeholderPattern.ReplaceAllStringFunc(template, func(string) string {
		v := params[i]
		i++
		return v
	}), nil
}

// Options configures a new Kernel.
type Options struct {
	Transports []Transport
	LogLevel   logging.Level
}

type inboundMessage struct {
	msg types.Message
	id  types.ClientID
}

// Kernel is the dispatch kernel: handler registry plus the Hub it routes
// through.
type Kernel struct {
	mu         sync.Mutex
	hub        *hub.Hub
	log        *logging.Logger
	typed      map[string][]Handler
	wildcard   []Handler
	transports []Transport
	started    bool

	inbox  chan inboundMessage
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Kernel bound to a fresh Hub.
func New(opts Options) *Kernel {
	log, err := logging.New(nonEmptyLevel(opts.LogLevel), false)
	if err != nil {
		log = logging.Nop()
	}
	k := &Kernel{
		hub:        hub.New(log),
		log:        log,
		typed:      make(map[string][]Handler),
		transports: append([]Transport{}, opts.Transports...),
	}
	return k
}

func nonEmptyLevel(l logging.Level) logging.Level {
	if l == "" {
		return logging.LevelInfo
	}
	return l
}

// Hub exposes the underlying Hub for advanced embedding scenarios (e.g.
// registering clients or delivering messages without a transport).
// Transports receive the Hub through Transport.Start instead.
func (k *Kernel) Hub() *hub.Hub {
	return k.hub
}

// UseTransport registers a transport. If the kernel has already started,
// the transport is started immediately, matching spec.md §4.4.
func (k *Kernel) UseTransport(t Transport) {
	k.mu.Lock()
	k.transports = append(k.transports, t)
	started := k.started
	k.mu.Unlock()

	if started {
		go func() {
			if err := t.Start(context.Background(), k.hub); err != nil {
				k.log.Error("transport failed to start after kernel start", logging.Err(err))
			}
		}()
	}
}

// On registers a handler for event, which is either a string type
// (including the wildcard "*") or an EventSpec template. Registering a
// reserved system:* type returns an error.
func (k *Kernel) On(event any, handler Handler) error {
	eventType, err := resolveEvent(event)
	if err != nil {
		return err
	}
	if _, reserved := reservedTypes[eventType]; reserved {
		return fmt.Errorf("kernel: %q is a reserved system event type", eventType)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if eventType == "*" {
		k.wildcard = append(k.wildcard, handler)
		return nil
	}
	k.typed[eventType] = append(k.typed[eventType], handler)
	return nil
}

func resolveEvent(event any) (string, error) {
	switch v := event.(type) {
	case string:
		return v, nil
	case EventSpec:
		return resolveTemplate(v.Template, v.Params)
	default:
		return "", errors.New("kernel: event must be a string type or an EventSpec")
	}
}

// Start is idempotent. It wires the Hub's event handlers, starts the
// single dispatch worker, and starts every transport in parallel. Every
// transport start failure is returned, joined into one error; kernel
// state is left started regardless so Stop can still clean up
// transports that did come up.
func (k *Kernel) Start(ctx context.Context) error {
	k.mu.Lock()
	if k.started {
		k.mu.Unlock()
		return nil
	}
	k.started = true
	k.inbox = make(chan inboundMessage, 256)
	k.stopCh = make(chan struct{})
	transports := append([]Transport{}, k.transports...)
	k.mu.Unlock()

	k.hub.SetHandlers(hub.EventHandlers{
		OnConnect:    func(id types.ClientID) {},
		OnDisconnect: func(id types.ClientID, reason string) {},
		OnMessage: func(msg types.Message, id types.ClientID) {
			select {
			case k.inbox <- inboundMessage{msg: msg, id: id}:
			case <-k.stopCh:
			}
		},
	})

	k.wg.Add(1)
	go k.dispatchLoop()

	var (
		errMu sync.Mutex
		errs  []error
		wg    sync.WaitGroup
	)
	for _, t := range transports {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.Start(ctx, k.hub); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Stop awaits every transport's Stop, then shuts down the dispatch
// worker. Calling Stop before Start is a no-op.
func (k *Kernel) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.started {
		k.mu.Unlock()
		return nil
	}
	transports := append([]Transport{}, k.transports...)
	k.started = false
	k.mu.Unlock()

	var (
		errMu sync.Mutex
		errs  []error
		wg    sync.WaitGroup
	)
	for _, t := range transports {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.Stop(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		}()
	}
	wg.Wait()

	close(k.stopCh)
	k.wg.Wait()

	return errors.Join(errs...)
}

// Presence exposes a read-only view of presence snapshots.
func (k *Kernel) Presence() []types.Snapshot {
	return k.hub.PresenceList()
}

// Rooms exposes a read-only view: the client ids currently in room.
func (k *Kernel) Rooms(room string) []string {
	return k.hub.RoomList(room)
}

func (k *Kernel) dispatchLoop() {
	defer k.wg.Done()
	for {
		select {
		case in := <-k.inbox:
			k.dispatch(in.msg, in.id)
		case <-k.stopCh:
			// Drain anything already queued before exiting, so a message
			// decoded right before Stop still gets its ack/error handling.
			for {
				select {
				case in := <-k.inbox:
					k.dispatch(in.msg, in.id)
				default:
					return
				}
			}
		}
	}
}

// dispatch is the central algorithm of spec.md §4.4.
func (k *Kernel) dispatch(msg types.Message, id types.ClientID) {
	metrics.MessagesDispatched.WithLabelValues(msg.Type).Inc()

	k.mu.Lock()
	handlers := append([]Handler{}, k.typed[msg.Type]...)
	handlers = append(handlers, k.wildcard...)
	k.mu.Unlock()

	if len(handlers) == 0 {
		k.log.Debug("no handlers for message type", logging.String("type", msg.Type))
		if msg.Ack != "" {
			k.sendAck(id, msg.Ack)
		}
		return
	}

	if _, ok := k.hub.PresenceGet(id); !ok {
		// Client disconnected between Receive and dispatch; abort silently.
		return
	}

	tk := &Toolkit{k: k, clientID: id, msg: msg}
	for _, handler := range handlers {
		if err := k.invoke(handler, tk, msg); err != nil {
			metrics.HandlerErrors.WithLabelValues(msg.Type).Inc()
			k.log.Error("handler error", logging.String("type", msg.Type), logging.Err(err))
			k.sendError(id, "Internal handler error", err.Error())
		}
	}

	if msg.Ack != "" {
		k.sendAck(id, msg.Ack)
	}
}

// invoke runs a single handler with panic isolation, so a handler panic
// is contained exactly like a returned error.
func (k *Kernel) invoke(handler Handler, tk *Toolkit, msg types.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(tk, msg)
}

func (k *Kernel) sendAck(id types.ClientID, ack string) {
	payload, _ := codec.EncodePayload(map[string]string{"ack": ack})
	k.hub.Send(id, types.Message{Type: types.TypeSystemAck, Payload: payload})
}

func (k *Kernel) sendError(id types.ClientID, message, details string) {
	payload, _ := codec.EncodePayload(map[string]string{"message": message, "details": details})
	k.hub.Send(id, types.Message{Type: types.TypeSystemError, Payload: payload})
}
