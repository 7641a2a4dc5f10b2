// Package multiplexhost implements the shared-worker analogue: a process
// that owns exactly one MQTT broker connection and multiplexes it across
// many sessions connected over websocket ports.
package multiplexhost

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	xlog "github.com/knightuniverse/mqtt-service/internal/log"
	"github.com/knightuniverse/mqtt-service/internal/set"
	"github.com/knightuniverse/mqtt-service/transport"
)

// Config configures the Host's lazily-constructed broker connection.
type Config struct {
	ClientID  string
	ServerURL string
	Settings  transport.ConnectionSettings
}

// Host owns one MQTT client (built lazily on the first port's connect
// request), the set of currently-live ports, and the set of topics
// currently subscribed at the broker (for subscribe dedup).
type Host struct {
	cfg Config

	mu           sync.Mutex
	client       transport.Transport
	isSettingUp  bool
	isSettled    bool
	ports        map[*port]struct{}
	subscribed   *set.Set[string]

	upgrader websocket.Upgrader
	logger   xlog.Logger
}

// New creates a Host. Call ServeHTTP to accept session
// connections; the real broker connection is not made until the first
// ActionMqttConnect arrives.
func New(cfg Config, logger *slog.Logger) *Host {
	return &Host{
		cfg:        cfg,
		ports:      make(map[*port]struct{}),
		subscribed: set.New[string](),
		upgrader:   websocket.Upgrader{},
		logger:     xlog.Wrap(logger),
	}
}

// ServeHTTP upgrades each incoming connection to a websocket port and runs
// its message loop until it disconnects.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error(r.Context(), err)
		return
	}
	h.acceptPort(conn)
}

func (h *Host) acceptPort(conn *websocket.Conn) {
	p := newPort(conn)

	h.mu.Lock()
	h.ports[p] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.ports, p)
		h.mu.Unlock()
		p.close()
	}()

	ctx := context.Background()
	for {
		env, err := p.read()
		if err != nil {
			return
		}
		h.handleAction(ctx, p, env)
	}
}

func (h *Host) handleAction(ctx context.Context, p *port, env transport.Envelope) {
	switch transport.WorkerAction(env.Type) {
	case transport.ActionMqttConnect:
		h.handleConnect(ctx, p)
	case transport.ActionMqttEnd:
		// A session's own End only closes its port, handled by the read
		// loop returning; the shared broker connection outlives it.
	case transport.ActionMqttReconnect:
		h.handleReconnect(ctx)
	case transport.ActionMqttSubscribe:
		h.handleSubscribe(ctx, env)
	case transport.ActionMqttUnsubscribe:
		h.handleUnsubscribe(ctx, env)
	case transport.ActionMqttPublish:
		h.handlePublish(ctx, env)
	case transport.ActionTabUnload:
		// read loop's defer closes the port.
	}
}

// handleConnect: if another port's connect is mid-flight, no-op (the
// broadcast connect feedback on settlement will reach this port too); if
// already settled, unicast a synthetic connack to just this newcomer;
// otherwise build the client.
func (h *Host) handleConnect(ctx context.Context, p *port) {
	h.mu.Lock()
	switch {
	case h.isSettingUp:
		h.mu.Unlock()
		return
	case h.isSettled:
		h.mu.Unlock()
		h.unicastConnectAck(p)
		return
	}
	h.isSettingUp = true
	h.mu.Unlock()

	client := transport.NewDirect(h.cfg.Settings, h.logger.Wrapped)
	h.registerClientListeners(client)

	if err := client.Connect(ctx); err != nil {
		h.logger.Error(ctx, err)
		h.mu.Lock()
		h.isSettingUp = false
		h.mu.Unlock()
		h.broadcast(transport.FeedbackMqttError, transport.ArgsMqttError{Error: err.Error()})
		return
	}

	h.mu.Lock()
	h.client = client
	h.isSettingUp = false
	h.isSettled = true
	h.mu.Unlock()
}

func (h *Host) unicastConnectAck(p *port) {
	env, err := transport.Encode(string(transport.FeedbackMqttConnect), transport.ArgsMqttConnect{
		Connack: &transport.ConnackPayload{ReturnCode: 0},
	})
	if err != nil {
		return
	}
	_ = p.write(env)
}

func (h *Host) registerClientListeners(client transport.Transport) {
	client.AddEventListener(transport.EventConnect, transport.ConnectEventHandler(func(ev *transport.ConnectEvent) {
		var code byte
		if ev != nil {
			code = ev.ReasonCode
		}
		h.broadcast(transport.FeedbackMqttConnect, transport.ArgsMqttConnect{
			Connack: &transport.ConnackPayload{ReturnCode: code},
		})
	}))
	client.AddEventListener(transport.EventReconnect, func() {
		h.broadcast(transport.FeedbackMqttReconnect, struct{}{})
	})
	client.AddEventListener(transport.EventDisconnect, transport.DisconnectEventHandler(func(ev *transport.DisconnectEvent) {
		h.broadcast(transport.FeedbackMqttDisconnect, transport.ArgsMqttDisconnect{ReasonCode: ev.ReasonCode})
	}))
	client.AddEventListener(transport.EventOffline, func() {
		h.broadcast(transport.FeedbackMqttOffline, struct{}{})
	})
	client.AddEventListener(transport.EventError, transport.ErrorHandler(func(err error) {
		h.broadcast(transport.FeedbackMqttError, transport.ArgsMqttError{Error: err.Error()})
	}))
	client.AddEventListener(transport.EventEnd, func() {
		h.onEnd()
	})
	client.AddEventListener(transport.EventMessage, transport.MessageHandler(func(_ context.Context, msg *transport.Message) {
		h.broadcast(transport.FeedbackMqttMessage, transport.ArgsMqttMessage{
			Topic:   msg.Topic,
			Payload: msg.Payload,
			QoS:     msg.PublishOptions.QoS,
		})
		if msg.Ack != nil {
			msg.Ack()
		}
	}))
}

// onEnd broadcasts MqttEnd, empties the port set, and resets both
// settlement flags so a future connect rebuilds the client from scratch.
func (h *Host) onEnd() {
	h.broadcast(transport.FeedbackMqttEnd, struct{}{})

	h.mu.Lock()
	for p := range h.ports {
		delete(h.ports, p)
	}
	h.client = nil
	h.isSettingUp = false
	h.isSettled = false
	h.subscribed = set.New[string]()
	h.mu.Unlock()
}

func (h *Host) handleReconnect(ctx context.Context) {
	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client == nil {
		return
	}
	if err := client.Reconnect(ctx); err != nil {
		h.logger.Error(ctx, err)
	}
}

// handleSubscribe implements the dedup contract: only topics not already
// subscribed get a real broker SUBSCRIBE; the subscribed set is updated on
// resolve so a later duplicate from any port is a no-op at the broker.
func (h *Host) handleSubscribe(ctx context.Context, env transport.Envelope) {
	var args transport.ArgsMqttSubscribe
	if err := decodeArgs(env, &args); err != nil {
		return
	}

	h.mu.Lock()
	client := h.client
	already := h.subscribed.Contains(args.Topic)
	h.mu.Unlock()
	if client == nil {
		return
	}

	if already {
		h.broadcast(transport.FeedbackSubscribeResolve, transport.ArgsMqttSubscribe{
			Topic:   args.Topic,
			Granted: &transport.Ack{},
		})
		return
	}

	ack, err := client.Subscribe(ctx, args.Topic, transport.WithQoS(args.Options.QoS))
	if err != nil {
		h.broadcast(transport.FeedbackSubscribeReject, transport.ArgsMqttSubscribe{
			Topic: args.Topic,
			Error: err.Error(),
		})
		return
	}

	h.mu.Lock()
	h.subscribed.Add(args.Topic)
	h.mu.Unlock()

	h.broadcast(transport.FeedbackSubscribeResolve, transport.ArgsMqttSubscribe{
		Topic:   args.Topic,
		Granted: ack,
	})
}

// handleUnsubscribe removes topic from the subscribed set and issues a real
// UNSUBSCRIBE only if it was present, per the dedup contract's mirror image.
func (h *Host) handleUnsubscribe(ctx context.Context, env transport.Envelope) {
	var args transport.ArgsMqttUnsubscribe
	if err := decodeArgs(env, &args); err != nil {
		return
	}

	h.mu.Lock()
	client := h.client
	was := h.subscribed.Contains(args.Topic)
	if was {
		h.subscribed.Remove(args.Topic)
	}
	h.mu.Unlock()

	if client == nil || !was {
		return
	}
	if _, err := client.Unsubscribe(ctx, args.Topic); err != nil {
		h.logger.Error(ctx, err)
	}
}

func (h *Host) handlePublish(ctx context.Context, env transport.Envelope) {
	var args transport.ArgsMqttPublish
	if err := decodeArgs(env, &args); err != nil {
		return
	}

	h.mu.Lock()
	client := h.client
	h.mu.Unlock()
	if client == nil {
		return
	}
	if err := client.Publish(ctx, args.Topic, args.Payload); err != nil {
		h.logger.Error(ctx, err)
	}
}

// broadcast sends feedback to every currently-live port.
func (h *Host) broadcast(kind transport.WorkerFeedback, args any) {
	env, err := transport.Encode(string(kind), args)
	if err != nil {
		return
	}

	h.mu.Lock()
	ports := make([]*port, 0, len(h.ports))
	for p := range h.ports {
		ports = append(ports, p)
	}
	h.mu.Unlock()

	for _, p := range ports {
		_ = p.write(env)
	}
}

func decodeArgs(env transport.Envelope, dst any) error {
	return json.Unmarshal(env.Args, dst)
}

// shutdownTimeout bounds how long ServeHTTP's caller should wait for ports
// to drain when stopping the host process.
const shutdownTimeout = 5 * time.Second
