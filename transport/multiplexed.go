package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/knightuniverse/mqtt-service/internal/list"
	xlog "github.com/knightuniverse/mqtt-service/internal/log"
	"github.com/knightuniverse/mqtt-service/mqtterrors"
)

// Multiplexed is the MQTT transport variant backed by a multiplexhost
// process: many sessions share the one real broker connection the host
// owns, exchanging the WorkerAction/WorkerFeedback protocol over a
// websocket.
type Multiplexed struct {
	clientID string
	hostAddr string

	mu   sync.Mutex
	conn *websocket.Conn

	connected   atomic.Bool
	reconnecting atomic.Bool

	listeners   map[EventKind]*list.List[func(any)]
	listenersMu sync.Mutex

	pending   map[string]chan Envelope
	pendingMu sync.Mutex

	logger xlog.Logger
	done   chan struct{}
}

// NewMultiplexed dials hostAddr (a ws:// URL served by a multiplexhost.Host)
// under clientID.
func NewMultiplexed(clientID, hostAddr string, logger *slog.Logger) *Multiplexed {
	m := &Multiplexed{
		clientID:  clientID,
		hostAddr:  hostAddr,
		listeners: make(map[EventKind]*list.List[func(any)]),
		pending:   make(map[string]chan Envelope),
		logger:    xlog.Wrap(logger),
		done:      make(chan struct{}),
	}
	for _, kind := range allEventKinds {
		m.listeners[kind] = list.New[func(any)]()
	}
	return m
}

func (m *Multiplexed) ClientID() string { return m.clientID }
func (m *Multiplexed) Connected() bool  { return m.connected.Load() }

// Connect opens the websocket port to the host and requests an MQTT
// connection. If the host has already settled a connection, it unicasts a
// synthetic connect feedback without touching the broker.
func (m *Multiplexed) Connect(ctx context.Context) error {
	if m.clientID == GuestClientID {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.hostAddr, nil)
	if err != nil {
		return &mqtterrors.HTTPTransportError{Status: 0, StatusText: err.Error()}
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	go m.readLoop(ctx)

	args := ArgsMqttConnect{}
	env, err := Encode(string(ActionMqttConnect), args)
	if err != nil {
		return err
	}
	return m.send(env)
}

func (m *Multiplexed) send(env Envelope) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return &mqtterrors.ClientStateError{State: mqtterrors.NotStarted}
	}
	return conn.WriteJSON(env)
}

func (m *Multiplexed) readLoop(ctx context.Context) {
	for {
		m.mu.Lock()
		conn := m.conn
		m.mu.Unlock()
		if conn == nil {
			return
		}

		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			m.connected.Store(false)
			m.dispatch(EventClose, nil)
			return
		}
		m.handleFeedback(ctx, env)

		select {
		case <-m.done:
			return
		default:
		}
	}
}

func (m *Multiplexed) handleFeedback(ctx context.Context, env Envelope) {
	switch WorkerFeedback(env.Type) {
	case FeedbackMqttConnect:
		var args ArgsMqttConnect
		_ = json.Unmarshal(env.Args, &args)
		m.connected.Store(true)
		var reasonCode byte
		if args.Connack != nil {
			reasonCode = args.Connack.ReturnCode
		}
		m.dispatch(EventConnect, &ConnectEvent{ReasonCode: reasonCode})

	case FeedbackMqttReconnect:
		m.reconnecting.Store(false)
		m.dispatch(EventReconnect, nil)

	case FeedbackMqttClose:
		m.connected.Store(false)
		m.dispatch(EventClose, nil)

	case FeedbackMqttDisconnect:
		var args ArgsMqttDisconnect
		_ = json.Unmarshal(env.Args, &args)
		m.connected.Store(false)
		m.dispatch(EventDisconnect, &DisconnectEvent{ReasonCode: args.ReasonCode})

	case FeedbackMqttOffline:
		m.connected.Store(false)
		m.dispatch(EventOffline, nil)

	case FeedbackMqttError:
		var args ArgsMqttError
		_ = json.Unmarshal(env.Args, &args)
		m.dispatch(EventError, fmt.Errorf("%s", args.Error))

	case FeedbackMqttEnd:
		m.connected.Store(false)
		m.dispatch(EventEnd, nil)

	case FeedbackMqttMessage:
		var args ArgsMqttMessage
		if err := json.Unmarshal(env.Args, &args); err != nil {
			m.logger.Error(ctx, err)
			return
		}
		m.dispatch(EventMessage, &Message{
			Topic:          args.Topic,
			Payload:        args.Payload,
			PublishOptions: PublishOptions{QoS: args.QoS},
			Ack:            func() {},
		})

	case FeedbackSubscribeResolve:
		var args ArgsMqttSubscribe
		_ = json.Unmarshal(env.Args, &args)
		m.dispatch(EventSubscribeResolve, subscribeResolvePayload{topic: args.Topic, ack: args.Granted})

	case FeedbackSubscribeReject:
		var args ArgsMqttSubscribe
		_ = json.Unmarshal(env.Args, &args)
		m.dispatch(EventSubscribeReject, subscribeRejectPayload{topic: args.Topic, err: fmt.Errorf("%s", args.Error)})
	}
}

// End posts BeforeBrowserTabUnload and closes this session's port.
// It never tears down the host's broker connection, which is shared.
func (m *Multiplexed) End(ctx context.Context, force bool) error {
	if m.clientID == GuestClientID {
		return nil
	}

	env, err := Encode(string(ActionTabUnload), struct{}{})
	if err == nil {
		_ = m.send(env)
	}

	select {
	case <-m.done:
	default:
		close(m.done)
	}
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Reconnect posts ActionMqttReconnect to the host.
func (m *Multiplexed) Reconnect(ctx context.Context) error {
	m.reconnecting.Store(true)
	env, err := Encode(string(ActionMqttReconnect), struct{}{})
	if err != nil {
		return err
	}
	return m.send(env)
}

// Subscribe posts ActionMqttSubscribe. The host resolves dedup against the
// other sessions sharing its connection.
func (m *Multiplexed) Subscribe(ctx context.Context, topic string, opts ...SubscribeOption) (*Ack, error) {
	var resolved SubscribeOptions
	resolved.QoS = 1
	resolved.Apply(opts)

	env, err := Encode(string(ActionMqttSubscribe), ArgsMqttSubscribe{Topic: topic, Options: resolved})
	if err != nil {
		return nil, err
	}
	if err := m.send(env); err != nil {
		return nil, err
	}
	// Resolution arrives asynchronously via FeedbackSubscribeResolve/Reject
	// dispatched to listeners; callers that need a synchronous ack should
	// register one via AddEventListener before calling Subscribe.
	return nil, nil
}

// Unsubscribe posts ActionMqttUnsubscribe.
func (m *Multiplexed) Unsubscribe(ctx context.Context, topic string, opts ...UnsubscribeOption) (*Ack, error) {
	var resolved UnsubscribeOptions
	resolved.Apply(opts)

	env, err := Encode(string(ActionMqttUnsubscribe), ArgsMqttUnsubscribe{Topic: topic, Options: resolved})
	if err != nil {
		return nil, err
	}
	return nil, m.send(env)
}

// Publish posts ActionMqttPublish. Present for contract completeness; like
// Direct, unused by the current worker/service control flow.
func (m *Multiplexed) Publish(ctx context.Context, topic string, payload []byte, opts ...PublishOption) error {
	var resolved PublishOptions
	resolved.Apply(opts)

	env, err := Encode(string(ActionMqttPublish), ArgsMqttPublish{
		Topic:   topic,
		Payload: payload,
		QoS:     resolved.QoS,
		Retain:  resolved.Retain,
	})
	if err != nil {
		return err
	}
	return m.send(env)
}

func (m *Multiplexed) GetTopic(subject string) string { return getTopic(m.clientID, subject) }

func (m *Multiplexed) GetSubject(topic string) (string, bool) {
	return getSubject(m.clientID, topic)
}

func (m *Multiplexed) AddEventListener(kind EventKind, handler any) func() {
	wrapped, ok := wrapHandler(kind, handler)
	if !ok {
		return func() {}
	}

	m.listenersMu.Lock()
	l, exists := m.listeners[kind]
	if !exists {
		l = list.New[func(any)]()
		m.listeners[kind] = l
	}
	m.listenersMu.Unlock()

	return l.Append(wrapped)
}

func (m *Multiplexed) RemoveEventListener(kind EventKind, remove func()) {
	if remove != nil {
		remove()
	}
}

func (m *Multiplexed) DispatchEvent(kind EventKind, payload any) { m.dispatch(kind, payload) }

func (m *Multiplexed) dispatch(kind EventKind, payload any) {
	m.listenersMu.Lock()
	l, ok := m.listeners[kind]
	m.listenersMu.Unlock()
	if !ok {
		return
	}
	for handler := range l.All() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error(context.Background(), fmt.Errorf("transport: listener panic: %v", r))
				}
			}()
			handler(payload)
		}()
	}
}
