package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/knightuniverse/mqtt-service/internal/background"
	"github.com/knightuniverse/mqtt-service/internal/list"
	xlog "github.com/knightuniverse/mqtt-service/internal/log"
	"github.com/knightuniverse/mqtt-service/mqtterrors"
	"github.com/knightuniverse/mqtt-service/retry"
)

// ConnectionSettings configures a Direct transport's broker connection,
// mirroring the fields the service derives in its init sequence (broker
// URL, client id, will message, keepalive/reconnect timing, TLS).
type ConnectionSettings struct {
	ClientID  string
	ServerURL string
	Username  string
	Password  []byte

	KeepAlive         time.Duration
	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration
	CleanStart        bool

	WillTopic   string
	WillPayload []byte
	WillQoS     byte

	TLS *tls.Config

	ConnectRetry retry.Policy
}

// Direct is the MQTT transport variant that owns a single paho.golang
// client directly.
type Direct struct {
	settings ConnectionSettings

	mu        sync.RWMutex
	client    *paho.Client
	connected atomic.Bool

	listeners   map[EventKind]*list.List[func(any)]
	listenersMu sync.Mutex

	backgroundMu sync.Mutex
	background   *background.Background
	logger       xlog.Logger
}

// NewDirect constructs a Direct transport. Connect must be called before
// use; until then ClientID/Connected reflect the settings passed in, not a
// live connection.
func NewDirect(settings ConnectionSettings, logger *slog.Logger) *Direct {
	if settings.ConnectRetry == nil {
		settings.ConnectRetry = &retry.ExponentialBackoff{
			MaxAttempts: 0,
			MinInterval: time.Second,
			MaxInterval: 30 * time.Second,
		}
	}

	d := &Direct{
		settings:  settings,
		listeners: make(map[EventKind]*list.List[func(any)]),
		logger:    xlog.Wrap(logger),
	}
	for _, kind := range allEventKinds {
		d.listeners[kind] = list.New[func(any)]()
	}
	return d
}

var allEventKinds = []EventKind{
	EventConnect, EventReconnect, EventClose, EventDisconnect, EventOffline,
	EventError, EventEnd, EventMessage, EventPacketSend, EventPacketReceive,
	EventSubscribeReject, EventSubscribeResolve,
}

func (d *Direct) ClientID() string { return d.settings.ClientID }
func (d *Direct) Connected() bool  { return d.connected.Load() }

// Connect dials the broker once, retrying per the configured policy. A
// guest client id makes this a permanent no-op.
func (d *Direct) Connect(ctx context.Context) error {
	if d.settings.ClientID == GuestClientID {
		return nil
	}

	bg := background.New(&mqtterrors.ClientStateError{State: mqtterrors.ShutDown})
	d.backgroundMu.Lock()
	d.background = bg
	d.backgroundMu.Unlock()

	ctx, cancel := bg.With(ctx)
	defer cancel()

	var connack *paho.Connack
	err := d.settings.ConnectRetry.Start(ctx, "mqtt-connect", func(ctx context.Context) (bool, error) {
		connCtx := ctx
		if d.settings.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			connCtx, cancel = context.WithTimeout(ctx, d.settings.ConnectTimeout)
			defer cancel()
		}

		conn, err := d.dial(connCtx)
		if err != nil {
			return true, err
		}

		client := paho.NewClient(paho.ClientConfig{
			ClientID: d.settings.ClientID,
			Conn:     conn,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				d.onPublishReceived,
			},
			OnServerDisconnect: d.onServerDisconnect,
			OnClientError:      d.onClientError,
		})

		connectPkt := &paho.Connect{
			ClientID:     d.settings.ClientID,
			CleanStart:   d.settings.CleanStart,
			Username:     d.settings.Username,
			UsernameFlag: d.settings.Username != "",
			Password:     d.settings.Password,
			PasswordFlag: len(d.settings.Password) > 0,
			KeepAlive:    uint16(d.settings.KeepAlive.Seconds()),
		}
		if d.settings.WillTopic != "" {
			connectPkt.WillMessage = &paho.WillMessage{
				Topic:   d.settings.WillTopic,
				Payload: d.settings.WillPayload,
				QoS:     d.settings.WillQoS,
			}
		}

		ack, err := client.Connect(connCtx, connectPkt)
		if err != nil {
			return true, err
		}
		if ack.ReasonCode != 0 {
			return false, &mqtterrors.ClientStateError{State: mqtterrors.Guest}
		}

		d.mu.Lock()
		d.client = client
		d.mu.Unlock()
		connack = ack
		return false, nil
	})
	if err != nil {
		return err
	}

	d.connected.Store(true)
	d.dispatch(EventConnect, &ConnectEvent{ReasonCode: connack.ReasonCode})
	return nil
}

func (d *Direct) dial(ctx context.Context) (net.Conn, error) {
	u, err := url.Parse(d.settings.ServerURL)
	if err != nil {
		return nil, &mqtterrors.InvalidArgumentError{Message: "invalid broker url", Wrapped: err}
	}

	var dialer net.Dialer
	switch u.Scheme {
	case "mqtts", "ssl", "tls":
		tlsDialer := tls.Dialer{NetDialer: &dialer, Config: d.settings.TLS}
		return tlsDialer.DialContext(ctx, "tcp", u.Host)
	default:
		return dialer.DialContext(ctx, "tcp", u.Host)
	}
}

// End closes the connection. A guest client id or an already-ended
// transport makes this a no-op.
func (d *Direct) End(ctx context.Context, force bool) error {
	if d.settings.ClientID == GuestClientID {
		return nil
	}
	d.backgroundMu.Lock()
	bg := d.background
	d.background = nil
	d.backgroundMu.Unlock()
	if bg != nil {
		bg.Close()
	}

	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()

	if client == nil {
		return nil
	}

	d.connected.Store(false)
	err := client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	d.dispatch(EventEnd, nil)
	if force {
		return nil
	}
	return err
}

// Reconnect ends then re-establishes the connection.
func (d *Direct) Reconnect(ctx context.Context) error {
	if err := d.End(ctx, false); err != nil {
		d.logger.Error(ctx, err)
	}
	if err := d.Connect(ctx); err != nil {
		return err
	}
	d.dispatch(EventReconnect, nil)
	return nil
}

func (d *Direct) currentClient() (*paho.Client, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.client == nil {
		return nil, &mqtterrors.ClientStateError{State: mqtterrors.NotStarted}
	}
	return d.client, nil
}

// Subscribe issues a SUBSCRIBE for topic at QoS 1 by default.
func (d *Direct) Subscribe(ctx context.Context, topic string, opts ...SubscribeOption) (*Ack, error) {
	client, err := d.currentClient()
	if err != nil {
		d.dispatch(EventSubscribeReject, subscribeRejectPayload{topic: topic, err: err})
		return nil, err
	}

	var resolved SubscribeOptions
	resolved.QoS = 1
	resolved.Apply(opts)

	suback, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{
			Topic:             topic,
			QoS:               resolved.QoS,
			NoLocal:           resolved.NoLocal,
			RetainAsPublished: resolved.Retain,
			RetainHandling:    resolved.RetainHandling,
		}},
	})
	if err != nil {
		d.dispatch(EventSubscribeReject, subscribeRejectPayload{topic: topic, err: err})
		return nil, &mqtterrors.SubscribeRejectError{Topic: topic, Cause: err}
	}

	ack := &Ack{}
	if len(suback.Reasons) > 0 {
		ack.ReasonCode = suback.Reasons[0]
	}
	ack.ReasonString = suback.Properties.ReasonString
	d.dispatch(EventSubscribeResolve, subscribeResolvePayload{topic: topic, ack: ack})
	return ack, nil
}

// Unsubscribe issues an UNSUBSCRIBE for topic.
func (d *Direct) Unsubscribe(ctx context.Context, topic string, opts ...UnsubscribeOption) (*Ack, error) {
	client, err := d.currentClient()
	if err != nil {
		return nil, err
	}

	unsuback, err := client.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{topic}})
	if err != nil {
		return nil, err
	}

	ack := &Ack{}
	if len(unsuback.Reasons) > 0 {
		ack.ReasonCode = unsuback.Reasons[0]
	}
	return ack, nil
}

// Publish issues a PUBLISH. Present for contract completeness; wired but
// unused in the worker/service control flow, which only subscribes.
func (d *Direct) Publish(ctx context.Context, topic string, payload []byte, opts ...PublishOption) error {
	client, err := d.currentClient()
	if err != nil {
		return err
	}

	var resolved PublishOptions
	resolved.Apply(opts)

	_, err = client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     resolved.QoS,
		Retain:  resolved.Retain,
	})
	return err
}

func (d *Direct) GetTopic(subject string) string { return getTopic(d.settings.ClientID, subject) }

func (d *Direct) GetSubject(topic string) (string, bool) {
	return getSubject(d.settings.ClientID, topic)
}

// onPublishReceived adapts Paho's publish callback into a message dispatch,
// acking only once every registered handler has taken ownership.
func (d *Direct) onPublishReceived(pr paho.PublishReceived) (bool, error) {
	packet := pr.Packet
	var wg sync.WaitGroup

	d.listenersMu.Lock()
	handlers := d.listeners[EventMessage]
	d.listenersMu.Unlock()

	msg := &Message{
		Topic:   packet.Topic,
		Payload: packet.Payload,
		PublishOptions: PublishOptions{
			QoS: packet.QoS,
		},
	}

	for handler := range handlers.All() {
		wg.Add(1)
		done := sync.OnceFunc(wg.Done)
		msg.Ack = done
		handler(msg)
	}

	if packet.QoS > 0 {
		go func() {
			wg.Wait()
			client, err := d.currentClient()
			if err != nil {
				return
			}
			if err := client.Ack(packet); err != nil {
				d.logger.Error(context.Background(), err)
			}
		}()
	}
	return true, nil
}

func (d *Direct) onServerDisconnect(dp *paho.Disconnect) {
	d.connected.Store(false)
	d.dispatch(EventDisconnect, &DisconnectEvent{ReasonCode: &dp.ReasonCode})
}

// onClientError dispatches the error and ends the client, which is
// observable as a second end event.
func (d *Direct) onClientError(err error) {
	d.dispatch(EventError, err)
	ctx := context.Background()
	if endErr := d.End(ctx, true); endErr != nil {
		d.logger.Error(ctx, endErr)
	}
}

type subscribeRejectPayload struct {
	topic string
	err   error
}

type subscribeResolvePayload struct {
	topic string
	ack   *Ack
}

// AddEventListener registers handler for kind; handler's concrete type must
// match the kind (ConnectEventHandler for EventConnect, MessageHandler for
// EventMessage, func() for the parameterless kinds, etc). Returns a
// removal callback.
func (d *Direct) AddEventListener(kind EventKind, handler any) func() {
	wrapped, ok := wrapHandler(kind, handler)
	if !ok {
		return func() {}
	}

	d.listenersMu.Lock()
	l, exists := d.listeners[kind]
	if !exists {
		l = list.New[func(any)]()
		d.listeners[kind] = l
	}
	d.listenersMu.Unlock()

	return l.Append(wrapped)
}

// RemoveEventListener removes a previously-registered listener. remove is
// the callback returned by AddEventListener.
func (d *Direct) RemoveEventListener(kind EventKind, remove func()) {
	if remove != nil {
		remove()
	}
}

// DispatchEvent fires every listener registered for kind, swallowing panics
// from individual listeners so one bad listener cannot abort fan-out.
func (d *Direct) DispatchEvent(kind EventKind, payload any) {
	d.dispatch(kind, payload)
}

func (d *Direct) dispatch(kind EventKind, payload any) {
	d.listenersMu.Lock()
	l, ok := d.listeners[kind]
	d.listenersMu.Unlock()
	if !ok {
		return
	}

	for handler := range l.All() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error(context.Background(), fmt.Errorf("transport: listener panic: %v", r))
				}
			}()
			handler(payload)
		}()
	}
}

func wrapHandler(kind EventKind, handler any) (func(any), bool) {
	switch kind {
	case EventConnect:
		h, ok := handler.(ConnectEventHandler)
		if !ok {
			return nil, false
		}
		return func(payload any) {
			if ev, ok := payload.(*ConnectEvent); ok {
				h(ev)
			}
		}, true

	case EventDisconnect:
		h, ok := handler.(DisconnectEventHandler)
		if !ok {
			return nil, false
		}
		return func(payload any) {
			if ev, ok := payload.(*DisconnectEvent); ok {
				h(ev)
			}
		}, true

	case EventMessage:
		h, ok := handler.(MessageHandler)
		if !ok {
			return nil, false
		}
		ctx, cancel := context.WithCancel(context.Background())
		_ = cancel
		return func(payload any) {
			if msg, ok := payload.(*Message); ok {
				h(ctx, msg)
			}
		}, true

	case EventSubscribeReject:
		h, ok := handler.(SubscribeRejectHandler)
		if !ok {
			return nil, false
		}
		return func(payload any) {
			if p, ok := payload.(subscribeRejectPayload); ok {
				h(p.topic, p.err)
			}
		}, true

	case EventSubscribeResolve:
		h, ok := handler.(SubscribeResolveHandler)
		if !ok {
			return nil, false
		}
		return func(payload any) {
			if p, ok := payload.(subscribeResolvePayload); ok {
				h(p.topic, p.ack)
			}
		}, true

	case EventError:
		h, ok := handler.(ErrorHandler)
		if !ok {
			return nil, false
		}
		return func(payload any) {
			if err, ok := payload.(error); ok {
				h(err)
			}
		}, true

	default: // EventReconnect, EventClose, EventOffline, EventEnd, EventPacketSend, EventPacketReceive
		h, ok := handler.(func())
		if !ok {
			return nil, false
		}
		return func(any) { h() }, true
	}
}
