// Package transport implements the two MQTT transport variants the service
// chooses between: Direct, which wraps a single paho.golang client, and
// Multiplexed, which speaks a small JSON protocol to a multiplexhost.Host
// process that owns the one real broker connection on behalf of many
// sessions.
package transport

import "context"

type (
	// Message is a received publish, adapted to carry only the fields the
	// worker multiplexer's routing and digest closures need.
	Message struct {
		Topic   string
		Payload []byte
		PublishOptions

		// Ack manually acknowledges the message. Required for QoS 1; a
		// no-op for QoS 0.
		Ack func()
	}

	// MessageHandler receives inbound publishes.
	MessageHandler = func(context.Context, *Message)

	// ConnectEvent is delivered to connect listeners on every successful
	// (re)connection.
	ConnectEvent struct {
		ReasonCode byte
	}

	// ConnectEventHandler responds to connect notifications.
	ConnectEventHandler = func(*ConnectEvent)

	// DisconnectEvent is delivered when the server disconnects the client
	// (Direct) or the host reports a disconnect (Multiplexed); ReasonCode
	// carries the reason. Neither transport sets Error.
	DisconnectEvent struct {
		ReasonCode *byte
		Error      error
	}

	// DisconnectEventHandler responds to disconnect notifications.
	DisconnectEventHandler = func(*DisconnectEvent)

	// Ack carries values from a SUBACK/UNSUBACK/PUBACK.
	Ack struct {
		ReasonCode     byte
		ReasonString   string
		UserProperties map[string]string
	}

	// SubscribeRejectHandler responds to a subscribe that the broker or the
	// transport itself refused.
	SubscribeRejectHandler = func(topic string, err error)

	// SubscribeResolveHandler responds to a subscribe the broker granted.
	SubscribeResolveHandler = func(topic string, ack *Ack)

	// ErrorHandler responds to a fatal transport error. The direct
	// transport always ends the client after invoking these.
	ErrorHandler = func(error)
)
