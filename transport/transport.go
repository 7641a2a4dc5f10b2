package transport

import (
	"context"
	"strings"
)

// GuestClientID is the sentinel client id meaning "no authenticated session
// yet". Transports constructed with it treat Connect and End as no-ops.
const GuestClientID = ""

// Transport is the contract both the direct and multiplexed implementations
// satisfy. A Service holds exactly one as its shared transport; workers
// borrow it to add/remove message listeners and to subscribe/unsubscribe on
// behalf of followed businesses.
type Transport interface {
	// Connect dials the broker (direct) or requests a connection from the
	// multiplex host (multiplexed).
	Connect(ctx context.Context) error
	// End closes the connection. A guest client id makes this a no-op.
	End(ctx context.Context, force bool) error
	// Reconnect tears down and re-establishes the connection.
	Reconnect(ctx context.Context) error

	Subscribe(ctx context.Context, topic string, opts ...SubscribeOption) (*Ack, error)
	Unsubscribe(ctx context.Context, topic string, opts ...UnsubscribeOption) (*Ack, error)
	Publish(ctx context.Context, topic string, payload []byte, opts ...PublishOption) error

	AddEventListener(kind EventKind, handler any) (remove func())
	RemoveEventListener(kind EventKind, remove func())
	DispatchEvent(kind EventKind, payload any)

	// GetTopic builds the full broker topic for subject, rooted at this
	// transport's client id.
	GetTopic(subject string) string
	// GetSubject recovers the subject portion of topic, or "" with ok=false
	// if topic does not belong to this transport's client-id root.
	GetSubject(topic string) (subject string, ok bool)

	// ClientID returns the client id this transport is (or will be)
	// connected under.
	ClientID() string
	// Connected reports the last-known connection state.
	Connected() bool
}

// EventKind enumerates the fixed event set every Transport dispatches.
type EventKind string

const (
	EventConnect         EventKind = "connect"
	EventReconnect       EventKind = "reconnect"
	EventClose           EventKind = "close"
	EventDisconnect      EventKind = "disconnect"
	EventOffline         EventKind = "offline"
	EventError           EventKind = "error"
	EventEnd             EventKind = "end"
	EventMessage         EventKind = "message"
	EventPacketSend      EventKind = "packetsend"
	EventPacketReceive   EventKind = "packetreceive"
	EventSubscribeReject EventKind = "subscribereject"
	EventSubscribeResolve EventKind = "subscriberesolve"
)

// topicRoot returns "iot/v1/c/{clientID}".
func topicRoot(clientID string) string {
	return "iot/v1/c/" + clientID
}

// getTopic implements the shared GetTopic formula.
func getTopic(clientID, subject string) string {
	return topicRoot(clientID) + "/" + subject
}

// getSubject implements the shared GetSubject formula.
func getSubject(clientID, topic string) (string, bool) {
	prefix := topicRoot(clientID) + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	return strings.TrimPrefix(topic, prefix), true
}

// WildcardTopic is the subscription the service issues on every connect:
// "iot/v1/c/{clientID}/#".
func WildcardTopic(clientID string) string {
	return topicRoot(clientID) + "/#"
}
