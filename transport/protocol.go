package transport

import "encoding/json"

// WorkerAction enumerates the session→host messages (formerly tab→shared
// worker postMessage actions).
type WorkerAction string

const (
	ActionMqttConnect     WorkerAction = "MqttConnect"
	ActionMqttEnd         WorkerAction = "MqttEnd"
	ActionMqttPublish     WorkerAction = "MqttPublish"
	ActionMqttReconnect   WorkerAction = "MqttReconnect"
	ActionMqttSubscribe   WorkerAction = "MqttSubscribe"
	ActionMqttUnsubscribe WorkerAction = "MqttUnsubscribe"
	ActionTabUnload       WorkerAction = "BeforeBrowserTabUnload"
)

// WorkerFeedback enumerates the host→session messages.
type WorkerFeedback string

const (
	FeedbackMqttConnect         WorkerFeedback = "MqttConnect"
	FeedbackMqttReconnect       WorkerFeedback = "MqttReconnect"
	FeedbackMqttClose           WorkerFeedback = "MqttClose"
	FeedbackMqttDisconnect      WorkerFeedback = "MqttDisconnect"
	FeedbackMqttOffline         WorkerFeedback = "MqttOffline"
	FeedbackMqttError           WorkerFeedback = "MqttError"
	FeedbackMqttEnd             WorkerFeedback = "MqttEnd"
	FeedbackMqttMessage         WorkerFeedback = "MqttMessage"
	FeedbackSubscribeResolve    WorkerFeedback = "MqttSubscribeResolve"
	FeedbackSubscribeReject     WorkerFeedback = "MqttSubscribeReject"
)

// Envelope is the wire shape for every message in the session↔host
// protocol: {type, args}. Type is a WorkerAction on the way in and a
// WorkerFeedback on the way out; args is left raw until the handler for
// that type unmarshals it into a concrete Args* struct below.
type Envelope struct {
	Type string          `json:"type"`
	Args json.RawMessage `json:"args,omitempty"`
}

// ArgsMqttConnect is the args payload for ActionMqttConnect (session→host)
// and, with Connack populated, for FeedbackMqttConnect (host→session). The
// host is configured with its own broker settings out of band (see
// multiplexhost.Config); a session only asks it to connect.
type ArgsMqttConnect struct {
	Connack *ConnackPayload `json:"connack,omitempty"`
}

// ConnackPayload is the JSON-safe subset of a CONNACK the host reports back.
type ConnackPayload struct {
	ReturnCode byte `json:"returnCode"`
}

// ArgsMqttEnd is the args payload for ActionMqttEnd.
type ArgsMqttEnd struct {
	Force bool `json:"force"`
}

// ArgsMqttPublish is the args payload for ActionMqttPublish.
type ArgsMqttPublish struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
	QoS     byte   `json:"qos"`
	Retain  bool   `json:"retain"`
}

// ArgsMqttSubscribe is the args payload for ActionMqttSubscribe and for
// FeedbackSubscribeResolve/FeedbackSubscribeReject.
type ArgsMqttSubscribe struct {
	Topic   string           `json:"topic"`
	Options SubscribeOptions `json:"options,omitempty"`
	Granted *Ack             `json:"granted,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// ArgsMqttUnsubscribe is the args payload for ActionMqttUnsubscribe.
type ArgsMqttUnsubscribe struct {
	Topic   string             `json:"topic"`
	Options UnsubscribeOptions `json:"options,omitempty"`
}

// ArgsMqttDisconnect is the args payload for FeedbackMqttDisconnect.
type ArgsMqttDisconnect struct {
	ReasonCode *byte `json:"reasonCode,omitempty"`
}

// ArgsMqttError is the args payload for FeedbackMqttError.
type ArgsMqttError struct {
	Error string `json:"error"`
}

// ArgsMqttMessage is the args payload for FeedbackMqttMessage.
type ArgsMqttMessage struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
	QoS     byte   `json:"qos"`
}

// Encode wraps v into an Envelope of the given type name.
func Encode(typ string, v any) (Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Args: raw}, nil
}
