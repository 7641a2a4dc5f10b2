package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTopicFormulas(t *testing.T) {
	require.Equal(t, "iot/v1/c/CID", topicRoot("CID"))
	require.Equal(t, "iot/v1/c/CID/log/detail", getTopic("CID", "log/detail"))
	require.Equal(t, "iot/v1/c/CID/#", WildcardTopic("CID"))

	subject, ok := getSubject("CID", "iot/v1/c/CID/log/detail")
	require.True(t, ok)
	require.Equal(t, "log/detail", subject)

	_, ok = getSubject("CID", "iot/v1/c/OTHER/log/detail")
	require.False(t, ok)
}

func TestDirectGetTopicUsesOwnClientID(t *testing.T) {
	d := NewDirect(ConnectionSettings{ClientID: "CID"}, nil)
	require.Equal(t, "iot/v1/c/CID/log/detail", d.GetTopic("log/detail"))

	subject, ok := d.GetSubject("iot/v1/c/CID/log/detail")
	require.True(t, ok)
	require.Equal(t, "log/detail", subject)
}

func TestDirectConnectIsNoopForGuestClientID(t *testing.T) {
	d := NewDirect(ConnectionSettings{ClientID: GuestClientID}, nil)
	require.NoError(t, d.Connect(context.Background()))
	require.False(t, d.Connected())
}

func TestDirectEndIsNoopWithoutConnect(t *testing.T) {
	d := NewDirect(ConnectionSettings{ClientID: "CID"}, nil)
	require.NoError(t, d.End(context.Background(), false))
}

func TestAddEventListenerRejectsMismatchedHandlerType(t *testing.T) {
	d := NewDirect(ConnectionSettings{ClientID: "CID"}, nil)
	remove := d.AddEventListener(EventConnect, func() {})
	// A plain func() doesn't satisfy ConnectEventHandler, so registration is
	// a no-op; DispatchEvent must not panic on the empty listener list.
	d.DispatchEvent(EventConnect, &ConnectEvent{ReasonCode: 0})
	remove()
}

func TestDispatchEventInvokesMatchingHandler(t *testing.T) {
	d := NewDirect(ConnectionSettings{ClientID: "CID"}, nil)

	var gotCode byte = 255
	d.AddEventListener(EventConnect, ConnectEventHandler(func(ev *ConnectEvent) {
		gotCode = ev.ReasonCode
	}))

	d.DispatchEvent(EventConnect, &ConnectEvent{ReasonCode: 7})
	require.Equal(t, byte(7), gotCode)
}

func TestRemoveEventListenerStopsFutureDispatch(t *testing.T) {
	d := NewDirect(ConnectionSettings{ClientID: "CID"}, nil)

	calls := 0
	remove := d.AddEventListener(EventReconnect, func() { calls++ })
	d.DispatchEvent(EventReconnect, nil)
	require.Equal(t, 1, calls)

	d.RemoveEventListener(EventReconnect, remove)
	d.DispatchEvent(EventReconnect, nil)
	require.Equal(t, 1, calls)
}

func TestDispatchSwallowsListenerPanic(t *testing.T) {
	d := NewDirect(ConnectionSettings{ClientID: "CID"}, nil)

	d.AddEventListener(EventReconnect, func() { panic("boom") })

	calledAfter := false
	d.AddEventListener(EventReconnect, func() { calledAfter = true })

	require.NotPanics(t, func() { d.DispatchEvent(EventReconnect, nil) })
	require.True(t, calledAfter)
}

func TestMessageHandlerReceivesContextAndMessage(t *testing.T) {
	d := NewDirect(ConnectionSettings{ClientID: "CID"}, nil)

	var gotTopic string
	d.AddEventListener(EventMessage, MessageHandler(func(ctx context.Context, msg *Message) {
		require.NotNil(t, ctx)
		gotTopic = msg.Topic
	}))

	d.DispatchEvent(EventMessage, &Message{Topic: "iot/v1/c/CID/log/detail"})
	require.Equal(t, "iot/v1/c/CID/log/detail", gotTopic)
}
