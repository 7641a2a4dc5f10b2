package transport

import (
	"context"
	"fmt"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"
)

// startMochiBroker runs a throwaway embedded broker on the given local
// port, letting Direct be exercised against a real MQTT server instead of a
// mock.
func startMochiBroker(t *testing.T, port int) {
	t.Helper()

	server := mochi.New(nil)
	ledger := &auth.Ledger{
		Auth: auth.AuthRules{{Allow: true}},
	}
	require.NoError(t, server.AddHook(new(auth.Hook), &auth.Options{Ledger: ledger}))

	cfg := listeners.NewTCP(listeners.Config{
		ID:      "mochi-direct-test",
		Address: fmt.Sprintf("localhost:%d", port),
	})
	require.NoError(t, server.AddListener(cfg))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { _ = server.Close() })
}

func TestDirectConnectSubscribePublishAgainstMochi(t *testing.T) {
	const port = 18830
	startMochiBroker(t, port)

	sub := NewDirect(ConnectionSettings{
		ClientID:          "sub-client",
		ServerURL:         fmt.Sprintf("tcp://localhost:%d", port),
		CleanStart:        true,
		KeepAlive:         30 * time.Second,
		ConnectTimeout:    2 * time.Second,
		ReconnectInterval: time.Second,
	}, nil)

	received := make(chan *Message, 1)
	sub.AddEventListener(EventMessage, MessageHandler(func(_ context.Context, msg *Message) {
		received <- msg
		if msg.Ack != nil {
			msg.Ack()
		}
	}))

	require.NoError(t, sub.Connect(context.Background()))
	t.Cleanup(func() { _ = sub.End(context.Background(), true) })

	_, err := sub.Subscribe(context.Background(), "iot/v1/c/sub-client/log/detail")
	require.NoError(t, err)

	pub := NewDirect(ConnectionSettings{
		ClientID:          "pub-client",
		ServerURL:         fmt.Sprintf("tcp://localhost:%d", port),
		CleanStart:        true,
		ConnectTimeout:    2 * time.Second,
		ReconnectInterval: time.Second,
	}, nil)
	require.NoError(t, pub.Connect(context.Background()))
	t.Cleanup(func() { _ = pub.End(context.Background(), true) })

	require.NoError(t, pub.Publish(context.Background(), "iot/v1/c/sub-client/log/detail", []byte(`{"x":1}`)))

	select {
	case msg := <-received:
		require.JSONEq(t, `{"x":1}`, string(msg.Payload))
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}
