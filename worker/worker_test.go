package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/knightuniverse/mqtt-service/business"
	"github.com/knightuniverse/mqtt-service/cache"
	"github.com/knightuniverse/mqtt-service/httpclient"
	"github.com/knightuniverse/mqtt-service/registry"
	"github.com/knightuniverse/mqtt-service/transport"
)

// fakeTransport is a minimal transport.Transport stub that records
// listener registrations and lets tests push inbound messages directly.
type fakeTransport struct {
	clientID    string
	messageFunc transport.MessageHandler
}

func (f *fakeTransport) Connect(context.Context) error                              { return nil }
func (f *fakeTransport) End(context.Context, bool) error                            { return nil }
func (f *fakeTransport) Reconnect(context.Context) error                           { return nil }
func (f *fakeTransport) Subscribe(context.Context, string, ...transport.SubscribeOption) (*transport.Ack, error) {
	return &transport.Ack{}, nil
}
func (f *fakeTransport) Unsubscribe(context.Context, string, ...transport.UnsubscribeOption) (*transport.Ack, error) {
	return &transport.Ack{}, nil
}
func (f *fakeTransport) Publish(context.Context, string, []byte, ...transport.PublishOption) error {
	return nil
}
func (f *fakeTransport) AddEventListener(kind transport.EventKind, handler any) func() {
	if kind == transport.EventMessage {
		f.messageFunc = handler.(transport.MessageHandler)
	}
	return func() {}
}
func (f *fakeTransport) RemoveEventListener(transport.EventKind, func()) {}
func (f *fakeTransport) DispatchEvent(transport.EventKind, any)          {}
func (f *fakeTransport) GetTopic(subject string) string                 { return "iot/v1/c/" + f.clientID + "/" + subject }
func (f *fakeTransport) GetSubject(topic string) (string, bool)         { return "", false }
func (f *fakeTransport) ClientID() string                               { return f.clientID }
func (f *fakeTransport) Connected() bool                                { return true }

func newTestWorker(t *testing.T, store *cache.Memory, notifyCount *int32, notifyPath *string) (*Worker, *fakeTransport) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(notifyCount, 1)
		*notifyPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200}`))
	}))
	t.Cleanup(srv.Close)

	client := httpclient.New(srv.URL, alwaysAuthed{})
	ft := &fakeTransport{clientID: "CID"}
	w := New(Config{
		Transport: ft,
		Registry:  registry.New(store),
		HTTP:      client,
		MqttUuid:  "uuid",
		ClientID:  "CID",
	})
	return w, ft
}

type alwaysAuthed struct{}

func (alwaysAuthed) Guest(context.Context) bool                   { return false }
func (alwaysAuthed) Token(context.Context) (string, error)        { return "tok", nil }
func (alwaysAuthed) AccessToken(context.Context) (string, error)  { return "", nil }
func (alwaysAuthed) Terminal(context.Context) httpclient.Terminal { return httpclient.TerminalWeb }
func (alwaysAuthed) Language(context.Context) (string, bool)      { return "", false }

func TestWatchSingleSubscribeNotifiesSub(t *testing.T) {
	var count int32
	var path string
	w, _ := newTestWorker(t, cache.NewMemory(), &count, &path)

	err := w.Watch(context.Background(), business.WithBid("log/detail", "B1"))
	require.NoError(t, err)
	require.Equal(t, int32(1), count)
	require.Equal(t, "/api/building"+pathNotifySub, path)
}

func TestWatchDedupAcrossWorkersOnePost(t *testing.T) {
	var count int32
	var path string
	store := cache.NewMemory()
	w1, _ := newTestWorker(t, store, &count, &path)
	w2, _ := newTestWorker(t, store, &count, &path)

	b := business.WithBid("log/detail", "B1")
	require.NoError(t, w1.Watch(context.Background(), b))
	require.NoError(t, w2.Watch(context.Background(), b))
	require.Equal(t, int32(1), count)
}

func TestUnwatchNotLastNoPost(t *testing.T) {
	var count int32
	var path string
	store := cache.NewMemory()
	w1, _ := newTestWorker(t, store, &count, &path)
	w2, _ := newTestWorker(t, store, &count, &path)

	b := business.WithBid("log/detail", "B1")
	require.NoError(t, w1.Watch(context.Background(), b))
	require.NoError(t, w2.Watch(context.Background(), b))
	require.Equal(t, int32(1), count)

	require.NoError(t, w1.Unwatch(context.Background(), b))
	require.Equal(t, int32(1), count)

	require.NoError(t, w2.Unwatch(context.Background(), b))
	require.Equal(t, int32(2), count)
}

func TestMessageRoutingOnlyMatchingSubjectStores(t *testing.T) {
	var count int32
	var path string
	w, ft := newTestWorker(t, cache.NewMemory(), &count, &path)

	follow := business.WithBid("log/detail", "B1")
	require.NoError(t, w.Watch(context.Background(), follow))

	ft.messageFunc(context.Background(), &transport.Message{
		Topic:   "iot/v1/c/CID/log/detail",
		Payload: []byte(`{"payload":{"x":1}}`),
		Ack:     func() {},
	})
	ft.messageFunc(context.Background(), &transport.Message{
		Topic:   "iot/v1/c/CID/other/subject",
		Payload: []byte(`{"payload":{"y":2}}`),
		Ack:     func() {},
	})

	payload, ok := w.Latest(follow)
	require.True(t, ok)
	require.JSONEq(t, `{"payload":{"x":1}}`, string(payload))
}
