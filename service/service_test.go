package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/knightuniverse/mqtt-service/cache"
	"github.com/knightuniverse/mqtt-service/httpclient"
)

type testCreds struct{}

func (testCreds) Guest(context.Context) bool                   { return false }
func (testCreds) Token(context.Context) (string, error)        { return "", nil }
func (testCreds) AccessToken(context.Context) (string, error)  { return "", nil }
func (testCreds) Terminal(context.Context) httpclient.Terminal { return httpclient.TerminalWeb }
func (testCreds) Language(context.Context) (string, bool)      { return "", false }

func newTestService(t *testing.T) (*Service, *cache.Memory) {
	t.Helper()
	store := cache.NewMemory()
	store.SetItem(cacheKeyMqttHost, []byte("broker.example.com:1883"))
	store.SetItem(cacheKeyMqttHostProtocol, []byte("tcp"))
	store.SetItem(cacheKeyToken, []byte("a.b.c"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/building/v2/client/getClientId" {
			b, _ := json.Marshal(map[string]any{"code": 200, "data": "CID"})
			_, _ = w.Write(b)
			return
		}
		_, _ = w.Write([]byte(`{"code":200}`))
	}))
	t.Cleanup(srv.Close)

	client := httpclient.New(srv.URL, testCreds{})
	svc := New(Config{Cache: store, HTTP: client})
	return svc, store
}

func TestStateMachineNeverSkipsStates(t *testing.T) {
	require.True(t, canTransition(Created, Initializing))
	require.False(t, canTransition(Created, Running))
	require.False(t, canTransition(Running, Created))
	require.True(t, canTransition(Running, Suspending))
	require.True(t, canTransition(Suspending, Suspended))
	require.True(t, canTransition(Suspended, Resuming))
	require.True(t, canTransition(Resuming, Running))
}

func TestQuitIsNoopFromCreated(t *testing.T) {
	svc, _ := newTestService(t)
	require.NoError(t, svc.Quit(context.Background()))
	require.Equal(t, Created, svc.State())
}

func TestResolveClientIDFetchesAndCaches(t *testing.T) {
	svc, store := newTestService(t)
	id, uuidVal, err := svc.resolveClientID(context.Background())
	require.NoError(t, err)
	require.Equal(t, "CID", id)
	require.NotEmpty(t, uuidVal)

	cached, ok := store.GetItem(cacheKeyClientID)
	require.True(t, ok)
	require.Equal(t, "CID", string(cached))
}

func TestResolveClientIDReusesCachedUuid(t *testing.T) {
	svc, store := newTestService(t)
	store.SetItem(cacheKeyMqttUuid, []byte("fixed-uuid"))

	_, uuidVal, err := svc.resolveClientID(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fixed-uuid", uuidVal)
}

func TestWillPayloadCarriesThirdTokenSegment(t *testing.T) {
	payload := willPayload("CID", []byte("a.b.c"))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, "CID", decoded["clientId"])

	p, ok := decoded["payload"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "c", p["token"])
}
