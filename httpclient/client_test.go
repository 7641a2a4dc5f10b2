package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/knightuniverse/mqtt-service/internal/clock"
	"github.com/knightuniverse/mqtt-service/mqtterrors"
)

type stubCreds struct {
	guest bool
	token string
}

func (s stubCreds) Guest(context.Context) bool                  { return s.guest }
func (s stubCreds) Token(context.Context) (string, error)       { return s.token, nil }
func (stubCreds) AccessToken(context.Context) (string, error)   { return "", nil }
func (stubCreds) Terminal(context.Context) Terminal              { return TerminalWeb }
func (stubCreds) Language(context.Context) (string, bool)        { return "", false }

func TestGetCoalescesWithinWindow(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"data":1}`))
	}))
	defer srv.Close()

	c := New(srv.URL, stubCreds{})
	fake := clock.NewFake(time.Now())
	c.Clock = fake

	_, err := c.Get(context.Background(), "/thing", nil, Options{})
	require.NoError(t, err)

	fake.Advance(100 * time.Millisecond)
	_, err = c.Get(context.Background(), "/thing", nil, Options{})
	require.NoError(t, err)

	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestGetDoesNotCoalesceAfterWindow(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"data":1}`))
	}))
	defer srv.Close()

	c := New(srv.URL, stubCreds{})
	fake := clock.NewFake(time.Now())
	c.Clock = fake

	_, err := c.Get(context.Background(), "/thing", nil, Options{})
	require.NoError(t, err)

	fake.Advance(CoalesceWindow + time.Millisecond)
	_, err = c.Get(context.Background(), "/thing", nil, Options{})
	require.NoError(t, err)

	require.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestGuestShortCircuitsWithoutDialing(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := New(srv.URL, stubCreds{guest: true})
	_, err := c.Get(context.Background(), "/thing", nil, Options{})
	require.Error(t, err)
	var guestErr *mqtterrors.GuestError
	require.ErrorAs(t, err, &guestErr)
	require.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestNonSuccessEnvelopeReturnedWhenIsCatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":403,"desc":"forbidden"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, stubCreds{})
	env, err := c.Get(context.Background(), "/thing", nil, Options{})
	require.NoError(t, err)
	require.False(t, env.Success())
	require.Equal(t, 403, env.Code)
}

func TestNonSuccessEnvelopeErrorsWhenIsCatchFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":403,"desc":"forbidden"}`))
	}))
	defer srv.Close()

	notCatch := false
	c := New(srv.URL, stubCreds{})
	_, err := c.Get(context.Background(), "/thing", nil, Options{IsCatch: &notCatch})
	require.Error(t, err)
	var envErr *mqtterrors.EnvelopeError
	require.ErrorAs(t, err, &envErr)
	require.Equal(t, 403, envErr.Code)
}

func TestRawHTTPFailureSynthesizesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(srv.URL, stubCreds{})
	env, err := c.Get(context.Background(), "/thing", nil, Options{})
	require.NoError(t, err)
	require.False(t, env.Success())
	require.Equal(t, http.StatusInternalServerError, env.Code)
}

func TestReservedHeadersAreStripped(t *testing.T) {
	var seen http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200}`))
	}))
	defer srv.Close()

	c := New(srv.URL, stubCreds{token: "real-token"})
	_, err := c.Get(context.Background(), "/thing", nil, Options{
		Headers: map[string]string{"token": "forged", "X-Custom": "keep-me"},
	})
	require.NoError(t, err)
	require.Equal(t, "real-token", seen.Get("token"))
	require.Equal(t, "keep-me", seen.Get("X-Custom"))
}

func TestBeforeMiddlewareCanRejectRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should have been rejected before dialing")
	}))
	defer srv.Close()

	c := New(srv.URL, stubCreds{})
	c.UseBeforeSync(func(req *http.Request, opts Options) bool { return false })

	_, err := c.Get(context.Background(), "/thing", nil, Options{})
	require.Error(t, err)
}

func TestAfterMiddlewareCanRewriteEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"data":1}`))
	}))
	defer srv.Close()

	c := New(srv.URL, stubCreds{})
	c.UseAfterSync(func(env *Envelope, opts Options) bool {
		env.Desc = "rewritten"
		return true
	})

	env, err := c.Get(context.Background(), "/thing", nil, Options{})
	require.NoError(t, err)
	require.Equal(t, "rewritten", env.Desc)
}
