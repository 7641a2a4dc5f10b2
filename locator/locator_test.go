package locator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type httpToken struct{}
type cacheToken struct{}

func TestResolveWalksStackTopDown(t *testing.T) {
	l := New()
	l.Register(httpToken{}, func() any { return "default-http" })

	l.PushScope("request", nil)
	l.Register(cacheToken{}, func() any { return "request-cache" })

	v, ok := l.Resolve(httpToken{})
	require.True(t, ok)
	require.Equal(t, "default-http", v)

	v, ok = l.Resolve(cacheToken{})
	require.True(t, ok)
	require.Equal(t, "request-cache", v)

	l.PopScope()
	_, ok = l.Resolve(cacheToken{})
	require.False(t, ok)
}

func TestFactoryCalledOnce(t *testing.T) {
	l := New()
	calls := 0
	l.Register(httpToken{}, func() any {
		calls++
		return calls
	})

	v1, _ := l.Resolve(httpToken{})
	v2, _ := l.Resolve(httpToken{})
	require.Equal(t, v1, v2)
	require.Equal(t, 1, calls)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	l := New()
	l.Register(httpToken{}, func() any { return 1 })
	require.Panics(t, func() {
		l.Register(httpToken{}, func() any { return 2 })
	})
}

func TestPopDefaultScopeIsNoop(t *testing.T) {
	l := New()
	l.Register(httpToken{}, func() any { return "v" })
	l.PopScope()
	v, ok := l.Resolve(httpToken{})
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestUnregisterRemovesFromAllScopes(t *testing.T) {
	l := New()
	l.Register(httpToken{}, func() any { return "base" })
	l.PushScope("child", nil)

	l.Unregister(httpToken{})
	_, ok := l.Resolve(httpToken{})
	require.False(t, ok)
}

func TestPopScopeInvokesOnPop(t *testing.T) {
	l := New()
	popped := false
	l.PushScope("scoped", func() { popped = true })
	l.PopScope()
	require.True(t, popped)
}
