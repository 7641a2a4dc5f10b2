package httpclient

import (
	"context"
	"net/http"
	"sync"
)

// beforeFunc runs prior to the wire call. Returning (false, nil)
// short-circuits the request with a rejection; returning a non-nil error
// always short-circuits.
type beforeFunc func(ctx context.Context, req *http.Request, opts Options) (bool, error)

// afterFunc runs once a response (real or synthesized) has been
// classified into an Envelope, and may rewrite it in place. Returning
// (false, nil) short-circuits per Options.IsCatch; a non-nil error always
// short-circuits.
type afterFunc func(ctx context.Context, req *http.Request, env *Envelope, opts Options) (bool, error)

// beforeChain runs registered beforeFuncs in registration order; each sees
// the result of the previous one, and any returning false stops the chain
// immediately.
type beforeChain struct {
	mu    sync.RWMutex
	funcs []beforeFunc
}

func newBeforeChain() *beforeChain { return &beforeChain{} }

func (c *beforeChain) append(f beforeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs = append(c.funcs, f)
}

func (c *beforeChain) run(ctx context.Context, req *http.Request, opts Options) (bool, error) {
	c.mu.RLock()
	funcs := make([]beforeFunc, len(c.funcs))
	copy(funcs, c.funcs)
	c.mu.RUnlock()

	for _, f := range funcs {
		cont, err := f(ctx, req, opts)
		if err != nil {
			return false, err
		}
		if !cont {
			return false, nil
		}
	}
	return true, nil
}

// afterChain is the afterReturning analogue of beforeChain.
type afterChain struct {
	mu    sync.RWMutex
	funcs []afterFunc
}

func newAfterChain() *afterChain { return &afterChain{} }

func (c *afterChain) append(f afterFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funcs = append(c.funcs, f)
}

func (c *afterChain) run(ctx context.Context, req *http.Request, env *Envelope, opts Options) (bool, error) {
	c.mu.RLock()
	funcs := make([]afterFunc, len(c.funcs))
	copy(funcs, c.funcs)
	c.mu.RUnlock()

	for _, f := range funcs {
		cont, err := f(ctx, req, env, opts)
		if err != nil {
			return false, err
		}
		if !cont {
			return false, nil
		}
	}
	return true, nil
}

// UseBefore registers a beforeRequest middleware, run in registration order.
func (c *Client) UseBefore(f beforeFunc) {
	c.before.append(f)
}

// UseBeforeSync registers a synchronous beforeRequest middleware that does
// not need to observe the request's context, lifting it into the same
// signature as UseBefore.
func (c *Client) UseBeforeSync(f func(req *http.Request, opts Options) bool) {
	c.before.append(func(_ context.Context, req *http.Request, opts Options) (bool, error) {
		return f(req, opts), nil
	})
}

// UseAfter registers an afterReturning middleware, run in registration
// order.
func (c *Client) UseAfter(f afterFunc) {
	c.after.append(f)
}

// UseAfterSync registers a synchronous afterReturning middleware.
func (c *Client) UseAfterSync(f func(env *Envelope, opts Options) bool) {
	c.after.append(func(_ context.Context, _ *http.Request, env *Envelope, opts Options) (bool, error) {
		return f(env, opts), nil
	})
}
