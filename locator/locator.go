// Package locator implements the service-locator scope stack used to wire
// the shared HTTP client, cache, and related singletons into a Service at
// the outermost boundary. Core components take these as explicit
// constructor parameters; the locator remains only as the convenience layer
// callers may use to publish them.
package locator

import (
	"fmt"
	"sync"
)

// Token is an opaque key identifying a registered type. Callers typically
// use a package-level *struct{} or a string constant as a Token.
type Token any

// Factory produces the singleton value for a Token the first time it is
// resolved; subsequent Resolve calls in the same scope reuse the same
// value.
type Factory func() any

type scope struct {
	name     string
	onPop    func()
	entries  map[Token]Factory
	resolved map[Token]any
}

// Locator is a stack of named scopes, each mapping a Token to a Factory.
// Lookup walks the stack top-down; the first match wins.
type Locator struct {
	mu     sync.Mutex
	scopes []*scope
}

// New creates a Locator with a single default scope, which can never be
// popped.
func New() *Locator {
	return &Locator{scopes: []*scope{newScope("default", nil)}}
}

func newScope(name string, onPop func()) *scope {
	return &scope{
		name:     name,
		onPop:    onPop,
		entries:  make(map[Token]Factory),
		resolved: make(map[Token]any),
	}
}

// PushScope pushes a new named scope onto the stack. onPop, if non-nil, is
// invoked when this scope is popped via PopScope.
func (l *Locator) PushScope(name string, onPop func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scopes = append(l.scopes, newScope(name, onPop))
}

// PopScope removes the top scope from the stack and invokes its onPop
// callback, if any. Popping the default (bottommost) scope is a no-op.
func (l *Locator) PopScope() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.scopes) <= 1 {
		return
	}
	top := l.scopes[len(l.scopes)-1]
	l.scopes = l.scopes[:len(l.scopes)-1]
	if top.onPop != nil {
		top.onPop()
	}
}

// Register adds factory for token to the current (topmost) scope. It
// panics if token already resolves within the current scope.
func (l *Locator) Register(token Token, factory Factory) {
	l.mu.Lock()
	defer l.mu.Unlock()

	top := l.scopes[len(l.scopes)-1]
	if _, ok := top.entries[token]; ok {
		panic(fmt.Sprintf("locator: token %v already registered in scope %q", token, top.name))
	}
	top.entries[token] = factory
}

// Unregister removes token from every scope in the stack.
func (l *Locator) Unregister(token Token) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, s := range l.scopes {
		delete(s.entries, token)
		delete(s.resolved, token)
	}
}

// Resolve walks the scope stack top-down and returns the first match,
// constructing (and caching) it via its Factory on first use.
func (l *Locator) Resolve(token Token) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.scopes) - 1; i >= 0; i-- {
		s := l.scopes[i]
		if v, ok := s.resolved[token]; ok {
			return v, true
		}
		if f, ok := s.entries[token]; ok {
			v := f()
			s.resolved[token] = v
			return v, true
		}
	}
	return nil, false
}
