// Package options provides the generic functional-options application
// helper used by the transport package's subscribe/unsubscribe/publish
// options.
package options

import "iter"

// Apply yields every element of opts then rest that is of type T and
// non-nil, in order, letting callers fold functional options of a common
// interface type into a resolved struct.
func Apply[T, O any](opts []O, rest ...O) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, opt := range opts {
			if op, ok := any(opt).(T); ok && any(op) != nil && !yield(op) {
				return
			}
		}
		for _, opt := range rest {
			if op, ok := any(opt).(T); ok && any(op) != nil && !yield(op) {
				return
			}
		}
	}
}
