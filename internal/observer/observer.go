// Package observer implements the typed listener fan-out the scheduler core
// is built on: set semantics (not sequence) for add/remove, synchronous
// notification to a snapshot of listeners, and panic isolation so one bad
// listener cannot corrupt a notification round or take down the notifier.
//
// It is an internal building block, not part of the scheduler's public
// surface: spec §4.1 treats it as an ancillary primitive of the source
// project, specified here only insofar as the scheduler core depends on it.
package observer

import (
	"reflect"
	"sync"
	"unsafe"
)

// Observer holds a set of listener callables of function type F and fans
// out notifications to all of them. Two listener values are considered the
// same entry when they are the same func value (copies of one closure or
// bound method value), compared by the address of its closure record; two
// closures built from the same literal are distinct entries. This is the
// closest Go gets to Python's list-membership-by-identity semantics for
// plain function values.
type Observer[F any] struct {
	mu        sync.Mutex
	listeners []F
	onPanic   func(recovered any)
}

// New constructs an empty Observer. onPanic, if non-nil, is invoked
// (outside any lock) whenever a listener panics during Notify; it is the
// caller's hook for logging. A nil onPanic silently discards the panic.
func New[F any](onPanic func(recovered any)) *Observer[F] {
	return &Observer[F]{onPanic: onPanic}
}

// ptr returns the address of f's closure record. reflect.Value.Pointer is
// not used: it yields the code address, which every closure built from the
// same literal (and every bound method value of the same method) shares.
func ptr[F any](f F) uintptr {
	v := reflect.ValueOf(f)
	if v.Kind() != reflect.Func || v.IsNil() {
		return 0
	}
	return *(*uintptr)(unsafe.Pointer(&f))
}

// Add registers listener. Re-adding an already-present listener is a
// no-op; it reports false in that case.
func (o *Observer[F]) Add(listener F) bool {
	p := ptr(listener)
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, l := range o.listeners {
		if ptr(l) == p {
			return false
		}
	}
	o.listeners = append(o.listeners, listener)
	return true
}

// Remove deregisters every entry equal to listener. It reports whether any
// entry was actually removed.
func (o *Observer[F]) Remove(listener F) bool {
	p := ptr(listener)
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.listeners[:0:0]
	removed := false
	for _, l := range o.listeners {
		if ptr(l) == p {
			removed = true
			continue
		}
		kept = append(kept, l)
	}
	o.listeners = kept
	return removed
}

// Clear empties the listener set.
func (o *Observer[F]) Clear() {
	o.mu.Lock()
	o.listeners = nil
	o.mu.Unlock()
}

// Len reports the number of registered listeners.
func (o *Observer[F]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.listeners)
}

// Contains reports whether listener is currently registered.
func (o *Observer[F]) Contains(listener F) bool {
	p := ptr(listener)
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, l := range o.listeners {
		if ptr(l) == p {
			return true
		}
	}
	return false
}

// Notify invokes call(listener) for every currently registered listener, in
// arbitrary order, against a snapshot taken under lock. A listener may add
// or remove listeners (including itself) from within call without
// affecting the listeners seen by this notification round (Testable
// Property 10). A panicking listener is recovered, reported via onPanic,
// and does not prevent the remaining listeners in this round from running.
func (o *Observer[F]) Notify(call func(F)) {
	o.mu.Lock()
	snapshot := make([]F, len(o.listeners))
	copy(snapshot, o.listeners)
	o.mu.Unlock()

	for _, l := range snapshot {
		o.invoke(call, l)
	}
}

func (o *Observer[F]) invoke(call func(F), listener F) {
	defer func() {
		if r := recover(); r != nil && o.onPanic != nil {
			o.onPanic(r)
		}
	}()
	call(listener)
}
