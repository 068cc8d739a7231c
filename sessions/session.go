package sessions

import (
	"context"
	"errors"
	"reflect"
	"sync"
)

var (
	// ErrSessionNotFound is returned by store operations that reference an
	// unknown or already-closed session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned by blocking session operations (such as
	// ReadStdin) when the session is closed while they wait. It is also the
	// cancellation cause delivered to interrupt hooks at close.
	ErrSessionClosed = errors.New("session closed")

	// ErrInterrupted is the conventional cancellation cause delivered when
	// a client interrupts a running operation.
	ErrInterrupted = errors.New("operation interrupted")
)

// Session is one isolated execution context. A session is owned by its
// Store; handlers receive a reference, never ownership. All methods are
// safe for concurrent use, but binding mutation is expected to happen
// only while the session's execution turn is held (see Reserve).
type Session struct {
	id string

	mu       sync.Mutex
	bindings map[string]any
	stdin    []string
	cancels  map[string]context.CancelCauseFunc
	closed   bool

	stdinReady chan struct{} // 1-buffered wakeup for ReadStdin
	done       chan struct{} // closed when the session closes

	exec execQueue
}

// NewSession builds a session with the given id and a deep copy of the
// given bindings. It is exported for use by store implementations; most
// callers obtain sessions from a Store.
func NewSession(id string, bindings map[string]any) *Session {
	return &Session{
		id:         id,
		bindings:   deepCopyBindings(bindings),
		cancels:    make(map[string]context.CancelCauseFunc),
		stdinReady: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Get returns the value bound to name, if any.
func (s *Session) Get(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.bindings[name]
	return v, ok
}

// Set binds name to value in this session only.
func (s *Session) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[name] = value
}

// Bindings returns a deep copy of the session's bindings. Mutating the
// copy does not affect the session.
func (s *Session) Bindings() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopyBindings(s.bindings)
}

// SetBindings replaces the session's bindings with a deep copy of b.
func (s *Session) SetBindings(b map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = deepCopyBindings(b)
}

// PushStdin appends lines to the session's buffered input and wakes any
// reader blocked in ReadStdin.
func (s *Session) PushStdin(lines ...string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stdin = append(s.stdin, lines...)
	s.mu.Unlock()

	select {
	case s.stdinReady <- struct{}{}:
	default:
	}
}

// ReadStdin pops the next buffered input line, blocking until input
// arrives, the context ends, or the session closes.
func (s *Session) ReadStdin(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return "", ErrSessionClosed
		}
		if len(s.stdin) > 0 {
			line := s.stdin[0]
			s.stdin = s.stdin[1:]
			s.mu.Unlock()
			return line, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.done:
			return "", ErrSessionClosed
		case <-s.stdinReady:
		}
	}
}

// PendingStdin reports the number of buffered input lines.
func (s *Session) PendingStdin() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stdin)
}

// RegisterCancel installs a cancellation hook for the message currently
// executing under msgID. The dispatcher installs it before invoking the
// handler and removes it afterwards with ClearCancel.
func (s *Session) RegisterCancel(msgID string, cancel context.CancelCauseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// Late registration after close: fire immediately so the in-flight
		// handler observes cancellation.
		go cancel(ErrSessionClosed)
		return
	}
	s.cancels[msgID] = cancel
}

// ClearCancel removes the cancellation hook installed for msgID.
func (s *Session) ClearCancel(msgID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, msgID)
}

// Interrupt cancels the execution registered under msgID, or every
// currently registered execution when msgID is empty. It reports whether
// at least one hook fired. Interrupt never blocks on the interrupted
// operation.
func (s *Session) Interrupt(msgID string, cause error) bool {
	s.mu.Lock()
	var fired []context.CancelCauseFunc
	if msgID == "" {
		for _, c := range s.cancels {
			fired = append(fired, c)
		}
	} else if c, ok := s.cancels[msgID]; ok {
		fired = append(fired, c)
	}
	s.mu.Unlock()

	for _, c := range fired {
		c(cause)
	}
	return len(fired) > 0
}

// InterruptOthers cancels every registered execution except the one
// registered under exceptID. The interrupt middleware uses it so a
// blanket interrupt does not cancel its own handling.
func (s *Session) InterruptOthers(exceptID string, cause error) bool {
	s.mu.Lock()
	var fired []context.CancelCauseFunc
	for id, c := range s.cancels {
		if id != exceptID {
			fired = append(fired, c)
		}
	}
	s.mu.Unlock()

	for _, c := range fired {
		c(cause)
	}
	return len(fired) > 0
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ReleaseResources closes the session: pending stdin is dropped, blocked
// readers are woken, and every registered cancellation hook fires with
// ErrSessionClosed. It is idempotent and intended for Store
// implementations; other callers should go through Store.Close, which
// also removes the session from the registry.
func (s *Session) ReleaseResources() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stdin = nil
	cancels := s.cancels
	s.cancels = make(map[string]context.CancelCauseFunc)
	s.mu.Unlock()

	close(s.done)
	for _, c := range cancels {
		c(ErrSessionClosed)
	}
}

func deepCopyBindings(b map[string]any) map[string]any {
	out := make(map[string]any, len(b))
	for k, v := range b {
		out[k] = deepCopyValue(v)
	}
	return out
}

// deepCopyValue copies container values recursively so a clone never
// shares a mutable backing store with its source. JSON shapes take the
// fast path; other slice and map kinds go through reflection. Remaining
// values (scalars, strings, pointers) are shared.
func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	}

	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if e := deepCopyValue(rv.Index(i).Interface()); e != nil {
				out.Index(i).Set(reflect.ValueOf(e))
			}
		}
		return out.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			if e := deepCopyValue(iter.Value().Interface()); e != nil {
				out.SetMapIndex(iter.Key(), reflect.ValueOf(e))
			} else {
				out.SetMapIndex(iter.Key(), reflect.Zero(rv.Type().Elem()))
			}
		}
		return out.Interface()
	}
	return v
}
