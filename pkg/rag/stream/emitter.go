package stream

import (
	"errors"
	"sync"
)

// State of the outward half-duplex channel.
type State int

const (
	StateOpen State = iota
	StateStreaming
	StateClosed
	StateError
)

// ErrTerminated is returned when an emit is attempted after the terminal
// event. That is a programming error in the caller; tests assert it
// never happens on any pipeline path.
var ErrTerminated = errors.New("stream already terminated")

// Conn is the underlying writable channel. Websocket connections
// satisfy it directly; tests use in-memory fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Emitter is the per-connection event state machine:
// OPEN -> STREAMING -> CLOSED, with ERROR reachable from either active
// state. Exactly one terminal event (end or error) is emitted per
// stream. Writes to a broken peer are no-ops, not failures - the remote
// side may disconnect mid-stream at any time.
type Emitter struct {
	mu     sync.Mutex
	conn   Conn
	state  State
	broken bool
	closed bool
}

func NewEmitter(conn Conn) *Emitter {
	return &Emitter{conn: conn, state: StateOpen}
}

// State returns the current machine state.
func (e *Emitter) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Broken reports whether the peer has gone away. Generation loops check
// this to stop consuming upstream tokens for a dead client.
func (e *Emitter) Broken() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.broken
}

// write sends one frame if the channel is still writable. A write
// failure marks the channel broken; subsequent writes become no-ops.
// Callers hold e.mu.
func (e *Emitter) write(frame Frame) {
	if e.broken {
		return
	}
	if err := e.conn.WriteJSON(frame); err != nil {
		e.broken = true
	}
}

func (e *Emitter) emit(frame Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed || e.state == StateError {
		return ErrTerminated
	}
	e.write(frame)
	return nil
}

// Session announces the session identity. On a new conversation this is
// emitted before anything else.
func (e *Emitter) Session(sessionID string) error {
	return e.emit(Frame{Event: EventSession, Data: SessionPayload{SessionID: sessionID}})
}

// Status reports pipeline progress.
func (e *Emitter) Status(stage, message string) error {
	return e.emit(Frame{Event: EventStatus, Data: StatusPayload{Message: message, Stage: stage}})
}

// Sources announces the citation set before answer tokens start.
func (e *Emitter) Sources(sources interface{}, totalFound, rerankedCount int) error {
	return e.emit(Frame{Event: EventSources, Data: SourcesPayload{
		Sources:       sources,
		TotalFound:    totalFound,
		RerankedCount: rerankedCount,
	}})
}

// Answer emits one incremental answer fragment and moves the machine
// into STREAMING.
func (e *Emitter) Answer(text string, done bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed || e.state == StateError {
		return ErrTerminated
	}
	if e.state == StateOpen {
		e.state = StateStreaming
	}
	e.write(Frame{Event: EventAnswer, Data: AnswerPayload{Text: text, Done: done}})
	return nil
}

// Metrics emits the per-query performance counters.
func (e *Emitter) Metrics(performance, debug interface{}) error {
	return e.emit(Frame{Event: EventMetrics, Data: MetricsPayload{Performance: performance, Debug: debug}})
}

// Debug emits an opaque debug payload.
func (e *Emitter) Debug(payload interface{}) error {
	return e.emit(Frame{Event: EventDebug, Data: payload})
}

// Error emits the terminal error event and moves the machine to ERROR.
// It substitutes for end; no event may follow it.
func (e *Emitter) Error(message string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed || e.state == StateError {
		return ErrTerminated
	}
	e.write(Frame{Event: EventError, Data: ErrorPayload{Error: message}})
	e.state = StateError
	return nil
}

// End emits the terminal end event and moves the machine to CLOSED.
func (e *Emitter) End() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateClosed || e.state == StateError {
		return ErrTerminated
	}
	e.write(Frame{Event: EventEnd})
	e.state = StateClosed
	return nil
}

// Close is idempotent. If no terminal event has been emitted it
// attempts a final end; if the channel is already broken this degrades
// to a forced teardown without raising.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true

	if e.state != StateClosed && e.state != StateError {
		e.write(Frame{Event: EventEnd})
		e.state = StateClosed
	}

	_ = e.conn.Close()
}
