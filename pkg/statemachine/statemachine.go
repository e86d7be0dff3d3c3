// Package statemachine implements the Connection State Machine of §4.6:
// a small, explicit transition table. The on-enter effects live in the
// Connection Actor, which runs them after a transition succeeds; the
// machine itself holds no transport or handler knowledge and only
// decides whether a move is legal.
//
// Grounded on the teacher's internal/state.RuntimeState (a
// mutex-guarded Active field with a legal-history invariant) and the
// agent runtime Driver's ValidateState/GetValidStates accessor pair.
package statemachine

import (
	"sync"

	"wsresilient/pkg/wserrors"
)

// Status is one of the seven recognized connection states.
type Status int8

const (
	Initialized Status = iota
	Connecting
	Connected
	WebsocketConnected
	Disconnected
	Reconnecting
	Error
)

func (s Status) String() string {
	switch s {
	case Initialized:
		return "Initialized"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case WebsocketConnected:
		return "WebsocketConnected"
	case Disconnected:
		return "Disconnected"
	case Reconnecting:
		return "Reconnecting"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// Event names a transition trigger.
type Event int8

const (
	Start Event = iota
	TransportUp
	TransportError
	Timeout
	UpgradeOK
	UpgradeFail
	TransportDown
	Close
	ScheduleReconnect
	Fatal
	Recoverable
)

func (e Event) String() string {
	switch e {
	case Start:
		return "start"
	case TransportUp:
		return "transport_up"
	case TransportError:
		return "transport_error"
	case Timeout:
		return "timeout"
	case UpgradeOK:
		return "upgrade_ok"
	case UpgradeFail:
		return "upgrade_fail"
	case TransportDown:
		return "transport_down"
	case Close:
		return "close"
	case ScheduleReconnect:
		return "schedule_reconnect"
	case Fatal:
		return "fatal"
	case Recoverable:
		return "recoverable"
	default:
		return "unknown"
	}
}

type move struct {
	next     Status
	terminal bool
}

// transitions is the legal-move table of §4.6. Anything absent is
// rejected as a TransitionError.
var transitions = map[Status]map[Event]move{
	Initialized: {
		Start: {next: Connecting},
	},
	Connecting: {
		TransportUp:    {next: Connected},
		TransportError: {next: Error},
		Timeout:        {next: Error},
		Fatal:          {next: Error, terminal: true},
	},
	Connected: {
		UpgradeOK:   {next: WebsocketConnected},
		UpgradeFail: {next: Error},
		Fatal:       {next: Error, terminal: true},
	},
	WebsocketConnected: {
		TransportDown: {next: Disconnected},
		Close:         {next: Initialized, terminal: true},
		Fatal:         {next: Error, terminal: true},
	},
	Disconnected: {
		ScheduleReconnect: {next: Reconnecting},
		Fatal:             {next: Error, terminal: true},
	},
	Reconnecting: {
		Start: {next: Connecting},
		Fatal: {next: Error, terminal: true},
	},
	Error: {
		Fatal:       {next: Error, terminal: true},
		Recoverable: {next: Reconnecting},
	},
}

// Machine tracks the current Status and enforces the transition table.
// Safe for concurrent use, though in practice only the owning Connection
// Actor ever calls Transition.
type Machine struct {
	mu      sync.Mutex
	current Status
}

// New returns a Machine starting in Initialized.
func New() *Machine {
	return &Machine{current: Initialized}
}

// Current returns the machine's current status.
func (m *Machine) Current() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition applies event to the current status. On an illegal move it
// returns a *wserrors.Error (CategoryStateMachine, transition_error) and
// leaves the status unmutated. terminal reports whether the actor
// driving this machine must now exit (Close from WebsocketConnected, or
// Fatal from any non-terminal state).
func (m *Machine) Transition(event Event) (next Status, terminal bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	moves, ok := transitions[m.current]
	if !ok {
		return m.current, false, wserrors.NewTransitionError(m.current.String(), "?")
	}
	mv, ok := moves[event]
	if !ok {
		return m.current, false, wserrors.NewTransitionError(m.current.String(), "?")
	}
	m.current = mv.next
	return mv.next, mv.terminal, nil
}

// ValidEvents returns the events legal from status, for introspection
// and tests.
func ValidEvents(status Status) []Event {
	moves, ok := transitions[status]
	if !ok {
		return nil
	}
	events := make([]Event, 0, len(moves))
	for e := range moves {
		events = append(events, e)
	}
	return events
}
