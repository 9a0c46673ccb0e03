package session

// State is the lifecycle state of the controller.
type State int

const (
	// StateIdle means no session has been started yet.
	StateIdle State = iota

	// StateConnecting covers device acquisition, dialing and the setup
	// handshake.
	StateConnecting

	// StateReady means the handshake was sent and audio flows both ways.
	StateReady

	// StateClosing covers teardown of a live session.
	StateClosing

	// StateClosed means the last session ended in an orderly way.
	StateClosed

	// StateError means the last session failed. The controller does not
	// reconnect on its own; call Start again.
	StateError
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Live reports whether a session is being set up or running.
func (s State) Live() bool {
	return s == StateConnecting || s == StateReady
}

// EventType classifies controller events.
type EventType int

const (
	// EventStateChanged is emitted on every state transition.
	EventStateChanged EventType = iota

	// EventTranscript carries text produced by the model or recognised from
	// the user.
	EventTranscript

	// EventSessionFailed is emitted when a session ends with a transport or
	// device error.
	EventSessionFailed

	// EventPersonaChanged is emitted when the active persona changes.
	EventPersonaChanged
)

// String returns the name of the event type.
func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state_changed"
	case EventTranscript:
		return "transcript"
	case EventSessionFailed:
		return "session_failed"
	case EventPersonaChanged:
		return "persona_changed"
	default:
		return "unknown"
	}
}

// Transcript roles.
const (
	RoleModel = "model"
	RoleUser  = "user"
)

// Event is a notification from the controller. Fields not relevant to Type
// are zero.
type Event struct {
	Type      EventType
	SessionID string
	Persona   string
	State     State
	Role      string
	Text      string
	Err       error
}
