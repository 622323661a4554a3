// Package transport implements the per-peer reliable/unreliable UDP channel:
// send, resend, dedup, the RSA->AES-GCM encryption upgrade ladder, and the
// call/punch-through state machine described in spec.md §4.2-4.3.
package transport

// State is a UdpConnection's position in the punch-through state machine.
type State int

const (
	// Unknown is the initial state for a LAN-discovered peer before any call.
	Unknown State = iota
	// Unannounced is used only for the client's link to the rendezvous
	// broker, before its first Announce is acknowledged.
	Unannounced
	// MidCall is the punch-through in progress: AnnounceSecret sent/pending,
	// fast keep-alives flowing.
	MidCall
	// Connected means the path is open and (if reached via a call) the
	// symmetric tunnel is upgraded.
	Connected
	// Pending is the callee side, from the moment the broker routes the
	// call until the UI decides to accept or deny it.
	Pending
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "Unknown"
	case Unannounced:
		return "Unannounced"
	case MidCall:
		return "MidCall"
	case Connected:
		return "Connected"
	case Pending:
		return "Pending"
	default:
		return "?"
	}
}
