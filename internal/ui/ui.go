// Package ui defines the channel contract between the network core and
// whatever front-end drives it (a terminal UI, a GUI, or — in this port — the
// logging stand-in front-end in internal/ui/logfront). The core never imports
// a concrete UI; it only ever sends Events and receives Commands.
package ui

import (
	"time"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/model"
)

// Command is sent from the front-end to the core.
type Command interface{ isCommand() }

// SendChatMessage asks the core to deliver a chat message (and optional file
// attachments, already staged on disk) to a peer.
type SendChatMessage struct {
	Recipient   crypto.NetworkedPublicKey
	Text        string
	Attachments []string // local file paths to attach
}

// StartCall asks the core to place a call to a peer.
type StartCall struct{ Callee crypto.NetworkedPublicKey }

// RespondToCall answers an incoming call this node was notified about.
type RespondToCall struct {
	Caller crypto.NetworkedPublicKey
	Accept bool
}

// HangUp ends an active call.
type HangUp struct{ Peer crypto.NetworkedPublicKey }

// SendVoice forwards one already-encoded opus frame during an active call.
type SendVoice struct {
	Peer crypto.NetworkedPublicKey
	Data []byte
}

// Shutdown asks the core to stop its event loop and release resources.
type Shutdown struct{}

func (SendChatMessage) isCommand()  {}
func (StartCall) isCommand()        {}
func (RespondToCall) isCommand()    {}
func (HangUp) isCommand()           {}
func (SendVoice) isCommand()        {}
func (Shutdown) isCommand()         {}

// Event is sent from the core to the front-end.
type Event interface{ isEvent() }

// Ready carries this node's own identity once its key pair is generated.
type Ready struct{ Own crypto.NetworkedPublicKey }

// PeerListChanged is sent whenever the known-peer set changes shape (a new
// LAN/broker discovery, a hang-up, a broker disconnect notice).
type PeerListChanged struct {
	Peers []crypto.NetworkedPublicKey
}

// IncomingCall notifies the front-end of a call this node must accept/deny.
type IncomingCall struct{ Caller crypto.NetworkedPublicKey }

// CallStateChanged reports a transition in the punch-through state machine
// for a given peer, per spec.md §4.3.
type CallStateChanged struct {
	Peer  crypto.NetworkedPublicKey
	State string
}

// PunchThroughSuccessful fires exactly once per call, the moment a
// connection has both received a KeepAlive from the peer and upgraded to
// its symmetric session — spec.md §4.3 step 4.
type PunchThroughSuccessful struct {
	Peer crypto.NetworkedPublicKey
}

// ChatReceived delivers an incoming chat message.
type ChatReceived struct {
	From        crypto.NetworkedPublicKey
	Text        string
	Attachments []model.PreparedFile
	SentAt      time.Time
}

// ChatDelivered confirms a previously sent chat message reached its
// recipient, correlated back to the SendChatMessage call via ID.
type ChatDelivered struct {
	ID  string
	RTT time.Duration
}

// VoiceReceived delivers one opus frame from an active call peer.
type VoiceReceived struct {
	Peer crypto.NetworkedPublicKey
	Data []byte
}

// FileTransferProgress reports incremental progress of a file attachment.
type FileTransferProgress struct {
	FileID    string
	Written   uint64
	Total     uint64
	Completed bool
}

// Error surfaces a non-fatal problem for the front-end to display.
type Error struct{ Err error }

func (Ready) isEvent()                  {}
func (PeerListChanged) isEvent()        {}
func (IncomingCall) isEvent()           {}
func (CallStateChanged) isEvent()       {}
func (PunchThroughSuccessful) isEvent() {}
func (ChatReceived) isEvent()           {}
func (ChatDelivered) isEvent()          {}
func (VoiceReceived) isEvent()          {}
func (FileTransferProgress) isEvent()   {}
func (Error) isEvent()                  {}

// Channels is the bidirectional link the core hands to a front-end.
type Channels struct {
	Commands chan Command
	Events   chan Event
}

// NewChannels allocates a buffered command/event pair.
func NewChannels() *Channels {
	return &Channels{
		Commands: make(chan Command, 64),
		Events:   make(chan Event, 64),
	}
}
