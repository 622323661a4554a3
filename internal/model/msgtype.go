// Package model defines the structures that travel over the wire (rendezvous
// TCP control frames and UDP data-plane packets) plus the pure file-identity
// helpers used by the transfer pipeline. Every exported type here has an
// Encode/Decode pair using the codec in internal/wire; none of it reaches for
// reflection-based serialisation.
package model

// MsgType is the one-byte discriminant that begins every decrypted message
// body, on both the TCP control link and the UDP data plane. Values are part
// of the wire contract and must never be renumbered.
type MsgType uint8

const (
	Announce MsgType = iota
	Call
	CallResponse
	Disconnect
	KeepAlive
	ChatMessage
	ChatMessageReceived
	AnnounceRequest
	AnnounceSecret
	MessageConfirmation
	OpusPacket
	RequestFileChunks
	FileChunks
)

func (t MsgType) String() string {
	switch t {
	case Announce:
		return "Announce"
	case Call:
		return "Call"
	case CallResponse:
		return "CallResponse"
	case Disconnect:
		return "Disconnect"
	case KeepAlive:
		return "KeepAlive"
	case ChatMessage:
		return "ChatMessage"
	case ChatMessageReceived:
		return "ChatMessageReceived"
	case AnnounceRequest:
		return "AnnounceRequest"
	case AnnounceSecret:
		return "AnnounceSecret"
	case MessageConfirmation:
		return "MessageConfirmation"
	case OpusPacket:
		return "OpusPacket"
	case RequestFileChunks:
		return "RequestFileChunks"
	case FileChunks:
		return "FileChunks"
	default:
		return "Unknown"
	}
}
