package model

import (
	"net"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/wire"
)

func encodeKey(w *wire.Writer, k crypto.NetworkedPublicKey) {
	w.WriteString(k.N)
	w.WriteString(k.E)
}

func decodeKey(r *wire.Reader) (crypto.NetworkedPublicKey, error) {
	n, err := r.ReadString()
	if err != nil {
		return crypto.NetworkedPublicKey{}, err
	}
	e, err := r.ReadString()
	if err != nil {
		return crypto.NetworkedPublicKey{}, err
	}
	return crypto.NetworkedPublicKey{N: n, E: e}, nil
}

func encodeAddr(w *wire.Writer, a *net.UDPAddr) {
	if a == nil {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	w.WriteString(a.IP.String())
	w.WriteU32(uint32(a.Port))
}

func decodeAddr(r *wire.Reader) (*net.UDPAddr, error) {
	present, err := r.ReadBool()
	if err != nil || !present {
		return nil, err
	}
	ipStr, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	port, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	return &net.UDPAddr{IP: net.ParseIP(ipStr), Port: int(port)}, nil
}

// AnnounceRequest is sent by the broker, in the clear, the moment a client's
// TCP connection is accepted.
type AnnounceRequestMsg struct {
	BrokerPublicKey crypto.NetworkedPublicKey
}

func (m *AnnounceRequestMsg) Encode(w *wire.Writer) { encodeKey(w, m.BrokerPublicKey) }
func (m *AnnounceRequestMsg) Decode(r *wire.Reader) (err error) {
	m.BrokerPublicKey, err = decodeKey(r)
	return err
}

// AnnounceSecret carries a freshly generated AES session secret, encrypted
// with the recipient's RSA public key. It is the first thing a client sends
// the broker, and the first thing either side of a punched-through call
// sends the other.
type AnnounceSecretMsg struct {
	Secret []byte
}

func (m *AnnounceSecretMsg) Encode(w *wire.Writer) { w.WriteBytes(m.Secret) }
func (m *AnnounceSecretMsg) Decode(r *wire.Reader) (err error) {
	m.Secret, err = r.ReadBytes()
	return err
}

// AnnouncePublic carries a node's long-lived public key. Sent by a client to
// the broker once its symmetric channel is established, and by a client onto
// the LAN multicast group.
type AnnouncePublic struct {
	PublicKey crypto.NetworkedPublicKey
}

func (m *AnnouncePublic) Encode(w *wire.Writer) { encodeKey(w, m.PublicKey) }
func (m *AnnouncePublic) Decode(r *wire.Reader) (err error) {
	m.PublicKey, err = decodeKey(r)
	return err
}

// PeerView is the address-stripped description of a peer the broker is
// willing to disclose to other clients. Public keys are the only thing ever
// broadcast; UDP/TCP addresses never leave the broker.
type PeerView struct {
	PublicKey crypto.NetworkedPublicKey
}

func (m *PeerView) Encode(w *wire.Writer) { encodeKey(w, m.PublicKey) }
func (m *PeerView) Decode(r *wire.Reader) (err error) {
	m.PublicKey, err = decodeKey(r)
	return err
}

// PeerViewList is the broker's reply to a fresh Announce: every currently
// known peer's public key.
type PeerViewList struct {
	Peers []PeerView
}

func (m *PeerViewList) Encode(w *wire.Writer) {
	w.WriteU64(uint64(len(m.Peers)))
	for _, p := range m.Peers {
		p.Encode(w)
	}
}

func (m *PeerViewList) Decode(r *wire.Reader) error {
	n, err := r.ReadU64()
	if err != nil {
		return err
	}
	m.Peers = make([]PeerView, n)
	for i := range m.Peers {
		if err := m.Peers[i].Decode(r); err != nil {
			return err
		}
	}
	return nil
}

// Call is the call-setup record relayed by the broker between caller and
// callee. Caller/UDPAddress are filled in by the broker, never trusted from
// the client that sent them.
type CallMsg struct {
	Callee     crypto.NetworkedPublicKey
	Caller     *crypto.NetworkedPublicKey
	UDPAddress *net.UDPAddr
}

func (m *CallMsg) Encode(w *wire.Writer) {
	encodeKey(w, m.Callee)
	if m.Caller == nil {
		w.WriteBool(false)
	} else {
		w.WriteBool(true)
		encodeKey(w, *m.Caller)
	}
	encodeAddr(w, m.UDPAddress)
}

func (m *CallMsg) Decode(r *wire.Reader) error {
	var err error
	if m.Callee, err = decodeKey(r); err != nil {
		return err
	}
	hasCaller, err := r.ReadBool()
	if err != nil {
		return err
	}
	if hasCaller {
		k, err := decodeKey(r)
		if err != nil {
			return err
		}
		m.Caller = &k
	}
	if m.UDPAddress, err = decodeAddr(r); err != nil {
		return err
	}
	return nil
}

// CallResponse is the callee's accept/deny, relayed back to the caller.
type CallResponseMsg struct {
	Call     CallMsg
	Response bool
}

func (m *CallResponseMsg) Encode(w *wire.Writer) {
	m.Call.Encode(w)
	w.WriteBool(m.Response)
}

func (m *CallResponseMsg) Decode(r *wire.Reader) error {
	if err := m.Call.Decode(r); err != nil {
		return err
	}
	var err error
	m.Response, err = r.ReadBool()
	return err
}

// Disconnect is broadcast by the broker to every remaining client when a TCP
// link is lost.
type DisconnectMsg struct {
	PublicKey crypto.NetworkedPublicKey
}

func (m *DisconnectMsg) Encode(w *wire.Writer) { encodeKey(w, m.PublicKey) }
func (m *DisconnectMsg) Decode(r *wire.Reader) (err error) {
	m.PublicKey, err = decodeKey(r)
	return err
}

// KeepAlive carries no payload; its only purpose is keeping NAT mappings and
// the reliable-UDP connection alive.
type KeepAliveMsg struct{}

func (m *KeepAliveMsg) Encode(w *wire.Writer)         {}
func (m *KeepAliveMsg) Decode(r *wire.Reader) error    { return nil }

// MessageConfirmation acknowledges reliable delivery of the UDP message
// carrying the given msg_id.
type MessageConfirmationMsg struct {
	MsgID uint32
}

func (m *MessageConfirmationMsg) Encode(w *wire.Writer) { w.WriteU32(m.MsgID) }
func (m *MessageConfirmationMsg) Decode(r *wire.Reader) (err error) {
	m.MsgID, err = r.ReadU32()
	return err
}

// ChatMessageWire is a chat message in flight, including optional attachment
// descriptors.
type ChatMessageWire struct {
	ID          string
	Author      crypto.NetworkedPublicKey
	Recipient   crypto.NetworkedPublicKey
	Msg         string
	Attachments []PreparedFile
	SentUnixNano int64
	Compressed  bool
}

func (m *ChatMessageWire) Encode(w *wire.Writer) {
	w.WriteString(m.ID)
	encodeKey(w, m.Author)
	encodeKey(w, m.Recipient)
	w.WriteBool(m.Compressed)
	w.WriteString(m.Msg)
	w.WriteU64(uint64(len(m.Attachments)))
	for _, a := range m.Attachments {
		a.Encode(w)
	}
	w.WriteI64(m.SentUnixNano)
}

func (m *ChatMessageWire) Decode(r *wire.Reader) error {
	var err error
	if m.ID, err = r.ReadString(); err != nil {
		return err
	}
	if m.Author, err = decodeKey(r); err != nil {
		return err
	}
	if m.Recipient, err = decodeKey(r); err != nil {
		return err
	}
	if m.Compressed, err = r.ReadBool(); err != nil {
		return err
	}
	if m.Msg, err = r.ReadString(); err != nil {
		return err
	}
	n, err := r.ReadU64()
	if err != nil {
		return err
	}
	m.Attachments = make([]PreparedFile, n)
	for i := range m.Attachments {
		if err := m.Attachments[i].Decode(r); err != nil {
			return err
		}
	}
	m.SentUnixNano, err = r.ReadI64()
	return err
}

// ChatMessageReceived is reserved on the wire (tag 6) for a receiver-side
// delivery notice; this implementation confirms chat delivery through the
// generic MessageConfirmation + correlation-id path instead (see
// internal/eventloop), so this type only exists to keep the message-type
// enumeration and its round-trip law complete.
type ChatMessageReceivedMsg struct {
	ID string
}

func (m *ChatMessageReceivedMsg) Encode(w *wire.Writer) { w.WriteString(m.ID) }
func (m *ChatMessageReceivedMsg) Decode(r *wire.Reader) (err error) {
	m.ID, err = r.ReadString()
	return err
}

// OpusPacketMsg carries one opus-encoded voice frame. The core never decodes
// it; it is handed straight through to the audio collaborator.
type OpusPacketMsg struct {
	Data []byte
}

func (m *OpusPacketMsg) Encode(w *wire.Writer) { w.WriteBytes(m.Data) }
func (m *OpusPacketMsg) Decode(r *wire.Reader) (err error) {
	m.Data, err = r.ReadBytes()
	return err
}

// RequestFileChunksMsg asks the sender to serve a batch of chunks.
type RequestFileChunksMsg struct {
	Chunks []FileChunk
}

func (m *RequestFileChunksMsg) Encode(w *wire.Writer) {
	w.WriteU64(uint64(len(m.Chunks)))
	for _, c := range m.Chunks {
		c.Encode(w)
	}
}

func (m *RequestFileChunksMsg) Decode(r *wire.Reader) error {
	n, err := r.ReadU64()
	if err != nil {
		return err
	}
	m.Chunks = make([]FileChunk, n)
	for i := range m.Chunks {
		if err := m.Chunks[i].Decode(r); err != nil {
			return err
		}
	}
	return nil
}

// FileChunksMsg carries a batch of chunk payloads in response to a request.
type FileChunksMsg struct {
	Chunks []FileDataChunk
}

func (m *FileChunksMsg) Encode(w *wire.Writer) {
	w.WriteU64(uint64(len(m.Chunks)))
	for _, c := range m.Chunks {
		c.Encode(w)
	}
}

func (m *FileChunksMsg) Decode(r *wire.Reader) error {
	n, err := r.ReadU64()
	if err != nil {
		return err
	}
	m.Chunks = make([]FileDataChunk, n)
	for i := range m.Chunks {
		if err := m.Chunks[i].Decode(r); err != nil {
			return err
		}
	}
	return nil
}
