package transport

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/model"
	"github.com/botiapa/p2pthing/internal/stats"
	"github.com/botiapa/p2pthing/internal/wire"
)

// Timing constants from spec.md §4.2-4.3.
const (
	ReliableMessageDelay = 2 * time.Second
	KeepAliveMidCall     = 1 * time.Second
	KeepAliveConnected   = 10 * time.Second
	AnnounceDelay        = 1 * time.Second
)

// ErrNoEncryptionKey reports that a connection has no usable encryption key.
// Send does not return it: with neither an upgraded symmetric session nor a
// peer public key it sends the packet unencrypted.
var ErrNoEncryptionKey = errors.New("transport: no usable encryption key for this connection")

// pendingMessage is a reliably-sent packet awaiting MessageConfirmation.
type pendingMessage struct {
	encoded     []byte
	msgID       uint32
	msgType     model.MsgType
	correlation *uint32
	firstSent   time.Time
	lastSent    time.Time
}

// UdpConnection is the stateful data-plane endpoint to one remote UDP
// address: one per peer, plus one unassociated instance for the rendezvous
// link itself.
type UdpConnection struct {
	// Address is the remote endpoint this connection talks to.
	Address *net.UDPAddr
	// PeerKey is the other side's public key, once known. Unset only for
	// the (address-only) rendezvous link and LAN-observed peers before a
	// call.
	PeerKey *crypto.NetworkedPublicKey
	State   State

	socket *net.UDPConn // shared by reference across every connection on this node

	nextMsgID        uint32
	sentMessages     []*pendingMessage
	receivedMessages map[uint32]struct{}

	ownKeys      *crypto.KeyPair
	SymmetricKey *crypto.SymmetricSession
	Upgraded     bool
	// KeepAliveReceived records whether a KeepAlive has ever arrived on this
	// connection — one of the two preconditions (with Upgraded) for leaving
	// MidCall for Connected, per spec.md §4.3 step 4.
	KeepAliveReceived bool

	LastMessageSent *time.Time
	LastAnnounce    *time.Time

	Stats *stats.ConnectionStatistics
}

// NewUdpConnection constructs a connection in the given initial state.
// socket and ownKeys are long-lived resources owned by the event loop;
// UdpConnection only holds references to them.
func NewUdpConnection(state State, addr *net.UDPAddr, socket *net.UDPConn, ownKeys *crypto.KeyPair) *UdpConnection {
	return &UdpConnection{
		Address:          addr,
		State:            state,
		socket:           socket,
		receivedMessages: make(map[uint32]struct{}),
		ownKeys:          ownKeys,
		Stats:            stats.NewConnectionStatistics(),
	}
}

// Send encodes, encrypts with whichever key the connection currently has
// available (symmetric if upgraded, else the peer's public key, else
// unencrypted for rendezvous-link bootstrap), assigns the next msg_id,
// transmits once, and — if reliable — appends to the unacked queue.
func (c *UdpConnection) Send(msgType model.MsgType, body []byte, reliable bool, correlation *uint32) error {
	plaintext := make([]byte, 0, len(body)+1)
	plaintext = append(plaintext, byte(msgType))
	plaintext = append(plaintext, body...)

	var data []byte
	var upgraded wire.MsgEncryption
	switch {
	case c.Upgraded && c.SymmetricKey != nil:
		enc, err := c.SymmetricKey.Encrypt(plaintext)
		if err != nil {
			return errors.Wrap(err, "symmetric encrypt")
		}
		data, upgraded = enc, wire.SymmetricKey
	case c.PeerKey != nil:
		enc, err := c.PeerKey.Encrypt(plaintext)
		if err != nil {
			return errors.Wrap(err, "public key encrypt")
		}
		data, upgraded = enc, wire.PublicKey
	default:
		data, upgraded = plaintext, wire.Unencrypted
	}

	msgID := c.nextMsgID
	c.nextMsgID++

	packet := &wire.UdpPacket{Data: data, Reliable: reliable, MsgID: msgID, Upgraded: upgraded}
	encoded := wire.EncodeUDPPacket(packet)

	if _, err := c.socket.WriteToUDP(encoded, c.Address); err != nil {
		return errors.Wrap(err, "udp send")
	}
	c.Stats.SentBytes(uint64(len(encoded)))
	now := time.Now()
	c.LastMessageSent = &now

	if reliable {
		c.sentMessages = append(c.sentMessages, &pendingMessage{
			encoded:     encoded,
			msgID:       msgID,
			msgType:     msgType,
			correlation: correlation,
			firstSent:   now,
			lastSent:    now,
		})
	}
	return nil
}

// SendConfirmation sends an unreliable MessageConfirmation for a received
// reliable message.
func (c *UdpConnection) SendConfirmation(msgID uint32) error {
	body := wire.Marshal(&model.MessageConfirmationMsg{MsgID: msgID})
	return c.Send(model.MessageConfirmation, body, false, nil)
}

// ResendReliable retransmits every unacked packet whose last send is older
// than ReliableMessageDelay. Retries have no cap; they continue until the
// connection is destroyed.
func (c *UdpConnection) ResendReliable() {
	now := time.Now()
	for _, pm := range c.sentMessages {
		if now.Sub(pm.lastSent) >= ReliableMessageDelay {
			if _, err := c.socket.WriteToUDP(pm.encoded, c.Address); err == nil {
				pm.lastSent = now
				c.LastMessageSent = &now
			}
		}
	}
}

// NextResendable returns how long until the earliest queued unacked entry's
// resend window opens, or nil if the queue is empty.
func (c *UdpConnection) NextResendable() *time.Duration {
	if len(c.sentMessages) == 0 {
		return nil
	}
	earliest := c.sentMessages[0].lastSent
	for _, pm := range c.sentMessages[1:] {
		if pm.lastSent.Before(earliest) {
			earliest = pm.lastSent
		}
	}
	d := ReliableMessageDelay - time.Since(earliest)
	if d < 0 {
		d = 0
	}
	return &d
}

// NextKeepAlive returns how long until a keep-alive is due, given the
// connection's current state.
func (c *UdpConnection) NextKeepAlive() time.Duration {
	var delay time.Duration
	switch c.State {
	case MidCall:
		delay = KeepAliveMidCall
	case Connected:
		delay = KeepAliveConnected
	case Unannounced:
		delay = AnnounceDelay
	case Pending:
		return time.Duration(1<<63 - 1) // never, until the UI decides
	}
	if c.LastMessageSent == nil {
		return 0
	}
	d := delay - time.Since(*c.LastMessageSent)
	if d < 0 {
		d = 0
	}
	return d
}

// ConfirmationResult is what OnConfirmation hands back so the caller
// (internal/eventloop) can dispatch the type-specific follow-up described in
// spec.md §4.2.
type ConfirmationResult struct {
	MsgType     model.MsgType
	Correlation *uint32
	RTT         time.Duration
}

// OnConfirmation removes the matching entry from the unacked queue and
// reports the round trip time plus enough context for the caller to dispatch
// a follow-up action.
func (c *UdpConnection) OnConfirmation(msgID uint32) (*ConfirmationResult, bool) {
	for i, pm := range c.sentMessages {
		if pm.msgID == msgID {
			c.sentMessages = append(c.sentMessages[:i], c.sentMessages[i+1:]...)
			rtt := time.Since(pm.firstSent)
			c.Stats.NewPing(rtt)
			return &ConfirmationResult{MsgType: pm.msgType, Correlation: pm.correlation, RTT: rtt}, true
		}
	}
	return nil, false
}

// IncomingResult is what OnIncoming hands back.
type IncomingResult struct {
	MsgType    model.MsgType
	Body       []byte
	AlreadySeen bool
}

// OnIncoming decrypts and dedups one received UdpPacket. If the packet is
// reliable and new, the caller is still responsible for calling
// SendConfirmation — this keeps OnIncoming free of side effects beyond
// statistics and dedup bookkeeping.
func (c *UdpConnection) OnIncoming(encoded []byte, packet *wire.UdpPacket) (*IncomingResult, error) {
	c.Stats.ReceivedBytes(uint64(len(encoded)))

	if _, seen := c.receivedMessages[packet.MsgID]; seen {
		return &IncomingResult{AlreadySeen: true}, nil
	}

	var plaintext []byte
	var err error
	switch packet.Upgraded {
	case wire.SymmetricKey:
		if c.SymmetricKey == nil {
			return nil, errors.New("transport: received symmetric-keyed packet before upgrade")
		}
		plaintext, err = c.SymmetricKey.Decrypt(packet.Data)
	case wire.PublicKey:
		if c.ownKeys == nil {
			return nil, errors.New("transport: no own key pair to decrypt with")
		}
		plaintext, err = c.ownKeys.Decrypt(packet.Data)
	case wire.Unencrypted:
		plaintext = packet.Data
	default:
		return nil, errors.Errorf("transport: unknown encryption scheme %d", packet.Upgraded)
	}
	if err != nil {
		return nil, errors.Wrap(err, "decrypt incoming packet")
	}
	if len(plaintext) == 0 {
		return nil, errors.New("transport: empty plaintext")
	}

	c.receivedMessages[packet.MsgID] = struct{}{}

	return &IncomingResult{
		MsgType: model.MsgType(plaintext[0]),
		Body:    plaintext[1:],
	}, nil
}
