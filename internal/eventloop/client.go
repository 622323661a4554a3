// Package eventloop wires every other internal package into the running
// client: the UDP data-plane socket, the optional rendezvous broker link, the
// optional LAN multicast discovery, the peer registry, the file transfer
// pipeline, and the call/punch-through state machine.
//
// There is no portable user-space equivalent of a single blocking
// multi-descriptor poll in the standard library, and none of the reference
// libraries in the dependency corpus provide one either (kcp-go/smux operate
// above an already-multiplexed stream, not raw sockets). Instead, one reader
// goroutine per socket feeds that socket's own buffered channel, and Run's
// only blocking operation per iteration is a select over those channels, the
// UI command channel, and a single maintenance ticker — the idiomatic Go rendering of
// "exactly one blocking call per iteration".
package eventloop

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/filetransfer"
	"github.com/botiapa/p2pthing/internal/model"
	"github.com/botiapa/p2pthing/internal/multicast"
	"github.com/botiapa/p2pthing/internal/peer"
	"github.com/botiapa/p2pthing/internal/rendezvous"
	"github.com/botiapa/p2pthing/internal/transport"
	"github.com/botiapa/p2pthing/internal/ui"
	"github.com/botiapa/p2pthing/internal/wire"
)

// maintenanceTick bounds how long a loop iteration waits with nothing else
// to do before re-checking resend/keepalive/scheduler/multicast timers.
const maintenanceTick = 250 * time.Millisecond

type udpEvent struct {
	data []byte
	addr *net.UDPAddr
}

type brokerEvent struct {
	tag  model.MsgType
	body wire.Decoder
	err  error
}

type multicastEvent struct {
	pub  *model.AnnouncePublic
	addr *net.UDPAddr
	err  error
}

// pendingChat tracks an outgoing chat message awaiting a MessageConfirmation
// so it can be turned into a ui.ChatDelivered event.
type pendingChat struct {
	id string
}

// pendingCall tracks a call this node initiated, awaiting the broker's
// relayed CallResponse.
type pendingCall struct {
	callee crypto.NetworkedPublicKey
}

// Client is the running node: one per process, whether acting purely as a
// peer or also offering files/chat/voice to others.
type Client struct {
	Keys   *crypto.KeyPair
	socket *net.UDPConn
	Peers  *peer.List
	Files  *filetransfer.Manager
	UI     *ui.Channels

	broker        *rendezvous.Client
	brokerConn    *transport.UdpConnection // broker's UDP punch-through bootstrap link, per spec.md §4.4
	announcer     *multicast.Announcer
	listener      *multicast.Listener
	multicastOn   bool
	lastMulticastAnnounce time.Time

	udpEvents       chan udpEvent
	brokerEvents    chan brokerEvent
	multicastEvents chan multicastEvent

	pendingChats   map[uint32]pendingChat
	pendingCalls   map[string]pendingCall // keyed by callee.String(), correlated loosely
	correlationSeq uint32

	incomingCalls map[string]*model.CallMsg // keyed by caller key string, awaiting UI decision

	stop chan struct{}
}

// Options configures which discovery mechanisms a Client uses.
type Options struct {
	BrokerAddress string // empty disables the rendezvous link
	Multicast     bool
}

// New creates a client identity and binds its UDP data-plane socket. It does
// not yet connect to anything; call Run to start the event loop.
func New(opts Options) (*Client, error) {
	keys, err := crypto.NewKeyPair()
	if err != nil {
		return nil, errors.Wrap(err, "generate identity")
	}
	socket, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, errors.Wrap(err, "bind udp socket")
	}

	c := &Client{
		Keys:            keys,
		socket:          socket,
		Peers:           &peer.List{},
		Files:           filetransfer.NewManager(),
		UI:              ui.NewChannels(),
		multicastOn:     opts.Multicast,
		udpEvents:       make(chan udpEvent, 64),
		brokerEvents:    make(chan brokerEvent, 64),
		multicastEvents: make(chan multicastEvent, 64),
		pendingChats:    make(map[uint32]pendingChat),
		pendingCalls:    make(map[string]pendingCall),
		incomingCalls:   make(map[string]*model.CallMsg),
		stop:            make(chan struct{}),
	}

	if opts.BrokerAddress != "" {
		bc, err := rendezvous.Dial(opts.BrokerAddress)
		if err != nil {
			socket.Close()
			return nil, err
		}
		c.broker = bc

		brokerUDPAddr, err := net.ResolveUDPAddr("udp4", opts.BrokerAddress)
		if err != nil {
			bc.Close()
			socket.Close()
			return nil, errors.Wrap(err, "resolve broker udp address")
		}
		c.brokerConn = transport.NewUdpConnection(transport.Unannounced, brokerUDPAddr, socket, keys)
	}
	if opts.Multicast {
		ann, err := multicast.NewAnnouncer(keys.PublicKey())
		if err != nil {
			return nil, err
		}
		lis, err := multicast.NewListener()
		if err != nil {
			ann.Close()
			return nil, err
		}
		c.announcer, c.listener = ann, lis
	}
	return c, nil
}

// Run starts every reader goroutine and blocks processing events until Stop
// is called or an unrecoverable error occurs.
func (c *Client) Run() error {
	go c.readUDP()
	if c.broker != nil {
		go c.readBroker()
		if list, err := c.broker.Announce(c.Keys); err != nil {
			return errors.Wrap(err, "announce to broker")
		} else {
			c.adoptPeerViewList(list)
		}
	}
	if c.multicastOn {
		go c.readMulticast()
	}

	c.UI.Events <- ui.Ready{Own: c.Keys.PublicKey()}

	ticker := time.NewTicker(maintenanceTick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return nil
		case ev := <-c.udpEvents:
			c.handleUDP(ev)
		case ev := <-c.brokerEvents:
			c.handleBroker(ev)
		case ev := <-c.multicastEvents:
			c.handleMulticast(ev)
		case cmd := <-c.UI.Commands:
			c.handleCommand(cmd)
		case <-ticker.C:
			c.runMaintenance()
		}
	}
}

// Stop ends the event loop and releases every socket.
func (c *Client) Stop() {
	close(c.stop)
	c.socket.Close()
	if c.broker != nil {
		c.broker.Close()
	}
	if c.announcer != nil {
		c.announcer.Close()
	}
	if c.listener != nil {
		c.listener.Close()
	}
	c.Files.Close()
}

func (c *Client) readUDP() {
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := c.socket.ReadFromUDP(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case c.udpEvents <- udpEvent{data: data, addr: addr}:
		case <-c.stop:
			return
		}
	}
}

func (c *Client) readBroker() {
	for {
		tag, body, err := c.broker.Next()
		select {
		case c.brokerEvents <- brokerEvent{tag: tag, body: body, err: err}:
		case <-c.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Client) readMulticast() {
	for {
		pub, addr, err := c.listener.Receive()
		if err != nil {
			select {
			case c.multicastEvents <- multicastEvent{err: err}:
			case <-c.stop:
			}
			return
		}
		if pub == nil {
			continue // stray, non-matching traffic
		}
		select {
		case c.multicastEvents <- multicastEvent{pub: pub, addr: addr}:
		case <-c.stop:
			return
		}
	}
}

func (c *Client) adoptPeerViewList(list *model.PeerViewList) {
	for _, v := range list.Peers {
		k := v.PublicKey
		if c.Peers.Get(&k) != nil {
			continue
		}
		c.Peers.Add(&peer.Peer{PublicKey: &k, Source: peer.Rendezvous, Type: peer.ClientPeer})
	}
	c.notifyPeerList()
}

func (c *Client) notifyPeerList() {
	keys := make([]crypto.NetworkedPublicKey, 0)
	for _, p := range c.Peers.All() {
		if p.PublicKey != nil {
			keys = append(keys, *p.PublicKey)
		}
	}
	c.UI.Events <- ui.PeerListChanged{Peers: keys}
}

func newChatID() string { return uuid.NewString() }

// DebugSnapshot renders a one-line-per-peer dump of connection statistics,
// for the SIGUSR1 debug handler in cmd/p2pthing.
func (c *Client) DebugSnapshot() string {
	var b strings.Builder
	fmt.Fprintf(&b, "own key: %s\n", c.Keys.PublicKey().String())
	for _, p := range c.Peers.All() {
		if p.UDPConn == nil {
			continue
		}
		s := p.UDPConn.Stats
		key := "unknown"
		if p.PublicKey != nil {
			key = p.PublicKey.String()
		}
		ping := "n/a"
		if last := s.LastPing(); last != nil {
			ping = last.String()
		}
		fmt.Fprintf(&b, "peer %s: state=%s sent=%dB recv=%dB ping=%s\n",
			key, p.UDPConn.State, s.TotalSent(), s.TotalReceived(), ping)
	}
	return b.String()
}
