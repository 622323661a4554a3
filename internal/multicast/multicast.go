// Package multicast implements LAN peer discovery: a periodic UDP broadcast
// of this node's public key to a well-known multicast group, and the receive
// side that recognises the same announcements from others.
package multicast

import (
	"bytes"
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/model"
	"github.com/botiapa/p2pthing/internal/wire"
)

// Group and Port are the well-known multicast rendezvous point every node on
// the same LAN listens on, per spec.md §4.4.
const (
	Group = "225.1.1.1"
	Port  = 42070

	// AnnounceInterval is how often a node re-broadcasts its presence.
	AnnounceInterval = 5 * time.Second
)

// magic prefixes every announcement so a node can cheaply reject stray UDP
// traffic landing on the same port before spending a decode on it.
var magic = [4]byte{0xDE, 0xAD, 0xBE, 0xEF}

// Announcer periodically broadcasts this node's public key onto the LAN.
type Announcer struct {
	conn   *net.UDPConn
	dst    *net.UDPAddr
	pubKey crypto.NetworkedPublicKey
}

// NewAnnouncer opens the multicast socket used to send announcements.
func NewAnnouncer(pubKey crypto.NetworkedPublicKey) (*Announcer, error) {
	dst := &net.UDPAddr{IP: net.ParseIP(Group), Port: Port}
	conn, err := net.DialUDP("udp4", nil, dst)
	if err != nil {
		return nil, errors.Wrap(err, "dial multicast group")
	}
	return &Announcer{conn: conn, dst: dst, pubKey: pubKey}, nil
}

// Announce sends one presence broadcast.
func (a *Announcer) Announce() error {
	body := wire.Marshal(&model.AnnouncePublic{PublicKey: a.pubKey})
	buf := make([]byte, 0, 4+len(body))
	buf = append(buf, magic[:]...)
	buf = append(buf, body...)
	_, err := a.conn.Write(buf)
	return errors.Wrap(err, "send multicast announce")
}

// Close releases the announce socket.
func (a *Announcer) Close() error { return a.conn.Close() }

// Listener receives presence announcements from other nodes on the LAN.
type Listener struct {
	pconn *ipv4.PacketConn
	raw   *net.UDPConn
}

// NewListener joins the multicast group on every usable interface.
func NewListener() (*Listener, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(Group), Port: Port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, errors.Wrap(err, "listen multicast group")
	}
	pconn := ipv4.NewPacketConn(conn)

	ifaces, err := net.Interfaces()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "enumerate interfaces")
	}
	joined := 0
	for _, iface := range ifaces {
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if err := pconn.JoinGroup(&iface, addr); err == nil {
			joined++
		}
	}
	if joined == 0 {
		conn.Close()
		return nil, errors.New("multicast: no interface could join the group")
	}
	return &Listener{pconn: pconn, raw: conn}, nil
}

// SetReadDeadline bounds the next Receive call, so the caller's event loop
// can fold this socket into its single-blocking-call-per-iteration poll.
func (l *Listener) SetReadDeadline(t time.Time) error {
	return l.raw.SetReadDeadline(t)
}

// Receive reads one announcement, validating the magic prefix and decoding
// the sender's public key. It returns (nil, nil) for stray non-matching
// traffic so the caller's loop can just continue polling.
func (l *Listener) Receive() (*model.AnnouncePublic, *net.UDPAddr, error) {
	buf := make([]byte, 2048)
	n, _, src, err := l.pconn.ReadFrom(buf)
	if err != nil {
		return nil, nil, err
	}
	if n < 4 || !bytes.Equal(buf[:4], magic[:]) {
		return nil, nil, nil
	}
	var pub model.AnnouncePublic
	if err := wire.Unmarshal(buf[4:n], &pub); err != nil {
		return nil, nil, errors.Wrap(err, "decode multicast announce")
	}
	udpSrc, _ := src.(*net.UDPAddr)
	return &pub, udpSrc, nil
}

// Close leaves the group and releases the socket.
func (l *Listener) Close() error { return l.raw.Close() }
