// Package peer holds the client's view of every other node it knows about:
// the rendezvous broker, LAN-discovered neighbours, and call partners. Peers
// are looked up and de-duplicated by public key alone.
package peer

import (
	"net"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/transport"
)

// Source is a bitset of how a peer was discovered.
type Source uint8

const (
	Multicast Source = 1 << iota
	Rendezvous
	Manual
)

func (s Source) Has(f Source) bool { return s&f != 0 }

// Type distinguishes the rendezvous broker from an ordinary client peer; the
// broker link has no associated public key until it has announced itself.
type Type int

const (
	ClientPeer Type = iota
	RendezvousServer
)

// Peer is one entry in the registry: an identity, optionally a TCP stream
// (only ever set for the broker link on a client), optionally a UDP data
// connection, and how it was discovered.
type Peer struct {
	PublicKey *crypto.NetworkedPublicKey
	TCPConn   net.Conn
	UDPConn   *transport.UdpConnection
	Source    Source
	Type      Type
}

// Public returns a copy with every address-revealing field stripped — the
// only view of a Peer that may ever cross the TCP boundary to another
// client.
func (p *Peer) Public() Peer {
	return Peer{PublicKey: p.PublicKey, Type: p.Type, Source: p.Source}
}

func sameKey(a, b *crypto.NetworkedPublicKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.N == b.N && a.E == b.E
}

// List is the indexed collection of known peers. The zero value is ready to
// use. It never holds two entries with the same public key.
type List struct {
	peers []*Peer
}

// Add inserts p. It panics on a duplicate key — the caller is expected to
// check Get first, mirroring the reference implementation's invariant that
// this should never be reachable in practice.
func (l *List) Add(p *Peer) {
	if p.PublicKey != nil {
		if existing := l.Get(p.PublicKey); existing != nil {
			panic("peer: attempted to add a peer that is already present")
		}
	}
	l.peers = append(l.peers, p)
}

// Remove deletes the peer with the given key, if present.
func (l *List) Remove(key *crypto.NetworkedPublicKey) {
	for i, p := range l.peers {
		if sameKey(p.PublicKey, key) {
			l.peers = append(l.peers[:i], l.peers[i+1:]...)
			return
		}
	}
}

// Get returns the peer with the given public key, or nil.
func (l *List) Get(key *crypto.NetworkedPublicKey) *Peer {
	for _, p := range l.peers {
		if sameKey(p.PublicKey, key) {
			return p
		}
	}
	return nil
}

// ByAddr returns the peer whose UDP connection targets addr, or nil.
func (l *List) ByAddr(addr *net.UDPAddr) *Peer {
	for _, p := range l.peers {
		if p.UDPConn != nil && addrEqual(p.UDPConn.Address, addr) {
			return p
		}
	}
	return nil
}

// ConnByAddr returns the UdpConnection targeting addr, or nil.
func (l *List) ConnByAddr(addr *net.UDPAddr) *transport.UdpConnection {
	if p := l.ByAddr(addr); p != nil {
		return p.UDPConn
	}
	return nil
}

func addrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

// All returns every peer in the registry. Callers must not mutate the slice.
func (l *List) All() []*Peer { return l.peers }

// Connections returns every peer's UdpConnection, skipping peers without one.
func (l *List) Connections() []*transport.UdpConnection {
	conns := make([]*transport.UdpConnection, 0, len(l.peers))
	for _, p := range l.peers {
		if p.UDPConn != nil {
			conns = append(conns, p.UDPConn)
		}
	}
	return conns
}
