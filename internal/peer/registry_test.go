package peer

import (
	"net"
	"testing"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/transport"
)

func key(n string) *crypto.NetworkedPublicKey {
	return &crypto.NetworkedPublicKey{N: n, E: "10001"}
}

func TestAddGetRemove(t *testing.T) {
	var l List
	k := key("alice")
	p := &Peer{PublicKey: k, Source: Rendezvous, Type: ClientPeer}
	l.Add(p)

	if got := l.Get(k); got != p {
		t.Fatal("Get did not return the added peer")
	}
	if got := l.Get(key("bob")); got != nil {
		t.Fatal("Get should return nil for an unknown key")
	}

	l.Remove(k)
	if got := l.Get(k); got != nil {
		t.Fatal("peer should be gone after Remove")
	}
}

func TestAddDuplicateKeyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Add to panic on a duplicate key")
		}
	}()
	var l List
	k := key("alice")
	l.Add(&Peer{PublicKey: k})
	l.Add(&Peer{PublicKey: k})
}

func TestByAddrAndConnByAddr(t *testing.T) {
	var l List
	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 4000}
	conn := transport.NewUdpConnection(transport.Unknown, addr, nil, nil)
	p := &Peer{PublicKey: key("carol"), UDPConn: conn}
	l.Add(p)

	if got := l.ByAddr(addr); got != p {
		t.Fatal("ByAddr did not find the peer at its connection's address")
	}
	if got := l.ConnByAddr(addr); got != conn {
		t.Fatal("ConnByAddr did not return the matching UdpConnection")
	}
	other := &net.UDPAddr{IP: net.ParseIP("10.0.0.6"), Port: 4000}
	if got := l.ByAddr(other); got != nil {
		t.Fatal("ByAddr should not match a different address")
	}
}

func TestPublicStripsAddressRevealingFields(t *testing.T) {
	conn := transport.NewUdpConnection(transport.Unknown, &net.UDPAddr{Port: 1}, nil, nil)
	p := &Peer{PublicKey: key("dave"), UDPConn: conn, Source: Multicast, Type: ClientPeer}
	pub := p.Public()
	if pub.UDPConn != nil {
		t.Fatal("Public() must strip the UDP connection")
	}
	if pub.PublicKey != p.PublicKey {
		t.Fatal("Public() must preserve the public key")
	}
}

func TestConnectionsSkipsPeersWithoutOne(t *testing.T) {
	var l List
	conn := transport.NewUdpConnection(transport.Unknown, nil, nil, nil)
	l.Add(&Peer{PublicKey: key("with-conn"), UDPConn: conn})
	l.Add(&Peer{PublicKey: key("without-conn")})

	conns := l.Connections()
	if len(conns) != 1 || conns[0] != conn {
		t.Fatalf("expected exactly the one peer with a connection, got %v", conns)
	}
}
