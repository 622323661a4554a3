package eventloop

import (
	"net"
	"strings"
	"testing"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/peer"
	"github.com/botiapa/p2pthing/internal/transport"
)

func sampleCryptoKey(t *testing.T) crypto.NetworkedPublicKey {
	t.Helper()
	return crypto.NetworkedPublicKey{N: "debug-snapshot-peer", E: "10001"}
}

func TestNewBindsASocketWithNoDiscovery(t *testing.T) {
	c, err := New(Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	if c.Keys == nil {
		t.Fatal("expected a generated key pair")
	}
	if c.broker != nil {
		t.Fatal("no broker address was given; broker should stay nil")
	}
	if c.announcer != nil || c.listener != nil {
		t.Fatal("multicast was not requested; announcer/listener should stay nil")
	}
}

func TestNextCorrelationIsMonotonicAndNeverZeroTwice(t *testing.T) {
	c, err := New(Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	first := c.nextCorrelation()
	second := c.nextCorrelation()
	if second <= first {
		t.Fatalf("expected a strictly increasing sequence, got %d then %d", first, second)
	}
}

func TestNewChatIDIsUnique(t *testing.T) {
	a := newChatID()
	b := newChatID()
	if a == b {
		t.Fatal("expected two distinct chat ids")
	}
}

func TestDebugSnapshotIncludesConnectedPeers(t *testing.T) {
	c, err := New(Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	peerKeys := sampleCryptoKey(t)
	conn := transport.NewUdpConnection(transport.Connected, &net.UDPAddr{Port: 9999}, nil, nil)
	c.Peers.Add(&peer.Peer{PublicKey: &peerKeys, UDPConn: conn})

	snap := c.DebugSnapshot()
	if !strings.Contains(snap, "own key:") {
		t.Fatal("expected the snapshot to include this node's own key")
	}
	if !strings.Contains(snap, peerKeys.String()) {
		t.Fatal("expected the snapshot to include the connected peer's key")
	}
	if !strings.Contains(snap, "state=Connected") {
		t.Fatalf("expected the snapshot to report the peer's connection state, got: %s", snap)
	}
}
