package multicast

import (
	"net"
	"testing"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/model"
	"github.com/botiapa/p2pthing/internal/wire"
)

// newLoopbackListener builds a Listener around a plain loopback UDP socket,
// sidestepping NewListener's multicast-group join — the magic-prefix
// filtering and decode path in Receive don't depend on group membership.
func newLoopbackListener(t *testing.T) (*Listener, *net.UDPAddr) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return &Listener{pconn: ipv4.NewPacketConn(conn), raw: conn}, conn.LocalAddr().(*net.UDPAddr)
}

func TestReceiveDecodesValidAnnouncement(t *testing.T) {
	l, addr := newLoopbackListener(t)

	sender, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	pub := crypto.NetworkedPublicKey{N: "n", E: "10001"}
	body := wire.Marshal(&model.AnnouncePublic{PublicKey: pub})
	buf := append(append([]byte{}, magic[:]...), body...)
	if _, err := sender.WriteToUDP(buf, addr); err != nil {
		t.Fatal(err)
	}

	l.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, _, err := l.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.PublicKey != pub {
		t.Fatalf("expected to decode the announced public key, got %+v", got)
	}
}

func TestReceiveIgnoresStrayTrafficWithoutMagic(t *testing.T) {
	l, addr := newLoopbackListener(t)

	sender, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	if _, err := sender.WriteToUDP([]byte("not a multicast announcement"), addr); err != nil {
		t.Fatal(err)
	}

	l.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, _, err := l.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected stray non-magic traffic to be silently ignored, got %+v", got)
	}
}

func TestReceiveIgnoresShortPacket(t *testing.T) {
	l, addr := newLoopbackListener(t)

	sender, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	if _, err := sender.WriteToUDP([]byte{0xDE, 0xAD}, addr); err != nil {
		t.Fatal(err)
	}

	l.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, _, err := l.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected a too-short packet to be ignored rather than decoded, got %+v", got)
	}
}
