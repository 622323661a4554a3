package rendezvous

import (
	"net"
	"testing"
	"time"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/model"
)

func mustListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}

func mustKeyPair(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.NewKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

// acceptOne runs Table.Accept on the next incoming connection and posts the
// result (or error) on the returned channel.
func acceptOne(table *Table, ln net.Listener, brokerKeys *crypto.KeyPair) chan error {
	done := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		_, _, err = table.Accept(conn, brokerKeys)
		done <- err
	}()
	return done
}

func TestAnnounceHandshakeRoundTrip(t *testing.T) {
	ln := mustListener(t)
	table := NewTable()
	brokerKeys := mustKeyPair(t)

	accepted := acceptOne(table, ln, brokerKeys)

	client, err := Dial(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	clientKeys := mustKeyPair(t)
	list, err := client.Announce(clientKeys)
	if err != nil {
		t.Fatal(err)
	}
	if list == nil || len(list.Peers) != 0 {
		t.Fatalf("expected an empty peer list for the first announcer, got %+v", list)
	}

	select {
	case err := <-accepted:
		if err != nil {
			t.Fatalf("broker-side Accept failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the broker side of the handshake")
	}

	pub := clientKeys.PublicKey()
	sess, ok := table.Get(pub)
	if !ok {
		t.Fatal("client should be registered in the table under its own public key after announcing")
	}
	if sess.Key != pub {
		t.Fatal("stored session key does not match the announced public key")
	}
}

func TestSecondAnnouncerSeesFirstInPeerList(t *testing.T) {
	ln := mustListener(t)
	table := NewTable()
	brokerKeys := mustKeyPair(t)

	firstAccepted := acceptOne(table, ln, brokerKeys)
	first, err := Dial(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	firstKeys := mustKeyPair(t)
	if _, err := first.Announce(firstKeys); err != nil {
		t.Fatal(err)
	}
	if err := <-firstAccepted; err != nil {
		t.Fatal(err)
	}

	secondAccepted := acceptOne(table, ln, brokerKeys)
	second, err := Dial(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	secondKeys := mustKeyPair(t)
	list, err := second.Announce(secondKeys)
	if err != nil {
		t.Fatal(err)
	}
	if err := <-secondAccepted; err != nil {
		t.Fatal(err)
	}

	if len(list.Peers) != 1 || list.Peers[0].PublicKey != firstKeys.PublicKey() {
		t.Fatalf("expected the second announcer to see exactly the first in its peer list, got %+v", list.Peers)
	}
}

func TestRemoveAndBroadcastDisconnect(t *testing.T) {
	ln := mustListener(t)
	table := NewTable()
	brokerKeys := mustKeyPair(t)

	aAccepted := acceptOne(table, ln, brokerKeys)
	a, err := Dial(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	aKeys := mustKeyPair(t)
	if _, err := a.Announce(aKeys); err != nil {
		t.Fatal(err)
	}
	if err := <-aAccepted; err != nil {
		t.Fatal(err)
	}

	bAccepted := acceptOne(table, ln, brokerKeys)
	b, err := Dial(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	bKeys := mustKeyPair(t)
	if _, err := b.Announce(bKeys); err != nil {
		t.Fatal(err)
	}
	if err := <-bAccepted; err != nil {
		t.Fatal(err)
	}

	a.Close()
	// Give the broker a moment to notice the closed connection isn't needed:
	// Remove is driven by the broker's own read-loop in production, so here we
	// drive it directly, as internal/broker.Server does on EOF.
	key, ok := table.Remove(aConnFromTable(table, aKeys.PublicKey()))
	if !ok {
		t.Fatal("expected to find and remove a's session")
	}
	if key != aKeys.PublicKey() {
		t.Fatal("Remove returned the wrong key")
	}

	table.BroadcastDisconnect(key)
	tag, body, err := b.Next()
	if err != nil {
		t.Fatal(err)
	}
	if tag != model.Disconnect {
		t.Fatalf("expected a Disconnect frame, got tag %v", tag)
	}
	disc, ok := body.(*model.DisconnectMsg)
	if !ok || disc.PublicKey != aKeys.PublicKey() {
		t.Fatalf("unexpected disconnect payload: %+v", body)
	}
}

func aConnFromTable(table *Table, key crypto.NetworkedPublicKey) net.Conn {
	sess, ok := table.Get(key)
	if !ok {
		return nil
	}
	return sess.Conn
}

func TestRouteCallBouncesWhenAddressUnknown(t *testing.T) {
	ln := mustListener(t)
	table := NewTable()
	brokerKeys := mustKeyPair(t)

	callerAccepted := acceptOne(table, ln, brokerKeys)
	caller, err := Dial(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer caller.Close()
	callerKeys := mustKeyPair(t)
	if _, err := caller.Announce(callerKeys); err != nil {
		t.Fatal(err)
	}
	if err := <-callerAccepted; err != nil {
		t.Fatal(err)
	}

	calleeAccepted := acceptOne(table, ln, brokerKeys)
	callee, err := Dial(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer callee.Close()
	calleeKeys := mustKeyPair(t)
	if _, err := callee.Announce(calleeKeys); err != nil {
		t.Fatal(err)
	}
	if err := <-calleeAccepted; err != nil {
		t.Fatal(err)
	}

	// Neither side ever sent a UDP address (only real broker deployments
	// observe one via a UDP rendezvous packet), so routing the call must
	// bounce a denial straight back instead of relaying it to the callee.
	call := &model.CallMsg{Callee: calleeKeys.PublicKey()}
	if err := table.RouteCall(callerKeys.PublicKey(), call); err != nil {
		t.Fatal(err)
	}

	tag, body, err := caller.Next()
	if err != nil {
		t.Fatal(err)
	}
	if tag != model.CallResponse {
		t.Fatalf("expected a bounced CallResponse, got tag %v", tag)
	}
	resp, ok := body.(*model.CallResponseMsg)
	if !ok || resp.Response {
		t.Fatalf("expected a denial bounce, got %+v", resp)
	}
}

func TestRouteCallAndResponseCarryTheRightAddresses(t *testing.T) {
	ln := mustListener(t)
	table := NewTable()
	brokerKeys := mustKeyPair(t)

	callerAccepted := acceptOne(table, ln, brokerKeys)
	caller, err := Dial(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer caller.Close()
	callerKeys := mustKeyPair(t)
	if _, err := caller.Announce(callerKeys); err != nil {
		t.Fatal(err)
	}
	if err := <-callerAccepted; err != nil {
		t.Fatal(err)
	}

	calleeAccepted := acceptOne(table, ln, brokerKeys)
	callee, err := Dial(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer callee.Close()
	calleeKeys := mustKeyPair(t)
	if _, err := callee.Announce(calleeKeys); err != nil {
		t.Fatal(err)
	}
	if err := <-calleeAccepted; err != nil {
		t.Fatal(err)
	}

	callerAddr := &net.UDPAddr{IP: net.ParseIP("198.51.100.1"), Port: 4001}
	calleeAddr := &net.UDPAddr{IP: net.ParseIP("198.51.100.2"), Port: 4002}
	mustSession(t, table, callerKeys.PublicKey()).Addr = callerAddr
	mustSession(t, table, calleeKeys.PublicKey()).Addr = calleeAddr

	if err := table.RouteCall(callerKeys.PublicKey(), &model.CallMsg{Callee: calleeKeys.PublicKey()}); err != nil {
		t.Fatal(err)
	}
	tag, body, err := callee.Next()
	if err != nil {
		t.Fatal(err)
	}
	if tag != model.Call {
		t.Fatalf("expected a relayed Call, got tag %v", tag)
	}
	call := body.(*model.CallMsg)
	if call.UDPAddress == nil || !call.UDPAddress.IP.Equal(callerAddr.IP) || call.UDPAddress.Port != callerAddr.Port {
		t.Fatalf("expected the relayed Call to carry the caller's address, got %+v", call.UDPAddress)
	}

	resp := &model.CallResponseMsg{Call: *call, Response: true}
	resp.Call.UDPAddress = callerAddr // echoed back, as the callee's wire value would be
	if err := table.RouteCallResponse(resp); err != nil {
		t.Fatal(err)
	}
	tag, body, err = caller.Next()
	if err != nil {
		t.Fatal(err)
	}
	if tag != model.CallResponse {
		t.Fatalf("expected a relayed CallResponse, got tag %v", tag)
	}
	routed := body.(*model.CallResponseMsg)
	if !routed.Response {
		t.Fatal("expected the accept to be carried through")
	}
	if routed.Call.UDPAddress == nil || !routed.Call.UDPAddress.IP.Equal(calleeAddr.IP) || routed.Call.UDPAddress.Port != calleeAddr.Port {
		t.Fatalf("expected the relayed CallResponse to carry the callee's address, got %+v", routed.Call.UDPAddress)
	}
}

func mustSession(t *testing.T, table *Table, key crypto.NetworkedPublicKey) *Session {
	t.Helper()
	sess, ok := table.Get(key)
	if !ok {
		t.Fatalf("no session for key %s", key)
	}
	return sess
}
