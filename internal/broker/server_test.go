package broker

import (
	"testing"
	"time"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/model"
	"github.com/botiapa/p2pthing/internal/rendezvous"
)

// TestServerBouncesCallWithoutUDPAddresses brings up a real broker listening
// on a loopback port, announces two clients against it, and confirms a Call
// from one is bounced straight back to the caller as a denial instead of
// being relayed to the callee (neither side has a UDP address on file, which
// is always true for a bare TCP-only announce).
func TestServerBouncesCallWithoutUDPAddresses(t *testing.T) {
	srv, err := New("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()
	go srv.Run()

	addr := srv.Addr().String()

	caller, err := rendezvous.Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer caller.Close()
	callerKeys, err := crypto.NewKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := caller.Announce(callerKeys); err != nil {
		t.Fatal(err)
	}

	callee, err := rendezvous.Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer callee.Close()
	calleeKeys, err := crypto.NewKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := callee.Announce(calleeKeys); err != nil {
		t.Fatal(err)
	}

	if err := caller.SendCall(&model.CallMsg{Callee: calleeKeys.PublicKey()}); err != nil {
		t.Fatal(err)
	}

	type result struct {
		tag  model.MsgType
		body interface{}
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		tag, body, err := caller.Next()
		resCh <- result{tag, body, err}
	}()

	select {
	case r := <-resCh:
		if r.err != nil {
			t.Fatal(r.err)
		}
		if r.tag != model.CallResponse {
			t.Fatalf("expected a CallResponse bounce, got tag %v", r.tag)
		}
		resp := r.body.(*model.CallResponseMsg)
		if resp.Response {
			t.Fatal("expected the bounce to deny the call since no UDP address is on file")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the broker to route the call")
	}
}

func TestServerDisconnectBroadcast(t *testing.T) {
	srv, err := New("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()
	go srv.Run()

	addr := srv.Addr().String()

	a, err := rendezvous.Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	aKeys, err := crypto.NewKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Announce(aKeys); err != nil {
		t.Fatal(err)
	}

	b, err := rendezvous.Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	bKeys, err := crypto.NewKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Announce(bKeys); err != nil {
		t.Fatal(err)
	}

	a.Close()

	type result struct {
		tag  model.MsgType
		body interface{}
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		tag, body, err := b.Next()
		resCh <- result{tag, body, err}
	}()

	select {
	case r := <-resCh:
		if r.err != nil {
			t.Fatal(r.err)
		}
		if r.tag != model.Disconnect {
			t.Fatalf("expected a Disconnect broadcast after a's connection closed, got tag %v", r.tag)
		}
		disc := r.body.(*model.DisconnectMsg)
		if disc.PublicKey != aKeys.PublicKey() {
			t.Fatalf("expected the disconnect to name a's key, got %+v", disc.PublicKey)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the disconnect broadcast")
	}
}
