package logfront

import (
	"testing"
	"time"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/ui"
)

// TestRunDrainsEveryEventKindWithoutBlocking pushes one of every ui.Event
// variant through the channel and confirms Run drains all of them and
// returns once Events is closed, without panicking on any type switch arm.
func TestRunDrainsEveryEventKindWithoutBlocking(t *testing.T) {
	ch := ui.NewChannels()
	front := New(ch)

	done := make(chan struct{})
	go func() {
		front.Run()
		close(done)
	}()

	key := crypto.NetworkedPublicKey{N: "n", E: "10001"}
	ch.Events <- ui.Ready{Own: key}
	ch.Events <- ui.PeerListChanged{Peers: []crypto.NetworkedPublicKey{key}}
	ch.Events <- ui.IncomingCall{Caller: key}
	ch.Events <- ui.CallStateChanged{Peer: key, State: "connected"}
	ch.Events <- ui.PunchThroughSuccessful{Peer: key}
	ch.Events <- ui.ChatReceived{From: key, Text: "hi", SentAt: time.Now()}
	ch.Events <- ui.ChatDelivered{ID: "c1", RTT: 10 * time.Millisecond}
	ch.Events <- ui.VoiceReceived{Peer: key, Data: []byte{1, 2, 3}}
	ch.Events <- ui.FileTransferProgress{FileID: "f1", Written: 10, Total: 10, Completed: true}
	ch.Events <- ui.Error{Err: errString("boom")}
	close(ch.Events)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Events was closed")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
