// Package logfront is a minimal front-end that logs events through the
// standard log package and fatih/color (voice frames are skipped) and never
// issues a command on its own; it stands in for a real terminal or
// GUI front-end and is what cmd/p2pthing uses when no UI package is wired.
package logfront

import (
	"log"

	"github.com/fatih/color"

	"github.com/botiapa/p2pthing/internal/ui"
)

// Front logs the events it receives until Events is closed.
type Front struct {
	ch *ui.Channels
}

// New attaches a logging front-end to ch. Run should be called in its own
// goroutine.
func New(ch *ui.Channels) *Front {
	return &Front{ch: ch}
}

// Run drains events until the channel is closed.
func (f *Front) Run() {
	for ev := range f.ch.Events {
		switch e := ev.(type) {
		case ui.Ready:
			color.Green("ready: own key %s", e.Own.String())
		case ui.PeerListChanged:
			log.Println("peer list changed:", len(e.Peers), "peers")
		case ui.IncomingCall:
			color.Yellow("incoming call from %s", e.Caller.String())
		case ui.CallStateChanged:
			log.Println("call state:", e.Peer.String(), "->", e.State)
		case ui.PunchThroughSuccessful:
			color.Green("punch-through successful: %s", e.Peer.String())
		case ui.ChatReceived:
			log.Println("chat from", e.From.String(), ":", e.Text)
		case ui.ChatDelivered:
			log.Println("chat delivered:", e.ID, "rtt", e.RTT)
		case ui.VoiceReceived:
			// Voice frames are not logged individually; too noisy.
		case ui.FileTransferProgress:
			if e.Completed {
				log.Println("file transfer complete:", e.FileID)
			}
		case ui.Error:
			color.Red("error: %v", e.Err)
		default:
			log.Printf("unhandled ui event: %#v", e)
		}
	}
}
