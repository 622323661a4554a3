package eventloop

import (
	"github.com/pkg/errors"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/model"
	"github.com/botiapa/p2pthing/internal/peer"
	"github.com/botiapa/p2pthing/internal/transport"
	"github.com/botiapa/p2pthing/internal/ui"
	"github.com/botiapa/p2pthing/internal/wire"
)

// errNoBroker is returned when a call is attempted without a rendezvous link.
var errNoBroker = errors.New("eventloop: no rendezvous broker connection")

// onIncomingCall handles a Call the broker relayed to us as callee: it
// carries the caller's identity and observed UDP address (never trusted from
// the caller directly — the broker fills it in). The local connection enters
// Pending until the UI decides.
func (c *Client) onIncomingCall(call *model.CallMsg) {
	caller := *call.Caller
	c.incomingCalls[caller.String()] = call

	p := c.Peers.Get(&caller)
	if p == nil {
		p = &peer.Peer{
			PublicKey: &caller,
			Source:    peer.Rendezvous,
			Type:      peer.ClientPeer,
			UDPConn:   transport.NewUdpConnection(transport.Pending, call.UDPAddress, c.socket, c.Keys),
		}
		c.Peers.Add(p)
	} else if p.UDPConn == nil {
		p.UDPConn = transport.NewUdpConnection(transport.Pending, call.UDPAddress, c.socket, c.Keys)
	} else {
		p.UDPConn.Address = call.UDPAddress
		p.UDPConn.State = transport.Pending
	}
	p.UDPConn.PeerKey = &caller
	c.UI.Events <- ui.IncomingCall{Caller: caller}
}

// placeCall sends a Call to the broker for routing to callee and remembers
// it as awaiting a CallResponse.
func (c *Client) placeCall(callee crypto.NetworkedPublicKey) {
	if c.broker == nil {
		c.UI.Events <- ui.Error{Err: errNoBroker}
		return
	}
	c.pendingCalls[callee.String()] = pendingCall{callee: callee}
	if err := c.broker.SendCall(&model.CallMsg{Callee: callee}); err != nil {
		c.UI.Events <- ui.Error{Err: err}
	}
}

// onCallResponse handles the broker's relay of a callee's accept/deny. The
// relay carries the callee's observed address in the same UDPAddress field
// the original Call used for the caller's address — each hop fills in the
// address of whichever side it just heard from.
func (c *Client) onCallResponse(resp *model.CallResponseMsg) {
	callee := resp.Call.Callee
	delete(c.pendingCalls, callee.String())

	if !resp.Response {
		c.UI.Events <- ui.CallStateChanged{Peer: callee, State: "Denied"}
		return
	}

	p := c.Peers.Get(&callee)
	if p == nil {
		p = &peer.Peer{PublicKey: &callee, Source: peer.Rendezvous, Type: peer.ClientPeer}
		c.Peers.Add(p)
	}
	if p.UDPConn == nil {
		p.UDPConn = transport.NewUdpConnection(transport.MidCall, resp.Call.UDPAddress, c.socket, c.Keys)
	} else {
		p.UDPConn.Address = resp.Call.UDPAddress
		p.UDPConn.State = transport.MidCall
	}
	p.UDPConn.PeerKey = &callee

	c.beginPunchThrough(p.UDPConn)
}

// acceptCall answers an incoming call the UI decided to take. Per spec.md
// §4.3, the symmetric secret is minted by the caller alone (beginPunchThrough,
// called from onCallResponse) — the callee never mints its own; it only
// transitions to MidCall and starts sending keep-alives toward the learned
// address, then installs whatever secret arrives in the caller's
// AnnounceSecret (dispatchUDPMessage's AnnounceSecret case).
func (c *Client) acceptCall(call *model.CallMsg) {
	caller := *call.Caller
	p := c.Peers.Get(&caller)
	if p == nil || p.UDPConn == nil {
		return
	}
	p.UDPConn.State = transport.MidCall
}

// beginPunchThrough generates a fresh symmetric session secret and sends it,
// RSA-sealed under the peer's known public key (UdpConnection.Send already
// picks that scheme whenever PeerKey is set and the connection isn't
// upgraded yet), as the first reliable message toward the newly-learned
// address. Only the caller ever calls this (from onCallResponse) — the
// callee installs the secret when it arrives instead of minting its own, so
// both sides end up holding the same key. This side upgrades only once the
// MessageConfirmation for it arrives, so both directions agree on when the
// tunnel is live.
func (c *Client) beginPunchThrough(conn *transport.UdpConnection) {
	sess, err := crypto.NewSymmetricSession()
	if err != nil {
		c.UI.Events <- ui.Error{Err: err}
		return
	}
	conn.SymmetricKey = sess
	body := wire.Marshal(&model.AnnounceSecretMsg{Secret: sess.Secret()})
	conn.Send(model.AnnounceSecret, body, true, nil)
}
