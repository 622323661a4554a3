package eventloop

import (
	"time"

	"github.com/pkg/errors"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/model"
	"github.com/botiapa/p2pthing/internal/ui"
	"github.com/botiapa/p2pthing/internal/wire"
)

var (
	errPeerUnreachable = errors.New("eventloop: peer has no usable connection")
	errUnknownCall     = errors.New("eventloop: no pending call from that caller")
)

func (c *Client) handleCommand(cmd ui.Command) {
	switch cm := cmd.(type) {
	case ui.SendChatMessage:
		c.sendChatMessage(cm)
	case ui.StartCall:
		c.placeCall(cm.Callee)
	case ui.RespondToCall:
		c.respondToCall(cm)
	case ui.HangUp:
		c.hangUp(cm.Peer)
	case ui.SendVoice:
		c.sendVoice(cm)
	case ui.Shutdown:
		go c.Stop()
	}
}

// nextCorrelation hands out a fresh, process-local id used only to match a
// reliably-sent message's eventual MessageConfirmation back to the
// higher-level action (here, a ui.ChatDelivered event) that triggered it.
func (c *Client) nextCorrelation() uint32 {
	c.correlationSeq++
	return c.correlationSeq
}

func (c *Client) sendChatMessage(cmd ui.SendChatMessage) {
	p := c.Peers.Get(&cmd.Recipient)
	if p == nil || p.UDPConn == nil {
		c.UI.Events <- ui.Error{Err: errPeerUnreachable}
		return
	}

	attachments := make([]model.PreparedFile, 0, len(cmd.Attachments))
	for _, path := range cmd.Attachments {
		pf, err := c.Files.StartSending(path)
		if err != nil {
			c.UI.Events <- ui.Error{Err: err}
			continue
		}
		attachments = append(attachments, pf)
	}

	text := cmd.Text
	compressed := false
	if compact, did := wire.MaybeCompress([]byte(cmd.Text)); did {
		text, compressed = string(compact), true
	}

	id := newChatID()
	msg := &model.ChatMessageWire{
		ID:           id,
		Author:       c.Keys.PublicKey(),
		Recipient:    cmd.Recipient,
		Msg:          text,
		Attachments:  attachments,
		SentUnixNano: time.Now().UnixNano(),
		Compressed:   compressed,
	}

	correlation := c.nextCorrelation()
	c.pendingChats[correlation] = pendingChat{id: id}

	encoded := wire.Marshal(msg)
	if err := p.UDPConn.Send(model.ChatMessage, encoded, true, &correlation); err != nil {
		delete(c.pendingChats, correlation)
		c.UI.Events <- ui.Error{Err: err}
	}
}

func (c *Client) respondToCall(cmd ui.RespondToCall) {
	call, ok := c.incomingCalls[cmd.Caller.String()]
	if !ok {
		c.UI.Events <- ui.Error{Err: errUnknownCall}
		return
	}
	delete(c.incomingCalls, cmd.Caller.String())

	resp := &model.CallResponseMsg{Call: *call, Response: cmd.Accept}
	if c.broker != nil {
		if err := c.broker.SendCallResponse(resp); err != nil {
			c.UI.Events <- ui.Error{Err: err}
			return
		}
	}
	if cmd.Accept {
		c.acceptCall(call)
	}
}

// hangUp removes a call peer, and with it the local connection, from the
// registry. There is no peer-to-peer wire message for this: disconnect
// notice is a broker-mediated concept (see internal/rendezvous), and a call
// partner we punched through to directly only stops receiving keep-alives
// from this node; nothing on its side removes the connection because of that.
func (c *Client) hangUp(key crypto.NetworkedPublicKey) {
	if c.Peers.Get(&key) == nil {
		return
	}
	c.Peers.Remove(&key)
	c.notifyPeerList()
}

func (c *Client) sendVoice(cmd ui.SendVoice) {
	p := c.Peers.Get(&cmd.Peer)
	if p == nil || p.UDPConn == nil {
		return
	}
	body := wire.Marshal(&model.OpusPacketMsg{Data: cmd.Data})
	p.UDPConn.Send(model.OpusPacket, body, false, nil)
}
