package eventloop

import (
	"net"
	"time"

	"github.com/botiapa/p2pthing/internal/crypto"
	"github.com/botiapa/p2pthing/internal/multicast"
	"github.com/botiapa/p2pthing/internal/model"
	"github.com/botiapa/p2pthing/internal/peer"
	"github.com/botiapa/p2pthing/internal/transport"
	"github.com/botiapa/p2pthing/internal/ui"
	"github.com/botiapa/p2pthing/internal/wire"
)

func addrEqual(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

func (c *Client) handleUDP(ev udpEvent) {
	packet, err := wire.DecodeUDPPacket(ev.data)
	if err != nil {
		return // malformed datagram; drop silently, matching a best-effort data plane
	}
	if c.brokerConn != nil && addrEqual(c.brokerConn.Address, ev.addr) {
		c.handleBrokerUDP(ev, packet)
		return
	}
	conn := c.Peers.ConnByAddr(ev.addr)
	if conn == nil {
		// Unsolicited traffic from an address we have no connection for yet,
		// such as a callee's keep-alives reaching the caller before the caller
		// has handled the relayed CallResponse and created its connection.
		// It is dropped; keep-alives repeat and reliable messages are resent,
		// so the exchange continues once the connection exists.
		return
	}

	res, err := conn.OnIncoming(ev.data, packet)
	if err != nil {
		c.UI.Events <- ui.Error{Err: err}
		return
	}
	if res.AlreadySeen {
		return
	}
	if packet.Reliable {
		conn.SendConfirmation(packet.MsgID)
	}
	c.dispatchUDPMessage(conn, res.MsgType, res.Body)
}

func (c *Client) dispatchUDPMessage(conn *transport.UdpConnection, msgType model.MsgType, body []byte) {
	switch msgType {
	case model.KeepAlive:
		conn.KeepAliveReceived = true
		c.maybeCompletePunchThrough(conn)

	case model.AnnounceSecret:
		var msg model.AnnounceSecretMsg
		if err := wire.Unmarshal(body, &msg); err != nil {
			c.UI.Events <- ui.Error{Err: err}
			return
		}
		sess, err := crypto.NewSymmetricSessionFromSecret(msg.Secret)
		if err != nil {
			c.UI.Events <- ui.Error{Err: err}
			return
		}
		conn.SymmetricKey = sess
		conn.Upgraded = true
		c.maybeCompletePunchThrough(conn)

	case model.ChatMessage:
		var msg model.ChatMessageWire
		if err := wire.Unmarshal(body, &msg); err != nil {
			c.UI.Events <- ui.Error{Err: err}
			return
		}
		text := msg.Msg
		payload := []byte(text)
		if msg.Compressed {
			decompressed, err := wire.Decompress(payload, true)
			if err == nil {
				text = string(decompressed)
			}
		}
		for _, a := range msg.Attachments {
			if err := c.Files.StartReceiving(a, msg.Author); err != nil {
				c.UI.Events <- ui.Error{Err: err}
			}
		}
		c.UI.Events <- ui.ChatReceived{
			From:        msg.Author,
			Text:        text,
			Attachments: msg.Attachments,
			SentAt:      time.Unix(0, msg.SentUnixNano),
		}

	case model.OpusPacket:
		var msg model.OpusPacketMsg
		if err := wire.Unmarshal(body, &msg); err != nil {
			return
		}
		if p := c.Peers.ByAddr(conn.Address); p != nil && p.PublicKey != nil {
			c.UI.Events <- ui.VoiceReceived{Peer: *p.PublicKey, Data: msg.Data}
		}

	case model.RequestFileChunks:
		var msg model.RequestFileChunksMsg
		if err := wire.Unmarshal(body, &msg); err != nil {
			return
		}
		chunks, err := c.Files.ServeChunks(msg)
		if err != nil {
			c.UI.Events <- ui.Error{Err: err}
			return
		}
		reply := wire.Marshal(&model.FileChunksMsg{Chunks: chunks})
		conn.Send(model.FileChunks, reply, false, nil)

	case model.FileChunks:
		var msg model.FileChunksMsg
		if err := wire.Unmarshal(body, &msg); err != nil {
			return
		}
		if err := c.Files.StoreChunks(msg); err != nil {
			c.UI.Events <- ui.Error{Err: err}
			return
		}
		reported := make(map[string]bool)
		for _, dc := range msg.Chunks {
			if reported[dc.FileID] {
				continue
			}
			reported[dc.FileID] = true
			if _, done := c.Files.Completed(dc.FileID); done {
				written := c.Files.Transfers[dc.FileID].BytesWritten
				c.UI.Events <- ui.FileTransferProgress{FileID: dc.FileID, Written: written, Total: written, Completed: true}
			}
		}
		c.dispatchPendingChunkRequests()

	case model.MessageConfirmation:
		var msg model.MessageConfirmationMsg
		if err := wire.Unmarshal(body, &msg); err != nil {
			return
		}
		c.onConfirmation(conn, msg.MsgID)
	}
}

// handleBrokerUDP processes a datagram from the broker's UDP bootstrap
// address: any packet it sends back is the acknowledgement that it has
// bound our observed source address to our public key (spec.md §4.4), so
// the first one received while Unannounced moves the link to Connected and
// its keep-alive cadence throttles back from 1 s to 10 s.
func (c *Client) handleBrokerUDP(ev udpEvent, packet *wire.UdpPacket) {
	res, err := c.brokerConn.OnIncoming(ev.data, packet)
	if err != nil || res.AlreadySeen {
		return
	}
	if c.brokerConn.State == transport.Unannounced {
		c.brokerConn.State = transport.Connected
	}
}

// maybeCompletePunchThrough transitions conn to Connected and emits
// PunchThroughSuccessful once it has both upgraded to a symmetric key and
// received at least one KeepAlive from the peer, per spec.md §4.3 step 4.
func (c *Client) maybeCompletePunchThrough(conn *transport.UdpConnection) {
	if conn.State == transport.Connected || !conn.Upgraded || !conn.KeepAliveReceived {
		return
	}
	conn.State = transport.Connected
	if p := c.Peers.ByAddr(conn.Address); p != nil && p.PublicKey != nil {
		c.UI.Events <- ui.PunchThroughSuccessful{Peer: *p.PublicKey}
	}
}

// onConfirmation finishes bookkeeping for a reliably-sent message once its
// MessageConfirmation arrives on a different, already-received packet.
func (c *Client) onConfirmation(conn *transport.UdpConnection, msgID uint32) {
	result, ok := conn.OnConfirmation(msgID)
	if !ok {
		return
	}
	switch result.MsgType {
	case model.AnnounceSecret:
		conn.Upgraded = true
		c.maybeCompletePunchThrough(conn)
	case model.ChatMessage:
		if result.Correlation == nil {
			return
		}
		if pending, ok := c.pendingChats[*result.Correlation]; ok {
			delete(c.pendingChats, *result.Correlation)
			c.UI.Events <- ui.ChatDelivered{ID: pending.id, RTT: result.RTT}
		}
	}
}

func (c *Client) handleBroker(ev brokerEvent) {
	if ev.err != nil {
		c.UI.Events <- ui.Error{Err: ev.err}
		return
	}
	switch msg := ev.body.(type) {
	case *model.CallMsg:
		c.onIncomingCall(msg)
	case *model.CallResponseMsg:
		c.onCallResponse(msg)
	case *model.DisconnectMsg:
		c.Peers.Remove(&msg.PublicKey)
		c.notifyPeerList()
	case *model.AnnouncePublic:
		k := msg.PublicKey
		if c.Peers.Get(&k) == nil {
			c.Peers.Add(&peer.Peer{PublicKey: &k, Source: peer.Rendezvous, Type: peer.ClientPeer})
			c.notifyPeerList()
		}
	}
}

func (c *Client) handleMulticast(ev multicastEvent) {
	if ev.err != nil {
		c.UI.Events <- ui.Error{Err: ev.err}
		return
	}
	k := ev.pub.PublicKey
	if k == c.Keys.PublicKey() {
		return // our own broadcast, looped back
	}
	if existing := c.Peers.Get(&k); existing != nil {
		existing.Source |= peer.Multicast
		return
	}
	c.Peers.Add(&peer.Peer{
		PublicKey: &k,
		Source:    peer.Multicast,
		UDPConn:   transport.NewUdpConnection(transport.Unknown, ev.addr, c.socket, c.Keys),
		Type:      peer.ClientPeer,
	})
	c.notifyPeerList()
}

// dispatchPendingChunkRequests flushes whatever the file manager's scheduler
// has queued since the last tick, one reliable RequestFileChunks per peer.
func (c *Client) dispatchPendingChunkRequests() {
	for key, chunks := range c.Files.DrainRequests() {
		p := c.Peers.Get(&key)
		if p == nil || p.UDPConn == nil {
			continue
		}
		body := wire.Marshal(&model.RequestFileChunksMsg{Chunks: chunks})
		p.UDPConn.Send(model.RequestFileChunks, body, true, nil)
	}
}

// runMaintenance fires on every maintenanceTick: reliable resend, keep-alives,
// the broker UDP bootstrap/keep-alive cadence, and periodic LAN
// re-announcement.
func (c *Client) runMaintenance() {
	for _, conn := range c.Peers.Connections() {
		conn.ResendReliable()
		if conn.NextKeepAlive() <= 0 {
			conn.Send(model.KeepAlive, nil, false, nil)
		}
	}
	if c.brokerConn != nil {
		c.maintainBrokerUDP()
	}
	if c.announcer != nil && time.Since(c.lastMulticastAnnounce) >= multicast.AnnounceInterval {
		c.announcer.Announce()
		c.lastMulticastAnnounce = time.Now()
	}
	c.dispatchPendingChunkRequests()
}

// maintainBrokerUDP drives the broker UDP link's own cadence, separately
// from ordinary peer connections: while Unannounced it resends an unencrypted
// Announce{public_key} every AnnounceDelay (spec.md §4.4's "every 1 s"); once
// Connected it just sends a bare KeepAlive like any other connection.
func (c *Client) maintainBrokerUDP() {
	if c.brokerConn.NextKeepAlive() > 0 {
		return
	}
	if c.brokerConn.State == transport.Unannounced {
		body := wire.Marshal(&model.AnnouncePublic{PublicKey: c.Keys.PublicKey()})
		c.brokerConn.Send(model.Announce, body, false, nil)
		return
	}
	c.brokerConn.Send(model.KeepAlive, nil, false, nil)
}
